// Package types is the websocket wire schema shared with clients.
//
// Every frame is a JSON object carrying the protocol version "v" and a
// "type". Images travel as PNG, either bare base64 or a data URL.
package types

import "time"

const ProtocolVersion = 1

// Client -> Server
const (
	TypeRequestStart   = "RequestStart"
	TypeRequestProblem = "RequestProblem"
	TypeSubmitAnswer   = "SubmitAnswer"
	TypeEndGame        = "EndGame"
)

// Server -> Client
const (
	TypeWelcome      = "Welcome"
	TypeMemberJoined = "MemberJoined"
	TypeMemberLeft   = "MemberLeft"
	TypeGameStarted  = "GameStarted"
	TypeNewProblem   = "NewProblem"
	TypeScoreUpdated = "ScoreUpdated"
	TypeWrongAnswer  = "WrongAnswer"
	TypeGameEnded    = "GameEnded"
	TypeError        = "Error"
)

// Error codes
const (
	CodeBadRequest             = "BadRequest"
	CodeInvalidPhase           = "InvalidPhase"
	CodeNotOwner               = "NotOwner"
	CodeDuplicateActiveSession = "DuplicateActiveSession"
	CodeNoProblems             = "NoProblems"
	CodeRenderUnavailable      = "RenderUnavailable"
	CodeInternal               = "Internal"
)

type Problem struct {
	Latex       string `json:"latex"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type ClientMessage struct {
	V    int    `json:"v"`
	Type string `json:"type"`

	// RequestStart
	DurationSec int       `json:"duration,omitempty"`
	Randomized  bool      `json:"randomized,omitempty"`
	Problems    []Problem `json:"problems,omitempty"`
	Exclusive   bool      `json:"exclusive,omitempty"`

	// SubmitAnswer
	Image     string `json:"image,omitempty"`
	GoalImage string `json:"goal_image,omitempty"`
}

type ServerMessage struct {
	V       int    `json:"v"`
	Type    string `json:"type"`
	Version int    `json:"version,omitempty"`

	Name        string     `json:"name,omitempty"`
	Owner       string     `json:"owner,omitempty"`
	Phase       string     `json:"phase,omitempty"`
	Score       int        `json:"score,omitempty"`
	Problem     *Problem   `json:"problem,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	DurationSec int        `json:"duration,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
