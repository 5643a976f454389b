package engine

import (
	"errors"
	"image"
	"math/rand/v2"
	"time"

	"github.com/DoyleJ11/texrace-backend/internal/problems"
	"github.com/DoyleJ11/texrace-backend/internal/verify"
)

var ErrInvalidPhase = errors.New("command not allowed in current phase")
var ErrNotOwner = errors.New("only the lobby owner can do that")
var ErrDuplicateActiveSession = errors.New("name is already connected")
var ErrUnknownPlayer = errors.New("unknown player")
var ErrScoreDecrease = errors.New("score cannot decrease")
var ErrInvalidName = errors.New("invalid player name")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseForming Phase = "forming"
	PhaseActive  Phase = "active"
	PhaseEnded   Phase = "ended"
)

type State struct {
	LobbyID string
	Name    string
	Phase   Phase
	Owner   string
	Roster  *Roster
	// Problem is set only while Active.
	Problem   *problems.Problem
	Issued    int
	StartTime time.Time
	Duration  time.Duration
	Deck      problems.Source
}

// Deadline is the advisory end of the game window.
func (s State) Deadline() time.Time {
	if s.StartTime.IsZero() {
		return time.Time{}
	}
	return s.StartTime.Add(s.Duration)
}

// Env carries everything Apply needs from outside the state.
type Env struct {
	Now             func() time.Time
	Catalog         problems.Catalog
	Rand            *rand.Rand
	Verify          verify.Func
	Score           func(problems.Problem) int
	DefaultDuration time.Duration
}

func (e Env) withDefaults() Env {
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.Verify == nil {
		e.Verify = verify.Equal
	}
	if e.Score == nil {
		e.Score = MarkupScore
	}
	if e.DefaultDuration <= 0 {
		e.DefaultDuration = 10 * time.Minute
	}
	return e
}

type CommandType string

const (
	CmdJoin           CommandType = "Join"
	CmdLeave          CommandType = "Leave"
	CmdRequestStart   CommandType = "RequestStart"
	CmdRequestProblem CommandType = "RequestProblem"
	CmdSubmitAnswer   CommandType = "SubmitAnswer"
	CmdEndGame        CommandType = "EndGame"
)

/*
	CmdJoin           -> EvtMemberJoined (+ Welcome and catch-up unicasts to the joiner)
	CmdLeave          -> EvtMemberLeft
	CmdRequestStart   -> EvtGameStarted -> EvtNewProblem
	CmdRequestProblem -> EvtNewProblem
	CmdSubmitAnswer   -> EvtScoreUpdated -> EvtNewProblem, or EvtWrongAnswer to the sender only
	CmdEndGame        -> EvtGameEnded
*/

type Command struct {
	Type   CommandType
	Player string
	ConnID string

	// RequestStart
	Duration   time.Duration
	Randomized bool
	Custom     []problems.Problem
	Exclusive  bool

	// SubmitAnswer. Goal is filled in by the lobby before Apply.
	Candidate image.Image
	Goal      image.Image

	// System marks commands synthesized by the server, e.g. the deadline timer.
	System bool
}

type EventType string

const (
	EvtWelcome      EventType = "Welcome"
	EvtMemberJoined EventType = "MemberJoined"
	EvtMemberLeft   EventType = "MemberLeft"
	EvtGameStarted  EventType = "GameStarted"
	EvtNewProblem   EventType = "NewProblem"
	EvtScoreUpdated EventType = "ScoreUpdated"
	EvtWrongAnswer  EventType = "WrongAnswer"
	EvtGameEnded    EventType = "GameEnded"
)

type Event struct {
	Type EventType
	// To restricts delivery to one player; empty means every member.
	To        string
	Player    string
	Score     int
	Owner     string
	Phase     Phase
	Problem   *problems.Problem
	StartTime time.Time
	Duration  time.Duration
}

func (e Event) Unicast() bool { return e.To != "" }

func Apply(s State, cmd Command, env Env) ([]Event, State, error) {
	env = env.withDefaults()
	if s.Roster == nil {
		s.Roster = NewRoster()
	}

	switch cmd.Type {
	case CmdJoin:
		return applyJoin(s, cmd)
	case CmdLeave:
		return applyLeave(s, cmd)
	case CmdRequestStart:
		return applyRequestStart(s, cmd, env)
	case CmdRequestProblem:
		if s.Phase != PhaseActive {
			return nil, s, ErrInvalidPhase
		}
		if _, ok := s.Roster.Get(cmd.Player); !ok && !cmd.System {
			return nil, s, ErrUnknownPlayer
		}
		newState := s
		p := newState.draw()
		return []Event{{Type: EvtNewProblem, Problem: p}}, newState, nil
	case CmdSubmitAnswer:
		return applySubmit(s, cmd, env)
	case CmdEndGame:
		if s.Phase != PhaseActive {
			return nil, s, ErrInvalidPhase
		}
		if !cmd.System && NormalizeName(cmd.Player) != s.Owner {
			return nil, s, ErrNotOwner
		}
		newState := s
		newState.Phase = PhaseEnded
		newState.Problem = nil
		newState.Deck = nil
		return []Event{{Type: EvtGameEnded}}, newState, nil
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func applyJoin(s State, cmd Command) ([]Event, State, error) {
	name := NormalizeName(cmd.Player)
	if name == "" {
		return nil, s, ErrInvalidName
	}
	if s.Phase == PhaseEnded {
		return nil, s, ErrInvalidPhase
	}
	if p, ok := s.Roster.Get(name); ok && p.Connected {
		if p.ConnID != cmd.ConnID {
			return nil, s, ErrDuplicateActiveSession
		}
		// Same connection joining twice
		return nil, s, nil
	}

	newState := s
	p := newState.Roster.Upsert(name)
	p.ConnID = cmd.ConnID
	if newState.Owner == "" {
		newState.Owner = name
	}

	events := []Event{
		{Type: EvtMemberJoined, Player: name},
		{Type: EvtWelcome, To: name, Player: name, Owner: newState.Owner, Phase: newState.Phase},
	}
	// Catch the joiner up on everyone already here.
	for _, st := range newState.Roster.Snapshot() {
		if st.Name != name && st.Connected {
			events = append(events, Event{Type: EvtMemberJoined, To: name, Player: st.Name})
		}
	}
	for _, st := range newState.Roster.Snapshot() {
		if st.Score > 0 {
			events = append(events, Event{Type: EvtScoreUpdated, To: name, Player: st.Name, Score: st.Score})
		}
	}
	if newState.Phase == PhaseActive {
		events = append(events,
			Event{Type: EvtGameStarted, To: name, StartTime: newState.StartTime, Duration: newState.Duration},
			Event{Type: EvtNewProblem, To: name, Problem: newState.Problem},
		)
	}
	return events, newState, nil
}

func applyLeave(s State, cmd Command) ([]Event, State, error) {
	p, ok := s.Roster.Get(cmd.Player)
	if !ok {
		return nil, s, ErrUnknownPlayer
	}
	// Already gone, or the name has since been taken over by another connection.
	if !p.Connected || (cmd.ConnID != "" && p.ConnID != cmd.ConnID) {
		return nil, s, nil
	}

	newState := s
	if err := newState.Roster.MarkLeft(p.Name); err != nil {
		return nil, s, err
	}
	return []Event{{Type: EvtMemberLeft, Player: p.Name}}, newState, nil
}

func applyRequestStart(s State, cmd Command, env Env) ([]Event, State, error) {
	if s.Phase != PhaseForming {
		return nil, s, ErrInvalidPhase
	}
	if NormalizeName(cmd.Player) != s.Owner {
		return nil, s, ErrNotOwner
	}

	set, err := problems.Merge(env.Catalog, cmd.Custom, cmd.Exclusive)
	if err != nil {
		return nil, s, err
	}
	deck, err := problems.NewDeck(set, cmd.Randomized, env.Rand)
	if err != nil {
		return nil, s, err
	}

	duration := cmd.Duration
	if duration <= 0 {
		duration = env.DefaultDuration
	}

	newState := s
	newState.Phase = PhaseActive
	newState.StartTime = env.Now()
	newState.Duration = duration
	newState.Deck = deck
	newState.Issued = 0
	p := newState.draw()

	events := []Event{
		{Type: EvtGameStarted, StartTime: newState.StartTime, Duration: duration},
		{Type: EvtNewProblem, Problem: p},
	}
	return events, newState, nil
}

func applySubmit(s State, cmd Command, env Env) ([]Event, State, error) {
	if s.Phase != PhaseActive || s.Problem == nil {
		return nil, s, ErrInvalidPhase
	}
	p, ok := s.Roster.Get(cmd.Player)
	if !ok {
		return nil, s, ErrUnknownPlayer
	}

	if !env.Verify(cmd.Goal, cmd.Candidate) {
		return []Event{{Type: EvtWrongAnswer, To: p.Name, Player: p.Name}}, s, nil
	}

	newState := s
	score := p.Score + env.Score(*s.Problem)
	if err := newState.Roster.UpdateScore(p.Name, score); err != nil {
		return nil, s, err
	}
	next := newState.draw()

	events := []Event{
		{Type: EvtScoreUpdated, Player: p.Name, Score: score},
		{Type: EvtNewProblem, Problem: next},
	}
	return events, newState, nil
}

// draw replaces the current problem with the next one from the deck.
func (s *State) draw() *problems.Problem {
	p := s.Deck.Next()
	s.Problem = &p
	s.Issued++
	return s.Problem
}
