package ws

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/DoyleJ11/texrace-backend/internal/engine"
	"github.com/DoyleJ11/texrace-backend/internal/lobby"
	"github.com/DoyleJ11/texrace-backend/internal/problems"
	"github.com/DoyleJ11/texrace-backend/pkg/types"
)

var ErrBadRequest = errors.New("bad request")

// Limits bounds what a single SubmitAnswer may carry.
type Limits struct {
	MaxImageBytes  int
	MaxImagePixels int
}

var DefaultLimits = Limits{
	MaxImageBytes:  2 << 20,
	MaxImagePixels: 4096 * 4096,
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// Decode turns one client frame into a command. Player and ConnID are filled
// in by the lobby. Every failure wraps ErrBadRequest.
func Decode(data []byte, lim Limits) (engine.Command, error) {
	var cm types.ClientMessage
	if err := json.Unmarshal(data, &cm); err != nil {
		return engine.Command{}, badRequest("malformed json")
	}
	if cm.V != types.ProtocolVersion {
		return engine.Command{}, badRequest("unsupported protocol version %d", cm.V)
	}

	switch cm.Type {
	case types.TypeRequestStart:
		if cm.DurationSec < 0 {
			return engine.Command{}, badRequest("negative duration")
		}
		cmd := engine.Command{
			Type:       engine.CmdRequestStart,
			Duration:   time.Duration(cm.DurationSec) * time.Second,
			Randomized: cm.Randomized,
			Exclusive:  cm.Exclusive,
		}
		for _, p := range cm.Problems {
			cmd.Custom = append(cmd.Custom, problems.Problem{Markup: p.Latex, Title: p.Title, Description: p.Description})
		}
		return cmd, nil

	case types.TypeRequestProblem:
		return engine.Command{Type: engine.CmdRequestProblem}, nil

	case types.TypeSubmitAnswer:
		candidate, err := decodeImage(cm.Image, lim)
		if err != nil {
			return engine.Command{}, badRequest("image: %v", err)
		}
		cmd := engine.Command{Type: engine.CmdSubmitAnswer, Candidate: candidate}
		if cm.GoalImage != "" {
			if cmd.Goal, err = decodeImage(cm.GoalImage, lim); err != nil {
				return engine.Command{}, badRequest("goal_image: %v", err)
			}
		}
		return cmd, nil

	case types.TypeEndGame:
		return engine.Command{Type: engine.CmdEndGame}, nil

	default:
		return engine.Command{}, badRequest("unknown type %q", cm.Type)
	}
}

func decodeImage(data string, lim Limits) (image.Image, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, errors.New("no image data")
	}
	if parts := strings.SplitN(data, ",", 2); len(parts) == 2 {
		data = parts[1]
	}
	if lim.MaxImageBytes > 0 && base64.StdEncoding.DecodedLen(len(data)) > lim.MaxImageBytes {
		return nil, errors.New("image too large")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if lim.MaxImagePixels > 0 && cfg.Width*cfg.Height > lim.MaxImagePixels {
		return nil, fmt.Errorf("image %dx%d too large", cfg.Width, cfg.Height)
	}
	return png.Decode(bytes.NewReader(raw))
}

// Encode renders one delivery as a server frame.
func Encode(out lobby.Outbound) ([]byte, error) {
	if out.Err != nil {
		return json.Marshal(ErrorMessage(out.Err))
	}

	ev := out.Event
	msg := types.ServerMessage{V: types.ProtocolVersion, Version: out.Version}
	switch ev.Type {
	case engine.EvtWelcome:
		msg.Type = types.TypeWelcome
		msg.Name = ev.Player
		msg.Owner = ev.Owner
		msg.Phase = string(ev.Phase)
	case engine.EvtMemberJoined:
		msg.Type = types.TypeMemberJoined
		msg.Name = ev.Player
	case engine.EvtMemberLeft:
		msg.Type = types.TypeMemberLeft
		msg.Name = ev.Player
	case engine.EvtGameStarted:
		start := ev.StartTime.UTC()
		msg.Type = types.TypeGameStarted
		msg.StartTime = &start
		msg.DurationSec = int(ev.Duration / time.Second)
	case engine.EvtNewProblem:
		msg.Type = types.TypeNewProblem
		if ev.Problem != nil {
			msg.Problem = &types.Problem{Latex: ev.Problem.Markup, Title: ev.Problem.Title, Description: ev.Problem.Description}
		}
	case engine.EvtScoreUpdated:
		msg.Type = types.TypeScoreUpdated
		msg.Name = ev.Player
		msg.Score = ev.Score
	case engine.EvtWrongAnswer:
		msg.Type = types.TypeWrongAnswer
	case engine.EvtGameEnded:
		msg.Type = types.TypeGameEnded
	default:
		return nil, fmt.Errorf("encode: unknown event %q", ev.Type)
	}
	return json.Marshal(msg)
}

func ErrorMessage(err error) types.ServerMessage {
	return types.ServerMessage{
		V:       types.ProtocolVersion,
		Type:    types.TypeError,
		Code:    ErrorCode(err),
		Message: err.Error(),
	}
}

func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, lobby.ErrClientCommand),
		errors.Is(err, engine.ErrUnsupportedCommand), errors.Is(err, problems.ErrEmptyMarkup):
		return types.CodeBadRequest
	case errors.Is(err, engine.ErrInvalidPhase):
		return types.CodeInvalidPhase
	case errors.Is(err, engine.ErrNotOwner):
		return types.CodeNotOwner
	case errors.Is(err, engine.ErrDuplicateActiveSession):
		return types.CodeDuplicateActiveSession
	case errors.Is(err, problems.ErrNoProblems):
		return types.CodeNoProblems
	case errors.Is(err, lobby.ErrRenderUnavailable):
		return types.CodeRenderUnavailable
	default:
		return types.CodeInternal
	}
}
