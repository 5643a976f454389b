package engine

import (
	"errors"
	"image"
	"testing"
	"time"

	"github.com/DoyleJ11/texrace-backend/internal/problems"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCatalog = problems.Catalog{
	{Markup: "a^2 + b^2 = c^2", Title: "p0"},
	{Markup: "e^{i\\pi} + 1 = 0", Title: "p1"},
	{Markup: "x", Title: "p2"},
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testEnv(match bool) Env {
	return Env{
		Now:     func() time.Time { return fixedNow },
		Catalog: testCatalog,
		Verify:  func(goal, candidate image.Image) bool { return match },
	}
}

func mustApply(t *testing.T, s State, cmd Command, env Env) ([]Event, State) {
	t.Helper()
	events, next, err := Apply(s, cmd, env)
	if err != nil {
		t.Fatalf("%s: unexpected err %v", cmd.Type, err)
	}
	return events, next
}

// lobbyWith returns a Forming lobby where names joined in order; the first is owner.
func lobbyWith(t *testing.T, names ...string) State {
	t.Helper()
	s := NewState("L1", "test")
	for _, n := range names {
		_, s = mustApply(t, s, Command{Type: CmdJoin, Player: n, ConnID: "c-" + n}, testEnv(true))
	}
	return s
}

func started(t *testing.T, names ...string) State {
	t.Helper()
	s := lobbyWith(t, names...)
	_, s = mustApply(t, s, Command{Type: CmdRequestStart, Player: names[0], Duration: 120 * time.Second}, testEnv(true))
	return s
}

func broadcasts(events []Event) []EventType {
	var out []EventType
	for _, e := range events {
		if !e.Unicast() {
			out = append(out, e.Type)
		}
	}
	return out
}

func TestJoin(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(t *testing.T) State
		cmd     Command
		wantErr error
		want    []EventType
	}{
		{
			name:  "first join becomes owner",
			setup: func(t *testing.T) State { return NewState("L1", "x") },
			cmd:   Command{Type: CmdJoin, Player: "alice", ConnID: "c1"},
			want:  []EventType{EvtMemberJoined},
		},
		{
			name:    "duplicate live name is rejected",
			setup:   func(t *testing.T) State { return lobbyWith(t, "alice") },
			cmd:     Command{Type: CmdJoin, Player: "alice", ConnID: "other"},
			wantErr: ErrDuplicateActiveSession,
		},
		{
			name:  "same connection joining again is a no-op",
			setup: func(t *testing.T) State { return lobbyWith(t, "alice") },
			cmd:   Command{Type: CmdJoin, Player: "alice", ConnID: "c-alice"},
		},
		{
			name:    "empty name",
			setup:   func(t *testing.T) State { return NewState("L1", "x") },
			cmd:     Command{Type: CmdJoin, Player: "   ", ConnID: "c1"},
			wantErr: ErrInvalidName,
		},
		{
			name: "ended lobby refuses joins",
			setup: func(t *testing.T) State {
				s := started(t, "alice")
				_, s = mustApply(t, s, Command{Type: CmdEndGame, Player: "alice"}, testEnv(true))
				return s
			},
			cmd:     Command{Type: CmdJoin, Player: "bob", ConnID: "c-bob"},
			wantErr: ErrInvalidPhase,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.setup(t)
			before := s.Roster.Snapshot()
			events, next, err := Apply(s, tc.cmd, testEnv(true))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want %v, got %v", tc.wantErr, err)
				}
				assert.Empty(t, events)
				assert.Equal(t, before, next.Roster.Snapshot())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, broadcasts(events))
		})
	}
}

func TestJoin_OwnerAndCatchUp(t *testing.T) {
	s := lobbyWith(t, "alice")
	require.Equal(t, "alice", s.Owner)

	events, s := mustApply(t, s, Command{Type: CmdJoin, Player: "bob", ConnID: "c-bob"}, testEnv(true))
	assert.Equal(t, "alice", s.Owner)

	require.Equal(t, Event{Type: EvtMemberJoined, Player: "bob"}, events[0])
	assert.Equal(t, Event{Type: EvtWelcome, To: "bob", Player: "bob", Owner: "alice", Phase: PhaseForming}, events[1])
	assert.Equal(t, Event{Type: EvtMemberJoined, To: "bob", Player: "alice"}, events[2])
	assert.Len(t, events, 3)
}

func TestJoin_LateJoinerGetsCurrentGame(t *testing.T) {
	s := started(t, "alice")
	_, s = mustApply(t, s, Command{Type: CmdSubmitAnswer, Player: "alice"}, testEnv(true))

	events, s := mustApply(t, s, Command{Type: CmdJoin, Player: "carol", ConnID: "c-carol"}, testEnv(true))

	require.True(t, ContainsEvent(events, EvtGameStarted))
	var last Event
	for _, e := range events {
		if e.Type == EvtGameStarted {
			assert.Equal(t, "carol", e.To)
			assert.Equal(t, 120*time.Second, e.Duration)
		}
		if e.Type == EvtScoreUpdated {
			assert.Equal(t, "carol", e.To)
			assert.Equal(t, "alice", e.Player)
		}
		last = e
	}
	assert.Equal(t, EvtNewProblem, last.Type)
	assert.Equal(t, s.Problem, last.Problem)
}

func TestJoinLeave_Reconnect(t *testing.T) {
	s := lobbyWith(t, "alice", "bob")

	events, s := mustApply(t, s, Command{Type: CmdLeave, Player: "bob", ConnID: "c-bob"}, testEnv(true))
	assert.Equal(t, []EventType{EvtMemberLeft}, broadcasts(events))
	p, _ := s.Roster.Get("bob")
	assert.False(t, p.Connected)

	// Leave is idempotent.
	events, s = mustApply(t, s, Command{Type: CmdLeave, Player: "bob", ConnID: "c-bob"}, testEnv(true))
	assert.Empty(t, events)

	// A new connection may now claim the name.
	_, s = mustApply(t, s, Command{Type: CmdJoin, Player: "bob", ConnID: "c-bob-2"}, testEnv(true))
	p, _ = s.Roster.Get("bob")
	assert.True(t, p.Connected)
	assert.Equal(t, 2, s.Roster.Len())

	// A stale connection's leave does not kick the new holder.
	events, s = mustApply(t, s, Command{Type: CmdLeave, Player: "bob", ConnID: "c-bob"}, testEnv(true))
	assert.Empty(t, events)
	p, _ = s.Roster.Get("bob")
	assert.True(t, p.Connected)
}

func TestLeave_UnknownPlayer(t *testing.T) {
	_, _, err := Apply(NewState("L1", "x"), Command{Type: CmdLeave, Player: "ghost"}, testEnv(true))
	assert.ErrorIs(t, err, ErrUnknownPlayer)
}

func TestRequestStart_IsNoOpWhenNotAllowed(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(t *testing.T) State
		sender  string
		wantErr error
	}{
		{name: "non-owner", setup: func(t *testing.T) State { return lobbyWith(t, "alice", "bob") }, sender: "bob", wantErr: ErrNotOwner},
		{name: "already active", setup: func(t *testing.T) State { return started(t, "alice") }, sender: "alice", wantErr: ErrInvalidPhase},
		{
			name: "ended",
			setup: func(t *testing.T) State {
				s := started(t, "alice")
				_, s = mustApply(t, s, Command{Type: CmdEndGame, Player: "alice"}, testEnv(true))
				return s
			},
			sender:  "alice",
			wantErr: ErrInvalidPhase,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.setup(t)
			events, next, err := Apply(s, Command{Type: CmdRequestStart, Player: tc.sender}, testEnv(true))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			assert.Empty(t, events)
			assert.Equal(t, s.Phase, next.Phase)
			assert.Equal(t, s.Problem, next.Problem)
		})
	}
}

func TestRequestStart_EmitsGameStartedThenOneProblem(t *testing.T) {
	s := lobbyWith(t, "alice", "bob")
	events, s := mustApply(t, s, Command{Type: CmdRequestStart, Player: "alice", Duration: 120 * time.Second}, testEnv(true))

	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: EvtGameStarted, StartTime: fixedNow, Duration: 120 * time.Second}, events[0])
	assert.Equal(t, EvtNewProblem, events[1].Type)
	assert.Equal(t, testCatalog[0], *events[1].Problem)

	assert.Equal(t, PhaseActive, s.Phase)
	assert.Equal(t, 1, s.Issued)
	assert.Equal(t, fixedNow.Add(120*time.Second), s.Deadline())
}

func TestRequestStart_CustomProblemsAndDefaults(t *testing.T) {
	s := lobbyWith(t, "alice")
	custom := []problems.Problem{{Markup: "\\alpha", Title: "custom"}}
	env := testEnv(true)
	env.DefaultDuration = 90 * time.Second

	events, s := mustApply(t, s, Command{Type: CmdRequestStart, Player: "alice", Custom: custom, Exclusive: true}, env)
	assert.Equal(t, 90*time.Second, events[0].Duration)
	assert.Equal(t, custom[0], *s.Problem)

	// exclusive deck only ever yields the custom problem
	_, s = mustApply(t, s, Command{Type: CmdRequestProblem, Player: "alice"}, env)
	assert.Equal(t, custom[0], *s.Problem)
}

func TestRequestStart_NoProblems(t *testing.T) {
	s := lobbyWith(t, "alice")
	env := testEnv(true)
	env.Catalog = nil
	_, next, err := Apply(s, Command{Type: CmdRequestStart, Player: "alice"}, env)
	assert.ErrorIs(t, err, problems.ErrNoProblems)
	assert.Equal(t, PhaseForming, next.Phase)
}

func TestRequestProblem(t *testing.T) {
	_, _, err := Apply(lobbyWith(t, "alice"), Command{Type: CmdRequestProblem, Player: "alice"}, testEnv(true))
	assert.ErrorIs(t, err, ErrInvalidPhase)

	s := started(t, "alice", "bob")
	events, s := mustApply(t, s, Command{Type: CmdRequestProblem, Player: "bob"}, testEnv(true))
	require.Len(t, events, 1)
	assert.Equal(t, testCatalog[1], *events[0].Problem)
	assert.Equal(t, 2, s.Issued)

	bob, _ := s.Roster.Get("bob")
	assert.Zero(t, bob.Score)
}

func TestSubmitAnswer(t *testing.T) {
	s := started(t, "alice", "bob")

	events, s := mustApply(t, s, Command{Type: CmdSubmitAnswer, Player: "bob"}, testEnv(true))
	require.Len(t, events, 2)
	assert.Equal(t, EvtScoreUpdated, events[0].Type)
	assert.Equal(t, "bob", events[0].Player)
	assert.Equal(t, MarkupScore(testCatalog[0]), events[0].Score)
	assert.Greater(t, events[0].Score, 0)
	assert.Equal(t, EvtNewProblem, events[1].Type)
	assert.Equal(t, testCatalog[1], *events[1].Problem)

	alice, _ := s.Roster.Get("alice")
	assert.Zero(t, alice.Score)

	events, next := mustApply(t, s, Command{Type: CmdSubmitAnswer, Player: "bob"}, testEnv(false))
	require.Equal(t, []Event{{Type: EvtWrongAnswer, To: "bob", Player: "bob"}}, events)
	bob, _ := next.Roster.Get("bob")
	assert.Equal(t, MarkupScore(testCatalog[0]), bob.Score)
	assert.Equal(t, s.Problem, next.Problem)
}

func TestSubmitAnswer_RejectedOutsideActive(t *testing.T) {
	_, _, err := Apply(lobbyWith(t, "alice"), Command{Type: CmdSubmitAnswer, Player: "alice"}, testEnv(true))
	assert.ErrorIs(t, err, ErrInvalidPhase)

	s := started(t, "alice")
	_, s = mustApply(t, s, Command{Type: CmdEndGame, Player: "alice"}, testEnv(true))
	events, next, err := Apply(s, Command{Type: CmdSubmitAnswer, Player: "alice"}, testEnv(true))
	assert.ErrorIs(t, err, ErrInvalidPhase)
	assert.Empty(t, events)
	alice, _ := next.Roster.Get("alice")
	assert.Zero(t, alice.Score)
}

func TestEndGame(t *testing.T) {
	s := started(t, "alice", "bob")

	_, _, err := Apply(s, Command{Type: CmdEndGame, Player: "bob"}, testEnv(true))
	assert.ErrorIs(t, err, ErrNotOwner)

	events, ended := mustApply(t, s, Command{Type: CmdEndGame, System: true}, testEnv(true))
	assert.Equal(t, []Event{{Type: EvtGameEnded}}, events)
	assert.Equal(t, PhaseEnded, ended.Phase)
	assert.Nil(t, ended.Problem)

	_, _, err = Apply(ended, Command{Type: CmdEndGame, Player: "alice"}, testEnv(true))
	assert.ErrorIs(t, err, ErrInvalidPhase)

	// Leave after the end never errors.
	_, _, err = Apply(ended, Command{Type: CmdLeave, Player: "bob", ConnID: "c-bob"}, testEnv(true))
	assert.NoError(t, err)
}

func TestUnsupportedCommand(t *testing.T) {
	_, _, err := Apply(NewState("L1", "x"), Command{Type: "Dance"}, testEnv(true))
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
}

func TestMarkupScore(t *testing.T) {
	cases := []struct {
		markup string
		want   int
	}{
		{"", 1},
		{"x", 1},
		{"0123456789", 1},
		{"0123456789a", 2},
		{"a^2 + b^2 = c^2", 2},
	}
	for _, tc := range cases {
		if got := MarkupScore(problems.Problem{Markup: tc.markup}); got != tc.want {
			t.Fatalf("MarkupScore(%q): got %d, want %d", tc.markup, got, tc.want)
		}
	}
}

// Alice owns L1, bob scores once, disconnects, and the game ends.
func TestScenario_TwoPlayerGame(t *testing.T) {
	s := lobbyWith(t, "alice", "bob")

	events, s := mustApply(t, s, Command{Type: CmdRequestStart, Player: "alice", Duration: 120 * time.Second}, testEnv(true))
	assert.Equal(t, []EventType{EvtGameStarted, EvtNewProblem}, broadcasts(events))
	p0 := *s.Problem

	events, s = mustApply(t, s, Command{Type: CmdSubmitAnswer, Player: "bob"}, testEnv(true))
	assert.Equal(t, []EventType{EvtScoreUpdated, EvtNewProblem}, broadcasts(events))
	assert.NotEqual(t, p0, *s.Problem)
	bobScore := events[0].Score

	_, s = mustApply(t, s, Command{Type: CmdLeave, Player: "bob", ConnID: "c-bob"}, testEnv(true))
	assert.Contains(t, s.Roster.Snapshot(), Standing{Name: "bob", Connected: false, Score: bobScore})
	assert.Contains(t, s.Roster.Snapshot(), Standing{Name: "alice", Connected: true, Score: 0})

	events, s = mustApply(t, s, Command{Type: CmdEndGame, Player: "alice"}, testEnv(true))
	assert.Equal(t, []EventType{EvtGameEnded}, broadcasts(events))

	_, _, err := Apply(s, Command{Type: CmdSubmitAnswer, Player: "alice"}, testEnv(true))
	assert.ErrorIs(t, err, ErrInvalidPhase)
}
