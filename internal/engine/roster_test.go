package engine

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoster_UpsertKeepsInsertionOrder(t *testing.T) {
	r := NewRoster()
	r.Upsert("carol")
	r.Upsert("alice")
	r.Upsert("carol")
	r.Upsert("bob")

	var names []string
	for _, st := range r.Snapshot() {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"carol", "alice", "bob"}, names)
}

func TestRoster_NormalizesNames(t *testing.T) {
	r := NewRoster()
	// "é" precomposed vs e + combining acute
	r.Upsert("  Jos\u00e9 ")
	r.Upsert("Jose\u0301")
	require.Equal(t, 1, r.Len())

	_, ok := r.Get("Jose\u0301")
	assert.True(t, ok)
}

func TestRoster_UnknownPlayer(t *testing.T) {
	r := NewRoster()
	assert.ErrorIs(t, r.MarkLeft("ghost"), ErrUnknownPlayer)
	assert.ErrorIs(t, r.UpdateScore("ghost", 3), ErrUnknownPlayer)
}

func TestRoster_ScoreNeverDecreases(t *testing.T) {
	r := NewRoster()
	r.Upsert("alice")
	require.NoError(t, r.UpdateScore("alice", 5))
	assert.ErrorIs(t, r.UpdateScore("alice", 4), ErrScoreDecrease)

	p, _ := r.Get("alice")
	assert.Equal(t, 5, p.Score)
}

func TestRoster_MarkLeftKeepsScore(t *testing.T) {
	r := NewRoster()
	r.Upsert("bob").ConnID = "c1"
	require.NoError(t, r.UpdateScore("bob", 3))
	require.NoError(t, r.MarkLeft("bob"))

	assert.Equal(t, []Standing{{Name: "bob", Connected: false, Score: 3}}, r.Snapshot())
	assert.Equal(t, 0, r.Connected())

	p := r.Upsert("bob")
	assert.True(t, p.Connected)
	assert.Equal(t, 3, p.Score)
}

func TestRoster_CloneIsIndependent(t *testing.T) {
	r := NewRoster()
	r.Upsert("alice")
	c := r.Clone()
	require.NoError(t, r.UpdateScore("alice", 9))
	r.Upsert("bob")

	assert.Equal(t, []Standing{{Name: "alice", Connected: true, Score: 0}}, c.Snapshot())
}

// Random Join/Leave/Submit sequences never produce duplicate names or a
// decreasing score.
func TestRoster_InvariantsUnderChurn(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 42))
	names := []string{"alice", "bob", "carol", "dave"}

	s := started(t, "alice")
	last := map[string]int{}
	for i := 0; i < 500; i++ {
		name := names[rng.IntN(len(names))]
		var cmd Command
		switch rng.IntN(3) {
		case 0:
			cmd = Command{Type: CmdJoin, Player: name, ConnID: "c-" + name}
		case 1:
			if _, ok := s.Roster.Get(name); !ok {
				continue
			}
			cmd = Command{Type: CmdLeave, Player: name, ConnID: "c-" + name}
		case 2:
			if _, ok := s.Roster.Get(name); !ok {
				continue
			}
			cmd = Command{Type: CmdSubmitAnswer, Player: name}
		}
		_, next, err := Apply(s, cmd, testEnv(rng.IntN(2) == 0))
		if err != nil {
			// Duplicate joins are expected; nothing else should fail here.
			require.ErrorIs(t, err, ErrDuplicateActiveSession)
			continue
		}
		s = next

		seen := map[string]bool{}
		for _, st := range s.Roster.Snapshot() {
			require.False(t, seen[st.Name], "duplicate name %s", st.Name)
			seen[st.Name] = true
			require.GreaterOrEqual(t, st.Score, last[st.Name])
			last[st.Name] = st.Score
		}
	}
}
