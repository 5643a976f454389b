package results

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveGetExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	id := uuid.NewString()
	want := Result{
		LobbyID:   id,
		Name:      "friday",
		StartTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Seconds:   120,
		EndedAt:   time.Date(2024, 3, 1, 12, 2, 0, 0, time.UTC),
		Players:   []Standing{{Name: "alice", Score: 0}, {Name: "bob", Score: 2}},
	}

	ok, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, want))

	ok, err = s.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = os.Stat(filepath.Join(dir, id+".result.json"))
	assert.NoError(t, err)
}

func TestFileStore_RejectsForeignIDs(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Get(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists(ctx, "../secret")
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, s.Save(ctx, Result{LobbyID: "nope"}))

	_, err = s.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}
