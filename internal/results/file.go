package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore writes one <id>.result.json per ended game into Dir.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	// ids come from clients on the read side
	if err := uuid.Validate(id); err != nil {
		return "", ErrNotFound
	}
	return filepath.Join(s.Dir, id+".result.json"), nil
}

func (s *FileStore) Save(ctx context.Context, r Result) error {
	p, err := s.path(r.LobbyID)
	if err != nil {
		return fmt.Errorf("save result %q: invalid id", r.LobbyID)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *FileStore) Get(ctx context.Context, id string) (Result, error) {
	p, err := s.path(id)
	if err != nil {
		return Result{}, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, err
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("decode result %s: %w", id, err)
	}
	return r, nil
}

func (s *FileStore) Exists(ctx context.Context, id string) (bool, error) {
	p, err := s.path(id)
	if err != nil {
		return false, nil
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
