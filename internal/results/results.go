// Package results archives the final standings of ended games.
package results

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("result not found")

type Standing struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

type Result struct {
	LobbyID   string     `json:"id"`
	Name      string     `json:"name"`
	StartTime time.Time  `json:"startTimestamp"`
	Seconds   int        `json:"gameDuration"`
	EndedAt   time.Time  `json:"endedAt"`
	Players   []Standing `json:"players"`
}

type Store interface {
	Save(ctx context.Context, r Result) error
	Get(ctx context.Context, lobbyID string) (Result, error)
	Exists(ctx context.Context, lobbyID string) (bool, error)
}
