// Package problems supplies typesetting challenges to a lobby.
package problems

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrNoProblems = errors.New("no problems available")
var ErrEmptyMarkup = errors.New("problem has empty markup")

// Problem is immutable once issued; a lobby replaces it wholesale.
type Problem struct {
	Markup      string `json:"latex"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Catalog is a finite, non-empty candidate set.
type Catalog []Problem

//go:embed default_problems.json
var defaultProblems []byte

// Default returns the embedded catalog.
func Default() Catalog {
	c, err := Parse(defaultProblems)
	if err != nil {
		panic(fmt.Sprintf("embedded problems: %v", err))
	}
	return c
}

// Load reads a catalog from path, or returns the embedded one when path is empty.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read problems: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

func Parse(data []byte) (Catalog, error) {
	var doc struct {
		Problems []Problem `json:"problems"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if len(doc.Problems) == 0 {
		return nil, ErrNoProblems
	}
	for i, p := range doc.Problems {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("problem %d: %w", i, err)
		}
	}
	return Catalog(doc.Problems), nil
}

func (p Problem) Validate() error {
	if strings.TrimSpace(p.Markup) == "" {
		return ErrEmptyMarkup
	}
	return nil
}

// Merge builds the set a game draws from. Custom problems come first; with
// exclusive set they replace the base catalog entirely.
func Merge(base Catalog, custom []Problem, exclusive bool) (Catalog, error) {
	out := make(Catalog, 0, len(base)+len(custom))
	for i, p := range custom {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("custom problem %d: %w", i, err)
		}
		out = append(out, p)
	}
	if !exclusive || len(custom) == 0 {
		out = append(out, base...)
	}
	if len(out) == 0 {
		return nil, ErrNoProblems
	}
	return out, nil
}
