package engine

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

type Player struct {
	Name      string
	Connected bool
	Score     int
	// ConnID is the connection currently holding the name, empty when disconnected.
	ConnID string
}

type Standing struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Score     int    `json:"score"`
}

// Roster is an insertion-ordered set of players keyed by name. Names are never
// removed, only marked disconnected, so late score lookups stay valid.
type Roster struct {
	order   []string
	players map[string]*Player
}

func NewRoster() *Roster {
	return &Roster{players: map[string]*Player{}}
}

// NormalizeName folds equivalent unicode spellings together so two players
// cannot hold visually identical names.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Upsert inserts name with score 0, or returns the existing entry. Either way
// the player ends up connected.
func (r *Roster) Upsert(name string) *Player {
	name = NormalizeName(name)
	p, ok := r.players[name]
	if !ok {
		p = &Player{Name: name}
		r.players[name] = p
		r.order = append(r.order, name)
	}
	p.Connected = true
	return p
}

func (r *Roster) Get(name string) (*Player, bool) {
	p, ok := r.players[NormalizeName(name)]
	return p, ok
}

func (r *Roster) MarkLeft(name string) error {
	p, ok := r.Get(name)
	if !ok {
		return ErrUnknownPlayer
	}
	p.Connected = false
	p.ConnID = ""
	return nil
}

func (r *Roster) UpdateScore(name string, score int) error {
	p, ok := r.Get(name)
	if !ok {
		return ErrUnknownPlayer
	}
	if score < p.Score {
		return ErrScoreDecrease
	}
	p.Score = score
	return nil
}

func (r *Roster) Len() int { return len(r.order) }

// Connected counts players currently holding a connection.
func (r *Roster) Connected() int {
	n := 0
	for _, p := range r.players {
		if p.Connected {
			n++
		}
	}
	return n
}

func (r *Roster) Snapshot() []Standing {
	out := make([]Standing, 0, len(r.order))
	for _, name := range r.order {
		p := r.players[name]
		out = append(out, Standing{Name: p.Name, Connected: p.Connected, Score: p.Score})
	}
	return out
}

// Clone returns a deep copy for readers outside the lobby goroutine.
func (r *Roster) Clone() *Roster {
	c := &Roster{
		order:   append([]string(nil), r.order...),
		players: make(map[string]*Player, len(r.players)),
	}
	for name, p := range r.players {
		cp := *p
		c.players[name] = &cp
	}
	return c
}
