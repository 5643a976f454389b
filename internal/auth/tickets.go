// Package auth issues the opaque single-use tickets that bind a websocket
// connection to a player name in a lobby.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Ticket struct {
	Key       string
	LobbyID   string
	Name      string
	ExpiresAt time.Time
}

// Tickets is a retention map of outstanding tickets. A ticket can be redeemed
// once, before it expires.
type Tickets struct {
	mu      sync.Mutex
	tickets map[string]Ticket
	ttl     time.Duration
	now     func() time.Time
}

func NewTickets(ttl time.Duration) *Tickets {
	return &Tickets{
		tickets: map[string]Ticket{},
		ttl:     ttl,
		now:     time.Now,
	}
}

func (t *Tickets) Issue(lobbyID, name string) Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk := Ticket{
		Key:       uuid.NewString(),
		LobbyID:   lobbyID,
		Name:      name,
		ExpiresAt: t.now().Add(t.ttl),
	}
	t.tickets[tk.Key] = tk
	return tk
}

// Redeem consumes key. It fails for unknown, expired or already used keys and
// for keys issued for another lobby.
func (t *Tickets) Redeem(key, lobbyID string) (Ticket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tickets[key]
	if !ok {
		return Ticket{}, false
	}
	delete(t.tickets, key)
	if !t.now().Before(tk.ExpiresAt) || tk.LobbyID != lobbyID {
		return Ticket{}, false
	}
	return tk, true
}

func (t *Tickets) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tickets)
}

func (t *Tickets) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for key, tk := range t.tickets {
		if !now.Before(tk.ExpiresAt) {
			delete(t.tickets, key)
		}
	}
}

// Run drops expired tickets every interval until ctx is done.
func (t *Tickets) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-ctx.Done():
			return
		}
	}
}
