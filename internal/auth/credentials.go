package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadCredentials = errors.New("invalid name or password")

// Credentials binds a password hash to each name the first time it logs into
// a lobby, so a returning player can prove the name is theirs.
type Credentials struct {
	mu     sync.Mutex
	hashes map[string]map[string][]byte
	cost   int
}

func NewCredentials(cost int) *Credentials {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Credentials{hashes: map[string]map[string][]byte{}, cost: cost}
}

// Check registers password for (lobbyID, name) on first use and verifies it
// afterwards.
func (c *Credentials) Check(lobbyID, name, password string) error {
	c.mu.Lock()
	lobby := c.hashes[lobbyID]
	if lobby == nil {
		lobby = map[string][]byte{}
		c.hashes[lobbyID] = lobby
	}
	hash, ok := lobby[name]
	c.mu.Unlock()

	if ok {
		if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
			return ErrBadCredentials
		}
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Someone else may have claimed the name while we were hashing.
	if existing, ok := c.hashes[lobbyID][name]; ok {
		if bcrypt.CompareHashAndPassword(existing, []byte(password)) != nil {
			return ErrBadCredentials
		}
		return nil
	}
	if c.hashes[lobbyID] == nil {
		c.hashes[lobbyID] = map[string][]byte{}
	}
	c.hashes[lobbyID][name] = hash
	return nil
}

// Forget drops every credential for a lobby once it is gone.
func (c *Credentials) Forget(lobbyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hashes, lobbyID)
}
