// internal/game/registry.go
package game

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultEndedTTL is how long an ended game stays listed so clients can show
// the post-game screen.
const DefaultEndedTTL = 120 * time.Second

// Registry holds every live game keyed by PIN. Methods are safe for
// concurrent use; the dispatcher additionally serializes all game mutation
// under its own mutex so handlers observe a consistent snapshot.
type Registry struct {
	mu       sync.Mutex
	games    map[string]*Game
	endedTTL time.Duration
}

// NewRegistry returns an empty registry. ttl <= 0 selects DefaultEndedTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultEndedTTL
	}
	return &Registry{
		games:    make(map[string]*Game),
		endedTTL: ttl,
	}
}

// Create allocates a fresh PIN, builds a lobby game hosted by host, and
// registers it in one step so the PIN cannot be reused before insertion.
func (r *Registry) Create(host string) *Game {
	r.mu.Lock()
	defer r.mu.Unlock()

	pin := r.allocatePIN()
	g := New(pin, host)
	r.games[pin] = g
	return g
}

// allocatePIN picks a 6-digit decimal PIN not currently in use. Caller holds
// r.mu.
func (r *Registry) allocatePIN() string {
	for {
		pin := fmt.Sprintf("%06d", 100000+rand.Intn(900000))
		if _, taken := r.games[pin]; !taken {
			return pin
		}
	}
}

// Get looks up a game by PIN.
func (r *Registry) Get(pin string) (*Game, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[pin]
	return g, ok
}

// Remove deletes a game, typically after its last player exits.
func (r *Registry) Remove(pin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.games[pin]; ok {
		delete(r.games, pin)
		log.Debugf("registry: removed game %s", pin)
	}
}

// List returns the live games in an arbitrary order.
func (r *Registry) List() []*Game {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Game, 0, len(r.games))
	for _, g := range r.games {
		out = append(out, g)
	}
	return out
}

// Len reports the number of live games.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.games)
}

// SweepEnded drops every ended game whose EndedAt is older than the TTL and
// returns how many were removed. It runs on every LIST_GAMES and on the
// server's background ticker.
func (r *Registry) SweepEnded(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for pin, g := range r.games {
		if g.State == StateEnded && now.Sub(g.EndedAt) > r.endedTTL {
			delete(r.games, pin)
			removed++
		}
	}
	if removed > 0 {
		log.Debugf("registry: swept %d ended game(s)", removed)
	}
	return removed
}
