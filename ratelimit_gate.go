package gobtcmini

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// RateLimitState is a snapshot of the gate.
type RateLimitState struct {
	IsRateLimited  bool      `json:"isRateLimited"`
	CooldownExpiry time.Time `json:"cooldownExpiry"`
}

// RateLimitGate is the shared cooldown set after an upstream 429. It is
// advisory: proactive refreshes check it and back off, forced ones may still
// go out and re-trigger it.
type RateLimitGate struct {
	clock clock.Clock

	mu     sync.Mutex
	expiry time.Time
}

// NewRateLimitGate returns an open gate. A nil clock uses wall time.
func NewRateLimitGate(c clock.Clock) *RateLimitGate {
	if c == nil {
		c = clock.NewDefaultClock()
	}
	return &RateLimitGate{clock: c}
}

// IsGated reports whether the cooldown window is still open.
func (g *RateLimitGate) IsGated() bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clock.Now().Before(g.expiry)
}

// Trigger starts or extends the cooldown. An active longer cooldown is kept.
func (g *RateLimitGate) Trigger(cooldown time.Duration) {
	if g == nil || cooldown <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry := g.clock.Now().Add(cooldown)
	if expiry.After(g.expiry) {
		g.expiry = expiry
	}
	rateLimitTriggers.Add(1)
}

// State returns the current gate state.
func (g *RateLimitGate) State() RateLimitState {
	if g == nil {
		return RateLimitState{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.clock.Now().Before(g.expiry) {
		return RateLimitState{}
	}
	return RateLimitState{IsRateLimited: true, CooldownExpiry: g.expiry}
}
