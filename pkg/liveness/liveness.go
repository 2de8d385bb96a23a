// Package liveness implements the dead-man's-switch authority: a single
// proof-of-life timestamp compared against a fixed inactivity period.
//
// Release eligibility is always recomputed from the marker and the clock.
// There is no stored "triggered" flag, so the gate can never desynchronize
// from the state it is derived from.
package liveness

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/heirloom-labs/heirloom/pkg/contracts"
)

// Clock provides authority time for the switch. Inject a fake in tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Switch tracks the owner's last proof of life against an inactivity period.
type Switch struct {
	mu     sync.RWMutex
	owner  common.Address
	period time.Duration
	marker time.Time
	clock  Clock
}

// NewSwitch creates a switch armed at the current clock time.
// If clock is nil, wall-clock time is used.
func NewSwitch(owner common.Address, period time.Duration, clock Clock) (*Switch, error) {
	if owner == (common.Address{}) {
		return nil, fmt.Errorf("%w: null owner address", contracts.ErrUnauthorized)
	}
	if period <= 0 {
		return nil, fmt.Errorf("%w: inactivity period must be positive", contracts.ErrInvalidState)
	}
	if clock == nil {
		clock = wallClock{}
	}
	return &Switch{
		owner:  owner,
		period: period,
		marker: clock.Now(),
		clock:  clock,
	}, nil
}

// Heartbeat resets the proof-of-life marker to the current time. Only the
// owner may advance it; the marker is monotonically non-decreasing.
func (s *Switch) Heartbeat(caller common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.owner {
		return fmt.Errorf("%w: only the owner may prove life", contracts.ErrUnauthorized)
	}
	if now := s.clock.Now(); now.After(s.marker) {
		s.marker = now
	}
	return nil
}

// ReleasePermitted reports whether the inactivity period has fully elapsed.
// The exact boundary (now == marker + period) is not yet permitted; the
// strict inequality decides who can race the clock and must not change.
func (s *Switch) ReleasePermitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock.Now().After(s.marker.Add(s.period))
}

// TimeUntilRelease returns how long until release becomes permitted,
// or zero if it already is.
func (s *Switch) TimeUntilRelease() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	remaining := s.marker.Add(s.period).Sub(s.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// LastProofOfLife returns the current marker.
func (s *Switch) LastProofOfLife() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marker
}

// Period returns the fixed inactivity period.
func (s *Switch) Period() time.Duration {
	return s.period
}

// Owner returns the owner principal.
func (s *Switch) Owner() common.Address {
	return s.owner
}

// Restore rewinds the marker to a persisted value. Used when reloading a
// vault from the store; the monotonicity invariant applies to live
// heartbeats, not to state restoration.
func (s *Switch) Restore(marker time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = marker
}
