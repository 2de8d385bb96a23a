// Package events provides the append-only, hash-chained custody event log.
// Every state mutation in the vault — heartbeats, confirmations, executions,
// asset registrations and releases — lands here as an immutable entry linked
// to its predecessor, so an auditor can reproduce the full custody history
// from the chain alone.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/heirloom-labs/heirloom/pkg/contracts"
)

// Entry is an immutable, hash-chained event record.
type Entry struct {
	Sequence    uint64              `json:"sequence"`
	ID          string              `json:"id"`
	Type        contracts.EventType `json:"type"`
	Actor       string              `json:"actor,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
	Details     map[string]any      `json:"details,omitempty"`
	PrevHash    string              `json:"prev_hash"`
	ContentHash string              `json:"content_hash"`
}

// Chain is an append-only event log. Entries are hash-chained; no deletions
// or mutations.
type Chain struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
}

// NewChain creates an empty event chain.
func NewChain() *Chain {
	return &Chain{
		entries:  make([]Entry, 0),
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Chain) WithClock(clock func() time.Time) *Chain {
	c.clock = clock
	return c
}

// Append records an event and returns its sequence number.
func (c *Chain) Append(typ contracts.EventType, actor string, details map[string]any) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := uint64(len(c.entries)) + 1
	hash, err := entryHash(seq, typ, actor, details, c.headHash)
	if err != nil {
		return 0, fmt.Errorf("hash entry: %w", err)
	}

	entry := Entry{
		Sequence:    seq,
		ID:          uuid.New().String(),
		Type:        typ,
		Actor:       actor,
		Timestamp:   c.clock().UTC(),
		Details:     details,
		PrevHash:    c.headHash,
		ContentHash: hash,
	}

	c.entries = append(c.entries, entry)
	c.headHash = hash
	return seq, nil
}

// Restore seeds a freshly created chain from persisted entries so new
// events extend the recorded history instead of starting a second chain.
// Every link is recomputed before the entries are accepted.
func (c *Chain) Restore(entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) != 0 {
		return fmt.Errorf("%w: cannot restore into a non-empty chain", contracts.ErrInvalidState)
	}

	prevHash := "genesis"
	for i, entry := range entries {
		if entry.Sequence != uint64(i)+1 {
			return fmt.Errorf("%w: entry %d out of sequence", contracts.ErrInvalidState, entry.Sequence)
		}
		if entry.PrevHash != prevHash {
			return fmt.Errorf("%w: chain broken at entry %d", contracts.ErrInvalidState, entry.Sequence)
		}
		computed, err := entryHash(entry.Sequence, entry.Type, entry.Actor, entry.Details, entry.PrevHash)
		if err != nil {
			return fmt.Errorf("hash entry %d: %w", entry.Sequence, err)
		}
		if computed != entry.ContentHash {
			return fmt.Errorf("%w: hash mismatch at entry %d", contracts.ErrInvalidState, entry.Sequence)
		}
		prevHash = entry.ContentHash
	}

	c.entries = append(c.entries, entries...)
	c.headHash = prevHash
	return nil
}

// Get retrieves an entry by sequence number (1-based).
func (c *Chain) Get(seq uint64) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if seq == 0 || seq > uint64(len(c.entries)) {
		return nil, fmt.Errorf("%w: event %d", contracts.ErrNotFound, seq)
	}
	entry := c.entries[seq-1]
	return &entry, nil
}

// Entries returns a copy of the whole chain for read-only enumeration.
func (c *Chain) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Head returns the current head hash.
func (c *Chain) Head() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headHash
}

// Length returns the number of entries.
func (c *Chain) Length() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Verify walks the whole chain and recomputes every link.
func (c *Chain) Verify() (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prevHash := "genesis"
	for i, entry := range c.entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		computed, err := entryHash(entry.Sequence, entry.Type, entry.Actor, entry.Details, entry.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("entry %d not hashable: %v", i+1, err)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}

// entryHash computes the RFC 8785 canonical hash of the chained fields.
// The timestamp and the random entry ID stay out of the hash so replaying
// the same events yields the same chain.
func entryHash(seq uint64, typ contracts.EventType, actor string, details map[string]any, prev string) (string, error) {
	raw, err := json.Marshal(struct {
		Seq     uint64              `json:"seq"`
		Type    contracts.EventType `json:"type"`
		Actor   string              `json:"actor"`
		Details map[string]any      `json:"details"`
		Prev    string              `json:"prev"`
	}{seq, typ, actor, details, prev})
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
