package events

import (
	"strings"
	"testing"
	"time"

	"github.com/heirloom-labs/heirloom/pkg/contracts"
)

func TestChainAppend(t *testing.T) {
	c := NewChain()
	seq, err := c.Append(contracts.EventHeartbeat, "0xab", map[string]any{"marker": "t0"})
	if err != nil {
		t.Fatal(err)
	}
	if seq != 1 {
		t.Fatalf("expected seq 1, got %d", seq)
	}
	if c.Length() != 1 {
		t.Fatalf("expected length 1, got %d", c.Length())
	}
}

func TestChainIntegrity(t *testing.T) {
	c := NewChain()
	c.Append(contracts.EventProposalCreated, "0xa1", map[string]any{"proposal": 1})
	c.Append(contracts.EventConfirmed, "0xb2", map[string]any{"proposal": 1})
	c.Append(contracts.EventExecuted, "0xb2", map[string]any{"proposal": 1})

	ok, reason := c.Verify()
	if !ok {
		t.Fatalf("expected valid chain, got: %s", reason)
	}
}

func TestChainGet(t *testing.T) {
	c := NewChain()
	c.Append(contracts.EventAssetRegistered, "0xaa", map[string]any{"asset": "0xde01/7"})

	entry, err := c.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Type != contracts.EventAssetRegistered {
		t.Fatalf("expected %s, got %s", contracts.EventAssetRegistered, entry.Type)
	}
	if !strings.HasPrefix(entry.ContentHash, "sha256:") {
		t.Fatalf("unexpected content hash %q", entry.ContentHash)
	}
}

func TestChainGetNotFound(t *testing.T) {
	c := NewChain()
	if _, err := c.Get(99); err == nil {
		t.Fatal("expected error for missing entry")
	}
	if _, err := c.Get(0); err == nil {
		t.Fatal("expected error for sequence zero")
	}
}

func TestChainHead(t *testing.T) {
	c := NewChain()
	if c.Head() != "genesis" {
		t.Fatal("expected genesis head")
	}
	c.Append(contracts.EventHeartbeat, "0xab", nil)
	if c.Head() == "genesis" {
		t.Fatal("expected head to advance after append")
	}
	entry, _ := c.Get(1)
	if entry.PrevHash != "genesis" {
		t.Fatalf("expected first entry linked to genesis, got %s", entry.PrevHash)
	}
	if entry.ContentHash != c.Head() {
		t.Fatal("expected head to equal last content hash")
	}
}

func TestChainTamperDetection(t *testing.T) {
	c := NewChain()
	c.Append(contracts.EventHeartbeat, "0xab", map[string]any{"n": 1})
	c.Append(contracts.EventHeartbeat, "0xab", map[string]any{"n": 2})

	c.entries[0].Details["n"] = 99
	ok, reason := c.Verify()
	if ok {
		t.Fatal("expected tampered chain to fail verification")
	}
	if !strings.Contains(reason, "entry 1") {
		t.Fatalf("unexpected reason: %s", reason)
	}
}

func TestChainRestore(t *testing.T) {
	c := NewChain()
	c.Append(contracts.EventHeartbeat, "0xab", map[string]any{"n": 1})
	c.Append(contracts.EventAssetRegistered, "0xab", map[string]any{"asset": "0xde01/7"})
	savedHead := c.Head()

	r := NewChain()
	if err := r.Restore(c.Entries()); err != nil {
		t.Fatal(err)
	}
	if r.Length() != 2 {
		t.Fatalf("expected length 2, got %d", r.Length())
	}
	if r.Head() != savedHead {
		t.Fatalf("expected restored head %s, got %s", savedHead, r.Head())
	}

	// New events extend the restored history instead of restarting it.
	if _, err := r.Append(contracts.EventHeartbeat, "0xab", map[string]any{"n": 2}); err != nil {
		t.Fatal(err)
	}
	entry, err := r.Get(3)
	if err != nil {
		t.Fatal(err)
	}
	if entry.PrevHash != savedHead {
		t.Fatalf("expected entry 3 linked to %s, got %s", savedHead, entry.PrevHash)
	}
	if ok, reason := r.Verify(); !ok {
		t.Fatalf("expected valid chain after restore, got: %s", reason)
	}
}

func TestChainRestoreEmpty(t *testing.T) {
	c := NewChain()
	if err := c.Restore(nil); err != nil {
		t.Fatal(err)
	}
	if c.Head() != "genesis" {
		t.Fatal("expected genesis head after empty restore")
	}
}

func TestChainRestoreRejectsTampered(t *testing.T) {
	c := NewChain()
	c.Append(contracts.EventHeartbeat, "0xab", map[string]any{"n": 1})
	c.Append(contracts.EventHeartbeat, "0xab", map[string]any{"n": 2})

	entries := c.Entries()
	entries[1].Details["n"] = 99
	if err := NewChain().Restore(entries); err == nil {
		t.Fatal("expected tampered entries to be rejected")
	}
}

func TestChainRestoreRejectsNonEmpty(t *testing.T) {
	c := NewChain()
	c.Append(contracts.EventHeartbeat, "0xab", nil)

	seeded := NewChain()
	seeded.Append(contracts.EventHeartbeat, "0xcd", nil)
	if err := seeded.Restore(c.Entries()); err == nil {
		t.Fatal("expected restore into a non-empty chain to fail")
	}
}

func TestChainHashDeterminism(t *testing.T) {
	build := func() *Chain {
		c := NewChain().WithClock(func() time.Time {
			return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		})
		c.Append(contracts.EventHeartbeat, "0xab", map[string]any{"b": 2, "a": 1})
		c.Append(contracts.EventAssetReleased, "0xcd", map[string]any{"asset": "x"})
		return c
	}

	// Replaying the same events yields the same chain regardless of the
	// random entry IDs or key order in the detail maps.
	if build().Head() != build().Head() {
		t.Fatal("expected identical heads for identical event sequences")
	}
}

func TestChainEntriesCopy(t *testing.T) {
	c := NewChain()
	c.Append(contracts.EventHeartbeat, "0xab", nil)

	got := c.Entries()
	got[0].Actor = "mutated"
	if c.Entries()[0].Actor != "0xab" {
		t.Fatal("expected Entries to return a copy")
	}
}
