// Package custody maintains the set of assets under management and performs
// the terminal release transfer once an authority has granted it.
//
// The ledger never decides whether a release may proceed; that gate belongs
// to the dead-man's-switch or quorum authority composed above it. It only
// decides what is transferred and keeps the record set consistent when
// individual transfers fail.
package custody

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/heirloom-labs/heirloom/pkg/contracts"
	"github.com/heirloom-labs/heirloom/pkg/events"
)

// AssetSource is the minimal capability consumed from each managed asset
// kind. Transfer must be treated as potentially failing and potentially
// reentrant; the asset's own code may call back into this system.
type AssetSource interface {
	// OwnerBalance reports how much of the asset the owner currently holds.
	// For non-fungible kinds a balance of 1 means ownership.
	OwnerBalance(ctx context.Context, owner common.Address, rec contracts.AssetRecord) (*big.Int, error)

	// Transfer moves the asset from one holder to another.
	Transfer(ctx context.Context, from, to common.Address, rec contracts.AssetRecord) error
}

// ReleaseReport summarizes the outcome of a batch release.
type ReleaseReport struct {
	Transferred []contracts.AssetRecord
	Failed      []contracts.AssetRecord
}

// Ledger is the custody record set for one managing party.
type Ledger struct {
	mu      sync.Mutex
	owner   common.Address
	records []contracts.AssetRecord
	index   map[contracts.AssetKey]int
	source  AssetSource
	log     *events.Chain
	clock   func() time.Time
}

// NewLedger creates an empty custody ledger for the given managing party.
func NewLedger(owner common.Address, source AssetSource, log *events.Chain) *Ledger {
	if log == nil {
		log = events.NewChain()
	}
	return &Ledger{
		owner:  owner,
		index:  make(map[contracts.AssetKey]int),
		source: source,
		log:    log,
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Register adds an asset record after verifying the managing party
// currently holds at least the required balance.
func (l *Ledger) Register(ctx context.Context, caller common.Address, rec contracts.AssetRecord) error {
	if caller != l.owner {
		return fmt.Errorf("%w: only the owner may register assets", contracts.ErrUnauthorized)
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	if _, dup := l.index[rec.Key()]; dup {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", contracts.ErrAlreadyRegistered, rec.Key())
	}
	l.mu.Unlock()

	// Ownership check against the external source happens outside the lock;
	// the duplicate check is repeated before insertion.
	balance, err := l.source.OwnerBalance(ctx, l.owner, rec)
	if err != nil {
		return fmt.Errorf("%w: ownership check for %s: %v", contracts.ErrExternalCall, rec.Key(), err)
	}
	if balance == nil || balance.Cmp(rec.RequiredBalance()) < 0 {
		return fmt.Errorf("%w: %s", contracts.ErrNotOwned, rec.Key())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.index[rec.Key()]; dup {
		return fmt.Errorf("%w: %s", contracts.ErrAlreadyRegistered, rec.Key())
	}
	l.index[rec.Key()] = len(l.records)
	l.records = append(l.records, rec)
	l.emit(contracts.EventAssetRegistered, caller.Hex(), map[string]any{
		"asset": rec.Key().String(),
		"kind":  string(rec.Kind),
	})
	return nil
}

// Remove deletes one record pre-release. Removal is swap-and-pop; the order
// of remaining records is not preserved and must not be relied upon.
func (l *Ledger) Remove(caller common.Address, key contracts.AssetKey) error {
	if caller != l.owner {
		return fmt.Errorf("%w: only the owner may remove assets", contracts.ErrUnauthorized)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.index[key]
	if !ok {
		return fmt.Errorf("%w: %s", contracts.ErrNotFound, key)
	}

	last := len(l.records) - 1
	moved := l.records[last]
	l.records[idx] = moved
	l.index[moved.Key()] = idx
	l.records = l.records[:last]
	delete(l.index, key)

	l.emit(contracts.EventAssetRemoved, caller.Hex(), map[string]any{"asset": key.String()})
	return nil
}

// Release transfers every managed asset to the heir. The caller is the
// authority-composing vault, which has already verified the release gate.
//
// Policy for individual transfer failures is skip-and-continue: the ledger
// is drained before the first external call (a reentrant call observes an
// empty ledger and cannot re-trigger release), each failed asset is
// re-registered for manual retry, and the report plus an ErrExternalCall
// wrapped error surface the partial outcome to the caller.
func (l *Ledger) Release(ctx context.Context, heir common.Address) (*ReleaseReport, error) {
	if heir == (common.Address{}) {
		return nil, fmt.Errorf("%w: null heir address", contracts.ErrInvalidState)
	}

	l.mu.Lock()
	batch := l.records
	l.records = nil
	l.index = make(map[contracts.AssetKey]int)
	l.mu.Unlock()

	report := &ReleaseReport{}
	for _, rec := range batch {
		if err := l.source.Transfer(ctx, l.owner, heir, rec); err != nil {
			report.Failed = append(report.Failed, rec)
			l.emit(contracts.EventReleaseFailed, heir.Hex(), map[string]any{
				"asset":  rec.Key().String(),
				"reason": err.Error(),
			})
			continue
		}
		report.Transferred = append(report.Transferred, rec)
		l.emit(contracts.EventAssetReleased, heir.Hex(), map[string]any{
			"asset": rec.Key().String(),
			"kind":  string(rec.Kind),
		})
	}

	if len(report.Failed) > 0 {
		l.mu.Lock()
		for _, rec := range report.Failed {
			if _, dup := l.index[rec.Key()]; dup {
				continue
			}
			l.index[rec.Key()] = len(l.records)
			l.records = append(l.records, rec)
		}
		l.mu.Unlock()
		return report, fmt.Errorf("%w: %d of %d transfers failed", contracts.ErrExternalCall, len(report.Failed), len(batch))
	}

	l.emit(contracts.EventReleaseCompleted, heir.Hex(), map[string]any{"released": len(report.Transferred)})
	return report, nil
}

// Assets returns a copy of the current record set.
func (l *Ledger) Assets() []contracts.AssetRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]contracts.AssetRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of managed records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Owner returns the managing party.
func (l *Ledger) Owner() common.Address {
	return l.owner
}

// RestoreAssets loads persisted records into an empty ledger without
// re-running ownership checks.
func (l *Ledger) RestoreAssets(records []contracts.AssetRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.records) != 0 {
		return fmt.Errorf("%w: ledger is not empty", contracts.ErrInvalidState)
	}
	for _, rec := range records {
		if _, dup := l.index[rec.Key()]; dup {
			return fmt.Errorf("%w: %s", contracts.ErrAlreadyRegistered, rec.Key())
		}
		l.index[rec.Key()] = len(l.records)
		l.records = append(l.records, rec)
	}
	return nil
}

func (l *Ledger) emit(typ contracts.EventType, actor string, details map[string]any) {
	_, _ = l.log.Append(typ, actor, details)
}
