// Package vault composes the custody authorities into the user-facing
// variants: an inheritance vault gated by the dead-man's switch and a
// guardian-gated wallet driven by the quorum engine. Both are surface
// specializations of the same two mechanisms.
package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/heirloom-labs/heirloom/pkg/contracts"
	"github.com/heirloom-labs/heirloom/pkg/custody"
	"github.com/heirloom-labs/heirloom/pkg/events"
	"github.com/heirloom-labs/heirloom/pkg/liveness"
)

// InheritanceVault holds assets for a single heir and releases them when the
// owner's proof of life lapses.
type InheritanceVault struct {
	owner  common.Address
	heir   common.Address
	gate   *liveness.Switch
	assets *custody.Ledger
	log    *events.Chain
}

// NewInheritanceVault wires the switch and the ledger around one owner and
// one designated heir. clock may be nil for wall-clock time.
func NewInheritanceVault(owner, heir common.Address, period time.Duration, source custody.AssetSource, clock liveness.Clock) (*InheritanceVault, error) {
	if heir == (common.Address{}) {
		return nil, fmt.Errorf("%w: null heir address", contracts.ErrInvalidState)
	}
	if heir == owner {
		return nil, fmt.Errorf("%w: heir must differ from owner", contracts.ErrInvalidState)
	}
	gate, err := liveness.NewSwitch(owner, period, clock)
	if err != nil {
		return nil, err
	}
	log := events.NewChain()
	return &InheritanceVault{
		owner:  owner,
		heir:   heir,
		gate:   gate,
		assets: custody.NewLedger(owner, source, log),
		log:    log,
	}, nil
}

// Heartbeat is the owner's proof of life.
func (v *InheritanceVault) Heartbeat(caller common.Address) error {
	if err := v.gate.Heartbeat(caller); err != nil {
		return err
	}
	_, _ = v.log.Append(contracts.EventHeartbeat, caller.Hex(), nil)
	return nil
}

// RegisterAsset places an asset under custody.
func (v *InheritanceVault) RegisterAsset(ctx context.Context, caller common.Address, rec contracts.AssetRecord) error {
	return v.assets.Register(ctx, caller, rec)
}

// RemoveAsset withdraws an asset from custody before release.
func (v *InheritanceVault) RemoveAsset(caller common.Address, key contracts.AssetKey) error {
	return v.assets.Remove(caller, key)
}

// Claim releases every managed asset to the heir. Only the heir may claim,
// and only once the inactivity period has fully elapsed.
func (v *InheritanceVault) Claim(ctx context.Context, caller common.Address) (*custody.ReleaseReport, error) {
	if caller != v.heir {
		return nil, fmt.Errorf("%w: only the designated heir may claim", contracts.ErrUnauthorized)
	}
	if !v.gate.ReleasePermitted() {
		return nil, fmt.Errorf("%w: release not permitted for another %s",
			contracts.ErrInvalidState, v.gate.TimeUntilRelease())
	}
	return v.assets.Release(ctx, v.heir)
}

// Status is the read-only inspection surface of the vault.
type Status struct {
	Owner            common.Address          `json:"owner"`
	Heir             common.Address          `json:"heir"`
	LastProofOfLife  time.Time               `json:"last_proof_of_life"`
	InactivityPeriod time.Duration           `json:"inactivity_period"`
	TimeUntilRelease time.Duration           `json:"time_until_release"`
	ReleasePermitted bool                    `json:"release_permitted"`
	Assets           []contracts.AssetRecord `json:"assets"`
}

// Status reports the current vault state without mutating it.
func (v *InheritanceVault) Status() Status {
	return Status{
		Owner:            v.owner,
		Heir:             v.heir,
		LastProofOfLife:  v.gate.LastProofOfLife(),
		InactivityPeriod: v.gate.Period(),
		TimeUntilRelease: v.gate.TimeUntilRelease(),
		ReleasePermitted: v.gate.ReleasePermitted(),
		Assets:           v.assets.Assets(),
	}
}

// Events exposes the vault's event chain.
func (v *InheritanceVault) Events() *events.Chain {
	return v.log
}

// Assets exposes the current custody records.
func (v *InheritanceVault) Assets() []contracts.AssetRecord {
	return v.assets.Assets()
}

// Owner returns the vault owner.
func (v *InheritanceVault) Owner() common.Address { return v.owner }

// Heir returns the designated successor.
func (v *InheritanceVault) Heir() common.Address { return v.heir }

// Restore rewinds switch marker and custody records from persisted state.
func (v *InheritanceVault) Restore(marker time.Time, records []contracts.AssetRecord) error {
	if !marker.IsZero() {
		v.gate.Restore(marker)
	}
	return v.assets.RestoreAssets(records)
}

// RestoreEvents seeds the event chain from persisted entries so the audit
// trail survives restarts.
func (v *InheritanceVault) RestoreEvents(entries []events.Entry) error {
	return v.log.Restore(entries)
}
