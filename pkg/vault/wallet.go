package vault

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/heirloom-labs/heirloom/pkg/contracts"
	"github.com/heirloom-labs/heirloom/pkg/events"
	"github.com/heirloom-labs/heirloom/pkg/quorum"
)

// GuardedWallet gates arbitrary actions behind an N-of-M guardian quorum.
// Guardians propose a target call, confirm it, and the quorum engine
// executes it through the injected Caller exactly once.
type GuardedWallet struct {
	engine *quorum.Engine
	log    *events.Chain
}

// NewGuardedWallet creates a wallet at the given address with its guardian
// registry and required quorum.
func NewGuardedWallet(self common.Address, guardians []common.Address, required int, caller quorum.Caller) (*GuardedWallet, error) {
	log := events.NewChain()
	engine, err := quorum.NewEngine(self, guardians, required, caller, log)
	if err != nil {
		return nil, err
	}
	return &GuardedWallet{engine: engine, log: log}, nil
}

// Propose submits an arbitrary action for guardian authorization.
func (w *GuardedWallet) Propose(by, target common.Address, value *big.Int, payload []byte) (uint64, error) {
	return w.engine.Propose(by, target, value, payload)
}

// Confirm records a guardian confirmation, executing the action if the
// quorum is reached.
func (w *GuardedWallet) Confirm(ctx context.Context, by common.Address, id uint64) error {
	return w.engine.Confirm(ctx, by, id)
}

// Revoke withdraws a prior confirmation before execution.
func (w *GuardedWallet) Revoke(by common.Address, id uint64) error {
	return w.engine.Revoke(by, id)
}

// Execute retries an authorized proposal whose triggering confirmation did
// not complete execution.
func (w *GuardedWallet) Execute(ctx context.Context, by common.Address, id uint64) error {
	return w.engine.Execute(ctx, by, id)
}

// ProposeGuardianChange routes a registry mutation through the ordinary
// proposal workflow.
func (w *GuardedWallet) ProposeGuardianChange(by common.Address, change quorum.RegistryChange) (uint64, error) {
	return w.engine.ProposeRegistryChange(by, change)
}

// Guardians enumerates the current registry.
func (w *GuardedWallet) Guardians() []common.Address {
	return w.engine.Principals()
}

// Quorum returns the required confirmation count.
func (w *GuardedWallet) Quorum() int {
	return w.engine.Quorum()
}

// Proposals enumerates the proposal log.
func (w *GuardedWallet) Proposals() []contracts.Proposal {
	return w.engine.Proposals()
}

// Engine exposes the underlying quorum engine for inspection surfaces.
func (w *GuardedWallet) Engine() *quorum.Engine {
	return w.engine
}

// Events exposes the wallet's event chain.
func (w *GuardedWallet) Events() *events.Chain {
	return w.log
}
