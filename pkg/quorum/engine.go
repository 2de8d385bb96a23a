// Package quorum implements the N-of-M authorization engine: a registry of
// principals, a log of proposed actions, and a per-principal confirmation
// matrix. A proposal moves Pending → Authorized → Executed; Executed is
// terminal.
//
// Registry mutations are not privileged back-doors. They are ordinary
// proposals targeted at the engine's own address, so a single compromised
// principal can never alter the quorum unilaterally.
package quorum

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

// Caller performs the external call of an executed proposal. It must be
// treated as potentially failing and potentially reentrant.
type Caller interface {
	Call(ctx context.Context, target common.Address, value *big.Int, payload []byte) error
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, target common.Address, value *big.Int, payload []byte) error

func (f CallerFunc) Call(ctx context.Context, target common.Address, value *big.Int, payload []byte) error {
	return f(ctx, target, value, payload)
}

// Engine is the quorum authorization state machine.
type Engine struct {
	mu sync.Mutex

	// self is the engine's own address; proposals targeting it carry a
	// RegistryChange payload and are dispatched internally.
	self common.Address

	principals []common.Address
	index      map[common.Address]int
	quorum     int

	proposals []*contracts.Proposal
	byID      map[uint64]int
	// confirmed is the confirmation matrix: (proposal, principal) → bool.
	confirmed map[uint64]map[common.Address]bool
	seq       uint64

	caller Caller
	log    *events.Chain
	clock  func() time.Time
}

// NewEngine creates an engine with the initial principal registry.
func NewEngine(self common.Address, principals []common.Address, quorum int, caller Caller, log *events.Chain) (*Engine, error) {
	if len(principals) == 0 {
		return nil, fmt.Errorf("%w: empty principal registry", contracts.ErrInvalidQuorum)
	}
	if quorum < 1 || quorum > len(principals) {
		return nil, fmt.Errorf("%w: quorum %d with %d principals", contracts.ErrInvalidQuorum, quorum, len(principals))
	}
	if log == nil {
		log = events.NewChain()
	}

	e := &Engine{
		self:      self,
		index:     make(map[common.Address]int, len(principals)),
		quorum:    quorum,
		byID:      make(map[uint64]int),
		confirmed: make(map[uint64]map[common.Address]bool),
		caller:    caller,
		log:       log,
		clock:     time.Now,
	}
	for _, p := range principals {
		if p == (common.Address{}) {
			return nil, fmt.Errorf("%w: null principal address", contracts.ErrInvalidQuorum)
		}
		if _, dup := e.index[p]; dup {
			return nil, fmt.Errorf("%w: duplicate principal %s", contracts.ErrInvalidQuorum, p.Hex())
		}
		e.index[p] = len(e.principals)
		e.principals = append(e.principals, p)
	}
	return e, nil
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Self returns the engine's own address, the target for registry changes.
func (e *Engine) Self() common.Address {
	return e.self
}

// Propose records a new pending action and returns its identifier.
// Proposal identifiers are monotonically increasing and never reused.
// Proposing does not confirm.
func (e *Engine) Propose(by common.Address, target common.Address, value *big.Int, payload []byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isPrincipalLocked(by) {
		return 0, fmt.Errorf("%w: %s is not a principal", contracts.ErrUnauthorized, by.Hex())
	}
	if value != nil && value.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative value", contracts.ErrInvalidState)
	}

	e.seq++
	p := &contracts.Proposal{
		ID:          e.seq,
		Target:      target,
		Value:       value,
		Payload:     append([]byte(nil), payload...),
		SubmittedBy: by,
		SubmittedAt: e.clock().UTC(),
	}
	e.byID[p.ID] = len(e.proposals)
	e.proposals = append(e.proposals, p)
	e.confirmed[p.ID] = make(map[common.Address]bool)

	e.emit(contracts.EventProposalCreated, by.Hex(), map[string]any{
		"proposal": p.ID,
		"target":   target.Hex(),
	})
	return p.ID, nil
}

// Confirm records a principal's confirmation. If the new count meets the
// quorum, execution is attempted in the same operation; no intervening
// Authorized state is visible to other calls.
//
// A failed external call during the triggered execution does not undo the
// confirmation. The proposal stays Authorized and can be retried with
// Execute once the failure cause is resolved.
func (e *Engine) Confirm(ctx context.Context, by common.Address, id uint64) error {
	e.mu.Lock()
	p, err := e.lookupLocked(by, id)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if p.Executed {
		e.mu.Unlock()
		return fmt.Errorf("%w: proposal %d already executed", contracts.ErrInvalidState, id)
	}
	if e.confirmed[id][by] {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s already confirmed proposal %d", contracts.ErrInvalidState, by.Hex(), id)
	}

	e.confirmed[id][by] = true
	p.Confirmations++
	reached := p.Confirmations >= e.quorum
	e.emit(contracts.EventConfirmed, by.Hex(), map[string]any{
		"proposal":      id,
		"confirmations": p.Confirmations,
	})
	e.mu.Unlock()

	if reached {
		return e.attemptExecute(ctx, id)
	}
	return nil
}

// Revoke clears a previously recorded confirmation. Other principals'
// confirmations are unaffected.
func (e *Engine) Revoke(by common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.lookupLocked(by, id)
	if err != nil {
		return err
	}
	if p.Executed {
		return fmt.Errorf("%w: proposal %d already executed", contracts.ErrInvalidState, id)
	}
	if !e.confirmed[id][by] {
		return fmt.Errorf("%w: %s has not confirmed proposal %d", contracts.ErrInvalidState, by.Hex(), id)
	}

	delete(e.confirmed[id], by)
	p.Confirmations--
	e.emit(contracts.EventRevoked, by.Hex(), map[string]any{
		"proposal":      id,
		"confirmations": p.Confirmations,
	})
	return nil
}

// Execute runs an authorized proposal. It exists for the case where the
// quorum was reached but the triggering confirmation did not complete
// execution, e.g. after an external call failure.
func (e *Engine) Execute(ctx context.Context, by common.Address, id uint64) error {
	e.mu.Lock()
	if _, err := e.lookupLocked(by, id); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()
	return e.attemptExecute(ctx, id)
}

// attemptExecute recomputes the authorization predicate fresh and performs
// the transition to Executed. The executed flag is set before the external
// call so a reentrant call back into the engine observes a terminal
// proposal and cannot re-trigger it. If the call fails the flag is
// reverted, reopening the Authorized state for a later retry.
func (e *Engine) attemptExecute(ctx context.Context, id uint64) error {
	e.mu.Lock()
	idx, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: proposal %d", contracts.ErrNotFound, id)
	}
	p := e.proposals[idx]
	if p.Executed {
		e.mu.Unlock()
		return fmt.Errorf("%w: proposal %d already executed", contracts.ErrInvalidState, id)
	}
	if p.Confirmations < e.quorum {
		e.mu.Unlock()
		return fmt.Errorf("%w: proposal %d has %d of %d confirmations", contracts.ErrInvalidState, id, p.Confirmations, e.quorum)
	}

	p.Executed = true

	// Registry changes are dispatched internally while still holding the
	// lock; they cannot reenter. Their failures keep their own kind
	// (ErrInvalidQuorum and friends) instead of ErrExternalCall.
	if p.Target == e.self {
		err := e.applyRegistryChangeLocked(p.Payload)
		if err != nil {
			p.Executed = false
			e.emit(contracts.EventExecutionFailed, "", map[string]any{
				"proposal": id,
				"reason":   err.Error(),
			})
			e.mu.Unlock()
			return fmt.Errorf("registry change for proposal %d: %w", id, err)
		}
		at := e.clock().UTC()
		p.ExecutedAt = &at
		e.emit(contracts.EventExecuted, "", map[string]any{"proposal": id})
		e.mu.Unlock()
		return nil
	}

	target, value, payload := p.Target, p.Value, p.Payload
	e.mu.Unlock()

	err := e.caller.Call(ctx, target, value, payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		p.Executed = false
		e.emit(contracts.EventExecutionFailed, "", map[string]any{
			"proposal": id,
			"reason":   err.Error(),
		})
		return fmt.Errorf("%w: proposal %d: %v", contracts.ErrExternalCall, id, err)
	}
	at := e.clock().UTC()
	p.ExecutedAt = &at
	e.emit(contracts.EventExecuted, "", map[string]any{"proposal": id})
	return nil
}

// IsAuthorized reports whether the proposal currently meets the quorum and
// has not been executed. Recomputed fresh on every call.
func (e *Engine) IsAuthorized(id uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx, ok := e.byID[id]
	if !ok {
		return false, fmt.Errorf("%w: proposal %d", contracts.ErrNotFound, id)
	}
	p := e.proposals[idx]
	return !p.Executed && p.Confirmations >= e.quorum, nil
}

// lookupLocked gates the caller identity and resolves the proposal.
func (e *Engine) lookupLocked(by common.Address, id uint64) (*contracts.Proposal, error) {
	if !e.isPrincipalLocked(by) {
		return nil, fmt.Errorf("%w: %s is not a principal", contracts.ErrUnauthorized, by.Hex())
	}
	idx, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: proposal %d", contracts.ErrNotFound, id)
	}
	return e.proposals[idx], nil
}

func (e *Engine) isPrincipalLocked(a common.Address) bool {
	_, ok := e.index[a]
	return ok
}

func (e *Engine) emit(typ contracts.EventType, actor string, details map[string]any) {
	// The chain only fails on unhashable details, which are all built here.
	_, _ = e.log.Append(typ, actor, details)
}

// Restore loads persisted proposals and their confirmation matrix into a
// freshly constructed engine. The sequence counter resumes past the highest
// persisted identifier so identifiers stay monotonic across restarts.
func (e *Engine) Restore(proposals []contracts.Proposal, confirmations map[uint64][]common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.proposals) != 0 {
		return fmt.Errorf("%w: engine already has proposals", contracts.ErrInvalidState)
	}
	for i := range proposals {
		p := proposals[i].Clone()
		if _, dup := e.byID[p.ID]; dup {
			return fmt.Errorf("%w: duplicate proposal id %d", contracts.ErrInvalidState, p.ID)
		}
		matrix := make(map[common.Address]bool, len(confirmations[p.ID]))
		for _, a := range confirmations[p.ID] {
			matrix[a] = true
		}
		if len(matrix) != p.Confirmations {
			return fmt.Errorf("%w: proposal %d count %d does not match %d matrix entries",
				contracts.ErrInvalidState, p.ID, p.Confirmations, len(matrix))
		}
		e.byID[p.ID] = len(e.proposals)
		e.proposals = append(e.proposals, &p)
		e.confirmed[p.ID] = matrix
		if p.ID > e.seq {
			e.seq = p.ID
		}
	}
	return nil
}
