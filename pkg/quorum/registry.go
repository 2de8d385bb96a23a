package quorum

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/heirloom-labs/heirloom/pkg/contracts"
)

// ChangeOp identifies one registry mutation kind.
type ChangeOp string

const (
	OpAddPrincipal     ChangeOp = "ADD_PRINCIPAL"
	OpRemovePrincipal  ChangeOp = "REMOVE_PRINCIPAL"
	OpReplacePrincipal ChangeOp = "REPLACE_PRINCIPAL"
	OpChangeQuorum     ChangeOp = "CHANGE_QUORUM"
)

// RegistryChange is the payload of a proposal that targets the engine's own
// address. Routing registry mutations through the ordinary proposal workflow
// is what makes the registry self-amending.
type RegistryChange struct {
	Op          ChangeOp       `json:"op"`
	Principal   common.Address `json:"principal,omitempty"`
	Replacement common.Address `json:"replacement,omitempty"`
	Quorum      int            `json:"quorum,omitempty"`
}

// ProposeRegistryChange encodes a RegistryChange and submits it as an
// ordinary proposal targeted at the engine itself.
func (e *Engine) ProposeRegistryChange(by common.Address, change RegistryChange) (uint64, error) {
	payload, err := json.Marshal(change)
	if err != nil {
		return 0, fmt.Errorf("encode registry change: %w", err)
	}
	return e.Propose(by, e.self, big.NewInt(0), payload)
}

// applyRegistryChangeLocked dispatches an executed self-targeted proposal.
// Callers hold the engine lock.
func (e *Engine) applyRegistryChangeLocked(payload []byte) error {
	var change RegistryChange
	if err := json.Unmarshal(payload, &change); err != nil {
		return fmt.Errorf("decode registry change: %w", err)
	}

	switch change.Op {
	case OpAddPrincipal:
		return e.addPrincipalLocked(change.Principal)
	case OpRemovePrincipal:
		return e.removePrincipalLocked(change.Principal)
	case OpReplacePrincipal:
		return e.replacePrincipalLocked(change.Principal, change.Replacement)
	case OpChangeQuorum:
		return e.changeQuorumLocked(change.Quorum)
	default:
		return fmt.Errorf("%w: unknown registry op %q", contracts.ErrInvalidState, change.Op)
	}
}

func (e *Engine) addPrincipalLocked(p common.Address) error {
	if p == (common.Address{}) {
		return fmt.Errorf("%w: null principal address", contracts.ErrInvalidState)
	}
	if _, ok := e.index[p]; ok {
		return fmt.Errorf("%w: %s is already a principal", contracts.ErrInvalidState, p.Hex())
	}
	e.index[p] = len(e.principals)
	e.principals = append(e.principals, p)
	e.emit(contracts.EventPrincipalAdded, p.Hex(), map[string]any{"principals": len(e.principals)})
	return nil
}

// clearConfirmationsLocked withdraws a departing principal's confirmations
// from every proposal that has not executed yet. A vote by someone no longer
// in the registry must never count toward quorum, and leaving it in place
// would also be unrevocable since the departed address can no longer call in.
func (e *Engine) clearConfirmationsLocked(p common.Address) {
	for _, prop := range e.proposals {
		if prop.Executed {
			continue
		}
		if e.confirmed[prop.ID][p] {
			delete(e.confirmed[prop.ID], p)
			prop.Confirmations--
		}
	}
}

// removePrincipalLocked removes by swap-and-pop, clearing the departing
// principal's pending confirmations. If the shrunken membership drops below
// the current quorum requirement, the quorum is lowered to the new
// membership size in the same operation so it never becomes unreachable.
func (e *Engine) removePrincipalLocked(p common.Address) error {
	idx, ok := e.index[p]
	if !ok {
		return fmt.Errorf("%w: %s is not a principal", contracts.ErrNotFound, p.Hex())
	}
	if len(e.principals) == 1 {
		return fmt.Errorf("%w: cannot remove the last principal", contracts.ErrInvalidQuorum)
	}

	e.clearConfirmationsLocked(p)

	last := len(e.principals) - 1
	moved := e.principals[last]
	e.principals[idx] = moved
	e.index[moved] = idx
	e.principals = e.principals[:last]
	delete(e.index, p)

	if e.quorum > len(e.principals) {
		e.quorum = len(e.principals)
		e.emit(contracts.EventQuorumChanged, "", map[string]any{"quorum": e.quorum})
	}
	e.emit(contracts.EventPrincipalRemoved, p.Hex(), map[string]any{"principals": len(e.principals)})
	return nil
}

func (e *Engine) replacePrincipalLocked(old, replacement common.Address) error {
	if replacement == (common.Address{}) {
		return fmt.Errorf("%w: null replacement address", contracts.ErrInvalidState)
	}
	idx, ok := e.index[old]
	if !ok {
		return fmt.Errorf("%w: %s is not a principal", contracts.ErrNotFound, old.Hex())
	}
	if _, dup := e.index[replacement]; dup {
		return fmt.Errorf("%w: %s is already a principal", contracts.ErrInvalidState, replacement.Hex())
	}
	// The replacement does not inherit the outgoing principal's votes.
	e.clearConfirmationsLocked(old)
	e.principals[idx] = replacement
	e.index[replacement] = idx
	delete(e.index, old)
	e.emit(contracts.EventPrincipalSwapped, old.Hex(), map[string]any{"replacement": replacement.Hex()})
	return nil
}

func (e *Engine) changeQuorumLocked(q int) error {
	if q < 1 || q > len(e.principals) {
		return fmt.Errorf("%w: quorum %d with %d principals", contracts.ErrInvalidQuorum, q, len(e.principals))
	}
	e.quorum = q
	e.emit(contracts.EventQuorumChanged, "", map[string]any{"quorum": q})
	return nil
}

// Principals returns a copy of the registry for read-only enumeration.
func (e *Engine) Principals() []common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]common.Address, len(e.principals))
	copy(out, e.principals)
	return out
}

// IsPrincipal reports membership.
func (e *Engine) IsPrincipal(a common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isPrincipalLocked(a)
}

// Quorum returns the current required-quorum count.
func (e *Engine) Quorum() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quorum
}

// Proposals returns defensive copies of every proposal.
func (e *Engine) Proposals() []contracts.Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]contracts.Proposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		out = append(out, p.Clone())
	}
	return out
}

// GetProposal returns a copy of one proposal.
func (e *Engine) GetProposal(id uint64) (contracts.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.byID[id]
	if !ok {
		return contracts.Proposal{}, fmt.Errorf("%w: proposal %d", contracts.ErrNotFound, id)
	}
	return e.proposals[idx].Clone(), nil
}

// HasConfirmed reports one cell of the confirmation matrix.
func (e *Engine) HasConfirmed(id uint64, principal common.Address) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[id]; !ok {
		return false, fmt.Errorf("%w: proposal %d", contracts.ErrNotFound, id)
	}
	return e.confirmed[id][principal], nil
}

// Confirmations returns the confirming principals for a proposal.
func (e *Engine) Confirmations(id uint64) ([]common.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[id]; !ok {
		return nil, fmt.Errorf("%w: proposal %d", contracts.ErrNotFound, id)
	}
	out := make([]common.Address, 0, len(e.confirmed[id]))
	for _, p := range e.principals {
		if e.confirmed[id][p] {
			out = append(out, p)
		}
	}
	return out, nil
}
