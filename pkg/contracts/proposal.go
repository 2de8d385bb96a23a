package contracts

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProposalState is the three-state lifecycle of a proposed action.
type ProposalState string

const (
	ProposalPending    ProposalState = "PENDING"
	ProposalAuthorized ProposalState = "AUTHORIZED"
	ProposalExecuted   ProposalState = "EXECUTED"
)

// Proposal represents one pending or completed action in the quorum workflow.
// Once Executed is true the proposal is immutable and can never be re-executed.
type Proposal struct {
	ID            uint64         `json:"id"`
	Target        common.Address `json:"target"`
	Value         *big.Int       `json:"value"`
	Payload       []byte         `json:"payload,omitempty"`
	Executed      bool           `json:"executed"`
	Confirmations int            `json:"confirmations"`
	SubmittedBy   common.Address `json:"submitted_by"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	ExecutedAt    *time.Time     `json:"executed_at,omitempty"`
}

// State derives the lifecycle state against the given quorum. Eligibility is
// always recomputed, never cached.
func (p *Proposal) State(quorum int) ProposalState {
	switch {
	case p.Executed:
		return ProposalExecuted
	case p.Confirmations >= quorum:
		return ProposalAuthorized
	default:
		return ProposalPending
	}
}

// Clone returns a defensive copy for read-only enumeration.
func (p *Proposal) Clone() Proposal {
	out := *p
	if p.Value != nil {
		out.Value = new(big.Int).Set(p.Value)
	}
	if p.Payload != nil {
		out.Payload = append([]byte(nil), p.Payload...)
	}
	if p.ExecutedAt != nil {
		at := *p.ExecutedAt
		out.ExecutedAt = &at
	}
	return out
}
