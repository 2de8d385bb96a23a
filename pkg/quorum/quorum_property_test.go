//go:build property
// +build property

// Package quorum_test contains property-based tests for the confirmation
// bookkeeping and execution threshold of the proposal engine.
package quorum_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/heirloom-labs/heirloom/pkg/quorum"
)

type countingCaller struct{ calls int }

func (c *countingCaller) Call(context.Context, common.Address, *big.Int, []byte) error {
	c.calls++
	return nil
}

func principalSet(n int) []common.Address {
	out := make([]common.Address, n)
	for i := range out {
		out[i] = common.BigToAddress(big.NewInt(int64(0xa000 + i)))
	}
	return out
}

// TestConfirmationCountConsistency verifies the cached confirmation count
// always matches the number of distinct confirming principals, under any
// interleaving of confirm and revoke operations.
func TestConfirmationCountConsistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	self := common.BigToAddress(big.NewInt(0x5e1f))
	target := common.BigToAddress(big.NewInt(0x7a32))

	properties.Property("confirmation count matches distinct confirmers", prop.ForAll(
		func(ops []int) bool {
			principals := principalSet(5)
			// Quorum of 5 so random sequences never trip execution here.
			e, err := quorum.NewEngine(self, principals, 5, &countingCaller{}, nil)
			if err != nil {
				return false
			}
			id, err := e.Propose(principals[0], target, nil, nil)
			if err != nil {
				return false
			}

			want := make(map[common.Address]bool)
			for _, op := range ops {
				p := principals[op%len(principals)]
				if op%2 == 0 {
					if e.Confirm(context.Background(), p, id) == nil {
						want[p] = true
					}
				} else {
					if e.Revoke(p, id) == nil {
						delete(want, p)
					}
				}
			}

			got, err := e.Confirmations(id)
			if err != nil {
				return false
			}
			current, err := e.GetProposal(id)
			if err != nil {
				return false
			}
			if len(got) != len(want) || current.Confirmations != len(want) {
				return false
			}
			for _, p := range got {
				if !want[p] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

// TestExecutionThreshold verifies a proposal executes exactly when the
// distinct confirmation count reaches the quorum, never before.
func TestExecutionThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	self := common.BigToAddress(big.NewInt(0x5e1f))
	target := common.BigToAddress(big.NewInt(0x7a32))

	properties.Property("execution fires at the quorum threshold", prop.ForAll(
		func(size, threshold int, ops []int) bool {
			n := 2 + size%6
			q := 1 + threshold%n
			principals := principalSet(n)
			caller := &countingCaller{}
			e, err := quorum.NewEngine(self, principals, q, caller, nil)
			if err != nil {
				return false
			}
			id, err := e.Propose(principals[0], target, nil, nil)
			if err != nil {
				return false
			}

			distinct := make(map[common.Address]bool)
			for _, op := range ops {
				p := principals[op%n]
				if e.Confirm(context.Background(), p, id) == nil {
					distinct[p] = true
				}
				if len(distinct) >= q {
					break
				}
			}

			current, err := e.GetProposal(id)
			if err != nil {
				return false
			}
			if len(distinct) >= q {
				return current.Executed && caller.calls == 1
			}
			return !current.Executed && caller.calls == 0
		},
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

// TestProposalIDsStrictlyIncrease verifies identifier assignment is
// strictly monotonic no matter how many proposals are submitted.
func TestProposalIDsStrictlyIncrease(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	self := common.BigToAddress(big.NewInt(0x5e1f))
	target := common.BigToAddress(big.NewInt(0x7a32))

	properties.Property("proposal identifiers strictly increase", prop.ForAll(
		func(count int) bool {
			principals := principalSet(3)
			e, err := quorum.NewEngine(self, principals, 2, &countingCaller{}, nil)
			if err != nil {
				return false
			}

			var prev uint64
			for i := 0; i < 1+count%20; i++ {
				id, err := e.Propose(principals[i%3], target, nil, nil)
				if err != nil {
					return false
				}
				if i > 0 && id <= prev {
					return false
				}
				prev = id
			}
			return true
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
