package quorum

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/heirloom-labs/heirloom/pkg/contracts"
	"github.com/heirloom-labs/heirloom/pkg/events"
)

var (
	walletAddr = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol      = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	dave       = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	payee      = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

// fakeCaller records external calls and can be told to fail.
type fakeCaller struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (c *fakeCaller) Call(_ context.Context, _ common.Address, _ *big.Int, _ []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.calls++
	return nil
}

func newTestEngine(t *testing.T, quorum int) (*Engine, *fakeCaller) {
	t.Helper()
	caller := &fakeCaller{}
	e, err := NewEngine(walletAddr, []common.Address{alice, bob, carol}, quorum, caller, events.NewChain())
	require.NoError(t, err)
	return e, caller
}

func TestNewEngineValidation(t *testing.T) {
	caller := &fakeCaller{}

	_, err := NewEngine(walletAddr, nil, 1, caller, nil)
	require.ErrorIs(t, err, contracts.ErrInvalidQuorum)

	_, err = NewEngine(walletAddr, []common.Address{alice}, 0, caller, nil)
	require.ErrorIs(t, err, contracts.ErrInvalidQuorum)

	_, err = NewEngine(walletAddr, []common.Address{alice}, 2, caller, nil)
	require.ErrorIs(t, err, contracts.ErrInvalidQuorum)

	_, err = NewEngine(walletAddr, []common.Address{alice, alice}, 1, caller, nil)
	require.ErrorIs(t, err, contracts.ErrInvalidQuorum)

	_, err = NewEngine(walletAddr, []common.Address{alice, {}}, 1, caller, nil)
	require.ErrorIs(t, err, contracts.ErrInvalidQuorum)
}

func TestProposeRequiresPrincipal(t *testing.T) {
	e, _ := newTestEngine(t, 2)

	_, err := e.Propose(dave, payee, big.NewInt(1), nil)
	require.ErrorIs(t, err, contracts.ErrUnauthorized)
}

func TestProposalIDsMonotonic(t *testing.T) {
	e, _ := newTestEngine(t, 2)

	id1, err := e.Propose(alice, payee, big.NewInt(1), nil)
	require.NoError(t, err)
	id2, err := e.Propose(bob, payee, big.NewInt(2), nil)
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	// Proposing does not confirm.
	p, err := e.GetProposal(id1)
	require.NoError(t, err)
	require.Equal(t, 0, p.Confirmations)
	require.Equal(t, contracts.ProposalPending, p.State(e.Quorum()))
}

func TestConfirmAutoExecutesAtQuorum(t *testing.T) {
	e, caller := newTestEngine(t, 2)
	ctx := context.Background()

	id, err := e.Propose(alice, payee, big.NewInt(100), []byte("pay"))
	require.NoError(t, err)

	require.NoError(t, e.Confirm(ctx, alice, id))
	p, _ := e.GetProposal(id)
	require.Equal(t, 1, p.Confirmations)
	require.False(t, p.Executed)
	require.Equal(t, 0, caller.calls)

	// Second confirmation crosses the threshold and executes in the same call.
	require.NoError(t, e.Confirm(ctx, bob, id))
	p, _ = e.GetProposal(id)
	require.True(t, p.Executed)
	require.NotNil(t, p.ExecutedAt)
	require.Equal(t, 1, caller.calls)

	// A third principal confirming an executed proposal fails.
	err = e.Confirm(ctx, carol, id)
	require.ErrorIs(t, err, contracts.ErrInvalidState)
	p, _ = e.GetProposal(id)
	require.Equal(t, 2, p.Confirmations)
}

func TestDoubleConfirm(t *testing.T) {
	e, _ := newTestEngine(t, 3)
	ctx := context.Background()

	id, _ := e.Propose(alice, payee, nil, nil)
	require.NoError(t, e.Confirm(ctx, alice, id))

	err := e.Confirm(ctx, alice, id)
	require.ErrorIs(t, err, contracts.ErrInvalidState)

	p, _ := e.GetProposal(id)
	require.Equal(t, 1, p.Confirmations)
}

func TestRevoke(t *testing.T) {
	e, caller := newTestEngine(t, 2)
	ctx := context.Background()

	id, _ := e.Propose(alice, payee, nil, nil)
	require.NoError(t, e.Confirm(ctx, alice, id))
	require.NoError(t, e.Revoke(alice, id))

	p, _ := e.GetProposal(id)
	require.Equal(t, 0, p.Confirmations)
	confirmed, err := e.HasConfirmed(id, alice)
	require.NoError(t, err)
	require.False(t, confirmed)

	// Revoking without a prior confirmation fails; each principal can only
	// touch its own cell of the matrix.
	require.ErrorIs(t, e.Revoke(bob, id), contracts.ErrInvalidState)

	require.NoError(t, e.Confirm(ctx, alice, id))
	require.NoError(t, e.Confirm(ctx, bob, id))
	require.Equal(t, 1, caller.calls)

	// Executed proposals are immutable.
	require.ErrorIs(t, e.Revoke(alice, id), contracts.ErrInvalidState)
}

func TestUnknownProposal(t *testing.T) {
	e, _ := newTestEngine(t, 2)
	ctx := context.Background()

	require.ErrorIs(t, e.Confirm(ctx, alice, 999), contracts.ErrNotFound)
	require.ErrorIs(t, e.Revoke(alice, 999), contracts.ErrNotFound)
	require.ErrorIs(t, e.Execute(ctx, alice, 999), contracts.ErrNotFound)
	_, err := e.IsAuthorized(999)
	require.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestExecuteBeforeQuorum(t *testing.T) {
	e, _ := newTestEngine(t, 2)
	ctx := context.Background()

	id, _ := e.Propose(alice, payee, nil, nil)
	require.NoError(t, e.Confirm(ctx, alice, id))
	require.ErrorIs(t, e.Execute(ctx, bob, id), contracts.ErrInvalidState)
}

func TestFailedExecutionIsRetryable(t *testing.T) {
	e, caller := newTestEngine(t, 2)
	ctx := context.Background()
	caller.fail = errors.New("gas spike")

	id, _ := e.Propose(alice, payee, big.NewInt(5), nil)
	require.NoError(t, e.Confirm(ctx, alice, id))

	// The quorum-reaching confirmation triggers execution, which fails. The
	// confirmation itself stays recorded and the proposal reopens as
	// authorized rather than failed-permanently.
	err := e.Confirm(ctx, bob, id)
	require.ErrorIs(t, err, contracts.ErrExternalCall)

	p, _ := e.GetProposal(id)
	require.False(t, p.Executed)
	require.Equal(t, 2, p.Confirmations)
	authorized, err := e.IsAuthorized(id)
	require.NoError(t, err)
	require.True(t, authorized)

	// Once the failure cause is resolved, an explicit execute retries.
	caller.fail = nil
	require.NoError(t, e.Execute(ctx, carol, id))
	p, _ = e.GetProposal(id)
	require.True(t, p.Executed)
	require.Equal(t, 1, caller.calls)

	// Whichever path executes first, the other then fails with invalid state.
	require.ErrorIs(t, e.Execute(ctx, alice, id), contracts.ErrInvalidState)
}

func TestExecuteRequiresPrincipal(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()

	id, _ := e.Propose(alice, payee, nil, nil)
	require.ErrorIs(t, e.Execute(ctx, dave, id), contracts.ErrUnauthorized)
}

// reentrantCaller calls back into the engine during the external call,
// imitating an asset contract that reenters the wallet.
type reentrantCaller struct {
	engine *Engine
	id     uint64
	seen   error
}

func (c *reentrantCaller) Call(ctx context.Context, _ common.Address, _ *big.Int, _ []byte) error {
	c.seen = c.engine.Execute(ctx, alice, c.id)
	return nil
}

func TestReentrantExecuteBlocked(t *testing.T) {
	caller := &reentrantCaller{}
	e, err := NewEngine(walletAddr, []common.Address{alice, bob}, 2, caller, nil)
	require.NoError(t, err)
	caller.engine = e
	ctx := context.Background()

	id, _ := e.Propose(alice, payee, nil, nil)
	caller.id = id
	require.NoError(t, e.Confirm(ctx, alice, id))
	require.NoError(t, e.Confirm(ctx, bob, id))

	// The reentrant call observed a terminal proposal.
	require.ErrorIs(t, caller.seen, contracts.ErrInvalidState)
	p, _ := e.GetProposal(id)
	require.True(t, p.Executed)
}
