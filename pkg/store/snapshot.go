// Package store persists the custody state surface — principal set, quorum,
// activity marker, asset records, proposal log and event chain — so external
// tooling can inspect it and a restarted daemon can restore it. The core
// packages never depend on this package; the daemon wires it around them.
package store

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/heirloom-labs/heirloom/pkg/contracts"
	"github.com/heirloom-labs/heirloom/pkg/events"
)

// Snapshot is a point-in-time copy of the enumerable custody state.
type Snapshot struct {
	TakenAt time.Time

	Owner  common.Address
	Heir   common.Address
	Marker time.Time

	Principals []common.Address
	Quorum     int

	Assets []contracts.AssetRecord

	Proposals     []contracts.Proposal
	Confirmations map[uint64][]common.Address

	Events []events.Entry
}
