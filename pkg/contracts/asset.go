package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetKind discriminates how a managed asset is counted and transferred.
type AssetKind string

const (
	// KindNative is chain-native value held by the vault itself.
	KindNative AssetKind = "NATIVE"
	// KindNonFungible is a single ERC-721 style token.
	KindNonFungible AssetKind = "ERC721"
	// KindSemiFungible is an ERC-1155 style token with an amount.
	KindSemiFungible AssetKind = "ERC1155"
)

// AssetKey uniquely identifies a managed asset by (contract, token id).
// The token id is kept in decimal string form so the key is comparable.
type AssetKey struct {
	Contract common.Address `json:"contract"`
	TokenID  string         `json:"token_id"`
}

func (k AssetKey) String() string {
	return fmt.Sprintf("%s/%s", k.Contract.Hex(), k.TokenID)
}

// AssetRecord is one unit of managed external value under custody.
type AssetRecord struct {
	Contract common.Address `json:"contract"`
	TokenID  *big.Int       `json:"token_id"`
	Kind     AssetKind      `json:"kind"`
	// Amount is meaningful only for semi-fungible and native kinds.
	Amount *big.Int `json:"amount,omitempty"`
}

// Key returns the unique ledger key for the record.
func (r AssetRecord) Key() AssetKey {
	id := "0"
	if r.TokenID != nil {
		id = r.TokenID.String()
	}
	return AssetKey{Contract: r.Contract, TokenID: id}
}

// RequiredBalance is the minimum holding the managing party must prove
// at registration time.
func (r AssetRecord) RequiredBalance() *big.Int {
	switch r.Kind {
	case KindNonFungible:
		return big.NewInt(1)
	default:
		if r.Amount == nil {
			return big.NewInt(0)
		}
		return new(big.Int).Set(r.Amount)
	}
}

// Validate rejects structurally impossible records. Address validation beyond
// null-address rejection is out of scope here.
func (r AssetRecord) Validate() error {
	switch r.Kind {
	case KindNative, KindNonFungible, KindSemiFungible:
	default:
		return fmt.Errorf("%w: unknown asset kind %q", ErrInvalidState, r.Kind)
	}
	if r.Kind != KindNative && r.Contract == (common.Address{}) {
		return fmt.Errorf("%w: null contract address", ErrInvalidState)
	}
	if r.TokenID != nil && r.TokenID.Sign() < 0 {
		return fmt.Errorf("%w: negative token id", ErrInvalidState)
	}
	if r.Kind != KindNonFungible {
		if r.Amount == nil || r.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: amount must be positive for %s assets", ErrInvalidState, r.Kind)
		}
	}
	return nil
}
