package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// NativeAsset is the symbol of the chain's native currency. Native amounts are
// carried by the call itself and never appear as a trade's asset handle.
const NativeAsset = "NHB"

// TradeStatus represents the lifecycle states of a trade.
type TradeStatus uint8

const (
	TradePending TradeStatus = iota
	TradeConfirmed
	TradeCanceled
	TradeExpired
	TradeWithdrawn
)

// Valid reports whether the status value is within the supported range.
func (s TradeStatus) Valid() bool {
	switch s {
	case TradePending, TradeConfirmed, TradeCanceled, TradeExpired, TradeWithdrawn:
		return true
	default:
		return false
	}
}

func (s TradeStatus) String() string {
	switch s {
	case TradePending:
		return "pending"
	case TradeConfirmed:
		return "confirmed"
	case TradeCanceled:
		return "canceled"
	case TradeExpired:
		return "expired"
	case TradeWithdrawn:
		return "withdrawn"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// TradeRef addresses a trade by its seller and the position in the seller's
// trade list. The pair is stable for the lifetime of the trade.
type TradeRef struct {
	Seller [20]byte
	Index  uint64
}

// Trade captures the terms and runtime status of a single escrow agreement.
type Trade struct {
	Seller         [20]byte
	Index          uint64
	Buyer          [20]byte
	AssetToSell    string
	AssetToBuy     string
	NativeToSell   *big.Int
	FungibleToSell *big.Int
	NativeToBuy    *big.Int
	FungibleToBuy  *big.Int
	Deadline       int64
	CreatedAt      int64
	ClosedAt       int64
	ReleaseReady   bool
	Status         TradeStatus
}

// Ref returns the registry address of the trade.
func (t *Trade) Ref() TradeRef {
	return TradeRef{Seller: t.Seller, Index: t.Index}
}

// Clone returns a deep copy of the trade so callers can safely mutate the copy
// without affecting the stored instance.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	clone := *t
	clone.NativeToSell = cloneBigInt(t.NativeToSell)
	clone.FungibleToSell = cloneBigInt(t.FungibleToSell)
	clone.NativeToBuy = cloneBigInt(t.NativeToBuy)
	clone.FungibleToBuy = cloneBigInt(t.FungibleToBuy)
	return &clone
}

// NormalizeAsset trims and upper-cases a fungible asset handle. The native
// symbol is rejected because native amounts travel as call value.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("%w: asset handle required", ErrInvalidParty)
	}
	if trimmed == NativeAsset {
		return "", fmt.Errorf("%w: %s is the native currency, not a fungible asset", ErrInvalidParty, NativeAsset)
	}
	return trimmed, nil
}

// SanitizeTrade validates and normalises the supplied trade definition,
// returning a cloned instance with canonical asset casing and non-nil amount
// fields. The function does not mutate the original value.
func SanitizeTrade(t *Trade) (*Trade, error) {
	if t == nil {
		return nil, fmt.Errorf("escrow: nil trade")
	}
	clone := t.Clone()
	sell, err := NormalizeAsset(clone.AssetToSell)
	if err != nil {
		return nil, err
	}
	buy, err := NormalizeAsset(clone.AssetToBuy)
	if err != nil {
		return nil, err
	}
	clone.AssetToSell = sell
	clone.AssetToBuy = buy
	for _, amount := range []*big.Int{clone.NativeToSell, clone.FungibleToSell, clone.NativeToBuy, clone.FungibleToBuy} {
		if amount.Sign() < 0 {
			return nil, fmt.Errorf("escrow: trade amounts must be non-negative")
		}
	}
	if clone.Deadline < 0 || clone.CreatedAt < 0 || clone.ClosedAt < 0 {
		return nil, fmt.Errorf("escrow: trade timestamps must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid trade status %d", clone.Status)
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
