package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"nhbescrow/crypto"
	"nhbescrow/native/escrow"
)

type tradeJSON struct {
	Seller         string `json:"seller"`
	Index          uint64 `json:"index"`
	Buyer          string `json:"buyer"`
	AssetToSell    string `json:"assetToSell"`
	AssetToBuy     string `json:"assetToBuy"`
	NativeToSell   string `json:"nativeToSell"`
	FungibleToSell string `json:"fungibleToSell"`
	NativeToBuy    string `json:"nativeToBuy"`
	FungibleToBuy  string `json:"fungibleToBuy"`
	Deadline       int64  `json:"deadline"`
	CreatedAt      int64  `json:"createdAt"`
	ClosedAt       int64  `json:"closedAt,omitempty"`
	ReleaseReady   bool   `json:"releaseReady"`
	Status         string `json:"status"`
}

type tradeRefJSON struct {
	Seller string `json:"seller"`
	Index  uint64 `json:"index"`
}

func formatTradeJSON(t *escrow.Trade) tradeJSON {
	return tradeJSON{
		Seller:         crypto.FormatAddress(t.Seller),
		Index:          t.Index,
		Buyer:          crypto.FormatAddress(t.Buyer),
		AssetToSell:    t.AssetToSell,
		AssetToBuy:     t.AssetToBuy,
		NativeToSell:   amountString(t.NativeToSell),
		FungibleToSell: amountString(t.FungibleToSell),
		NativeToBuy:    amountString(t.NativeToBuy),
		FungibleToBuy:  amountString(t.FungibleToBuy),
		Deadline:       t.Deadline,
		CreatedAt:      t.CreatedAt,
		ClosedAt:       t.ClosedAt,
		ReleaseReady:   t.ReleaseReady,
		Status:         t.Status.String(),
	}
}

func formatRefs(refs []escrow.TradeRef) []tradeRefJSON {
	out := make([]tradeRefJSON, 0, len(refs))
	for _, ref := range refs {
		out = append(out, tradeRefJSON{Seller: crypto.FormatAddress(ref.Seller), Index: ref.Index})
	}
	return out
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBech32Address(addr string) ([20]byte, error) {
	return crypto.ParseAddress(addr)
}

// parseAmount accepts a base-10 integer string; empty means zero.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	amount, err := parseAmount(value)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func encodeHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(data)
}

func decodeHex(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("hex payload required")
	}
	return hex.DecodeString(trimmed)
}
