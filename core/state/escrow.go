package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"nhbescrow/native/escrow"
)

var (
	escrowTradePrefix        = []byte("escrow/trade/")
	escrowTradeCountPrefix   = []byte("escrow/trade-count/")
	escrowPendingKeyBytes    = []byte("escrow/pending")
	escrowCustodyPrefix      = []byte("escrow/custody/")
	escrowCustodyTotalKeyRaw = []byte("escrow/custody-total")
)

func EscrowTradeKey(seller [20]byte, index uint64) []byte {
	buf := make([]byte, 0, len(escrowTradePrefix)+len(seller)+8)
	buf = append(buf, escrowTradePrefix...)
	buf = append(buf, seller[:]...)
	return binary.BigEndian.AppendUint64(buf, index)
}

func EscrowTradeCountKey(seller [20]byte) []byte {
	return append(append([]byte(nil), escrowTradeCountPrefix...), seller[:]...)
}

func EscrowCustodyKey(seller [20]byte) []byte {
	return append(append([]byte(nil), escrowCustodyPrefix...), seller[:]...)
}

type storedTrade struct {
	Seller         [20]byte
	Index          uint64
	Buyer          [20]byte
	AssetToSell    string
	AssetToBuy     string
	NativeToSell   *big.Int
	FungibleToSell *big.Int
	NativeToBuy    *big.Int
	FungibleToBuy  *big.Int
	Deadline       *big.Int
	CreatedAt      *big.Int
	ClosedAt       *big.Int
	ReleaseReady   bool
	Status         uint8
}

func newStoredTrade(t *escrow.Trade) *storedTrade {
	return &storedTrade{
		Seller:         t.Seller,
		Index:          t.Index,
		Buyer:          t.Buyer,
		AssetToSell:    t.AssetToSell,
		AssetToBuy:     t.AssetToBuy,
		NativeToSell:   nonNil(t.NativeToSell),
		FungibleToSell: nonNil(t.FungibleToSell),
		NativeToBuy:    nonNil(t.NativeToBuy),
		FungibleToBuy:  nonNil(t.FungibleToBuy),
		Deadline:       big.NewInt(t.Deadline),
		CreatedAt:      big.NewInt(t.CreatedAt),
		ClosedAt:       big.NewInt(t.ClosedAt),
		ReleaseReady:   t.ReleaseReady,
		Status:         uint8(t.Status),
	}
}

func (s *storedTrade) toTrade() (*escrow.Trade, error) {
	if s == nil {
		return nil, fmt.Errorf("escrow: nil storage record")
	}
	out := &escrow.Trade{
		Seller:         s.Seller,
		Index:          s.Index,
		Buyer:          s.Buyer,
		AssetToSell:    s.AssetToSell,
		AssetToBuy:     s.AssetToBuy,
		NativeToSell:   nonNil(s.NativeToSell),
		FungibleToSell: nonNil(s.FungibleToSell),
		NativeToBuy:    nonNil(s.NativeToBuy),
		FungibleToBuy:  nonNil(s.FungibleToBuy),
		ReleaseReady:   s.ReleaseReady,
		Status:         escrow.TradeStatus(s.Status),
	}
	if s.Deadline != nil {
		out.Deadline = s.Deadline.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	if s.ClosedAt != nil {
		out.ClosedAt = s.ClosedAt.Int64()
	}
	return escrow.SanitizeTrade(out)
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// EscrowTradeCount returns the number of trades recorded for seller.
func (m *Manager) EscrowTradeCount(seller [20]byte) (uint64, error) {
	var count uint64
	if _, err := m.KVGet(EscrowTradeCountKey(seller), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// EscrowTradeAppend stores trade at the next index of the seller's list and
// returns that index.
func (m *Manager) EscrowTradeAppend(trade *escrow.Trade) (uint64, error) {
	if trade == nil {
		return 0, fmt.Errorf("escrow: nil trade")
	}
	index, err := m.EscrowTradeCount(trade.Seller)
	if err != nil {
		return 0, err
	}
	record := trade.Clone()
	record.Index = index
	if err := m.EscrowTradePut(record); err != nil {
		return 0, err
	}
	if err := m.KVPut(EscrowTradeCountKey(trade.Seller), index+1); err != nil {
		return 0, err
	}
	return index, nil
}

// EscrowTradePut overwrites an existing trade record.
func (m *Manager) EscrowTradePut(trade *escrow.Trade) error {
	sanitized, err := escrow.SanitizeTrade(trade)
	if err != nil {
		return err
	}
	return m.KVPut(EscrowTradeKey(sanitized.Seller, sanitized.Index), newStoredTrade(sanitized))
}

// EscrowTradeGet loads the trade stored at (seller, index).
func (m *Manager) EscrowTradeGet(seller [20]byte, index uint64) (*escrow.Trade, bool, error) {
	stored := new(storedTrade)
	ok, err := m.KVGet(EscrowTradeKey(seller, index), stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	trade, err := stored.toTrade()
	if err != nil {
		return nil, false, err
	}
	return trade, true, nil
}

// EscrowPendingList returns the pending working set in insertion order.
func (m *Manager) EscrowPendingList() ([]escrow.TradeRef, error) {
	var refs []escrow.TradeRef
	if err := m.KVGetList(escrowPendingKeyBytes, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// EscrowPendingAdd appends ref to the working set. Duplicates are ignored.
func (m *Manager) EscrowPendingAdd(ref escrow.TradeRef) error {
	refs, err := m.EscrowPendingList()
	if err != nil {
		return err
	}
	for _, existing := range refs {
		if existing == ref {
			return nil
		}
	}
	return m.KVPut(escrowPendingKeyBytes, append(refs, ref))
}

// EscrowPendingRemove drops ref from the working set. The trade record itself
// is retained.
func (m *Manager) EscrowPendingRemove(ref escrow.TradeRef) error {
	refs, err := m.EscrowPendingList()
	if err != nil {
		return err
	}
	out := refs[:0]
	for _, existing := range refs {
		if existing != ref {
			out = append(out, existing)
		}
	}
	if len(out) == 0 {
		return m.KVDelete(escrowPendingKeyBytes)
	}
	return m.KVPut(escrowPendingKeyBytes, out)
}

// EscrowCustodyBalance returns the native amount held for seller.
func (m *Manager) EscrowCustodyBalance(seller [20]byte) (*big.Int, error) {
	return m.kvAmount(EscrowCustodyKey(seller))
}

func (m *Manager) EscrowCustodyPut(seller [20]byte, amount *big.Int) error {
	return m.kvPutAmount(EscrowCustodyKey(seller), amount)
}

// EscrowCustodyTotal returns the sum of every seller's custody entry.
func (m *Manager) EscrowCustodyTotal() (*big.Int, error) {
	return m.kvAmount(escrowCustodyTotalKeyRaw)
}

func (m *Manager) EscrowCustodyTotalPut(amount *big.Int) error {
	return m.kvPutAmount(escrowCustodyTotalKeyRaw, amount)
}

func (m *Manager) kvAmount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (m *Manager) kvPutAmount(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return m.KVDelete(key)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("escrow: negative custody amount")
	}
	return m.KVPut(key, amount)
}
