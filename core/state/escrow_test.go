package state

import (
	"math/big"
	"testing"

	"nhbescrow/native/escrow"
)

func sampleTrade(seller byte) *escrow.Trade {
	var s, b [20]byte
	s[19] = seller
	b[19] = seller + 1
	return &escrow.Trade{
		Seller:         s,
		Buyer:          b,
		AssetToSell:    "usdc",
		AssetToBuy:     "dai",
		NativeToSell:   big.NewInt(10),
		FungibleToSell: big.NewInt(100),
		NativeToBuy:    big.NewInt(5),
		FungibleToBuy:  big.NewInt(50),
		Deadline:       4600,
		CreatedAt:      1000,
		Status:         escrow.TradePending,
	}
}

func TestEscrowTradeAppendAssignsSequentialIndexes(t *testing.T) {
	mgr, _ := newTestManager(t)
	first := sampleTrade(0x10)
	second := sampleTrade(0x10)
	i0, err := mgr.EscrowTradeAppend(first)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	i1, err := mgr.EscrowTradeAppend(second)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if i0 != 0 || i1 != 1 {
		t.Fatalf("unexpected indexes %d %d", i0, i1)
	}
	count, err := mgr.EscrowTradeCount(first.Seller)
	if err != nil || count != 2 {
		t.Fatalf("unexpected count %d err=%v", count, err)
	}

	stored, ok, err := mgr.EscrowTradeGet(first.Seller, 1)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if stored.Index != 1 || stored.AssetToSell != "USDC" || stored.Deadline != 4600 {
		t.Fatalf("unexpected stored trade %+v", stored)
	}
	if stored.FungibleToBuy.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("unexpected amount %s", stored.FungibleToBuy)
	}
	if _, ok, err := mgr.EscrowTradeGet(first.Seller, 2); err != nil || ok {
		t.Fatalf("expected missing trade, ok=%v err=%v", ok, err)
	}
}

func TestEscrowPendingWorkingSet(t *testing.T) {
	mgr, _ := newTestManager(t)
	a := escrow.TradeRef{Seller: [20]byte{1}, Index: 0}
	b := escrow.TradeRef{Seller: [20]byte{2}, Index: 0}
	c := escrow.TradeRef{Seller: [20]byte{1}, Index: 1}
	for _, ref := range []escrow.TradeRef{a, b, c, a} {
		if err := mgr.EscrowPendingAdd(ref); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := mgr.EscrowPendingRemove(b); err != nil {
		t.Fatalf("remove: %v", err)
	}
	refs, err := mgr.EscrowPendingList()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(refs) != 2 || refs[0] != a || refs[1] != c {
		t.Fatalf("unexpected working set %v", refs)
	}
	for _, ref := range refs {
		if err := mgr.EscrowPendingRemove(ref); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}
	refs, err = mgr.EscrowPendingList()
	if err != nil || len(refs) != 0 {
		t.Fatalf("expected empty working set, got %v err=%v", refs, err)
	}
}

func TestEscrowCustodyEntries(t *testing.T) {
	mgr, _ := newTestManager(t)
	seller := [20]byte{9}
	if err := mgr.EscrowCustodyPut(seller, big.NewInt(30)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.EscrowCustodyTotalPut(big.NewInt(30)); err != nil {
		t.Fatalf("put total: %v", err)
	}
	balance, err := mgr.EscrowCustodyBalance(seller)
	if err != nil || balance.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("unexpected balance %v err=%v", balance, err)
	}
	if err := mgr.EscrowCustodyPut(seller, big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative custody to be rejected")
	}
	if err := mgr.EscrowCustodyPut(seller, big.NewInt(0)); err != nil {
		t.Fatalf("clear: %v", err)
	}
	balance, err = mgr.EscrowCustodyBalance(seller)
	if err != nil || balance.Sign() != 0 {
		t.Fatalf("expected cleared entry, got %v err=%v", balance, err)
	}
}
