package bank

import (
	"errors"
	"math/big"
	"testing"

	"nhbescrow/core/events"
	"nhbescrow/core/state"
	"nhbescrow/storage"
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func newTestLedger(t *testing.T) (*Ledger, *state.Manager) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	if err := mgr.RegisterToken("NHB", "NHBCoin", 18); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.RegisterToken("USDC", "USD Coin", 6); err != nil {
		t.Fatalf("register: %v", err)
	}
	return NewLedger(mgr), mgr
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func TestTransferMovesBalance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	emitter := &capturingEmitter{}
	ledger.SetEmitter(emitter)
	alice, bob := addr(1), addr(2)
	if err := ledger.Mint(alice, "nhb", big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer("NHB", alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBal, _ := ledger.Balance(alice, "NHB")
	bobBal, _ := ledger.Balance(bob, "NHB")
	if aliceBal.Cmp(big.NewInt(60)) != 0 || bobBal.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected balances alice=%s bob=%s", aliceBal, bobBal)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != TypeTransfer {
		t.Fatalf("expected one transfer event, got %v", emitter.events)
	}
	if err := ledger.Transfer("NHB", alice, bob, big.NewInt(61)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := ledger.Transfer("DAI", alice, bob, big.NewInt(1)); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected unknown asset, got %v", err)
	}
	if err := ledger.Transfer("NHB", alice, bob, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	owner, spender, dest := addr(1), addr(2), addr(3)
	if err := ledger.Mint(owner, "USDC", big.NewInt(50)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.TransferFrom("USDC", spender, owner, dest, big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected allowance error, got %v", err)
	}
	if err := ledger.Approve(owner, spender, "usdc", big.NewInt(30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom("USDC", spender, owner, dest, big.NewInt(20)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	remaining, err := ledger.Allowance(owner, spender, "USDC")
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if remaining.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected 10 remaining, got %s", remaining)
	}
	destBal, _ := ledger.Balance(dest, "USDC")
	if destBal.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("unexpected destination balance %s", destBal)
	}
}

func TestTransferHookFailureIsReported(t *testing.T) {
	ledger, mgr := newTestLedger(t)
	alice, bob := addr(1), addr(2)
	if err := ledger.Mint(alice, "NHB", big.NewInt(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	hookErr := errors.New("recipient rejected")
	ledger.SetTransferHook(func(string, [20]byte, [20]byte, *big.Int) error { return hookErr })
	snap := mgr.Snapshot()
	if err := ledger.Transfer("NHB", alice, bob, big.NewInt(5)); !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	mgr.RevertToSnapshot(snap)
	bal, _ := ledger.Balance(alice, "NHB")
	if bal.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected revert to restore balance, got %s", bal)
	}
}
