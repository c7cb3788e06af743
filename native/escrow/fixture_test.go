package escrow_test

import (
	"math/big"
	"testing"

	"nhbescrow/core/events"
	"nhbescrow/core/state"
	"nhbescrow/native/bank"
	"nhbescrow/native/escrow"
	"nhbescrow/storage"
)

const startTime int64 = 1_700_000_000

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) types() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

func (c *capturingEmitter) count(eventType string) int {
	n := 0
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

type fixture struct {
	t       *testing.T
	mgr     *state.Manager
	bank    *bank.Ledger
	engine  *escrow.Engine
	emitter *capturingEmitter
	vault   [20]byte
	now     int64
}

func newTestAddress(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

var (
	seller = newTestAddress(0x11)
	buyer  = newTestAddress(0x22)
	keeper = newTestAddress(0x33)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	for _, token := range []string{"NHB", "USDC", "DAI"} {
		if err := mgr.RegisterToken(token, token+" token", 18); err != nil {
			t.Fatalf("register %s: %v", token, err)
		}
	}
	ledger := bank.NewLedger(mgr)
	f := &fixture{
		t:       t,
		mgr:     mgr,
		bank:    ledger,
		emitter: &capturingEmitter{},
		vault:   newTestAddress(0xee),
		now:     startTime,
	}
	engine := escrow.NewEngine(f.vault)
	engine.SetState(mgr)
	engine.SetBank(ledger)
	engine.SetEmitter(f.emitter)
	engine.SetNowFunc(func() int64 { return f.now })
	f.engine = engine

	f.mint(seller, "NHB", 1_000)
	f.mint(seller, "USDC", 1_000)
	f.mint(buyer, "NHB", 1_000)
	f.mint(buyer, "DAI", 1_000)
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return f
}

func (f *fixture) mint(addr [20]byte, asset string, amount int64) {
	f.t.Helper()
	if err := f.bank.Mint(addr, asset, big.NewInt(amount)); err != nil {
		f.t.Fatalf("mint %s: %v", asset, err)
	}
}

// exec runs fn the way the host does: the attached value moves to the vault
// first and every write is rolled back if fn fails.
func (f *fixture) exec(caller [20]byte, value int64, fn func(call escrow.Call) error) error {
	f.t.Helper()
	snap := f.mgr.Snapshot()
	call := escrow.Call{Caller: caller, Value: big.NewInt(value)}
	if value > 0 {
		if err := f.bank.Transfer(escrow.NativeAsset, caller, f.vault, call.Value); err != nil {
			f.mgr.RevertToSnapshot(snap)
			return err
		}
	}
	if err := fn(call); err != nil {
		f.mgr.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func standardParams() escrow.OpenParams {
	return escrow.OpenParams{
		Buyer:          buyer,
		AssetToSell:    "USDC",
		AssetToBuy:     "DAI",
		NativeToSell:   big.NewInt(10),
		FungibleToSell: big.NewInt(100),
		NativeToBuy:    big.NewInt(5),
		FungibleToBuy:  big.NewInt(50),
		Duration:       3600,
	}
}

func (f *fixture) open(p escrow.OpenParams) *escrow.Trade {
	f.t.Helper()
	if p.FungibleToSell != nil && p.FungibleToSell.Sign() > 0 {
		if err := f.bank.Approve(seller, f.vault, p.AssetToSell, p.FungibleToSell); err != nil {
			f.t.Fatalf("approve: %v", err)
		}
	}
	var trade *escrow.Trade
	err := f.exec(seller, p.NativeToSell.Int64(), func(call escrow.Call) error {
		var err error
		trade, err = f.engine.OpenTrade(call, p)
		return err
	})
	if err != nil {
		f.t.Fatalf("open trade: %v", err)
	}
	return trade
}

func (f *fixture) confirm(index uint64, value int64) error {
	return f.exec(buyer, value, func(call escrow.Call) error {
		return f.engine.ConfirmTrade(call, seller, index)
	})
}

func (f *fixture) approveBuyer(amount int64) {
	f.t.Helper()
	if err := f.bank.Approve(buyer, f.vault, "DAI", big.NewInt(amount)); err != nil {
		f.t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) balance(addr [20]byte, asset string) int64 {
	f.t.Helper()
	bal, err := f.bank.Balance(addr, asset)
	if err != nil {
		f.t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func (f *fixture) custody(addr [20]byte) int64 {
	f.t.Helper()
	bal, err := f.engine.CustodyBalance(addr)
	if err != nil {
		f.t.Fatalf("custody: %v", err)
	}
	return bal.Int64()
}

func (f *fixture) trade(index uint64) *escrow.Trade {
	f.t.Helper()
	trade, err := f.engine.Trade(seller, index)
	if err != nil {
		f.t.Fatalf("load trade: %v", err)
	}
	return trade
}
