package escrow_test

import (
	"errors"
	"math/big"
	"testing"

	nativecommon "nhbescrow/native/common"
	"nhbescrow/native/escrow"
)

func TestOpenTradeLocksCollateral(t *testing.T) {
	f := newFixture(t)
	trade := f.open(standardParams())

	if trade.Index != 0 || trade.Status != escrow.TradePending {
		t.Fatalf("unexpected trade %+v", trade)
	}
	if trade.Deadline != startTime+3600 {
		t.Fatalf("unexpected deadline %d", trade.Deadline)
	}
	if trade.ReleaseReady {
		t.Fatalf("new trade must not be release ready")
	}
	if got := f.balance(seller, "NHB"); got != 990 {
		t.Fatalf("seller NHB: want 990 got %d", got)
	}
	if got := f.balance(seller, "USDC"); got != 900 {
		t.Fatalf("seller USDC: want 900 got %d", got)
	}
	if got := f.balance(f.vault, "USDC"); got != 100 {
		t.Fatalf("vault USDC: want 100 got %d", got)
	}
	if got := f.custody(seller); got != 10 {
		t.Fatalf("custody: want 10 got %d", got)
	}
	pending, err := f.engine.PendingTrades()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != (escrow.TradeRef{Seller: seller, Index: 0}) {
		t.Fatalf("unexpected pending set %v", pending)
	}
	if f.emitter.count(escrow.EventTypeTradeOpened) != 1 {
		t.Fatalf("expected opened event, got %v", f.emitter.types())
	}
}

func TestOpenTradeValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *escrow.OpenParams)
		value  int64
		want   error
	}{
		{"zero buyer", func(p *escrow.OpenParams) { p.Buyer = [20]byte{} }, 10, escrow.ErrInvalidParty},
		{"empty asset", func(p *escrow.OpenParams) { p.AssetToSell = " " }, 10, escrow.ErrInvalidParty},
		{"native as asset", func(p *escrow.OpenParams) { p.AssetToBuy = "nhb" }, 10, escrow.ErrInvalidParty},
		{"unknown asset", func(p *escrow.OpenParams) { p.AssetToBuy = "WBTC" }, 10, escrow.ErrInvalidParty},
		{"same asset", func(p *escrow.OpenParams) { p.AssetToBuy = "usdc" }, 10, escrow.ErrSameAsset},
		{"self trade", func(p *escrow.OpenParams) { p.Buyer = seller }, 10, escrow.ErrSelfTrade},
		{"nothing offered", func(p *escrow.OpenParams) {
			p.NativeToSell = big.NewInt(0)
			p.FungibleToSell = big.NewInt(0)
		}, 0, escrow.ErrZeroAmount},
		{"nothing requested", func(p *escrow.OpenParams) {
			p.NativeToBuy = nil
			p.FungibleToBuy = big.NewInt(0)
		}, 10, escrow.ErrZeroAmount},
		{"negative amount", func(p *escrow.OpenParams) { p.FungibleToBuy = big.NewInt(-1) }, 10, escrow.ErrZeroAmount},
		{"short duration", func(p *escrow.OpenParams) { p.Duration = 10 }, 10, escrow.ErrInvalidDuration},
		{"long duration", func(p *escrow.OpenParams) { p.Duration = 365 * 24 * 3600 }, 10, escrow.ErrInvalidDuration},
		{"insufficient balance", func(p *escrow.OpenParams) { p.FungibleToSell = big.NewInt(5_000) }, 10, escrow.ErrInsufficientBalance},
		{"underpaid", func(p *escrow.OpenParams) {}, 9, escrow.ErrAmountMismatch},
		{"overpaid", func(p *escrow.OpenParams) {}, 11, escrow.ErrAmountMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			p := standardParams()
			tc.mutate(&p)
			if err := f.bank.Approve(seller, f.vault, "USDC", big.NewInt(100)); err != nil {
				t.Fatalf("approve: %v", err)
			}
			err := f.exec(seller, tc.value, func(call escrow.Call) error {
				_, err := f.engine.OpenTrade(call, p)
				return err
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
			if count, _ := f.engine.TradeCount(seller); count != 0 {
				t.Fatalf("expected no trade recorded, found %d", count)
			}
			if got := f.custody(seller); got != 0 {
				t.Fatalf("expected untouched custody, got %d", got)
			}
			if got := f.balance(seller, "NHB"); got != 1_000 {
				t.Fatalf("expected untouched native balance, got %d", got)
			}
		})
	}
}

func TestOpenTradeFailedPullLeavesNoState(t *testing.T) {
	f := newFixture(t)
	p := standardParams()
	err := f.exec(seller, 10, func(call escrow.Call) error {
		_, err := f.engine.OpenTrade(call, p)
		return err
	})
	if !errors.Is(err, escrow.ErrTransferFailed) {
		t.Fatalf("expected transfer failure without approval, got %v", err)
	}
	if count, _ := f.engine.TradeCount(seller); count != 0 {
		t.Fatalf("expected no trade, found %d", count)
	}
	if got := f.custody(seller); got != 0 {
		t.Fatalf("expected no custody credit, got %d", got)
	}
	if len(f.emitter.events) != 0 {
		t.Fatalf("expected no events, got %v", f.emitter.types())
	}
}

func TestOpenTradeNativeOnlyAndFungibleOnly(t *testing.T) {
	f := newFixture(t)
	nativeOnly := standardParams()
	nativeOnly.FungibleToSell = big.NewInt(0)
	nativeOnly.NativeToBuy = big.NewInt(0)
	first := f.open(nativeOnly)

	fungibleOnly := standardParams()
	fungibleOnly.NativeToSell = big.NewInt(0)
	fungibleOnly.FungibleToBuy = big.NewInt(0)
	second := f.open(fungibleOnly)

	if first.Index != 0 || second.Index != 1 {
		t.Fatalf("unexpected indexes %d %d", first.Index, second.Index)
	}
	if got := f.custody(seller); got != 10 {
		t.Fatalf("custody: want 10 got %d", got)
	}
	trades, err := f.engine.Trades(seller)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 2 || trades[1].FungibleToSell.Int64() != 100 {
		t.Fatalf("unexpected trade list %+v", trades)
	}
}

func TestConfirmTradeSettlesBothLegs(t *testing.T) {
	f := newFixture(t)
	f.open(standardParams())
	f.approveBuyer(50)
	f.now += 1800

	if err := f.confirm(0, 5); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	checks := []struct {
		name  string
		addr  [20]byte
		asset string
		want  int64
	}{
		{"seller NHB", seller, "NHB", 990 + 5},
		{"seller DAI", seller, "DAI", 50},
		{"seller USDC", seller, "USDC", 900},
		{"buyer NHB", buyer, "NHB", 1_000 - 5 + 10},
		{"buyer USDC", buyer, "USDC", 100},
		{"buyer DAI", buyer, "DAI", 950},
		{"vault NHB", f.vault, "NHB", 0},
		{"vault USDC", f.vault, "USDC", 0},
	}
	for _, c := range checks {
		if got := f.balance(c.addr, c.asset); got != c.want {
			t.Fatalf("%s: want %d got %d", c.name, c.want, got)
		}
	}
	trade := f.trade(0)
	if trade.Status != escrow.TradeConfirmed || trade.ClosedAt != startTime+1800 {
		t.Fatalf("unexpected trade %+v", trade)
	}
	if got := f.custody(seller); got != 0 {
		t.Fatalf("custody: want 0 got %d", got)
	}
	pending, _ := f.engine.PendingTrades()
	if len(pending) != 0 {
		t.Fatalf("expected empty pending set, got %v", pending)
	}
	if f.emitter.count(escrow.EventTypeTradeConfirmed) != 1 {
		t.Fatalf("expected confirmed event, got %v", f.emitter.types())
	}

	if err := f.confirm(0, 5); !errors.Is(err, escrow.ErrNotPending) {
		t.Fatalf("second confirm: want ErrNotPending got %v", err)
	}
}

func TestConfirmTradeDeadlineBoundary(t *testing.T) {
	f := newFixture(t)
	f.open(standardParams())
	f.open(standardParams())
	f.approveBuyer(100)

	f.now = startTime + 3600 + 1
	if err := f.confirm(0, 5); !errors.Is(err, escrow.ErrExpired) {
		t.Fatalf("want ErrExpired got %v", err)
	}
	if f.trade(0).Status != escrow.TradePending {
		t.Fatalf("expired confirm must leave trade pending")
	}
	if got := f.balance(buyer, "NHB"); got != 1_000 {
		t.Fatalf("attached value must be returned on failure, buyer holds %d", got)
	}

	f.now = startTime + 3600
	if err := f.confirm(1, 5); err != nil {
		t.Fatalf("confirm at deadline: %v", err)
	}
}

func TestConfirmTradeRejections(t *testing.T) {
	t.Run("only buyer", func(t *testing.T) {
		f := newFixture(t)
		f.open(standardParams())
		err := f.exec(keeper, 0, func(call escrow.Call) error {
			return f.engine.ConfirmTrade(call, seller, 0)
		})
		if !errors.Is(err, escrow.ErrUnauthorized) {
			t.Fatalf("want ErrUnauthorized got %v", err)
		}
	})
	t.Run("missing allowance", func(t *testing.T) {
		f := newFixture(t)
		f.open(standardParams())
		f.approveBuyer(49)
		if err := f.confirm(0, 5); !errors.Is(err, escrow.ErrInsufficientAllowance) {
			t.Fatalf("want ErrInsufficientAllowance got %v", err)
		}
	})
	t.Run("missing balance", func(t *testing.T) {
		f := newFixture(t)
		p := standardParams()
		p.FungibleToBuy = big.NewInt(5_000)
		f.open(p)
		f.approveBuyer(5_000)
		if err := f.confirm(0, 5); !errors.Is(err, escrow.ErrInsufficientBalance) {
			t.Fatalf("want ErrInsufficientBalance got %v", err)
		}
	})
	t.Run("wrong value", func(t *testing.T) {
		f := newFixture(t)
		f.open(standardParams())
		f.approveBuyer(50)
		if err := f.confirm(0, 4); !errors.Is(err, escrow.ErrAmountMismatch) {
			t.Fatalf("want ErrAmountMismatch got %v", err)
		}
		if err := f.confirm(0, 6); !errors.Is(err, escrow.ErrAmountMismatch) {
			t.Fatalf("want ErrAmountMismatch got %v", err)
		}
	})
	t.Run("unknown trade", func(t *testing.T) {
		f := newFixture(t)
		if err := f.confirm(3, 5); !errors.Is(err, escrow.ErrTradeNotFound) {
			t.Fatalf("want ErrTradeNotFound got %v", err)
		}
	})
}

func TestConfirmTradeDetectsCustodyShortfall(t *testing.T) {
	f := newFixture(t)
	f.open(standardParams())
	f.approveBuyer(50)
	// Simulate value leaking out of the vault behind the engine's back.
	if err := f.mgr.SetBalance(f.vault[:], "NHB", big.NewInt(3)); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	err := f.confirm(0, 5)
	if !errors.Is(err, escrow.ErrCustodyShortfall) {
		t.Fatalf("want ErrCustodyShortfall got %v", err)
	}
	if escrow.KindOf(err) != escrow.KindAccounting {
		t.Fatalf("expected accounting kind, got %s", escrow.KindOf(err))
	}
	if f.trade(0).Status != escrow.TradePending {
		t.Fatalf("trade must remain pending")
	}
}

func TestConfirmTradeAttachedValueDoesNotCoverShortfall(t *testing.T) {
	f := newFixture(t)
	p := standardParams()
	p.NativeToBuy = big.NewInt(10)
	f.open(p)
	f.approveBuyer(50)
	if err := f.mgr.SetBalance(f.vault[:], "NHB", big.NewInt(0)); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	err := f.confirm(0, 10)
	if !errors.Is(err, escrow.ErrCustodyShortfall) {
		t.Fatalf("want ErrCustodyShortfall got %v", err)
	}
	if kind := escrow.KindOf(err); kind != escrow.KindAccounting {
		t.Fatalf("expected accounting kind, got %s", kind)
	}
	if got := f.balance(buyer, "NHB"); got != 1_000 {
		t.Fatalf("attached value must be returned on failure, buyer holds %d", got)
	}
}

func TestCancelTradeRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.open(standardParams())

	err := f.exec(seller, 0, func(call escrow.Call) error {
		return f.engine.CancelTrade(call, 0)
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.balance(seller, "NHB"); got != 1_000 {
		t.Fatalf("seller NHB: want 1000 got %d", got)
	}
	if got := f.balance(seller, "USDC"); got != 1_000 {
		t.Fatalf("seller USDC: want 1000 got %d", got)
	}
	if got := f.custody(seller); got != 0 {
		t.Fatalf("custody: want 0 got %d", got)
	}
	if f.trade(0).Status != escrow.TradeCanceled {
		t.Fatalf("expected canceled status")
	}
	if f.emitter.count(escrow.EventTypeTradeCanceled) != 1 {
		t.Fatalf("expected canceled event, got %v", f.emitter.types())
	}

	err = f.exec(seller, 0, func(call escrow.Call) error {
		return f.engine.CancelTrade(call, 0)
	})
	if !errors.Is(err, escrow.ErrNotPending) {
		t.Fatalf("second cancel: want ErrNotPending got %v", err)
	}
	f.approveBuyer(50)
	if err := f.confirm(0, 5); !errors.Is(err, escrow.ErrNotPending) {
		t.Fatalf("confirm after cancel: want ErrNotPending got %v", err)
	}
}

func TestCancelTradeRejections(t *testing.T) {
	f := newFixture(t)
	f.open(standardParams())

	err := f.exec(buyer, 0, func(call escrow.Call) error {
		return f.engine.CancelTrade(call, 0)
	})
	if !errors.Is(err, escrow.ErrTradeNotFound) {
		t.Fatalf("buyer cancel: want ErrTradeNotFound got %v", err)
	}
	err = f.exec(seller, 1, func(call escrow.Call) error {
		return f.engine.CancelTrade(call, 0)
	})
	if !errors.Is(err, escrow.ErrAmountMismatch) {
		t.Fatalf("cancel with value: want ErrAmountMismatch got %v", err)
	}
	f.now = startTime + 3601
	err = f.exec(seller, 0, func(call escrow.Call) error {
		return f.engine.CancelTrade(call, 0)
	})
	if !errors.Is(err, escrow.ErrExpired) {
		t.Fatalf("late cancel: want ErrExpired got %v", err)
	}
	if !escrow.Retryable(err) {
		t.Fatalf("expiry is a state conflict")
	}
}

func TestPausedModuleRejectsWrites(t *testing.T) {
	f := newFixture(t)
	f.open(standardParams())
	f.engine.SetPauses(pauseSet{"escrow": true})

	err := f.exec(seller, 0, func(call escrow.Call) error {
		return f.engine.CancelTrade(call, 0)
	})
	if !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("want ErrModulePaused got %v", err)
	}
	if _, err := f.engine.Trades(seller); err != nil {
		t.Fatalf("queries must keep working while paused: %v", err)
	}
}
