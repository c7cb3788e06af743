package escrow_test

import (
	"errors"
	"math/big"
	"testing"

	"nhbescrow/native/escrow"
)

func (f *fixture) release(payload []byte) ([]escrow.TradeRef, error) {
	var released []escrow.TradeRef
	err := f.exec(keeper, 0, func(call escrow.Call) error {
		var err error
		released, err = f.engine.PerformRelease(call, payload)
		return err
	})
	return released, err
}

func (f *fixture) check() (bool, []byte) {
	f.t.Helper()
	ok, payload, err := f.engine.CheckReleasable()
	if err != nil {
		f.t.Fatalf("check releasable: %v", err)
	}
	return ok, payload
}

func TestAutoReleaseReturnsCollateralOnce(t *testing.T) {
	f := newFixture(t)
	f.open(standardParams())

	if ok, _ := f.check(); ok {
		t.Fatalf("trade must not be releasable before its deadline")
	}
	f.now = startTime + 3600
	ok, payload := f.check()
	if !ok {
		t.Fatalf("expected releasable trade at deadline")
	}
	refs, err := escrow.DecodeUpkeepPayload(payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(refs) != 1 || refs[0] != (escrow.TradeRef{Seller: seller, Index: 0}) {
		t.Fatalf("unexpected payload refs %v", refs)
	}
	if f.trade(0).ReleaseReady {
		t.Fatalf("auto mode must not flag on scan")
	}

	released, err := f.release(payload)
	if err != nil {
		t.Fatalf("perform release: %v", err)
	}
	if len(released) != 1 {
		t.Fatalf("expected one release, got %v", released)
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
	trade := f.trade(0)
	if trade.Status != escrow.TradeExpired || !trade.ReleaseReady {
		t.Fatalf("unexpected trade after release %+v", trade)
	}
	if f.emitter.count(escrow.EventTypeTradeExpired) != 1 {
		t.Fatalf("expected expired event, got %v", f.emitter.types())
	}

	_, err = f.release(payload)
	if !errors.Is(err, escrow.ErrUpkeepNotNeeded) || !errors.Is(err, escrow.ErrNotPending) {
		t.Fatalf("second release: want ErrUpkeepNotNeeded wrapping ErrNotPending, got %v", err)
	}
	if got := f.balance(seller, "NHB"); got != 1_000 {
		t.Fatalf("second release must not pay again, seller holds %d", got)
	}
	if ok, _ := f.check(); ok {
		t.Fatalf("released trade must leave the working set")
	}
}

func TestPerformReleaseRevalidatesPayload(t *testing.T) {
	f := newFixture(t)
	f.open(standardParams())
	payload, err := escrow.EncodeUpkeepPayload([]escrow.TradeRef{{Seller: seller, Index: 0}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, err = f.release(payload)
	if !errors.Is(err, escrow.ErrUpkeepNotNeeded) || !errors.Is(err, escrow.ErrNotDue) {
		t.Fatalf("early release: want ErrUpkeepNotNeeded wrapping ErrNotDue, got %v", err)
	}
	if !escrow.Retryable(err) {
		t.Fatalf("not-due release should be retryable")
	}
	if _, err := f.release([]byte{0xde, 0xad}); !errors.Is(err, escrow.ErrInvalidPayload) {
		t.Fatalf("garbage payload: want ErrInvalidPayload got %v", err)
	}
	empty, _ := escrow.EncodeUpkeepPayload(nil)
	if _, err := f.release(empty); !errors.Is(err, escrow.ErrInvalidPayload) {
		t.Fatalf("empty payload: want ErrInvalidPayload got %v", err)
	}
	bogus, _ := escrow.EncodeUpkeepPayload([]escrow.TradeRef{{Seller: buyer, Index: 9}})
	f.now = startTime + 7200
	if _, err := f.release(bogus); !errors.Is(err, escrow.ErrTradeNotFound) {
		t.Fatalf("unknown ref: want ErrTradeNotFound got %v", err)
	}

	err = f.exec(keeper, 1, func(call escrow.Call) error {
		_, err := f.engine.PerformRelease(call, payload)
		return err
	})
	if !errors.Is(err, escrow.ErrAmountMismatch) {
		t.Fatalf("release with value: want ErrAmountMismatch got %v", err)
	}
	if f.trade(0).Status != escrow.TradePending {
		t.Fatalf("rejected releases must not touch the trade")
	}
}

func TestPerformReleaseSkipsSettledRefs(t *testing.T) {
	f := newFixture(t)
	f.open(standardParams())
	f.open(standardParams())
	f.approveBuyer(50)
	if err := f.confirm(0, 5); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	f.now = startTime + 4000
	payload, _ := escrow.EncodeUpkeepPayload([]escrow.TradeRef{
		{Seller: seller, Index: 0},
		{Seller: seller, Index: 1},
	})
	released, err := f.release(payload)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(released) != 1 || released[0].Index != 1 {
		t.Fatalf("expected only trade 1 released, got %v", released)
	}
	if f.trade(0).Status != escrow.TradeConfirmed {
		t.Fatalf("confirmed trade must stay confirmed")
	}
}

func TestCheckReleasableBatchesInRegistryOrder(t *testing.T) {
	f := newFixture(t)
	limits := escrow.DefaultLimits()
	limits.KeeperBatch = 2
	f.engine.SetLimits(limits)
	p := standardParams()
	p.FungibleToSell = big.NewInt(1)
	p.NativeToSell = big.NewInt(1)
	for i := 0; i < 3; i++ {
		f.open(p)
	}
	f.now = startTime + 3600
	_, payload := f.check()
	refs, err := escrow.DecodeUpkeepPayload(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(refs) != 2 || refs[0].Index != 0 || refs[1].Index != 1 {
		t.Fatalf("unexpected batch %v", refs)
	}
	if _, err := f.release(payload); err != nil {
		t.Fatalf("release: %v", err)
	}
	_, payload = f.check()
	refs, _ = escrow.DecodeUpkeepPayload(payload)
	if len(refs) != 1 || refs[0].Index != 2 {
		t.Fatalf("expected remaining trade 2, got %v", refs)
	}
	oversized, _ := escrow.EncodeUpkeepPayload(make([]escrow.TradeRef, 3))
	if _, err := f.release(oversized); !errors.Is(err, escrow.ErrInvalidPayload) {
		t.Fatalf("oversized payload: want ErrInvalidPayload got %v", err)
	}
}

func TestReleaseEligibilityIsMonotonic(t *testing.T) {
	f := newFixture(t)
	f.open(standardParams())
	deadline := startTime + 3600
	for _, offset := range []int64{-3600, -60, -1} {
		f.now = deadline + offset
		if ok, _ := f.check(); ok {
			t.Fatalf("releasable %ds before deadline", -offset)
		}
	}
	for _, offset := range []int64{0, 1, 86_400} {
		f.now = deadline + offset
		if ok, _ := f.check(); !ok {
			t.Fatalf("not releasable %ds after deadline", offset)
		}
	}
}

func TestWithdrawModeFlagsThenWithdraws(t *testing.T) {
	f := newFixture(t)
	f.engine.SetReleaseMode(escrow.ReleaseWithdraw)
	f.open(standardParams())
	f.now = startTime + 3601

	_, payload := f.check()
	f.check()
	if !f.trade(0).ReleaseReady {
		t.Fatalf("scan should flag the trade in withdraw mode")
	}
	if n := f.emitter.count(escrow.EventTypeTradeReleaseReady); n != 1 {
		t.Fatalf("flagging must be idempotent, got %d release_ready events", n)
	}

	if _, err := f.release(payload); err != nil {
		t.Fatalf("release: %v", err)
	}
	if f.trade(0).Status != escrow.TradeExpired {
		t.Fatalf("expected expired status")
	}
	if got := f.custody(seller); got != 10 {
		t.Fatalf("collateral stays in custody until withdrawal, custody=%d", got)
	}
	if got := f.balance(f.vault, "USDC"); got != 100 {
		t.Fatalf("vault USDC: want 100 got %d", got)
	}

	err := f.exec(buyer, 0, func(call escrow.Call) error { return f.engine.Withdraw(call, 0) })
	if !errors.Is(err, escrow.ErrTradeNotFound) {
		t.Fatalf("buyer withdraw: want ErrTradeNotFound got %v", err)
	}
	if err := f.exec(seller, 0, func(call escrow.Call) error { return f.engine.Withdraw(call, 0) }); err != nil {
		t.Fatalf("withdraw: %v", err)
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
	if f.trade(0).Status != escrow.TradeWithdrawn {
		t.Fatalf("expected withdrawn status")
	}
	err = f.exec(seller, 0, func(call escrow.Call) error { return f.engine.Withdraw(call, 0) })
	if !errors.Is(err, escrow.ErrCannotWithdraw) {
		t.Fatalf("second withdraw: want ErrCannotWithdraw got %v", err)
	}
}

func TestWithdrawModeDoesNotFlagAtDeadline(t *testing.T) {
	f := newFixture(t)
	f.engine.SetReleaseMode(escrow.ReleaseWithdraw)
	f.open(standardParams())
	f.approveBuyer(50)
	f.now = startTime + 3600

	if ok, _ := f.check(); !ok {
		t.Fatalf("trade should be releasable at its deadline")
	}
	if f.trade(0).ReleaseReady {
		t.Fatalf("trade must not be flagged before the deadline has passed")
	}
	if n := f.emitter.count(escrow.EventTypeTradeReleaseReady); n != 0 {
		t.Fatalf("unexpected release_ready events: %d", n)
	}
	if err := f.confirm(0, 5); err != nil {
		t.Fatalf("confirm at deadline: %v", err)
	}
	trade := f.trade(0)
	if trade.Status != escrow.TradeConfirmed || trade.ReleaseReady {
		t.Fatalf("confirmed trade carries status %s release ready %t", trade.Status, trade.ReleaseReady)
	}
}

func TestWithdrawFlaggedPendingTrade(t *testing.T) {
	f := newFixture(t)
	f.engine.SetReleaseMode(escrow.ReleaseWithdraw)
	f.open(standardParams())

	err := f.exec(seller, 0, func(call escrow.Call) error { return f.engine.Withdraw(call, 0) })
	if !errors.Is(err, escrow.ErrCannotWithdraw) {
		t.Fatalf("unflagged withdraw: want ErrCannotWithdraw got %v", err)
	}
	f.now = startTime + 3601
	f.check()
	if err := f.exec(seller, 0, func(call escrow.Call) error { return f.engine.Withdraw(call, 0) }); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	pending, _ := f.engine.PendingTrades()
	if len(pending) != 0 {
		t.Fatalf("withdrawn trade must leave the working set, got %v", pending)
	}
	if ok, _ := f.check(); ok {
		t.Fatalf("nothing should remain releasable")
	}
}

func TestWithdrawUnavailableInAutoMode(t *testing.T) {
	f := newFixture(t)
	f.open(standardParams())
	f.now = startTime + 3600
	_, payload := f.check()
	if _, err := f.release(payload); err != nil {
		t.Fatalf("release: %v", err)
	}
	err := f.exec(seller, 0, func(call escrow.Call) error { return f.engine.Withdraw(call, 0) })
	if !errors.Is(err, escrow.ErrCannotWithdraw) {
		t.Fatalf("want ErrCannotWithdraw got %v", err)
	}
}
