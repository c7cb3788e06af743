package escrow

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	nativecommon "nhbescrow/native/common"
)

// EncodeUpkeepPayload serialises trade references for PerformRelease.
func EncodeUpkeepPayload(refs []TradeRef) ([]byte, error) {
	if refs == nil {
		refs = []TradeRef{}
	}
	return rlp.EncodeToBytes(refs)
}

// DecodeUpkeepPayload parses a payload produced by CheckReleasable. The
// payload is untrusted; an empty list is rejected.
func DecodeUpkeepPayload(payload []byte) ([]TradeRef, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	var refs []TradeRef
	if err := rlp.DecodeBytes(payload, &refs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no trades referenced", ErrInvalidPayload)
	}
	return refs, nil
}

// CheckReleasable scans pending trades in registry order and reports up to
// KeeperBatch of them whose deadline has passed. In withdraw mode discovered
// trades are also flagged release-ready; flagging is idempotent.
func (e *Engine) CheckReleasable() (bool, []byte, error) {
	if err := e.ready(); err != nil {
		return false, nil, err
	}
	pending, err := e.state.EscrowPendingList()
	if err != nil {
		return false, nil, err
	}
	now := e.now()
	due := make([]TradeRef, 0, len(pending))
	for _, ref := range pending {
		if len(due) >= e.limits.KeeperBatch {
			break
		}
		trade, err := e.loadTrade(ref.Seller, ref.Index)
		if err != nil {
			return false, nil, err
		}
		if !releasable(trade, now) {
			continue
		}
		due = append(due, ref)
		if e.mode == ReleaseWithdraw && !trade.ReleaseReady && now > trade.Deadline {
			trade.ReleaseReady = true
			if err := e.state.EscrowTradePut(trade); err != nil {
				return false, nil, err
			}
			e.emit(NewTradeReleaseReadyEvent(trade))
		}
	}
	if len(due) == 0 {
		return false, nil, nil
	}
	payload, err := EncodeUpkeepPayload(due)
	if err != nil {
		return false, nil, err
	}
	return true, payload, nil
}

func releasable(trade *Trade, now int64) bool {
	return trade != nil && trade.Status == TradePending && now >= trade.Deadline
}

// PerformRelease re-validates every referenced trade and expires the ones that
// are still pending past their deadline. References that no longer qualify
// are skipped; if none qualify the call fails with ErrUpkeepNotNeeded. In auto
// mode collateral goes back to the seller immediately, otherwise it stays in
// custody until Withdraw.
func (e *Engine) PerformRelease(call Call, payload []byte) ([]TradeRef, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := requireNoValue(call); err != nil {
		return nil, err
	}
	refs, err := DecodeUpkeepPayload(payload)
	if err != nil {
		return nil, err
	}
	if len(refs) > e.limits.KeeperBatch {
		return nil, fmt.Errorf("%w: %d trades exceeds batch of %d", ErrInvalidPayload, len(refs), e.limits.KeeperBatch)
	}
	now := e.now()
	snap := e.state.Snapshot()
	released := make([]TradeRef, 0, len(refs))
	expired := make([]*Trade, 0, len(refs))
	var skipped error
	for _, ref := range refs {
		trade, err := e.loadTrade(ref.Seller, ref.Index)
		if err == nil {
			err = e.checkRelease(trade, now)
		}
		if err != nil {
			if KindOf(err) == KindAccounting {
				e.state.RevertToSnapshot(snap)
				return nil, err
			}
			if skipped == nil {
				skipped = err
			}
			continue
		}
		if err := e.expire(trade, now); err != nil {
			e.state.RevertToSnapshot(snap)
			return nil, err
		}
		released = append(released, ref)
		expired = append(expired, trade)
	}
	if len(released) == 0 {
		if skipped == nil {
			return nil, ErrUpkeepNotNeeded
		}
		return nil, fmt.Errorf("%w: %w", ErrUpkeepNotNeeded, skipped)
	}
	for _, trade := range expired {
		e.emit(NewTradeExpiredEvent(trade))
	}
	return released, nil
}

func (e *Engine) checkRelease(trade *Trade, now int64) error {
	if trade.Status != TradePending {
		return fmt.Errorf("%w: status %s", ErrNotPending, trade.Status)
	}
	if now < trade.Deadline {
		return ErrNotDue
	}
	return e.ensureCustody(trade, nil)
}

func (e *Engine) expire(trade *Trade, now int64) error {
	trade.ReleaseReady = true
	if e.mode == ReleaseAuto {
		return e.refund(trade, TradeExpired, now, true)
	}
	trade.Status = TradeExpired
	trade.ClosedAt = now
	if err := e.state.EscrowTradePut(trade); err != nil {
		return err
	}
	return e.state.EscrowPendingRemove(trade.Ref())
}

// Withdraw returns the collateral of a release-ready trade to its seller. It
// is only available in withdraw mode and succeeds at most once per trade.
func (e *Engine) Withdraw(call Call, index uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := requireNoValue(call); err != nil {
		return err
	}
	if e.mode != ReleaseWithdraw {
		return fmt.Errorf("%w: release mode is %s", ErrCannotWithdraw, e.mode)
	}
	trade, err := e.loadTrade(call.Caller, index)
	if err != nil {
		return err
	}
	now := e.now()
	dropPending := false
	switch {
	case trade.Status == TradeExpired && trade.ReleaseReady:
	case trade.Status == TradePending && trade.ReleaseReady && now >= trade.Deadline:
		dropPending = true
	default:
		return fmt.Errorf("%w: status %s, release ready %t", ErrCannotWithdraw, trade.Status, trade.ReleaseReady)
	}
	if err := e.ensureCustody(trade, nil); err != nil {
		return err
	}
	snap := e.state.Snapshot()
	if err := e.refund(trade, TradeWithdrawn, now, dropPending); err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	e.emit(NewTradeWithdrawnEvent(trade))
	return nil
}

// IsReleaseError reports whether err came from a keeper call that found
// nothing to do.
func IsReleaseError(err error) bool {
	return errors.Is(err, ErrUpkeepNotNeeded) || errors.Is(err, ErrInvalidPayload)
}
