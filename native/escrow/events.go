package escrow

import (
	"encoding/hex"
	"strconv"

	"nhbescrow/core/types"
)

const (
	EventTypeTradeOpened       = "escrow.trade.opened"
	EventTypeTradeConfirmed    = "escrow.trade.confirmed"
	EventTypeTradeCanceled     = "escrow.trade.canceled"
	EventTypeTradeReleaseReady = "escrow.trade.release_ready"
	EventTypeTradeExpired      = "escrow.trade.expired"
	EventTypeTradeWithdrawn    = "escrow.trade.withdrawn"
)

// NewTradeOpenedEvent carries the full terms of a newly opened trade.
func NewTradeOpenedEvent(t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeOpened, t)
}

// NewTradeConfirmedEvent is emitted once both legs of a trade have settled.
func NewTradeConfirmedEvent(t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeConfirmed, t)
}

// NewTradeCanceledEvent is emitted when the seller closes a trade early.
func NewTradeCanceledEvent(t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeCanceled, t)
}

// NewTradeReleaseReadyEvent is emitted the first time a keeper scan flags a
// trade.
func NewTradeReleaseReadyEvent(t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeReleaseReady, t)
}

func NewTradeExpiredEvent(t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeExpired, t)
}

func NewTradeWithdrawnEvent(t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeWithdrawn, t)
}

func newTradeEvent(eventType string, t *Trade) *types.Event {
	attrs := make(map[string]string)
	if t == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeTrade(t)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["seller"] = hex.EncodeToString(sanitized.Seller[:])
	attrs["index"] = strconv.FormatUint(sanitized.Index, 10)
	attrs["buyer"] = hex.EncodeToString(sanitized.Buyer[:])
	attrs["assetToSell"] = sanitized.AssetToSell
	attrs["assetToBuy"] = sanitized.AssetToBuy
	attrs["nativeToSell"] = sanitized.NativeToSell.String()
	attrs["fungibleToSell"] = sanitized.FungibleToSell.String()
	attrs["nativeToBuy"] = sanitized.NativeToBuy.String()
	attrs["fungibleToBuy"] = sanitized.FungibleToBuy.String()
	attrs["deadline"] = strconv.FormatInt(sanitized.Deadline, 10)
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	attrs["status"] = sanitized.Status.String()
	attrs["releaseReady"] = strconv.FormatBool(sanitized.ReleaseReady)
	if sanitized.ClosedAt != 0 {
		attrs["closedAt"] = strconv.FormatInt(sanitized.ClosedAt, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
