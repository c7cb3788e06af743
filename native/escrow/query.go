package escrow

import "math/big"

// Trade returns a copy of the trade stored at (seller, index).
func (e *Engine) Trade(seller [20]byte, index uint64) (*Trade, error) {
	return e.loadTrade(seller, index)
}

// TradeCount returns how many trades seller has opened.
func (e *Engine) TradeCount(seller [20]byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.EscrowTradeCount(seller)
}

// Trades lists every trade opened by seller in registry order, terminal ones
// included.
func (e *Engine) Trades(seller [20]byte) ([]*Trade, error) {
	count, err := e.TradeCount(seller)
	if err != nil {
		return nil, err
	}
	trades := make([]*Trade, 0, count)
	for i := uint64(0); i < count; i++ {
		trade, err := e.loadTrade(seller, i)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// PendingTrades returns the working set scanned by CheckReleasable.
func (e *Engine) PendingTrades() ([]TradeRef, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.EscrowPendingList()
}

func (e *Engine) CustodyBalance(seller [20]byte) (*big.Int, error) {
	if e == nil || e.custody == nil {
		return nil, errNilState
	}
	return e.custody.Balance(seller)
}

func (e *Engine) CustodyTotal() (*big.Int, error) {
	if e == nil || e.custody == nil {
		return nil, errNilState
	}
	return e.custody.Total()
}
