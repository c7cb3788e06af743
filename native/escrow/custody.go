package escrow

import (
	"fmt"
	"math/big"
)

type custodyState interface {
	EscrowCustodyBalance(seller [20]byte) (*big.Int, error)
	EscrowCustodyPut(seller [20]byte, amount *big.Int) error
	EscrowCustodyTotal() (*big.Int, error)
	EscrowCustodyTotalPut(amount *big.Int) error
}

// CustodyLedger tracks, per seller, the native currency held in escrow on the
// seller's behalf. It is checked independently of the engine's raw holdings,
// which are shared across all trades.
type CustodyLedger struct {
	state custodyState
}

// NewCustodyLedger binds a ledger to the supplied state backend.
func NewCustodyLedger(state custodyState) *CustodyLedger {
	return &CustodyLedger{state: state}
}

// Balance returns the native amount currently held for seller.
func (l *CustodyLedger) Balance(seller [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.EscrowCustodyBalance(seller)
}

// Total returns the sum of all seller entries.
func (l *CustodyLedger) Total() (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.EscrowCustodyTotal()
}

// Credit adds amount to the seller's entry.
func (l *CustodyLedger) Credit(seller [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative custody credit")
	}
	if amt.Sign() == 0 {
		return nil
	}
	return l.apply(seller, amt)
}

// Debit removes amount from the seller's entry, failing rather than going
// negative.
func (l *CustodyLedger) Debit(seller [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative custody debit")
	}
	if amt.Sign() == 0 {
		return nil
	}
	return l.apply(seller, new(big.Int).Neg(amt))
}

func (l *CustodyLedger) apply(seller [20]byte, delta *big.Int) error {
	current, err := l.Balance(seller)
	if err != nil {
		return err
	}
	total, err := l.Total()
	if err != nil {
		return err
	}
	next := new(big.Int).Add(current, delta)
	nextTotal := new(big.Int).Add(total, delta)
	if next.Sign() < 0 || nextTotal.Sign() < 0 {
		return fmt.Errorf("%w: seller %x holds %s, debit %s", ErrCustodyUnderflow, seller, current, new(big.Int).Neg(delta))
	}
	if err := l.state.EscrowCustodyPut(seller, next); err != nil {
		return err
	}
	return l.state.EscrowCustodyTotalPut(nextTotal)
}
