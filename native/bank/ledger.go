package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"nhbescrow/core/events"
)

type ledgerState interface {
	TokenExists(symbol string) bool
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
	Allowance(owner, spender []byte, symbol string) (*big.Int, error)
	SetAllowance(owner, spender []byte, symbol string, amount *big.Int) error
}

// TransferHook runs after a transfer has been applied. A non-nil error fails
// the transfer.
type TransferHook func(asset string, from, to [20]byte, amount *big.Int) error

// Ledger is the settlement ledger for native and fungible balances. It
// writes through the shared state manager so a reverted snapshot also reverts
// any transfer made since.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
	hook    TransferHook
}

func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures where transfer events go. nil discards them.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetTransferHook installs a callback invoked after each transfer, the way a
// token contract notifies its recipient.
func (l *Ledger) SetTransferHook(hook TransferHook) { l.hook = hook }

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return errors.New("bank: state not configured")
	}
	return nil
}

func (l *Ledger) asset(symbol string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" || !l.state.TokenExists(normalized) {
		return "", fmt.Errorf("%w: %q", ErrUnknownAsset, symbol)
	}
	return normalized, nil
}

// Balance returns how much of asset addr holds.
func (l *Ledger) Balance(addr [20]byte, asset string) (*big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	symbol, err := l.asset(asset)
	if err != nil {
		return nil, err
	}
	return l.state.Balance(addr[:], symbol)
}

// Allowance returns how much of asset spender may pull from owner.
func (l *Ledger) Allowance(owner, spender [20]byte, asset string) (*big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	symbol, err := l.asset(asset)
	if err != nil {
		return nil, err
	}
	return l.state.Allowance(owner[:], spender[:], symbol)
}

// Approve replaces the allowance owner grants spender.
func (l *Ledger) Approve(owner, spender [20]byte, asset string, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	symbol, err := l.asset(asset)
	if err != nil {
		return err
	}
	if amount != nil && amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.state.SetAllowance(owner[:], spender[:], symbol, amount)
}

// Mint credits amount of asset to addr out of thin air. It backs the dev
// faucet and test fixtures.
func (l *Ledger) Mint(addr [20]byte, asset string, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	symbol, err := l.asset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.state.Balance(addr[:], symbol)
	if err != nil {
		return err
	}
	return l.state.SetBalance(addr[:], symbol, new(big.Int).Add(balance, amount))
}
