package bank

import (
	"errors"
	"fmt"
	"math/big"

	"nhbescrow/core/types"
	"nhbescrow/crypto"
)

var (
	ErrUnknownAsset          = errors.New("bank: unknown asset")
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
	ErrInsufficientFunds     = errors.New("bank: insufficient funds")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
)

// TypeTransfer is emitted for every balance movement, native or fungible.
const TypeTransfer = "bank.transfer"

// TransferEvent describes a completed balance movement.
type TransferEvent struct {
	Asset  string
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (TransferEvent) EventType() string { return TypeTransfer }

func (e TransferEvent) Event() *types.Event {
	attrs := map[string]string{
		"asset":  e.Asset,
		"from":   crypto.FormatAddress(e.From),
		"to":     crypto.FormatAddress(e.To),
		"amount": "0",
	}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

// Transfer moves amount of asset held by from to to.
func (l *Ledger) Transfer(asset string, from, to [20]byte, amount *big.Int) error {
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
	if err := l.move(symbol, from, to, amount); err != nil {
		return err
	}
	l.emitter.Emit(TransferEvent{Asset: symbol, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return l.afterTransfer(symbol, from, to, amount)
}

// TransferFrom moves amount from `from` to `to` against the allowance from has
// granted spender, decrementing the allowance.
func (l *Ledger) TransferFrom(asset string, spender, from, to [20]byte, amount *big.Int) error {
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
	allowance, err := l.state.Allowance(from[:], spender[:], symbol)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s approved, %s requested", ErrInsufficientAllowance, allowance, amount)
	}
	if err := l.state.SetAllowance(from[:], spender[:], symbol, new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	if err := l.move(symbol, from, to, amount); err != nil {
		return err
	}
	l.emitter.Emit(TransferEvent{Asset: symbol, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return l.afterTransfer(symbol, from, to, amount)
}

func (l *Ledger) move(symbol string, from, to [20]byte, amount *big.Int) error {
	fromBalance, err := l.state.Balance(from[:], symbol)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, %s requested", ErrInsufficientFunds, crypto.FormatAddress(from), fromBalance, symbol, amount)
	}
	if from == to {
		return nil
	}
	toBalance, err := l.state.Balance(to[:], symbol)
	if err != nil {
		return err
	}
	if err := l.state.SetBalance(from[:], symbol, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.SetBalance(to[:], symbol, new(big.Int).Add(toBalance, amount))
}

func (l *Ledger) afterTransfer(symbol string, from, to [20]byte, amount *big.Int) error {
	if l.hook == nil {
		return nil
	}
	return l.hook(symbol, from, to, new(big.Int).Set(amount))
}
