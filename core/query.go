package core

import (
	"fmt"
	"math/big"

	"nhbescrow/native/escrow"
)

func (n *Node) Trade(seller [20]byte, index uint64) (*escrow.Trade, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Trade(seller, index)
}

func (n *Node) TradeCount(seller [20]byte) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.TradeCount(seller)
}

// Trades lists a seller's trades in creation order.
func (n *Node) Trades(seller [20]byte) ([]*escrow.Trade, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Trades(seller)
}

// PendingTrades returns the keeper working set.
func (n *Node) PendingTrades() ([]escrow.TradeRef, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.PendingTrades()
}

func (n *Node) CustodyBalance(seller [20]byte) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.CustodyBalance(seller)
}

func (n *Node) CustodyTotal() (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.CustodyTotal()
}

func (n *Node) Balance(addr [20]byte, asset string) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.bank.Balance(addr, asset)
}

func (n *Node) Allowance(owner, spender [20]byte, asset string) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.bank.Allowance(owner, spender, asset)
}

// Tokens lists registered asset symbols.
func (n *Node) Tokens() ([]string, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.TokenList()
}

// AuditReport compares the custody ledger against what the vault holds.
type AuditReport struct {
	CustodyTotal *big.Int
	VaultNative  *big.Int
	Pending      int
}

// Audit checks that the custody ledger total never exceeds the vault's native
// balance. It returns the report together with ErrAuditFailed when it does.
func (n *Node) Audit() (*AuditReport, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	total, err := n.engine.CustodyTotal()
	if err != nil {
		return nil, err
	}
	held, err := n.bank.Balance(n.vault, escrow.NativeAsset)
	if err != nil {
		return nil, err
	}
	pending, err := n.engine.PendingTrades()
	if err != nil {
		return nil, err
	}
	report := &AuditReport{CustodyTotal: total, VaultNative: held, Pending: len(pending)}
	if total.Cmp(held) > 0 {
		return report, fmt.Errorf("%w: custody %s exceeds vault %s", ErrAuditFailed, total, held)
	}
	return report, nil
}
