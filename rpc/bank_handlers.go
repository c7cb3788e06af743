package rpc

import (
	"net/http"
)

type bankBalanceParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

type bankAllowanceParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Asset   string `json:"asset"`
}

type bankMoveParams struct {
	Caller  string `json:"caller,omitempty"`
	To      string `json:"to,omitempty"`
	Spender string `json:"spender,omitempty"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

func (s *Server) handleBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params bankBalanceParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	balance, err := s.node.Balance(addr, params.Asset)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
}

func (s *Server) handleAllowance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params bankAllowanceParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	spender, err := parseBech32Address(params.Spender)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	allowance, err := s.node.Allowance(owner, spender, params.Asset)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"allowance": allowance.String()})
}

// handleApprove grants spender an allowance. An empty spender approves the
// escrow vault.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bankMoveParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	caller, rpcErr := s.resolveCaller(r, params.Caller)
	if rpcErr != nil {
		writeCallerError(w, req.ID, rpcErr)
		return
	}
	spender := s.node.Vault()
	if params.Spender != "" {
		addr, err := parseBech32Address(params.Spender)
		if err != nil {
			invalidParams(w, req.ID, err)
			return
		}
		spender = addr
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	if err := s.node.Approve(r.Context(), caller, spender, params.Asset, amount); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bankMoveParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	caller, rpcErr := s.resolveCaller(r, params.Caller)
	if rpcErr != nil {
		writeCallerError(w, req.ID, rpcErr)
		return
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	if err := s.node.Transfer(r.Context(), caller, to, params.Asset, amount); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

// handleMint credits faucet funds to the named recipient.
func (s *Server) handleMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params bankMoveParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	if err := s.node.Mint(r.Context(), to, params.Asset, amount); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleTokens(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	tokens, err := s.node.Tokens()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, tokens)
}
