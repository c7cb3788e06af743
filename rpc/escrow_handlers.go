package rpc

import (
	"math/big"
	"net/http"
	"strings"

	"nhbescrow/crypto"
	"nhbescrow/native/escrow"
	"nhbescrow/rpc/middleware"
)

type escrowOpenParams struct {
	Caller          string `json:"caller,omitempty"`
	Value           string `json:"value,omitempty"`
	Buyer           string `json:"buyer"`
	AssetToSell     string `json:"assetToSell"`
	AssetToBuy      string `json:"assetToBuy"`
	NativeToSell    string `json:"nativeToSell,omitempty"`
	FungibleToSell  string `json:"fungibleToSell,omitempty"`
	NativeToBuy     string `json:"nativeToBuy,omitempty"`
	FungibleToBuy   string `json:"fungibleToBuy,omitempty"`
	DurationSeconds int64  `json:"durationSeconds"`
}

type escrowTradeParams struct {
	Caller string `json:"caller,omitempty"`
	Value  string `json:"value,omitempty"`
	Seller string `json:"seller,omitempty"`
	Index  uint64 `json:"index"`
}

type escrowReleaseParams struct {
	Caller  string `json:"caller,omitempty"`
	Value   string `json:"value,omitempty"`
	Payload string `json:"payload"`
}

type escrowSellerParams struct {
	Seller string `json:"seller"`
}

type checkReleasableResult struct {
	UpkeepNeeded bool           `json:"upkeepNeeded"`
	Payload      string         `json:"payload,omitempty"`
	Trades       []tradeRefJSON `json:"trades,omitempty"`
}

type custodyResult struct {
	Seller  string `json:"seller,omitempty"`
	Balance string `json:"balance,omitempty"`
	Total   string `json:"total"`
}

// resolveCaller returns the acting address. With auth enabled it comes from
// the bearer token and any caller parameter must agree; otherwise the caller
// parameter is trusted.
func (s *Server) resolveCaller(r *http.Request, declared string) ([20]byte, *RPCError) {
	declared = strings.TrimSpace(declared)
	if s.auth.Enabled() {
		caller, err := middleware.CallerFrom(r.Context())
		if err != nil {
			return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "bearer token required"}
		}
		if declared != "" {
			addr, err := parseBech32Address(declared)
			if err != nil || addr != caller {
				return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "caller does not match token subject"}
			}
		}
		return caller, nil
	}
	if declared == "" {
		return [20]byte{}, &RPCError{Code: codeInvalidParams, Message: "caller required"}
	}
	addr, err := parseBech32Address(declared)
	if err != nil {
		return [20]byte{}, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	return addr, nil
}

func writeCallerError(w http.ResponseWriter, id interface{}, rpcErr *RPCError) {
	status := http.StatusBadRequest
	if rpcErr.Code == codeUnauthorized {
		status = http.StatusUnauthorized
	}
	writeError(w, status, id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
}

func invalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeEscrowInvalidParams, "invalid_params", err.Error())
}

func (s *Server) handleOpenTrade(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowOpenParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	caller, rpcErr := s.resolveCaller(r, params.Caller)
	if rpcErr != nil {
		writeCallerError(w, req.ID, rpcErr)
		return
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	amounts := make([]*big.Int, 0, 5)
	for _, raw := range []string{params.Value, params.NativeToSell, params.FungibleToSell, params.NativeToBuy, params.FungibleToBuy} {
		amount, err := parseAmount(raw)
		if err != nil {
			invalidParams(w, req.ID, err)
			return
		}
		amounts = append(amounts, amount)
	}
	trade, err := s.node.OpenTrade(r.Context(), caller, amounts[0], escrow.OpenParams{
		Buyer:          buyer,
		AssetToSell:    params.AssetToSell,
		AssetToBuy:     params.AssetToBuy,
		NativeToSell:   amounts[1],
		FungibleToSell: amounts[2],
		NativeToBuy:    amounts[3],
		FungibleToBuy:  amounts[4],
		Duration:       params.DurationSeconds,
	})
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatTradeJSON(trade))
}

func (s *Server) handleConfirmTrade(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowTradeParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	caller, rpcErr := s.resolveCaller(r, params.Caller)
	if rpcErr != nil {
		writeCallerError(w, req.ID, rpcErr)
		return
	}
	seller, err := parseBech32Address(params.Seller)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	if err := s.node.ConfirmTrade(r.Context(), caller, value, seller, params.Index); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeTrade(w, req.ID, seller, params.Index)
}

func (s *Server) handleCancelTrade(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowTradeParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	caller, rpcErr := s.resolveCaller(r, params.Caller)
	if rpcErr != nil {
		writeCallerError(w, req.ID, rpcErr)
		return
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	if err := s.node.CancelTrade(r.Context(), caller, value, params.Index); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeTrade(w, req.ID, caller, params.Index)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowTradeParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	caller, rpcErr := s.resolveCaller(r, params.Caller)
	if rpcErr != nil {
		writeCallerError(w, req.ID, rpcErr)
		return
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	if err := s.node.Withdraw(r.Context(), caller, value, params.Index); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeTrade(w, req.ID, caller, params.Index)
}

func (s *Server) handleCheckReleasable(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	ok, payload, err := s.node.CheckReleasable(r.Context())
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	result := checkReleasableResult{UpkeepNeeded: ok}
	if ok {
		refs, err := escrow.DecodeUpkeepPayload(payload)
		if err != nil {
			writeEscrowError(w, req.ID, err)
			return
		}
		result.Payload = encodeHex(payload)
		result.Trades = formatRefs(refs)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handlePerformRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowReleaseParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	caller, rpcErr := s.resolveCaller(r, params.Caller)
	if rpcErr != nil {
		writeCallerError(w, req.ID, rpcErr)
		return
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	payload, err := decodeHex(params.Payload)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	released, err := s.node.PerformRelease(r.Context(), caller, value, payload)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"released": formatRefs(released)})
}

func (s *Server) writeTrade(w http.ResponseWriter, id interface{}, seller [20]byte, index uint64) {
	trade, err := s.node.Trade(seller, index)
	if err != nil {
		writeEscrowError(w, id, err)
		return
	}
	writeResult(w, id, formatTradeJSON(trade))
}

func (s *Server) handleGetTrade(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowTradeParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	seller, err := parseBech32Address(params.Seller)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	s.writeTrade(w, req.ID, seller, params.Index)
}

func (s *Server) handleListTrades(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowSellerParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	seller, err := parseBech32Address(params.Seller)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	trades, err := s.node.Trades(seller)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	out := make([]tradeJSON, 0, len(trades))
	for _, trade := range trades {
		out = append(out, formatTradeJSON(trade))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleTradeCount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowSellerParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	seller, err := parseBech32Address(params.Seller)
	if err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	count, err := s.node.TradeCount(seller)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"count": count})
}

func (s *Server) handlePendingTrades(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	refs, err := s.node.PendingTrades()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRefs(refs))
}

func (s *Server) handleCustody(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowSellerParams
	if err := decodeParams(req, &params); err != nil {
		invalidParams(w, req.ID, err)
		return
	}
	total, err := s.node.CustodyTotal()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	result := custodyResult{Total: total.String()}
	if strings.TrimSpace(params.Seller) != "" {
		seller, err := parseBech32Address(params.Seller)
		if err != nil {
			invalidParams(w, req.ID, err)
			return
		}
		balance, err := s.node.CustodyBalance(seller)
		if err != nil {
			writeEscrowError(w, req.ID, err)
			return
		}
		result.Seller = crypto.FormatAddress(seller)
		result.Balance = balance.String()
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleAudit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	report, err := s.node.Audit()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"custodyTotal": report.CustodyTotal.String(),
		"vaultNative":  report.VaultNative.String(),
		"pending":      report.Pending,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, map[string]string{
		"vault":       crypto.FormatAddress(s.node.Vault()),
		"releaseMode": string(s.node.ReleaseMode()),
		"nativeAsset": escrow.NativeAsset,
	})
}
