package rpc

import (
	"errors"
	"net/http"

	"nhbescrow/core"
	"nhbescrow/native/bank"
	"nhbescrow/native/escrow"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
	codeEscrowTransfer      = -32026
	codeEscrowAccounting    = -32027
)

type errorData struct {
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail"`
}

// writeEscrowError maps engine, bank and node failures onto JSON-RPC codes and
// HTTP statuses.
func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	kind := classify(err)
	status, code, message := http.StatusInternalServerError, codeEscrowInternal, "internal_error"
	switch {
	case errors.Is(err, escrow.ErrTradeNotFound):
		status, code, message = http.StatusNotFound, codeEscrowNotFound, "not_found"
	case kind == escrow.KindValidation:
		status, code, message = http.StatusBadRequest, codeEscrowInvalidParams, "invalid_params"
	case kind == escrow.KindAuthorization:
		status, code, message = http.StatusForbidden, codeEscrowForbidden, "forbidden"
	case kind == escrow.KindStateConflict:
		status, code, message = http.StatusConflict, codeEscrowConflict, "conflict"
	case kind == escrow.KindTransfer:
		status, code, message = http.StatusUnprocessableEntity, codeEscrowTransfer, "transfer_failed"
	case kind == escrow.KindAccounting:
		code, message = codeEscrowAccounting, "accounting_error"
	}
	writeError(w, status, id, code, message, errorData{
		Kind:      kind.String(),
		Retryable: kind == escrow.KindStateConflict,
		Detail:    err.Error(),
	})
}

// classify extends escrow.KindOf with the bank and node errors that reach the
// RPC surface unwrapped.
func classify(err error) escrow.ErrorKind {
	switch {
	case errors.Is(err, bank.ErrUnknownAsset), errors.Is(err, bank.ErrInvalidAmount),
		errors.Is(err, core.ErrFaucetCap):
		return escrow.KindValidation
	case errors.Is(err, core.ErrFaucetDisabled):
		return escrow.KindAuthorization
	case errors.Is(err, bank.ErrInsufficientFunds), errors.Is(err, bank.ErrInsufficientAllowance):
		return escrow.KindTransfer
	case errors.Is(err, core.ErrAuditFailed):
		return escrow.KindAccounting
	}
	return escrow.KindOf(err)
}
