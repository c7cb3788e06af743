package escrow

import (
	"errors"
	"fmt"

	nativecommon "nhbescrow/native/common"
)

var (
	ErrInvalidParty          = errors.New("escrow: invalid party or asset")
	ErrSameAsset             = errors.New("escrow: sell and buy assets must differ")
	ErrSelfTrade             = errors.New("escrow: seller and buyer must differ")
	ErrZeroAmount            = errors.New("escrow: each side requires a non-zero amount")
	ErrInvalidDuration       = errors.New("escrow: duration outside allowed window")
	ErrAmountMismatch        = errors.New("escrow: attached native amount mismatch")
	ErrInvalidPayload        = errors.New("escrow: malformed upkeep payload")
	ErrTradeNotFound         = errors.New("escrow: trade not found")
	ErrUnauthorized          = errors.New("escrow: unauthorized caller")
	ErrNotPending            = errors.New("escrow: trade not pending")
	ErrExpired               = errors.New("escrow: trade deadline passed")
	ErrNotDue                = errors.New("escrow: trade deadline not reached")
	ErrUpkeepNotNeeded       = errors.New("escrow: upkeep not needed")
	ErrCannotWithdraw        = errors.New("escrow: trade cannot be withdrawn")
	ErrInsufficientBalance   = errors.New("escrow: insufficient balance")
	ErrInsufficientAllowance = errors.New("escrow: insufficient allowance")
	ErrTransferFailed        = errors.New("escrow: asset transfer failed")

	// ErrCustodyShortfall signals that engine holdings or the custody ledger
	// no longer cover a trade's pledged collateral.
	ErrCustodyShortfall = fmt.Errorf("%w: custody below pledged amount", ErrInsufficientBalance)
	// ErrCustodyUnderflow is returned when a debit would take a seller's
	// custody entry below zero.
	ErrCustodyUnderflow = fmt.Errorf("%w: custody ledger underflow", ErrInsufficientBalance)

	errNilState = errors.New("escrow engine: state not configured")
	errNilBank  = errors.New("escrow engine: bank not configured")
)

// ErrorKind groups engine failures so automated callers can tell "retry later"
// from "never retry".
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuthorization
	KindStateConflict
	KindTransfer
	KindAccounting
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindStateConflict:
		return "state_conflict"
	case KindTransfer:
		return "transfer"
	case KindAccounting:
		return "accounting"
	default:
		return "internal"
	}
}

// KindOf classifies err. Accounting errors are checked before the generic
// balance errors they wrap.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrCustodyShortfall), errors.Is(err, ErrCustodyUnderflow):
		return KindAccounting
	case errors.Is(err, ErrUnauthorized):
		return KindAuthorization
	case errors.Is(err, ErrNotPending), errors.Is(err, ErrExpired), errors.Is(err, ErrNotDue),
		errors.Is(err, ErrUpkeepNotNeeded), errors.Is(err, ErrCannotWithdraw),
		errors.Is(err, nativecommon.ErrModulePaused):
		return KindStateConflict
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrInsufficientAllowance),
		errors.Is(err, ErrTransferFailed):
		return KindTransfer
	case errors.Is(err, ErrInvalidParty), errors.Is(err, ErrSameAsset), errors.Is(err, ErrSelfTrade),
		errors.Is(err, ErrZeroAmount), errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrAmountMismatch),
		errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrTradeNotFound):
		return KindValidation
	default:
		return KindInternal
	}
}

// Retryable reports whether the same call may succeed later without the caller
// changing its input.
func Retryable(err error) bool {
	return KindOf(err) == KindStateConflict
}
