package domain

import "errors"

// errorCodes maps sentinels to stable API codes. More specific errors come
// first so wrapped market errors keep their own code.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrMarketNotFound, "market_not_found"},
	{ErrMarketExists, "market_exists"},
	{ErrNotFound, "not_found"},
	{ErrAlreadyExists, "already_exists"},
	{ErrDuplicateRequest, "duplicate_request"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidState, "invalid_state"},
	{ErrSlippageExceeded, "slippage_exceeded"},
	{ErrAlreadyClaimed, "already_claimed"},
	{ErrNothingToClaim, "nothing_to_claim"},
	{ErrNothingToDistribute, "nothing_to_distribute"},
	{ErrBondTooLow, "bond_too_low"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrOverflow, "overflow"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrRateLimited, "rate_limited"},
	{ErrLockHeld, "lock_held"},
	{ErrHalted, "halted"},
}

// ErrorCode returns the API code for err, or "internal".
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}

// CodeError returns the sentinel for an API code, or nil if the code is
// unknown.
func CodeError(code string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return nil
}
