package discount

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the discount code service.
var (
	ErrUnsupportedDiscountAmount = errors.New("unsupported discount amount")
	ErrInvalidExpireMonths       = errors.New("expire months must be between 1 and 3")
	ErrInvalidCodeType           = errors.New("invalid code type")
	ErrCodeSpaceExhausted        = errors.New("could not generate an unused code")
	ErrUnknownDiscountCode       = errors.New("unknown discount code")
	ErrDuplicateCode             = errors.New("code already exists")
	ErrInvalidServiceConfig      = errors.New("invalid service config")
	ErrNotCompensatable          = errors.New("transaction is not a stamps debit")
)

// PartialRedemptionError reports a redemption where the stamps debit
// committed but the external mint or the local persist did not. The debit is
// never rolled back automatically; the ledger transaction id gives operators
// what they need to compensate.
type PartialRedemptionError struct {
	TransactionID string
	Code          string
	Err           error
}

// Error returns the formatted error message.
func (partialError *PartialRedemptionError) Error() string {
	return fmt.Sprintf("redemption stranded after stamps debit %s (code %s): %v", partialError.TransactionID, partialError.Code, partialError.Err)
}

// Unwrap returns the underlying error.
func (partialError *PartialRedemptionError) Unwrap() error {
	return partialError.Err
}
