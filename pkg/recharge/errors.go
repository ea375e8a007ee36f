package recharge

import "errors"

// Domain-level error values returned by the reconciliation service.
var (
	ErrInvalidRechargeAmount = errors.New("invalid recharge amount")
	ErrInvalidStatus         = errors.New("invalid status")
	ErrUnknownPaymentRef     = errors.New("unknown payment reference")
	ErrDuplicatePaymentRef   = errors.New("payment reference already recorded")
	ErrPaymentNotSettled     = errors.New("payment not in a settled state")
	ErrStatusTransition      = errors.New("record already transitioned")
	ErrInvalidTargetTier     = errors.New("invalid target tier")
	ErrAlreadyThisTier       = errors.New("account already holds this tier")
	ErrTierDowngrade         = errors.New("tier downgrade not allowed")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)
