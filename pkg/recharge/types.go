package recharge

import (
	"context"
	"fmt"

	"github.com/sweetstamps/membership/pkg/discount"
	"github.com/sweetstamps/membership/pkg/ledger"
)

// Status is the recharge/membership purchase lifecycle. Succeeded, failed,
// and canceled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// ParseStatus validates a stored status value.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusSucceeded, StatusFailed, StatusCanceled:
		return Status(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// String returns the status name.
func (status Status) String() string {
	return string(status)
}

// Terminal reports whether the status permits no further transitions.
func (status Status) Terminal() bool {
	return status == StatusSucceeded || status == StatusFailed || status == StatusCanceled
}

// PaymentStatus is the narrow subset of upstream payment states the core
// consumes.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCanceled  PaymentStatus = "canceled"
)

// PaymentIntent is the narrow view of an upstream payment handle.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       PaymentStatus
}

// RechargeRecord tracks one balance top-up, keyed by the globally unique
// external payment reference.
type RechargeRecord struct {
	ID             int64
	AccountID      ledger.AccountID
	PaymentRef     string
	AmountCents    ledger.AmountCents
	BonusCents     ledger.AmountCents
	TotalCents     ledger.AmountCents
	Status         Status
	UpstreamStatus string
	CreatedUnixUTC int64
}

// RechargeRecordInput is the write shape for a recharge record row.
type RechargeRecordInput struct {
	AccountID      ledger.AccountID
	PaymentRef     string
	AmountCents    ledger.AmountCents
	BonusCents     ledger.AmountCents
	TotalCents     ledger.AmountCents
	Status         Status
	CreatedUnixUTC int64
}

// MembershipPurchase tracks one tier upgrade purchase.
type MembershipPurchase struct {
	ID             int64
	AccountID      ledger.AccountID
	PaymentRef     string
	TargetTier     ledger.Tier
	AmountCents    ledger.AmountCents
	Status         Status
	UpstreamStatus string
	CreatedUnixUTC int64
}

// MembershipPurchaseInput is the write shape for a membership purchase row.
type MembershipPurchaseInput struct {
	AccountID      ledger.AccountID
	PaymentRef     string
	TargetTier     ledger.Tier
	AmountCents    ledger.AmountCents
	Status         Status
	CreatedUnixUTC int64
}

// ConfirmationKind discriminates what a payment reference settled.
type ConfirmationKind string

const (
	ConfirmationRecharge   ConfirmationKind = "recharge"
	ConfirmationMembership ConfirmationKind = "membership"
)

// Confirmation is the result of reconciling one payment reference. Exactly
// one of Recharge/Membership is set, per Kind.
type Confirmation struct {
	Kind       ConfirmationKind
	Recharge   *RechargeRecord
	Membership *MembershipPurchase
}

// IntentResult pairs a created upstream intent with its pending local record.
type IntentResult struct {
	PaymentIntent PaymentIntent
	Recharge      *RechargeRecord
	Membership    *MembershipPurchase
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// LedgerStore exposes the same underlying transaction as a ledger
	// store, so a ledger credit and a status transition commit together.
	LedgerStore() ledger.Store
	InsertRechargeRecord(ctx context.Context, input RechargeRecordInput) (RechargeRecord, error)
	// GetRechargeByPaymentRefForUpdate locks the record row; concurrent
	// confirmations of the same reference serialize on it. Unknown
	// references fail with ErrUnknownPaymentRef.
	GetRechargeByPaymentRefForUpdate(ctx context.Context, paymentRef string) (RechargeRecord, error)
	UpdateRechargeStatus(ctx context.Context, id int64, from Status, to Status, upstreamStatus string) error
	ListRechargeRecords(ctx context.Context, accountID ledger.AccountID, offset int, limit int) ([]RechargeRecord, int64, error)
	InsertMembershipPurchase(ctx context.Context, input MembershipPurchaseInput) (MembershipPurchase, error)
	GetMembershipByPaymentRefForUpdate(ctx context.Context, paymentRef string) (MembershipPurchase, error)
	UpdateMembershipStatus(ctx context.Context, id int64, from Status, to Status, upstreamStatus string) error
}

// PaymentGateway is the outbound payment platform boundary.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, amountCents int64, description string) (PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, paymentRef string) (PaymentIntent, error)
}

// LedgerEngine is the slice of the ledger service this service needs. The
// *In forms run inside the reconciliation transaction.
type LedgerEngine interface {
	ApplyIn(ctx context.Context, txStore ledger.Store, accountID ledger.AccountID, balanceDelta ledger.AmountCents, stampsDelta ledger.StampCount, kind ledger.TransactionKind, related ledger.RelatedEntity, description string) (ledger.Transaction, error)
	SetTierIn(ctx context.Context, txStore ledger.Store, accountID ledger.AccountID, tier ledger.Tier, expiresUnixUTC int64) error
	GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error)
}

// WelfareGranter issues membership welfare codes after a successful upgrade.
type WelfareGranter interface {
	GrantWelfareCode(ctx context.Context, accountID ledger.AccountID, discountCents ledger.AmountCents, codeType discount.CodeType, expireMonths int) (discount.DiscountCode, error)
}
