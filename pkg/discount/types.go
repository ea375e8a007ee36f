package discount

import (
	"context"
	"fmt"

	"github.com/sweetstamps/membership/pkg/ledger"
)

// CodeType enumerates discount code origins.
type CodeType string

const (
	CodeTypeShareholderReward      CodeType = "shareholder_reward"
	CodeTypeSuperShareholderReward CodeType = "super_shareholder_reward"
	CodeTypeSweetsCreditsReward    CodeType = "sweets_credits_reward"
)

// ParseCodeType validates a stored code type value.
func ParseCodeType(raw string) (CodeType, error) {
	switch CodeType(raw) {
	case CodeTypeShareholderReward, CodeTypeSuperShareholderReward, CodeTypeSweetsCreditsReward:
		return CodeType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCodeType, raw)
}

// String returns the code type name.
func (codeType CodeType) String() string {
	return string(codeType)
}

// DiscountCode is an issued code. Amount and code never change after
// issuance; the only mutations are the used flag and the platform coupon id
// attached by the sync. A code past ExpiresUnixUTC that was never used is
// treated as expired without an explicit transition. LedgerTransactionID is
// the redeem debit that paid for the code; welfare grants leave it nil.
type DiscountCode struct {
	ID                  int64
	AccountID           ledger.AccountID
	Code                string
	DiscountCents       ledger.AmountCents
	CodeType            CodeType
	Used                bool
	UsedUnixUTC         int64
	ExpiresUnixUTC      int64
	ExternalID          *string
	LedgerTransactionID *string
	CreatedUnixUTC      int64
}

// Expired reports whether an unused code is past its expiry.
func (code DiscountCode) Expired(nowUnixUTC int64) bool {
	return !code.Used && nowUnixUTC > code.ExpiresUnixUTC
}

// DiscountCodeInput is the write shape for a discount code row.
type DiscountCodeInput struct {
	AccountID           ledger.AccountID
	Code                string
	DiscountCents       ledger.AmountCents
	CodeType            CodeType
	ExpiresUnixUTC      int64
	LedgerTransactionID *string
	CreatedUnixUTC      int64
}

// Redemption is the result of a stamps redemption.
type Redemption struct {
	DiscountCode    DiscountCode
	StampsUsed      ledger.StampCount
	RemainingStamps ledger.StampCount
	TransactionID   string
}

// Store is the persistence contract used by Service.
type Store interface {
	InsertDiscountCode(ctx context.Context, input DiscountCodeInput) (DiscountCode, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	GetDiscountCode(ctx context.Context, id int64) (DiscountCode, error)
	ListDiscountCodes(ctx context.Context, accountID ledger.AccountID, offset int, limit int) ([]DiscountCode, int64, error)
}

// Minter mints codes on the external point-of-sale platform.
type Minter interface {
	MintDiscountCode(ctx context.Context, code string, discountCents int64, expireMonths int) error
}

// LedgerEngine is the slice of the ledger service the code service needs.
type LedgerEngine interface {
	Apply(ctx context.Context, accountID ledger.AccountID, balanceDelta ledger.AmountCents, stampsDelta ledger.StampCount, kind ledger.TransactionKind, related ledger.RelatedEntity, description string) (ledger.Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (ledger.Transaction, error)
}
