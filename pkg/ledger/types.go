package ledger

import (
	"context"
	"fmt"
	"strings"
)

// AmountCents is an integer currency delta in cents. It is signed: earn
// transactions carry positive deltas, redeem transactions negative ones.
type AmountCents int64

// Int64 returns the raw cent value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// StampCount is a signed stamps delta or balance.
type StampCount int64

// Int64 returns the raw stamp value.
func (count StampCount) Int64() int64 {
	return int64(count)
}

// AccountID identifies an account.
type AccountID struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// MemberCode is a 10-digit membership code in [1000000001, 9999999999].
type MemberCode struct {
	value string
}

// NewMemberCode validates a membership code.
func NewMemberCode(raw string) (MemberCode, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) != memberCodeDigits {
		return MemberCode{}, fmt.Errorf("%w: must be %d digits", ErrInvalidMemberCode, memberCodeDigits)
	}
	for _, character := range trimmed {
		if character < '0' || character > '9' {
			return MemberCode{}, fmt.Errorf("%w: must be numeric", ErrInvalidMemberCode)
		}
	}
	if trimmed < memberCodeMin || trimmed > memberCodeMax {
		return MemberCode{}, fmt.Errorf("%w: out of range", ErrInvalidMemberCode)
	}
	return MemberCode{value: trimmed}, nil
}

// String returns the normalized code.
func (code MemberCode) String() string {
	return code.value
}

// Tier is the membership level.
type Tier string

const (
	TierFan              Tier = "fan"
	TierShareholder      Tier = "shareholder"
	TierSuperShareholder Tier = "super_shareholder"
)

// ParseTier validates a stored tier value.
func ParseTier(raw string) (Tier, error) {
	switch Tier(raw) {
	case TierFan, TierShareholder, TierSuperShareholder:
		return Tier(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTier, raw)
}

// String returns the tier name.
func (tier Tier) String() string {
	return string(tier)
}

// Paid reports whether the tier is a purchased membership level.
func (tier Tier) Paid() bool {
	return tier == TierShareholder || tier == TierSuperShareholder
}

// CashbackBasisPoints returns the purchase-rebate rate for the tier.
func (tier Tier) CashbackBasisPoints() int64 {
	switch tier {
	case TierShareholder:
		return 500
	case TierSuperShareholder:
		return 1000
	}
	return 0
}

// TransactionKind enumerates ledger mutation kinds.
type TransactionKind string

const (
	KindEarn   TransactionKind = "earn"
	KindRedeem TransactionKind = "redeem"
)

// ParseTransactionKind validates a stored kind value.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(raw) {
	case KindEarn, KindRedeem:
		return TransactionKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
}

// String returns the kind name.
func (kind TransactionKind) String() string {
	return string(kind)
}

// RelatedEntity links a transaction to the order or discount code that
// caused it. The discount link is the code string: a redeem debit commits
// before its code row exists, so the row id is unknowable at commit time.
type RelatedEntity struct {
	OrderID      *int64
	DiscountCode *string
}

// NoRelation is the zero link for transactions with no causing entity.
var NoRelation = RelatedEntity{}

// RelatedOrder links a transaction to an external order.
func RelatedOrder(orderID int64) RelatedEntity {
	return RelatedEntity{OrderID: &orderID}
}

// RelatedDiscountCode links a transaction to a discount code.
func RelatedDiscountCode(code string) RelatedEntity {
	return RelatedEntity{DiscountCode: &code}
}

// Account is the domain view of a member account.
type Account struct {
	AccountID                AccountID
	MemberCode               MemberCode
	Tier                     Tier
	BalanceCents             AmountCents
	Stamps                   StampCount
	ReferrerID               *AccountID
	MembershipExpiresUnixUTC int64
	CreatedUnixUTC           int64
}

// ActivePaidMember reports whether the account holds an unexpired paid tier.
func (account Account) ActivePaidMember(nowUnixUTC int64) bool {
	return account.Tier.Paid() && account.MembershipExpiresUnixUTC > nowUnixUTC
}

// Profile carries the registration inputs for a new account. A zero
// AccountID lets the store assign one.
type Profile struct {
	AccountID          AccountID
	ReferrerMemberCode *MemberCode
}

// TransactionInput is the write shape for a ledger transaction row.
type TransactionInput struct {
	AccountID         AccountID
	Kind              TransactionKind
	AmountCents       AmountCents
	Stamps            StampCount
	BalanceAfterCents AmountCents
	StampsAfter       StampCount
	Related           RelatedEntity
	Description       string
	CreatedUnixUTC    int64
}

// Transaction is a single immutable line in the ledger.
type Transaction struct {
	TransactionID     string
	AccountID         AccountID
	Kind              TransactionKind
	AmountCents       AmountCents
	Stamps            StampCount
	BalanceAfterCents AmountCents
	StampsAfter       StampCount
	Related           RelatedEntity
	Description       string
	CreatedUnixUTC    int64
}

// BalanceView is the monetary and stamps balance of one account.
type BalanceView struct {
	BalanceCents AmountCents
	Stamps       StampCount
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// CreateAccount inserts the account and returns it with the
	// store-assigned id. A member code collision fails with
	// ErrMemberCodeExists.
	CreateAccount(ctx context.Context, account Account) (Account, error)
	GetAccount(ctx context.Context, accountID AccountID) (Account, error)
	// GetAccountForUpdate locks the account row for the duration of the
	// enclosing transaction; concurrent Apply calls serialize on it.
	GetAccountForUpdate(ctx context.Context, accountID AccountID) (Account, error)
	FindAccountByMemberCode(ctx context.Context, memberCode MemberCode) (Account, error)
	UpdateAccountBalances(ctx context.Context, accountID AccountID, balance AmountCents, stamps StampCount) error
	UpdateAccountTier(ctx context.Context, accountID AccountID, tier Tier, expiresUnixUTC int64) error
	InsertTransaction(ctx context.Context, input TransactionInput) (Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (Transaction, error)
	ListTransactions(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Transaction, error)
	ListTransactionsAscending(ctx context.Context, accountID AccountID) ([]Transaction, error)
}
