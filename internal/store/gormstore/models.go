package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	AccountID           string     `gorm:"type:uuid;primaryKey"`
	MemberCode          string     `gorm:"not null;index:uniq_accounts_member_code,unique"`
	Tier                string     `gorm:"not null"`
	BalanceCents        int64      `gorm:"not null"`
	Stamps              int64      `gorm:"not null"`
	ReferrerID          *string    `gorm:"type:uuid;index"`
	MembershipExpiresAt *time.Time `gorm:""`
	CreatedAt           time.Time  `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// LedgerTransaction mirrors the ledger_transactions table. Rows are
// append-only; balances are projections over them. Sequence is the
// insertion order; created_at has second granularity and cannot break
// ties between transactions committed in the same second.
type LedgerTransaction struct {
	Sequence          int64          `gorm:"primaryKey;autoIncrement"`
	TransactionID     string         `gorm:"type:uuid;not null;index:uniq_tx_transaction_id,unique"`
	AccountID         string         `gorm:"type:uuid;not null;index:idx_tx_account_created,priority:1"`
	Kind              string         `gorm:"not null"`
	AmountCents       int64          `gorm:"not null"`
	Stamps            int64          `gorm:"not null"`
	BalanceAfterCents int64          `gorm:"not null"`
	StampsAfter       int64          `gorm:"not null"`
	Related           datatypes.JSON `gorm:"not null"`
	Description       string         `gorm:"not null"`
	CreatedAt         time.Time      `gorm:"not null;index:idx_tx_account_created,priority:2"`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }

func (transaction *LedgerTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// DiscountCode mirrors the discount_codes table.
type DiscountCode struct {
	ID                  int64      `gorm:"primaryKey;autoIncrement"`
	AccountID           string     `gorm:"type:uuid;not null;index"`
	Code                string     `gorm:"not null;index:uniq_discount_codes_code,unique"`
	DiscountCents       int64      `gorm:"not null"`
	CodeType            string     `gorm:"not null"`
	Used                bool       `gorm:"not null"`
	UsedAt              *time.Time `gorm:""`
	ExpiresAt           time.Time  `gorm:"not null"`
	ExternalID          *string    `gorm:""`
	LedgerTransactionID *string    `gorm:"type:uuid"`
	CreatedAt           time.Time  `gorm:"not null"`
}

func (DiscountCode) TableName() string { return "discount_codes" }

// RechargeRecord mirrors the recharge_records table. PaymentRef is the
// upstream payment reference and is globally unique.
type RechargeRecord struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	AccountID      string    `gorm:"type:uuid;not null;index"`
	PaymentRef     string    `gorm:"not null;index:uniq_recharge_payment_ref,unique"`
	AmountCents    int64     `gorm:"not null"`
	BonusCents     int64     `gorm:"not null"`
	TotalCents     int64     `gorm:"not null"`
	Status         string    `gorm:"not null"`
	UpstreamStatus string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (RechargeRecord) TableName() string { return "recharge_records" }

// MembershipPurchase mirrors the membership_purchases table.
type MembershipPurchase struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	AccountID      string    `gorm:"type:uuid;not null;index"`
	PaymentRef     string    `gorm:"not null;index:uniq_membership_payment_ref,unique"`
	TargetTier     string    `gorm:"not null"`
	AmountCents    int64     `gorm:"not null"`
	Status         string    `gorm:"not null"`
	UpstreamStatus string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (MembershipPurchase) TableName() string { return "membership_purchases" }

// ExternalOrder mirrors the external_orders table. The primary key is the
// platform's order id, which makes ingestion naturally idempotent.
type ExternalOrder struct {
	ExternalID   int64     `gorm:"primaryKey;autoIncrement:false"`
	AccountID    string    `gorm:"type:uuid;not null;index"`
	MemberCode   string    `gorm:"not null"`
	PriceCents   int64     `gorm:"not null"`
	ProductName  string    `gorm:"not null"`
	ProductNo    string    `gorm:"not null"`
	OrderStatus  int       `gorm:"not null"`
	PayType      int       `gorm:"not null"`
	StampsEarned int64     `gorm:"not null"`
	ExternalAt   time.Time `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (ExternalOrder) TableName() string { return "external_orders" }

// SyncCursor mirrors the sync_cursors table, one row per sync type.
type SyncCursor struct {
	SyncType       string    `gorm:"primaryKey"`
	WatermarkAt    time.Time `gorm:""`
	State          string    `gorm:"not null"`
	LeaseExpiresAt time.Time `gorm:""`
	HolderToken    string    `gorm:"not null;default:''"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (SyncCursor) TableName() string { return "sync_cursors" }
