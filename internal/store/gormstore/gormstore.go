// Package gormstore is the GORM persistence layer. One Store serves the
// ledger, discount, recharge, and order sync contracts over a single
// database so cross-service writes can share one transaction.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sweetstamps/membership/pkg/discount"
	"github.com/sweetstamps/membership/pkg/ledger"
	"github.com/sweetstamps/membership/pkg/ordersync"
	"github.com/sweetstamps/membership/pkg/recharge"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	postgresDialectName   = "postgres"
	emptyRelationJSON     = "{}"

	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectTransaction = "transaction"
	errorSubjectCode        = "discount_code"
	errorSubjectRecharge    = "recharge_record"
	errorSubjectMembership  = "membership_purchase"
	errorSubjectOrder       = "external_order"
	errorSubjectCursor      = "sync_cursor"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeUpdate         = "update"
	errorCodeUpdateStatus   = "update_status"
	errorCodeLease          = "lease"
	errorCodeMigrate        = "migrate"
)

type core struct {
	db       *gorm.DB
	rowLocks bool
}

var (
	_ ledger.Store    = ledgerView{}
	_ discount.Store  = discountView{}
	_ recharge.Store  = rechargeView{}
	_ ordersync.Store = orderSyncView{}
)

// Store is the umbrella over one database connection. The view methods
// return facades satisfying each service's store contract.
type Store struct {
	core core
}

// New returns a Store backed by gorm.DB. Row locking is used only on
// dialects that support SELECT FOR UPDATE.
func New(db *gorm.DB) *Store {
	return &Store{core: core{db: db, rowLocks: db.Dialector.Name() == postgresDialectName}}
}

// AutoMigrate creates or updates the schema. Used for sqlite databases;
// postgres schemas are managed by migrations.
func (store *Store) AutoMigrate(ctx context.Context) error {
	err := store.core.db.WithContext(ctx).AutoMigrate(
		&Account{},
		&LedgerTransaction{},
		&DiscountCode{},
		&RechargeRecord{},
		&MembershipPurchase{},
		&ExternalOrder{},
		&SyncCursor{},
	)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeMigrate, err)
	}
	return nil
}

// Ledger returns the ledger.Store view.
func (store *Store) Ledger() ledger.Store {
	return ledgerView{&store.core}
}

// Discount returns the discount.Store view.
func (store *Store) Discount() discount.Store {
	return discountView{&store.core}
}

// Recharge returns the recharge.Store view.
func (store *Store) Recharge() recharge.Store {
	return rechargeView{&store.core}
}

// OrderSync returns the ordersync.Store view.
func (store *Store) OrderSync() ordersync.Store {
	return orderSyncView{&store.core}
}

func (storeCore *core) transaction(ctx context.Context, fn func(txCore *core) error) error {
	return storeCore.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(&core{db: transaction, rowLocks: storeCore.rowLocks})
	})
}

// lockClause returns the row lock clauses for the dialect. Empty on
// sqlite, where the single writer already serializes transactions.
func (storeCore *core) lockClause() []clause.Expression {
	if !storeCore.rowLocks {
		return nil
	}
	return []clause.Expression{clause.Locking{Strength: "UPDATE"}}
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

type relatedJSON struct {
	OrderID      *int64  `json:"order_id,omitempty"`
	DiscountCode *string `json:"discount_code,omitempty"`
}

func encodeRelated(related ledger.RelatedEntity) datatypes.JSON {
	encoded, err := json.Marshal(relatedJSON{OrderID: related.OrderID, DiscountCode: related.DiscountCode})
	if err != nil {
		return datatypes.JSON([]byte(emptyRelationJSON))
	}
	return datatypes.JSON(encoded)
}

func decodeRelated(raw datatypes.JSON) (ledger.RelatedEntity, error) {
	if len(raw) == 0 {
		return ledger.NoRelation, nil
	}
	var decoded relatedJSON
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ledger.RelatedEntity{}, err
	}
	return ledger.RelatedEntity{OrderID: decoded.OrderID, DiscountCode: decoded.DiscountCode}, nil
}
