package ordersync

import (
	"context"
	"fmt"

	"github.com/sweetstamps/membership/pkg/ledger"
)

// SyncType selects the window strategy for a cycle.
type SyncType string

const (
	SyncIncremental SyncType = "incremental"
	SyncFull        SyncType = "full"
)

// ParseSyncType validates a stored sync type value.
func ParseSyncType(raw string) (SyncType, error) {
	switch SyncType(raw) {
	case SyncIncremental, SyncFull:
		return SyncType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSyncType, raw)
}

// String returns the sync type name.
func (syncType SyncType) String() string {
	return string(syncType)
}

// CycleState is the per-cycle state machine: Idle -> Running -> Completed|Failed.
type CycleState string

const (
	CycleIdle      CycleState = "idle"
	CycleRunning   CycleState = "running"
	CycleCompleted CycleState = "completed"
	CycleFailed    CycleState = "failed"
)

// String returns the state name.
func (state CycleState) String() string {
	return string(state)
}

// Window is the half-open time range [Start, End) a cycle covers.
type Window struct {
	StartUnixUTC int64
	EndUnixUTC   int64
}

// SyncCursor is the durable watermark row for one sync type. HolderToken
// identifies the cycle holding the lease; a late release from a previous
// holder whose lease expired mid-cycle must not touch the reclaimed row.
type SyncCursor struct {
	SyncType            SyncType
	WatermarkUnixUTC    int64
	State               CycleState
	LeaseExpiresUnixUTC int64
	HolderToken         string
	UpdatedUnixUTC      int64
}

// OrderRecord is the narrow subset of an external order the core consumes.
// Unknown upstream fields are ignored at the gateway boundary.
type OrderRecord struct {
	ExternalID        int64
	CreatedUnixMilli  int64
	MemberCode        string
	PriceCents        int64
	ProductName       string
	ProductNo         string
	Status            int
	PayType           int
}

// OrderPage is one page of external orders.
type OrderPage struct {
	Records    []OrderRecord
	TotalPages int
}

// CouponRecord is the narrow subset of an external coupon the core consumes.
type CouponRecord struct {
	ExternalID    int64
	Code          string
	Used          bool
	UsedUnixMilli int64
	DiscountCents int64
}

// CouponPage is one page of external coupons.
type CouponPage struct {
	Records    []CouponRecord
	TotalPages int
}

// ExternalOrder is the locally persisted projection of an external order.
type ExternalOrder struct {
	ExternalID        int64
	AccountID         ledger.AccountID
	MemberCode        string
	PriceCents        ledger.AmountCents
	ProductName       string
	ProductNo         string
	OrderStatus       int
	PayType           int
	StampsEarned      ledger.StampCount
	ExternalUnixMilli int64
	CreatedUnixUTC    int64
}

// ExternalOrderInput is the write shape for an external order projection.
type ExternalOrderInput struct {
	ExternalID        int64
	AccountID         ledger.AccountID
	MemberCode        string
	PriceCents        ledger.AmountCents
	ProductName       string
	ProductNo         string
	OrderStatus       int
	PayType           int
	StampsEarned      ledger.StampCount
	ExternalUnixMilli int64
	CreatedUnixUTC    int64
}

// Report summarizes one completed or failed cycle.
type Report struct {
	SyncType         SyncType
	Window           Window
	State            CycleState
	OrdersProcessed  int
	OrdersSkipped    int
	CouponsProcessed int
}

// Gateway is the external order/coupon platform boundary.
type Gateway interface {
	ListOrders(ctx context.Context, window Window, page int, pageSize int) (OrderPage, error)
	ListDiscountCodes(ctx context.Context, page int, pageSize int) (CouponPage, error)
}

// Store is the persistence contract used by the Scheduler.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// LedgerStore exposes the same underlying transaction as a ledger
	// store, so an order insert and its stamps credit commit together.
	LedgerStore() ledger.Store
	// AcquireSyncLease atomically marks the cursor row running, stamps
	// it with a fresh holder token, and returns it. ok is false while
	// any sync type holds an unexpired lease; at most one cycle runs
	// system-wide.
	AcquireSyncLease(ctx context.Context, syncType SyncType, nowUnixUTC int64, leaseUntilUnixUTC int64) (SyncCursor, bool, error)
	// ReleaseSyncLease records the cycle outcome for the given holder.
	// A stale holder's release leaves the row untouched. The watermark
	// advances only on a completed cycle.
	ReleaseSyncLease(ctx context.Context, syncType SyncType, holderToken string, state CycleState, watermarkUnixUTC int64) error
	GetSyncCursor(ctx context.Context, syncType SyncType) (SyncCursor, error)
	GetExternalOrder(ctx context.Context, externalID int64) (ExternalOrder, bool, error)
	InsertExternalOrder(ctx context.Context, input ExternalOrderInput) error
	UpdateExternalOrderStatus(ctx context.Context, externalID int64, status int) error
	FindAccountByMemberCode(ctx context.Context, memberCode ledger.MemberCode) (ledger.Account, bool, error)
	GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, bool, error)
	FindDiscountCodeByCode(ctx context.Context, code string) (localCodeID int64, used bool, found bool, err error)
	MarkDiscountCodeUsed(ctx context.Context, localCodeID int64, usedUnixUTC int64) error
	// LinkDiscountCodeExternalID stores the platform coupon id on a local
	// code row once; later calls with a different id are no-ops.
	LinkDiscountCodeExternalID(ctx context.Context, localCodeID int64, externalID int64) error
}

// LedgerEngine is the slice of the ledger service the scheduler needs.
type LedgerEngine interface {
	ApplyIn(ctx context.Context, txStore ledger.Store, accountID ledger.AccountID, balanceDelta ledger.AmountCents, stampsDelta ledger.StampCount, kind ledger.TransactionKind, related ledger.RelatedEntity, description string) (ledger.Transaction, error)
}
