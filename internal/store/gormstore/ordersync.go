package gormstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sweetstamps/membership/pkg/ledger"
	"github.com/sweetstamps/membership/pkg/ordersync"
)

// orderSyncView satisfies ordersync.Store.
type orderSyncView struct {
	*core
}

func (view orderSyncView) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ordersync.Store) error) error {
	return view.transaction(ctx, func(txCore *core) error {
		return fn(ctx, orderSyncView{txCore})
	})
}

func (view orderSyncView) LedgerStore() ledger.Store {
	return ledgerView{view.core}
}

// AcquireSyncLease creates the cursor row on first use, then claims it
// with a guarded update. The claim succeeds when this cursor is not
// running (or its previous holder's lease has expired) and no other
// sync type holds a live lease; one cycle runs system-wide.
func (view orderSyncView) AcquireSyncLease(ctx context.Context, syncType ordersync.SyncType, nowUnixUTC int64, leaseUntilUnixUTC int64) (ordersync.SyncCursor, bool, error) {
	now := time.Unix(nowUnixUTC, 0).UTC()
	seed := SyncCursor{
		SyncType:  syncType.String(),
		State:     ordersync.CycleIdle.String(),
		UpdatedAt: now,
	}
	err := view.db.WithContext(ctx).
		Where("sync_type = ?", syncType.String()).
		FirstOrCreate(&seed).Error
	if err != nil && !isUniqueViolation(err) {
		return ordersync.SyncCursor{}, false, wrapStoreError(errorSubjectCursor, errorCodeLease, err)
	}

	holderToken := uuid.NewString()
	result := view.db.WithContext(ctx).
		Model(&SyncCursor{}).
		Where("sync_type = ? AND (state <> ? OR lease_expires_at <= ?)",
			syncType.String(), ordersync.CycleRunning.String(), now).
		Where("NOT EXISTS (SELECT 1 FROM sync_cursors busy WHERE busy.sync_type <> ? AND busy.state = ? AND busy.lease_expires_at > ?)",
			syncType.String(), ordersync.CycleRunning.String(), now).
		Updates(map[string]interface{}{
			"state":            ordersync.CycleRunning.String(),
			"lease_expires_at": time.Unix(leaseUntilUnixUTC, 0).UTC(),
			"holder_token":     holderToken,
			"updated_at":       now,
		})
	if result.Error != nil {
		return ordersync.SyncCursor{}, false, wrapStoreError(errorSubjectCursor, errorCodeLease, result.Error)
	}
	if result.RowsAffected == 0 {
		return ordersync.SyncCursor{}, false, nil
	}

	cursor, err := view.GetSyncCursor(ctx, syncType)
	if err != nil {
		return ordersync.SyncCursor{}, false, err
	}
	return cursor, true, nil
}

// ReleaseSyncLease records the outcome for one holder. The token guard
// keeps a late release from a lapsed holder off a reclaimed row.
func (view orderSyncView) ReleaseSyncLease(ctx context.Context, syncType ordersync.SyncType, holderToken string, state ordersync.CycleState, watermarkUnixUTC int64) error {
	now := time.Now().UTC()
	result := view.db.WithContext(ctx).
		Model(&SyncCursor{}).
		Where("sync_type = ? AND state = ? AND holder_token = ?",
			syncType.String(), ordersync.CycleRunning.String(), holderToken).
		Updates(map[string]interface{}{
			"state":            state.String(),
			"watermark_at":     time.Unix(watermarkUnixUTC, 0).UTC(),
			"lease_expires_at": time.Time{},
			"holder_token":     "",
			"updated_at":       now,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCursor, errorCodeLease, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCursor, errorCodeLease, ordersync.ErrSyncFailed)
	}
	return nil
}

func (view orderSyncView) GetSyncCursor(ctx context.Context, syncType ordersync.SyncType) (ordersync.SyncCursor, error) {
	var row SyncCursor
	err := view.db.WithContext(ctx).
		Where("sync_type = ?", syncType.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ordersync.SyncCursor{SyncType: syncType, State: ordersync.CycleIdle}, nil
		}
		return ordersync.SyncCursor{}, wrapStoreError(errorSubjectCursor, errorCodeGet, err)
	}
	return mapSyncCursor(row)
}

func (view orderSyncView) GetExternalOrder(ctx context.Context, externalID int64) (ordersync.ExternalOrder, bool, error) {
	var row ExternalOrder
	err := view.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ordersync.ExternalOrder{}, false, nil
		}
		return ordersync.ExternalOrder{}, false, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	order, err := mapExternalOrder(row)
	if err != nil {
		return ordersync.ExternalOrder{}, false, err
	}
	return order, true, nil
}

func (view orderSyncView) InsertExternalOrder(ctx context.Context, input ordersync.ExternalOrderInput) error {
	row := ExternalOrder{
		ExternalID:   input.ExternalID,
		AccountID:    input.AccountID.String(),
		MemberCode:   input.MemberCode,
		PriceCents:   input.PriceCents.Int64(),
		ProductName:  input.ProductName,
		ProductNo:    input.ProductNo,
		OrderStatus:  input.OrderStatus,
		PayType:      input.PayType,
		StampsEarned: input.StampsEarned.Int64(),
		ExternalAt:   time.UnixMilli(input.ExternalUnixMilli).UTC(),
		CreatedAt:    time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := view.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, ordersync.ErrDuplicateOrder)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeInsert, err)
	}
	return nil
}

func (view orderSyncView) UpdateExternalOrderStatus(ctx context.Context, externalID int64, status int) error {
	result := view.db.WithContext(ctx).
		Model(&ExternalOrder{}).
		Where("external_id = ?", externalID).
		Update("order_status", status)
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, result.Error)
	}
	return nil
}

func (view orderSyncView) FindAccountByMemberCode(ctx context.Context, memberCode ledger.MemberCode) (ledger.Account, bool, error) {
	account, err := ledgerView{view.core}.FindAccountByMemberCode(ctx, memberCode)
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownAccount) {
			return ledger.Account{}, false, nil
		}
		return ledger.Account{}, false, err
	}
	return account, true, nil
}

func (view orderSyncView) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, bool, error) {
	account, err := ledgerView{view.core}.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownAccount) {
			return ledger.Account{}, false, nil
		}
		return ledger.Account{}, false, err
	}
	return account, true, nil
}

func (view orderSyncView) FindDiscountCodeByCode(ctx context.Context, code string) (int64, bool, bool, error) {
	var row DiscountCode
	err := view.db.WithContext(ctx).
		Where("code = ?", code).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, false, nil
		}
		return 0, false, false, wrapStoreError(errorSubjectCode, errorCodeGet, err)
	}
	return row.ID, row.Used, true, nil
}

func (view orderSyncView) MarkDiscountCodeUsed(ctx context.Context, localCodeID int64, usedUnixUTC int64) error {
	usedAt := time.Unix(usedUnixUTC, 0).UTC()
	// The guard makes the mark idempotent; a code already marked used
	// stays used, external state never rolls it back.
	result := view.db.WithContext(ctx).
		Model(&DiscountCode{}).
		Where("id = ? AND used = ?", localCodeID, false).
		Updates(map[string]interface{}{
			"used":    true,
			"used_at": &usedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCode, errorCodeUpdate, result.Error)
	}
	return nil
}

// LinkDiscountCodeExternalID records the platform's coupon id on a locally
// minted code the first time the sync sees it. The id never changes once set.
func (view orderSyncView) LinkDiscountCodeExternalID(ctx context.Context, localCodeID int64, externalID int64) error {
	external := strconv.FormatInt(externalID, 10)
	result := view.db.WithContext(ctx).
		Model(&DiscountCode{}).
		Where("id = ? AND external_id IS NULL", localCodeID).
		Update("external_id", external)
	if result.Error != nil {
		return wrapStoreError(errorSubjectCode, errorCodeUpdate, result.Error)
	}
	return nil
}

func mapSyncCursor(row SyncCursor) (ordersync.SyncCursor, error) {
	syncType, err := ordersync.ParseSyncType(row.SyncType)
	if err != nil {
		return ordersync.SyncCursor{}, wrapStoreError(errorSubjectCursor, errorCodeInvalid, err)
	}
	return ordersync.SyncCursor{
		SyncType:            syncType,
		WatermarkUnixUTC:    zeroableUnix(row.WatermarkAt),
		State:               ordersync.CycleState(row.State),
		LeaseExpiresUnixUTC: zeroableUnix(row.LeaseExpiresAt),
		HolderToken:         row.HolderToken,
		UpdatedUnixUTC:      row.UpdatedAt.Unix(),
	}, nil
}

func mapExternalOrder(row ExternalOrder) (ordersync.ExternalOrder, error) {
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ordersync.ExternalOrder{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return ordersync.ExternalOrder{
		ExternalID:        row.ExternalID,
		AccountID:         accountID,
		MemberCode:        row.MemberCode,
		PriceCents:        ledger.AmountCents(row.PriceCents),
		ProductName:       row.ProductName,
		ProductNo:         row.ProductNo,
		OrderStatus:       row.OrderStatus,
		PayType:           row.PayType,
		StampsEarned:      ledger.StampCount(row.StampsEarned),
		ExternalUnixMilli: row.ExternalAt.UnixMilli(),
		CreatedUnixUTC:    row.CreatedAt.Unix(),
	}, nil
}

func zeroableUnix(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.Unix()
}
