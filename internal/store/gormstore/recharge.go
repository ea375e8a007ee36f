package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sweetstamps/membership/pkg/ledger"
	"github.com/sweetstamps/membership/pkg/recharge"
)

// rechargeView satisfies recharge.Store.
type rechargeView struct {
	*core
}

func (view rechargeView) WithTx(ctx context.Context, fn func(ctx context.Context, txStore recharge.Store) error) error {
	return view.transaction(ctx, func(txCore *core) error {
		return fn(ctx, rechargeView{txCore})
	})
}

func (view rechargeView) LedgerStore() ledger.Store {
	return ledgerView{view.core}
}

func (view rechargeView) InsertRechargeRecord(ctx context.Context, input recharge.RechargeRecordInput) (recharge.RechargeRecord, error) {
	row := RechargeRecord{
		AccountID:   input.AccountID.String(),
		PaymentRef:  input.PaymentRef,
		AmountCents: input.AmountCents.Int64(),
		BonusCents:  input.BonusCents.Int64(),
		TotalCents:  input.TotalCents.Int64(),
		Status:      input.Status.String(),
		CreatedAt:   time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := view.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return recharge.RechargeRecord{}, wrapStoreError(errorSubjectRecharge, errorCodeDuplicate, recharge.ErrDuplicatePaymentRef)
	}
	if err != nil {
		return recharge.RechargeRecord{}, wrapStoreError(errorSubjectRecharge, errorCodeInsert, err)
	}
	return mapRechargeRecord(row)
}

func (view rechargeView) GetRechargeByPaymentRefForUpdate(ctx context.Context, paymentRef string) (recharge.RechargeRecord, error) {
	var row RechargeRecord
	err := view.db.WithContext(ctx).
		Clauses(view.lockClause()...).
		Where("payment_ref = ?", paymentRef).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return recharge.RechargeRecord{}, wrapStoreError(errorSubjectRecharge, errorCodeGet, recharge.ErrUnknownPaymentRef)
		}
		return recharge.RechargeRecord{}, wrapStoreError(errorSubjectRecharge, errorCodeGet, err)
	}
	return mapRechargeRecord(row)
}

func (view rechargeView) UpdateRechargeStatus(ctx context.Context, id int64, from recharge.Status, to recharge.Status, upstreamStatus string) error {
	result := view.db.WithContext(ctx).
		Model(&RechargeRecord{}).
		Where("id = ? AND status = ?", id, from.String()).
		Updates(map[string]interface{}{
			"status":          to.String(),
			"upstream_status": upstreamStatus,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectRecharge, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRecharge, errorCodeUpdateStatus, recharge.ErrStatusTransition)
	}
	return nil
}

func (view rechargeView) ListRechargeRecords(ctx context.Context, accountID ledger.AccountID, offset int, limit int) ([]recharge.RechargeRecord, int64, error) {
	var total int64
	err := view.db.WithContext(ctx).
		Model(&RechargeRecord{}).
		Where("account_id = ?", accountID.String()).
		Count(&total).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectRecharge, errorCodeList, err)
	}

	var rows []RechargeRecord
	err = view.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectRecharge, errorCodeList, err)
	}

	records := make([]recharge.RechargeRecord, 0, len(rows))
	for _, row := range rows {
		record, err := mapRechargeRecord(row)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, record)
	}
	return records, total, nil
}

func (view rechargeView) InsertMembershipPurchase(ctx context.Context, input recharge.MembershipPurchaseInput) (recharge.MembershipPurchase, error) {
	row := MembershipPurchase{
		AccountID:   input.AccountID.String(),
		PaymentRef:  input.PaymentRef,
		TargetTier:  input.TargetTier.String(),
		AmountCents: input.AmountCents.Int64(),
		Status:      input.Status.String(),
		CreatedAt:   time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := view.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return recharge.MembershipPurchase{}, wrapStoreError(errorSubjectMembership, errorCodeDuplicate, recharge.ErrDuplicatePaymentRef)
	}
	if err != nil {
		return recharge.MembershipPurchase{}, wrapStoreError(errorSubjectMembership, errorCodeInsert, err)
	}
	return mapMembershipPurchase(row)
}

func (view rechargeView) GetMembershipByPaymentRefForUpdate(ctx context.Context, paymentRef string) (recharge.MembershipPurchase, error) {
	var row MembershipPurchase
	err := view.db.WithContext(ctx).
		Clauses(view.lockClause()...).
		Where("payment_ref = ?", paymentRef).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return recharge.MembershipPurchase{}, wrapStoreError(errorSubjectMembership, errorCodeGet, recharge.ErrUnknownPaymentRef)
		}
		return recharge.MembershipPurchase{}, wrapStoreError(errorSubjectMembership, errorCodeGet, err)
	}
	return mapMembershipPurchase(row)
}

func (view rechargeView) UpdateMembershipStatus(ctx context.Context, id int64, from recharge.Status, to recharge.Status, upstreamStatus string) error {
	result := view.db.WithContext(ctx).
		Model(&MembershipPurchase{}).
		Where("id = ? AND status = ?", id, from.String()).
		Updates(map[string]interface{}{
			"status":          to.String(),
			"upstream_status": upstreamStatus,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectMembership, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectMembership, errorCodeUpdateStatus, recharge.ErrStatusTransition)
	}
	return nil
}

func mapRechargeRecord(row RechargeRecord) (recharge.RechargeRecord, error) {
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return recharge.RechargeRecord{}, wrapStoreError(errorSubjectRecharge, errorCodeInvalid, err)
	}
	status, err := recharge.ParseStatus(row.Status)
	if err != nil {
		return recharge.RechargeRecord{}, wrapStoreError(errorSubjectRecharge, errorCodeInvalid, err)
	}
	return recharge.RechargeRecord{
		ID:             row.ID,
		AccountID:      accountID,
		PaymentRef:     row.PaymentRef,
		AmountCents:    ledger.AmountCents(row.AmountCents),
		BonusCents:     ledger.AmountCents(row.BonusCents),
		TotalCents:     ledger.AmountCents(row.TotalCents),
		Status:         status,
		UpstreamStatus: row.UpstreamStatus,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapMembershipPurchase(row MembershipPurchase) (recharge.MembershipPurchase, error) {
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return recharge.MembershipPurchase{}, wrapStoreError(errorSubjectMembership, errorCodeInvalid, err)
	}
	targetTier, err := ledger.ParseTier(row.TargetTier)
	if err != nil {
		return recharge.MembershipPurchase{}, wrapStoreError(errorSubjectMembership, errorCodeInvalid, err)
	}
	status, err := recharge.ParseStatus(row.Status)
	if err != nil {
		return recharge.MembershipPurchase{}, wrapStoreError(errorSubjectMembership, errorCodeInvalid, err)
	}
	return recharge.MembershipPurchase{
		ID:             row.ID,
		AccountID:      accountID,
		PaymentRef:     row.PaymentRef,
		TargetTier:     targetTier,
		AmountCents:    ledger.AmountCents(row.AmountCents),
		Status:         status,
		UpstreamStatus: row.UpstreamStatus,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}
