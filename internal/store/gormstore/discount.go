package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sweetstamps/membership/pkg/discount"
	"github.com/sweetstamps/membership/pkg/ledger"
)

// discountView satisfies discount.Store.
type discountView struct {
	*core
}

func (view discountView) InsertDiscountCode(ctx context.Context, input discount.DiscountCodeInput) (discount.DiscountCode, error) {
	row := DiscountCode{
		AccountID:           input.AccountID.String(),
		Code:                input.Code,
		DiscountCents:       input.DiscountCents.Int64(),
		CodeType:            input.CodeType.String(),
		ExpiresAt:           time.Unix(input.ExpiresUnixUTC, 0).UTC(),
		LedgerTransactionID: input.LedgerTransactionID,
		CreatedAt:           time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := view.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return discount.DiscountCode{}, wrapStoreError(errorSubjectCode, errorCodeDuplicate, discount.ErrDuplicateCode)
	}
	if err != nil {
		return discount.DiscountCode{}, wrapStoreError(errorSubjectCode, errorCodeInsert, err)
	}
	return mapDiscountCode(row)
}

func (view discountView) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := view.db.WithContext(ctx).
		Model(&DiscountCode{}).
		Where("code = ?", code).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectCode, errorCodeGet, err)
	}
	return count > 0, nil
}

func (view discountView) GetDiscountCode(ctx context.Context, id int64) (discount.DiscountCode, error) {
	var row DiscountCode
	err := view.db.WithContext(ctx).
		Where("id = ?", id).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return discount.DiscountCode{}, wrapStoreError(errorSubjectCode, errorCodeGet, discount.ErrUnknownDiscountCode)
		}
		return discount.DiscountCode{}, wrapStoreError(errorSubjectCode, errorCodeGet, err)
	}
	return mapDiscountCode(row)
}

func (view discountView) ListDiscountCodes(ctx context.Context, accountID ledger.AccountID, offset int, limit int) ([]discount.DiscountCode, int64, error) {
	var total int64
	err := view.db.WithContext(ctx).
		Model(&DiscountCode{}).
		Where("account_id = ?", accountID.String()).
		Count(&total).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectCode, errorCodeList, err)
	}

	var rows []DiscountCode
	err = view.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectCode, errorCodeList, err)
	}

	codes := make([]discount.DiscountCode, 0, len(rows))
	for _, row := range rows {
		code, err := mapDiscountCode(row)
		if err != nil {
			return nil, 0, err
		}
		codes = append(codes, code)
	}
	return codes, total, nil
}

func mapDiscountCode(row DiscountCode) (discount.DiscountCode, error) {
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return discount.DiscountCode{}, wrapStoreError(errorSubjectCode, errorCodeInvalid, err)
	}
	codeType, err := discount.ParseCodeType(row.CodeType)
	if err != nil {
		return discount.DiscountCode{}, wrapStoreError(errorSubjectCode, errorCodeInvalid, err)
	}
	return discount.DiscountCode{
		ID:                  row.ID,
		AccountID:           accountID,
		Code:                row.Code,
		DiscountCents:       ledger.AmountCents(row.DiscountCents),
		CodeType:            codeType,
		Used:                row.Used,
		UsedUnixUTC:         timeOrZero(row.UsedAt),
		ExpiresUnixUTC:      row.ExpiresAt.Unix(),
		ExternalID:          row.ExternalID,
		LedgerTransactionID: row.LedgerTransactionID,
		CreatedUnixUTC:      row.CreatedAt.Unix(),
	}, nil
}
