package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sweetstamps/membership/pkg/ledger"
)

// ledgerView satisfies ledger.Store.
type ledgerView struct {
	*core
}

func (view ledgerView) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return view.transaction(ctx, func(txCore *core) error {
		return fn(ctx, ledgerView{txCore})
	})
}

func (view ledgerView) CreateAccount(ctx context.Context, account ledger.Account) (ledger.Account, error) {
	row := Account{
		AccountID:    account.AccountID.String(),
		MemberCode:   account.MemberCode.String(),
		Tier:         account.Tier.String(),
		BalanceCents: account.BalanceCents.Int64(),
		Stamps:       account.Stamps.Int64(),
		CreatedAt:    time.Unix(account.CreatedUnixUTC, 0).UTC(),
	}
	if account.ReferrerID != nil {
		value := account.ReferrerID.String()
		row.ReferrerID = &value
	}
	if account.MembershipExpiresUnixUTC != 0 {
		value := time.Unix(account.MembershipExpiresUnixUTC, 0).UTC()
		row.MembershipExpiresAt = &value
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := view.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrMemberCodeExists)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return mapAccount(row)
}

func (view ledgerView) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	var row Account
	err := view.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrUnknownAccount)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(row)
}

func (view ledgerView) GetAccountForUpdate(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	var row Account
	err := view.db.WithContext(ctx).
		Clauses(view.lockClause()...).
		Where("account_id = ?", accountID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrUnknownAccount)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(row)
}

func (view ledgerView) FindAccountByMemberCode(ctx context.Context, memberCode ledger.MemberCode) (ledger.Account, error) {
	var row Account
	err := view.db.WithContext(ctx).
		Where("member_code = ?", memberCode.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrUnknownAccount)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(row)
}

func (view ledgerView) UpdateAccountBalances(ctx context.Context, accountID ledger.AccountID, balance ledger.AmountCents, stamps ledger.StampCount) error {
	result := view.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID.String()).
		Updates(map[string]interface{}{
			"balance_cents": balance.Int64(),
			"stamps":        stamps.Int64(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrUnknownAccount)
	}
	return nil
}

func (view ledgerView) UpdateAccountTier(ctx context.Context, accountID ledger.AccountID, tier ledger.Tier, expiresUnixUTC int64) error {
	var expiresAt *time.Time
	if expiresUnixUTC != 0 {
		value := time.Unix(expiresUnixUTC, 0).UTC()
		expiresAt = &value
	}
	result := view.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID.String()).
		Updates(map[string]interface{}{
			"tier":                  tier.String(),
			"membership_expires_at": expiresAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrUnknownAccount)
	}
	return nil
}

func (view ledgerView) InsertTransaction(ctx context.Context, input ledger.TransactionInput) (ledger.Transaction, error) {
	row := LedgerTransaction{
		AccountID:         input.AccountID.String(),
		Kind:              input.Kind.String(),
		AmountCents:       input.AmountCents.Int64(),
		Stamps:            input.Stamps.Int64(),
		BalanceAfterCents: input.BalanceAfterCents.Int64(),
		StampsAfter:       input.StampsAfter.Int64(),
		Related:           encodeRelated(input.Related),
		Description:       input.Description,
		CreatedAt:         time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := view.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return mapTransaction(row)
}

func (view ledgerView) GetTransaction(ctx context.Context, transactionID string) (ledger.Transaction, error) {
	var row LedgerTransaction
	err := view.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, ledger.ErrUnknownTransaction)
		}
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	return mapTransaction(row)
}

func (view ledgerView) ListTransactions(ctx context.Context, accountID ledger.AccountID, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}
	var rows []LedgerTransaction
	err := view.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID.String(), before).
		Order("created_at DESC, sequence DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return mapTransactions(rows)
}

// ListTransactionsAscending returns the full history in insertion order.
// Replay correctness depends on the sequence column, not created_at.
func (view ledgerView) ListTransactionsAscending(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	var rows []LedgerTransaction
	err := view.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return mapTransactions(rows)
}

func mapAccount(row Account) (ledger.Account, error) {
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	memberCode, err := ledger.NewMemberCode(row.MemberCode)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	tier, err := ledger.ParseTier(row.Tier)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	var referrerID *ledger.AccountID
	if row.ReferrerID != nil {
		parsed, err := ledger.NewAccountID(*row.ReferrerID)
		if err != nil {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		referrerID = &parsed
	}
	return ledger.Account{
		AccountID:                accountID,
		MemberCode:               memberCode,
		Tier:                     tier,
		BalanceCents:             ledger.AmountCents(row.BalanceCents),
		Stamps:                   ledger.StampCount(row.Stamps),
		ReferrerID:               referrerID,
		MembershipExpiresUnixUTC: timeOrZero(row.MembershipExpiresAt),
		CreatedUnixUTC:           row.CreatedAt.Unix(),
	}, nil
}

func mapTransaction(row LedgerTransaction) (ledger.Transaction, error) {
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	kind, err := ledger.ParseTransactionKind(row.Kind)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	related, err := decodeRelated(row.Related)
	if err != nil {
		return ledger.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return ledger.Transaction{
		TransactionID:     row.TransactionID,
		AccountID:         accountID,
		Kind:              kind,
		AmountCents:       ledger.AmountCents(row.AmountCents),
		Stamps:            ledger.StampCount(row.Stamps),
		BalanceAfterCents: ledger.AmountCents(row.BalanceAfterCents),
		StampsAfter:       ledger.StampCount(row.StampsAfter),
		Related:           related,
		Description:       row.Description,
		CreatedUnixUTC:    row.CreatedAt.Unix(),
	}, nil
}

func mapTransactions(rows []LedgerTransaction) ([]ledger.Transaction, error) {
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}
