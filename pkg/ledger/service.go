package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
)

// Service is the single writer path for account balance and stamps state.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Apply commits a balance/stamps mutation and its transaction record atomically.
// A resulting negative balance or stamps count fails with ErrInsufficientFunds
// and applies nothing. Apply never calls external systems.
func (service *Service) Apply(ctx context.Context, accountID AccountID, balanceDelta AmountCents, stampsDelta StampCount, kind TransactionKind, related RelatedEntity, description string) (Transaction, error) {
	var transaction Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		applied, err := service.ApplyIn(ctx, txStore, accountID, balanceDelta, stampsDelta, kind, related, description)
		if err != nil {
			return err
		}
		transaction = applied
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationApply,
		AccountID:     accountID,
		AmountCents:   balanceDelta,
		Stamps:        stampsDelta,
		Kind:          kind,
		TransactionID: transaction.TransactionID,
		Error:         operationError,
	})
	return transaction, operationError
}

// ApplyIn is Apply running inside a transaction the caller already holds.
// Callers reconciling external state use it to commit the ledger mutation and
// their own row updates as one unit.
func (service *Service) ApplyIn(ctx context.Context, txStore Store, accountID AccountID, balanceDelta AmountCents, stampsDelta StampCount, kind TransactionKind, related RelatedEntity, description string) (Transaction, error) {
	if balanceDelta == 0 && stampsDelta == 0 {
		return Transaction{}, WrapError(operationApply, "transaction", "empty_delta", ErrInvalidAmount)
	}
	account, err := txStore.GetAccountForUpdate(ctx, accountID)
	if err != nil {
		return Transaction{}, err
	}
	balanceAfter := account.BalanceCents + balanceDelta
	stampsAfter := account.Stamps + stampsDelta
	if balanceAfter < 0 || stampsAfter < 0 {
		return Transaction{}, ErrInsufficientFunds
	}
	if err := txStore.UpdateAccountBalances(ctx, accountID, balanceAfter, stampsAfter); err != nil {
		return Transaction{}, err
	}
	return txStore.InsertTransaction(ctx, TransactionInput{
		AccountID:         accountID,
		Kind:              kind,
		AmountCents:       balanceDelta,
		Stamps:            stampsDelta,
		BalanceAfterCents: balanceAfter,
		StampsAfter:       stampsAfter,
		Related:           related,
		Description:       description,
		CreatedUnixUTC:    service.nowFn(),
	})
}

// SetTier updates the membership tier and expiry for an account.
func (service *Service) SetTier(ctx context.Context, accountID AccountID, tier Tier, expiresUnixUTC int64) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		return service.SetTierIn(ctx, txStore, accountID, tier, expiresUnixUTC)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSetTier,
		AccountID: accountID,
		Error:     operationError,
	})
	return operationError
}

// SetTierIn is SetTier running inside a caller-held transaction.
func (service *Service) SetTierIn(ctx context.Context, txStore Store, accountID AccountID, tier Tier, expiresUnixUTC int64) error {
	if _, err := ParseTier(tier.String()); err != nil {
		return err
	}
	if _, err := txStore.GetAccountForUpdate(ctx, accountID); err != nil {
		return err
	}
	return txStore.UpdateAccountTier(ctx, accountID, tier, expiresUnixUTC)
}

// Register creates an account with a collision-free member code and zero
// balances. Referrers must already exist, which keeps the referral graph
// acyclic by construction.
func (service *Service) Register(ctx context.Context, profile Profile) (Account, error) {
	var referrerID *AccountID
	if profile.ReferrerMemberCode != nil {
		referrer, err := service.store.FindAccountByMemberCode(ctx, *profile.ReferrerMemberCode)
		if err != nil {
			return Account{}, err
		}
		id := referrer.AccountID
		referrerID = &id
	}
	for attempt := 0; attempt < memberCodeMaxAttempts; attempt++ {
		memberCode, err := randomMemberCode()
		if err != nil {
			return Account{}, err
		}
		account, err := service.store.CreateAccount(ctx, Account{
			AccountID:      profile.AccountID,
			MemberCode:     memberCode,
			Tier:           TierFan,
			ReferrerID:     referrerID,
			CreatedUnixUTC: service.nowFn(),
		})
		if errors.Is(err, ErrMemberCodeExists) {
			continue
		}
		if err != nil {
			return Account{}, err
		}
		service.logOperation(ctx, OperationLog{
			Operation: operationRegister,
			AccountID: account.AccountID,
		})
		return account, nil
	}
	return Account{}, WrapError(operationRegister, "account", "member_code_collisions", ErrMemberCodeExhausted)
}

// Balance returns the cached balance projection for an account.
func (service *Service) Balance(ctx context.Context, accountID AccountID) (BalanceView, error) {
	account, err := service.store.GetAccount(ctx, accountID)
	if err != nil {
		return BalanceView{}, err
	}
	return BalanceView{BalanceCents: account.BalanceCents, Stamps: account.Stamps}, nil
}

// Audit replays the full transaction history for an account and verifies the
// cached projection matches it exactly.
func (service *Service) Audit(ctx context.Context, accountID AccountID) (BalanceView, error) {
	account, err := service.store.GetAccount(ctx, accountID)
	if err != nil {
		return BalanceView{}, err
	}
	transactions, err := service.store.ListTransactionsAscending(ctx, accountID)
	if err != nil {
		return BalanceView{}, err
	}
	var balance AmountCents
	var stamps StampCount
	for _, transaction := range transactions {
		balance += transaction.AmountCents
		stamps += transaction.Stamps
		if transaction.BalanceAfterCents != balance || transaction.StampsAfter != stamps {
			return BalanceView{}, WrapError(operationAudit, "transaction", "chain_mismatch", ErrProjectionMismatch)
		}
	}
	if balance != account.BalanceCents || stamps != account.Stamps {
		return BalanceView{}, WrapError(operationAudit, "account", "projection_mismatch", ErrProjectionMismatch)
	}
	return BalanceView{BalanceCents: balance, Stamps: stamps}, nil
}

// GetAccount returns one account by id.
func (service *Service) GetAccount(ctx context.Context, accountID AccountID) (Account, error) {
	return service.store.GetAccount(ctx, accountID)
}

// FindAccountByMemberCode returns one account by membership code.
func (service *Service) FindAccountByMemberCode(ctx context.Context, memberCode MemberCode) (Account, error) {
	return service.store.FindAccountByMemberCode(ctx, memberCode)
}

// GetTransaction returns one ledger transaction by id.
func (service *Service) GetTransaction(ctx context.Context, transactionID string) (Transaction, error) {
	return service.store.GetTransaction(ctx, transactionID)
}

// ListTransactions lists ledger transactions for an account before a cutoff time.
func (service *Service) ListTransactions(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	return service.store.ListTransactions(ctx, accountID, beforeUnixUTC, limit)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func randomMemberCode() (MemberCode, error) {
	const low, high = 1000000001, 9999999999
	value := low + rand.Int64N(high-low+1)
	return NewMemberCode(fmt.Sprintf("%d", value))
}
