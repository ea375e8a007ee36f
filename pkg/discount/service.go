package discount

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/sweetstamps/membership/pkg/ledger"
)

const (
	// Stamps price of one dollar of discount.
	stampsPerDollar = 200

	minExpireMonths = 1
	maxExpireMonths = 3

	// 30-day months, matching the external platform's expiry arithmetic.
	secondsPerExpireMonth = 30 * 24 * 3600

	codeMaxAttempts = 10
)

// Redeemable discount amounts in cents. Anything else is rejected before any
// mutation.
var redeemableAmounts = map[int64]struct{}{
	500:  {},
	1000: {},
	2000: {},
	2500: {},
}

// Service issues and redeems discount codes against the external platform.
type Service struct {
	store  Store
	minter Minter
	engine LedgerEngine
	nowFn  func() int64
}

// NewService wires a Service.
func NewService(store Store, minter Minter, engine LedgerEngine, now func() int64) (*Service, error) {
	if store == nil || minter == nil || engine == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{store: store, minter: minter, engine: engine, nowFn: now}, nil
}

// RedeemWithStamps exchanges stamps for a discount code. The stamps debit is
// the durability boundary: once it commits, a failing mint or persist is
// surfaced as PartialRedemptionError and never rolled back here.
func (service *Service) RedeemWithStamps(ctx context.Context, accountID ledger.AccountID, discountCents ledger.AmountCents, expireMonths int) (Redemption, error) {
	if _, ok := redeemableAmounts[discountCents.Int64()]; !ok {
		return Redemption{}, fmt.Errorf("%w: %d cents", ErrUnsupportedDiscountAmount, discountCents.Int64())
	}
	if expireMonths < minExpireMonths || expireMonths > maxExpireMonths {
		return Redemption{}, ErrInvalidExpireMonths
	}
	stampsCost := ledger.StampCount(discountCents.Int64() / 100 * stampsPerDollar)

	code, err := service.uniqueCode(ctx)
	if err != nil {
		return Redemption{}, err
	}

	debit, err := service.engine.Apply(ctx, accountID, 0, -stampsCost, ledger.KindRedeem, ledger.RelatedDiscountCode(code),
		fmt.Sprintf("Redeem %d stamps for discount code %s", stampsCost.Int64(), code))
	if err != nil {
		return Redemption{}, err
	}

	if err := service.minter.MintDiscountCode(ctx, code, discountCents.Int64(), expireMonths); err != nil {
		return Redemption{}, &PartialRedemptionError{TransactionID: debit.TransactionID, Code: code, Err: err}
	}

	created, err := service.store.InsertDiscountCode(ctx, DiscountCodeInput{
		AccountID:           accountID,
		Code:                code,
		DiscountCents:       discountCents,
		CodeType:            CodeTypeSweetsCreditsReward,
		ExpiresUnixUTC:      service.expiry(expireMonths),
		LedgerTransactionID: &debit.TransactionID,
		CreatedUnixUTC:      service.nowFn(),
	})
	if err != nil {
		return Redemption{}, &PartialRedemptionError{TransactionID: debit.TransactionID, Code: code, Err: err}
	}

	return Redemption{
		DiscountCode:    created,
		StampsUsed:      stampsCost,
		RemainingStamps: debit.StampsAfter,
		TransactionID:   debit.TransactionID,
	}, nil
}

// Compensate credits back a stranded stamps debit. Operator-triggered after a
// PartialRedemptionError was investigated.
func (service *Service) Compensate(ctx context.Context, transactionID string) (ledger.Transaction, error) {
	debit, err := service.engine.GetTransaction(ctx, transactionID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if debit.Kind != ledger.KindRedeem || debit.Stamps >= 0 {
		return ledger.Transaction{}, ErrNotCompensatable
	}
	// The credit carries the debit's relation so both sides of the stranded
	// redemption point at the same code.
	return service.engine.Apply(ctx, debit.AccountID, 0, -debit.Stamps, ledger.KindEarn, debit.Related,
		fmt.Sprintf("Compensation for stranded redemption %s", transactionID))
}

// GrantWelfareCode mints a code with no stamps debit (registration, referral,
// and membership welfare). Failures propagate so the caller can retry.
func (service *Service) GrantWelfareCode(ctx context.Context, accountID ledger.AccountID, discountCents ledger.AmountCents, codeType CodeType, expireMonths int) (DiscountCode, error) {
	if discountCents <= 0 {
		return DiscountCode{}, fmt.Errorf("%w: amount must be positive", ErrUnsupportedDiscountAmount)
	}
	if _, err := ParseCodeType(codeType.String()); err != nil {
		return DiscountCode{}, err
	}
	if expireMonths < minExpireMonths || expireMonths > maxExpireMonths {
		return DiscountCode{}, ErrInvalidExpireMonths
	}
	code, err := service.uniqueCode(ctx)
	if err != nil {
		return DiscountCode{}, err
	}
	if err := service.minter.MintDiscountCode(ctx, code, discountCents.Int64(), expireMonths); err != nil {
		return DiscountCode{}, err
	}
	return service.store.InsertDiscountCode(ctx, DiscountCodeInput{
		AccountID:      accountID,
		Code:           code,
		DiscountCents:  discountCents,
		CodeType:       codeType,
		ExpiresUnixUTC: service.expiry(expireMonths),
		CreatedUnixUTC: service.nowFn(),
	})
}

// ListDiscountCodes lists an account's codes, newest first.
func (service *Service) ListDiscountCodes(ctx context.Context, accountID ledger.AccountID, offset int, limit int) ([]DiscountCode, int64, error) {
	return service.store.ListDiscountCodes(ctx, accountID, offset, limit)
}

func (service *Service) expiry(expireMonths int) int64 {
	return service.nowFn() + int64(expireMonths)*secondsPerExpireMonth
}

func (service *Service) uniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < codeMaxAttempts; attempt++ {
		candidate := fmt.Sprintf("%06d", 100000+rand.Int64N(900000))
		exists, err := service.store.CodeExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}
