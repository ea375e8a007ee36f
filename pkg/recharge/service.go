package recharge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sweetstamps/membership/pkg/discount"
	"github.com/sweetstamps/membership/pkg/ledger"
)

const (
	membershipSeconds = 365 * 24 * 3600

	shareholderPriceCents      = 800
	superShareholderPriceCents = 3000

	shareholderWelfareCents      = 800
	superShareholderWelfareCents = 300
	superShareholderWelfareCodes = 10
	welfareExpireMonths          = 1
)

// Exact-match bonus tiers: recharge amount in cents to bonus in cents.
// Amounts outside the table are allowed and earn no bonus.
var bonusTiers = map[int64]int64{
	10000: 1500,  // $100 -> +15%
	20000: 3500,  // $200 -> +17.5%
	30000: 7500,  // $300 -> +25%
	50000: 15000, // $500 -> +30%
}

// Service reconciles upstream payment confirmations with the ledger,
// exactly once per external payment reference.
type Service struct {
	store   Store
	gateway PaymentGateway
	engine  LedgerEngine
	welfare WelfareGranter
	nowFn   func() int64
	logger  *zap.Logger
}

// NewService wires a Service.
func NewService(store Store, gateway PaymentGateway, engine LedgerEngine, welfare WelfareGranter, now func() int64, logger *zap.Logger) (*Service, error) {
	if store == nil || gateway == nil || engine == nil || welfare == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, gateway: gateway, engine: engine, welfare: welfare, nowFn: now, logger: logger}, nil
}

// BonusFor returns the bonus for a recharge amount, zero when the amount does
// not match a tier exactly.
func BonusFor(amountCents ledger.AmountCents) ledger.AmountCents {
	return ledger.AmountCents(bonusTiers[amountCents.Int64()])
}

// CreatePaymentIntent opens an upstream payment and records a pending
// recharge keyed by its reference.
func (service *Service) CreatePaymentIntent(ctx context.Context, accountID ledger.AccountID, amountCents ledger.AmountCents) (IntentResult, error) {
	if amountCents <= 0 || amountCents.Int64()%100 != 0 {
		return IntentResult{}, fmt.Errorf("%w: must be a positive whole-dollar amount in cents", ErrInvalidRechargeAmount)
	}
	bonus := BonusFor(amountCents)
	intent, err := service.gateway.CreatePaymentIntent(ctx, amountCents.Int64(),
		fmt.Sprintf("Account %s recharges $%.2f", accountID.String(), float64(amountCents.Int64())/100))
	if err != nil {
		return IntentResult{}, err
	}
	record, err := service.store.InsertRechargeRecord(ctx, RechargeRecordInput{
		AccountID:      accountID,
		PaymentRef:     intent.ID,
		AmountCents:    amountCents,
		BonusCents:     bonus,
		TotalCents:     amountCents + bonus,
		Status:         StatusPending,
		CreatedUnixUTC: service.nowFn(),
	})
	if err != nil {
		return IntentResult{}, err
	}
	return IntentResult{PaymentIntent: intent, Recharge: &record}, nil
}

// CreateMembershipIntent opens an upstream payment for a tier upgrade.
// Upgrades only: fan may buy either paid tier, shareholder may buy super.
func (service *Service) CreateMembershipIntent(ctx context.Context, accountID ledger.AccountID, targetTier ledger.Tier) (IntentResult, error) {
	price, err := membershipPriceCents(targetTier)
	if err != nil {
		return IntentResult{}, err
	}
	account, err := service.engine.GetAccount(ctx, accountID)
	if err != nil {
		return IntentResult{}, err
	}
	if account.Tier == targetTier {
		return IntentResult{}, ErrAlreadyThisTier
	}
	if account.Tier == ledger.TierSuperShareholder {
		return IntentResult{}, ErrTierDowngrade
	}
	intent, err := service.gateway.CreatePaymentIntent(ctx, price.Int64(),
		fmt.Sprintf("Account %s upgrades to %s", accountID.String(), targetTier.String()))
	if err != nil {
		return IntentResult{}, err
	}
	purchase, err := service.store.InsertMembershipPurchase(ctx, MembershipPurchaseInput{
		AccountID:      accountID,
		PaymentRef:     intent.ID,
		TargetTier:     targetTier,
		AmountCents:    price,
		Status:         StatusPending,
		CreatedUnixUTC: service.nowFn(),
	})
	if err != nil {
		return IntentResult{}, err
	}
	return IntentResult{PaymentIntent: intent, Membership: &purchase}, nil
}

// Confirm reconciles a payment reference against the upstream status,
// exactly once. A reference already in a terminal state returns the existing
// record unchanged.
func (service *Service) Confirm(ctx context.Context, paymentRef string) (Confirmation, error) {
	intent, err := service.gateway.RetrievePaymentIntent(ctx, paymentRef)
	if err != nil {
		return Confirmation{}, err
	}
	return service.reconcile(ctx, paymentRef, intent.Status)
}

// HandleWebhook reconciles a signature-verified upstream notification. The
// caller has already authenticated the event; the status is trusted as-is.
func (service *Service) HandleWebhook(ctx context.Context, paymentRef string, status PaymentStatus) (Confirmation, error) {
	return service.reconcile(ctx, paymentRef, status)
}

// ListRechargeRecords lists an account's recharges, newest first.
func (service *Service) ListRechargeRecords(ctx context.Context, accountID ledger.AccountID, offset int, limit int) ([]RechargeRecord, int64, error) {
	return service.store.ListRechargeRecords(ctx, accountID, offset, limit)
}

func (service *Service) reconcile(ctx context.Context, paymentRef string, upstream PaymentStatus) (Confirmation, error) {
	var confirmation Confirmation
	var grantWelfareFor *MembershipPurchase
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		record, err := txStore.GetRechargeByPaymentRefForUpdate(ctx, paymentRef)
		if err == nil {
			confirmation, err = service.reconcileRecharge(ctx, txStore, record, upstream)
			return err
		}
		if !errors.Is(err, ErrUnknownPaymentRef) {
			return err
		}
		purchase, err := txStore.GetMembershipByPaymentRefForUpdate(ctx, paymentRef)
		if err != nil {
			return err
		}
		confirmation, err = service.reconcileMembership(ctx, txStore, purchase, upstream)
		if err == nil && purchase.Status == StatusPending && confirmation.Membership.Status == StatusSucceeded {
			grantWelfareFor = confirmation.Membership
		}
		return err
	})
	if operationError != nil {
		return Confirmation{}, operationError
	}
	if grantWelfareFor != nil {
		// External mints stay outside the reconciliation transaction.
		// Failures go to operational tooling, not the webhook response.
		service.grantMembershipWelfare(ctx, *grantWelfareFor)
	}
	return confirmation, nil
}

func (service *Service) reconcileRecharge(ctx context.Context, txStore Store, record RechargeRecord, upstream PaymentStatus) (Confirmation, error) {
	if record.Status.Terminal() {
		return Confirmation{Kind: ConfirmationRecharge, Recharge: &record}, nil
	}
	switch upstream {
	case PaymentSucceeded:
		_, err := service.engine.ApplyIn(ctx, txStore.LedgerStore(), record.AccountID, record.TotalCents, 0, ledger.KindEarn, ledger.NoRelation,
			fmt.Sprintf("Recharge confirmed via payment %s", record.PaymentRef))
		if err != nil {
			return Confirmation{}, err
		}
		if err := txStore.UpdateRechargeStatus(ctx, record.ID, StatusPending, StatusSucceeded, string(upstream)); err != nil {
			return Confirmation{}, err
		}
		record.Status = StatusSucceeded
	case PaymentFailed:
		if err := txStore.UpdateRechargeStatus(ctx, record.ID, StatusPending, StatusFailed, string(upstream)); err != nil {
			return Confirmation{}, err
		}
		record.Status = StatusFailed
	case PaymentCanceled:
		if err := txStore.UpdateRechargeStatus(ctx, record.ID, StatusPending, StatusCanceled, string(upstream)); err != nil {
			return Confirmation{}, err
		}
		record.Status = StatusCanceled
	default:
		return Confirmation{}, fmt.Errorf("%w: upstream status %q", ErrPaymentNotSettled, upstream)
	}
	record.UpstreamStatus = string(upstream)
	return Confirmation{Kind: ConfirmationRecharge, Recharge: &record}, nil
}

func (service *Service) reconcileMembership(ctx context.Context, txStore Store, purchase MembershipPurchase, upstream PaymentStatus) (Confirmation, error) {
	if purchase.Status.Terminal() {
		return Confirmation{Kind: ConfirmationMembership, Membership: &purchase}, nil
	}
	switch upstream {
	case PaymentSucceeded:
		expires := service.nowFn() + membershipSeconds
		if err := service.engine.SetTierIn(ctx, txStore.LedgerStore(), purchase.AccountID, purchase.TargetTier, expires); err != nil {
			return Confirmation{}, err
		}
		if err := txStore.UpdateMembershipStatus(ctx, purchase.ID, StatusPending, StatusSucceeded, string(upstream)); err != nil {
			return Confirmation{}, err
		}
		purchase.Status = StatusSucceeded
	case PaymentFailed:
		if err := txStore.UpdateMembershipStatus(ctx, purchase.ID, StatusPending, StatusFailed, string(upstream)); err != nil {
			return Confirmation{}, err
		}
		purchase.Status = StatusFailed
	case PaymentCanceled:
		if err := txStore.UpdateMembershipStatus(ctx, purchase.ID, StatusPending, StatusCanceled, string(upstream)); err != nil {
			return Confirmation{}, err
		}
		purchase.Status = StatusCanceled
	default:
		return Confirmation{}, fmt.Errorf("%w: upstream status %q", ErrPaymentNotSettled, upstream)
	}
	purchase.UpstreamStatus = string(upstream)
	return Confirmation{Kind: ConfirmationMembership, Membership: &purchase}, nil
}

func (service *Service) grantMembershipWelfare(ctx context.Context, purchase MembershipPurchase) {
	switch purchase.TargetTier {
	case ledger.TierShareholder:
		if _, err := service.welfare.GrantWelfareCode(ctx, purchase.AccountID, shareholderWelfareCents, discount.CodeTypeShareholderReward, welfareExpireMonths); err != nil {
			service.logger.Error("shareholder welfare code grant failed",
				zap.String("account_id", purchase.AccountID.String()),
				zap.Error(err))
		}
	case ledger.TierSuperShareholder:
		for index := 0; index < superShareholderWelfareCodes; index++ {
			if _, err := service.welfare.GrantWelfareCode(ctx, purchase.AccountID, superShareholderWelfareCents, discount.CodeTypeSuperShareholderReward, welfareExpireMonths); err != nil {
				service.logger.Error("super shareholder welfare code grant failed",
					zap.String("account_id", purchase.AccountID.String()),
					zap.Int("code_index", index),
					zap.Error(err))
			}
		}
	}
}

func membershipPriceCents(targetTier ledger.Tier) (ledger.AmountCents, error) {
	switch targetTier {
	case ledger.TierShareholder:
		return shareholderPriceCents, nil
	case ledger.TierSuperShareholder:
		return superShareholderPriceCents, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTargetTier, targetTier.String())
}
