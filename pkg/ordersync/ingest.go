package ordersync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sweetstamps/membership/pkg/ledger"
)

// processOrder reconciles one external order into the local projection.
// Returns true when the order was ingested or its status refreshed, false
// when it was skipped (no resolvable member).
func (scheduler *Scheduler) processOrder(ctx context.Context, record OrderRecord) (bool, error) {
	existing, found, err := scheduler.store.GetExternalOrder(ctx, record.ExternalID)
	if err != nil {
		return false, fmt.Errorf("order %d lookup: %w", record.ExternalID, err)
	}
	if found {
		// Already rewarded. Only the upstream status can change.
		if existing.OrderStatus != record.Status {
			if err := scheduler.store.UpdateExternalOrderStatus(ctx, record.ExternalID, record.Status); err != nil {
				return false, fmt.Errorf("order %d status update: %w", record.ExternalID, err)
			}
		}
		return true, nil
	}

	account, resolved, err := scheduler.resolveAccount(ctx, record)
	if err != nil {
		return false, err
	}
	if !resolved {
		return false, nil
	}

	nowUnixUTC := scheduler.nowFn()
	err = scheduler.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		input := ExternalOrderInput{
			ExternalID:        record.ExternalID,
			AccountID:         account.AccountID,
			MemberCode:        record.MemberCode,
			PriceCents:        ledger.AmountCents(record.PriceCents),
			ProductName:       record.ProductName,
			ProductNo:         record.ProductNo,
			OrderStatus:       record.Status,
			PayType:           record.PayType,
			StampsEarned:      orderRewardStamps,
			ExternalUnixMilli: record.CreatedUnixMilli,
			CreatedUnixUTC:    nowUnixUTC,
		}
		if err := txStore.InsertExternalOrder(ctx, input); err != nil {
			return err
		}
		ledgerStore := txStore.LedgerStore()
		related := ledger.RelatedOrder(record.ExternalID)
		description := fmt.Sprintf("Purchase reward for order %s", record.ProductNo)
		if _, err := scheduler.engine.ApplyIn(ctx, ledgerStore, account.AccountID, 0, orderRewardStamps, ledger.KindEarn, related, description); err != nil {
			return err
		}
		return scheduler.applyCashback(ctx, txStore, ledgerStore, account, record, nowUnixUTC)
	})
	if err != nil {
		// A concurrent cycle won the insert race; the reward is theirs.
		if errors.Is(err, ErrDuplicateOrder) {
			scheduler.logger.Debug("order already ingested concurrently", zap.Int64("external_id", record.ExternalID))
			return true, nil
		}
		return false, fmt.Errorf("order %d ingest: %w", record.ExternalID, err)
	}
	return true, nil
}

// resolveAccount maps the order's member code to a local account. Orders
// without a known member are skipped, never failed.
func (scheduler *Scheduler) resolveAccount(ctx context.Context, record OrderRecord) (ledger.Account, bool, error) {
	if record.MemberCode == "" {
		return ledger.Account{}, false, nil
	}
	memberCode, err := ledger.NewMemberCode(record.MemberCode)
	if err != nil {
		scheduler.logger.Warn("order carries malformed member code",
			zap.Int64("external_id", record.ExternalID),
			zap.String("member_code", record.MemberCode))
		return ledger.Account{}, false, nil
	}
	account, found, err := scheduler.store.FindAccountByMemberCode(ctx, memberCode)
	if err != nil {
		return ledger.Account{}, false, fmt.Errorf("order %d member lookup: %w", record.ExternalID, err)
	}
	if !found {
		scheduler.logger.Debug("order member code has no local account",
			zap.Int64("external_id", record.ExternalID),
			zap.String("member_code", record.MemberCode))
		return ledger.Account{}, false, nil
	}
	return account, true, nil
}

// applyCashback credits the tier rebate on the order price to the buyer
// and, when one exists, the buyer's referrer. Only unexpired paid tiers
// earn a rebate.
func (scheduler *Scheduler) applyCashback(ctx context.Context, txStore Store, ledgerStore ledger.Store, buyer ledger.Account, record OrderRecord, nowUnixUTC int64) error {
	if record.PriceCents <= 0 {
		return nil
	}
	related := ledger.RelatedOrder(record.ExternalID)

	if buyer.ActivePaidMember(nowUnixUTC) {
		rebate := record.PriceCents * buyer.Tier.CashbackBasisPoints() / cashbackDivisor
		if rebate > 0 {
			description := fmt.Sprintf("%s cashback for order %s", buyer.Tier, record.ProductNo)
			if _, err := scheduler.engine.ApplyIn(ctx, ledgerStore, buyer.AccountID, ledger.AmountCents(rebate), 0, ledger.KindEarn, related, description); err != nil {
				return err
			}
		}
	}

	if buyer.ReferrerID == nil {
		return nil
	}
	referrer, found, err := txStore.GetAccount(ctx, *buyer.ReferrerID)
	if err != nil {
		return err
	}
	if !found || !referrer.ActivePaidMember(nowUnixUTC) {
		return nil
	}
	rebate := record.PriceCents * referrer.Tier.CashbackBasisPoints() / cashbackDivisor
	if rebate <= 0 {
		return nil
	}
	description := fmt.Sprintf("Referral cashback for order %s", record.ProductNo)
	_, err = scheduler.engine.ApplyIn(ctx, ledgerStore, referrer.AccountID, ledger.AmountCents(rebate), 0, ledger.KindEarn, related, description)
	return err
}

// processCoupon attaches the platform coupon id to locally minted codes and
// marks them used when the external platform reports redemption. Local used
// state never rolls back.
func (scheduler *Scheduler) processCoupon(ctx context.Context, record CouponRecord) error {
	if record.Code == "" {
		return nil
	}
	localCodeID, used, found, err := scheduler.store.FindDiscountCodeByCode(ctx, record.Code)
	if err != nil {
		return fmt.Errorf("coupon %q lookup: %w", record.Code, err)
	}
	if !found {
		return nil
	}
	if record.ExternalID != 0 {
		if err := scheduler.store.LinkDiscountCodeExternalID(ctx, localCodeID, record.ExternalID); err != nil {
			return fmt.Errorf("coupon %q link: %w", record.Code, err)
		}
	}
	if !record.Used || used {
		return nil
	}
	usedUnixUTC := record.UsedUnixMilli / 1000
	if usedUnixUTC <= 0 {
		usedUnixUTC = scheduler.nowFn()
	}
	if err := scheduler.store.MarkDiscountCodeUsed(ctx, localCodeID, usedUnixUTC); err != nil {
		return fmt.Errorf("coupon %q mark used: %w", record.Code, err)
	}
	return nil
}
