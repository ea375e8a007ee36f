package gormstore

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/sweetstamps/membership/pkg/discount"
	"github.com/sweetstamps/membership/pkg/ledger"
	"github.com/sweetstamps/membership/pkg/ordersync"
	"github.com/sweetstamps/membership/pkg/recharge"
)

func TestLedgerAccountRoundTrip(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	view := store.Ledger()
	accountID := mustAccountID(test, "user-1")

	created, err := view.CreateAccount(context.Background(), ledger.Account{
		AccountID:      accountID,
		MemberCode:     mustMemberCode(test, "1234567890"),
		Tier:           ledger.TierFan,
		CreatedUnixUTC: 1700000000,
	})
	if err != nil {
		test.Fatalf("create account: %v", err)
	}
	if created.AccountID.String() != "user-1" {
		test.Fatalf("caller-supplied id not kept: %q", created.AccountID.String())
	}

	loaded, err := view.FindAccountByMemberCode(context.Background(), mustMemberCode(test, "1234567890"))
	if err != nil {
		test.Fatalf("find by member code: %v", err)
	}
	if loaded.AccountID.String() != "user-1" || loaded.Tier != ledger.TierFan {
		test.Fatalf("unexpected account %+v", loaded)
	}

	_, err = view.GetAccount(context.Background(), mustAccountID(test, "nobody"))
	if !errors.Is(err, ledger.ErrUnknownAccount) {
		test.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestCreateAccountMapsMemberCodeCollision(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	view := store.Ledger()
	code := mustMemberCode(test, "2222222222")

	if _, err := view.CreateAccount(context.Background(), ledger.Account{
		AccountID:  mustAccountID(test, "first"),
		MemberCode: code,
		Tier:       ledger.TierFan,
	}); err != nil {
		test.Fatalf("create account: %v", err)
	}
	_, err := view.CreateAccount(context.Background(), ledger.Account{
		AccountID:  mustAccountID(test, "second"),
		MemberCode: code,
		Tier:       ledger.TierFan,
	})
	if !errors.Is(err, ledger.ErrMemberCodeExists) {
		test.Fatalf("expected ErrMemberCodeExists, got %v", err)
	}
}

func TestTransactionsPersistRelationsAndOrder(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	view := store.Ledger()
	accountID := mustSeedAccount(test, view, "tx-user", "3333333333")

	first, err := view.InsertTransaction(context.Background(), ledger.TransactionInput{
		AccountID:      accountID,
		Kind:           ledger.KindEarn,
		Stamps:         100,
		StampsAfter:    100,
		Related:        ledger.RelatedOrder(42),
		Description:    "reward",
		CreatedUnixUTC: 1700000000,
	})
	if err != nil {
		test.Fatalf("insert transaction: %v", err)
	}
	if _, err := view.InsertTransaction(context.Background(), ledger.TransactionInput{
		AccountID:      accountID,
		Kind:           ledger.KindRedeem,
		Stamps:         -100,
		StampsAfter:    0,
		Description:    "redeem",
		CreatedUnixUTC: 1700000100,
	}); err != nil {
		test.Fatalf("insert transaction: %v", err)
	}

	loaded, err := view.GetTransaction(context.Background(), first.TransactionID)
	if err != nil {
		test.Fatalf("get transaction: %v", err)
	}
	if loaded.Related.OrderID == nil || *loaded.Related.OrderID != 42 {
		test.Fatalf("order relation lost: %+v", loaded.Related)
	}

	history, err := view.ListTransactionsAscending(context.Background(), accountID)
	if err != nil {
		test.Fatalf("list ascending: %v", err)
	}
	if len(history) != 2 || history[0].Kind != ledger.KindEarn || history[1].Kind != ledger.KindRedeem {
		test.Fatalf("unexpected history order: %+v", history)
	}
}

func TestDiscountCodeUniqueness(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	codes := store.Discount()
	accountID := mustSeedAccount(test, store.Ledger(), "code-user", "4444444444")

	debitID := "3b1e9a52-6f0f-4dd3-9f2e-2f0c6a1f2b10"
	input := discount.DiscountCodeInput{
		AccountID:           accountID,
		Code:                "123456",
		DiscountCents:       500,
		CodeType:            discount.CodeTypeSweetsCreditsReward,
		ExpiresUnixUTC:      1710000000,
		LedgerTransactionID: &debitID,
		CreatedUnixUTC:      1700000000,
	}
	created, err := codes.InsertDiscountCode(context.Background(), input)
	if err != nil {
		test.Fatalf("insert code: %v", err)
	}
	if created.LedgerTransactionID == nil || *created.LedgerTransactionID != debitID {
		test.Fatalf("debit transaction link lost: %+v", created.LedgerTransactionID)
	}
	if _, err := codes.InsertDiscountCode(context.Background(), input); !errors.Is(err, discount.ErrDuplicateCode) {
		test.Fatalf("expected ErrDuplicateCode, got %v", err)
	}
	exists, err := codes.CodeExists(context.Background(), "123456")
	if err != nil || !exists {
		test.Fatalf("expected code to exist, got %v %v", exists, err)
	}
}

func TestRechargeStatusTransitionIsGuarded(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	recharges := store.Recharge()
	accountID := mustSeedAccount(test, store.Ledger(), "pay-user", "5555555555")

	record, err := recharges.InsertRechargeRecord(context.Background(), recharge.RechargeRecordInput{
		AccountID:      accountID,
		PaymentRef:     "pi_guard",
		AmountCents:    10000,
		BonusCents:     1500,
		TotalCents:     11500,
		Status:         recharge.StatusPending,
		CreatedUnixUTC: 1700000000,
	})
	if err != nil {
		test.Fatalf("insert recharge: %v", err)
	}
	if _, err := recharges.InsertRechargeRecord(context.Background(), recharge.RechargeRecordInput{
		AccountID:  accountID,
		PaymentRef: "pi_guard",
		Status:     recharge.StatusPending,
	}); !errors.Is(err, recharge.ErrDuplicatePaymentRef) {
		test.Fatalf("expected ErrDuplicatePaymentRef, got %v", err)
	}

	if err := recharges.UpdateRechargeStatus(context.Background(), record.ID, recharge.StatusPending, recharge.StatusSucceeded, "succeeded"); err != nil {
		test.Fatalf("first transition: %v", err)
	}
	err = recharges.UpdateRechargeStatus(context.Background(), record.ID, recharge.StatusPending, recharge.StatusFailed, "failed")
	if !errors.Is(err, recharge.ErrStatusTransition) {
		test.Fatalf("expected ErrStatusTransition, got %v", err)
	}

	reloaded, err := recharges.GetRechargeByPaymentRefForUpdate(context.Background(), "pi_guard")
	if err != nil {
		test.Fatalf("reload: %v", err)
	}
	if reloaded.Status != recharge.StatusSucceeded {
		test.Fatalf("guarded update overwrote status: %s", reloaded.Status)
	}
}

func TestSyncLeaseClaimAndRelease(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	sync := store.OrderSync()
	const now = int64(1700000000)

	cursor, acquired, err := sync.AcquireSyncLease(context.Background(), ordersync.SyncIncremental, now, now+600)
	if err != nil || !acquired {
		test.Fatalf("first acquire: acquired=%v err=%v", acquired, err)
	}
	if cursor.State != ordersync.CycleRunning {
		test.Fatalf("expected running cursor, got %s", cursor.State)
	}

	_, acquired, err = sync.AcquireSyncLease(context.Background(), ordersync.SyncIncremental, now+10, now+610)
	if err != nil {
		test.Fatalf("second acquire: %v", err)
	}
	if acquired {
		test.Fatal("live lease was claimed twice")
	}

	if err := sync.ReleaseSyncLease(context.Background(), ordersync.SyncIncremental, cursor.HolderToken, ordersync.CycleCompleted, now); err != nil {
		test.Fatalf("release: %v", err)
	}
	cursor, err = sync.GetSyncCursor(context.Background(), ordersync.SyncIncremental)
	if err != nil {
		test.Fatalf("get cursor: %v", err)
	}
	if cursor.State != ordersync.CycleCompleted || cursor.WatermarkUnixUTC != now {
		test.Fatalf("unexpected cursor %+v", cursor)
	}

	_, acquired, err = sync.AcquireSyncLease(context.Background(), ordersync.SyncIncremental, now+20, now+620)
	if err != nil || !acquired {
		test.Fatalf("acquire after release: acquired=%v err=%v", acquired, err)
	}
}

func TestExpiredSyncLeaseIsReclaimable(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	sync := store.OrderSync()
	const now = int64(1700000000)

	if _, acquired, err := sync.AcquireSyncLease(context.Background(), ordersync.SyncFull, now, now+600); err != nil || !acquired {
		test.Fatalf("first acquire: acquired=%v err=%v", acquired, err)
	}
	// The holder crashed; after the lease expiry the claim goes through.
	_, acquired, err := sync.AcquireSyncLease(context.Background(), ordersync.SyncFull, now+601, now+1201)
	if err != nil || !acquired {
		test.Fatalf("reclaim: acquired=%v err=%v", acquired, err)
	}
}

func TestExternalOrderDeduplication(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	sync := store.OrderSync()
	accountID := mustSeedAccount(test, store.Ledger(), "order-user", "6666666666")

	input := ordersync.ExternalOrderInput{
		ExternalID:        9001,
		AccountID:         accountID,
		MemberCode:        "6666666666",
		PriceCents:        2500,
		ProductNo:         "ORD-9001",
		OrderStatus:       1,
		StampsEarned:      100,
		ExternalUnixMilli: 1700000000000,
		CreatedUnixUTC:    1700000100,
	}
	if err := sync.InsertExternalOrder(context.Background(), input); err != nil {
		test.Fatalf("insert order: %v", err)
	}
	if err := sync.InsertExternalOrder(context.Background(), input); !errors.Is(err, ordersync.ErrDuplicateOrder) {
		test.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}

	order, found, err := sync.GetExternalOrder(context.Background(), 9001)
	if err != nil || !found {
		test.Fatalf("get order: found=%v err=%v", found, err)
	}
	if order.PriceCents != 2500 || order.StampsEarned != 100 {
		test.Fatalf("unexpected order %+v", order)
	}

	if err := sync.UpdateExternalOrderStatus(context.Background(), 9001, 3); err != nil {
		test.Fatalf("update status: %v", err)
	}
	order, _, _ = sync.GetExternalOrder(context.Background(), 9001)
	if order.OrderStatus != 3 {
		test.Fatalf("status not updated: %d", order.OrderStatus)
	}
}

func TestMarkDiscountCodeUsedIsIdempotent(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	sync := store.OrderSync()
	accountID := mustSeedAccount(test, store.Ledger(), "coupon-user", "7777777777")

	created, err := store.Discount().InsertDiscountCode(context.Background(), discount.DiscountCodeInput{
		AccountID:      accountID,
		Code:           "654321",
		DiscountCents:  1000,
		CodeType:       discount.CodeTypeSweetsCreditsReward,
		ExpiresUnixUTC: 1710000000,
		CreatedUnixUTC: 1700000000,
	})
	if err != nil {
		test.Fatalf("insert code: %v", err)
	}

	id, used, found, err := sync.FindDiscountCodeByCode(context.Background(), "654321")
	if err != nil || !found || used {
		test.Fatalf("find code: id=%d used=%v found=%v err=%v", id, used, found, err)
	}
	if err := sync.MarkDiscountCodeUsed(context.Background(), created.ID, 1700000500); err != nil {
		test.Fatalf("mark used: %v", err)
	}
	if err := sync.MarkDiscountCodeUsed(context.Background(), created.ID, 1700009999); err != nil {
		test.Fatalf("repeat mark used: %v", err)
	}

	_, used, _, err = sync.FindDiscountCodeByCode(context.Background(), "654321")
	if err != nil || !used {
		test.Fatalf("expected code used, got used=%v err=%v", used, err)
	}
	code, err := store.Discount().GetDiscountCode(context.Background(), created.ID)
	if err != nil {
		test.Fatalf("get code: %v", err)
	}
	if code.UsedUnixUTC != 1700000500 {
		test.Fatalf("repeat mark moved the used time: %d", code.UsedUnixUTC)
	}
}

func TestAuditAcceptsSameSecondTransactions(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	engine, err := ledger.NewService(store.Ledger(), func() int64 { return 1700000000 })
	if err != nil {
		test.Fatalf("ledger service: %v", err)
	}
	accountID := mustSeedAccount(test, store.Ledger(), "same-second", "8888888888")

	if _, err := engine.Apply(context.Background(), accountID, 100, 0, ledger.KindEarn, ledger.NoRelation, "credit"); err != nil {
		test.Fatalf("credit: %v", err)
	}
	if _, err := engine.Apply(context.Background(), accountID, -50, 0, ledger.KindRedeem, ledger.NoRelation, "debit"); err != nil {
		test.Fatalf("debit: %v", err)
	}

	view, err := engine.Audit(context.Background(), accountID)
	if err != nil {
		test.Fatalf("audit over same-second history: %v", err)
	}
	if view.BalanceCents != 50 {
		test.Fatalf("expected balance 50, got %d", view.BalanceCents)
	}
}

func TestListAscendingReturnsInsertionOrder(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	view := store.Ledger()
	accountID := mustSeedAccount(test, view, "ordered", "9999999999")

	var inserted []string
	running := int64(0)
	for i := 0; i < 10; i++ {
		running += 10
		transaction, err := view.InsertTransaction(context.Background(), ledger.TransactionInput{
			AccountID:         accountID,
			Kind:              ledger.KindEarn,
			AmountCents:       10,
			BalanceAfterCents: ledger.AmountCents(running),
			Description:       "tick",
			CreatedUnixUTC:    1700000000,
		})
		if err != nil {
			test.Fatalf("insert %d: %v", i, err)
		}
		inserted = append(inserted, transaction.TransactionID)
	}

	history, err := view.ListTransactionsAscending(context.Background(), accountID)
	if err != nil {
		test.Fatalf("list ascending: %v", err)
	}
	if len(history) != len(inserted) {
		test.Fatalf("expected %d rows, got %d", len(inserted), len(history))
	}
	for i, transaction := range history {
		if transaction.TransactionID != inserted[i] {
			test.Fatalf("row %d out of insertion order: got %s, want %s", i, transaction.TransactionID, inserted[i])
		}
	}
}

func TestSyncLeaseIsSystemWide(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	sync := store.OrderSync()
	const now = int64(1700000000)

	cursor, acquired, err := sync.AcquireSyncLease(context.Background(), ordersync.SyncIncremental, now, now+600)
	if err != nil || !acquired {
		test.Fatalf("incremental acquire: acquired=%v err=%v", acquired, err)
	}

	_, acquired, err = sync.AcquireSyncLease(context.Background(), ordersync.SyncFull, now+10, now+610)
	if err != nil {
		test.Fatalf("full acquire: %v", err)
	}
	if acquired {
		test.Fatal("full cycle started while the incremental lease was live")
	}

	if err := sync.ReleaseSyncLease(context.Background(), ordersync.SyncIncremental, cursor.HolderToken, ordersync.CycleCompleted, now); err != nil {
		test.Fatalf("release: %v", err)
	}
	_, acquired, err = sync.AcquireSyncLease(context.Background(), ordersync.SyncFull, now+20, now+620)
	if err != nil || !acquired {
		test.Fatalf("full acquire after release: acquired=%v err=%v", acquired, err)
	}
}

func TestStaleHolderCannotReleaseReclaimedLease(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	sync := store.OrderSync()
	const now = int64(1700000000)

	stale, acquired, err := sync.AcquireSyncLease(context.Background(), ordersync.SyncFull, now, now+10)
	if err != nil || !acquired {
		test.Fatalf("first acquire: acquired=%v err=%v", acquired, err)
	}
	current, acquired, err := sync.AcquireSyncLease(context.Background(), ordersync.SyncFull, now+11, now+611)
	if err != nil || !acquired {
		test.Fatalf("reclaim: acquired=%v err=%v", acquired, err)
	}
	if current.HolderToken == stale.HolderToken {
		test.Fatal("reclaim kept the previous holder token")
	}

	if err := sync.ReleaseSyncLease(context.Background(), ordersync.SyncFull, stale.HolderToken, ordersync.CycleFailed, now); err == nil {
		test.Fatal("stale holder release succeeded")
	}
	cursor, err := sync.GetSyncCursor(context.Background(), ordersync.SyncFull)
	if err != nil {
		test.Fatalf("get cursor: %v", err)
	}
	if cursor.State != ordersync.CycleRunning || cursor.HolderToken != current.HolderToken {
		test.Fatalf("stale release disturbed the live cycle: %+v", cursor)
	}

	if err := sync.ReleaseSyncLease(context.Background(), ordersync.SyncFull, current.HolderToken, ordersync.CycleCompleted, now+100); err != nil {
		test.Fatalf("live holder release: %v", err)
	}
}

func TestLinkDiscountCodeExternalIDSetsOnce(test *testing.T) {
	test.Parallel()
	store := mustOpenStore(test)
	sync := store.OrderSync()
	accountID := mustSeedAccount(test, store.Ledger(), "link-user", "1212121212")

	created, err := store.Discount().InsertDiscountCode(context.Background(), discount.DiscountCodeInput{
		AccountID:      accountID,
		Code:           "111222",
		DiscountCents:  500,
		CodeType:       discount.CodeTypeSweetsCreditsReward,
		ExpiresUnixUTC: 1710000000,
		CreatedUnixUTC: 1700000000,
	})
	if err != nil {
		test.Fatalf("insert code: %v", err)
	}

	if err := sync.LinkDiscountCodeExternalID(context.Background(), created.ID, 42); err != nil {
		test.Fatalf("link: %v", err)
	}
	if err := sync.LinkDiscountCodeExternalID(context.Background(), created.ID, 43); err != nil {
		test.Fatalf("repeat link: %v", err)
	}
	code, err := store.Discount().GetDiscountCode(context.Background(), created.ID)
	if err != nil {
		test.Fatalf("get code: %v", err)
	}
	if code.ExternalID == nil || *code.ExternalID != "42" {
		test.Fatalf("expected platform id 42 kept, got %+v", code.ExternalID)
	}
}

func mustOpenStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/store.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	store := New(db)
	if err := store.AutoMigrate(context.Background()); err != nil {
		test.Fatalf("automigrate failed: %v", err)
	}
	return store
}

func mustSeedAccount(test *testing.T, view ledger.Store, id string, memberCode string) ledger.AccountID {
	test.Helper()
	account, err := view.CreateAccount(context.Background(), ledger.Account{
		AccountID:  mustAccountID(test, id),
		MemberCode: mustMemberCode(test, memberCode),
		Tier:       ledger.TierFan,
	})
	if err != nil {
		test.Fatalf("seed account: %v", err)
	}
	return account.AccountID
}

func mustAccountID(test *testing.T, raw string) ledger.AccountID {
	test.Helper()
	accountID, err := ledger.NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id %q: %v", raw, err)
	}
	return accountID
}

func mustMemberCode(test *testing.T, raw string) ledger.MemberCode {
	test.Helper()
	memberCode, err := ledger.NewMemberCode(raw)
	if err != nil {
		test.Fatalf("member code %q: %v", raw, err)
	}
	return memberCode
}
