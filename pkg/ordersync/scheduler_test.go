package ordersync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sweetstamps/membership/pkg/ledger"
)

const testNowUnixUTC = 1700000000

func TestTriggerIngestsOrderAndRewardsStamps(test *testing.T) {
	test.Parallel()
	store := newStubSyncStore(test)
	accountID := store.ledger.mustSeedAccount(test, "acct-buyer", "1234567890", ledger.TierFan, 0, nil)
	gateway := newStubSyncGateway(test)
	gateway.orders = []OrderRecord{{
		ExternalID:       501,
		CreatedUnixMilli: (testNowUnixUTC - 100) * 1000,
		MemberCode:       "1234567890",
		PriceCents:       2500,
		ProductName:      "latte",
		ProductNo:        "ORD-501",
		Status:           1,
	}}
	scheduler := mustNewScheduler(test, store, gateway)

	report, err := scheduler.Trigger(context.Background(), Window{StartUnixUTC: testNowUnixUTC - 3600, EndUnixUTC: testNowUnixUTC})
	if err != nil {
		test.Fatalf("trigger: %v", err)
	}
	if report.State != CycleCompleted || report.OrdersProcessed != 1 || report.OrdersSkipped != 0 {
		test.Fatalf("unexpected report %+v", report)
	}
	account := store.ledger.mustAccount(test, accountID)
	if account.Stamps != 100 {
		test.Fatalf("expected 100 reward stamps, got %d", account.Stamps)
	}
	if _, found := store.orders[501]; !found {
		test.Fatal("expected the order projection to be persisted")
	}
	cursor := store.cursors[SyncIncremental]
	if cursor.WatermarkUnixUTC != testNowUnixUTC {
		test.Fatalf("expected watermark at window end, got %d", cursor.WatermarkUnixUTC)
	}
	if cursor.State != CycleCompleted {
		test.Fatalf("expected completed cursor, got %s", cursor.State)
	}
}

func TestDuplicateOrderRefreshesStatusWithoutSecondReward(test *testing.T) {
	test.Parallel()
	store := newStubSyncStore(test)
	accountID := store.ledger.mustSeedAccount(test, "acct-dup", "1234567891", ledger.TierFan, 0, nil)
	store.orders[700] = ExternalOrder{ExternalID: 700, AccountID: accountID, OrderStatus: 1, StampsEarned: 100}
	gateway := newStubSyncGateway(test)
	gateway.orders = []OrderRecord{{ExternalID: 700, MemberCode: "1234567891", PriceCents: 1000, Status: 3}}
	scheduler := mustNewScheduler(test, store, gateway)

	report, err := scheduler.Trigger(context.Background(), Window{StartUnixUTC: testNowUnixUTC - 3600, EndUnixUTC: testNowUnixUTC})
	if err != nil {
		test.Fatalf("trigger: %v", err)
	}
	if report.OrdersProcessed != 1 {
		test.Fatalf("expected the duplicate counted as processed, got %+v", report)
	}
	if len(store.ledger.transactions) != 0 {
		test.Fatalf("duplicate order credited the ledger: %d transactions", len(store.ledger.transactions))
	}
	if store.orders[700].OrderStatus != 3 {
		test.Fatalf("expected status refreshed to 3, got %d", store.orders[700].OrderStatus)
	}
}

func TestOrdersWithoutResolvableMemberAreSkipped(test *testing.T) {
	test.Parallel()
	store := newStubSyncStore(test)
	gateway := newStubSyncGateway(test)
	gateway.orders = []OrderRecord{
		{ExternalID: 801, MemberCode: "", PriceCents: 500},
		{ExternalID: 802, MemberCode: "not-numeric", PriceCents: 500},
		{ExternalID: 803, MemberCode: "9876543210", PriceCents: 500},
	}
	scheduler := mustNewScheduler(test, store, gateway)

	report, err := scheduler.Trigger(context.Background(), Window{StartUnixUTC: testNowUnixUTC - 3600, EndUnixUTC: testNowUnixUTC})
	if err != nil {
		test.Fatalf("trigger: %v", err)
	}
	if report.OrdersSkipped != 3 || report.OrdersProcessed != 0 {
		test.Fatalf("unexpected report %+v", report)
	}
	if report.State != CycleCompleted {
		test.Fatalf("skips must not fail the cycle, got %s", report.State)
	}
	if len(store.orders) != 0 {
		test.Fatalf("skipped orders were persisted: %d", len(store.orders))
	}
}

func TestCashbackCreditsBuyerAndReferrer(test *testing.T) {
	test.Parallel()
	store := newStubSyncStore(test)
	referrerID := store.ledger.mustSeedAccount(test, "acct-ref", "5555555555", ledger.TierShareholder, testNowUnixUTC+1000, nil)
	buyerID := store.ledger.mustSeedAccount(test, "acct-vip", "6666666666", ledger.TierSuperShareholder, testNowUnixUTC+1000, &referrerID)
	gateway := newStubSyncGateway(test)
	gateway.orders = []OrderRecord{{ExternalID: 900, MemberCode: "6666666666", PriceCents: 10000, ProductNo: "ORD-900"}}
	scheduler := mustNewScheduler(test, store, gateway)

	if _, err := scheduler.Trigger(context.Background(), Window{StartUnixUTC: testNowUnixUTC - 3600, EndUnixUTC: testNowUnixUTC}); err != nil {
		test.Fatalf("trigger: %v", err)
	}
	buyer := store.ledger.mustAccount(test, buyerID)
	if buyer.Stamps != 100 {
		test.Fatalf("expected 100 reward stamps, got %d", buyer.Stamps)
	}
	// 10% of the price for the super shareholder buyer.
	if buyer.BalanceCents != 1000 {
		test.Fatalf("expected 1000 cashback for buyer, got %d", buyer.BalanceCents)
	}
	// 5% of the price for the shareholder referrer.
	referrer := store.ledger.mustAccount(test, referrerID)
	if referrer.BalanceCents != 500 {
		test.Fatalf("expected 500 referral cashback, got %d", referrer.BalanceCents)
	}
}

func TestExpiredMembershipEarnsNoCashback(test *testing.T) {
	test.Parallel()
	store := newStubSyncStore(test)
	buyerID := store.ledger.mustSeedAccount(test, "acct-lapsed", "7777777777", ledger.TierShareholder, testNowUnixUTC-10, nil)
	gateway := newStubSyncGateway(test)
	gateway.orders = []OrderRecord{{ExternalID: 901, MemberCode: "7777777777", PriceCents: 10000}}
	scheduler := mustNewScheduler(test, store, gateway)

	if _, err := scheduler.Trigger(context.Background(), Window{StartUnixUTC: testNowUnixUTC - 3600, EndUnixUTC: testNowUnixUTC}); err != nil {
		test.Fatalf("trigger: %v", err)
	}
	buyer := store.ledger.mustAccount(test, buyerID)
	if buyer.BalanceCents != 0 {
		test.Fatalf("lapsed membership earned cashback: %d", buyer.BalanceCents)
	}
	if buyer.Stamps != 100 {
		test.Fatalf("reward stamps missing: %d", buyer.Stamps)
	}
}

func TestFetchFailureFailsCycleAndKeepsWatermark(test *testing.T) {
	test.Parallel()
	store := newStubSyncStore(test)
	store.cursors[SyncIncremental] = SyncCursor{SyncType: SyncIncremental, WatermarkUnixUTC: testNowUnixUTC - 5000, State: CycleCompleted}
	gateway := newStubSyncGateway(test)
	gateway.orderError = errors.New("upstream 500")
	scheduler := mustNewScheduler(test, store, gateway)

	report, err := scheduler.Trigger(context.Background(), Window{StartUnixUTC: testNowUnixUTC - 3600, EndUnixUTC: testNowUnixUTC})
	if !errors.Is(err, ErrSyncFailed) {
		test.Fatalf("expected ErrSyncFailed, got %v", err)
	}
	if report.State != CycleFailed {
		test.Fatalf("expected failed report, got %s", report.State)
	}
	if gateway.orderCalls != 3 {
		test.Fatalf("expected 3 fetch attempts, got %d", gateway.orderCalls)
	}
	cursor := store.cursors[SyncIncremental]
	if cursor.WatermarkUnixUTC != testNowUnixUTC-5000 {
		test.Fatalf("failed cycle moved the watermark to %d", cursor.WatermarkUnixUTC)
	}
	if cursor.State != CycleFailed {
		test.Fatalf("expected failed cursor, got %s", cursor.State)
	}
}

func TestTriggerRejectedWhileLeaseHeld(test *testing.T) {
	test.Parallel()
	store := newStubSyncStore(test)
	store.cursors[SyncIncremental] = SyncCursor{
		SyncType:            SyncIncremental,
		State:               CycleRunning,
		LeaseExpiresUnixUTC: testNowUnixUTC + 300,
	}
	scheduler := mustNewScheduler(test, store, newStubSyncGateway(test))

	_, err := scheduler.Trigger(context.Background(), Window{StartUnixUTC: testNowUnixUTC - 3600, EndUnixUTC: testNowUnixUTC})
	if !errors.Is(err, ErrSyncRunning) {
		test.Fatalf("expected ErrSyncRunning, got %v", err)
	}
}

func TestTriggerRejectedWhileOtherTypeRunning(test *testing.T) {
	test.Parallel()
	store := newStubSyncStore(test)
	store.cursors[SyncFull] = SyncCursor{
		SyncType:            SyncFull,
		State:               CycleRunning,
		LeaseExpiresUnixUTC: testNowUnixUTC + 300,
		HolderToken:         "holder-full",
	}
	scheduler := mustNewScheduler(test, store, newStubSyncGateway(test))

	// Manual triggers run as incremental cycles; a live full-sync lease
	// still blocks them since one cycle runs system-wide.
	_, err := scheduler.Trigger(context.Background(), Window{StartUnixUTC: testNowUnixUTC - 3600, EndUnixUTC: testNowUnixUTC})
	if !errors.Is(err, ErrSyncRunning) {
		test.Fatalf("expected ErrSyncRunning, got %v", err)
	}
	if cursor := store.cursors[SyncFull]; cursor.State != CycleRunning || cursor.HolderToken != "holder-full" {
		test.Fatalf("full-sync cursor disturbed: %+v", cursor)
	}
}

func TestExpiredLeaseIsReclaimed(test *testing.T) {
	test.Parallel()
	store := newStubSyncStore(test)
	store.cursors[SyncIncremental] = SyncCursor{
		SyncType:            SyncIncremental,
		State:               CycleRunning,
		LeaseExpiresUnixUTC: testNowUnixUTC - 1,
	}
	scheduler := mustNewScheduler(test, store, newStubSyncGateway(test))

	report, err := scheduler.Trigger(context.Background(), Window{StartUnixUTC: testNowUnixUTC - 3600, EndUnixUTC: testNowUnixUTC})
	if err != nil {
		test.Fatalf("trigger: %v", err)
	}
	if report.State != CycleCompleted {
		test.Fatalf("expected the stale lease reclaimed, got %s", report.State)
	}
}

func TestWatermarkNeverMovesBackward(test *testing.T) {
	test.Parallel()
	store := newStubSyncStore(test)
	store.cursors[SyncIncremental] = SyncCursor{SyncType: SyncIncremental, WatermarkUnixUTC: testNowUnixUTC, State: CycleCompleted}
	scheduler := mustNewScheduler(test, store, newStubSyncGateway(test))

	_, err := scheduler.Trigger(context.Background(), Window{StartUnixUTC: testNowUnixUTC - 7200, EndUnixUTC: testNowUnixUTC - 3600})
	if err != nil {
		test.Fatalf("trigger: %v", err)
	}
	cursor := store.cursors[SyncIncremental]
	if cursor.WatermarkUnixUTC != testNowUnixUTC {
		test.Fatalf("watermark regressed to %d", cursor.WatermarkUnixUTC)
	}
}

func TestCouponSyncMarksLocalCodeUsed(test *testing.T) {
	test.Parallel()
	store := newStubSyncStore(test)
	store.codes["123456"] = &stubCode{id: 1}
	store.codes["654321"] = &stubCode{id: 2}
	gateway := newStubSyncGateway(test)
	gateway.coupons = []CouponRecord{
		{ExternalID: 10, Code: "123456", Used: true, UsedUnixMilli: (testNowUnixUTC - 50) * 1000},
		{ExternalID: 11, Code: "654321", Used: false},
		{ExternalID: 12, Code: "999999", Used: true},
	}
	scheduler := mustNewScheduler(test, store, gateway)

	report, err := scheduler.Trigger(context.Background(), Window{StartUnixUTC: testNowUnixUTC - 3600, EndUnixUTC: testNowUnixUTC})
	if err != nil {
		test.Fatalf("trigger: %v", err)
	}
	if report.CouponsProcessed != 3 {
		test.Fatalf("expected 3 coupons processed, got %d", report.CouponsProcessed)
	}
	if !store.codes["123456"].used || store.codes["123456"].usedUnixUTC != testNowUnixUTC-50 {
		test.Fatalf("redeemed code not marked: %+v", store.codes["123456"])
	}
	if store.codes["123456"].externalID != 10 {
		test.Fatalf("platform coupon id not recorded: %+v", store.codes["123456"])
	}
	if store.codes["654321"].used {
		test.Fatal("unused code was marked used")
	}
	if store.codes["654321"].externalID != 11 {
		test.Fatalf("unused code missing platform coupon id: %+v", store.codes["654321"])
	}
}

func TestTriggerRejectsInvalidWindow(test *testing.T) {
	test.Parallel()
	store := newStubSyncStore(test)
	scheduler := mustNewScheduler(test, store, newStubSyncGateway(test))

	for _, window := range []Window{
		{StartUnixUTC: 0, EndUnixUTC: testNowUnixUTC},
		{StartUnixUTC: testNowUnixUTC, EndUnixUTC: testNowUnixUTC},
		{StartUnixUTC: testNowUnixUTC, EndUnixUTC: testNowUnixUTC - 1},
	} {
		_, err := scheduler.Trigger(context.Background(), window)
		if !errors.Is(err, ErrInvalidWindow) {
			test.Fatalf("window %+v: expected ErrInvalidWindow, got %v", window, err)
		}
	}
}

func mustNewScheduler(test *testing.T, store *stubSyncStore, gateway Gateway) *Scheduler {
	test.Helper()
	engine, err := ledger.NewService(store.ledger, func() int64 { return testNowUnixUTC })
	if err != nil {
		test.Fatalf("ledger service: %v", err)
	}
	scheduler, err := NewScheduler(store, gateway, engine, nil, func() int64 { return testNowUnixUTC },
		WithRetryBaseDelay(time.Millisecond))
	if err != nil {
		test.Fatalf("scheduler: %v", err)
	}
	return scheduler
}

// stubSyncGateway serves one fixed page of orders and coupons.
type stubSyncGateway struct {
	orders      []OrderRecord
	coupons     []CouponRecord
	orderError  error
	orderCalls  int
	couponCalls int
}

func newStubSyncGateway(test *testing.T) *stubSyncGateway {
	test.Helper()
	return &stubSyncGateway{}
}

func (gateway *stubSyncGateway) ListOrders(ctx context.Context, window Window, page int, pageSize int) (OrderPage, error) {
	gateway.orderCalls++
	if gateway.orderError != nil {
		return OrderPage{}, gateway.orderError
	}
	if page > 1 {
		return OrderPage{TotalPages: 1}, nil
	}
	return OrderPage{Records: gateway.orders, TotalPages: 1}, nil
}

func (gateway *stubSyncGateway) ListDiscountCodes(ctx context.Context, page int, pageSize int) (CouponPage, error) {
	gateway.couponCalls++
	if page > 1 {
		return CouponPage{TotalPages: 1}, nil
	}
	return CouponPage{Records: gateway.coupons, TotalPages: 1}, nil
}

type stubCode struct {
	id          int64
	used        bool
	usedUnixUTC int64
	externalID  int64
}

// stubSyncStore is an in-memory ordersync.Store over a stub ledger store.
type stubSyncStore struct {
	ledger     *stubLedgerStore
	orders     map[int64]ExternalOrder
	cursors    map[SyncType]SyncCursor
	codes      map[string]*stubCode
	leaseCount int
}

func newStubSyncStore(test *testing.T) *stubSyncStore {
	test.Helper()
	return &stubSyncStore{
		ledger:  newStubLedgerStore(test),
		orders:  make(map[int64]ExternalOrder),
		cursors: make(map[SyncType]SyncCursor),
		codes:   make(map[string]*stubCode),
	}
}

func (store *stubSyncStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubSyncStore) LedgerStore() ledger.Store {
	return store.ledger
}

func (store *stubSyncStore) AcquireSyncLease(ctx context.Context, syncType SyncType, nowUnixUTC int64, leaseUntilUnixUTC int64) (SyncCursor, bool, error) {
	for _, other := range store.cursors {
		if other.State == CycleRunning && other.LeaseExpiresUnixUTC > nowUnixUTC {
			return SyncCursor{}, false, nil
		}
	}
	cursor, found := store.cursors[syncType]
	if !found {
		cursor = SyncCursor{SyncType: syncType, State: CycleIdle}
	}
	store.leaseCount++
	cursor.State = CycleRunning
	cursor.LeaseExpiresUnixUTC = leaseUntilUnixUTC
	cursor.HolderToken = fmt.Sprintf("holder-%d", store.leaseCount)
	cursor.UpdatedUnixUTC = nowUnixUTC
	store.cursors[syncType] = cursor
	return cursor, true, nil
}

func (store *stubSyncStore) ReleaseSyncLease(ctx context.Context, syncType SyncType, holderToken string, state CycleState, watermarkUnixUTC int64) error {
	cursor, found := store.cursors[syncType]
	if !found || cursor.State != CycleRunning || cursor.HolderToken != holderToken {
		return ErrSyncFailed
	}
	cursor.State = state
	cursor.WatermarkUnixUTC = watermarkUnixUTC
	cursor.LeaseExpiresUnixUTC = 0
	cursor.HolderToken = ""
	store.cursors[syncType] = cursor
	return nil
}

func (store *stubSyncStore) GetSyncCursor(ctx context.Context, syncType SyncType) (SyncCursor, error) {
	cursor, found := store.cursors[syncType]
	if !found {
		return SyncCursor{SyncType: syncType, State: CycleIdle}, nil
	}
	return cursor, nil
}

func (store *stubSyncStore) GetExternalOrder(ctx context.Context, externalID int64) (ExternalOrder, bool, error) {
	order, found := store.orders[externalID]
	return order, found, nil
}

func (store *stubSyncStore) InsertExternalOrder(ctx context.Context, input ExternalOrderInput) error {
	if _, exists := store.orders[input.ExternalID]; exists {
		return ErrDuplicateOrder
	}
	store.orders[input.ExternalID] = ExternalOrder{
		ExternalID:        input.ExternalID,
		AccountID:         input.AccountID,
		MemberCode:        input.MemberCode,
		PriceCents:        input.PriceCents,
		ProductName:       input.ProductName,
		ProductNo:         input.ProductNo,
		OrderStatus:       input.OrderStatus,
		PayType:           input.PayType,
		StampsEarned:      input.StampsEarned,
		ExternalUnixMilli: input.ExternalUnixMilli,
		CreatedUnixUTC:    input.CreatedUnixUTC,
	}
	return nil
}

func (store *stubSyncStore) UpdateExternalOrderStatus(ctx context.Context, externalID int64, status int) error {
	order, found := store.orders[externalID]
	if !found {
		return ErrSyncFailed
	}
	order.OrderStatus = status
	store.orders[externalID] = order
	return nil
}

func (store *stubSyncStore) FindAccountByMemberCode(ctx context.Context, memberCode ledger.MemberCode) (ledger.Account, bool, error) {
	account, err := store.ledger.FindAccountByMemberCode(ctx, memberCode)
	if errors.Is(err, ledger.ErrUnknownAccount) {
		return ledger.Account{}, false, nil
	}
	if err != nil {
		return ledger.Account{}, false, err
	}
	return account, true, nil
}

func (store *stubSyncStore) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, bool, error) {
	account, err := store.ledger.GetAccount(ctx, accountID)
	if errors.Is(err, ledger.ErrUnknownAccount) {
		return ledger.Account{}, false, nil
	}
	if err != nil {
		return ledger.Account{}, false, err
	}
	return account, true, nil
}

func (store *stubSyncStore) FindDiscountCodeByCode(ctx context.Context, code string) (int64, bool, bool, error) {
	entry, found := store.codes[code]
	if !found {
		return 0, false, false, nil
	}
	return entry.id, entry.used, true, nil
}

func (store *stubSyncStore) MarkDiscountCodeUsed(ctx context.Context, localCodeID int64, usedUnixUTC int64) error {
	for _, entry := range store.codes {
		if entry.id == localCodeID && !entry.used {
			entry.used = true
			entry.usedUnixUTC = usedUnixUTC
		}
	}
	return nil
}

func (store *stubSyncStore) LinkDiscountCodeExternalID(ctx context.Context, localCodeID int64, externalID int64) error {
	for _, entry := range store.codes {
		if entry.id == localCodeID && entry.externalID == 0 {
			entry.externalID = externalID
		}
	}
	return nil
}

// stubLedgerStore is the minimal in-memory ledger.Store the reward and
// cashback paths touch.
type stubLedgerStore struct {
	accounts     map[string]ledger.Account
	byMemberCode map[string]string
	transactions []ledger.Transaction
	nextID       int
}

func newStubLedgerStore(test *testing.T) *stubLedgerStore {
	test.Helper()
	return &stubLedgerStore{
		accounts:     make(map[string]ledger.Account),
		byMemberCode: make(map[string]string),
	}
}

func (store *stubLedgerStore) mustSeedAccount(test *testing.T, id string, memberCode string, tier ledger.Tier, membershipExpires int64, referrerID *ledger.AccountID) ledger.AccountID {
	test.Helper()
	accountID, err := ledger.NewAccountID(id)
	if err != nil {
		test.Fatalf("account id %q: %v", id, err)
	}
	code, err := ledger.NewMemberCode(memberCode)
	if err != nil {
		test.Fatalf("member code %q: %v", memberCode, err)
	}
	store.accounts[id] = ledger.Account{
		AccountID:                accountID,
		MemberCode:               code,
		Tier:                     tier,
		MembershipExpiresUnixUTC: membershipExpires,
		ReferrerID:               referrerID,
	}
	store.byMemberCode[memberCode] = id
	return accountID
}

func (store *stubLedgerStore) mustAccount(test *testing.T, accountID ledger.AccountID) ledger.Account {
	test.Helper()
	account, found := store.accounts[accountID.String()]
	if !found {
		test.Fatalf("account %s missing from stub store", accountID.String())
	}
	return account
}

func (store *stubLedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store *stubLedgerStore) CreateAccount(ctx context.Context, account ledger.Account) (ledger.Account, error) {
	store.accounts[account.AccountID.String()] = account
	return account, nil
}

func (store *stubLedgerStore) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	account, found := store.accounts[accountID.String()]
	if !found {
		return ledger.Account{}, ledger.ErrUnknownAccount
	}
	return account, nil
}

func (store *stubLedgerStore) GetAccountForUpdate(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return store.GetAccount(ctx, accountID)
}

func (store *stubLedgerStore) FindAccountByMemberCode(ctx context.Context, memberCode ledger.MemberCode) (ledger.Account, error) {
	id, found := store.byMemberCode[memberCode.String()]
	if !found {
		return ledger.Account{}, ledger.ErrUnknownAccount
	}
	return store.accounts[id], nil
}

func (store *stubLedgerStore) UpdateAccountBalances(ctx context.Context, accountID ledger.AccountID, balance ledger.AmountCents, stamps ledger.StampCount) error {
	account, found := store.accounts[accountID.String()]
	if !found {
		return ledger.ErrUnknownAccount
	}
	account.BalanceCents = balance
	account.Stamps = stamps
	store.accounts[accountID.String()] = account
	return nil
}

func (store *stubLedgerStore) UpdateAccountTier(ctx context.Context, accountID ledger.AccountID, tier ledger.Tier, expiresUnixUTC int64) error {
	account, found := store.accounts[accountID.String()]
	if !found {
		return ledger.ErrUnknownAccount
	}
	account.Tier = tier
	account.MembershipExpiresUnixUTC = expiresUnixUTC
	store.accounts[accountID.String()] = account
	return nil
}

func (store *stubLedgerStore) InsertTransaction(ctx context.Context, input ledger.TransactionInput) (ledger.Transaction, error) {
	store.nextID++
	transaction := ledger.Transaction{
		TransactionID:     fmt.Sprintf("tx-%d", store.nextID),
		AccountID:         input.AccountID,
		Kind:              input.Kind,
		AmountCents:       input.AmountCents,
		Stamps:            input.Stamps,
		BalanceAfterCents: input.BalanceAfterCents,
		StampsAfter:       input.StampsAfter,
		Related:           input.Related,
		Description:       input.Description,
		CreatedUnixUTC:    input.CreatedUnixUTC,
	}
	store.transactions = append(store.transactions, transaction)
	return transaction, nil
}

func (store *stubLedgerStore) GetTransaction(ctx context.Context, transactionID string) (ledger.Transaction, error) {
	for _, transaction := range store.transactions {
		if transaction.TransactionID == transactionID {
			return transaction, nil
		}
	}
	return ledger.Transaction{}, ledger.ErrUnknownTransaction
}

func (store *stubLedgerStore) ListTransactions(ctx context.Context, accountID ledger.AccountID, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
	var matched []ledger.Transaction
	for index := len(store.transactions) - 1; index >= 0 && len(matched) < limit; index-- {
		if store.transactions[index].AccountID.String() == accountID.String() {
			matched = append(matched, store.transactions[index])
		}
	}
	return matched, nil
}

func (store *stubLedgerStore) ListTransactionsAscending(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	var matched []ledger.Transaction
	for _, transaction := range store.transactions {
		if transaction.AccountID.String() == accountID.String() {
			matched = append(matched, transaction)
		}
	}
	return matched, nil
}
