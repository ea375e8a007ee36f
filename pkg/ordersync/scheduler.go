package ordersync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPageSize        = 100
	defaultInterval        = time.Minute
	defaultFullInterval    = 24 * time.Hour
	defaultLeaseSeconds    = int64(10 * 60)
	defaultRetryBaseDelay  = 500 * time.Millisecond
	fetchAttempts          = 3
	incrementalLookbackSec = int64(24 * 3600)

	// Fixed purchase reward: the $0.50-equivalent in stamps per
	// qualifying order (200 stamps per dollar).
	orderRewardStamps = 100

	cashbackDivisor = 10000
)

// SchedulerOption configures a Scheduler instance.
type SchedulerOption func(*Scheduler)

// WithPageSize overrides the gateway page size.
func WithPageSize(pageSize int) SchedulerOption {
	return func(scheduler *Scheduler) {
		if pageSize > 0 {
			scheduler.pageSize = pageSize
		}
	}
}

// WithIntervals overrides the incremental and full cycle periods.
func WithIntervals(incremental time.Duration, full time.Duration) SchedulerOption {
	return func(scheduler *Scheduler) {
		if incremental > 0 {
			scheduler.interval = incremental
		}
		if full > 0 {
			scheduler.fullInterval = full
		}
	}
}

// WithRetryBaseDelay overrides the first backoff delay for page fetches.
func WithRetryBaseDelay(delay time.Duration) SchedulerOption {
	return func(scheduler *Scheduler) {
		if delay > 0 {
			scheduler.retryBaseDelay = delay
		}
	}
}

// Scheduler pulls external orders and coupons into the local projection and
// credits purchase rewards. At most one cycle runs at a time system-wide,
// enforced through the durable cursor lease.
type Scheduler struct {
	store          Store
	gateway        Gateway
	engine         LedgerEngine
	logger         *zap.Logger
	nowFn          func() int64
	pageSize       int
	interval       time.Duration
	fullInterval   time.Duration
	leaseSeconds   int64
	retryBaseDelay time.Duration
}

// NewScheduler wires a Scheduler.
func NewScheduler(store Store, gateway Gateway, engine LedgerEngine, logger *zap.Logger, now func() int64, options ...SchedulerOption) (*Scheduler, error) {
	if store == nil || gateway == nil || engine == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler := &Scheduler{
		store:          store,
		gateway:        gateway,
		engine:         engine,
		logger:         logger,
		nowFn:          now,
		pageSize:       defaultPageSize,
		interval:       defaultInterval,
		fullInterval:   defaultFullInterval,
		leaseSeconds:   defaultLeaseSeconds,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		if option != nil {
			option(scheduler)
		}
	}
	return scheduler, nil
}

// Run drives timer-based cycles until the context is canceled. A cycle that
// already started runs to completion; cancellation takes effect between
// cycles.
func (scheduler *Scheduler) Run(ctx context.Context) {
	incremental := time.NewTicker(scheduler.interval)
	defer incremental.Stop()
	full := time.NewTicker(scheduler.fullInterval)
	defer full.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-incremental.C:
			scheduler.runLogged(ctx, SyncIncremental, nil)
		case <-full.C:
			scheduler.runLogged(ctx, SyncFull, nil)
		}
	}
}

// Trigger runs one manual cycle over the caller's window. It is rejected
// with ErrSyncRunning while another cycle holds the lease.
func (scheduler *Scheduler) Trigger(ctx context.Context, window Window) (Report, error) {
	if window.StartUnixUTC <= 0 || window.EndUnixUTC <= window.StartUnixUTC {
		return Report{}, ErrInvalidWindow
	}
	return scheduler.runCycle(ctx, SyncIncremental, &window)
}

func (scheduler *Scheduler) runLogged(ctx context.Context, syncType SyncType, window *Window) {
	report, err := scheduler.runCycle(ctx, syncType, window)
	if err != nil {
		if err == ErrSyncRunning {
			scheduler.logger.Debug("sync cycle skipped, lease held", zap.String("sync_type", syncType.String()))
			return
		}
		scheduler.logger.Error("sync cycle failed",
			zap.String("sync_type", syncType.String()),
			zap.Int64("window_start", report.Window.StartUnixUTC),
			zap.Int64("window_end", report.Window.EndUnixUTC),
			zap.Error(err))
		return
	}
	scheduler.logger.Info("sync cycle completed",
		zap.String("sync_type", syncType.String()),
		zap.Int("orders_processed", report.OrdersProcessed),
		zap.Int("orders_skipped", report.OrdersSkipped),
		zap.Int("coupons_processed", report.CouponsProcessed))
}

func (scheduler *Scheduler) runCycle(ctx context.Context, syncType SyncType, manual *Window) (Report, error) {
	nowUnixUTC := scheduler.nowFn()
	cursor, acquired, err := scheduler.store.AcquireSyncLease(ctx, syncType, nowUnixUTC, nowUnixUTC+scheduler.leaseSeconds)
	if err != nil {
		return Report{}, err
	}
	if !acquired {
		return Report{}, ErrSyncRunning
	}

	window := scheduler.windowFor(syncType, cursor, nowUnixUTC, manual)
	report := Report{SyncType: syncType, Window: window, State: CycleRunning}

	cycleError := scheduler.syncOrders(ctx, window, &report)
	if cycleError == nil {
		cycleError = scheduler.syncCoupons(ctx, &report)
	}

	if cycleError != nil {
		report.State = CycleFailed
		// The watermark stays at the window start so the next run
		// re-covers the failed window in full.
		if releaseErr := scheduler.store.ReleaseSyncLease(ctx, syncType, cursor.HolderToken, CycleFailed, cursor.WatermarkUnixUTC); releaseErr != nil {
			scheduler.logger.Error("sync lease release failed", zap.Error(releaseErr))
		}
		return report, fmt.Errorf("%w: %v", ErrSyncFailed, cycleError)
	}

	report.State = CycleCompleted
	watermark := window.EndUnixUTC
	if cursor.WatermarkUnixUTC > watermark {
		watermark = cursor.WatermarkUnixUTC
	}
	if err := scheduler.store.ReleaseSyncLease(ctx, syncType, cursor.HolderToken, CycleCompleted, watermark); err != nil {
		return report, err
	}
	return report, nil
}

func (scheduler *Scheduler) windowFor(syncType SyncType, cursor SyncCursor, nowUnixUTC int64, manual *Window) Window {
	if manual != nil {
		return *manual
	}
	if syncType == SyncFull {
		return Window{StartUnixUTC: nowUnixUTC - incrementalLookbackSec, EndUnixUTC: nowUnixUTC}
	}
	start := cursor.WatermarkUnixUTC
	if start <= 0 {
		start = nowUnixUTC - incrementalLookbackSec
	}
	return Window{StartUnixUTC: start, EndUnixUTC: nowUnixUTC}
}

func (scheduler *Scheduler) syncOrders(ctx context.Context, window Window, report *Report) error {
	for page := 1; ; page++ {
		orderPage, err := scheduler.fetchOrderPage(ctx, window, page)
		if err != nil {
			return err
		}
		for _, record := range orderPage.Records {
			processed, err := scheduler.processOrder(ctx, record)
			if err != nil {
				return err
			}
			if processed {
				report.OrdersProcessed++
			} else {
				report.OrdersSkipped++
			}
		}
		if page >= orderPage.TotalPages || len(orderPage.Records) == 0 {
			return nil
		}
	}
}

func (scheduler *Scheduler) syncCoupons(ctx context.Context, report *Report) error {
	for page := 1; ; page++ {
		couponPage, err := scheduler.fetchCouponPage(ctx, page)
		if err != nil {
			return err
		}
		for _, record := range couponPage.Records {
			if err := scheduler.processCoupon(ctx, record); err != nil {
				return err
			}
			report.CouponsProcessed++
		}
		if page >= couponPage.TotalPages || len(couponPage.Records) == 0 {
			return nil
		}
	}
}

func (scheduler *Scheduler) fetchOrderPage(ctx context.Context, window Window, page int) (OrderPage, error) {
	var lastError error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		orderPage, err := scheduler.gateway.ListOrders(ctx, window, page, scheduler.pageSize)
		if err == nil {
			return orderPage, nil
		}
		lastError = err
		scheduler.backoff(attempt)
	}
	return OrderPage{}, fmt.Errorf("order page %d: %w", page, lastError)
}

func (scheduler *Scheduler) fetchCouponPage(ctx context.Context, page int) (CouponPage, error) {
	var lastError error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		couponPage, err := scheduler.gateway.ListDiscountCodes(ctx, page, scheduler.pageSize)
		if err == nil {
			return couponPage, nil
		}
		lastError = err
		scheduler.backoff(attempt)
	}
	return CouponPage{}, fmt.Errorf("coupon page %d: %w", page, lastError)
}

func (scheduler *Scheduler) backoff(attempt int) {
	if attempt >= fetchAttempts {
		return
	}
	time.Sleep(scheduler.retryBaseDelay << (attempt - 1))
}
