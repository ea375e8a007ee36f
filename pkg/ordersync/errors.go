package ordersync

import "errors"

// Domain-level error values returned by the sync scheduler.
var (
	ErrSyncRunning          = errors.New("a sync cycle is already running")
	ErrSyncFailed           = errors.New("sync cycle failed")
	ErrInvalidSyncType      = errors.New("invalid sync type")
	ErrInvalidWindow        = errors.New("invalid sync window")
	ErrInvalidServiceConfig = errors.New("invalid scheduler config")
	ErrDuplicateOrder       = errors.New("external order already recorded")
)
