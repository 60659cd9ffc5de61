package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotRunning      = errors.New("engine not running")
	ErrAlreadyRunning  = errors.New("engine already running")
	ErrMissingWallet   = errors.New("no target wallets configured")
	ErrMissingKey      = errors.New("no venue credentials configured")
	ErrNoPosition      = errors.New("no open position for market")
	ErrDuplicateOpen   = errors.New("position already open for market")
	ErrMarketResolved  = errors.New("market resolved")
	ErrLockHeld        = errors.New("lock already held")
	ErrScorerRejected  = errors.New("advisory scorer rejected signal")
	ErrContextDone     = errors.New("context cancelled")
)
