package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Storage errors
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrLockNotAcquired    = errors.New("lock held by another instance")

	// Payment gate errors
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentExpired       = errors.New("payment expired")
	ErrPaymentAlreadyFailed = errors.New("payment already failed")
	ErrPaymentNotVerified   = errors.New("payment not verified")
	ErrPaymentMismatch      = errors.New("payment was issued for another purpose")
	ErrPaymentConsumed      = errors.New("payment already used")
	ErrPricingNotFound      = errors.New("no pricing configured")
	ErrChainNotConfigured   = errors.New("chain not configured")
	ErrUnsupportedCurrency  = errors.New("currency not supported by chain")
	ErrNoPaymentOptions     = errors.New("no payment options available")
	ErrProviderFailure      = errors.New("payment provider failure")
	ErrVerificationTimeout  = errors.New("timeout")
	ErrRateLimited          = errors.New("rate limit exceeded")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidTier          = errors.New("invalid tier")
	ErrInvalidInterval      = errors.New("invalid billing interval")
)
