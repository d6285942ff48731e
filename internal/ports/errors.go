package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Lifecycle Errors
	// ErrInsufficientBalance discards the entry intent for the cycle; no
	// retry with reduced size is ever attempted.
	ErrInsufficientBalance = errors.New("projected margin exceeds free balance")
	ErrUnknownSymbol       = errors.New("no sizing metadata for symbol")
	ErrSizeBelowMinimum    = errors.New("computed contracts below exchange minimum")
	ErrOrderRejected       = errors.New("order rejected by exchange")
	// ErrExitConfirmationTimeout is fatal: the position's true state is too
	// ambiguous to auto-resolve and requires operator intervention.
	ErrExitConfirmationTimeout = errors.New("exit confirmation not obtained within retry bound")
	// ErrReconciliationMismatch is fatal: tracked state diverged from the
	// exchange-reported state and must not be silently corrected.
	ErrReconciliationMismatch = errors.New("tracked state does not match exchange-reported state")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrPositionNotFound     = errors.New("position not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
