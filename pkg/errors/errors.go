// Package apperrors defines the sentinel error taxonomy the trading core
// distinguishes. Components classify failures with errors.Is
// against these sentinels rather than inspecting exchange-specific text.
package apperrors

import "errors"

var (
	// ErrTransient marks a network blip or 5xx response: the Gateway
	// retries it internally (internal/exchange/httpx); callers above the Gateway never
	// see it directly unless retries are exhausted.
	ErrTransient = errors.New("transient exchange error")

	// ErrInvalidCredentials is terminal for the owning bot: the Order
	// Monitor stops the bot and notifies.
	ErrInvalidCredentials = errors.New("invalid exchange credentials")

	// ErrInsufficientFunds is surfaced, never retried.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidOrder covers price/amount outside exchange constraints.
	ErrInvalidOrder = errors.New("invalid order parameters")

	// ErrOrderNotFound on cancel is treated as success by callers.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInternal marks an invariant violation (e.g. a fill observed for
	// an unknown bot); the triggering transaction is rolled back and the
	// error is logged at error severity.
	ErrInternal = errors.New("internal invariant violation")
)

// IsTransient reports whether err should be retried by pkg/retry. Only
// ErrTransient retries; everything else — including errors the Gateway
// doesn't recognize — is treated as non-retryable by the caller's
// discretion (conservative default: do not retry unknown errors).
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsTerminal reports whether err should stop the owning bot's monitor
// supervisor outright.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}
