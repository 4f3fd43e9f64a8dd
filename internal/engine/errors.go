package engine

import (
	"errors"

	"github.com/Aidin1998/orbit-engine/internal/numeric"
	"github.com/Aidin1998/orbit-engine/internal/orderbook"
	"github.com/Aidin1998/orbit-engine/internal/wallet"
)

// Error kinds returned across the command boundary. Callers match with
// errors.Is; everything carries wrapped context.
var (
	// ErrValidation covers malformed input, precision violations and
	// min-amount violations.
	ErrValidation = errors.New("validation error")

	// ErrMarketNotFound is returned for commands addressing an unknown market.
	ErrMarketNotFound = errors.New("market not found")

	// ErrMarketNotActive is returned when orders arrive outside Active state.
	ErrMarketNotActive = errors.New("market not active")

	// ErrInsufficientFunds propagates the ledger's reservation failure.
	ErrInsufficientFunds = wallet.ErrInsufficientFunds

	// ErrDuplicateClientOrderID flags a reused (user, client_order_id).
	ErrDuplicateClientOrderID = errors.New("duplicate client order id")

	// ErrPostOnlyCross rejects a post-only order that would cross at entry.
	ErrPostOnlyCross = errors.New("post-only order would cross")

	// ErrFillOrKillUnfillable rejects a FOK order the book cannot fully fill.
	ErrFillOrKillUnfillable = errors.New("fill-or-kill order cannot be fully filled")

	// ErrOrderNotFound propagates from cancellation of unknown or terminal ids.
	ErrOrderNotFound = orderbook.ErrOrderNotFound

	// ErrNumericOverflow propagates from the arithmetic envelope.
	ErrNumericOverflow = numeric.ErrOverflow

	// ErrPersistence wraps store failures after the in-memory journal has
	// been rolled back.
	ErrPersistence = errors.New("persistence error")

	// ErrInternal marks an invariant violation. The market worker stops the
	// market and refuses further orders.
	ErrInternal = errors.New("internal invariant violation")
)
