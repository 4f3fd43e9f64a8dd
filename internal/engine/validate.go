package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/orbit-engine/internal/numeric"
	"github.com/Aidin1998/orbit-engine/pkg/models"
)

var one = decimal.NewFromInt(1)

// quotePrecision is the grid quote amounts are quantized to. Quote values
// move on the price grid of the market.
func quotePrecision(m *models.Market) int32 {
	return m.PricePrecision
}

// validateAddOrder normalizes and checks the command against the market's
// parameters. It mutates req to default the time in force, to default the
// expiry of IOC/FOK orders to the command time, and to zero the base amount
// of market buys.
func (m *Market) validateAddOrder(req *AddOrderRequest) error {
	switch req.Side {
	case models.OrderSideBuy, models.OrderSideSell:
	default:
		return fmt.Errorf("%w: unknown side %q", ErrValidation, req.Side)
	}

	switch req.Type {
	case models.OrderTypeLimit:
		if req.TimeInForce == "" {
			req.TimeInForce = models.TimeInForceGTC
		}
	case models.OrderTypeMarket:
		// Market orders never rest; immediate semantics are implied.
		if req.TimeInForce == "" {
			req.TimeInForce = models.TimeInForceIOC
		}
		if req.TimeInForce == models.TimeInForceGTC {
			return fmt.Errorf("%w: market orders cannot be GTC", ErrValidation)
		}
		if req.PostOnly {
			return fmt.Errorf("%w: market orders cannot be post-only", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrValidation, req.Type)
	}

	switch req.TimeInForce {
	case models.TimeInForceGTC:
		if req.ExpiresAt != nil {
			return fmt.Errorf("%w: GTC orders cannot carry an expiry", ErrValidation)
		}
	case models.TimeInForceIOC, models.TimeInForceFOK:
		// IOC and FOK orders carry an expiry; they execute within the
		// command, so an absent expiry defaults to the command time.
		if req.ExpiresAt == nil {
			now := models.NowMilli()
			req.ExpiresAt = &now
		} else if *req.ExpiresAt <= models.NowMilli() {
			return fmt.Errorf("%w: expires_at is in the past", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown time in force %q", ErrValidation, req.TimeInForce)
	}

	for _, rate := range []decimal.Decimal{req.MakerFee, req.TakerFee} {
		if rate.IsNegative() || rate.GreaterThan(one) {
			return fmt.Errorf("%w: fee rate %s outside [0,1]", ErrValidation, rate)
		}
	}

	cfg := m.cfg
	if req.Type == models.OrderTypeLimit {
		if !req.Price.IsPositive() {
			return fmt.Errorf("%w: limit orders require a positive price", ErrValidation)
		}
		if err := numeric.CheckRange(req.Price); err != nil {
			return err
		}
		if err := numeric.RequireQuantized(req.Price, cfg.PricePrecision); err != nil {
			return fmt.Errorf("%w: price %s not on the %d-decimal grid", ErrValidation, req.Price, cfg.PricePrecision)
		}
		if !req.QuoteAmount.IsZero() {
			return fmt.Errorf("%w: limit orders specify base amount only", ErrValidation)
		}
		if err := m.validateBaseAmount(req.BaseAmount); err != nil {
			return err
		}
		notional := req.BaseAmount.Mul(req.Price)
		if err := numeric.CheckRange(notional); err != nil {
			return err
		}
		if notional.LessThan(cfg.MinQuoteAmount) {
			return fmt.Errorf("%w: notional %s below market minimum %s", ErrValidation, notional, cfg.MinQuoteAmount)
		}
		return nil
	}

	// Market order.
	if !req.Price.IsZero() {
		return fmt.Errorf("%w: market orders cannot carry a price", ErrValidation)
	}
	if req.Side == models.OrderSideBuy {
		// Market buy is specified by quote amount; base_amount is ignored and
		// treated as zero when both are supplied.
		req.BaseAmount = decimal.Zero
		if !req.QuoteAmount.IsPositive() {
			return fmt.Errorf("%w: market buy requires a positive quote amount", ErrValidation)
		}
		if err := numeric.CheckRange(req.QuoteAmount); err != nil {
			return err
		}
		if !numeric.IsQuantized(req.QuoteAmount, quotePrecision(cfg)) {
			return fmt.Errorf("%w: quote amount %s not on the %d-decimal grid", ErrValidation, req.QuoteAmount, quotePrecision(cfg))
		}
		if req.QuoteAmount.LessThan(cfg.MinQuoteAmount) {
			return fmt.Errorf("%w: quote amount %s below market minimum %s", ErrValidation, req.QuoteAmount, cfg.MinQuoteAmount)
		}
		return nil
	}
	if !req.QuoteAmount.IsZero() {
		return fmt.Errorf("%w: market sell is specified by base amount only", ErrValidation)
	}
	return m.validateBaseAmount(req.BaseAmount)
}

func (m *Market) validateBaseAmount(base decimal.Decimal) error {
	if !base.IsPositive() {
		return fmt.Errorf("%w: base amount must be positive", ErrValidation)
	}
	if err := numeric.CheckRange(base); err != nil {
		return err
	}
	if !numeric.IsQuantized(base, m.cfg.AmountPrecision) {
		return fmt.Errorf("%w: base amount %s not on the %d-decimal grid", ErrValidation, base, m.cfg.AmountPrecision)
	}
	if base.LessThan(m.cfg.MinBaseAmount) {
		return fmt.Errorf("%w: base amount %s below market minimum %s", ErrValidation, base, m.cfg.MinBaseAmount)
	}
	return nil
}

// checkClientOrderID enforces (user, client_order_id) uniqueness among open
// orders of this market.
func (m *Market) checkClientOrderID(req *AddOrderRequest) error {
	if req.ClientOrderID == nil || *req.ClientOrderID == "" {
		return nil
	}
	if ids, ok := m.clientIDs[req.UserID]; ok {
		if _, dup := ids[*req.ClientOrderID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateClientOrderID, *req.ClientOrderID)
		}
	}
	return nil
}

// isValidationKind reports whether err leaves the book untouched by policy.
func isValidationKind(err error) bool {
	for _, kind := range []error{
		ErrValidation, ErrInsufficientFunds, ErrPostOnlyCross,
		ErrFillOrKillUnfillable, ErrDuplicateClientOrderID, ErrOrderNotFound,
		ErrNumericOverflow,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
