package engine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/orbit-engine/internal/orderbook"
	"github.com/Aidin1998/orbit-engine/pkg/models"
)

// AddOrderRequest is the order-entry command payload. Fee rates are resolved
// by the caller (market defaults unless overridden) before submission.
type AddOrderRequest struct {
	MarketID      string
	UserID        uuid.UUID
	Type          string
	Side          string
	Price         decimal.Decimal
	BaseAmount    decimal.Decimal
	QuoteAmount   decimal.Decimal
	MakerFee      decimal.Decimal
	TakerFee      decimal.Decimal
	ClientOrderID *string
	PostOnly      bool
	TimeInForce   string
	ExpiresAt     *int64
}

// AddOrderResult carries the taker order's final state for this command and
// the trades produced by matching.
type AddOrderResult struct {
	Order  *models.Order
	Trades []*models.Trade
}

// DepthSnapshot is the aggregated ladder view served to read paths.
type DepthSnapshot struct {
	MarketID string                 `json:"market_id"`
	Bids     []orderbook.DepthLevel `json:"bids"`
	Asks     []orderbook.DepthLevel `json:"asks"`
}

// MarketStatus is the verbose worker state served by diagnostics endpoints.
type MarketStatus struct {
	MarketID      string          `json:"market_id"`
	State         string          `json:"state"`
	RestingOrders int             `json:"resting_orders"`
	LastPrice     decimal.Decimal `json:"last_price"`
}

type cmdKind int

const (
	cmdAddOrder cmdKind = iota
	cmdCancelOrder
	cmdCancelAll
	cmdStart
	cmdStop
	cmdGetOrder
	cmdDepth
	cmdStatus
)

type command struct {
	kind    cmdKind
	add     *AddOrderRequest
	orderID uuid.UUID
	limit   int
	resp    chan cmdResult
}

type cmdResult struct {
	order  *models.Order
	orders []*models.Order
	trades []*models.Trade
	depth  *DepthSnapshot
	status *MarketStatus
	err    error
}
