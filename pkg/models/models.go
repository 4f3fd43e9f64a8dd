package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order types
const (
	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"
)

// Order sides
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// Order statuses
const (
	OrderStatusOpen            = "OPEN"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
)

// Time in force
const (
	TimeInForceGTC = "GTC" // Good Till Canceled
	TimeInForceIOC = "IOC" // Immediate Or Cancel
	TimeInForceFOK = "FOK" // Fill Or Kill
)

// Market statuses as persisted. The registry lifecycle maps Created to
// inactive, Active to active and Stopped to suspended.
const (
	MarketStatusActive    = "ACTIVE"
	MarketStatusInactive  = "INACTIVE"
	MarketStatusSuspended = "SUSPENDED"
)

// NowMilli returns the current wall clock as Unix milliseconds, the timestamp
// representation used across all persisted rows.
func NowMilli() int64 {
	return time.Now().UTC().UnixMilli()
}

// Market describes a trading pair and its matching parameters.
type Market struct {
	ID              string          `json:"id" gorm:"primaryKey"`
	BaseAsset       string          `json:"base_asset" gorm:"uniqueIndex:idx_markets_pair"`
	QuoteAsset      string          `json:"quote_asset" gorm:"uniqueIndex:idx_markets_pair"`
	DefaultMakerFee decimal.Decimal `json:"default_maker_fee" gorm:"type:decimal(30,8)"`
	DefaultTakerFee decimal.Decimal `json:"default_taker_fee" gorm:"type:decimal(30,8)"`
	MinBaseAmount   decimal.Decimal `json:"min_base_amount" gorm:"type:decimal(30,8)"`
	MinQuoteAmount  decimal.Decimal `json:"min_quote_amount" gorm:"type:decimal(30,8)"`
	PricePrecision  int32           `json:"price_precision"`
	AmountPrecision int32           `json:"amount_precision"`
	Status          string          `json:"status" gorm:"index"`
	CreateTime      int64           `json:"create_time"`
	UpdateTime      int64           `json:"update_time"`
}

// Order is a limit or market order. RemainedBase/RemainedQuote track what is
// still matchable and what is still reserved in the wallet ledger; both only
// decrease after entry.
type Order struct {
	ID            uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	MarketID      string          `json:"market_id" gorm:"index:idx_orders_book,priority:1"`
	UserID        uuid.UUID       `json:"user_id" gorm:"type:uuid;index:idx_orders_user,priority:1;uniqueIndex:idx_orders_client,priority:1"`
	Type          string          `json:"order_type"`
	Side          string          `json:"side" gorm:"index:idx_orders_book,priority:2"`
	Price         decimal.Decimal `json:"price" gorm:"type:decimal(30,8);index:idx_orders_book,priority:3"`
	BaseAmount    decimal.Decimal `json:"base_amount" gorm:"type:decimal(30,8)"`
	QuoteAmount   decimal.Decimal `json:"quote_amount" gorm:"type:decimal(30,8)"`
	MakerFee      decimal.Decimal `json:"maker_fee" gorm:"type:decimal(30,8)"`
	TakerFee      decimal.Decimal `json:"taker_fee" gorm:"type:decimal(30,8)"`
	RemainedBase  decimal.Decimal `json:"remained_base" gorm:"type:decimal(30,8)"`
	RemainedQuote decimal.Decimal `json:"remained_quote" gorm:"type:decimal(30,8)"`
	FilledBase    decimal.Decimal `json:"filled_base" gorm:"type:decimal(30,8)"`
	FilledQuote   decimal.Decimal `json:"filled_quote" gorm:"type:decimal(30,8)"`
	FilledFee     decimal.Decimal `json:"filled_fee" gorm:"type:decimal(30,8)"`
	Status        string          `json:"status" gorm:"index"`
	ClientOrderID *string         `json:"client_order_id,omitempty" gorm:"uniqueIndex:idx_orders_client,priority:2,where:client_order_id IS NOT NULL"`
	PostOnly      bool            `json:"post_only"`
	TimeInForce   string          `json:"time_in_force"`
	ExpiresAt     *int64          `json:"expires_at,omitempty"`
	CreateTime    int64           `json:"create_time" gorm:"index:idx_orders_user,priority:2"`
	UpdateTime    int64           `json:"update_time"`
}

// Clone returns a deep copy of the order. decimal.Decimal is immutable, so a
// shallow copy of the value fields is sufficient; pointer fields are re-boxed.
func (o *Order) Clone() *Order {
	c := *o
	if o.ClientOrderID != nil {
		v := *o.ClientOrderID
		c.ClientOrderID = &v
	}
	if o.ExpiresAt != nil {
		v := *o.ExpiresAt
		c.ExpiresAt = &v
	}
	return &c
}

// IsTerminal reports whether the order can no longer rest or match.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	}
	return false
}

// Trade is one match between a resting maker and an incoming taker.
type Trade struct {
	ID            uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	Timestamp     int64           `json:"timestamp" gorm:"index:idx_trades_market,priority:2"`
	MarketID      string          `json:"market_id" gorm:"index:idx_trades_market,priority:1"`
	Price         decimal.Decimal `json:"price" gorm:"type:decimal(30,8)"`
	BaseAmount    decimal.Decimal `json:"base_amount" gorm:"type:decimal(30,8)"`
	QuoteAmount   decimal.Decimal `json:"quote_amount" gorm:"type:decimal(30,8)"`
	BuyerUserID   uuid.UUID       `json:"buyer_user_id" gorm:"type:uuid"`
	BuyerOrderID  uuid.UUID       `json:"buyer_order_id" gorm:"type:uuid;index"`
	BuyerFee      decimal.Decimal `json:"buyer_fee" gorm:"type:decimal(30,8)"`
	SellerUserID  uuid.UUID       `json:"seller_user_id" gorm:"type:uuid"`
	SellerOrderID uuid.UUID       `json:"seller_order_id" gorm:"type:uuid;index"`
	SellerFee     decimal.Decimal `json:"seller_fee" gorm:"type:decimal(30,8)"`
	TakerSide     string          `json:"taker_side"`
	IsLiquidation bool            `json:"is_liquidation"`
}

// Wallet is one ledger row, keyed by (user, asset).
type Wallet struct {
	UserID         uuid.UUID       `json:"user_id" gorm:"primaryKey;type:uuid"`
	Asset          string          `json:"asset" gorm:"primaryKey"`
	Available      decimal.Decimal `json:"available" gorm:"type:decimal(30,8)"`
	Locked         decimal.Decimal `json:"locked" gorm:"type:decimal(30,8)"`
	Reserved       decimal.Decimal `json:"reserved" gorm:"type:decimal(30,8)"`
	TotalDeposited decimal.Decimal `json:"total_deposited" gorm:"type:decimal(30,8)"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn" gorm:"type:decimal(30,8)"`
	UpdateTime     int64           `json:"update_time"`
}

// Clone returns a copy of the wallet row.
func (w *Wallet) Clone() *Wallet {
	c := *w
	return &c
}

// FeeTreasury accumulates collected fees per (market, asset).
type FeeTreasury struct {
	MarketID        string          `json:"market_id" gorm:"primaryKey"`
	Asset           string          `json:"asset" gorm:"primaryKey"`
	TreasuryAddress string          `json:"treasury_address"`
	CollectedAmount decimal.Decimal `json:"collected_amount" gorm:"type:decimal(30,8)"`
	LastUpdateTime  int64           `json:"last_update_time"`
}

// MarketStats is the rolling 24h view of a market.
type MarketStats struct {
	MarketID       string          `json:"market_id" gorm:"primaryKey"`
	High24h        decimal.Decimal `json:"high_24h" gorm:"type:decimal(30,8)"`
	Low24h         decimal.Decimal `json:"low_24h" gorm:"type:decimal(30,8)"`
	Volume24h      decimal.Decimal `json:"volume_24h" gorm:"type:decimal(30,8)"`
	PriceChange24h decimal.Decimal `json:"price_change_24h" gorm:"type:decimal(30,8)"`
	LastPrice      decimal.Decimal `json:"last_price" gorm:"type:decimal(30,8)"`
	LastUpdateTime int64           `json:"last_update_time"`
}
