// Package orderbook implements the per-market book: two price-indexed ladders
// of FIFO price levels plus an order index for O(log P) cancellation. The book
// lives only in memory and is owned by a single market worker; recovery
// rebuilds it from the open orders in storage.
package orderbook

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/Aidin1998/orbit-engine/pkg/models"
)

// ErrOrderNotFound is returned when an order id does not rest on the book.
var ErrOrderNotFound = errors.New("order not found")

// DepthLevel is one aggregated ladder entry for depth snapshots.
type DepthLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderBook keeps bids descending and asks ascending so that Min() of either
// ladder is the best price on that side.
type OrderBook struct {
	MarketID string

	bids  *btree.BTreeG[*PriceLevel]
	asks  *btree.BTreeG[*PriceLevel]
	index map[uuid.UUID]*PriceLevel

	lastPrice decimal.Decimal
}

// NewOrderBook returns an empty book for the market.
func NewOrderBook(marketID string) *OrderBook {
	return &OrderBook{
		MarketID: marketID,
		bids: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return a.Price.GreaterThan(b.Price)
		}),
		asks: btree.NewBTreeG(func(a, b *PriceLevel) bool {
			return a.Price.LessThan(b.Price)
		}),
		index: make(map[uuid.UUID]*PriceLevel),
	}
}

func (ob *OrderBook) ladder(side string) *btree.BTreeG[*PriceLevel] {
	if side == models.OrderSideBuy {
		return ob.bids
	}
	return ob.asks
}

// opposite returns the ladder an incoming order on side matches against.
func opposite(side string) string {
	if side == models.OrderSideBuy {
		return models.OrderSideSell
	}
	return models.OrderSideBuy
}

// Len returns the number of resting orders on the book.
func (ob *OrderBook) Len() int {
	return len(ob.index)
}

// LastPrice returns the price of the most recent trade on this market, or
// zero before the first trade.
func (ob *OrderBook) LastPrice() decimal.Decimal {
	return ob.lastPrice
}

// SetLastPrice records the most recent trade price.
func (ob *OrderBook) SetLastPrice(p decimal.Decimal) {
	ob.lastPrice = p
}

// Add rests an order at the tail of its price level, creating the level if
// needed.
func (ob *OrderBook) Add(o *models.Order) error {
	tree := ob.ladder(o.Side)
	probe := &PriceLevel{Price: o.Price}
	level, ok := tree.Get(probe)
	if !ok {
		level = NewPriceLevel(o.Price, o.Side)
		tree.Set(level)
	}
	if err := level.PushBack(o); err != nil {
		return err
	}
	ob.index[o.ID] = level
	return nil
}

// AddFront re-inserts an order at the head of its level. Journal rollback
// uses this to restore a consumed maker's time priority.
func (ob *OrderBook) AddFront(o *models.Order) error {
	tree := ob.ladder(o.Side)
	probe := &PriceLevel{Price: o.Price}
	level, ok := tree.Get(probe)
	if !ok {
		level = NewPriceLevel(o.Price, o.Side)
		tree.Set(level)
	}
	if err := level.PushFront(o); err != nil {
		return err
	}
	ob.index[o.ID] = level
	return nil
}

// Get returns the resting order with the given id.
func (ob *OrderBook) Get(id uuid.UUID) (*models.Order, bool) {
	level, ok := ob.index[id]
	if !ok {
		return nil, false
	}
	for _, o := range level.Orders() {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}

// Remove takes the order off its level, dropping the level if it empties.
func (ob *OrderBook) Remove(id uuid.UUID) (*models.Order, error) {
	level, ok := ob.index[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o := level.Remove(id)
	if o == nil {
		return nil, ErrOrderNotFound
	}
	delete(ob.index, id)
	if level.Len() == 0 {
		ob.ladder(level.Side).Delete(level)
	}
	return o, nil
}

// PopBest removes and returns the front order of the best level on side,
// dropping the level if it empties.
func (ob *OrderBook) PopBest(side string) *models.Order {
	tree := ob.ladder(side)
	level, ok := tree.Min()
	if !ok {
		return nil
	}
	o := level.PopFront()
	if o == nil {
		tree.Delete(level)
		return nil
	}
	delete(ob.index, o.ID)
	if level.Len() == 0 {
		tree.Delete(level)
	}
	return o
}

// BestLevel returns the best level on side: highest bid or lowest ask.
func (ob *OrderBook) BestLevel(side string) (*PriceLevel, bool) {
	return ob.ladder(side).Min()
}

// BestBid returns the highest bid price.
func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	if level, ok := ob.bids.Min(); ok {
		return level.Price, true
	}
	return decimal.Zero, false
}

// BestAsk returns the lowest ask price.
func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if level, ok := ob.asks.Min(); ok {
		return level.Price, true
	}
	return decimal.Zero, false
}

// Crosses reports whether an incoming order on side at price would match the
// opposite ladder at entry. Market orders cross whenever the opposite ladder
// is non-empty.
func (ob *OrderBook) Crosses(side string, price decimal.Decimal, isMarket bool) bool {
	best, ok := ob.BestLevel(opposite(side))
	if !ok {
		return false
	}
	if isMarket {
		return true
	}
	if side == models.OrderSideBuy {
		return best.Price.LessThanOrEqual(price)
	}
	return best.Price.GreaterThanOrEqual(price)
}

// FillableBase walks the opposite ladder at taker prices and sums the base
// amount an order on side at price could consume. limitPrice is ignored for
// market orders. Used by the FOK precheck.
func (ob *OrderBook) FillableBase(side string, limitPrice decimal.Decimal, isMarket bool) decimal.Decimal {
	total := decimal.Zero
	ob.ladder(opposite(side)).Scan(func(level *PriceLevel) bool {
		if !isMarket {
			if side == models.OrderSideBuy && level.Price.GreaterThan(limitPrice) {
				return false
			}
			if side == models.OrderSideSell && level.Price.LessThan(limitPrice) {
				return false
			}
		}
		total = total.Add(level.TotalRemainingBase())
		return true
	})
	return total
}

// ScanCrossing visits the resting orders an incoming order on side at price
// could match, best level first, FIFO within each level. Iteration stops when
// prices stop crossing or fn returns false.
func (ob *OrderBook) ScanCrossing(side string, price decimal.Decimal, isMarket bool, fn func(*models.Order) bool) {
	ob.ladder(opposite(side)).Scan(func(level *PriceLevel) bool {
		if !isMarket {
			if side == models.OrderSideBuy && level.Price.GreaterThan(price) {
				return false
			}
			if side == models.OrderSideSell && level.Price.LessThan(price) {
				return false
			}
		}
		for _, o := range level.Orders() {
			if !fn(o) {
				return false
			}
		}
		return true
	})
}

// FillableQuote is the quote-denominated variant of FillableBase, used for
// the FOK precheck of market buys specified by quote amount.
func (ob *OrderBook) FillableQuote() decimal.Decimal {
	total := decimal.Zero
	ob.asks.Scan(func(level *PriceLevel) bool {
		total = total.Add(level.TotalRemainingBase().Mul(level.Price))
		return true
	})
	return total
}

// Depth returns up to limit aggregated levels per side, best price first.
func (ob *OrderBook) Depth(limit int) (bids, asks []DepthLevel) {
	collect := func(tree *btree.BTreeG[*PriceLevel]) []DepthLevel {
		out := make([]DepthLevel, 0, limit)
		tree.Scan(func(level *PriceLevel) bool {
			out = append(out, DepthLevel{Price: level.Price, Amount: level.TotalRemainingBase()})
			return len(out) < limit
		})
		return out
	}
	return collect(ob.bids), collect(ob.asks)
}

// RestingOrders returns all resting orders, bids first, each side in price
// then arrival order. Cancel-all iterates this snapshot.
func (ob *OrderBook) RestingOrders() []*models.Order {
	out := make([]*models.Order, 0, len(ob.index))
	for _, tree := range []*btree.BTreeG[*PriceLevel]{ob.bids, ob.asks} {
		tree.Scan(func(level *PriceLevel) bool {
			out = append(out, level.Orders()...)
			return true
		})
	}
	return out
}

// ExpiredOrders returns resting orders whose expiry has passed.
func (ob *OrderBook) ExpiredOrders(nowMilli int64) []*models.Order {
	var out []*models.Order
	for _, o := range ob.RestingOrders() {
		if o.ExpiresAt != nil && *o.ExpiresAt <= nowMilli {
			out = append(out, o)
		}
	}
	return out
}

// CheckIntegrity verifies that the order index and the level queues agree:
// every indexed order rests in exactly one level at its own price on its own
// side. Returns the first inconsistency found.
func (ob *OrderBook) CheckIntegrity() error {
	seen := 0
	var err error
	for _, tree := range []*btree.BTreeG[*PriceLevel]{ob.bids, ob.asks} {
		tree.Scan(func(level *PriceLevel) bool {
			for _, o := range level.Orders() {
				seen++
				if !o.Price.Equal(level.Price) || o.Side != level.Side {
					err = errors.New("order " + o.ID.String() + " rests at wrong level")
					return false
				}
				if ob.index[o.ID] != level {
					err = errors.New("order index disagrees with level for " + o.ID.String())
					return false
				}
			}
			return true
		})
		if err != nil {
			return err
		}
	}
	if seen != len(ob.index) {
		return errors.New("order index size disagrees with ladder contents")
	}
	return nil
}
