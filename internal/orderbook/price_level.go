package orderbook

import (
	"container/list"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/orbit-engine/pkg/models"
)

// PriceLevel is the FIFO queue of resting orders at one price. Arrival order
// is preserved; removal by id is O(1) through the element index.
type PriceLevel struct {
	Price decimal.Decimal
	Side  string

	queue *list.List
	elems map[uuid.UUID]*list.Element
}

// NewPriceLevel returns an empty level for the given price and side.
func NewPriceLevel(price decimal.Decimal, side string) *PriceLevel {
	return &PriceLevel{
		Price: price,
		Side:  side,
		queue: list.New(),
		elems: make(map[uuid.UUID]*list.Element),
	}
}

// Len returns the number of resting orders at this level.
func (pl *PriceLevel) Len() int {
	return pl.queue.Len()
}

// PushBack appends an order to the tail of the queue. Every order in a level
// shares the level's price and side.
func (pl *PriceLevel) PushBack(o *models.Order) error {
	if !o.Price.Equal(pl.Price) || o.Side != pl.Side {
		return fmt.Errorf("order %s does not belong to level %s/%s", o.ID, pl.Side, pl.Price)
	}
	if _, ok := pl.elems[o.ID]; ok {
		return fmt.Errorf("order %s already resting at level %s", o.ID, pl.Price)
	}
	pl.elems[o.ID] = pl.queue.PushBack(o)
	return nil
}

// PushFront re-inserts an order at the head of the queue. Used only to undo a
// maker removal when a command journal rolls back.
func (pl *PriceLevel) PushFront(o *models.Order) error {
	if !o.Price.Equal(pl.Price) || o.Side != pl.Side {
		return fmt.Errorf("order %s does not belong to level %s/%s", o.ID, pl.Side, pl.Price)
	}
	if _, ok := pl.elems[o.ID]; ok {
		return fmt.Errorf("order %s already resting at level %s", o.ID, pl.Price)
	}
	pl.elems[o.ID] = pl.queue.PushFront(o)
	return nil
}

// PeekFront returns the maker next in priority, or nil for an empty level.
func (pl *PriceLevel) PeekFront() *models.Order {
	front := pl.queue.Front()
	if front == nil {
		return nil
	}
	return front.Value.(*models.Order)
}

// PopFront removes and returns the head of the queue, or nil when empty.
func (pl *PriceLevel) PopFront() *models.Order {
	front := pl.queue.Front()
	if front == nil {
		return nil
	}
	o := pl.queue.Remove(front).(*models.Order)
	delete(pl.elems, o.ID)
	return o
}

// Remove deletes the order with the given id, returning it, or nil if the
// order is not at this level.
func (pl *PriceLevel) Remove(id uuid.UUID) *models.Order {
	el, ok := pl.elems[id]
	if !ok {
		return nil
	}
	o := pl.queue.Remove(el).(*models.Order)
	delete(pl.elems, id)
	return o
}

// Contains reports whether the order rests at this level.
func (pl *PriceLevel) Contains(id uuid.UUID) bool {
	_, ok := pl.elems[id]
	return ok
}

// TotalRemainingBase sums the unfilled base amount across the level.
func (pl *PriceLevel) TotalRemainingBase() decimal.Decimal {
	total := decimal.Zero
	for el := pl.queue.Front(); el != nil; el = el.Next() {
		total = total.Add(el.Value.(*models.Order).RemainedBase)
	}
	return total
}

// Orders returns the resting orders in priority order.
func (pl *PriceLevel) Orders() []*models.Order {
	out := make([]*models.Order, 0, pl.queue.Len())
	for el := pl.queue.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*models.Order))
	}
	return out
}
