// Package engine implements the per-market matching worker. One goroutine
// owns each market's book and processes commands strictly in arrival order;
// different markets run in parallel and only meet in the wallet ledger.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Aidin1998/orbit-engine/internal/events"
	"github.com/Aidin1998/orbit-engine/internal/orderbook"
	"github.com/Aidin1998/orbit-engine/internal/persistence"
	"github.com/Aidin1998/orbit-engine/internal/stats"
	"github.com/Aidin1998/orbit-engine/internal/treasury"
	"github.com/Aidin1998/orbit-engine/internal/wallet"
	"github.com/Aidin1998/orbit-engine/pkg/metrics"
	"github.com/Aidin1998/orbit-engine/pkg/models"
)

// Worker lifecycle states.
const (
	StateCreated = "CREATED"
	StateActive  = "ACTIVE"
	StateStopped = "STOPPED"
)

// Deps carries the shared collaborators a market worker needs.
type Deps struct {
	Ledger          *wallet.Ledger
	Treasury        *treasury.Treasury
	Store           persistence.Store
	Events          events.Publisher
	Logger          *zap.Logger
	QueueSize       int
	RejectSelfTrade bool
}

// Market is the single-writer worker for one market. All book, order-index
// and client-id state is owned by the run goroutine; external callers talk
// through the command channel.
type Market struct {
	cfg      *models.Market
	book     *orderbook.OrderBook
	ledger   *wallet.Ledger
	treasury *treasury.Treasury
	store    persistence.Store
	tracker  *stats.Tracker
	events   events.Publisher
	logger   *zap.Logger

	rejectSelfTrade bool

	state       string
	cmds        chan *command
	quit        chan struct{}
	done        chan struct{}
	clientIDs   map[uuid.UUID]map[string]uuid.UUID
	lastTradeTS int64
}

// NewMarket builds a worker whose lifecycle state follows cfg.Status: active
// markets start Active, suspended ones Stopped, any other status Created.
// Call Restore to rebuild the book from persisted open orders, then Run to
// start processing.
func NewMarket(cfg *models.Market, deps Deps) *Market {
	queue := deps.QueueSize
	if queue <= 0 {
		queue = 1024
	}
	state := StateCreated
	if cfg.Status == models.MarketStatusActive {
		state = StateActive
	} else if cfg.Status == models.MarketStatusSuspended {
		state = StateStopped
	}
	return &Market{
		cfg:             cfg,
		book:            orderbook.NewOrderBook(cfg.ID),
		ledger:          deps.Ledger,
		treasury:        deps.Treasury,
		store:           deps.Store,
		tracker:         stats.NewTracker(cfg.ID),
		events:          deps.Events,
		logger:          deps.Logger.With(zap.String("market", cfg.ID)),
		rejectSelfTrade: deps.RejectSelfTrade,
		state:           state,
		cmds:            make(chan *command, queue),
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Tracker exposes the stats tracker for sweeper registration.
func (m *Market) Tracker() *stats.Tracker {
	return m.tracker
}

// Config returns the market parameters.
func (m *Market) Config() models.Market {
	return *m.cfg
}

// Restore rests a recovered order without matching or balance movement; the
// reservation already exists in the persisted wallet rows. Must be called
// before Run.
func (m *Market) Restore(o *models.Order) error {
	if err := m.book.Add(o); err != nil {
		return err
	}
	m.registerClientID(o)
	return nil
}

// Run starts the worker loop.
func (m *Market) Run() {
	go m.run()
}

// Close terminates the worker loop. Pending commands are dropped.
func (m *Market) Close() {
	close(m.quit)
	<-m.done
}

func (m *Market) run() {
	defer close(m.done)
	for {
		select {
		case <-m.quit:
			return
		case c := <-m.cmds:
			m.handle(c)
			metrics.CommandQueueDepth.WithLabelValues(m.cfg.ID).Set(float64(len(m.cmds)))
		}
	}
}

func (m *Market) submit(ctx context.Context, c *command) cmdResult {
	c.resp = make(chan cmdResult, 1)
	select {
	case m.cmds <- c:
	case <-m.quit:
		return cmdResult{err: fmt.Errorf("%w: worker shut down", ErrMarketNotFound)}
	case <-ctx.Done():
		return cmdResult{err: ctx.Err()}
	}
	// The command is queued and will complete atomically even if the
	// submitter abandons the wait.
	select {
	case res := <-c.resp:
		return res
	case <-ctx.Done():
		return cmdResult{err: ctx.Err()}
	}
}

// AddOrder submits an order-entry command and waits for its outcome.
func (m *Market) AddOrder(ctx context.Context, req *AddOrderRequest) (*AddOrderResult, error) {
	res := m.submit(ctx, &command{kind: cmdAddOrder, add: req})
	if res.err != nil {
		return nil, res.err
	}
	return &AddOrderResult{Order: res.order, Trades: res.trades}, nil
}

// CancelOrder cancels one resting order.
func (m *Market) CancelOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	res := m.submit(ctx, &command{kind: cmdCancelOrder, orderID: orderID})
	return res.order, res.err
}

// CancelAllOrders cancels every resting order on the market.
func (m *Market) CancelAllOrders(ctx context.Context) ([]*models.Order, error) {
	res := m.submit(ctx, &command{kind: cmdCancelAll})
	return res.orders, res.err
}

// Start transitions the market to Active.
func (m *Market) Start(ctx context.Context) error {
	return m.submit(ctx, &command{kind: cmdStart}).err
}

// Stop transitions the market to Stopped, canceling all open orders.
func (m *Market) Stop(ctx context.Context) error {
	return m.submit(ctx, &command{kind: cmdStop}).err
}

// GetOrder returns a resting order by id.
func (m *Market) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	res := m.submit(ctx, &command{kind: cmdGetOrder, orderID: orderID})
	return res.order, res.err
}

// Depth returns the aggregated ladder snapshot.
func (m *Market) Depth(ctx context.Context, limit int) (*DepthSnapshot, error) {
	res := m.submit(ctx, &command{kind: cmdDepth, limit: limit})
	return res.depth, res.err
}

// Status returns the verbose worker state.
func (m *Market) Status(ctx context.Context) (*MarketStatus, error) {
	res := m.submit(ctx, &command{kind: cmdStatus})
	return res.status, res.err
}

func (m *Market) handle(c *command) {
	var res cmdResult
	switch c.kind {
	case cmdAddOrder:
		start := time.Now()
		m.expireDue()
		order, trades, err := m.addOrder(c.add)
		res = cmdResult{order: order, trades: trades, err: err}
		metrics.MatchLatency.Observe(time.Since(start).Seconds())
	case cmdCancelOrder:
		order, err := m.cancelOrder(c.orderID)
		res = cmdResult{order: order, err: err}
	case cmdCancelAll:
		orders, err := m.cancelAll()
		res = cmdResult{orders: orders, err: err}
	case cmdStart:
		res = cmdResult{err: m.transition(StateActive)}
	case cmdStop:
		res = cmdResult{err: m.stopMarket()}
	case cmdGetOrder:
		if o, ok := m.book.Get(c.orderID); ok {
			res = cmdResult{order: o.Clone()}
		} else {
			res = cmdResult{err: ErrOrderNotFound}
		}
	case cmdDepth:
		limit := c.limit
		if limit <= 0 {
			limit = 50
		}
		bids, asks := m.book.Depth(limit)
		res = cmdResult{depth: &DepthSnapshot{MarketID: m.cfg.ID, Bids: bids, Asks: asks}}
	case cmdStatus:
		res = cmdResult{status: &MarketStatus{
			MarketID:      m.cfg.ID,
			State:         m.state,
			RestingOrders: m.book.Len(),
			LastPrice:     m.book.LastPrice(),
		}}
	}
	c.resp <- res
}

// transition moves the lifecycle to next and persists the market row.
func (m *Market) transition(next string) error {
	if m.state == next {
		return nil
	}
	prev := m.state
	prevStatus := m.cfg.Status
	m.state = next
	switch next {
	case StateActive:
		m.cfg.Status = models.MarketStatusActive
	case StateStopped:
		m.cfg.Status = models.MarketStatusSuspended
	}
	m.cfg.UpdateTime = models.NowMilli()

	tx, err := m.store.Begin(context.Background())
	if err == nil {
		if err = tx.UpsertMarket(m.cfg); err == nil {
			err = tx.Commit()
		} else {
			_ = tx.Rollback()
		}
	}
	if err != nil {
		m.state = prev
		m.cfg.Status = prevStatus
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	m.logger.Info("market state changed", zap.String("from", prev), zap.String("to", next))
	return nil
}

// stopMarket transitions to Stopped and cancels all open orders (cancel-all
// on stop policy).
func (m *Market) stopMarket() error {
	if err := m.transition(StateStopped); err != nil {
		return err
	}
	if _, err := m.cancelAll(); err != nil {
		m.logger.Error("cancel-all on stop failed", zap.Error(err))
		return err
	}
	return nil
}

// haltOnInternal stops the market after an invariant violation. The condition
// is logged; the stop itself is best-effort.
func (m *Market) haltOnInternal(cause error) {
	m.logger.Error("invariant violation, stopping market", zap.Error(cause))
	if err := m.transition(StateStopped); err != nil {
		m.logger.Error("failed to stop market after invariant violation", zap.Error(err))
	}
}

func (m *Market) registerClientID(o *models.Order) {
	if o.ClientOrderID == nil || *o.ClientOrderID == "" {
		return
	}
	ids, ok := m.clientIDsFor(o.UserID)
	if !ok {
		ids = make(map[string]uuid.UUID)
		if m.clientIDs == nil {
			m.clientIDs = make(map[uuid.UUID]map[string]uuid.UUID)
		}
		m.clientIDs[o.UserID] = ids
	}
	ids[*o.ClientOrderID] = o.ID
}

func (m *Market) unregisterClientID(o *models.Order) {
	if o.ClientOrderID == nil || *o.ClientOrderID == "" {
		return
	}
	if ids, ok := m.clientIDsFor(o.UserID); ok {
		delete(ids, *o.ClientOrderID)
	}
}

func (m *Market) clientIDsFor(user uuid.UUID) (map[string]uuid.UUID, bool) {
	if m.clientIDs == nil {
		return nil, false
	}
	ids, ok := m.clientIDs[user]
	return ids, ok
}

// reservationKey returns the wallet key holding this order's reservation.
func (m *Market) reservationKey(o *models.Order) wallet.Key {
	if o.Side == models.OrderSideBuy {
		return wallet.Key{UserID: o.UserID, Asset: m.cfg.QuoteAsset}
	}
	return wallet.Key{UserID: o.UserID, Asset: m.cfg.BaseAsset}
}
