// Package market is the process-wide catalog of markets and the dispatch
// layer that routes commands to each market's single-writer worker. It also
// serves the wallet commands that are not owned by any one market.
package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/orbit-engine/internal/engine"
	"github.com/Aidin1998/orbit-engine/internal/events"
	"github.com/Aidin1998/orbit-engine/internal/numeric"
	"github.com/Aidin1998/orbit-engine/internal/persistence"
	"github.com/Aidin1998/orbit-engine/internal/stats"
	"github.com/Aidin1998/orbit-engine/internal/treasury"
	"github.com/Aidin1998/orbit-engine/internal/wallet"
	"github.com/Aidin1998/orbit-engine/pkg/models"
)

// CreateMarketRequest carries the parameters of a new market.
type CreateMarketRequest struct {
	ID              string
	BaseAsset       string
	QuoteAsset      string
	DefaultMakerFee decimal.Decimal
	DefaultTakerFee decimal.Decimal
	MinBaseAmount   decimal.Decimal
	MinQuoteAmount  decimal.Decimal
	PricePrecision  int32
	AmountPrecision int32
}

// Options configures the registry.
type Options struct {
	Store           persistence.Store
	Events          events.Publisher
	Logger          *zap.Logger
	QueueSize       int
	RejectSelfTrade bool
	TreasuryAddrs   map[string]string
}

// Registry owns the worker map. Commands for one market are strictly FIFO on
// that worker's queue; commands for different markets run in parallel.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*engine.Market

	store    persistence.Store
	ledger   *wallet.Ledger
	treasury *treasury.Treasury
	events   events.Publisher
	sweeper  *stats.Sweeper
	logger   *zap.Logger

	queueSize       int
	rejectSelfTrade bool
}

// NewRegistry builds an empty registry; call Recover before serving traffic.
func NewRegistry(opts Options) *Registry {
	ev := opts.Events
	if ev == nil {
		ev = events.Noop{}
	}
	r := &Registry{
		markets:         make(map[string]*engine.Market),
		store:           opts.Store,
		ledger:          wallet.NewLedger(opts.Logger),
		treasury:        treasury.NewTreasury(opts.TreasuryAddrs),
		events:          ev,
		sweeper:         stats.NewSweeper(0),
		logger:          opts.Logger,
		queueSize:       opts.QueueSize,
		rejectSelfTrade: opts.RejectSelfTrade,
	}
	go r.sweeper.Run()
	return r
}

// Ledger exposes the shared wallet ledger.
func (r *Registry) Ledger() *wallet.Ledger {
	return r.ledger
}

// Treasury exposes the shared fee treasury.
func (r *Registry) Treasury() *treasury.Treasury {
	return r.treasury
}

func (r *Registry) deps() engine.Deps {
	return engine.Deps{
		Ledger:          r.ledger,
		Treasury:        r.treasury,
		Store:           r.store,
		Events:          r.events,
		Logger:          r.logger,
		QueueSize:       r.queueSize,
		RejectSelfTrade: r.rejectSelfTrade,
	}
}

// Recover loads wallets, treasuries and markets from storage and rebuilds
// each market's book from its open orders in (price, create_time) order.
func (r *Registry) Recover(ctx context.Context) error {
	wallets, err := r.store.LoadWallets(ctx)
	if err != nil {
		return err
	}
	r.ledger.Load(wallets)

	treasuries, err := r.store.LoadFeeTreasuries(ctx)
	if err != nil {
		return err
	}
	r.treasury.Load(treasuries)

	statsRows, err := r.store.LoadMarketStats(ctx)
	if err != nil {
		return err
	}
	statsByMarket := make(map[string]models.MarketStats, len(statsRows))
	for _, row := range statsRows {
		statsByMarket[row.MarketID] = row
	}

	markets, err := r.store.LoadMarkets(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range markets {
		cfg := markets[i]
		w := engine.NewMarket(&cfg, r.deps())
		open, err := r.store.LoadOpenOrders(ctx, cfg.ID)
		if err != nil {
			return err
		}
		for k := range open {
			o := open[k]
			if err := w.Restore(&o); err != nil {
				return fmt.Errorf("restore order %s: %w", o.ID, err)
			}
		}
		if row, ok := statsByMarket[cfg.ID]; ok {
			w.Tracker().LoadRow(row)
		}
		w.Run()
		r.sweeper.Track(w.Tracker())
		r.markets[cfg.ID] = w
		r.logger.Info("recovered market",
			zap.String("market", cfg.ID),
			zap.String("status", cfg.Status),
			zap.Int("open_orders", len(open)))
	}
	return nil
}

// CreateMarket persists a new market and instantiates its worker in Created
// state. The (base, quote) pair is unique across markets.
func (r *Registry) CreateMarket(ctx context.Context, req CreateMarketRequest) (*models.Market, error) {
	if req.ID == "" || req.BaseAsset == "" || req.QuoteAsset == "" || req.BaseAsset == req.QuoteAsset {
		return nil, fmt.Errorf("%w: market id and distinct assets are required", engine.ErrValidation)
	}
	if req.PricePrecision < 0 || req.PricePrecision > 18 || req.AmountPrecision < 0 || req.AmountPrecision > 18 {
		return nil, fmt.Errorf("%w: precision outside [0,18]", engine.ErrValidation)
	}
	for _, rate := range []decimal.Decimal{req.DefaultMakerFee, req.DefaultTakerFee} {
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: fee rate %s outside [0,1]", engine.ErrValidation, rate)
		}
	}
	if req.MinBaseAmount.IsNegative() || req.MinQuoteAmount.IsNegative() {
		return nil, fmt.Errorf("%w: minimum amounts cannot be negative", engine.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.markets[req.ID]; exists {
		return nil, fmt.Errorf("%w: market %s already exists", engine.ErrValidation, req.ID)
	}
	for _, w := range r.markets {
		cfg := w.Config()
		if cfg.BaseAsset == req.BaseAsset && cfg.QuoteAsset == req.QuoteAsset {
			return nil, fmt.Errorf("%w: pair %s/%s already listed as %s",
				engine.ErrValidation, req.BaseAsset, req.QuoteAsset, cfg.ID)
		}
	}

	now := models.NowMilli()
	cfg := &models.Market{
		ID:              req.ID,
		BaseAsset:       req.BaseAsset,
		QuoteAsset:      req.QuoteAsset,
		DefaultMakerFee: req.DefaultMakerFee,
		DefaultTakerFee: req.DefaultTakerFee,
		MinBaseAmount:   req.MinBaseAmount,
		MinQuoteAmount:  req.MinQuoteAmount,
		PricePrecision:  req.PricePrecision,
		AmountPrecision: req.AmountPrecision,
		Status:          models.MarketStatusInactive,
		CreateTime:      now,
		UpdateTime:      now,
	}

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrPersistence, err)
	}
	if err := tx.UpsertMarket(cfg); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("%w: %v", engine.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrPersistence, err)
	}

	w := engine.NewMarket(cfg, r.deps())
	w.Run()
	r.sweeper.Track(w.Tracker())
	r.markets[cfg.ID] = w
	r.logger.Info("created market", zap.String("market", cfg.ID),
		zap.String("base", cfg.BaseAsset), zap.String("quote", cfg.QuoteAsset))
	out := *cfg
	return &out, nil
}

func (r *Registry) lookup(marketID string) (*engine.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrMarketNotFound, marketID)
	}
	return w, nil
}

// StartMarket transitions a market to Active.
func (r *Registry) StartMarket(ctx context.Context, marketID string) error {
	w, err := r.lookup(marketID)
	if err != nil {
		return err
	}
	return w.Start(ctx)
}

// StopMarket transitions a market to Stopped, canceling its open orders.
func (r *Registry) StopMarket(ctx context.Context, marketID string) error {
	w, err := r.lookup(marketID)
	if err != nil {
		return err
	}
	return w.Stop(ctx)
}

// AddOrder routes an order to the owning worker, defaulting negative fee
// rates to the market's configured rates.
func (r *Registry) AddOrder(ctx context.Context, req *engine.AddOrderRequest) (*engine.AddOrderResult, error) {
	w, err := r.lookup(req.MarketID)
	if err != nil {
		return nil, err
	}
	cfg := w.Config()
	if req.MakerFee.IsNegative() {
		req.MakerFee = cfg.DefaultMakerFee
	}
	if req.TakerFee.IsNegative() {
		req.TakerFee = cfg.DefaultTakerFee
	}
	return w.AddOrder(ctx, req)
}

// CancelOrder cancels one order on the given market.
func (r *Registry) CancelOrder(ctx context.Context, marketID string, orderID uuid.UUID) (*models.Order, error) {
	w, err := r.lookup(marketID)
	if err != nil {
		return nil, err
	}
	return w.CancelOrder(ctx, orderID)
}

// CancelAllOrders cancels every resting order on the given market.
func (r *Registry) CancelAllOrders(ctx context.Context, marketID string) ([]*models.Order, error) {
	w, err := r.lookup(marketID)
	if err != nil {
		return nil, err
	}
	return w.CancelAllOrders(ctx)
}

// Depth returns the aggregated ladder snapshot for a market.
func (r *Registry) Depth(ctx context.Context, marketID string, limit int) (*engine.DepthSnapshot, error) {
	w, err := r.lookup(marketID)
	if err != nil {
		return nil, err
	}
	return w.Depth(ctx, limit)
}

// Status returns the verbose worker state for a market.
func (r *Registry) Status(ctx context.Context, marketID string) (*engine.MarketStatus, error) {
	w, err := r.lookup(marketID)
	if err != nil {
		return nil, err
	}
	return w.Status(ctx)
}

// GetOrder serves a resting order from the worker, falling back to storage
// for terminal orders.
func (r *Registry) GetOrder(ctx context.Context, marketID string, orderID uuid.UUID) (*models.Order, error) {
	w, err := r.lookup(marketID)
	if err != nil {
		return nil, err
	}
	o, err := w.GetOrder(ctx, orderID)
	if err == nil {
		return o, nil
	}
	stored, serr := r.store.GetOrder(ctx, orderID)
	if serr != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrPersistence, serr)
	}
	if stored == nil || stored.MarketID != marketID {
		return nil, fmt.Errorf("%w: %s", engine.ErrOrderNotFound, orderID)
	}
	return stored, nil
}

// Deposit credits a user's available balance.
func (r *Registry) Deposit(ctx context.Context, user uuid.UUID, asset string, amount decimal.Decimal) (*models.Wallet, error) {
	if err := numeric.CheckRange(amount); err != nil {
		return nil, err
	}
	key := wallet.Key{UserID: user, Asset: asset}
	release := r.ledger.Acquire(key)
	defer release()

	snap := r.ledger.Snapshot(key)
	row, err := r.ledger.Deposit(user, asset, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}
	if err := r.persistWallet(ctx, row); err != nil {
		r.ledger.Restore(key, snap)
		return nil, err
	}
	return row, nil
}

// Withdraw debits a user's available balance.
func (r *Registry) Withdraw(ctx context.Context, user uuid.UUID, asset string, amount decimal.Decimal) (*models.Wallet, error) {
	key := wallet.Key{UserID: user, Asset: asset}
	release := r.ledger.Acquire(key)
	defer release()

	snap := r.ledger.Snapshot(key)
	row, err := r.ledger.Withdraw(user, asset, amount)
	if err != nil {
		return nil, err
	}
	if err := r.persistWallet(ctx, row); err != nil {
		r.ledger.Restore(key, snap)
		return nil, err
	}
	return row, nil
}

// GetBalance returns the wallet row for (user, asset).
func (r *Registry) GetBalance(user uuid.UUID, asset string) models.Wallet {
	return r.ledger.Get(user, asset)
}

func (r *Registry) persistWallet(ctx context.Context, row *models.Wallet) error {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrPersistence, err)
	}
	if err := tx.UpdateWallet(row); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: %v", engine.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrPersistence, err)
	}
	return nil
}

// Close stops the sweeper and every market worker.
func (r *Registry) Close() {
	r.sweeper.Stop()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.markets {
		w.Close()
	}
}
