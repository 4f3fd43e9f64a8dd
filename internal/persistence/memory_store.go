package persistence

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Aidin1998/orbit-engine/pkg/models"
)

// ErrCommitInjected is returned by MemoryStore commits armed with FailNextCommit.
var ErrCommitInjected = errors.New("injected commit failure")

// MemoryStore is an in-process Store used by tests and local development.
// Commits apply staged rows atomically under the store mutex, so a failed
// commit leaves the store untouched, matching the relational contract.
type MemoryStore struct {
	mu sync.Mutex

	markets    map[string]models.Market
	orders     map[uuid.UUID]models.Order
	trades     []models.Trade
	wallets    map[walletKey]models.Wallet
	treasuries map[treasuryKey]models.FeeTreasury
	stats      map[string]models.MarketStats

	failNext int
}

type walletKey struct {
	userID uuid.UUID
	asset  string
}

type treasuryKey struct {
	marketID string
	asset    string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:    make(map[string]models.Market),
		orders:     make(map[uuid.UUID]models.Order),
		wallets:    make(map[walletKey]models.Wallet),
		treasuries: make(map[treasuryKey]models.FeeTreasury),
		stats:      make(map[string]models.MarketStats),
	}
}

// FailNextCommit arms the store to fail the next n commits.
func (s *MemoryStore) FailNextCommit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	return &memTx{store: s}, nil
}

func (s *MemoryStore) LoadMarkets(ctx context.Context) ([]models.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreateTime < out[j].CreateTime })
	return out, nil
}

func (s *MemoryStore) LoadOpenOrders(ctx context.Context, marketID string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.MarketID != marketID {
			continue
		}
		if o.Status != models.OrderStatusOpen && o.Status != models.OrderStatusPartiallyFilled {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Price.Equal(out[j].Price) {
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].CreateTime < out[j].CreateTime
	})
	return out, nil
}

func (s *MemoryStore) LoadWallets(ctx context.Context) ([]models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, w)
	}
	return out, nil
}

func (s *MemoryStore) LoadFeeTreasuries(ctx context.Context) ([]models.FeeTreasury, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FeeTreasury, 0, len(s.treasuries))
	for _, f := range s.treasuries {
		out = append(out, f)
	}
	return out, nil
}

func (s *MemoryStore) LoadMarketStats(ctx context.Context) ([]models.MarketStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MarketStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, st)
	}
	return out, nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		c := o
		return &c, nil
	}
	return nil, nil
}

// Trades returns a copy of all recorded trades, oldest first. Test helper.
func (s *MemoryStore) Trades() []models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

type memTx struct {
	store *MemoryStore
	done  bool

	markets    []models.Market
	orders     []models.Order
	trades     []models.Trade
	wallets    []models.Wallet
	treasuries []models.FeeTreasury
	stats      []models.MarketStats
}

func (t *memTx) UpsertMarket(m *models.Market) error {
	t.markets = append(t.markets, *m)
	return nil
}

func (t *memTx) UpsertOrder(o *models.Order) error {
	t.orders = append(t.orders, *o)
	return nil
}

func (t *memTx) InsertTrade(tr *models.Trade) error {
	t.trades = append(t.trades, *tr)
	return nil
}

func (t *memTx) UpdateWallet(w *models.Wallet) error {
	t.wallets = append(t.wallets, *w)
	return nil
}

func (t *memTx) UpsertFeeTreasury(f *models.FeeTreasury) error {
	t.treasuries = append(t.treasuries, *f)
	return nil
}

func (t *memTx) UpsertMarketStats(s *models.MarketStats) error {
	t.stats = append(t.stats, *s)
	return nil
}

func (t *memTx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return ErrCommitInjected
	}
	for _, m := range t.markets {
		s.markets[m.ID] = m
	}
	for _, o := range t.orders {
		s.orders[o.ID] = o
	}
	s.trades = append(s.trades, t.trades...)
	for _, w := range t.wallets {
		s.wallets[walletKey{w.UserID, w.Asset}] = w
	}
	for _, f := range t.treasuries {
		s.treasuries[treasuryKey{f.MarketID, f.Asset}] = f
	}
	for _, st := range t.stats {
		s.stats[st.MarketID] = st
	}
	return nil
}

func (t *memTx) Rollback() error {
	t.done = true
	return nil
}
