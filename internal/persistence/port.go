// Package persistence defines the storage port the engine core depends on,
// plus the concrete stores: a gorm-backed relational store and an in-memory
// store used by tests and fault-injection scenarios.
package persistence

import (
	"context"

	"github.com/google/uuid"

	"github.com/Aidin1998/orbit-engine/pkg/models"
)

// Tx is a single logical transaction. All writes staged on a Tx become
// visible atomically at Commit, or not at all after Rollback.
type Tx interface {
	UpsertMarket(m *models.Market) error
	UpsertOrder(o *models.Order) error
	InsertTrade(t *models.Trade) error
	UpdateWallet(w *models.Wallet) error
	UpsertFeeTreasury(f *models.FeeTreasury) error
	UpsertMarketStats(s *models.MarketStats) error
	Commit() error
	Rollback() error
}

// Store is the persistence capability consumed by the engine. The read
// methods serve startup recovery and query paths; all state mutation goes
// through Begin.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	LoadMarkets(ctx context.Context) ([]models.Market, error)
	// LoadOpenOrders returns the resting orders of one market ordered by
	// (price, create_time), the order in which the book is rebuilt.
	LoadOpenOrders(ctx context.Context, marketID string) ([]models.Order, error)
	LoadWallets(ctx context.Context) ([]models.Wallet, error)
	LoadFeeTreasuries(ctx context.Context) ([]models.FeeTreasury, error)
	LoadMarketStats(ctx context.Context) ([]models.MarketStats, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
}
