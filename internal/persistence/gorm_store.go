package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/orbit-engine/pkg/models"
)

// GormStore persists engine state through gorm. It works against any dialect
// gorm supports; production runs postgres, tests run sqlite.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore wraps an open gorm handle and migrates the schema.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if err := db.AutoMigrate(
		&models.Market{},
		&models.Order{},
		&models.Trade{},
		&models.Wallet{},
		&models.FeeTreasury{},
		&models.MarketStats{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &GormStore{db: db, logger: logger}, nil
}

func (s *GormStore) Begin(ctx context.Context) (Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &gormTx{tx: tx}, nil
}

func (s *GormStore) LoadMarkets(ctx context.Context) ([]models.Market, error) {
	var out []models.Market
	if err := s.db.WithContext(ctx).Order("create_time asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	return out, nil
}

func (s *GormStore) LoadOpenOrders(ctx context.Context, marketID string) ([]models.Order, error) {
	var out []models.Order
	err := s.db.WithContext(ctx).
		Where("market_id = ? AND status IN ?", marketID,
			[]string{models.OrderStatusOpen, models.OrderStatusPartiallyFilled}).
		Order("price asc, create_time asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load open orders for %s: %w", marketID, err)
	}
	return out, nil
}

func (s *GormStore) LoadWallets(ctx context.Context) ([]models.Wallet, error) {
	var out []models.Wallet
	if err := s.db.WithContext(ctx).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load wallets: %w", err)
	}
	return out, nil
}

func (s *GormStore) LoadFeeTreasuries(ctx context.Context) ([]models.FeeTreasury, error) {
	var out []models.FeeTreasury
	if err := s.db.WithContext(ctx).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load fee treasuries: %w", err)
	}
	return out, nil
}

func (s *GormStore) LoadMarketStats(ctx context.Context) ([]models.MarketStats, error) {
	var out []models.MarketStats
	if err := s.db.WithContext(ctx).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load market stats: %w", err)
	}
	return out, nil
}

func (s *GormStore) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var o models.Order
	err := s.db.WithContext(ctx).First(&o, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &o, nil
}

type gormTx struct {
	tx *gorm.DB
}

func (t *gormTx) UpsertMarket(m *models.Market) error {
	return t.tx.Save(m).Error
}

func (t *gormTx) UpsertOrder(o *models.Order) error {
	return t.tx.Save(o).Error
}

func (t *gormTx) InsertTrade(tr *models.Trade) error {
	return t.tx.Create(tr).Error
}

func (t *gormTx) UpdateWallet(w *models.Wallet) error {
	return t.tx.Save(w).Error
}

func (t *gormTx) UpsertFeeTreasury(f *models.FeeTreasury) error {
	return t.tx.Save(f).Error
}

func (t *gormTx) UpsertMarketStats(s *models.MarketStats) error {
	return t.tx.Save(s).Error
}

func (t *gormTx) Commit() error {
	return t.tx.Commit().Error
}

func (t *gormTx) Rollback() error {
	return t.tx.Rollback().Error
}
