// Package treasury accrues trading fees per (market, asset).
package treasury

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/orbit-engine/internal/numeric"
	"github.com/Aidin1998/orbit-engine/pkg/models"
)

// ErrNegativeAmount is returned when an accrual is negative.
var ErrNegativeAmount = errors.New("fee accrual must be non-negative")

// Key identifies one treasury row.
type Key struct {
	MarketID string
	Asset    string
}

// Treasury is the in-memory fee accrual state. Reads are snapshots; writes go
// through the same command transaction as the trade that produced the fee.
type Treasury struct {
	mu        sync.Mutex
	rows      map[Key]*models.FeeTreasury
	addresses map[string]string
}

// NewTreasury returns an empty treasury. addresses maps asset to the
// configured treasury address, and may be nil.
func NewTreasury(addresses map[string]string) *Treasury {
	if addresses == nil {
		addresses = make(map[string]string)
	}
	return &Treasury{
		rows:      make(map[Key]*models.FeeTreasury),
		addresses: addresses,
	}
}

// Load replaces treasury contents with persisted rows at startup.
func (t *Treasury) Load(rows []models.FeeTreasury) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range rows {
		r := rows[i]
		t.rows[Key{r.MarketID, r.Asset}] = &r
	}
}

// Accrue adds amount to the collected total and returns a copy of the updated
// row. A zero amount returns the current row unchanged.
func (t *Treasury) Accrue(marketID, asset string, amount decimal.Decimal) (*models.FeeTreasury, error) {
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	k := Key{marketID, asset}
	r, ok := t.rows[k]
	if !ok {
		r = &models.FeeTreasury{
			MarketID:        marketID,
			Asset:           asset,
			TreasuryAddress: t.addresses[asset],
		}
		t.rows[k] = r
	}
	if amount.IsZero() {
		c := *r
		return &c, nil
	}
	collected, err := numeric.Add(r.CollectedAmount, amount)
	if err != nil {
		return nil, err
	}
	r.CollectedAmount = collected
	r.LastUpdateTime = models.NowMilli()
	c := *r
	return &c, nil
}

// Get returns a snapshot of the row, or a zero row if none exists.
func (t *Treasury) Get(marketID, asset string) models.FeeTreasury {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.rows[Key{marketID, asset}]; ok {
		return *r
	}
	return models.FeeTreasury{MarketID: marketID, Asset: asset, TreasuryAddress: t.addresses[asset]}
}

// Snapshot returns a copy of the row for journaling, or nil if absent.
func (t *Treasury) Snapshot(k Key) *models.FeeTreasury {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.rows[k]; ok {
		c := *r
		return &c
	}
	return nil
}

// Restore puts a journaled snapshot back; nil deletes the row.
func (t *Treasury) Restore(k Key, snap *models.FeeTreasury) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if snap == nil {
		delete(t.rows, k)
		return
	}
	c := *snap
	t.rows[k] = &c
}
