// Package stats maintains the rolling 24h view of each market: high, low,
// volume, last price and price change. A background sweeper prunes samples
// that fall out of the window.
package stats

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/orbit-engine/pkg/models"
)

// Window is the rolling statistics horizon.
const Window = 24 * time.Hour

type sample struct {
	ts    int64
	price decimal.Decimal
	base  decimal.Decimal
}

// Tracker accumulates trade samples for one market. The owning market worker
// records trades; the sweeper prunes concurrently, so state is mutex-guarded.
type Tracker struct {
	mu       sync.Mutex
	marketID string
	samples  []sample
	row      models.MarketStats
}

// NewTracker returns an empty tracker.
func NewTracker(marketID string) *Tracker {
	return &Tracker{
		marketID: marketID,
		row:      models.MarketStats{MarketID: marketID},
	}
}

// LoadRow seeds the tracker with the last persisted row. The sample window
// restarts empty after a restart; aggregates converge as new trades arrive.
func (t *Tracker) LoadRow(row models.MarketStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.row = row
}

// Record folds one trade into the window and returns the updated row.
func (t *Tracker) Record(tsMilli int64, price, baseAmount decimal.Decimal) models.MarketStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, sample{ts: tsMilli, price: price, base: baseAmount})
	t.pruneLocked(tsMilli)
	t.recomputeLocked(tsMilli)
	return t.row
}

// Prune drops samples older than the window and refreshes aggregates.
func (t *Tracker) Prune(nowMilli int64) models.MarketStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(nowMilli)
	t.recomputeLocked(nowMilli)
	return t.row
}

// Row returns the current snapshot.
func (t *Tracker) Row() models.MarketStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.row
}

// Mark captures the journal position: the current row and sample count.
func (t *Tracker) Mark() (models.MarketStats, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.row, len(t.samples)
}

// Rewind truncates samples appended after Mark and restores the marked row.
// Pruning between Mark and Rewind only removes expired samples, which a
// rolled-back command would have expired as well.
func (t *Tracker) Rewind(row models.MarketStats, sampleCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sampleCount < len(t.samples) {
		t.samples = t.samples[:sampleCount]
	}
	t.row = row
}

func (t *Tracker) pruneLocked(nowMilli int64) {
	cutoff := nowMilli - Window.Milliseconds()
	i := 0
	for i < len(t.samples) && t.samples[i].ts <= cutoff {
		i++
	}
	if i > 0 {
		t.samples = append(t.samples[:0:0], t.samples[i:]...)
	}
}

func (t *Tracker) recomputeLocked(nowMilli int64) {
	row := models.MarketStats{MarketID: t.marketID, LastPrice: t.row.LastPrice}
	if len(t.samples) > 0 {
		first := t.samples[0]
		row.High24h = first.price
		row.Low24h = first.price
		for _, s := range t.samples {
			if s.price.GreaterThan(row.High24h) {
				row.High24h = s.price
			}
			if s.price.LessThan(row.Low24h) {
				row.Low24h = s.price
			}
			row.Volume24h = row.Volume24h.Add(s.base)
		}
		last := t.samples[len(t.samples)-1]
		row.LastPrice = last.price
		row.PriceChange24h = last.price.Sub(first.price)
	}
	row.LastUpdateTime = nowMilli
	t.row = row
}

// Sweeper periodically prunes a set of trackers.
type Sweeper struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewSweeper returns a sweeper; Run starts it.
func NewSweeper(interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		trackers: make(map[string]*Tracker),
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Track registers a tracker with the sweeper.
func (s *Sweeper) Track(t *Tracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackers[t.marketID] = t
}

// Run blocks, pruning all trackers on each tick, until Stop is called.
func (s *Sweeper) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			trackers := make([]*Tracker, 0, len(s.trackers))
			for _, t := range s.trackers {
				trackers = append(trackers, t)
			}
			s.mu.Unlock()
			for _, t := range trackers {
				t.Prune(now.UTC().UnixMilli())
			}
		}
	}
}

// Stop terminates Run.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
}
