// Package wallet holds the in-memory ledger of user balances. The ledger is
// shared across all market workers; rows are guarded by fine-grained locks
// keyed on (user, asset), acquired in deterministic order to prevent deadlock.
package wallet

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/orbit-engine/internal/numeric"
	"github.com/Aidin1998/orbit-engine/pkg/models"
)

var (
	// ErrInsufficientFunds is returned when available (or locked) balance
	// cannot cover the requested movement.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNonPositiveAmount is returned for zero or negative amounts on
	// operations that require a positive amount.
	ErrNonPositiveAmount = errors.New("amount must be positive")
)

// Key identifies one ledger row.
type Key struct {
	UserID uuid.UUID
	Asset  string
}

func (k Key) String() string {
	return k.UserID.String() + "/" + k.Asset
}

// Ledger is the authoritative in-memory balance state. Persistence writes go
// through the command transaction; the ledger itself never touches the store.
type Ledger struct {
	mu       sync.Mutex
	rows     map[Key]*models.Wallet
	keyLocks map[Key]*sync.Mutex
	logger   *zap.Logger
}

// NewLedger returns an empty ledger.
func NewLedger(logger *zap.Logger) *Ledger {
	return &Ledger{
		rows:     make(map[Key]*models.Wallet),
		keyLocks: make(map[Key]*sync.Mutex),
		logger:   logger,
	}
}

// Load replaces ledger contents with persisted rows. Called once at startup,
// before any worker runs.
func (l *Ledger) Load(rows []models.Wallet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range rows {
		r := rows[i]
		l.rows[Key{r.UserID, r.Asset}] = &r
	}
}

// Acquire locks the given keys in lexicographic order and returns a release
// function. A command acquires the minimal key set it needs before matching
// and releases after commit.
func (l *Ledger) Acquire(keys ...Key) func() {
	uniq := make([]Key, 0, len(keys))
	seen := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			uniq = append(uniq, k)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i].String() < uniq[j].String() })

	locks := make([]*sync.Mutex, len(uniq))
	for i, k := range uniq {
		locks[i] = l.keyLock(k)
	}
	for _, m := range locks {
		m.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func (l *Ledger) keyLock(k Key) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.keyLocks[k]
	if !ok {
		m = &sync.Mutex{}
		l.keyLocks[k] = m
	}
	return m
}

// Get returns a copy of the row, or a zero-balance row if none exists yet.
func (l *Ledger) Get(user uuid.UUID, asset string) models.Wallet {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.rows[Key{user, asset}]; ok {
		return *r
	}
	return models.Wallet{UserID: user, Asset: asset}
}

// Snapshot returns a copy of the row for journaling, or nil if the row does
// not exist yet.
func (l *Ledger) Snapshot(k Key) *models.Wallet {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.rows[k]; ok {
		return r.Clone()
	}
	return nil
}

// Restore puts a journaled snapshot back. A nil snapshot deletes the row,
// undoing a first-touch creation.
func (l *Ledger) Restore(k Key, snap *models.Wallet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if snap == nil {
		delete(l.rows, k)
		return
	}
	l.rows[k] = snap.Clone()
}

func (l *Ledger) getOrCreate(k Key) *models.Wallet {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rows[k]
	if !ok {
		r = &models.Wallet{UserID: k.UserID, Asset: k.Asset}
		l.rows[k] = r
	}
	return r
}

func (l *Ledger) lookup(k Key) *models.Wallet {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows[k]
}

// Deposit credits available balance, creating the row on first deposit.
// Returns a copy of the updated row.
func (l *Ledger) Deposit(user uuid.UUID, asset string, amount decimal.Decimal) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	if err := numeric.CheckRange(amount); err != nil {
		return nil, err
	}
	r := l.getOrCreate(Key{user, asset})
	available, err := numeric.Add(r.Available, amount)
	if err != nil {
		return nil, err
	}
	deposited, err := numeric.Add(r.TotalDeposited, amount)
	if err != nil {
		return nil, err
	}
	r.Available = available
	r.TotalDeposited = deposited
	r.UpdateTime = models.NowMilli()
	return r.Clone(), nil
}

// Withdraw debits available balance and bumps the withdrawn total.
func (l *Ledger) Withdraw(user uuid.UUID, asset string, amount decimal.Decimal) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	r := l.lookup(Key{user, asset})
	if r == nil || r.Available.LessThan(amount) {
		return nil, fmt.Errorf("%w: %s %s", ErrInsufficientFunds, user, asset)
	}
	withdrawn, err := numeric.Add(r.TotalWithdrawn, amount)
	if err != nil {
		return nil, err
	}
	r.Available = r.Available.Sub(amount)
	r.TotalWithdrawn = withdrawn
	r.UpdateTime = models.NowMilli()
	return r.Clone(), nil
}

// Lock moves amount from available to locked, reserving funds at order entry.
func (l *Ledger) Lock(user uuid.UUID, asset string, amount decimal.Decimal) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	r := l.lookup(Key{user, asset})
	if r == nil || r.Available.LessThan(amount) {
		return nil, fmt.Errorf("%w: %s %s", ErrInsufficientFunds, user, asset)
	}
	r.Available = r.Available.Sub(amount)
	r.Locked = r.Locked.Add(amount)
	r.UpdateTime = models.NowMilli()
	return r.Clone(), nil
}

// Unlock reverses Lock, releasing a reservation on cancel or remainder.
func (l *Ledger) Unlock(user uuid.UUID, asset string, amount decimal.Decimal) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	r := l.lookup(Key{user, asset})
	if r == nil || r.Locked.LessThan(amount) {
		return nil, fmt.Errorf("unlock exceeds locked balance for %s %s", user, asset)
	}
	r.Locked = r.Locked.Sub(amount)
	r.Available = r.Available.Add(amount)
	r.UpdateTime = models.NowMilli()
	return r.Clone(), nil
}

// Settle consumes gross from the payer's locked balance and credits gross-fee
// to the receiver's available balance. The fee stays with the caller, which
// accrues it to the market's treasury in the same command. No field goes
// negative; violations abort before any mutation.
func (l *Ledger) Settle(from, to uuid.UUID, asset string, gross, fee decimal.Decimal) (fromRow, toRow *models.Wallet, err error) {
	if gross.IsNegative() || fee.IsNegative() {
		return nil, nil, ErrNonPositiveAmount
	}
	if fee.GreaterThan(gross) {
		return nil, nil, fmt.Errorf("fee %s exceeds gross %s", fee, gross)
	}
	payer := l.lookup(Key{from, asset})
	if payer == nil || payer.Locked.LessThan(gross) {
		return nil, nil, fmt.Errorf("%w: locked balance of %s %s below settlement", ErrInsufficientFunds, from, asset)
	}
	receiver := l.getOrCreate(Key{to, asset})

	credit, err := numeric.Add(receiver.Available, gross.Sub(fee))
	if err != nil {
		return nil, nil, err
	}
	now := models.NowMilli()
	payer.Locked = payer.Locked.Sub(gross)
	payer.UpdateTime = now
	receiver.Available = credit
	receiver.UpdateTime = now
	return payer.Clone(), receiver.Clone(), nil
}
