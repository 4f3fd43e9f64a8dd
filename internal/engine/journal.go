package engine

import (
	"github.com/google/uuid"

	"github.com/Aidin1998/orbit-engine/internal/treasury"
	"github.com/Aidin1998/orbit-engine/internal/wallet"
	"github.com/Aidin1998/orbit-engine/pkg/models"
)

type orderSnap struct {
	ref  *models.Order
	snap models.Order
}

// journal stages every in-memory mutation of one command so a persistence
// failure can roll the book, the ledger, the treasury and the stats tracker
// back to the pre-command snapshot. Wallet keys touched by the command stay
// locked until the journal is resolved, so no other command observes or
// clobbers intermediate state.
type journal struct {
	m *Market

	orderSeen     map[uuid.UUID]struct{}
	orderSnaps    []orderSnap
	walletSnaps   map[wallet.Key]*models.Wallet
	treasurySnaps map[treasury.Key]*models.FeeTreasury

	dirtyWallets    map[wallet.Key]*models.Wallet
	dirtyTreasuries map[treasury.Key]*models.FeeTreasury

	statsRow   models.MarketStats
	statsCount int
	statsDirty bool

	undo []func()
}

func (m *Market) newJournal() *journal {
	j := &journal{
		m:               m,
		orderSeen:       make(map[uuid.UUID]struct{}),
		walletSnaps:     make(map[wallet.Key]*models.Wallet),
		treasurySnaps:   make(map[treasury.Key]*models.FeeTreasury),
		dirtyWallets:    make(map[wallet.Key]*models.Wallet),
		dirtyTreasuries: make(map[treasury.Key]*models.FeeTreasury),
	}
	j.statsRow, j.statsCount = m.tracker.Mark()
	return j
}

// touchOrder snapshots an order's fields before the first mutation.
func (j *journal) touchOrder(o *models.Order) {
	if _, ok := j.orderSeen[o.ID]; !ok {
		j.orderSeen[o.ID] = struct{}{}
		j.orderSnaps = append(j.orderSnaps, orderSnap{ref: o, snap: *o})
	}
}

// touchWallet snapshots a ledger row before the first mutation. The caller
// must hold the row's key lock.
func (j *journal) touchWallet(k wallet.Key) {
	if _, ok := j.walletSnaps[k]; !ok {
		j.walletSnaps[k] = j.m.ledger.Snapshot(k)
	}
}

// touchTreasury snapshots a treasury row before the first accrual.
func (j *journal) touchTreasury(k treasury.Key) {
	if _, ok := j.treasurySnaps[k]; !ok {
		j.treasurySnaps[k] = j.m.treasury.Snapshot(k)
	}
}

// markWalletDirty records the post-mutation row for the persistence write set.
func (j *journal) markWalletDirty(row *models.Wallet) {
	j.dirtyWallets[wallet.Key{UserID: row.UserID, Asset: row.Asset}] = row
}

// markTreasuryDirty records the post-accrual row for the write set.
func (j *journal) markTreasuryDirty(row *models.FeeTreasury) {
	j.dirtyTreasuries[treasury.Key{MarketID: row.MarketID, Asset: row.Asset}] = row
}

// markStatsDirty flags that the tracker advanced during this command.
func (j *journal) markStatsDirty() {
	j.statsDirty = true
}

// addUndo appends a structural undo step (book insertions and removals,
// client-id index changes). Steps run in reverse on rollback.
func (j *journal) addUndo(fn func()) {
	j.undo = append(j.undo, fn)
}

// rollback restores the pre-command snapshot: order fields, book structure,
// ledger rows, treasury rows and the stats window.
func (j *journal) rollback() {
	for _, s := range j.orderSnaps {
		*s.ref = s.snap
	}
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	for k, snap := range j.walletSnaps {
		j.m.ledger.Restore(k, snap)
	}
	for k, snap := range j.treasurySnaps {
		j.m.treasury.Restore(k, snap)
	}
	j.m.tracker.Rewind(j.statsRow, j.statsCount)
}
