package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/orbit-engine/internal/numeric"
	"github.com/Aidin1998/orbit-engine/internal/treasury"
	"github.com/Aidin1998/orbit-engine/internal/wallet"
	"github.com/Aidin1998/orbit-engine/pkg/metrics"
	"github.com/Aidin1998/orbit-engine/pkg/models"
)

func oppositeSide(side string) string {
	if side == models.OrderSideBuy {
		return models.OrderSideSell
	}
	return models.OrderSideBuy
}

// addOrder runs the full order-entry protocol: validate, reserve, post-only
// and FOK checks, match, disposition, persist, emit.
func (m *Market) addOrder(req *AddOrderRequest) (*models.Order, []*models.Trade, error) {
	if m.state != StateActive {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrMarketNotActive, m.cfg.ID, m.state)
	}
	if err := m.validateAddOrder(req); err != nil {
		return nil, nil, err
	}
	if err := m.checkClientOrderID(req); err != nil {
		return nil, nil, err
	}

	now := models.NowMilli()
	o := &models.Order{
		ID:            uuid.New(),
		MarketID:      m.cfg.ID,
		UserID:        req.UserID,
		Type:          req.Type,
		Side:          req.Side,
		Price:         req.Price,
		BaseAmount:    req.BaseAmount,
		QuoteAmount:   req.QuoteAmount,
		MakerFee:      req.MakerFee,
		TakerFee:      req.TakerFee,
		RemainedBase:  req.BaseAmount,
		Status:        models.OrderStatusOpen,
		ClientOrderID: req.ClientOrderID,
		PostOnly:      req.PostOnly,
		TimeInForce:   req.TimeInForce,
		ExpiresAt:     req.ExpiresAt,
		CreateTime:    now,
		UpdateTime:    now,
	}

	resKey, resAmount, err := m.reservationFor(o)
	if err != nil {
		return nil, nil, err
	}

	release := m.ledger.Acquire(m.commandKeys(o)...)
	defer release()

	j := m.newJournal()
	fail := func(err error) (*models.Order, []*models.Trade, error) {
		j.rollback()
		reason := "error"
		if isValidationKind(err) {
			reason = "rejected"
		}
		metrics.OrdersRejected.WithLabelValues(m.cfg.ID, reason).Inc()
		return nil, nil, err
	}

	// Reserve funds.
	j.touchWallet(resKey)
	row, err := m.ledger.Lock(o.UserID, resKey.Asset, resAmount)
	if err != nil {
		return fail(err)
	}
	j.markWalletDirty(row)

	// Post-only orders must rest.
	if o.PostOnly && m.book.Crosses(o.Side, o.Price, false) {
		return fail(fmt.Errorf("%w: order at %s would match", ErrPostOnlyCross, o.Price))
	}

	// FOK precheck walks the opposite ladder before any fill happens.
	if o.TimeInForce == models.TimeInForceFOK && !m.fokFillable(o) {
		return fail(fmt.Errorf("%w: book depth below required amount", ErrFillOrKillUnfillable))
	}

	trades, makers, err := m.matchLoop(j, o)
	if err != nil {
		j.rollback()
		if errors.Is(err, ErrInternal) {
			m.haltOnInternal(err)
		}
		return nil, nil, err
	}

	if err := m.disposeTaker(j, o); err != nil {
		j.rollback()
		m.haltOnInternal(err)
		return nil, nil, err
	}

	persistSet := append(makers, o)
	if err := m.persistCommand(j, persistSet, trades); err != nil {
		j.rollback()
		metrics.OrdersRejected.WithLabelValues(m.cfg.ID, "persistence").Inc()
		return nil, nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	m.emit(o, makers, trades)
	metrics.OrdersProcessed.WithLabelValues(m.cfg.ID, o.Side).Inc()
	m.logger.Debug("order processed",
		zap.String("order_id", o.ID.String()),
		zap.String("status", o.Status),
		zap.Int("trades", len(trades)))

	return o.Clone(), trades, nil
}

// reservationFor computes the wallet key and amount locked at entry, and
// seeds the order's reservation tracker.
func (m *Market) reservationFor(o *models.Order) (wallet.Key, decimal.Decimal, error) {
	cfg := m.cfg
	if o.Side == models.OrderSideSell {
		// Base is held; the seller's fee is charged in quote at settle.
		return wallet.Key{UserID: o.UserID, Asset: cfg.BaseAsset}, o.BaseAmount, nil
	}
	key := wallet.Key{UserID: o.UserID, Asset: cfg.QuoteAsset}
	if o.Type == models.OrderTypeMarket {
		o.RemainedQuote = o.QuoteAmount
		return key, o.QuoteAmount, nil
	}
	gross, err := numeric.Mul(o.BaseAmount, o.Price)
	if err != nil {
		return wallet.Key{}, decimal.Zero, err
	}
	withFee, err := numeric.Mul(gross, one.Add(o.TakerFee))
	if err != nil {
		return wallet.Key{}, decimal.Zero, err
	}
	lockAmt := numeric.CeilAmount(withFee, quotePrecision(cfg))
	o.RemainedQuote = lockAmt
	return key, lockAmt, nil
}

// commandKeys returns every wallet key this command may touch: the taker's
// base and quote rows plus the rows of each maker the match loop can reach.
// The set is a superset; the book cannot change between this walk and the
// match because the worker is the market's only writer.
func (m *Market) commandKeys(o *models.Order) []wallet.Key {
	keys := []wallet.Key{
		{UserID: o.UserID, Asset: m.cfg.BaseAsset},
		{UserID: o.UserID, Asset: m.cfg.QuoteAsset},
	}
	isMarket := o.Type == models.OrderTypeMarket
	needBase := o.RemainedBase
	needQuote := o.QuoteAmount
	byQuote := isMarket && o.Side == models.OrderSideBuy

	m.book.ScanCrossing(o.Side, o.Price, isMarket, func(maker *models.Order) bool {
		keys = append(keys,
			wallet.Key{UserID: maker.UserID, Asset: m.cfg.BaseAsset},
			wallet.Key{UserID: maker.UserID, Asset: m.cfg.QuoteAsset})
		if byQuote {
			needQuote = needQuote.Sub(maker.RemainedBase.Mul(maker.Price))
			return needQuote.IsPositive()
		}
		needBase = needBase.Sub(maker.RemainedBase)
		return needBase.IsPositive()
	})
	return keys
}

// fokFillable simulates fills at taker prices and reports whether the order
// could be filled completely.
func (m *Market) fokFillable(o *models.Order) bool {
	if o.Type == models.OrderTypeMarket && o.Side == models.OrderSideBuy {
		return m.book.FillableQuote().GreaterThanOrEqual(o.QuoteAmount)
	}
	fillable := m.book.FillableBase(o.Side, o.Price, o.Type == models.OrderTypeMarket)
	return fillable.GreaterThanOrEqual(o.BaseAmount)
}

// matchLoop consumes the opposite ladder while the taker crosses, settling
// each fill atomically against the ledger and treasury. Returns the trades
// and every maker order that was touched.
func (m *Market) matchLoop(j *journal, taker *models.Order) ([]*models.Trade, []*models.Order, error) {
	cfg := m.cfg
	qPrec := quotePrecision(cfg)
	byQuote := taker.Type == models.OrderTypeMarket && taker.Side == models.OrderSideBuy
	isMarket := taker.Type == models.OrderTypeMarket

	var trades []*models.Trade
	var makers []*models.Order

	for {
		if byQuote {
			if !taker.RemainedQuote.IsPositive() || numeric.IsDust(taker.RemainedQuote, qPrec) {
				break
			}
		} else if !taker.RemainedBase.IsPositive() || numeric.IsDust(taker.RemainedBase, cfg.AmountPrecision) {
			break
		}
		if !m.book.Crosses(taker.Side, taker.Price, isMarket) {
			break
		}
		level, ok := m.book.BestLevel(oppositeSide(taker.Side))
		if !ok {
			break
		}
		maker := level.PeekFront()
		if maker == nil {
			return nil, nil, fmt.Errorf("%w: empty level at %s", ErrInternal, level.Price)
		}
		if m.rejectSelfTrade && maker.UserID == taker.UserID {
			return nil, nil, fmt.Errorf("%w: order crosses own resting order %s", ErrValidation, maker.ID)
		}

		// The maker sets the price.
		price := maker.Price

		matchBase := taker.RemainedBase
		if byQuote {
			// Cap so matchBase*price never exceeds the remaining quote budget.
			affordable, err := numeric.DivFloor(taker.RemainedQuote, price, cfg.AmountPrecision)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrInternal, err)
			}
			matchBase = affordable
		}
		if maker.RemainedBase.LessThan(matchBase) {
			matchBase = maker.RemainedBase
		}
		matchBase = numeric.TruncateAmount(matchBase, cfg.AmountPrecision)
		if !matchBase.IsPositive() {
			break
		}

		quote, err := numeric.Mul(matchBase, price)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		quote = numeric.TruncateAmount(quote, qPrec)
		if !quote.IsPositive() {
			break
		}

		buyer, seller := taker, maker
		if taker.Side == models.OrderSideSell {
			buyer, seller = maker, taker
		}
		buyerRate, sellerRate := buyer.TakerFee, seller.MakerFee
		if taker.Side == models.OrderSideSell {
			buyerRate, sellerRate = buyer.MakerFee, seller.TakerFee
		}
		// Buyer fee is charged in base received; seller fee in quote received.
		buyerFee := numeric.TruncateAmount(matchBase.Mul(buyerRate), cfg.AmountPrecision)
		sellerFee := numeric.TruncateAmount(quote.Mul(sellerRate), qPrec)

		j.touchOrder(maker)
		if err := m.settleLeg(j, seller.UserID, buyer.UserID, cfg.BaseAsset, matchBase, buyerFee); err != nil {
			return nil, nil, err
		}
		if err := m.settleLeg(j, buyer.UserID, seller.UserID, cfg.QuoteAsset, quote, sellerFee); err != nil {
			return nil, nil, err
		}

		now := models.NowMilli()
		buyer.FilledBase = buyer.FilledBase.Add(matchBase)
		seller.FilledBase = seller.FilledBase.Add(matchBase)
		buyer.FilledQuote = buyer.FilledQuote.Add(quote)
		seller.FilledQuote = seller.FilledQuote.Add(quote)
		buyer.FilledFee = buyer.FilledFee.Add(buyerFee)
		seller.FilledFee = seller.FilledFee.Add(sellerFee)

		if !(byQuote && buyer == taker) {
			buyer.RemainedBase = buyer.RemainedBase.Sub(matchBase)
		}
		seller.RemainedBase = seller.RemainedBase.Sub(matchBase)
		buyer.RemainedQuote = buyer.RemainedQuote.Sub(quote)
		if buyer.RemainedQuote.IsNegative() || seller.RemainedBase.IsNegative() {
			return nil, nil, fmt.Errorf("%w: reservation accounting went negative", ErrInternal)
		}
		buyer.UpdateTime = now
		seller.UpdateTime = now

		// Maker leaves the book on full fill; a dust remainder counts as a
		// full fill: its reservation is unlocked and the maker is marked Filled.
		makerDone := !maker.RemainedBase.IsPositive() ||
			numeric.IsDust(maker.RemainedBase, cfg.AmountPrecision)
		if makerDone {
			popped := m.book.PopBest(maker.Side)
			if popped == nil || popped.ID != maker.ID {
				return nil, nil, fmt.Errorf("%w: maker %s was not at the front of the best level", ErrInternal, maker.ID)
			}
			restore := maker
			j.addUndo(func() { _ = m.book.AddFront(restore) })
			if err := m.unlockResidual(j, maker); err != nil {
				return nil, nil, err
			}
			maker.Status = models.OrderStatusFilled
			m.unregisterClientID(maker)
			j.addUndo(func() { m.registerClientID(restore) })
		} else {
			maker.Status = models.OrderStatusPartiallyFilled
		}
		makers = append(makers, maker)

		ts := m.nextTradeTS()
		trade := &models.Trade{
			ID:            uuid.New(),
			Timestamp:     ts,
			MarketID:      cfg.ID,
			Price:         price,
			BaseAmount:    matchBase,
			QuoteAmount:   quote,
			BuyerUserID:   buyer.UserID,
			BuyerOrderID:  buyer.ID,
			BuyerFee:      buyerFee,
			SellerUserID:  seller.UserID,
			SellerOrderID: seller.ID,
			SellerFee:     sellerFee,
			TakerSide:     taker.Side,
		}
		trades = append(trades, trade)

		prevLast := m.book.LastPrice()
		j.addUndo(func() { m.book.SetLastPrice(prevLast) })
		m.book.SetLastPrice(price)
		m.tracker.Record(ts, price, matchBase)
		j.markStatsDirty()
		metrics.TradesExecuted.WithLabelValues(cfg.ID).Inc()
	}
	return trades, makers, nil
}

// settleLeg moves gross from the payer's locked balance to the receiver and
// accrues the fee to the market treasury, journaling every touched row.
func (m *Market) settleLeg(j *journal, from, to uuid.UUID, asset string, gross, fee decimal.Decimal) error {
	fromKey := wallet.Key{UserID: from, Asset: asset}
	toKey := wallet.Key{UserID: to, Asset: asset}
	j.touchWallet(fromKey)
	j.touchWallet(toKey)
	fromRow, toRow, err := m.ledger.Settle(from, to, asset, gross, fee)
	if err != nil {
		return fmt.Errorf("%w: settle %s: %v", ErrInternal, asset, err)
	}
	j.markWalletDirty(fromRow)
	j.markWalletDirty(toRow)

	tKey := treasury.Key{MarketID: m.cfg.ID, Asset: asset}
	j.touchTreasury(tKey)
	tRow, err := m.treasury.Accrue(m.cfg.ID, asset, fee)
	if err != nil {
		return fmt.Errorf("%w: accrue fee in %s: %v", ErrInternal, asset, err)
	}
	j.markTreasuryDirty(tRow)
	return nil
}

// unlockResidual releases whatever is still locked for the order.
func (m *Market) unlockResidual(j *journal, o *models.Order) error {
	var asset string
	var amt decimal.Decimal
	if o.Side == models.OrderSideBuy {
		asset, amt = m.cfg.QuoteAsset, o.RemainedQuote
	} else {
		asset, amt = m.cfg.BaseAsset, o.RemainedBase
	}
	if !amt.IsPositive() {
		return nil
	}
	k := wallet.Key{UserID: o.UserID, Asset: asset}
	j.touchWallet(k)
	row, err := m.ledger.Unlock(o.UserID, asset, amt)
	if err != nil {
		return fmt.Errorf("%w: release reservation of %s: %v", ErrInternal, o.ID, err)
	}
	j.markWalletDirty(row)
	return nil
}

// disposeTaker decides where the taker ends up after matching: resting on
// the book, fully filled, or canceled with its residual reservation released.
func (m *Market) disposeTaker(j *journal, o *models.Order) error {
	cfg := m.cfg
	byQuote := o.Type == models.OrderTypeMarket && o.Side == models.OrderSideBuy

	remainder := o.RemainedBase
	prec := cfg.AmountPrecision
	if byQuote {
		remainder = o.RemainedQuote
		prec = quotePrecision(cfg)
	}
	hasRemainder := remainder.IsPositive() && !numeric.IsDust(remainder, prec)

	if o.Type == models.OrderTypeLimit && o.TimeInForce == models.TimeInForceGTC && hasRemainder {
		if err := m.book.Add(o); err != nil {
			return fmt.Errorf("%w: rest taker: %v", ErrInternal, err)
		}
		j.addUndo(func() { _, _ = m.book.Remove(o.ID) })
		m.registerClientID(o)
		j.addUndo(func() { m.unregisterClientID(o) })
		if o.FilledBase.IsPositive() {
			o.Status = models.OrderStatusPartiallyFilled
		} else {
			o.Status = models.OrderStatusOpen
		}
		return nil
	}

	// IOC and market remainders cancel; FOK cannot reach here unfilled.
	if err := m.unlockResidual(j, o); err != nil {
		return err
	}
	if hasRemainder {
		o.Status = models.OrderStatusCanceled
	} else {
		o.Status = models.OrderStatusFilled
	}
	o.UpdateTime = models.NowMilli()
	return nil
}

// persistCommand writes the command's full effect set as one transaction.
func (m *Market) persistCommand(j *journal, orders []*models.Order, trades []*models.Trade) error {
	tx, err := m.store.Begin(context.Background())
	if err != nil {
		return err
	}
	abort := func(err error) error {
		_ = tx.Rollback()
		return err
	}
	seen := make(map[uuid.UUID]struct{}, len(orders))
	for _, o := range orders {
		if _, dup := seen[o.ID]; dup {
			continue
		}
		seen[o.ID] = struct{}{}
		if err := tx.UpsertOrder(o); err != nil {
			return abort(err)
		}
	}
	for _, t := range trades {
		if err := tx.InsertTrade(t); err != nil {
			return abort(err)
		}
	}
	for _, w := range j.dirtyWallets {
		if err := tx.UpdateWallet(w); err != nil {
			return abort(err)
		}
	}
	for _, f := range j.dirtyTreasuries {
		if err := tx.UpsertFeeTreasury(f); err != nil {
			return abort(err)
		}
	}
	if j.statsDirty {
		row := m.tracker.Row()
		if err := tx.UpsertMarketStats(&row); err != nil {
			return abort(err)
		}
	}
	return tx.Commit()
}

// emit publishes post-commit events: every trade, plus the taker and any
// maker that reached a terminal state.
func (m *Market) emit(taker *models.Order, makers []*models.Order, trades []*models.Trade) {
	ctx := context.Background()
	for _, t := range trades {
		_ = m.events.PublishTrade(ctx, t)
	}
	for _, o := range makers {
		if o.IsTerminal() {
			_ = m.events.PublishOrder(ctx, o.Clone())
		}
	}
	_ = m.events.PublishOrder(ctx, taker.Clone())
}

func (m *Market) nextTradeTS() int64 {
	ts := models.NowMilli()
	if ts <= m.lastTradeTS {
		ts = m.lastTradeTS + 1
	}
	m.lastTradeTS = ts
	return ts
}

// cancelOrder removes a resting order, releasing its reservation. Unknown or
// already-terminal ids return ErrOrderNotFound without mutating state.
func (m *Market) cancelOrder(id uuid.UUID) (*models.Order, error) {
	if m.state == StateCreated {
		return nil, fmt.Errorf("%w: %s has not been started", ErrMarketNotActive, m.cfg.ID)
	}
	o, ok := m.book.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}

	release := m.ledger.Acquire(m.reservationKey(o))
	defer release()

	j := m.newJournal()
	j.touchOrder(o)
	if err := m.unlockResidual(j, o); err != nil {
		j.rollback()
		m.haltOnInternal(err)
		return nil, err
	}
	o.Status = models.OrderStatusCanceled
	o.UpdateTime = models.NowMilli()

	if err := m.persistCommand(j, []*models.Order{o}, nil); err != nil {
		j.rollback()
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// The order leaves the book only after the cancel is durable.
	if _, err := m.book.Remove(id); err != nil {
		m.haltOnInternal(fmt.Errorf("%w: canceled order missing from book: %v", ErrInternal, err))
		return nil, err
	}
	m.unregisterClientID(o)
	_ = m.events.PublishOrder(context.Background(), o.Clone())
	return o.Clone(), nil
}

// cancelAll cancels every resting order as one atomic command.
func (m *Market) cancelAll() ([]*models.Order, error) {
	resting := m.book.RestingOrders()
	if len(resting) == 0 {
		return nil, nil
	}
	keys := make([]wallet.Key, 0, len(resting))
	for _, o := range resting {
		keys = append(keys, m.reservationKey(o))
	}
	release := m.ledger.Acquire(keys...)
	defer release()

	j := m.newJournal()
	now := models.NowMilli()
	for _, o := range resting {
		j.touchOrder(o)
		if err := m.unlockResidual(j, o); err != nil {
			j.rollback()
			m.haltOnInternal(err)
			return nil, err
		}
		o.Status = models.OrderStatusCanceled
		o.UpdateTime = now
	}
	if err := m.persistCommand(j, resting, nil); err != nil {
		j.rollback()
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	out := make([]*models.Order, 0, len(resting))
	for _, o := range resting {
		if _, err := m.book.Remove(o.ID); err != nil {
			m.haltOnInternal(fmt.Errorf("%w: canceled order missing from book: %v", ErrInternal, err))
			return nil, err
		}
		m.unregisterClientID(o)
		_ = m.events.PublishOrder(context.Background(), o.Clone())
		out = append(out, o.Clone())
	}
	m.logger.Info("canceled all resting orders", zap.Int("count", len(out)))
	return out, nil
}

// expireDue cancels resting orders whose expiry has passed. Runs at the top
// of every AddOrder tick; failures are logged and retried on the next tick.
func (m *Market) expireDue() {
	now := models.NowMilli()
	for _, o := range m.book.ExpiredOrders(now) {
		release := m.ledger.Acquire(m.reservationKey(o))
		j := m.newJournal()
		j.touchOrder(o)
		if err := m.unlockResidual(j, o); err != nil {
			j.rollback()
			release()
			m.haltOnInternal(err)
			return
		}
		o.Status = models.OrderStatusCanceled
		o.UpdateTime = now
		if err := m.persistCommand(j, []*models.Order{o}, nil); err != nil {
			j.rollback()
			release()
			m.logger.Warn("failed to persist order expiry",
				zap.String("order_id", o.ID.String()), zap.Error(err))
			continue
		}
		if _, err := m.book.Remove(o.ID); err != nil {
			release()
			m.haltOnInternal(fmt.Errorf("%w: expired order missing from book: %v", ErrInternal, err))
			return
		}
		m.unregisterClientID(o)
		_ = m.events.PublishOrder(context.Background(), o.Clone())
		release()
	}
}
