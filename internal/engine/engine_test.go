package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/orbit-engine/internal/engine"
	"github.com/Aidin1998/orbit-engine/internal/market"
	"github.com/Aidin1998/orbit-engine/internal/persistence"
	"github.com/Aidin1998/orbit-engine/pkg/models"
)

const testMarket = "BTC-USDT"

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestRegistry(t *testing.T) (*market.Registry, *persistence.MemoryStore) {
	t.Helper()
	store := persistence.NewMemoryStore()
	r := market.NewRegistry(market.Options{
		Store:  store,
		Logger: zap.NewNop(),
	})
	t.Cleanup(r.Close)

	_, err := r.CreateMarket(context.Background(), market.CreateMarketRequest{
		ID:              testMarket,
		BaseAsset:       "BTC",
		QuoteAsset:      "USDT",
		DefaultMakerFee: d("0.001"),
		DefaultTakerFee: d("0.002"),
		MinBaseAmount:   d("0.0001"),
		MinQuoteAmount:  d("10"),
		PricePrecision:  2,
		AmountPrecision: 4,
	})
	require.NoError(t, err)
	require.NoError(t, r.StartMarket(context.Background(), testMarket))
	return r, store
}

func deposit(t *testing.T, r *market.Registry, user uuid.UUID, asset, amount string) {
	t.Helper()
	_, err := r.Deposit(context.Background(), user, asset, d(amount))
	require.NoError(t, err)
}

func limitOrder(user uuid.UUID, side, price, base string) *engine.AddOrderRequest {
	return &engine.AddOrderRequest{
		MarketID:   testMarket,
		UserID:     user,
		Type:       models.OrderTypeLimit,
		Side:       side,
		Price:      d(price),
		BaseAmount: d(base),
		MakerFee:   decimal.NewFromInt(-1),
		TakerFee:   decimal.NewFromInt(-1),
	}
}

func futureMilli() *int64 {
	v := models.NowMilli() + 60_000
	return &v
}

func TestLimitCrossFullFill(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()
	buyer := uuid.New()
	seller := uuid.New()
	deposit(t, r, buyer, "USDT", "50100")
	deposit(t, r, seller, "BTC", "1")

	// Seller rests first, buyer takes.
	restRes, err := r.AddOrder(ctx, limitOrder(seller, models.OrderSideSell, "50000", "1"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusOpen, restRes.Order.Status)

	takeRes, err := r.AddOrder(ctx, limitOrder(buyer, models.OrderSideBuy, "50000", "1"))
	require.NoError(t, err)
	require.Len(t, takeRes.Trades, 1)

	trade := takeRes.Trades[0]
	assert.True(t, trade.Price.Equal(d("50000")))
	assert.True(t, trade.BaseAmount.Equal(d("1")))
	assert.True(t, trade.QuoteAmount.Equal(d("50000")))
	assert.Equal(t, models.OrderSideBuy, trade.TakerSide)
	assert.True(t, trade.BuyerFee.Equal(d("0.002")), "buyer taker fee in base, got %s", trade.BuyerFee)
	assert.True(t, trade.SellerFee.Equal(d("50")), "seller maker fee in quote, got %s", trade.SellerFee)
	assert.Equal(t, models.OrderStatusFilled, takeRes.Order.Status)

	// Buyer gains base net of fee; the unused fee buffer returns to available.
	buyerBTC := r.GetBalance(buyer, "BTC")
	assert.True(t, buyerBTC.Available.Equal(d("0.998")), "got %s", buyerBTC.Available)
	buyerUSDT := r.GetBalance(buyer, "USDT")
	assert.True(t, buyerUSDT.Available.Equal(d("100")), "fee buffer refund, got %s", buyerUSDT.Available)
	assert.True(t, buyerUSDT.Locked.IsZero())

	sellerUSDT := r.GetBalance(seller, "USDT")
	assert.True(t, sellerUSDT.Available.Equal(d("49950")), "got %s", sellerUSDT.Available)
	sellerBTC := r.GetBalance(seller, "BTC")
	assert.True(t, sellerBTC.Available.IsZero())
	assert.True(t, sellerBTC.Locked.IsZero())

	assert.True(t, r.Treasury().Get(testMarket, "BTC").CollectedAmount.Equal(d("0.002")))
	assert.True(t, r.Treasury().Get(testMarket, "USDT").CollectedAmount.Equal(d("50")))

	require.Len(t, store.Trades(), 1)
}

func TestPartialFillThenRest(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	maker := uuid.New()
	taker := uuid.New()
	deposit(t, r, maker, "BTC", "2")
	deposit(t, r, taker, "USDT", "80000")

	makerRes, err := r.AddOrder(ctx, limitOrder(maker, models.OrderSideSell, "50000", "2"))
	require.NoError(t, err)

	takeRes, err := r.AddOrder(ctx, limitOrder(taker, models.OrderSideBuy, "50100", "1.5"))
	require.NoError(t, err)
	require.Len(t, takeRes.Trades, 1)

	trade := takeRes.Trades[0]
	assert.True(t, trade.Price.Equal(d("50000")), "maker sets the price")
	assert.True(t, trade.BaseAmount.Equal(d("1.5")))
	assert.Equal(t, models.OrderStatusFilled, takeRes.Order.Status)

	resting, err := r.GetOrder(ctx, testMarket, makerRes.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPartiallyFilled, resting.Status)
	assert.True(t, resting.RemainedBase.Equal(d("0.5")), "got %s", resting.RemainedBase)
}

func TestMarketBuyByQuote(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	x := uuid.New()
	y := uuid.New()
	c := uuid.New()
	deposit(t, r, x, "BTC", "0.4")
	deposit(t, r, y, "BTC", "0.4")
	deposit(t, r, c, "USDT", "35000")

	_, err := r.AddOrder(ctx, limitOrder(x, models.OrderSideSell, "50000", "0.4"))
	require.NoError(t, err)
	_, err = r.AddOrder(ctx, limitOrder(y, models.OrderSideSell, "50100", "0.4"))
	require.NoError(t, err)

	res, err := r.AddOrder(ctx, &engine.AddOrderRequest{
		MarketID:    testMarket,
		UserID:      c,
		Type:        models.OrderTypeMarket,
		Side:        models.OrderSideBuy,
		QuoteAmount: d("35000"),
		MakerFee:    decimal.NewFromInt(-1),
		TakerFee:    decimal.NewFromInt(-1),
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	assert.True(t, res.Trades[0].BaseAmount.Equal(d("0.4")))
	assert.True(t, res.Trades[0].Price.Equal(d("50000")))
	assert.True(t, res.Trades[0].QuoteAmount.Equal(d("20000")))

	// Remaining 15000 buys floor(15000/50100, 4dp) = 0.2994 BTC.
	assert.True(t, res.Trades[1].BaseAmount.Equal(d("0.2994")), "got %s", res.Trades[1].BaseAmount)
	assert.True(t, res.Trades[1].Price.Equal(d("50100")))
	assert.True(t, res.Trades[1].QuoteAmount.Equal(d("14999.94")), "got %s", res.Trades[1].QuoteAmount)

	// The unspendable residual is refunded; nothing stays locked.
	w := r.GetBalance(c, "USDT")
	assert.True(t, w.Locked.IsZero())
	assert.True(t, w.Available.Equal(d("0.06")), "got %s", w.Available)
}

func TestPostOnlyCrossRejected(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	maker := uuid.New()
	poster := uuid.New()
	deposit(t, r, maker, "BTC", "1")
	deposit(t, r, poster, "USDT", "50100")

	_, err := r.AddOrder(ctx, limitOrder(maker, models.OrderSideSell, "50000", "1"))
	require.NoError(t, err)

	before := r.GetBalance(poster, "USDT")
	req := limitOrder(poster, models.OrderSideBuy, "50000", "1")
	req.PostOnly = true
	_, err = r.AddOrder(ctx, req)
	require.ErrorIs(t, err, engine.ErrPostOnlyCross)

	after := r.GetBalance(poster, "USDT")
	assert.True(t, before.Available.Equal(after.Available), "no funds moved")
	assert.True(t, after.Locked.IsZero())

	depth, err := r.Depth(ctx, testMarket, 10)
	require.NoError(t, err)
	assert.Empty(t, depth.Bids, "rejected order must not rest")
	assert.Len(t, depth.Asks, 1)
}

func TestFillOrKillUnfillable(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()
	maker := uuid.New()
	taker := uuid.New()
	deposit(t, r, maker, "BTC", "0.5")
	deposit(t, r, taker, "USDT", "50100")

	_, err := r.AddOrder(ctx, limitOrder(maker, models.OrderSideSell, "50000", "0.5"))
	require.NoError(t, err)

	req := limitOrder(taker, models.OrderSideBuy, "50000", "1")
	req.TimeInForce = models.TimeInForceFOK
	req.ExpiresAt = futureMilli()
	_, err = r.AddOrder(ctx, req)
	require.ErrorIs(t, err, engine.ErrFillOrKillUnfillable)

	assert.Empty(t, store.Trades())
	w := r.GetBalance(taker, "USDT")
	assert.True(t, w.Locked.IsZero())
	assert.True(t, w.Available.Equal(d("50100")))
}

func TestFillOrKillFillable(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	maker := uuid.New()
	taker := uuid.New()
	deposit(t, r, maker, "BTC", "2")
	deposit(t, r, taker, "USDT", "50100")

	_, err := r.AddOrder(ctx, limitOrder(maker, models.OrderSideSell, "50000", "2"))
	require.NoError(t, err)

	req := limitOrder(taker, models.OrderSideBuy, "50000", "1")
	req.TimeInForce = models.TimeInForceFOK
	req.ExpiresAt = futureMilli()
	res, err := r.AddOrder(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, models.OrderStatusFilled, res.Order.Status)
}

func TestCancelReturnsReservation(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	user := uuid.New()
	deposit(t, r, user, "BTC", "1")

	res, err := r.AddOrder(ctx, limitOrder(user, models.OrderSideSell, "60000", "1"))
	require.NoError(t, err)
	locked := r.GetBalance(user, "BTC")
	require.True(t, locked.Locked.Equal(d("1")))
	require.True(t, locked.Available.IsZero())

	canceled, err := r.CancelOrder(ctx, testMarket, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, canceled.Status)

	w := r.GetBalance(user, "BTC")
	assert.True(t, w.Available.Equal(d("1")))
	assert.True(t, w.Locked.IsZero())

	// Canceling a terminal order is a NotFound, not a mutation.
	_, err = r.CancelOrder(ctx, testMarket, res.Order.ID)
	require.ErrorIs(t, err, engine.ErrOrderNotFound)
	again := r.GetBalance(user, "BTC")
	assert.True(t, again.Available.Equal(d("1")))
}

func TestIOCRemainderReleased(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	maker := uuid.New()
	taker := uuid.New()
	deposit(t, r, maker, "BTC", "0.5")
	deposit(t, r, taker, "USDT", "50100")

	_, err := r.AddOrder(ctx, limitOrder(maker, models.OrderSideSell, "50000", "0.5"))
	require.NoError(t, err)

	req := limitOrder(taker, models.OrderSideBuy, "50000", "1")
	req.TimeInForce = models.TimeInForceIOC
	req.ExpiresAt = futureMilli()
	res, err := r.AddOrder(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, models.OrderStatusCanceled, res.Order.Status, "IOC remainder cancels")
	assert.True(t, res.Order.FilledBase.Equal(d("0.5")))

	w := r.GetBalance(taker, "USDT")
	assert.True(t, w.Locked.IsZero(), "residual reservation released")

	depth, err := r.Depth(ctx, testMarket, 10)
	require.NoError(t, err)
	assert.Empty(t, depth.Bids, "IOC never rests")
}

func TestDuplicateClientOrderID(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	user := uuid.New()
	deposit(t, r, user, "BTC", "2")

	cid := "order-7"
	req := limitOrder(user, models.OrderSideSell, "60000", "1")
	req.ClientOrderID = &cid
	_, err := r.AddOrder(ctx, req)
	require.NoError(t, err)

	dup := limitOrder(user, models.OrderSideSell, "61000", "1")
	dup.ClientOrderID = &cid
	_, err = r.AddOrder(ctx, dup)
	require.ErrorIs(t, err, engine.ErrDuplicateClientOrderID)
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()
	maker := uuid.New()
	taker := uuid.New()
	deposit(t, r, maker, "BTC", "1")
	deposit(t, r, taker, "USDT", "50100")

	_, err := r.AddOrder(ctx, limitOrder(maker, models.OrderSideSell, "50000", "1"))
	require.NoError(t, err)

	makerBTC := r.GetBalance(maker, "BTC")
	takerUSDT := r.GetBalance(taker, "USDT")
	depthBefore, err := r.Depth(ctx, testMarket, 10)
	require.NoError(t, err)

	store.FailNextCommit(1)
	_, err = r.AddOrder(ctx, limitOrder(taker, models.OrderSideBuy, "50000", "1"))
	require.ErrorIs(t, err, engine.ErrPersistence)

	// Book and wallets must be byte-identical to the pre-command snapshot.
	assert.True(t, r.GetBalance(maker, "BTC").Locked.Equal(makerBTC.Locked))
	assert.True(t, r.GetBalance(maker, "BTC").Available.Equal(makerBTC.Available))
	assert.True(t, r.GetBalance(taker, "USDT").Available.Equal(takerUSDT.Available))
	assert.True(t, r.GetBalance(taker, "USDT").Locked.IsZero())
	assert.True(t, r.Treasury().Get(testMarket, "BTC").CollectedAmount.IsZero())

	depthAfter, err := r.Depth(ctx, testMarket, 10)
	require.NoError(t, err)
	assert.Equal(t, depthBefore, depthAfter)
	assert.Empty(t, store.Trades())

	// The market keeps working after the fault clears.
	res, err := r.AddOrder(ctx, limitOrder(taker, models.OrderSideBuy, "50000", "1"))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
}

func TestStopMarketCancelsOpenOrders(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	user := uuid.New()
	deposit(t, r, user, "BTC", "3")

	_, err := r.AddOrder(ctx, limitOrder(user, models.OrderSideSell, "60000", "1"))
	require.NoError(t, err)
	_, err = r.AddOrder(ctx, limitOrder(user, models.OrderSideSell, "61000", "2"))
	require.NoError(t, err)

	require.NoError(t, r.StopMarket(ctx, testMarket))

	w := r.GetBalance(user, "BTC")
	assert.True(t, w.Available.Equal(d("3")), "stop releases all reservations, got %s", w.Available)
	assert.True(t, w.Locked.IsZero())

	_, err = r.AddOrder(ctx, limitOrder(user, models.OrderSideSell, "60000", "1"))
	require.ErrorIs(t, err, engine.ErrMarketNotActive)

	// Restart accepts orders again.
	require.NoError(t, r.StartMarket(ctx, testMarket))
	_, err = r.AddOrder(ctx, limitOrder(user, models.OrderSideSell, "60000", "1"))
	require.NoError(t, err)
}

func TestValidationRejections(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	user := uuid.New()
	deposit(t, r, user, "USDT", "100000")
	deposit(t, r, user, "BTC", "10")

	cases := []struct {
		name string
		req  *engine.AddOrderRequest
	}{
		{"price off grid", limitOrder(user, models.OrderSideBuy, "50000.123", "1")},
		{"amount off grid", limitOrder(user, models.OrderSideBuy, "50000", "1.00001")},
		{"below min base", limitOrder(user, models.OrderSideSell, "50000", "0.00005")},
		{"zero price", limitOrder(user, models.OrderSideBuy, "0", "1")},
		{"bad side", &engine.AddOrderRequest{
			MarketID: testMarket, UserID: user, Type: models.OrderTypeLimit,
			Side: "HOLD", Price: d("50000"), BaseAmount: d("1"),
		}},
		{"market buy without quote", &engine.AddOrderRequest{
			MarketID: testMarket, UserID: user, Type: models.OrderTypeMarket,
			Side: models.OrderSideBuy,
		}},
		{"GTC with expiry", func() *engine.AddOrderRequest {
			req := limitOrder(user, models.OrderSideBuy, "50000", "1")
			req.ExpiresAt = futureMilli()
			return req
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.AddOrder(ctx, tc.req)
			assert.ErrorIs(t, err, engine.ErrValidation)
		})
	}
}

func TestInsufficientFundsRejected(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	user := uuid.New()
	deposit(t, r, user, "USDT", "100")

	_, err := r.AddOrder(ctx, limitOrder(user, models.OrderSideBuy, "50000", "1"))
	require.ErrorIs(t, err, engine.ErrInsufficientFunds)
	w := r.GetBalance(user, "USDT")
	assert.True(t, w.Available.Equal(d("100")))
	assert.True(t, w.Locked.IsZero())
}

func TestValueConservationAcrossFills(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	deposit(t, r, users[0], "BTC", "5")
	deposit(t, r, users[1], "USDT", "200000")
	deposit(t, r, users[2], "USDT", "100000")

	_, err := r.AddOrder(ctx, limitOrder(users[0], models.OrderSideSell, "50000", "2"))
	require.NoError(t, err)
	_, err = r.AddOrder(ctx, limitOrder(users[0], models.OrderSideSell, "50100", "3"))
	require.NoError(t, err)
	_, err = r.AddOrder(ctx, limitOrder(users[1], models.OrderSideBuy, "50100", "2.5"))
	require.NoError(t, err)
	_, err = r.AddOrder(ctx, limitOrder(users[2], models.OrderSideBuy, "50000", "1"))
	require.NoError(t, err)

	// Every unit of BTC and USDT remains in a wallet or the treasury.
	totalBTC := r.Treasury().Get(testMarket, "BTC").CollectedAmount
	totalUSDT := r.Treasury().Get(testMarket, "USDT").CollectedAmount
	for _, u := range users {
		btc := r.GetBalance(u, "BTC")
		usdt := r.GetBalance(u, "USDT")
		totalBTC = totalBTC.Add(btc.Available).Add(btc.Locked)
		totalUSDT = totalUSDT.Add(usdt.Available).Add(usdt.Locked)
	}
	assert.True(t, totalBTC.Equal(d("5")), "BTC conservation, got %s", totalBTC)
	assert.True(t, totalUSDT.Equal(d("300000")), "USDT conservation, got %s", totalUSDT)

	// No wallet field may go negative.
	for _, u := range users {
		for _, asset := range []string{"BTC", "USDT"} {
			w := r.GetBalance(u, asset)
			assert.False(t, w.Available.IsNegative())
			assert.False(t, w.Locked.IsNegative())
		}
	}
}

func TestMarketSellByBase(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	maker := uuid.New()
	taker := uuid.New()
	deposit(t, r, maker, "USDT", "100300")
	deposit(t, r, taker, "BTC", "1.5")

	_, err := r.AddOrder(ctx, limitOrder(maker, models.OrderSideBuy, "50000", "2"))
	require.NoError(t, err)

	res, err := r.AddOrder(ctx, &engine.AddOrderRequest{
		MarketID:   testMarket,
		UserID:     taker,
		Type:       models.OrderTypeMarket,
		Side:       models.OrderSideSell,
		BaseAmount: d("1.5"),
		MakerFee:   decimal.NewFromInt(-1),
		TakerFee:   decimal.NewFromInt(-1),
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, models.OrderStatusFilled, res.Order.Status)

	trade := res.Trades[0]
	assert.True(t, trade.Price.Equal(d("50000")))
	// Taker sells, so the seller pays the taker rate in quote.
	assert.True(t, trade.SellerFee.Equal(d("150")), "got %s", trade.SellerFee)
	assert.True(t, trade.BuyerFee.Equal(d("0.0015")), "maker rate in base, got %s", trade.BuyerFee)

	w := r.GetBalance(taker, "USDT")
	assert.True(t, w.Available.Equal(d("74850")), "1.5*50000 minus 150 fee, got %s", w.Available)
}

func TestAddOrderRequiresKnownMarket(t *testing.T) {
	r, _ := newTestRegistry(t)
	req := limitOrder(uuid.New(), models.OrderSideBuy, "50000", "1")
	req.MarketID = "ETH-USDT"
	_, err := r.AddOrder(context.Background(), req)
	require.ErrorIs(t, err, engine.ErrMarketNotFound)
}

func TestSelfTradeAllowedByDefault(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	user := uuid.New()
	deposit(t, r, user, "BTC", "1")
	deposit(t, r, user, "USDT", "50100")

	_, err := r.AddOrder(ctx, limitOrder(user, models.OrderSideSell, "50000", "1"))
	require.NoError(t, err)
	res, err := r.AddOrder(ctx, limitOrder(user, models.OrderSideBuy, "50000", "1"))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, res.Trades[0].BuyerUserID, res.Trades[0].SellerUserID)
}

func TestSelfTradeRejectedWhenConfigured(t *testing.T) {
	store := persistence.NewMemoryStore()
	r := market.NewRegistry(market.Options{
		Store:           store,
		Logger:          zap.NewNop(),
		RejectSelfTrade: true,
	})
	t.Cleanup(r.Close)
	ctx := context.Background()
	_, err := r.CreateMarket(ctx, market.CreateMarketRequest{
		ID: testMarket, BaseAsset: "BTC", QuoteAsset: "USDT",
		DefaultMakerFee: d("0.001"), DefaultTakerFee: d("0.002"),
		MinBaseAmount: d("0.0001"), MinQuoteAmount: d("10"),
		PricePrecision: 2, AmountPrecision: 4,
	})
	require.NoError(t, err)
	require.NoError(t, r.StartMarket(ctx, testMarket))

	user := uuid.New()
	deposit(t, r, user, "BTC", "1")
	deposit(t, r, user, "USDT", "50100")

	_, err = r.AddOrder(ctx, limitOrder(user, models.OrderSideSell, "50000", "1"))
	require.NoError(t, err)
	_, err = r.AddOrder(ctx, limitOrder(user, models.OrderSideBuy, "50000", "1"))
	require.ErrorIs(t, err, engine.ErrValidation)

	w := r.GetBalance(user, "USDT")
	assert.True(t, w.Locked.IsZero(), "reservation rolled back on self-trade rejection")
}

func TestTradeTimestampsMonotonic(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	maker := uuid.New()
	taker := uuid.New()
	deposit(t, r, maker, "BTC", "3")
	deposit(t, r, taker, "USDT", "160000")

	for _, price := range []string{"50000", "50100", "50200"} {
		_, err := r.AddOrder(ctx, limitOrder(maker, models.OrderSideSell, price, "1"))
		require.NoError(t, err)
	}
	res, err := r.AddOrder(ctx, limitOrder(taker, models.OrderSideBuy, "50200", "3"))
	require.NoError(t, err)
	require.Len(t, res.Trades, 3)
	for i := 1; i < len(res.Trades); i++ {
		assert.Greater(t, res.Trades[i].Timestamp, res.Trades[i-1].Timestamp)
	}
	// Price-time priority: the cheapest ask filled first.
	assert.True(t, res.Trades[0].Price.Equal(d("50000")))
	assert.True(t, res.Trades[2].Price.Equal(d("50200")))
}

func TestErrorKindsAreDistinct(t *testing.T) {
	kinds := []error{
		engine.ErrValidation, engine.ErrMarketNotFound, engine.ErrMarketNotActive,
		engine.ErrInsufficientFunds, engine.ErrDuplicateClientOrderID,
		engine.ErrPostOnlyCross, engine.ErrFillOrKillUnfillable,
		engine.ErrOrderNotFound, engine.ErrNumericOverflow, engine.ErrPersistence,
		engine.ErrInternal,
	}
	for i, a := range kinds {
		for j, b := range kinds {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v overlaps %v", a, b)
			}
		}
	}
}
