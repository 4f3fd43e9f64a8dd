// Package api exposes the engine command surface over HTTP. Transport only:
// every request is translated into a registry command and the outcome mapped
// back to a status code.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/orbit-engine/internal/engine"
	"github.com/Aidin1998/orbit-engine/internal/market"
)

// Server wires the gin router to the market registry.
type Server struct {
	registry *market.Registry
	logger   *zap.Logger
	router   *gin.Engine
}

// NewServer builds the router.
func NewServer(registry *market.Registry, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		registry: registry,
		logger:   logger,
		router:   gin.New(),
	}
	s.router.Use(gin.Recovery())

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.POST("/markets", s.createMarket)
	v1.POST("/markets/:id/start", s.startMarket)
	v1.POST("/markets/:id/stop", s.stopMarket)
	v1.GET("/markets/:id/depth", s.depth)
	v1.GET("/markets/:id/status", s.status)
	v1.POST("/orders", s.addOrder)
	v1.GET("/markets/:id/orders/:order_id", s.getOrder)
	v1.DELETE("/markets/:id/orders/:order_id", s.cancelOrder)
	v1.DELETE("/markets/:id/orders", s.cancelAllOrders)
	v1.POST("/wallets/deposits", s.deposit)
	v1.POST("/wallets/withdrawals", s.withdraw)
	v1.GET("/wallets/:user_id/:asset", s.getBalance)

	return s
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrMarketNotFound), errors.Is(err, engine.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrMarketNotActive):
		return http.StatusConflict
	case errors.Is(err, engine.ErrDuplicateClientOrderID):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrPostOnlyCross),
		errors.Is(err, engine.ErrFillOrKillUnfillable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrValidation), errors.Is(err, engine.ErrNumericOverflow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("command failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type createMarketRequest struct {
	ID              string `json:"id" binding:"required"`
	BaseAsset       string `json:"base_asset" binding:"required"`
	QuoteAsset      string `json:"quote_asset" binding:"required"`
	DefaultMakerFee string `json:"default_maker_fee" binding:"required"`
	DefaultTakerFee string `json:"default_taker_fee" binding:"required"`
	MinBaseAmount   string `json:"min_base_amount"`
	MinQuoteAmount  string `json:"min_quote_amount"`
	PricePrecision  int32  `json:"price_precision" binding:"min=0,max=18"`
	AmountPrecision int32  `json:"amount_precision" binding:"min=0,max=18"`
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func (s *Server) createMarket(c *gin.Context) {
	var req createMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	makerFee, err := parseDecimal(req.DefaultMakerFee)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid default_maker_fee"})
		return
	}
	takerFee, err := parseDecimal(req.DefaultTakerFee)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid default_taker_fee"})
		return
	}
	minBase, err := parseDecimal(req.MinBaseAmount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_base_amount"})
		return
	}
	minQuote, err := parseDecimal(req.MinQuoteAmount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_quote_amount"})
		return
	}
	m, err := s.registry.CreateMarket(c.Request.Context(), market.CreateMarketRequest{
		ID:              req.ID,
		BaseAsset:       req.BaseAsset,
		QuoteAsset:      req.QuoteAsset,
		DefaultMakerFee: makerFee,
		DefaultTakerFee: takerFee,
		MinBaseAmount:   minBase,
		MinQuoteAmount:  minQuote,
		PricePrecision:  req.PricePrecision,
		AmountPrecision: req.AmountPrecision,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (s *Server) startMarket(c *gin.Context) {
	if err := s.registry.StartMarket(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) stopMarket(c *gin.Context) {
	if err := s.registry.StopMarket(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) depth(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	snapshot, err := s.registry.Depth(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) status(c *gin.Context) {
	st, err := s.registry.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type addOrderRequest struct {
	MarketID      string  `json:"market_id" binding:"required"`
	UserID        string  `json:"user_id" binding:"required,uuid"`
	OrderType     string  `json:"order_type" binding:"required,oneof=LIMIT MARKET"`
	Side          string  `json:"side" binding:"required,oneof=BUY SELL"`
	Price         string  `json:"price"`
	BaseAmount    string  `json:"base_amount"`
	QuoteAmount   string  `json:"quote_amount"`
	MakerFee      *string `json:"maker_fee"`
	TakerFee      *string `json:"taker_fee"`
	ClientOrderID *string `json:"client_order_id"`
	PostOnly      bool    `json:"post_only"`
	TimeInForce   string  `json:"time_in_force" binding:"omitempty,oneof=GTC IOC FOK"`
	ExpiresAt     *int64  `json:"expires_at"`
}

func (s *Server) addOrder(c *gin.Context) {
	var req addOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	price, err := parseDecimal(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}
	baseAmount, err := parseDecimal(req.BaseAmount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid base_amount"})
		return
	}
	quoteAmount, err := parseDecimal(req.QuoteAmount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quote_amount"})
		return
	}
	// Negative fee rates tell the registry to apply market defaults.
	makerFee := decimal.NewFromInt(-1)
	if req.MakerFee != nil {
		if makerFee, err = parseDecimal(*req.MakerFee); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid maker_fee"})
			return
		}
	}
	takerFee := decimal.NewFromInt(-1)
	if req.TakerFee != nil {
		if takerFee, err = parseDecimal(*req.TakerFee); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid taker_fee"})
			return
		}
	}
	result, err := s.registry.AddOrder(c.Request.Context(), &engine.AddOrderRequest{
		MarketID:      req.MarketID,
		UserID:        userID,
		Type:          req.OrderType,
		Side:          req.Side,
		Price:         price,
		BaseAmount:    baseAmount,
		QuoteAmount:   quoteAmount,
		MakerFee:      makerFee,
		TakerFee:      takerFee,
		ClientOrderID: req.ClientOrderID,
		PostOnly:      req.PostOnly,
		TimeInForce:   req.TimeInForce,
		ExpiresAt:     req.ExpiresAt,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) getOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	o, err := s.registry.GetOrder(c.Request.Context(), c.Param("id"), orderID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) cancelOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("order_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	o, err := s.registry.CancelOrder(c.Request.Context(), c.Param("id"), orderID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) cancelAllOrders(c *gin.Context) {
	orders, err := s.registry.CancelAllOrders(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": len(orders)})
}

type balanceMovementRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
	Asset  string `json:"asset" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

func (s *Server) deposit(c *gin.Context) {
	user, asset, amount, ok := s.bindBalanceMovement(c)
	if !ok {
		return
	}
	row, err := s.registry.Deposit(c.Request.Context(), user, asset, amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) withdraw(c *gin.Context) {
	user, asset, amount, ok := s.bindBalanceMovement(c)
	if !ok {
		return
	}
	row, err := s.registry.Withdraw(c.Request.Context(), user, asset, amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) bindBalanceMovement(c *gin.Context) (uuid.UUID, string, decimal.Decimal, bool) {
	var req balanceMovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return uuid.Nil, "", decimal.Zero, false
	}
	user, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return uuid.Nil, "", decimal.Zero, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return uuid.Nil, "", decimal.Zero, false
	}
	return user, req.Asset, amount, true
}

func (s *Server) getBalance(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	c.JSON(http.StatusOK, s.registry.GetBalance(userID, c.Param("asset")))
}
