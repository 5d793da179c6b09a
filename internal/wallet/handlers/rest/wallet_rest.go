// Package rest provides REST API handlers for the wallet module
package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
)

// WalletHandler handles REST API requests for wallet operations
type WalletHandler struct {
	walletService interfaces.WalletService
}

// NewWalletHandler creates a new wallet REST handler
func NewWalletHandler(walletService interfaces.WalletService) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
	}
}

// RegisterRoutes registers wallet routes with the Gin router
func (h *WalletHandler) RegisterRoutes(r *gin.RouterGroup) {
	wallet := r.Group("/wallet")
	{
		// Balance mutations
		wallet.POST("/adjust", h.Adjust)
		wallet.POST("/buy", h.Buy)
		wallet.POST("/sell", h.Sell)

		// Read side
		wallet.GET("/balance", h.GetBalance)
		wallet.GET("/portfolio/summary", h.GetPortfolioSummary)
		wallet.GET("/transactions", h.ListTransactions)
		wallet.GET("/lots/:currency", h.GetLots)
		wallet.GET("/consistency", h.CheckConsistency)
	}
}

// AdjustRequest represents a balance adjustment request
type AdjustRequest struct {
	Asset     string `json:"asset" binding:"required"`
	Delta     string `json:"delta" binding:"required"`
	UnitPrice string `json:"unit_price,omitempty"`
}

// Adjust applies a signed balance delta for a user
func (h *WalletHandler) Adjust(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}

	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delta format"})
		return
	}

	var unitPrice *decimal.Decimal
	if req.UnitPrice != "" {
		p, err := decimal.NewFromString(req.UnitPrice)
		if err != nil || !p.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit price"})
			return
		}
		unitPrice = &p
	}

	result, err := h.walletService.Adjust(c.Request.Context(), uid, req.Asset, delta, unitPrice)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// TradeRequest represents a buy or sell request
type TradeRequest struct {
	Currency  string `json:"currency" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	UnitPrice string `json:"unit_price" binding:"required"`
}

// Buy executes a cash-for-currency trade
func (h *WalletHandler) Buy(c *gin.Context) {
	h.trade(c, h.walletService.Buy)
}

// Sell executes a currency-for-cash trade
func (h *WalletHandler) Sell(c *gin.Context) {
	h.trade(c, h.walletService.Sell)
}

func (h *WalletHandler) trade(
	c *gin.Context,
	op func(ctx context.Context, uid uuid.UUID, currency string, amount, unitPrice decimal.Decimal) (*interfaces.TradeResult, error),
) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}

	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	unitPrice, err := decimal.NewFromString(req.UnitPrice)
	if err != nil || !unitPrice.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit price"})
		return
	}

	result, err := op(c.Request.Context(), uid, req.Currency, amount, unitPrice)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetBalance returns the cash balance and positions for a user
func (h *WalletHandler) GetBalance(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}

	resp, err := h.walletService.GetBalances(c.Request.Context(), uid)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetPortfolioSummary returns the rolled-up portfolio report for a user
func (h *WalletHandler) GetPortfolioSummary(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}

	summary, err := h.walletService.Summarize(c.Request.Context(), uid)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// ListTransactions returns a page of the user's ledger history
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	asset := c.Query("asset")

	entries, err := h.walletService.GetTransactions(c.Request.Context(), uid, asset, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": entries,
		"limit":        limit,
		"offset":       offset,
	})
}

// GetLots returns the user's acquisition lots for a currency
func (h *WalletHandler) GetLots(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}

	currency := c.Param("currency")
	lots, err := h.walletService.GetLots(c.Request.Context(), uid, currency)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"currency": currency,
		"lots":     lots,
	})
}

// CheckConsistency reports lot/position mismatches under the user's account
func (h *WalletHandler) CheckConsistency(c *gin.Context) {
	uid, ok := h.userID(c)
	if !ok {
		return
	}

	reports, err := h.walletService.CheckConsistency(c.Request.Context(), uid)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"consistent": len(reports) == 0,
		"mismatches": reports,
	})
}

// userID resolves the authenticated user from middleware context, falling
// back to the X-User-ID header
func (h *WalletHandler) userID(c *gin.Context) (uuid.UUID, bool) {
	if v, exists := c.Get("user_id"); exists {
		if uid, ok := v.(uuid.UUID); ok {
			return uid, true
		}
	}

	header := c.GetHeader("X-User-ID")
	if header == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return uuid.Nil, false
	}

	uid, err := uuid.Parse(header)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user ID format"})
		return uuid.Nil, false
	}
	return uid, true
}

func (h *WalletHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, interfaces.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient funds"})
	case errors.Is(err, interfaces.ErrInvalidAsset):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset"})
	case errors.Is(err, interfaces.ErrUnknownAsset):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown asset"})
	case errors.Is(err, interfaces.ErrUnknownAccount):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
	case errors.Is(err, interfaces.ErrAccountNotActive):
		c.JSON(http.StatusForbidden, gin.H{"error": "account not active"})
	case errors.Is(err, interfaces.ErrInconsistentLotState):
		c.JSON(http.StatusConflict, gin.H{"error": "inconsistent lot state"})
	case errors.Is(err, interfaces.ErrPriceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
