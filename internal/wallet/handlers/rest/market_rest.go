package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/coinpulse/walletcore/pkg/models"
)

// PriceService is the surface the market handler needs from the feed service
type PriceService interface {
	GetMarketPrices(ctx context.Context) ([]*models.MarketPrice, error)
	GetMarketPrice(ctx context.Context, symbol string) (*models.MarketPrice, error)
	SetPrice(ctx context.Context, symbol string, price, change24h decimal.Decimal) error
}

// MarketHandler handles REST API requests for market prices
type MarketHandler struct {
	prices PriceService
}

// NewMarketHandler creates a new market REST handler
func NewMarketHandler(prices PriceService) *MarketHandler {
	return &MarketHandler{prices: prices}
}

// RegisterRoutes registers market routes with the Gin router
func (h *MarketHandler) RegisterRoutes(r *gin.RouterGroup) {
	market := r.Group("/market")
	{
		market.GET("/prices", h.ListPrices)
		market.GET("/prices/:symbol", h.GetPrice)
		market.PUT("/prices/:symbol", h.SetPrice)
	}
}

// ListPrices returns all current quotes
func (h *MarketHandler) ListPrices(c *gin.Context) {
	prices, err := h.prices.GetMarketPrices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"prices": prices})
}

// GetPrice returns the current quote for one symbol
func (h *MarketHandler) GetPrice(c *gin.Context) {
	price, err := h.prices.GetMarketPrice(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "price unavailable"})
		return
	}
	c.JSON(http.StatusOK, price)
}

// SetPriceRequest represents a quote ingestion request
type SetPriceRequest struct {
	Price     string `json:"price" binding:"required"`
	Change24h string `json:"change_24h,omitempty"`
}

// SetPrice ingests a quote for a symbol
func (h *MarketHandler) SetPrice(c *gin.Context) {
	var req SetPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil || !price.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}

	change := decimal.Zero
	if req.Change24h != "" {
		change, err = decimal.NewFromString(req.Change24h)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid change_24h"})
			return
		}
	}

	if err := h.prices.SetPrice(c.Request.Context(), c.Param("symbol"), price, change); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
