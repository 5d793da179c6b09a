// Package marketfeeds serves market prices to the wallet core. Quotes live in
// the market_prices table and are mirrored into an in-memory map so portfolio
// reads never block on the database.
package marketfeeds

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
	"github.com/coinpulse/walletcore/pkg/models"
)

// PubSubBackend distributes price updates to subscribers
type PubSubBackend interface {
	Publish(ctx context.Context, channel string, msg interface{}) error
}

// Service implements interfaces.PriceSource
type Service struct {
	logger          *zap.Logger
	db              *gorm.DB
	prices          map[string]*models.MarketPrice
	mutex           sync.RWMutex
	stopChan        chan struct{}
	isRunning       bool
	refreshInterval time.Duration
	pubsub          PubSubBackend
}

// NewService creates a new market feed service. pubsub may be nil.
func NewService(logger *zap.Logger, db *gorm.DB, refreshInterval time.Duration, pubsub PubSubBackend) *Service {
	if refreshInterval <= 0 {
		refreshInterval = 15 * time.Second
	}
	return &Service{
		logger:          logger,
		db:              db,
		prices:          make(map[string]*models.MarketPrice),
		stopChan:        make(chan struct{}),
		refreshInterval: refreshInterval,
		pubsub:          pubsub,
	}
}

// Start loads persisted quotes and launches the refresh loop
func (s *Service) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isRunning {
		return fmt.Errorf("market feed service is already running")
	}

	if err := s.reloadLocked(); err != nil {
		return fmt.Errorf("failed to load market prices: %w", err)
	}

	go s.refreshLoop()

	s.isRunning = true
	s.logger.Info("market feed service started",
		zap.Int("symbols", len(s.prices)),
		zap.Duration("refresh_interval", s.refreshInterval),
	)
	return nil
}

// Stop halts the refresh loop
func (s *Service) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isRunning {
		return fmt.Errorf("market feed service is not running")
	}

	close(s.stopChan)
	s.isRunning = false
	s.logger.Info("market feed service stopped")
	return nil
}

// GetMarketPrice returns the current quote for a symbol, or
// ErrPriceUnavailable when no quote exists
func (s *Service) GetMarketPrice(ctx context.Context, symbol string) (*models.MarketPrice, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	price, ok := s.prices[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrPriceUnavailable, symbol)
	}
	cp := *price
	return &cp, nil
}

// GetMarketPrices returns all current quotes
func (s *Service) GetMarketPrices(ctx context.Context) ([]*models.MarketPrice, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	prices := make([]*models.MarketPrice, 0, len(s.prices))
	for _, price := range s.prices {
		cp := *price
		prices = append(prices, &cp)
	}
	return prices, nil
}

// SetPrice persists a quote and updates the in-memory mirror. Used by the
// price ingestion endpoint and by tests.
func (s *Service) SetPrice(ctx context.Context, symbol string, price, change24h decimal.Decimal) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !price.IsPositive() {
		return fmt.Errorf("price must be positive")
	}

	symbol = strings.ToUpper(symbol)
	mp := &models.MarketPrice{
		Symbol:    symbol,
		Price:     price,
		Change24h: change24h,
		UpdatedAt: time.Now(),
	}

	if err := s.db.WithContext(ctx).Save(mp).Error; err != nil {
		return fmt.Errorf("failed to persist market price: %w", err)
	}

	s.mutex.Lock()
	if prev, ok := s.prices[symbol]; ok {
		mp.Volume24h = prev.Volume24h
		mp.High24h = decimal.Max(prev.High24h, price)
		if prev.Low24h.IsPositive() {
			mp.Low24h = decimal.Min(prev.Low24h, price)
		} else {
			mp.Low24h = price
		}
	} else {
		mp.High24h = price
		mp.Low24h = price
	}
	s.prices[symbol] = mp
	s.mutex.Unlock()

	if s.pubsub != nil {
		if err := s.pubsub.Publish(ctx, "market.prices."+symbol, mp); err != nil {
			s.logger.Warn("failed to publish price update",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) refreshLoop() {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mutex.Lock()
			if err := s.reloadLocked(); err != nil {
				s.logger.Error("failed to refresh market prices", zap.Error(err))
			}
			s.mutex.Unlock()
		case <-s.stopChan:
			return
		}
	}
}

// reloadLocked replaces the in-memory mirror from the market_prices table.
// Caller holds the write lock.
func (s *Service) reloadLocked() error {
	var rows []*models.MarketPrice
	if err := s.db.Find(&rows).Error; err != nil {
		return err
	}

	fresh := make(map[string]*models.MarketPrice, len(rows))
	for _, row := range rows {
		fresh[strings.ToUpper(row.Symbol)] = row
	}
	s.prices = fresh
	return nil
}
