package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
	"github.com/coinpulse/walletcore/internal/wallet/repository"
	"github.com/coinpulse/walletcore/pkg/models"
)

// stubPrices is a map-backed PriceSource for tests
type stubPrices struct {
	mu     sync.RWMutex
	quotes map[string]*models.MarketPrice
}

func newStubPrices() *stubPrices {
	return &stubPrices{quotes: make(map[string]*models.MarketPrice)}
}

func (s *stubPrices) set(symbol string, price, change24h float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = &models.MarketPrice{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(price),
		Change24h: decimal.NewFromFloat(change24h),
		UpdatedAt: time.Now(),
	}
}

func (s *stubPrices) GetMarketPrice(ctx context.Context, symbol string) (*models.MarketPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quote, ok := s.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrPriceUnavailable, symbol)
	}
	return quote, nil
}

// recordingEvents captures published ledger events
type recordingEvents struct {
	mu     sync.Mutex
	events []*interfaces.LedgerEvent
}

func (r *recordingEvents) PublishLedgerEvent(ctx context.Context, event *interfaces.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func setupTestService(t *testing.T) (*Service, *stubPrices, *recordingEvents) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	// Serialize access so goroutine tests share the single in-memory handle
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	log := zap.NewNop()
	repo := repository.NewWalletRepository(db, log)
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	prices := newStubPrices()
	events := &recordingEvents{}
	svc := NewService(db, log, repo, nil, prices, events, Config{
		CashCurrency:    "USD",
		BalanceCacheTTL: time.Second,
	})
	return svc, prices, events
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func seedCash(t *testing.T, svc *Service, userID uuid.UUID, amount string) {
	t.Helper()
	if _, err := svc.Adjust(context.Background(), userID, "USD", dec(amount), nil); err != nil {
		t.Fatalf("failed to seed cash: %v", err)
	}
}

func cashBalance(t *testing.T, svc *Service, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	account, err := svc.repo.GetAccountByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to read account: %v", err)
	}
	return account.Available
}
