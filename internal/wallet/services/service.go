// Package services implements the balance ledger and cost-basis accounting
// engine of the wallet service
package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
	"github.com/coinpulse/walletcore/internal/wallet/repository"
)

// Config holds core engine configuration
type Config struct {
	// CashCurrency is the quote currency held on the account row; every
	// other asset is tracked as a wallet position with lots
	CashCurrency string

	// BalanceCacheTTL bounds staleness of the read-side balance cache
	BalanceCacheTTL time.Duration

	// ConsistencyInterval is the period of the background lot/position
	// invariant check; zero disables the background job
	ConsistencyInterval time.Duration
}

// Service implements interfaces.WalletService. All mutations are applied in
// single database transactions; the conditional balance updates in the
// repository are the only funds gates, so concurrent mutations against the
// same key serialize at the storage engine.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	repo   *repository.WalletRepository
	cache  interfaces.BalanceCache
	prices interfaces.PriceSource
	events interfaces.EventPublisher
	config Config

	stopChan chan struct{}
}

// NewService creates the wallet core engine. cache, prices and events may be
// nil; the engine degrades gracefully without them.
func NewService(
	db *gorm.DB,
	logger *zap.Logger,
	repo *repository.WalletRepository,
	cache interfaces.BalanceCache,
	prices interfaces.PriceSource,
	events interfaces.EventPublisher,
	config Config,
) *Service {
	if config.CashCurrency == "" {
		config.CashCurrency = "USD"
	}
	if config.BalanceCacheTTL == 0 {
		config.BalanceCacheTTL = 30 * time.Second
	}
	return &Service{
		db:       db,
		logger:   logger,
		repo:     repo,
		cache:    cache,
		prices:   prices,
		events:   events,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background consistency checker
func (s *Service) Start() error {
	if s.config.ConsistencyInterval > 0 {
		go s.runConsistencyChecker(s.config.ConsistencyInterval)
	}
	s.logger.Info("wallet core started",
		zap.String("cash_currency", s.config.CashCurrency),
		zap.Duration("consistency_interval", s.config.ConsistencyInterval),
	)
	return nil
}

// Stop halts background work
func (s *Service) Stop() error {
	close(s.stopChan)
	s.logger.Info("wallet core stopped")
	return nil
}

// ensureProvisioned resolves the user's account and default wallet, creating
// them idempotently on first touch. Runs in its own short transaction so a
// failed mutation never rolls back provisioning done for a concurrent
// request.
func (s *Service) ensureProvisioned(ctx context.Context, userID uuid.UUID) (accountID, walletID uuid.UUID, err error) {
	err = s.db.Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.UpsertAccountInTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		wallet, err := s.repo.UpsertDefaultWalletInTx(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		accountID = account.ID
		walletID = wallet.ID
		return nil
	})
	return accountID, walletID, err
}

func (s *Service) invalidateBalanceCache(userID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateBalances(context.Background(), userID); err != nil {
		s.logger.Warn("failed to invalidate balance cache",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) publishLedgerEvent(ctx context.Context, event *interfaces.LedgerEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLedgerEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish ledger event",
			zap.String("entry_id", event.EntryID.String()),
			zap.Error(err),
		)
	}
}
