package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
	"github.com/coinpulse/walletcore/pkg/models"
)

// CheckConsistency verifies the lot invariant for every position under the
// user's account: the sum of lot remainders must equal the position amount.
// Positions with no lots at all are skipped as legacy holdings; their lots
// are served by ledger reconstruction instead.
func (s *Service) CheckConsistency(ctx context.Context, userID uuid.UUID) ([]interfaces.ConsistencyReport, error) {
	account, err := s.repo.GetAccountByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, interfaces.ErrUnknownAccount
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	positions, err := s.repo.GetPositionsByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	var reports []interfaces.ConsistencyReport
	for _, pos := range positions {
		report, mismatch, err := s.checkPosition(ctx, pos)
		if err != nil {
			return nil, err
		}
		if mismatch {
			reports = append(reports, *report)
		}
	}
	return reports, nil
}

// checkPosition compares one position's amount against its lot remainders
func (s *Service) checkPosition(ctx context.Context, pos *models.Position) (*interfaces.ConsistencyReport, bool, error) {
	count, err := s.lotCount(ctx, s.db, pos.WalletID, pos.Currency)
	if err != nil {
		return nil, false, err
	}
	if count == 0 {
		// legacy holding without lot records
		return nil, false, nil
	}

	remaining, err := s.repo.SumLotRemaining(ctx, pos.WalletID, pos.Currency)
	if err != nil {
		return nil, false, fmt.Errorf("failed to sum lot remainders: %w", err)
	}
	if remaining.Equal(pos.Amount) {
		return nil, false, nil
	}

	return &interfaces.ConsistencyReport{
		WalletID:       pos.WalletID,
		Currency:       pos.Currency,
		PositionAmount: pos.Amount,
		LotRemaining:   remaining,
	}, true, nil
}

// runConsistencyChecker periodically sweeps every position and logs lot
// invariant violations. Detection only; nothing is mutated.
func (s *Service) runConsistencyChecker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepPositions()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Service) sweepPositions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	positions, err := s.repo.GetAllPositions(ctx)
	if err != nil {
		s.logger.Error("consistency sweep failed to load positions", zap.Error(err))
		return
	}

	mismatches := 0
	for _, pos := range positions {
		report, mismatch, err := s.checkPosition(ctx, pos)
		if err != nil {
			s.logger.Error("consistency sweep failed",
				zap.String("wallet_id", pos.WalletID.String()),
				zap.String("currency", pos.Currency),
				zap.Error(err),
			)
			continue
		}
		if mismatch {
			mismatches++
			s.logger.Error("lot remainders diverge from position amount",
				zap.String("wallet_id", report.WalletID.String()),
				zap.String("currency", report.Currency),
				zap.String("position_amount", report.PositionAmount.String()),
				zap.String("lot_remaining", report.LotRemaining.String()),
			)
		}
	}

	s.logger.Debug("consistency sweep complete",
		zap.Int("positions", len(positions)),
		zap.Int("mismatches", mismatches),
	)
}
