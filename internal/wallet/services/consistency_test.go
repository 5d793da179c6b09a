package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
	"github.com/coinpulse/walletcore/pkg/models"
)

func TestCheckConsistencyCleanState(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "1000")

	_, err := svc.Buy(ctx, userID, "BTC", dec("1"), dec("100"))
	require.NoError(t, err)
	_, err = svc.Sell(ctx, userID, "BTC", dec("0.3"), dec("120"))
	require.NoError(t, err)

	reports, err := svc.CheckConsistency(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestCheckConsistencyDetectsDivergence(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "1000")

	_, err := svc.Buy(ctx, userID, "BTC", dec("2"), dec("100"))
	require.NoError(t, err)

	account, err := svc.repo.GetAccountByUserID(ctx, userID)
	require.NoError(t, err)
	positions, err := svc.repo.GetPositionsByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	require.NoError(t, svc.db.Model(&models.PositionLot{}).
		Where("wallet_id = ? AND currency = ?", positions[0].WalletID, "BTC").
		Update("remaining_amount", dec("1.5")).Error)

	reports, err := svc.CheckConsistency(ctx, userID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "BTC", reports[0].Currency)
	assert.True(t, reports[0].PositionAmount.Equal(dec("2")))
	assert.True(t, reports[0].LotRemaining.Equal(dec("1.5")))
}

func TestCheckConsistencySkipsLegacyPositions(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, walletID, err := svc.ensureProvisioned(ctx, userID)
	require.NoError(t, err)

	require.NoError(t, svc.db.Create(&models.Position{
		ID:        uuid.New(),
		WalletID:  walletID,
		Currency:  "LTC",
		Amount:    dec("5"),
		AvgPrice:  decimal.Zero,
		UpdatedAt: time.Now(),
	}).Error)

	reports, err := svc.CheckConsistency(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestCheckConsistencyUnknownAccount(t *testing.T) {
	svc, _, _ := setupTestService(t)

	_, err := svc.CheckConsistency(context.Background(), uuid.New())
	assert.ErrorIs(t, err, interfaces.ErrUnknownAccount)
}
