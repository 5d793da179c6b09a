package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
)

func TestSummarizeRollsUpHoldings(t *testing.T) {
	svc, prices, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "10000")

	_, err := svc.Buy(ctx, userID, "BTC", dec("1"), dec("100"))
	require.NoError(t, err)
	_, err = svc.Buy(ctx, userID, "ETH", dec("2"), dec("1000"))
	require.NoError(t, err)

	prices.set("BTC", 150, 10)
	prices.set("ETH", 900, -5)

	summary, err := svc.Summarize(ctx, userID)
	require.NoError(t, err)
	require.Len(t, summary.Holdings, 2)

	// value = 1*150 + 2*900 = 1950, cost = 100 + 2000 = 2100
	assert.True(t, summary.TotalValue.Equal(dec("1950")), "got %s", summary.TotalValue)
	assert.True(t, summary.TotalCost.Equal(dec("2100")))
	// roi = (1950-2100)/2100 * 100 = -7.14 (2dp)
	assert.True(t, summary.ROIPercent.Equal(dec("-7.14")), "got %s", summary.ROIPercent)

	byCurrency := make(map[string]interfaces.HoldingSummary)
	for _, h := range summary.Holdings {
		byCurrency[h.Currency] = h
	}
	btc := byCurrency["BTC"]
	assert.True(t, btc.GainPercent.Equal(dec("50")), "got %s", btc.GainPercent)
	assert.True(t, btc.PriceAvailable)
	eth := byCurrency["ETH"]
	assert.True(t, eth.GainPercent.Equal(dec("-10")), "got %s", eth.GainPercent)

	// BTC shows the only positive gain since purchase
	assert.Equal(t, "BTC", summary.BestPerformer)
	assert.False(t, summary.GeneratedAt.IsZero())
}

func TestSummarizeToleratesMissingPrices(t *testing.T) {
	svc, prices, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "10000")

	_, err := svc.Buy(ctx, userID, "BTC", dec("1"), dec("100"))
	require.NoError(t, err)
	_, err = svc.Buy(ctx, userID, "XRP", dec("100"), dec("1"))
	require.NoError(t, err)

	// Only BTC has a quote
	prices.set("BTC", 200, 0)

	summary, err := svc.Summarize(ctx, userID)
	require.NoError(t, err)
	require.Len(t, summary.Holdings, 2)

	byCurrency := make(map[string]interfaces.HoldingSummary)
	for _, h := range summary.Holdings {
		byCurrency[h.Currency] = h
	}
	xrp := byCurrency["XRP"]
	assert.False(t, xrp.PriceAvailable)
	assert.True(t, xrp.Value.IsZero())
	assert.True(t, xrp.GainPercent.IsZero())

	// The unquoted holding contributes cost but no value
	assert.True(t, summary.TotalValue.Equal(dec("200")))
	assert.True(t, summary.TotalCost.Equal(dec("200")))
}

func TestSummarizeBestPerformerFallsBackTo24hChange(t *testing.T) {
	svc, prices, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "10000")

	_, err := svc.Buy(ctx, userID, "BTC", dec("1"), dec("100"))
	require.NoError(t, err)
	_, err = svc.Buy(ctx, userID, "ETH", dec("1"), dec("200"))
	require.NoError(t, err)

	// Every holding sits exactly at its purchase price
	prices.set("BTC", 100, 2)
	prices.set("ETH", 200, 7)

	summary, err := svc.Summarize(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "ETH", summary.BestPerformer)
}

func TestSummarizeUnknownAccount(t *testing.T) {
	svc, _, _ := setupTestService(t)

	_, err := svc.Summarize(context.Background(), uuid.New())
	assert.ErrorIs(t, err, interfaces.ErrUnknownAccount)
}

// memoryCache is a map-backed BalanceCache for tests
type memoryCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*interfaces.BalanceResponse
	sets    int
	hits    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[uuid.UUID]*interfaces.BalanceResponse)}
}

func (m *memoryCache) GetBalances(ctx context.Context, userID uuid.UUID) (*interfaces.BalanceResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.entries[userID]
	if !ok {
		return nil, nil
	}
	m.hits++
	return resp, nil
}

func (m *memoryCache) SetBalances(ctx context.Context, userID uuid.UUID, resp *interfaces.BalanceResponse, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = resp
	m.sets++
	return nil
}

func (m *memoryCache) InvalidateBalances(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}

func TestGetBalancesUsesAndInvalidatesCache(t *testing.T) {
	svc, _, _ := setupTestService(t)
	cache := newMemoryCache()
	svc.cache = cache
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "100")

	first, err := svc.GetBalances(ctx, userID)
	require.NoError(t, err)
	assert.True(t, first.Cash.Available.Equal(dec("100")))
	assert.Equal(t, 1, cache.sets)

	_, err = svc.GetBalances(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)

	// A mutation invalidates; the next read refills from the database
	seedCash(t, svc, userID, "50")
	refreshed, err := svc.GetBalances(ctx, userID)
	require.NoError(t, err)
	assert.True(t, refreshed.Cash.Available.Equal(dec("150")))
	assert.Equal(t, 2, cache.sets)
}

func TestGetBalancesIncludesPositions(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	seedCash(t, svc, userID, "1000")

	_, err := svc.Buy(ctx, userID, "BTC", dec("0.5"), dec("200"))
	require.NoError(t, err)

	resp, err := svc.GetBalances(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "USD", resp.Cash.Currency)
	assert.True(t, resp.Cash.Available.Equal(dec("900")))
	require.Len(t, resp.Positions, 1)
	assert.Equal(t, "BTC", resp.Positions[0].Currency)
	assert.True(t, resp.Positions[0].Amount.Equal(dec("0.5")))
}
