package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
)

type fakeSink struct {
	fail     bool
	received []interface{}
}

func (f *fakeSink) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	if f.fail {
		return errors.New("sink down")
	}
	f.received = append(f.received, event)
	return nil
}

func sampleEvent() *interfaces.LedgerEvent {
	return &interfaces.LedgerEvent{
		EntryID:   uuid.New(),
		UserID:    uuid.New(),
		Asset:     "BTC",
		Amount:    decimal.NewFromInt(1),
		Type:      "buy",
		Status:    "completed",
		Timestamp: time.Now(),
	}
}

func TestPublishFansOutToAllSinks(t *testing.T) {
	a := &fakeSink{}
	b := &fakeSink{}
	p := NewLedgerEventPublisher([]Publisher{a, b}, "wallet.ledger", zap.NewNop())

	require.NoError(t, p.PublishLedgerEvent(context.Background(), sampleEvent()))
	assert.Len(t, a.received, 1)
	assert.Len(t, b.received, 1)
}

func TestPublishSucceedsWhenAnySinkSucceeds(t *testing.T) {
	down := &fakeSink{fail: true}
	up := &fakeSink{}
	p := NewLedgerEventPublisher([]Publisher{down, up}, "wallet.ledger", zap.NewNop())

	require.NoError(t, p.PublishLedgerEvent(context.Background(), sampleEvent()))
	assert.Len(t, up.received, 1)
}

func TestPublishFailsWhenAllSinksFail(t *testing.T) {
	p := NewLedgerEventPublisher([]Publisher{&fakeSink{fail: true}, &fakeSink{fail: true}}, "wallet.ledger", zap.NewNop())

	err := p.PublishLedgerEvent(context.Background(), sampleEvent())
	assert.Error(t, err)
}

func TestPublishRejectsNilEvent(t *testing.T) {
	p := NewLedgerEventPublisher(nil, "wallet.ledger", zap.NewNop())

	assert.Error(t, p.PublishLedgerEvent(context.Background(), nil))
}
