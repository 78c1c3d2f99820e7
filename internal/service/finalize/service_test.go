package finalize

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gavelhq/gavel/internal/cache"
	"github.com/gavelhq/gavel/internal/config"
	"github.com/gavelhq/gavel/internal/entity"
	"github.com/gavelhq/gavel/internal/event"
	"github.com/gavelhq/gavel/internal/messaging"
	auctionrepo "github.com/gavelhq/gavel/internal/repository/auction"
)

func testConfig() config.Config {
	return config.Config{
		Messaging: config.Messaging{
			Kafka: config.Kafka{
				OrderTopic: "auctions.orders",
				EventTopic: "auctions.events",
			},
		},
		Scheduler: config.Scheduler{
			SweepLockTTL: 30 * time.Second,
			BatchSize:    100,
		},
	}
}

type env struct {
	svc   *Service
	store *auctionrepo.MemoryStore
	bus   *messaging.Capture
	now   time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		store: auctionrepo.NewMemoryStore(),
		bus:   messaging.NewCapture(),
		now:   time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
	noop := cache.NewNoop()
	e.svc = NewService(Params{
		Store:     e.store,
		Cache:     noop,
		Locker:    cache.NewLocker(noop),
		Publisher: e.bus,
		Config:    testConfig(),
		Logger:    zap.NewNop(),
	})
	e.svc.now = func() time.Time { return e.now }
	return e
}

// addEnded stores an ACTIVE auction whose deadline has already passed.
func (e *env) addEnded(t *testing.T) int64 {
	t.Helper()

	a := entity.Auction{
		SellerID:   1,
		Title:      "lot",
		StartPrice: 1000,
		StepPrice:  100,
		Status:     entity.StatusActive,
		StartTime:  e.now.Add(-2 * time.Hour),
		EndTime:    e.now.Add(-time.Minute),
	}
	require.NoError(t, e.store.CreateAuction(context.Background(), &a))
	return a.ID
}

func (e *env) appendBid(t *testing.T, auctionID, bidderID, amount int64, at time.Time) {
	t.Helper()

	err := e.store.WithAuctionLock(context.Background(), auctionID, func(ctx context.Context, tx auctionrepo.Tx) error {
		return tx.AppendBid(ctx, &entity.Bid{BidderID: bidderID, Amount: amount, CreatedAt: at})
	})
	require.NoError(t, err)
}

func TestFinalize_SoldPublishesOneIntent(t *testing.T) {
	e := newEnv(t)
	id := e.addEnded(t)
	e.appendBid(t, id, 2, 1000, e.now.Add(-time.Hour))
	e.appendBid(t, id, 3, 1100, e.now.Add(-30*time.Minute))

	// A leftover active agent is retired by settlement.
	err := e.store.WithAuctionLock(context.Background(), id, func(ctx context.Context, tx auctionrepo.Tx) error {
		return tx.SaveAutoBid(ctx, &entity.AutoBid{BidderID: 3, MaxAmount: 1100, IsActive: true, UpdatedAt: e.now})
	})
	require.NoError(t, err)

	outcome, err := e.svc.Finalize(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, ResultSold, outcome.Result)
	require.EqualValues(t, 3, outcome.WinnerID)
	require.EqualValues(t, 1100, outcome.FinalPrice)

	a, err := e.store.GetAuction(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, entity.StatusSold, a.Status)
	require.EqualValues(t, 3, a.WinnerID)
	require.EqualValues(t, 1100, a.CurrentPrice)

	// The close instant replaces the scheduled deadline.
	require.Equal(t, e.now, a.EndTime)

	agent, ok := e.store.AgentFor(id, 3)
	require.True(t, ok)
	require.False(t, agent.IsActive)

	_, armed := e.store.TimerFor(id)
	require.False(t, armed)

	intents := e.bus.PublishedTo("auctions.orders")
	require.Len(t, intents, 1)
	var intent event.OrderIntent
	require.NoError(t, json.Unmarshal(intents[0].Value, &intent))
	require.EqualValues(t, id, intent.AuctionID)
	require.EqualValues(t, 3, intent.WinnerID)
	require.EqualValues(t, 1, intent.SellerID)
	require.EqualValues(t, 1100, intent.FinalPrice)

	closed := e.bus.PublishedTo("auctions.events")
	require.Len(t, closed, 1)
}

func TestFinalize_IsIdempotent(t *testing.T) {
	e := newEnv(t)
	id := e.addEnded(t)
	e.appendBid(t, id, 2, 1000, e.now.Add(-time.Hour))

	first, err := e.svc.Finalize(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, ResultSold, first.Result)

	second, err := e.svc.Finalize(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, ResultSkipped, second.Result)
	require.Equal(t, ReasonAlreadyFinal, second.Reason)

	require.Len(t, e.bus.PublishedTo("auctions.orders"), 1)
}

func TestFinalize_EmptyLedgerIsNoSale(t *testing.T) {
	e := newEnv(t)
	id := e.addEnded(t)

	outcome, err := e.svc.Finalize(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, ResultNoSale, outcome.Result)

	a, err := e.store.GetAuction(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, entity.StatusNoSale, a.Status)
	require.Zero(t, a.WinnerID)
	require.Equal(t, e.now, a.EndTime)

	require.Empty(t, e.bus.PublishedTo("auctions.orders"))
}

// A timer that fires before an extended deadline must not settle the
// auction early; it chases the new deadline instead.
func TestFinalize_BeforeDeadlineRearmsTimer(t *testing.T) {
	e := newEnv(t)
	end := e.now.Add(10 * time.Minute)
	a := entity.Auction{
		SellerID:   1,
		Title:      "lot",
		StartPrice: 1000,
		StepPrice:  100,
		Status:     entity.StatusActive,
		StartTime:  e.now.Add(-time.Hour),
		EndTime:    end,
	}
	require.NoError(t, e.store.CreateAuction(context.Background(), &a))

	outcome, err := e.svc.Finalize(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, ResultSkipped, outcome.Result)
	require.Equal(t, ReasonNotEnded, outcome.Reason)

	got, err := e.store.GetAuction(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusActive, got.Status)

	fireAt, armed := e.store.TimerFor(a.ID)
	require.True(t, armed)
	require.Equal(t, end, fireAt)
}

func TestDue_SettlesFiredTimers(t *testing.T) {
	e := newEnv(t)
	id := e.addEnded(t)
	e.appendBid(t, id, 2, 1000, e.now.Add(-time.Hour))

	err := e.store.WithAuctionLock(context.Background(), id, func(ctx context.Context, tx auctionrepo.Tx) error {
		return tx.ArmTimer(ctx, e.now.Add(-time.Minute))
	})
	require.NoError(t, err)

	settled, err := e.svc.Due(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, settled)

	a, err := e.store.GetAuction(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, entity.StatusSold, a.Status)
}

// The sweep catches overdue ACTIVE auctions with no timer at all.
func TestSweep_SettlesOverdueWithoutTimers(t *testing.T) {
	e := newEnv(t)
	first := e.addEnded(t)
	second := e.addEnded(t)
	e.appendBid(t, first, 2, 1000, e.now.Add(-time.Hour))

	settled, err := e.svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, settled)

	a, err := e.store.GetAuction(context.Background(), first)
	require.NoError(t, err)
	require.Equal(t, entity.StatusSold, a.Status)

	b, err := e.store.GetAuction(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, entity.StatusNoSale, b.Status)
}
