package auction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gavelhq/gavel/internal/cache"
	"github.com/gavelhq/gavel/internal/config"
	"github.com/gavelhq/gavel/internal/directory"
	"github.com/gavelhq/gavel/internal/dto"
	"github.com/gavelhq/gavel/internal/entity"
	"github.com/gavelhq/gavel/internal/messaging"
	auctionrepo "github.com/gavelhq/gavel/internal/repository/auction"
	"github.com/gavelhq/gavel/pkg/errorbank"
)

func testConfig() config.Config {
	return config.Config{
		Messaging: config.Messaging{
			Kafka: config.Kafka{
				OrderTopic: "auctions.orders",
				EventTopic: "auctions.events",
			},
		},
		Cache: config.Cache{DefaultTTL: 30 * time.Second},
	}
}

type env struct {
	svc   *Service
	store *auctionrepo.MemoryStore
	dir   *directory.Static
	bus   *messaging.Capture
	now   time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		store: auctionrepo.NewMemoryStore(),
		dir:   directory.NewStatic(),
		bus:   messaging.NewCapture(),
		now:   time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
	e.svc = NewService(Params{
		Store:     e.store,
		Directory: e.dir,
		Cache:     cache.NewNoop(),
		Publisher: e.bus,
		Config:    testConfig(),
		Logger:    zap.NewNop(),
	})
	e.svc.now = func() time.Time { return e.now }
	return e
}

func (e *env) validRequest() dto.CreateAuctionRequest {
	return dto.CreateAuctionRequest{
		SellerID:   1,
		Title:      "lot",
		StartPrice: 1000,
		StepPrice:  100,
		StartTime:  e.now.Add(time.Hour),
		EndTime:    e.now.Add(25 * time.Hour),
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *dto.CreateAuctionRequest)
	}{
		{"missing_seller", func(r *dto.CreateAuctionRequest) { r.SellerID = 0 }},
		{"missing_title", func(r *dto.CreateAuctionRequest) { r.Title = "" }},
		{"zero_start_price", func(r *dto.CreateAuctionRequest) { r.StartPrice = 0 }},
		{"zero_step_price", func(r *dto.CreateAuctionRequest) { r.StepPrice = 0 }},
		{"buy_now_below_start", func(r *dto.CreateAuctionRequest) { r.BuyNowPrice = 900 }},
		{"end_before_start", func(r *dto.CreateAuctionRequest) { r.EndTime = r.StartTime.Add(-time.Hour) }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			req := e.validRequest()
			tc.mutate(&req)

			_, err := e.svc.Create(context.Background(), req)

			require.Equal(t, CodeAuctionInvalid, errorbank.CodeOf(err))
		})
	}
}

func TestCreate_FutureStartIsPending(t *testing.T) {
	e := newEnv(t)

	a, err := e.svc.Create(context.Background(), e.validRequest())
	require.NoError(t, err)
	require.Equal(t, entity.StatusPending, a.Status)

	_, armed := e.store.TimerFor(a.ID)
	require.False(t, armed)
}

func TestCreate_PastStartIsActiveWithTimer(t *testing.T) {
	e := newEnv(t)
	req := e.validRequest()
	req.StartTime = e.now.Add(-time.Minute)

	a, err := e.svc.Create(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, entity.StatusActive, a.Status)

	fireAt, armed := e.store.TimerFor(a.ID)
	require.True(t, armed)
	require.Equal(t, req.EndTime, fireAt)
}

func TestGet_UnknownAuction(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Get(context.Background(), 404)

	require.Equal(t, CodeAuctionNotFound, errorbank.CodeOf(err))
}

func TestCancel(t *testing.T) {
	e := newEnv(t)
	e.dir.Roles[9] = entity.RoleAdmin

	newActive := func() int64 {
		req := e.validRequest()
		req.StartTime = e.now.Add(-time.Minute)
		a, err := e.svc.Create(context.Background(), req)
		require.NoError(t, err)
		return a.ID
	}

	t.Run("stranger_cannot_cancel", func(t *testing.T) {
		id := newActive()
		err := e.svc.Cancel(context.Background(), id, 5)
		require.Equal(t, CodeNotAuthorized, errorbank.CodeOf(err))
	})

	t.Run("seller_cancels_unbid_active", func(t *testing.T) {
		id := newActive()
		require.NoError(t, e.svc.Cancel(context.Background(), id, 1))

		a, err := e.store.GetAuction(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, entity.StatusCancelled, a.Status)

		_, armed := e.store.TimerFor(id)
		require.False(t, armed)
	})

	t.Run("admin_cancels_pending", func(t *testing.T) {
		a, err := e.svc.Create(context.Background(), e.validRequest())
		require.NoError(t, err)
		require.NoError(t, e.svc.Cancel(context.Background(), a.ID, 9))
	})

	t.Run("active_with_bids_refuses", func(t *testing.T) {
		id := newActive()
		err := e.store.WithAuctionLock(context.Background(), id, func(ctx context.Context, tx auctionrepo.Tx) error {
			return tx.AppendBid(ctx, &entity.Bid{BidderID: 2, Amount: 1000, CreatedAt: e.now})
		})
		require.NoError(t, err)

		err = e.svc.Cancel(context.Background(), id, 1)
		require.Equal(t, CodeAuctionHasBids, errorbank.CodeOf(err))
	})

	t.Run("terminal_refuses", func(t *testing.T) {
		id := newActive()
		require.NoError(t, e.svc.Cancel(context.Background(), id, 1))

		err := e.svc.Cancel(context.Background(), id, 1)
		require.Equal(t, CodeInvalidTransition, errorbank.CodeOf(err))
	})
}

func TestSuspend_FreezesBidAuction(t *testing.T) {
	e := newEnv(t)
	req := e.validRequest()
	req.StartTime = e.now.Add(-time.Minute)
	a, err := e.svc.Create(context.Background(), req)
	require.NoError(t, err)

	// Suspension is allowed even with bids on the ledger.
	err = e.store.WithAuctionLock(context.Background(), a.ID, func(ctx context.Context, tx auctionrepo.Tx) error {
		if err := tx.AppendBid(ctx, &entity.Bid{BidderID: 2, Amount: 1000, CreatedAt: e.now}); err != nil {
			return err
		}
		return tx.SaveAutoBid(ctx, &entity.AutoBid{BidderID: 3, MaxAmount: 2000, IsActive: true, UpdatedAt: e.now})
	})
	require.NoError(t, err)

	require.NoError(t, e.svc.Suspend(context.Background(), a.ID, 1))

	got, err := e.store.GetAuction(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusSuspended, got.Status)

	agent, ok := e.store.AgentFor(a.ID, 3)
	require.True(t, ok)
	require.False(t, agent.IsActive)

	_, armed := e.store.TimerFor(a.ID)
	require.False(t, armed)
}

func TestActivateDue(t *testing.T) {
	e := newEnv(t)

	pending, err := e.svc.Create(context.Background(), e.validRequest())
	require.NoError(t, err)
	require.Equal(t, entity.StatusPending, pending.Status)

	// Not yet due.
	activated, err := e.svc.ActivateDue(context.Background(), 100)
	require.NoError(t, err)
	require.Zero(t, activated)

	e.now = e.now.Add(2 * time.Hour)

	activated, err = e.svc.ActivateDue(context.Background(), 100)
	require.NoError(t, err)
	require.Equal(t, 1, activated)

	a, err := e.store.GetAuction(context.Background(), pending.ID)
	require.NoError(t, err)
	require.Equal(t, entity.StatusActive, a.Status)

	fireAt, armed := e.store.TimerFor(pending.ID)
	require.True(t, armed)
	require.Equal(t, a.EndTime, fireAt)

	require.Len(t, e.bus.PublishedTo("auctions.events"), 1)
}
