package bidding

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gavelhq/gavel/internal/cache"
	"github.com/gavelhq/gavel/internal/config"
	"github.com/gavelhq/gavel/internal/directory"
	"github.com/gavelhq/gavel/internal/entity"
	"github.com/gavelhq/gavel/internal/event"
	"github.com/gavelhq/gavel/internal/messaging"
	auctionrepo "github.com/gavelhq/gavel/internal/repository/auction"
	"github.com/gavelhq/gavel/pkg/errorbank"
)

func testConfig() config.Config {
	return config.Config{
		Auction: config.Auction{
			SoftCloseWindow: 5 * time.Minute,
			SoftCloseExtend: 5 * time.Minute,
		},
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

func (e *env) advance(d time.Duration) { e.now = e.now.Add(d) }

// addAuction stores an auction, filling unset fields with a biddable
// default: seller 1, start price 1000, step 100, ACTIVE, one hour left.
func (e *env) addAuction(t *testing.T, a entity.Auction) int64 {
	t.Helper()

	if a.SellerID == 0 {
		a.SellerID = 1
	}
	if a.Title == "" {
		a.Title = "lot"
	}
	if a.StartPrice == 0 {
		a.StartPrice = 1000
	}
	if a.StepPrice == 0 {
		a.StepPrice = 100
	}
	if a.Status == "" {
		a.Status = entity.StatusActive
	}
	if a.StartTime.IsZero() {
		a.StartTime = e.now.Add(-time.Hour)
	}
	if a.EndTime.IsZero() {
		a.EndTime = e.now.Add(time.Hour)
	}
	require.NoError(t, e.store.CreateAuction(context.Background(), &a))
	return a.ID
}

func (e *env) events(t *testing.T) []event.AuctionEvent {
	t.Helper()

	msgs := e.bus.PublishedTo("auctions.events")
	out := make([]event.AuctionEvent, 0, len(msgs))
	for _, m := range msgs {
		var ev event.AuctionEvent
		require.NoError(t, json.Unmarshal(m.Value, &ev))
		out = append(out, ev)
	}
	return out
}

func TestPlaceBid_Validation(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(e *env) (auctionID, bidderID, amount int64)
		wantCode string
	}{
		{
			name: "unknown_auction",
			setup: func(e *env) (int64, int64, int64) {
				return 404, 2, 1000
			},
			wantCode: CodeAuctionNotFound,
		},
		{
			name: "pending_auction",
			setup: func(e *env) (int64, int64, int64) {
				id := e.addAuction(t, entity.Auction{Status: entity.StatusPending, StartTime: e.now.Add(time.Hour), EndTime: e.now.Add(2 * time.Hour)})
				return id, 2, 1000
			},
			wantCode: CodeAuctionNotBiddable,
		},
		{
			name: "ended_auction",
			setup: func(e *env) (int64, int64, int64) {
				id := e.addAuction(t, entity.Auction{StartTime: e.now.Add(-2 * time.Hour), EndTime: e.now.Add(-time.Minute)})
				return id, 2, 1000
			},
			wantCode: CodeAuctionNotBiddable,
		},
		{
			name: "suspended_auction",
			setup: func(e *env) (int64, int64, int64) {
				id := e.addAuction(t, entity.Auction{Status: entity.StatusSuspended})
				return id, 2, 1000
			},
			wantCode: CodeAuctionNotBiddable,
		},
		{
			name: "first_bid_below_floor",
			setup: func(e *env) (int64, int64, int64) {
				return e.addAuction(t, entity.Auction{}), 2, 999
			},
			wantCode: CodeBidTooLow,
		},
		{
			name: "raise_below_step",
			setup: func(e *env) (int64, int64, int64) {
				id := e.addAuction(t, entity.Auction{})
				_, err := e.svc.PlaceBid(context.Background(), id, 3, 1000)
				require.NoError(t, err)
				return id, 2, 1050
			},
			wantCode: CodeBidTooLow,
		},
		{
			name: "non_positive_amount",
			setup: func(e *env) (int64, int64, int64) {
				return e.addAuction(t, entity.Auction{}), 2, 0
			},
			wantCode: CodeBidTooLow,
		},
		{
			name: "seller_bids_own_auction",
			setup: func(e *env) (int64, int64, int64) {
				return e.addAuction(t, entity.Auction{SellerID: 7}), 7, 1000
			},
			wantCode: CodeSelfBidForbidden,
		},
		{
			name: "banned_bidder",
			setup: func(e *env) (int64, int64, int64) {
				id := e.addAuction(t, entity.Auction{})
				e.dir.Ban(2, id)
				return id, 2, 1000
			},
			wantCode: CodeBidderBanned,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			auctionID, bidderID, amount := tc.setup(e)

			_, err := e.svc.PlaceBid(context.Background(), auctionID, bidderID, amount)

			require.Error(t, err)
			require.Equal(t, tc.wantCode, errorbank.CodeOf(err))
		})
	}
}

// When a bid fails more than one check, the amount floor is reported
// first: a low-balling seller or banned bidder gets bid_too_low, not
// the identity error.
func TestPlaceBid_AmountCheckedBeforeIdentity(t *testing.T) {
	e := newEnv(t)
	id := e.addAuction(t, entity.Auction{SellerID: 7})
	e.dir.Ban(8, id)

	_, err := e.svc.PlaceBid(context.Background(), id, 7, 500)
	require.Equal(t, CodeBidTooLow, errorbank.CodeOf(err))

	_, err = e.svc.PlaceBid(context.Background(), id, 8, 500)
	require.Equal(t, CodeBidTooLow, errorbank.CodeOf(err))

	_, err = e.svc.SetAutoBid(context.Background(), id, 7, 500)
	require.Equal(t, CodeBidTooLow, errorbank.CodeOf(err))
}

func TestPlaceBid_FirstBidAtFloorIsAdmitted(t *testing.T) {
	e := newEnv(t)
	id := e.addAuction(t, entity.Auction{StartPrice: 1000})

	_, err := e.svc.PlaceBid(context.Background(), id, 2, 999)
	require.Equal(t, CodeBidTooLow, errorbank.CodeOf(err))

	bid, err := e.svc.PlaceBid(context.Background(), id, 2, 1000)
	require.NoError(t, err)
	require.EqualValues(t, 1000, bid.Amount)
	require.False(t, bid.IsAutoBid)

	a, err := e.store.GetAuction(context.Background(), id)
	require.NoError(t, err)
	require.EqualValues(t, 1000, a.CurrentPrice)
}

func TestPlaceBid_OutbidNotifiesPreviousLeader(t *testing.T) {
	e := newEnv(t)
	id := e.addAuction(t, entity.Auction{})

	_, err := e.svc.PlaceBid(context.Background(), id, 2, 1000)
	require.NoError(t, err)
	_, err = e.svc.PlaceBid(context.Background(), id, 3, 1100)
	require.NoError(t, err)

	events := e.events(t)
	require.Len(t, events, 1)
	require.Equal(t, event.TypeOutbid, events[0].Type)
	require.EqualValues(t, 2, events[0].UserID)
	require.EqualValues(t, 1100, events[0].Amount)
}

func TestPlaceBid_ManualBidPastCeilingRetiresAgent(t *testing.T) {
	e := newEnv(t)
	id := e.addAuction(t, entity.Auction{})

	_, err := e.svc.SetAutoBid(context.Background(), id, 2, 1200)
	require.NoError(t, err)
	e.advance(time.Second)

	_, err = e.svc.PlaceBid(context.Background(), id, 3, 1300)
	require.NoError(t, err)

	agent, ok := e.store.AgentFor(id, 2)
	require.True(t, ok)
	require.False(t, agent.IsActive)

	a, err := e.store.GetAuction(context.Background(), id)
	require.NoError(t, err)
	require.EqualValues(t, 1300, a.CurrentPrice)
}

func TestPlaceBid_SoftCloseExtendsDeadline(t *testing.T) {
	e := newEnv(t)
	end := e.now.Add(2 * time.Minute)
	id := e.addAuction(t, entity.Auction{IsAutoExtend: true, EndTime: end})

	_, err := e.svc.PlaceBid(context.Background(), id, 2, 1000)
	require.NoError(t, err)

	a, err := e.store.GetAuction(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, end.Add(5*time.Minute), a.EndTime)

	fireAt, ok := e.store.TimerFor(id)
	require.True(t, ok)
	require.Equal(t, a.EndTime, fireAt)

	events := e.events(t)
	require.Len(t, events, 1)
	require.Equal(t, event.TypeExtended, events[0].Type)
	require.NotNil(t, events[0].EndTime)
	require.Equal(t, a.EndTime, events[0].EndTime.UTC())
}

func TestPlaceBid_NoExtensionOutsideWindowOrWithoutFlag(t *testing.T) {
	e := newEnv(t)

	// Flag off, bid lands inside the window.
	closeEnd := e.now.Add(2 * time.Minute)
	plain := e.addAuction(t, entity.Auction{EndTime: closeEnd})
	_, err := e.svc.PlaceBid(context.Background(), plain, 2, 1000)
	require.NoError(t, err)
	a, err := e.store.GetAuction(context.Background(), plain)
	require.NoError(t, err)
	require.Equal(t, closeEnd, a.EndTime)

	// Flag on, bid lands well before the window.
	farEnd := e.now.Add(time.Hour)
	extending := e.addAuction(t, entity.Auction{IsAutoExtend: true, EndTime: farEnd})
	_, err = e.svc.PlaceBid(context.Background(), extending, 2, 1000)
	require.NoError(t, err)
	a, err = e.store.GetAuction(context.Background(), extending)
	require.NoError(t, err)
	require.Equal(t, farEnd, a.EndTime)
}

func TestPlaceBid_BuyNowCollapsesSchedule(t *testing.T) {
	e := newEnv(t)
	id := e.addAuction(t, entity.Auction{BuyNowPrice: 5000})

	_, err := e.svc.PlaceBid(context.Background(), id, 2, 5000)
	require.NoError(t, err)

	a, err := e.store.GetAuction(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, e.now, a.EndTime)
	require.EqualValues(t, 5000, a.CurrentPrice)

	fireAt, ok := e.store.TimerFor(id)
	require.True(t, ok)
	require.Equal(t, e.now, fireAt)
}

func TestSetAutoBid_CeilingMustClearMinimum(t *testing.T) {
	e := newEnv(t)
	id := e.addAuction(t, entity.Auction{})

	_, err := e.svc.SetAutoBid(context.Background(), id, 2, 999)
	require.Equal(t, CodeBidTooLow, errorbank.CodeOf(err))

	agent, err := e.svc.SetAutoBid(context.Background(), id, 2, 1500)
	require.NoError(t, err)
	require.True(t, agent.IsActive)
	require.EqualValues(t, 1500, agent.MaxAmount)

	// The fresh agent opens the ledger at the floor.
	a, err := e.store.GetAuction(context.Background(), id)
	require.NoError(t, err)
	require.EqualValues(t, 1000, a.CurrentPrice)
}

func TestWithdrawAutoBid(t *testing.T) {
	e := newEnv(t)
	id := e.addAuction(t, entity.Auction{})

	_, err := e.svc.SetAutoBid(context.Background(), id, 2, 1500)
	require.NoError(t, err)

	require.NoError(t, e.svc.WithdrawAutoBid(context.Background(), id, 2))

	agent, ok := e.store.AgentFor(id, 2)
	require.True(t, ok)
	require.False(t, agent.IsActive)

	// Bids the agent placed stand; the price never retreats.
	a, err := e.store.GetAuction(context.Background(), id)
	require.NoError(t, err)
	require.EqualValues(t, 1000, a.CurrentPrice)

	err = e.svc.WithdrawAutoBid(context.Background(), id, 2)
	require.Equal(t, CodeAutoBidNotFound, errorbank.CodeOf(err))
}

func TestBids_ReturnsLedgerOldestFirst(t *testing.T) {
	e := newEnv(t)
	id := e.addAuction(t, entity.Auction{})

	_, err := e.svc.PlaceBid(context.Background(), id, 2, 1000)
	require.NoError(t, err)
	e.advance(time.Second)
	_, err = e.svc.PlaceBid(context.Background(), id, 3, 1100)
	require.NoError(t, err)

	bids, err := e.svc.Bids(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.EqualValues(t, 1000, bids[0].Amount)
	require.EqualValues(t, 1100, bids[1].Amount)

	_, err = e.svc.Bids(context.Background(), 404)
	require.Equal(t, CodeAuctionNotFound, errorbank.CodeOf(err))
}

func TestPlaceBid_ConcurrentBidsSerialize(t *testing.T) {
	e := newEnv(t)
	id := e.addAuction(t, entity.Auction{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		bidderID := int64(i + 2)
		amount := int64(1000 + i*100)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.svc.PlaceBid(context.Background(), id, bidderID, amount)
		}()
	}
	wg.Wait()

	a, err := e.store.GetAuction(context.Background(), id)
	require.NoError(t, err)

	bids, err := e.store.BidsFor(context.Background(), id)
	require.NoError(t, err)
	require.NotEmpty(t, bids)

	// Admissions saw a serialized ledger: amounts strictly climb by at
	// least the step after the opening bid, and the recorded price is the
	// amount of the last admitted bid.
	for i := 1; i < len(bids); i++ {
		require.GreaterOrEqual(t, bids[i].Amount, bids[i-1].Amount+a.StepPrice)
	}
	require.Equal(t, bids[len(bids)-1].Amount, a.CurrentPrice)
}
