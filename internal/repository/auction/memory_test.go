package auction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gavelhq/gavel/internal/entity"
)

func addAuction(t *testing.T, store *MemoryStore) int64 {
	t.Helper()

	a := entity.Auction{
		SellerID:   1,
		Title:      "lot",
		StartPrice: 100,
		StepPrice:  10,
		Status:     entity.StatusActive,
		StartTime:  time.Now().Add(-time.Hour),
		EndTime:    time.Now().Add(time.Hour),
	}
	require.NoError(t, store.CreateAuction(context.Background(), &a))
	return a.ID
}

func appendBid(t *testing.T, store *MemoryStore, auctionID int64, bid entity.Bid) {
	t.Helper()

	err := store.WithAuctionLock(context.Background(), auctionID, func(ctx context.Context, tx Tx) error {
		return tx.AppendBid(ctx, &bid)
	})
	require.NoError(t, err)
}

func highest(t *testing.T, store *MemoryStore, auctionID int64) *entity.Bid {
	t.Helper()

	var leader *entity.Bid
	err := store.WithAuctionLock(context.Background(), auctionID, func(ctx context.Context, tx Tx) error {
		var err error
		leader, err = tx.HighestBid(ctx)
		return err
	})
	require.NoError(t, err)
	return leader
}

func TestWithAuctionLock_UnknownAuction(t *testing.T) {
	store := NewMemoryStore()

	err := store.WithAuctionLock(context.Background(), 404, func(context.Context, Tx) error {
		t.Fatal("must not run")
		return nil
	})

	require.ErrorIs(t, err, ErrNotFound)
}

func TestHighestBid_OrdersByAmountThenRecency(t *testing.T) {
	store := NewMemoryStore()
	id := addAuction(t, store)
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	require.Nil(t, highest(t, store, id))

	appendBid(t, store, id, entity.Bid{BidderID: 2, Amount: 100, CreatedAt: base})
	appendBid(t, store, id, entity.Bid{BidderID: 3, Amount: 200, CreatedAt: base.Add(time.Second)})
	require.EqualValues(t, 3, highest(t, store, id).BidderID)

	// Equal amount, later timestamp wins.
	appendBid(t, store, id, entity.Bid{BidderID: 4, Amount: 200, CreatedAt: base.Add(2 * time.Second)})
	require.EqualValues(t, 4, highest(t, store, id).BidderID)

	// Equal amount and timestamp, higher id (appended later) wins.
	appendBid(t, store, id, entity.Bid{BidderID: 5, Amount: 200, CreatedAt: base.Add(2 * time.Second)})
	require.EqualValues(t, 5, highest(t, store, id).BidderID)

	// A lower bid never takes the lead.
	appendBid(t, store, id, entity.Bid{BidderID: 6, Amount: 150, CreatedAt: base.Add(3 * time.Second)})
	require.EqualValues(t, 5, highest(t, store, id).BidderID)
}

func TestBidsFor_OldestFirst(t *testing.T) {
	store := NewMemoryStore()
	id := addAuction(t, store)
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	appendBid(t, store, id, entity.Bid{BidderID: 2, Amount: 300, CreatedAt: base.Add(2 * time.Second)})
	appendBid(t, store, id, entity.Bid{BidderID: 3, Amount: 100, CreatedAt: base})
	appendBid(t, store, id, entity.Bid{BidderID: 4, Amount: 200, CreatedAt: base.Add(time.Second)})

	bids, err := store.BidsFor(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, bids, 3)
	require.EqualValues(t, 100, bids[0].Amount)
	require.EqualValues(t, 200, bids[1].Amount)
	require.EqualValues(t, 300, bids[2].Amount)
}

func TestDueTimers(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	due := addAuction(t, store)
	later := addAuction(t, store)

	arm := func(id int64, at time.Time) {
		err := store.WithAuctionLock(context.Background(), id, func(ctx context.Context, tx Tx) error {
			return tx.ArmTimer(ctx, at)
		})
		require.NoError(t, err)
	}
	arm(due, now.Add(-time.Second))
	arm(later, now.Add(time.Hour))

	ids, err := store.DueTimers(context.Background(), now, 100)
	require.NoError(t, err)
	require.Equal(t, []int64{due}, ids)

	// Clearing removes the row entirely.
	err = store.WithAuctionLock(context.Background(), due, func(ctx context.Context, tx Tx) error {
		return tx.ClearTimer(ctx)
	})
	require.NoError(t, err)

	ids, err = store.DueTimers(context.Background(), now, 100)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestActiveAutoBids_Ordering(t *testing.T) {
	store := NewMemoryStore()
	id := addAuction(t, store)
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	err := store.WithAuctionLock(context.Background(), id, func(ctx context.Context, tx Tx) error {
		for _, ag := range []entity.AutoBid{
			{BidderID: 2, MaxAmount: 100, IsActive: true, UpdatedAt: base.Add(time.Second)},
			{BidderID: 3, MaxAmount: 200, IsActive: true, UpdatedAt: base.Add(2 * time.Second)},
			{BidderID: 4, MaxAmount: 200, IsActive: true, UpdatedAt: base},
			{BidderID: 5, MaxAmount: 300, IsActive: false, UpdatedAt: base},
		} {
			agent := ag
			if err := tx.SaveAutoBid(ctx, &agent); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = store.WithAuctionLock(context.Background(), id, func(ctx context.Context, tx Tx) error {
		agents, err := tx.ActiveAutoBids(ctx)
		require.NoError(t, err)
		require.Len(t, agents, 3)

		// Ceiling desc, then priority asc. Inactive agents are absent.
		require.EqualValues(t, 4, agents[0].BidderID)
		require.EqualValues(t, 3, agents[1].BidderID)
		require.EqualValues(t, 2, agents[2].BidderID)
		return nil
	})
	require.NoError(t, err)
}
