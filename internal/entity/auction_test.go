package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuctionStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from AuctionStatus
		to   AuctionStatus
		want bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusSuspended, true},
		{StatusPending, StatusSold, false},
		{StatusPending, StatusNoSale, false},
		{StatusActive, StatusSold, true},
		{StatusActive, StatusNoSale, true},
		{StatusActive, StatusCancelled, true},
		{StatusActive, StatusSuspended, true},
		{StatusActive, StatusPending, false},
		{StatusSold, StatusActive, false},
		{StatusNoSale, StatusActive, false},
		{StatusCancelled, StatusActive, false},
		{StatusSuspended, StatusActive, false},
	}

	for _, tc := range tests {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			require.Equal(t, tc.want, tc.from.CanTransition(tc.to))
		})
	}
}

func TestAuctionStatus_Terminal(t *testing.T) {
	for _, s := range []AuctionStatus{StatusSold, StatusNoSale, StatusCancelled, StatusSuspended} {
		require.True(t, s.Terminal(), string(s))
	}
	for _, s := range []AuctionStatus{StatusPending, StatusActive} {
		require.False(t, s.Terminal(), string(s))
	}
}

func TestAuction_Biddable(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	a := Auction{
		Status:    StatusActive,
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	}

	require.True(t, a.Biddable(now))
	require.True(t, a.Biddable(a.StartTime))

	// The window is half-open: the deadline instant itself is closed.
	require.False(t, a.Biddable(a.EndTime))
	require.False(t, a.Biddable(a.StartTime.Add(-time.Second)))

	suspended := a
	suspended.Status = StatusSuspended
	require.False(t, suspended.Biddable(now))
}

func TestAuction_MinimumBid(t *testing.T) {
	a := Auction{StartPrice: 1000, StepPrice: 100, CurrentPrice: 0}

	// Empty ledger: the floor itself is admissible, no step applied.
	require.EqualValues(t, 1000, a.MinimumBid(false))

	a.CurrentPrice = 1000
	require.EqualValues(t, 1100, a.MinimumBid(true))
}
