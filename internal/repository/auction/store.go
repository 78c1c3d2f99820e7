package auction

import (
	"context"
	"errors"
	"time"

	"github.com/gavelhq/gavel/internal/entity"
)

// ErrNotFound is returned when an auction is missing.
var ErrNotFound = errors.New("auction not found")

// Store is the persistence boundary for the bidding and finalization
// engine. Everything that mutates an auction's contended fields
// (current_price, end_time, status, winner_id), its ledger, its proxy
// agents, or its timer goes through WithAuctionLock so that all work on
// one auction is strictly serialized.
type Store interface {
	// WithAuctionLock runs fn inside a transaction holding an exclusive
	// lock on the auction row. Returns ErrNotFound when the auction does
	// not exist. An error from fn rolls the transaction back.
	WithAuctionLock(ctx context.Context, auctionID int64, fn func(ctx context.Context, tx Tx) error) error

	CreateAuction(ctx context.Context, a *entity.Auction) error
	GetAuction(ctx context.Context, id int64) (*entity.Auction, error)

	// BidsFor returns the full ledger for an auction, oldest first
	// (newest-admitted last).
	BidsFor(ctx context.Context, auctionID int64) ([]entity.Bid, error)

	// DueTimers lists auctions whose persisted finalize timer has fired.
	DueTimers(ctx context.Context, now time.Time, limit int) ([]int64, error)
	// OverdueActive lists ACTIVE auctions past their end time; the
	// reconciliation sweep re-finalizes these when a timer was lost.
	OverdueActive(ctx context.Context, now time.Time, limit int) ([]int64, error)
	// DuePending lists PENDING auctions whose start time has passed.
	DuePending(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// Tx exposes the per-auction operations available while the row lock is
// held. The *entity.Auction returned by Auction is the locked row; callers
// mutate it in place and persist with SaveAuction before the transaction
// commits.
type Tx interface {
	Auction() *entity.Auction
	SaveAuction(ctx context.Context) error

	// AppendBid writes a ledger entry and fills in its assigned ID.
	AppendBid(ctx context.Context, bid *entity.Bid) error
	// HighestBid returns the leading bid under the ledger ordering
	// (amount desc, created_at desc, id desc), or nil for an empty ledger.
	HighestBid(ctx context.Context) (*entity.Bid, error)

	// ActiveAutoBids returns active proxy agents ordered by max_amount
	// desc, then updated_at asc, then id asc.
	ActiveAutoBids(ctx context.Context) ([]*entity.AutoBid, error)
	// AutoBidFor returns the agent row for a bidder, active or not, or
	// nil when the bidder never registered one.
	AutoBidFor(ctx context.Context, bidderID int64) (*entity.AutoBid, error)
	// SaveAutoBid inserts the agent when its ID is zero, updates otherwise.
	SaveAutoBid(ctx context.Context, agent *entity.AutoBid) error
	DeactivateAutoBid(ctx context.Context, agentID int64) error

	// ArmTimer schedules (or reschedules) the finalize timer.
	ArmTimer(ctx context.Context, fireAt time.Time) error
	ClearTimer(ctx context.Context) error
}
