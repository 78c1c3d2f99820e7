package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// AutoBid is a standing proxy instruction: bid on the bidder's behalf up
// to MaxAmount. At most one row exists per (auction, bidder). Rows are
// kept for audit after deactivation, never deleted.
//
// UpdatedAt doubles as the resolver's tie-break priority: at a shared
// ceiling the agent with the earliest UpdatedAt holds it. Changing the
// ceiling re-queues the bidder's priority.
type AutoBid struct {
	bun.BaseModel `bun:"table:auto_bids"`

	ID        int64     `bun:",pk,autoincrement" json:"id"`
	AuctionID int64     `bun:"auction_id" json:"auction_id"`
	BidderID  int64     `bun:"bidder_id" json:"bidder_id"`
	MaxAmount int64     `bun:"max_amount" json:"max_amount"`
	IsActive  bool      `bun:"is_active" json:"is_active"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero" json:"updated_at"`
}
