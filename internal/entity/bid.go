package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Bid is one admitted bid in an auction's ledger. Rows are append-only;
// a bid is never updated or deleted once written.
type Bid struct {
	bun.BaseModel `bun:"table:bids"`

	ID        int64     `bun:",pk,autoincrement" json:"id"`
	AuctionID int64     `bun:"auction_id" json:"auction_id"`
	BidderID  int64     `bun:"bidder_id" json:"bidder_id"`
	Amount    int64     `bun:"amount" json:"amount"`
	IsAutoBid bool      `bun:"is_auto_bid" json:"is_auto_bid"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}
