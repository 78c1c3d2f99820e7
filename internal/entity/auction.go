package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// AuctionStatus is the lifecycle state of an auction listing.
type AuctionStatus string

const (
	StatusPending   AuctionStatus = "PENDING"
	StatusActive    AuctionStatus = "ACTIVE"
	StatusSold      AuctionStatus = "SOLD"
	StatusNoSale    AuctionStatus = "NO_SALE"
	StatusCancelled AuctionStatus = "CANCELLED"
	StatusSuspended AuctionStatus = "SUSPENDED"
)

// Terminal reports whether the status permits no further transitions.
func (s AuctionStatus) Terminal() bool {
	switch s {
	case StatusSold, StatusNoSale, StatusCancelled, StatusSuspended:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Cancellation of an ACTIVE auction additionally requires an empty
// ledger, which the caller checks; this table only encodes the state graph.
func (s AuctionStatus) CanTransition(next AuctionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusCancelled || next == StatusSuspended
	case StatusActive:
		return next == StatusSold || next == StatusNoSale || next == StatusCancelled || next == StatusSuspended
	}
	return false
}

// Auction is the listing being sold via competitive bidding. The mutable
// field set {current_price, end_time, status, winner_id} is only ever
// written while holding the auction's row lock.
type Auction struct {
	bun.BaseModel `bun:"table:auctions"`

	ID           int64         `bun:",pk,autoincrement" json:"id"`
	SellerID     int64         `bun:"seller_id" json:"seller_id"`
	Title        string        `bun:"title" json:"title"`
	StartPrice   int64         `bun:"start_price" json:"start_price"`
	StepPrice    int64         `bun:"step_price" json:"step_price"`
	BuyNowPrice  int64         `bun:"buy_now_price" json:"buy_now_price"` // 0 means no buy-now
	CurrentPrice int64         `bun:"current_price" json:"current_price"`
	StartTime    time.Time     `bun:"start_time" json:"start_time"`
	EndTime      time.Time     `bun:"end_time" json:"end_time"`
	IsAutoExtend bool          `bun:"is_auto_extend" json:"is_auto_extend"`
	Status       AuctionStatus `bun:"status" json:"status"`
	WinnerID     int64         `bun:"winner_id,nullzero" json:"winner_id,omitempty"`
	CreatedAt    time.Time     `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time     `bun:"updated_at,nullzero" json:"updated_at"`
}

// Biddable reports whether a bid can be admitted at the given instant.
func (a *Auction) Biddable(now time.Time) bool {
	return a.Status == StatusActive && now.Before(a.EndTime) && !now.Before(a.StartTime)
}

// MinimumBid is the lowest admissible bid amount against the current
// ledger state: the start price floors an empty ledger, with no increment
// applied; afterwards every raise must clear the step.
func (a *Auction) MinimumBid(hasBids bool) int64 {
	if !hasBids {
		return a.StartPrice
	}
	return a.CurrentPrice + a.StepPrice
}
