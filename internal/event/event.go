// Package event defines the payloads the engine publishes to the bus.
// Order intents drive the downstream order collaborator; auction events
// feed best-effort notification fan-out.
package event

import "time"

// Auction event types.
const (
	TypeOutbid    = "outbid"
	TypeExtended  = "auction_extended"
	TypeActivated = "auction_activated"
	TypeClosed    = "auction_closed"
	TypeCancelled = "auction_cancelled"
)

// AuctionEvent is a fire-and-forget notification about one auction.
type AuctionEvent struct {
	Type      string     `json:"type"`
	AuctionID int64      `json:"auction_id"`
	UserID    int64      `json:"user_id,omitempty"`
	Amount    int64      `json:"amount,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	At        time.Time  `json:"at"`
}

// OrderIntent instructs the order collaborator to create the purchase
// record for a sold auction. Consumers must be idempotent per AuctionID.
type OrderIntent struct {
	AuctionID  int64     `json:"auction_id"`
	WinnerID   int64     `json:"winner_id"`
	SellerID   int64     `json:"seller_id"`
	FinalPrice int64     `json:"final_price"`
	SoldAt     time.Time `json:"sold_at"`
}
