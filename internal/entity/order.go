package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Order is the downstream record created from a finalization intent. The
// unique auction_id column makes intent consumption idempotent: replayed
// intents insert nothing.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID         int64     `bun:",pk,autoincrement" json:"id"`
	AuctionID  int64     `bun:"auction_id" json:"auction_id"`
	WinnerID   int64     `bun:"winner_id" json:"winner_id"`
	SellerID   int64     `bun:"seller_id" json:"seller_id"`
	FinalPrice int64     `bun:"final_price" json:"final_price"`
	Status     string    `bun:"status" json:"status"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// OrderStatusPending is the initial status of a freshly created order.
const OrderStatusPending = "pending"
