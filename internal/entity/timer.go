package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// AuctionTimer is the persisted finalize schedule: at most one row per
// auction, re-armed on every soft-close extension and cleared inside the
// finalize transaction. Surviving process restarts is the point.
type AuctionTimer struct {
	bun.BaseModel `bun:"table:auction_timers"`

	AuctionID int64     `bun:"auction_id,pk" json:"auction_id"`
	FireAt    time.Time `bun:"fire_at" json:"fire_at"`
}
