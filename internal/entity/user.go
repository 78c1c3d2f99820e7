package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Role classifies a directory user.
type Role string

const (
	RoleBidder Role = "bidder"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// User is the minimal directory row the engine consults.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        int64     `bun:",pk,autoincrement" json:"id"`
	Username  string    `bun:"username" json:"username"`
	Role      Role      `bun:"role" json:"role"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// AuctionBan records a seller kicking a bidder from one auction. Banned
// bidders fail bid placement with a distinct error.
type AuctionBan struct {
	bun.BaseModel `bun:"table:auction_bans"`

	AuctionID int64     `bun:"auction_id,pk" json:"auction_id"`
	UserID    int64     `bun:"user_id,pk" json:"user_id"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}
