package dto

import (
	"time"

	"github.com/gavelhq/gavel/internal/entity"
)

// PlaceBidRequest is the payload for a manual bid.
type PlaceBidRequest struct {
	BidderID int64 `json:"bidder_id"`
	Amount   int64 `json:"amount"`
}

// AutoBidRequest is the payload for creating or raising a proxy agent.
type AutoBidRequest struct {
	BidderID  int64 `json:"bidder_id"`
	MaxAmount int64 `json:"max_amount"`
}

// BidResponse represents a ledger entry as exposed via transport layers.
type BidResponse struct {
	ID        int64     `json:"id"`
	AuctionID int64     `json:"auction_id"`
	BidderID  int64     `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	IsAutoBid bool      `json:"is_auto_bid"`
	CreatedAt time.Time `json:"created_at"`
}

// AutoBidResponse represents a proxy agent as exposed via transport layers.
type AutoBidResponse struct {
	ID        int64     `json:"id"`
	AuctionID int64     `json:"auction_id"`
	BidderID  int64     `json:"bidder_id"`
	MaxAmount int64     `json:"max_amount"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BidToResponse maps a ledger entry onto its transport shape.
func BidToResponse(b *entity.Bid) BidResponse {
	return BidResponse{
		ID:        b.ID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		IsAutoBid: b.IsAutoBid,
		CreatedAt: b.CreatedAt,
	}
}

// AutoBidToResponse maps a proxy agent onto its transport shape.
func AutoBidToResponse(a *entity.AutoBid) AutoBidResponse {
	return AutoBidResponse{
		ID:        a.ID,
		AuctionID: a.AuctionID,
		BidderID:  a.BidderID,
		MaxAmount: a.MaxAmount,
		IsActive:  a.IsActive,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}
