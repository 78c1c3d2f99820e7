package dto

import (
	"time"

	"github.com/gavelhq/gavel/internal/entity"
)

// CreateAuctionRequest is the payload for listing a new auction.
type CreateAuctionRequest struct {
	SellerID     int64     `json:"seller_id"`
	Title        string    `json:"title"`
	StartPrice   int64     `json:"start_price"`
	StepPrice    int64     `json:"step_price"`
	BuyNowPrice  int64     `json:"buy_now_price"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	IsAutoExtend bool      `json:"is_auto_extend"`
}

// AuctionResponse represents an auction as exposed via transport layers.
type AuctionResponse struct {
	ID           int64     `json:"id"`
	SellerID     int64     `json:"seller_id"`
	Title        string    `json:"title"`
	StartPrice   int64     `json:"start_price"`
	StepPrice    int64     `json:"step_price"`
	BuyNowPrice  int64     `json:"buy_now_price,omitempty"`
	CurrentPrice int64     `json:"current_price"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	IsAutoExtend bool      `json:"is_auto_extend"`
	Status       string    `json:"status"`
	WinnerID     int64     `json:"winner_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AuctionToResponse maps the entity onto its transport shape.
func AuctionToResponse(a *entity.Auction) AuctionResponse {
	return AuctionResponse{
		ID:           a.ID,
		SellerID:     a.SellerID,
		Title:        a.Title,
		StartPrice:   a.StartPrice,
		StepPrice:    a.StepPrice,
		BuyNowPrice:  a.BuyNowPrice,
		CurrentPrice: a.CurrentPrice,
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
		IsAutoExtend: a.IsAutoExtend,
		Status:       string(a.Status),
		WinnerID:     a.WinnerID,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}
