package bidding

import (
	"github.com/gavelhq/gavel/pkg/errorbank"
)

// Stable error codes surfaced to API clients.
const (
	CodeAuctionNotFound    = "auction_not_found"
	CodeAuctionNotBiddable = "auction_not_biddable"
	CodeBidTooLow          = "bid_too_low"
	CodeSelfBidForbidden   = "self_bid_forbidden"
	CodeBidderBanned       = "bidder_banned"
	CodeAutoBidNotFound    = "auto_bid_not_found"
)

func errAuctionNotFound(auctionID int64) error {
	return errorbank.NotFound("auction not found",
		errorbank.WithCode(CodeAuctionNotFound),
		errorbank.WithDetail("auction_id", auctionID),
	)
}

func errAuctionNotBiddable(auctionID int64) error {
	return errorbank.Conflict("auction is not accepting bids",
		errorbank.WithCode(CodeAuctionNotBiddable),
		errorbank.WithDetail("auction_id", auctionID),
	)
}

func errBidTooLow(amount, minimum int64) error {
	return errorbank.Unprocessable("bid is below the minimum",
		errorbank.WithCode(CodeBidTooLow),
		errorbank.WithDetail("amount", amount),
		errorbank.WithDetail("minimum", minimum),
	)
}

func errSelfBidForbidden(auctionID int64) error {
	return errorbank.Forbidden("sellers cannot bid on their own auction",
		errorbank.WithCode(CodeSelfBidForbidden),
		errorbank.WithDetail("auction_id", auctionID),
	)
}

func errBidderBanned(auctionID, bidderID int64) error {
	return errorbank.Forbidden("bidder is banned from this auction",
		errorbank.WithCode(CodeBidderBanned),
		errorbank.WithDetail("auction_id", auctionID),
		errorbank.WithDetail("bidder_id", bidderID),
	)
}

func errAutoBidNotFound(auctionID, bidderID int64) error {
	return errorbank.NotFound("no active auto bid for this bidder",
		errorbank.WithCode(CodeAutoBidNotFound),
		errorbank.WithDetail("auction_id", auctionID),
		errorbank.WithDetail("bidder_id", bidderID),
	)
}
