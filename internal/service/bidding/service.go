// Package bidding admits manual bids and runs standing proxy agents.
// Every mutation happens under the auction's row lock, so concurrent
// bids on one auction serialize and each admission sees the ledger
// state left by the previous one.
package bidding

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gavelhq/gavel/internal/cache"
	"github.com/gavelhq/gavel/internal/config"
	"github.com/gavelhq/gavel/internal/directory"
	"github.com/gavelhq/gavel/internal/entity"
	"github.com/gavelhq/gavel/internal/event"
	"github.com/gavelhq/gavel/internal/messaging"
	auctionrepo "github.com/gavelhq/gavel/internal/repository/auction"
	auctionsvc "github.com/gavelhq/gavel/internal/service/auction"
	"github.com/gavelhq/gavel/pkg/errorbank"
)

var tracer = otel.Tracer("github.com/gavelhq/gavel/service/bidding")

// Params collects the service dependencies.
type Params struct {
	fx.In

	Store     auctionrepo.Store
	Directory directory.Directory
	Cache     cache.Store
	Publisher messaging.Client
	Config    config.Config
	Logger    *zap.Logger
}

// Service owns bid admission, proxy agents, and soft-close extension.
type Service struct {
	store     auctionrepo.Store
	directory directory.Directory
	cache     cache.Store
	publisher messaging.Client
	logger    *zap.Logger

	softCloseWindow time.Duration
	softCloseExtend time.Duration
	eventTopic      string

	now func() time.Time
}

// NewService constructs the bidding service.
func NewService(p Params) *Service {
	return &Service{
		store:           p.Store,
		directory:       p.Directory,
		cache:           p.Cache,
		publisher:       p.Publisher,
		logger:          p.Logger,
		softCloseWindow: p.Config.Auction.SoftCloseWindow,
		softCloseExtend: p.Config.Auction.SoftCloseExtend,
		eventTopic:      p.Config.Messaging.Kafka.EventTopic,
		now:             time.Now,
	}
}

// PlaceBid admits a manual bid. The amount must clear the current
// minimum, the bidder must not be the seller or banned, and the auction
// must be ACTIVE inside its time window. An admitted bid may trigger
// proxy counter-bids, retire overrun agents, extend the deadline on
// auto-extend auctions, and collapse the schedule when it clears the
// buy-now price.
func (s *Service) PlaceBid(ctx context.Context, auctionID, bidderID, amount int64) (*entity.Bid, error) {
	ctx, span := tracer.Start(ctx, "BiddingService.PlaceBid", trace.WithAttributes(
		attribute.Int64("auction.id", auctionID),
		attribute.Int64("bidder.id", bidderID),
		attribute.Int64("bid.amount", amount),
	))
	defer span.End()

	if amount <= 0 {
		return nil, errorbank.BadRequest("bid amount must be positive", errorbank.WithCode(CodeBidTooLow))
	}

	var (
		bid    *entity.Bid
		events []event.AuctionEvent
	)
	err := s.store.WithAuctionLock(ctx, auctionID, func(ctx context.Context, tx auctionrepo.Tx) error {
		now := s.now()
		a := tx.Auction()

		if !a.Biddable(now) {
			return errAuctionNotBiddable(a.ID)
		}
		prev, err := tx.HighestBid(ctx)
		if err != nil {
			return err
		}
		if min := a.MinimumBid(prev != nil); amount < min {
			return errBidTooLow(amount, min)
		}
		if bidderID == a.SellerID {
			return errSelfBidForbidden(a.ID)
		}
		banned, err := s.directory.IsBanned(ctx, bidderID, a.ID)
		if err != nil {
			return err
		}
		if banned {
			return errBidderBanned(a.ID, bidderID)
		}

		bid = &entity.Bid{AuctionID: a.ID, BidderID: bidderID, Amount: amount, CreatedAt: now}
		if err := tx.AppendBid(ctx, bid); err != nil {
			return err
		}
		a.CurrentPrice = amount

		if prev != nil && prev.BidderID != bidderID {
			events = append(events, event.AuctionEvent{
				Type: event.TypeOutbid, AuctionID: a.ID, UserID: prev.BidderID, Amount: amount, At: now,
			})
		}

		// A manual bid past an agent's ceiling retires that agent; it can
		// never counter again.
		agents, err := tx.ActiveAutoBids(ctx)
		if err != nil {
			return err
		}
		for _, ag := range agents {
			if ag.BidderID != bidderID && ag.MaxAmount < amount {
				if err := tx.DeactivateAutoBid(ctx, ag.ID); err != nil {
					return err
				}
			}
		}

		if a.BuyNowPrice > 0 && amount >= a.BuyNowPrice {
			// Clearing the buy-now price collapses the schedule. The timer
			// fires immediately and finalization runs on its normal path.
			a.EndTime = now
			if err := tx.ArmTimer(ctx, now); err != nil {
				return err
			}
		} else {
			if _, err := s.resolve(ctx, tx, now, &events); err != nil {
				return err
			}
			if err := s.maybeExtend(ctx, tx, now, &events); err != nil {
				return err
			}
		}

		a.UpdatedAt = now
		return tx.SaveAuction(ctx)
	})
	if err != nil {
		if errors.Is(err, auctionrepo.ErrNotFound) {
			return nil, errAuctionNotFound(auctionID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "place bid failed")
		return nil, err
	}

	s.afterCommit(ctx, auctionID, events)
	return bid, nil
}

// SetAutoBid registers or raises a standing proxy instruction for the
// bidder and immediately runs it against the ledger. Changing the
// ceiling re-queues the bidder's tie-break priority.
func (s *Service) SetAutoBid(ctx context.Context, auctionID, bidderID, maxAmount int64) (*entity.AutoBid, error) {
	ctx, span := tracer.Start(ctx, "BiddingService.SetAutoBid", trace.WithAttributes(
		attribute.Int64("auction.id", auctionID),
		attribute.Int64("bidder.id", bidderID),
		attribute.Int64("bid.max_amount", maxAmount),
	))
	defer span.End()

	if maxAmount <= 0 {
		return nil, errorbank.BadRequest("max amount must be positive", errorbank.WithCode(CodeBidTooLow))
	}

	var (
		agent  *entity.AutoBid
		events []event.AuctionEvent
	)
	err := s.store.WithAuctionLock(ctx, auctionID, func(ctx context.Context, tx auctionrepo.Tx) error {
		now := s.now()
		a := tx.Auction()

		if !a.Biddable(now) {
			return errAuctionNotBiddable(a.ID)
		}
		prev, err := tx.HighestBid(ctx)
		if err != nil {
			return err
		}
		if min := a.MinimumBid(prev != nil); maxAmount < min {
			return errBidTooLow(maxAmount, min)
		}
		if bidderID == a.SellerID {
			return errSelfBidForbidden(a.ID)
		}
		banned, err := s.directory.IsBanned(ctx, bidderID, a.ID)
		if err != nil {
			return err
		}
		if banned {
			return errBidderBanned(a.ID, bidderID)
		}

		agent, err = tx.AutoBidFor(ctx, bidderID)
		if err != nil {
			return err
		}
		if agent == nil {
			agent = &entity.AutoBid{AuctionID: a.ID, BidderID: bidderID, CreatedAt: now}
		}
		agent.MaxAmount = maxAmount
		agent.IsActive = true
		agent.UpdatedAt = now
		if err := tx.SaveAutoBid(ctx, agent); err != nil {
			return err
		}

		placed, err := s.resolve(ctx, tx, now, &events)
		if err != nil {
			return err
		}
		if placed > 0 {
			if err := s.maybeExtend(ctx, tx, now, &events); err != nil {
				return err
			}
		}

		a.UpdatedAt = now
		return tx.SaveAuction(ctx)
	})
	if err != nil {
		if errors.Is(err, auctionrepo.ErrNotFound) {
			return nil, errAuctionNotFound(auctionID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "set auto bid failed")
		return nil, err
	}

	s.afterCommit(ctx, auctionID, events)
	return agent, nil
}

// WithdrawAutoBid deactivates the bidder's standing instruction. Bids the
// agent already placed stand; the price never retreats.
func (s *Service) WithdrawAutoBid(ctx context.Context, auctionID, bidderID int64) error {
	ctx, span := tracer.Start(ctx, "BiddingService.WithdrawAutoBid", trace.WithAttributes(
		attribute.Int64("auction.id", auctionID),
		attribute.Int64("bidder.id", bidderID),
	))
	defer span.End()

	err := s.store.WithAuctionLock(ctx, auctionID, func(ctx context.Context, tx auctionrepo.Tx) error {
		agent, err := tx.AutoBidFor(ctx, bidderID)
		if err != nil {
			return err
		}
		if agent == nil || !agent.IsActive {
			return errAutoBidNotFound(auctionID, bidderID)
		}
		return tx.DeactivateAutoBid(ctx, agent.ID)
	})
	if errors.Is(err, auctionrepo.ErrNotFound) {
		return errAuctionNotFound(auctionID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "withdraw auto bid failed")
	}
	return err
}

// Bids returns the full ledger for an auction, oldest first.
func (s *Service) Bids(ctx context.Context, auctionID int64) ([]entity.Bid, error) {
	ctx, span := tracer.Start(ctx, "BiddingService.Bids", trace.WithAttributes(
		attribute.Int64("auction.id", auctionID),
	))
	defer span.End()

	if _, err := s.store.GetAuction(ctx, auctionID); err != nil {
		if errors.Is(err, auctionrepo.ErrNotFound) {
			return nil, errAuctionNotFound(auctionID)
		}
		return nil, err
	}
	return s.store.BidsFor(ctx, auctionID)
}

// maybeExtend pushes the deadline when a bid lands inside the soft-close
// window of an auto-extend auction, and re-arms the finalize timer in
// the same transaction.
func (s *Service) maybeExtend(ctx context.Context, tx auctionrepo.Tx, now time.Time, events *[]event.AuctionEvent) error {
	a := tx.Auction()
	if !a.IsAutoExtend {
		return nil
	}
	if a.EndTime.Sub(now) >= s.softCloseWindow {
		return nil
	}
	a.EndTime = a.EndTime.Add(s.softCloseExtend)
	if err := tx.ArmTimer(ctx, a.EndTime); err != nil {
		return err
	}
	end := a.EndTime
	*events = append(*events, event.AuctionEvent{
		Type: event.TypeExtended, AuctionID: a.ID, EndTime: &end, At: now,
	})
	return nil
}

// afterCommit runs best-effort side effects once the transaction is
// durable: cache invalidation and notification fan-out. Failures here
// never undo an admitted bid.
func (s *Service) afterCommit(ctx context.Context, auctionID int64, events []event.AuctionEvent) {
	if err := s.cache.Delete(ctx, auctionsvc.CacheKey(auctionID)); err != nil {
		s.logger.Warn("auction cache invalidation failed",
			zap.Int64("auction_id", auctionID), zap.Error(err))
	}
	for _, ev := range events {
		s.publishEvent(ctx, ev)
	}
}

func (s *Service) publishEvent(ctx context.Context, ev event.AuctionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal auction event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	key := []byte(strconv.FormatInt(ev.AuctionID, 10))
	if err := s.publisher.Publish(ctx, s.eventTopic, key, payload); err != nil {
		s.logger.Warn("auction event publish failed",
			zap.String("type", ev.Type), zap.Int64("auction_id", ev.AuctionID), zap.Error(err))
	}
}
