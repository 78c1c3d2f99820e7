// Package auction owns listing lifecycle: creation, activation,
// cancellation, and suspension. Terminal transitions that depend on the
// ledger (SOLD, NO_SALE) belong to the finalize service.
package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"github.com/gavelhq/gavel/internal/dto"
	"github.com/gavelhq/gavel/internal/entity"
	"github.com/gavelhq/gavel/internal/event"
	"github.com/gavelhq/gavel/internal/messaging"
	auctionrepo "github.com/gavelhq/gavel/internal/repository/auction"
	"github.com/gavelhq/gavel/pkg/errorbank"
)

var tracer = otel.Tracer("github.com/gavelhq/gavel/service/auction")

// Stable error codes surfaced to API clients.
const (
	CodeAuctionNotFound   = "auction_not_found"
	CodeAuctionInvalid    = "auction_invalid"
	CodeInvalidTransition = "invalid_status_transition"
	CodeAuctionHasBids    = "auction_has_bids"
	CodeNotAuthorized     = "not_authorized"
)

// CacheKey is the cache key under which one auction snapshot lives.
// Shared with the bidding and finalize services so every writer
// invalidates the same entry.
func CacheKey(auctionID int64) string {
	return fmt.Sprintf("auctions:%d", auctionID)
}

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

// Service manages auction listings and their lifecycle transitions.
type Service struct {
	store     auctionrepo.Store
	directory directory.Directory
	cache     cache.Store
	publisher messaging.Client
	logger    *zap.Logger

	cacheTTL   time.Duration
	eventTopic string

	now func() time.Time
}

// NewService constructs the auction service.
func NewService(p Params) *Service {
	return &Service{
		store:      p.Store,
		directory:  p.Directory,
		cache:      p.Cache,
		publisher:  p.Publisher,
		logger:     p.Logger,
		cacheTTL:   p.Config.Cache.DefaultTTL,
		eventTopic: p.Config.Messaging.Kafka.EventTopic,
		now:        time.Now,
	}
}

// Create validates and persists a new listing. A listing whose start
// time has already passed goes straight to ACTIVE with its finalize
// timer armed; otherwise it waits in PENDING for the activation sweep.
func (s *Service) Create(ctx context.Context, req dto.CreateAuctionRequest) (*entity.Auction, error) {
	ctx, span := tracer.Start(ctx, "AuctionService.Create", trace.WithAttributes(
		attribute.Int64("seller.id", req.SellerID),
	))
	defer span.End()

	if err := validateCreate(req); err != nil {
		return nil, err
	}

	now := s.now()
	a := &entity.Auction{
		SellerID:     req.SellerID,
		Title:        req.Title,
		StartPrice:   req.StartPrice,
		StepPrice:    req.StepPrice,
		BuyNowPrice:  req.BuyNowPrice,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		IsAutoExtend: req.IsAutoExtend,
		Status:       entity.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !now.Before(req.StartTime) {
		a.Status = entity.StatusActive
	}

	if err := s.store.CreateAuction(ctx, a); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create auction failed")
		return nil, err
	}

	if a.Status == entity.StatusActive {
		err := s.store.WithAuctionLock(ctx, a.ID, func(ctx context.Context, tx auctionrepo.Tx) error {
			return tx.ArmTimer(ctx, tx.Auction().EndTime)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "arm timer failed")
			return nil, err
		}
	}

	return a, nil
}

func validateCreate(req dto.CreateAuctionRequest) error {
	invalid := func(msg string) error {
		return errorbank.Unprocessable(msg, errorbank.WithCode(CodeAuctionInvalid))
	}
	switch {
	case req.SellerID <= 0:
		return invalid("seller_id is required")
	case req.Title == "":
		return invalid("title is required")
	case req.StartPrice <= 0:
		return invalid("start_price must be positive")
	case req.StepPrice <= 0:
		return invalid("step_price must be positive")
	case req.BuyNowPrice != 0 && req.BuyNowPrice <= req.StartPrice:
		return invalid("buy_now_price must exceed start_price")
	case req.StartTime.IsZero() || req.EndTime.IsZero():
		return invalid("start_time and end_time are required")
	case !req.EndTime.After(req.StartTime):
		return invalid("end_time must be after start_time")
	}
	return nil
}

// Get returns one auction, serving repeated reads from the cache.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Auction, error) {
	ctx, span := tracer.Start(ctx, "AuctionService.Get", trace.WithAttributes(
		attribute.Int64("auction.id", id),
	))
	defer span.End()

	key := CacheKey(id)
	if raw, err := s.cache.Get(ctx, key); err == nil {
		a := new(entity.Auction)
		if err := json.Unmarshal(raw, a); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return a, nil
		}
		// A corrupt entry is dropped and refetched.
		_ = s.cache.Delete(ctx, key)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("auction cache read failed", zap.Int64("auction_id", id), zap.Error(err))
	}

	a, err := s.store.GetAuction(ctx, id)
	if errors.Is(err, auctionrepo.ErrNotFound) {
		return nil, errorbank.NotFound("auction not found",
			errorbank.WithCode(CodeAuctionNotFound),
			errorbank.WithDetail("auction_id", id),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get auction failed")
		return nil, err
	}

	if raw, err := json.Marshal(a); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
			s.logger.Warn("auction cache write failed", zap.Int64("auction_id", id), zap.Error(err))
		}
	}
	return a, nil
}

// Cancel withdraws a listing. A PENDING auction cancels unconditionally;
// an ACTIVE one only while its ledger is still empty. Only the seller or
// an admin may cancel.
func (s *Service) Cancel(ctx context.Context, auctionID, actorID int64) error {
	ctx, span := tracer.Start(ctx, "AuctionService.Cancel", trace.WithAttributes(
		attribute.Int64("auction.id", auctionID),
		attribute.Int64("actor.id", actorID),
	))
	defer span.End()

	err := s.transition(ctx, auctionID, actorID, entity.StatusCancelled, func(tx auctionrepo.Tx, leader *entity.Bid) error {
		if tx.Auction().Status == entity.StatusActive && leader != nil {
			return errorbank.Conflict("auction already has bids",
				errorbank.WithCode(CodeAuctionHasBids),
				errorbank.WithDetail("auction_id", auctionID),
			)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		return err
	}

	s.invalidate(ctx, auctionID)
	s.publishEvent(ctx, event.AuctionEvent{Type: event.TypeCancelled, AuctionID: auctionID, At: s.now()})
	return nil
}

// Suspend freezes a listing for moderation. Existing bids stand but no
// further bids are admitted and the finalize timer is disarmed.
func (s *Service) Suspend(ctx context.Context, auctionID, actorID int64) error {
	ctx, span := tracer.Start(ctx, "AuctionService.Suspend", trace.WithAttributes(
		attribute.Int64("auction.id", auctionID),
		attribute.Int64("actor.id", actorID),
	))
	defer span.End()

	err := s.transition(ctx, auctionID, actorID, entity.StatusSuspended, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "suspend failed")
		return err
	}

	s.invalidate(ctx, auctionID)
	return nil
}

// transition applies an operator-driven terminal transition under the
// auction lock: authorization, state-graph check, optional guard, then
// agent deactivation, timer disarm, and persist.
func (s *Service) transition(ctx context.Context, auctionID, actorID int64, next entity.AuctionStatus, guard func(tx auctionrepo.Tx, leader *entity.Bid) error) error {
	err := s.store.WithAuctionLock(ctx, auctionID, func(ctx context.Context, tx auctionrepo.Tx) error {
		a := tx.Auction()

		if actorID != a.SellerID {
			role, err := s.directory.Role(ctx, actorID)
			if err != nil && !errors.Is(err, directory.ErrUserNotFound) {
				return err
			}
			if role != entity.RoleAdmin {
				return errorbank.Forbidden("only the seller or an admin may do this",
					errorbank.WithCode(CodeNotAuthorized),
					errorbank.WithDetail("auction_id", a.ID),
				)
			}
		}

		if !a.Status.CanTransition(next) {
			return errorbank.Conflict("illegal status transition",
				errorbank.WithCode(CodeInvalidTransition),
				errorbank.WithDetail("from", string(a.Status)),
				errorbank.WithDetail("to", string(next)),
			)
		}

		leader, err := tx.HighestBid(ctx)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(tx, leader); err != nil {
				return err
			}
		}

		agents, err := tx.ActiveAutoBids(ctx)
		if err != nil {
			return err
		}
		for _, ag := range agents {
			if err := tx.DeactivateAutoBid(ctx, ag.ID); err != nil {
				return err
			}
		}
		if err := tx.ClearTimer(ctx); err != nil {
			return err
		}

		a.Status = next
		a.UpdatedAt = s.now()
		return tx.SaveAuction(ctx)
	})
	if errors.Is(err, auctionrepo.ErrNotFound) {
		return errorbank.NotFound("auction not found",
			errorbank.WithCode(CodeAuctionNotFound),
			errorbank.WithDetail("auction_id", auctionID),
		)
	}
	return err
}

// ActivateDue moves PENDING auctions whose start time has passed to
// ACTIVE and arms their finalize timers. Returns how many activated.
func (s *Service) ActivateDue(ctx context.Context, limit int) (int, error) {
	ctx, span := tracer.Start(ctx, "AuctionService.ActivateDue")
	defer span.End()

	now := s.now()
	ids, err := s.store.DuePending(ctx, now, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list due pending failed")
		return 0, err
	}

	activated := 0
	for _, id := range ids {
		err := s.store.WithAuctionLock(ctx, id, func(ctx context.Context, tx auctionrepo.Tx) error {
			a := tx.Auction()
			now := s.now()
			if a.Status != entity.StatusPending || now.Before(a.StartTime) {
				return nil
			}
			a.Status = entity.StatusActive
			a.UpdatedAt = now
			if err := tx.ArmTimer(ctx, a.EndTime); err != nil {
				return err
			}
			return tx.SaveAuction(ctx)
		})
		if err != nil {
			s.logger.Error("activate auction failed", zap.Int64("auction_id", id), zap.Error(err))
			continue
		}
		activated++
		s.invalidate(ctx, id)
		s.publishEvent(ctx, event.AuctionEvent{Type: event.TypeActivated, AuctionID: id, At: now})
	}
	span.SetAttributes(attribute.Int("auctions.activated", activated))
	return activated, nil
}

func (s *Service) invalidate(ctx context.Context, auctionID int64) {
	if err := s.cache.Delete(ctx, CacheKey(auctionID)); err != nil {
		s.logger.Warn("auction cache invalidation failed",
			zap.Int64("auction_id", auctionID), zap.Error(err))
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
