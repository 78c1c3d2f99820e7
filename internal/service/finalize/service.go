// Package finalize settles ended auctions exactly once. The status
// check and the terminal write happen inside the same locked
// transaction, so concurrent timer fire, sweep, and manual calls all
// collapse to a single settlement.
package finalize

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
	"github.com/gavelhq/gavel/internal/entity"
	"github.com/gavelhq/gavel/internal/event"
	"github.com/gavelhq/gavel/internal/messaging"
	auctionrepo "github.com/gavelhq/gavel/internal/repository/auction"
	auctionsvc "github.com/gavelhq/gavel/internal/service/auction"
	"github.com/gavelhq/gavel/pkg/errorbank"
)

var tracer = otel.Tracer("github.com/gavelhq/gavel/service/finalize")

// Result classifies what a finalize call did.
type Result string

const (
	ResultSold    Result = "sold"
	ResultNoSale  Result = "no_sale"
	ResultSkipped Result = "skipped"
)

// Skip reasons for ResultSkipped outcomes.
const (
	ReasonAlreadyFinal = "already_finalized"
	ReasonNotEnded     = "not_ended"
)

// Outcome reports the effect of one finalize call.
type Outcome struct {
	Result     Result `json:"result"`
	Reason     string `json:"reason,omitempty"`
	WinnerID   int64  `json:"winner_id,omitempty"`
	FinalPrice int64  `json:"final_price,omitempty"`
}

const sweepLockName = "gavel:finalize:sweep"

// Params collects the service dependencies.
type Params struct {
	fx.In

	Store     auctionrepo.Store
	Cache     cache.Store
	Locker    cache.Locker
	Publisher messaging.Client
	Config    config.Config
	Logger    *zap.Logger
}

// Service settles auctions and emits downstream order intents.
type Service struct {
	store     auctionrepo.Store
	cache     cache.Store
	locker    cache.Locker
	publisher messaging.Client
	logger    *zap.Logger

	orderTopic   string
	eventTopic   string
	sweepLockTTL time.Duration
	batchSize    int

	now func() time.Time
}

// NewService constructs the finalize service.
func NewService(p Params) *Service {
	return &Service{
		store:        p.Store,
		cache:        p.Cache,
		locker:       p.Locker,
		publisher:    p.Publisher,
		logger:       p.Logger,
		orderTopic:   p.Config.Messaging.Kafka.OrderTopic,
		eventTopic:   p.Config.Messaging.Kafka.EventTopic,
		sweepLockTTL: p.Config.Scheduler.SweepLockTTL,
		batchSize:    p.Config.Scheduler.BatchSize,
		now:          time.Now,
	}
}

// Finalize settles one auction. Safe to call any number of times from
// any caller: a non-ACTIVE auction is skipped, an auction whose (possibly
// extended) deadline has not passed re-arms its timer and is skipped.
// A won auction moves to SOLD and publishes exactly one order intent per
// settlement; an empty ledger moves to NO_SALE.
func (s *Service) Finalize(ctx context.Context, auctionID int64) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "FinalizeService.Finalize", trace.WithAttributes(
		attribute.Int64("auction.id", auctionID),
	))
	defer span.End()

	var (
		outcome Outcome
		intent  *event.OrderIntent
		closed  *event.AuctionEvent
	)
	err := s.store.WithAuctionLock(ctx, auctionID, func(ctx context.Context, tx auctionrepo.Tx) error {
		now := s.now()
		a := tx.Auction()

		if a.Status != entity.StatusActive {
			outcome = Outcome{Result: ResultSkipped, Reason: ReasonAlreadyFinal}
			// A terminal auction keeps no timer; clearing here absorbs a
			// stale row left by a lost crash window.
			return tx.ClearTimer(ctx)
		}

		if now.Before(a.EndTime) {
			// The deadline moved after this timer was scheduled, usually
			// by a soft-close extension. Chase the new deadline.
			outcome = Outcome{Result: ResultSkipped, Reason: ReasonNotEnded}
			return tx.ArmTimer(ctx, a.EndTime)
		}

		leader, err := tx.HighestBid(ctx)
		if err != nil {
			return err
		}

		// Settlement stamps the actual close instant, which for swept
		// auctions is later than the scheduled deadline.
		a.EndTime = now

		if leader == nil {
			a.Status = entity.StatusNoSale
			outcome = Outcome{Result: ResultNoSale}
		} else {
			a.Status = entity.StatusSold
			a.WinnerID = leader.BidderID
			a.CurrentPrice = leader.Amount
			outcome = Outcome{Result: ResultSold, WinnerID: leader.BidderID, FinalPrice: leader.Amount}

			intent = &event.OrderIntent{
				AuctionID:  a.ID,
				WinnerID:   leader.BidderID,
				SellerID:   a.SellerID,
				FinalPrice: leader.Amount,
				SoldAt:     now,
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

		a.UpdatedAt = now
		ev := event.AuctionEvent{
			Type: event.TypeClosed, AuctionID: a.ID, UserID: a.WinnerID, Amount: a.CurrentPrice, At: now,
		}
		closed = &ev
		return tx.SaveAuction(ctx)
	})
	if errors.Is(err, auctionrepo.ErrNotFound) {
		return Outcome{}, errorbank.NotFound("auction not found",
			errorbank.WithCode(auctionsvc.CodeAuctionNotFound),
			errorbank.WithDetail("auction_id", auctionID),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize failed")
		return Outcome{}, err
	}
	span.SetAttributes(attribute.String("finalize.result", string(outcome.Result)))

	if outcome.Result == ResultSkipped {
		return outcome, nil
	}

	// Post-commit side effects. The intent publish is at most once per
	// settlement; if it is lost here the sweep will not retry it, and the
	// order consumer's unique index absorbs any broker-level duplicate.
	if intent != nil {
		s.publishIntent(ctx, intent)
	}
	if closed != nil {
		s.publishEvent(ctx, *closed)
	}
	if err := s.cache.Delete(ctx, auctionsvc.CacheKey(auctionID)); err != nil {
		s.logger.Warn("auction cache invalidation failed",
			zap.Int64("auction_id", auctionID), zap.Error(err))
	}

	s.logger.Info("auction finalized",
		zap.Int64("auction_id", auctionID),
		zap.String("result", string(outcome.Result)),
		zap.Int64("winner_id", outcome.WinnerID),
		zap.Int64("final_price", outcome.FinalPrice),
	)
	return outcome, nil
}

// Due settles every auction whose persisted timer has fired.
func (s *Service) Due(ctx context.Context) (int, error) {
	ids, err := s.store.DueTimers(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, err
	}
	return s.finalizeAll(ctx, ids), nil
}

// Sweep reconciles ACTIVE auctions stuck past their deadline, catching
// timers lost to crashes. A distributed lock keeps concurrent workers
// from sweeping the same batch.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "FinalizeService.Sweep")
	defer span.End()

	release, err := s.locker.Acquire(ctx, sweepLockName, s.sweepLockTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		return 0, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep lock failed")
		return 0, err
	}
	defer release()

	ids, err := s.store.OverdueActive(ctx, s.now(), s.batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list overdue failed")
		return 0, err
	}
	if len(ids) > 0 {
		s.logger.Warn("sweep found overdue active auctions", zap.Int("count", len(ids)))
	}

	settled := s.finalizeAll(ctx, ids)
	span.SetAttributes(attribute.Int("auctions.settled", settled))
	return settled, nil
}

func (s *Service) finalizeAll(ctx context.Context, ids []int64) int {
	settled := 0
	for _, id := range ids {
		outcome, err := s.Finalize(ctx, id)
		if err != nil {
			s.logger.Error("finalize failed", zap.Int64("auction_id", id), zap.Error(err))
			continue
		}
		if outcome.Result != ResultSkipped {
			settled++
		}
	}
	return settled
}

func (s *Service) publishIntent(ctx context.Context, intent *event.OrderIntent) {
	payload, err := json.Marshal(intent)
	if err != nil {
		s.logger.Error("marshal order intent", zap.Int64("auction_id", intent.AuctionID), zap.Error(err))
		return
	}
	key := []byte(strconv.FormatInt(intent.AuctionID, 10))
	if err := s.publisher.Publish(ctx, s.orderTopic, key, payload); err != nil {
		s.logger.Error("order intent publish failed",
			zap.Int64("auction_id", intent.AuctionID), zap.Error(err))
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
