// Package order consumes finalization intents and materializes the
// downstream purchase record for each sold auction.
package order

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gavelhq/gavel/internal/config"
	"github.com/gavelhq/gavel/internal/entity"
	"github.com/gavelhq/gavel/internal/event"
	"github.com/gavelhq/gavel/internal/messaging"
	orderrepo "github.com/gavelhq/gavel/internal/repository/order"
	"github.com/gavelhq/gavel/internal/worker"
)

var workerTracer = otel.Tracer("github.com/gavelhq/gavel/worker/order")

// Module registers the order intent consumer.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewOrderIntentHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewOrderIntentHandler consumes order intents from finalization. The
// handler is idempotent: a replayed intent finds the existing order via
// the unique auction index and commits without a second insert.
func NewOrderIntentHandler(repo *orderrepo.Repository, logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.process", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var intent event.OrderIntent
		if err := json.Unmarshal(msg.Value, &intent); err != nil {
			logger.Error("failed to decode order intent", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			// A malformed intent never becomes valid; drop it.
			return nil
		}

		created, err := repo.CreateFromIntent(ctx, &entity.Order{
			AuctionID:  intent.AuctionID,
			WinnerID:   intent.WinnerID,
			SellerID:   intent.SellerID,
			FinalPrice: intent.FinalPrice,
			Status:     entity.OrderStatusPending,
			CreatedAt:  intent.SoldAt,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "create order failed")
			return err
		}

		if created {
			logger.Info("order created from intent",
				zap.Int64("auction_id", intent.AuctionID),
				zap.Int64("winner_id", intent.WinnerID),
				zap.Int64("final_price", intent.FinalPrice),
			)
		} else {
			logger.Debug("order intent replayed; order already exists",
				zap.Int64("auction_id", intent.AuctionID),
			)
		}

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.OrderTopic,
		Handler: handler,
	}
}
