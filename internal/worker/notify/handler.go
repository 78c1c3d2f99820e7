// Package notify consumes auction events and fans them out as user
// notifications. Delivery here is a structured log line; a real channel
// (push, email) would slot in behind the same handler.
package notify

import (
	"context"
	"encoding/json"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gavelhq/gavel/internal/config"
	"github.com/gavelhq/gavel/internal/event"
	"github.com/gavelhq/gavel/internal/messaging"
	"github.com/gavelhq/gavel/internal/worker"
)

// Module registers the auction event consumer.
var Module = fx.Module("worker_notify",
	fx.Provide(
		fx.Annotate(
			NewAuctionEventHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewAuctionEventHandler consumes auction events from the event topic.
func NewAuctionEventHandler(logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		var ev event.AuctionEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			logger.Error("failed to decode auction event", zap.Error(err))

			return nil
		}

		fields := []zap.Field{
			zap.String("type", ev.Type),
			zap.Int64("auction_id", ev.AuctionID),
		}
		if ev.UserID != 0 {
			fields = append(fields, zap.Int64("user_id", ev.UserID))
		}
		if ev.Amount != 0 {
			fields = append(fields, zap.Int64("amount", ev.Amount))
		}
		if ev.EndTime != nil {
			fields = append(fields, zap.Time("end_time", *ev.EndTime))
		}
		logger.Info("auction notification", fields...)

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.EventTopic,
		Handler: handler,
	}
}
