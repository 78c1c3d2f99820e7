package order

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gavelhq/gavel/internal/database"
	"github.com/gavelhq/gavel/internal/entity"
)

var repoTracer = otel.Tracer("github.com/gavelhq/gavel/repository/order")

// ErrNotFound is returned when an order is missing.
var ErrNotFound = errors.New("order not found")

// Repository persists downstream orders created from finalization intents.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// CreateFromIntent inserts the order for an auction if none exists yet.
// The unique index on auction_id absorbs replayed intents, so consuming
// the same intent twice creates exactly one order. Returns true when a
// row was actually written.
func (r *Repository) CreateFromIntent(ctx context.Context, o *entity.Order) (bool, error) {
	if o == nil {
		return false, errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.CreateFromIntent", trace.WithAttributes(attribute.Int64("auction.id", o.AuctionID)))
	defer span.End()

	q := r.writer.NewInsert().Model(o)
	if r.writer.Dialect().Name() == dialect.MySQL {
		q = q.Ignore()
	} else {
		q = q.On("CONFLICT (auction_id) DO NOTHING")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetByAuction fetches the order created for an auction, if any.
func (r *Repository) GetByAuction(ctx context.Context, auctionID int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByAuction", trace.WithAttributes(attribute.Int64("auction.id", auctionID)))
	defer span.End()

	o := new(entity.Order)
	err := r.reader.NewSelect().Model(o).Where("auction_id = ?", auctionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return o, nil
}
