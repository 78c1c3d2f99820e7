package auction

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gavelhq/gavel/internal/database"
	"github.com/gavelhq/gavel/internal/entity"
)

var repoTracer = otel.Tracer("github.com/gavelhq/gavel/repository/auction")

// Repository is the bun-backed Store. Reads that feed a write always run
// on the writer inside the locked transaction; scan queries use the reader.
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

var _ Store = (*Repository)(nil)

// WithAuctionLock opens a transaction, takes a row-level exclusive lock on
// the auction, and runs fn against it. Two concurrent callers for the same
// auction serialize here; callers for different auctions do not contend.
func (r *Repository) WithAuctionLock(ctx context.Context, auctionID int64, fn func(ctx context.Context, tx Tx) error) error {
	ctx, span := repoTracer.Start(ctx, "AuctionRepository.WithAuctionLock", trace.WithAttributes(attribute.Int64("auction.id", auctionID)))
	defer span.End()

	err := r.writer.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		a := new(entity.Auction)
		q := tx.NewSelect().Model(a).Where("id = ?", auctionID)
		// sqlite has no FOR UPDATE; its single-writer model serializes anyway.
		if r.writer.Dialect().Name() != dialect.SQLite {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		return fn(ctx, &bunTx{tx: tx, auction: a})
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "locked transaction failed")
	}
	return err
}

// CreateAuction persists a new listing using the write connection.
func (r *Repository) CreateAuction(ctx context.Context, a *entity.Auction) error {
	if a == nil {
		return errors.New("nil auction")
	}
	ctx, span := repoTracer.Start(ctx, "AuctionRepository.CreateAuction", trace.WithAttributes(attribute.String("auction.title", a.Title)))
	defer span.End()

	_, err := r.writer.NewInsert().Model(a).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetAuction fetches an auction by primary key from the read replica.
func (r *Repository) GetAuction(ctx context.Context, id int64) (*entity.Auction, error) {
	ctx, span := repoTracer.Start(ctx, "AuctionRepository.GetAuction", trace.WithAttributes(attribute.Int64("auction.id", id)))
	defer span.End()

	a := new(entity.Auction)
	err := r.reader.NewSelect().Model(a).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return a, nil
}

// BidsFor returns the ledger oldest-first.
func (r *Repository) BidsFor(ctx context.Context, auctionID int64) ([]entity.Bid, error) {
	ctx, span := repoTracer.Start(ctx, "AuctionRepository.BidsFor", trace.WithAttributes(attribute.Int64("auction.id", auctionID)))
	defer span.End()

	var bids []entity.Bid
	err := r.reader.NewSelect().Model(&bids).
		Where("auction_id = ?", auctionID).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return bids, nil
}

// DueTimers lists auction IDs whose timer has fired. Timers are read
// without claiming: finalization is idempotent and clears or re-arms the
// row itself, so a duplicate fire is a cheap no-op.
func (r *Repository) DueTimers(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.reader.NewSelect().Model((*entity.AuctionTimer)(nil)).
		Column("auction_id").
		Where("fire_at <= ?", now).
		OrderExpr("fire_at ASC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// OverdueActive lists ACTIVE auctions past end_time.
func (r *Repository) OverdueActive(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.reader.NewSelect().Model((*entity.Auction)(nil)).
		Column("id").
		Where("status = ?", entity.StatusActive).
		Where("end_time <= ?", now).
		OrderExpr("end_time ASC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DuePending lists PENDING auctions whose start_time has passed.
func (r *Repository) DuePending(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.reader.NewSelect().Model((*entity.Auction)(nil)).
		Column("id").
		Where("status = ?", entity.StatusPending).
		Where("start_time <= ?", now).
		OrderExpr("start_time ASC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// bunTx implements Tx over an open bun transaction holding the row lock.
type bunTx struct {
	tx      bun.Tx
	auction *entity.Auction
}

func (t *bunTx) Auction() *entity.Auction { return t.auction }

func (t *bunTx) SaveAuction(ctx context.Context) error {
	t.auction.UpdatedAt = time.Now().UTC()
	_, err := t.tx.NewUpdate().Model(t.auction).WherePK().Exec(ctx)
	return err
}

func (t *bunTx) AppendBid(ctx context.Context, bid *entity.Bid) error {
	bid.AuctionID = t.auction.ID
	_, err := t.tx.NewInsert().Model(bid).Exec(ctx)
	return err
}

func (t *bunTx) HighestBid(ctx context.Context) (*entity.Bid, error) {
	bid := new(entity.Bid)
	err := t.tx.NewSelect().Model(bid).
		Where("auction_id = ?", t.auction.ID).
		OrderExpr("amount DESC, created_at DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return bid, nil
}

func (t *bunTx) ActiveAutoBids(ctx context.Context) ([]*entity.AutoBid, error) {
	var agents []*entity.AutoBid
	err := t.tx.NewSelect().Model(&agents).
		Where("auction_id = ?", t.auction.ID).
		Where("is_active = ?", true).
		OrderExpr("max_amount DESC, updated_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return agents, nil
}

func (t *bunTx) AutoBidFor(ctx context.Context, bidderID int64) (*entity.AutoBid, error) {
	agent := new(entity.AutoBid)
	err := t.tx.NewSelect().Model(agent).
		Where("auction_id = ?", t.auction.ID).
		Where("bidder_id = ?", bidderID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

func (t *bunTx) SaveAutoBid(ctx context.Context, agent *entity.AutoBid) error {
	agent.AuctionID = t.auction.ID
	if agent.ID == 0 {
		_, err := t.tx.NewInsert().Model(agent).Exec(ctx)
		return err
	}
	_, err := t.tx.NewUpdate().Model(agent).WherePK().Exec(ctx)
	return err
}

func (t *bunTx) DeactivateAutoBid(ctx context.Context, agentID int64) error {
	_, err := t.tx.NewUpdate().Model((*entity.AutoBid)(nil)).
		Set("is_active = ?", false).
		Where("id = ?", agentID).
		Exec(ctx)
	return err
}

func (t *bunTx) ArmTimer(ctx context.Context, fireAt time.Time) error {
	timer := &entity.AuctionTimer{AuctionID: t.auction.ID, FireAt: fireAt}
	q := t.tx.NewInsert().Model(timer)
	// mysql spells the upsert differently; postgres and sqlite share
	// the ON CONFLICT form.
	if t.tx.Dialect().Name() == dialect.MySQL {
		q = q.On("DUPLICATE KEY UPDATE").Set("fire_at = VALUES(fire_at)")
	} else {
		q = q.On("CONFLICT (auction_id) DO UPDATE").Set("fire_at = EXCLUDED.fire_at")
	}
	_, err := q.Exec(ctx)
	return err
}

func (t *bunTx) ClearTimer(ctx context.Context) error {
	_, err := t.tx.NewDelete().Model((*entity.AuctionTimer)(nil)).
		Where("auction_id = ?", t.auction.ID).
		Exec(ctx)
	return err
}
