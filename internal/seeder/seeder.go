package seeder

import (
	"context"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gavelhq/gavel/internal/database"
	"github.com/gavelhq/gavel/internal/entity"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, logger: logger}
}

// Users seeds a seller, two bidders, and an admin if they are missing.
func (s *Seeder) Users(ctx context.Context) error {
	now := time.Now().UTC()
	samples := []entity.User{
		{ID: 1, Username: "alice-sells", Role: entity.RoleSeller, CreatedAt: now},
		{ID: 2, Username: "bob-bids", Role: entity.RoleBidder, CreatedAt: now},
		{ID: 3, Username: "carol-bids", Role: entity.RoleBidder, CreatedAt: now},
		{ID: 4, Username: "ops-admin", Role: entity.RoleAdmin, CreatedAt: now},
	}

	for _, sample := range samples {
		user := sample
		if err := s.insertIgnore(ctx, &user); err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded users", zap.Int("count", len(samples)))
	}
	return nil
}

// Auctions seeds example listings against the seeded seller.
func (s *Seeder) Auctions(ctx context.Context) error {
	now := time.Now().UTC()
	samples := []entity.Auction{
		{
			ID:           1,
			SellerID:     1,
			Title:        "Vintage mechanical keyboard",
			StartPrice:   1000,
			StepPrice:    100,
			StartTime:    now,
			EndTime:      now.Add(24 * time.Hour),
			IsAutoExtend: true,
			Status:       entity.StatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		{
			ID:          2,
			SellerID:    1,
			Title:       "Signed first edition",
			StartPrice:  5000,
			StepPrice:   500,
			BuyNowPrice: 20000,
			StartTime:   now.Add(time.Hour),
			EndTime:     now.Add(48 * time.Hour),
			Status:      entity.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}

	for _, sample := range samples {
		auction := sample
		if err := s.insertIgnore(ctx, &auction); err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded auctions", zap.Int("count", len(samples)))
	}
	return nil
}

func (s *Seeder) insertIgnore(ctx context.Context, model interface{}) error {
	q := s.db.NewInsert().Model(model)
	if s.db.Dialect().Name() == dialect.MySQL {
		q = q.Ignore()
	} else {
		q = q.On("CONFLICT (id) DO NOTHING")
	}
	_, err := q.Exec(ctx)
	return err
}
