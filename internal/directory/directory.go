// Package directory is the engine's view of the user service: the only
// questions the core ever asks about a person are "is this bidder kicked
// from this auction" and "what role do they hold".
package directory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/gavelhq/gavel/internal/database"
	"github.com/gavelhq/gavel/internal/entity"
)

// ErrUserNotFound is returned when the user does not exist.
var ErrUserNotFound = errors.New("user not found")

// Directory answers identity questions for the bidding engine.
type Directory interface {
	IsBanned(ctx context.Context, userID, auctionID int64) (bool, error)
	Role(ctx context.Context, userID int64) (entity.Role, error)
}

// Module provides the database-backed directory.
var Module = fx.Provide(
	fx.Annotate(NewRepository, fx.As(new(Directory))),
)

// Repository reads users and auction bans from the relational store.
type Repository struct {
	reader *bun.DB
}

// NewRepository wires a directory backed by the read connection.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{reader: conns.Reader}
}

// IsBanned reports whether the seller kicked this bidder from the auction.
func (r *Repository) IsBanned(ctx context.Context, userID, auctionID int64) (bool, error) {
	exists, err := r.reader.NewSelect().Model((*entity.AuctionBan)(nil)).
		Where("auction_id = ?", auctionID).
		Where("user_id = ?", userID).
		Exists(ctx)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Role returns the user's role.
func (r *Repository) Role(ctx context.Context, userID int64) (entity.Role, error) {
	u := new(entity.User)
	err := r.reader.NewSelect().Model(u).Where("id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

// Static is a fixed in-memory Directory for tests and seeds.
type Static struct {
	Bans  map[[2]int64]bool // [userID, auctionID]
	Roles map[int64]entity.Role
}

// NewStatic returns an empty static directory; every user is allowed and
// unknown users default to the bidder role.
func NewStatic() *Static {
	return &Static{
		Bans:  make(map[[2]int64]bool),
		Roles: make(map[int64]entity.Role),
	}
}

// Ban marks a bidder as kicked from one auction.
func (s *Static) Ban(userID, auctionID int64) {
	s.Bans[[2]int64{userID, auctionID}] = true
}

func (s *Static) IsBanned(_ context.Context, userID, auctionID int64) (bool, error) {
	return s.Bans[[2]int64{userID, auctionID}], nil
}

func (s *Static) Role(_ context.Context, userID int64) (entity.Role, error) {
	if role, ok := s.Roles[userID]; ok {
		return role, nil
	}
	return entity.RoleBidder, nil
}
