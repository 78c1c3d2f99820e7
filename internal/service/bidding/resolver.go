package bidding

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gavelhq/gavel/internal/entity"
	"github.com/gavelhq/gavel/internal/event"
	auctionrepo "github.com/gavelhq/gavel/internal/repository/auction"
)

// resolve runs standing proxy agents to their fixed point while the
// auction row lock is held. Each round the highest-capped challenger
// counters with the smallest amount that both clears the minimum raise
// and exceeds the leader's own ceiling by one step, capped at the
// challenger's ceiling. At a shared ceiling the agent with the earlier
// priority ends up holding the lead: equal amounts rank by recency in
// the ledger, so the earlier agent re-takes the front by matching the
// ceiling once.
//
// Returns the number of bids placed. The caller persists the auction
// row afterwards.
func (s *Service) resolve(ctx context.Context, tx auctionrepo.Tx, now time.Time, events *[]event.AuctionEvent) (int, error) {
	a := tx.Auction()
	placed := 0

	for round := 0; ; round++ {
		agents, err := tx.ActiveAutoBids(ctx)
		if err != nil {
			return placed, err
		}
		if len(agents) == 0 {
			return placed, nil
		}
		// Every productive round either raises the price against a
		// bounded ceiling or strictly improves the leading priority, so
		// this bound is never hit on well-formed data.
		if round > 2*len(agents)+4 {
			s.logger.Error("proxy resolution did not converge", zap.Int64("auction_id", a.ID))
			return placed, nil
		}

		leader, err := tx.HighestBid(ctx)
		if err != nil {
			return placed, err
		}

		// Agents arrive ordered by ceiling desc, priority asc. The top
		// challenger is the first agent not owned by the current leader.
		var top, leaderAgent *entity.AutoBid
		for _, ag := range agents {
			if leader != nil && ag.BidderID == leader.BidderID {
				if leaderAgent == nil {
					leaderAgent = ag
				}
				continue
			}
			if top == nil {
				top = ag
			}
		}
		if top == nil {
			return placed, nil
		}

		minRaise := a.MinimumBid(leader != nil)

		var amount int64
		switch {
		case top.MaxAmount >= minRaise:
			amount = minRaise
			if leaderAgent != nil {
				counter := leaderAgent.MaxAmount + a.StepPrice
				if counter > top.MaxAmount {
					counter = top.MaxAmount
				}
				if counter > amount {
					amount = counter
				}
			}
		case leaderAgent != nil && top.MaxAmount == leaderAgent.MaxAmount && outranks(top, leaderAgent):
			amount = top.MaxAmount
		default:
			return placed, nil
		}

		bid := &entity.Bid{
			AuctionID: a.ID,
			BidderID:  top.BidderID,
			Amount:    amount,
			IsAutoBid: true,
			CreatedAt: now,
		}
		if err := tx.AppendBid(ctx, bid); err != nil {
			return placed, err
		}
		if amount > a.CurrentPrice {
			a.CurrentPrice = amount
		}
		placed++

		if leader != nil && events != nil {
			*events = append(*events, event.AuctionEvent{
				Type:      event.TypeOutbid,
				AuctionID: a.ID,
				UserID:    leader.BidderID,
				Amount:    amount,
				At:        now,
			})
		}
	}
}

// outranks reports whether agent a holds strictly earlier tie-break
// priority than agent b.
func outranks(a, b *entity.AutoBid) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.ID < b.ID
}
