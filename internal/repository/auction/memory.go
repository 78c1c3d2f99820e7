package auction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gavelhq/gavel/internal/entity"
)

// MemoryStore is a concurrency-safe in-memory Store used by tests. It
// reproduces the bun repository's ordering rules and per-auction
// serialization; it does not attempt rollback, since services validate
// before their first write.
type MemoryStore struct {
	mu       sync.Mutex
	locks    map[int64]*sync.Mutex
	auctions map[int64]entity.Auction
	bids     map[int64][]entity.Bid
	agents   map[int64][]entity.AutoBid
	timers   map[int64]time.Time
	nextID   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:    make(map[int64]*sync.Mutex),
		auctions: make(map[int64]entity.Auction),
		bids:     make(map[int64][]entity.Bid),
		agents:   make(map[int64][]entity.AutoBid),
		timers:   make(map[int64]time.Time),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) nextSeq() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) lockFor(auctionID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[auctionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[auctionID] = l
	}
	return l
}

// WithAuctionLock serializes callers per auction with a plain mutex.
func (m *MemoryStore) WithAuctionLock(ctx context.Context, auctionID int64, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	_, ok := m.auctions[auctionID]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	l := m.lockFor(auctionID)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	row := m.auctions[auctionID]
	m.mu.Unlock()

	return fn(ctx, &memTx{store: m, auction: &row})
}

func (m *MemoryStore) CreateAuction(_ context.Context, a *entity.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		a.ID = m.nextSeq()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.auctions[a.ID] = *a
	return nil
}

func (m *MemoryStore) GetAuction(_ context.Context, id int64) (*entity.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *MemoryStore) BidsFor(_ context.Context, auctionID int64) ([]entity.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]entity.Bid(nil), m.bids[auctionID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) DueTimers(_ context.Context, now time.Time, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, at := range m.timers {
		if !at.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *MemoryStore) OverdueActive(_ context.Context, now time.Time, limit int) ([]int64, error) {
	return m.scanAuctions(limit, func(a entity.Auction) bool {
		return a.Status == entity.StatusActive && !a.EndTime.After(now)
	})
}

func (m *MemoryStore) DuePending(_ context.Context, now time.Time, limit int) ([]int64, error) {
	return m.scanAuctions(limit, func(a entity.Auction) bool {
		return a.Status == entity.StatusPending && !a.StartTime.After(now)
	})
}

func (m *MemoryStore) scanAuctions(limit int, match func(entity.Auction) bool) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, a := range m.auctions {
		if match(a) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// AgentFor returns the stored proxy agent for assertions in tests.
func (m *MemoryStore) AgentFor(auctionID, bidderID int64) (entity.AutoBid, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ag := range m.agents[auctionID] {
		if ag.BidderID == bidderID {
			return ag, true
		}
	}
	return entity.AutoBid{}, false
}

// TimerFor returns the armed finalize timer for assertions in tests.
func (m *MemoryStore) TimerFor(auctionID int64) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.timers[auctionID]
	return at, ok
}

type memTx struct {
	store   *MemoryStore
	auction *entity.Auction
}

func (t *memTx) Auction() *entity.Auction { return t.auction }

func (t *memTx) SaveAuction(context.Context) error {
	t.auction.UpdatedAt = time.Now().UTC()
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.auctions[t.auction.ID] = *t.auction
	return nil
}

func (t *memTx) AppendBid(_ context.Context, bid *entity.Bid) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	bid.AuctionID = t.auction.ID
	if bid.ID == 0 {
		bid.ID = t.store.nextSeq()
	}
	t.store.bids[t.auction.ID] = append(t.store.bids[t.auction.ID], *bid)
	return nil
}

func (t *memTx) HighestBid(context.Context) (*entity.Bid, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	bids := t.store.bids[t.auction.ID]
	if len(bids) == 0 {
		return nil, nil
	}
	best := bids[0]
	for _, b := range bids[1:] {
		if b.Amount > best.Amount ||
			(b.Amount == best.Amount && b.CreatedAt.After(best.CreatedAt)) ||
			(b.Amount == best.Amount && b.CreatedAt.Equal(best.CreatedAt) && b.ID > best.ID) {
			best = b
		}
	}
	out := best
	return &out, nil
}

func (t *memTx) ActiveAutoBids(context.Context) ([]*entity.AutoBid, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var out []*entity.AutoBid
	for _, ag := range t.store.agents[t.auction.ID] {
		if ag.IsActive {
			cp := ag
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MaxAmount != out[j].MaxAmount {
			return out[i].MaxAmount > out[j].MaxAmount
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) AutoBidFor(_ context.Context, bidderID int64) (*entity.AutoBid, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, ag := range t.store.agents[t.auction.ID] {
		if ag.BidderID == bidderID {
			cp := ag
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) SaveAutoBid(_ context.Context, agent *entity.AutoBid) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	agent.AuctionID = t.auction.ID
	agents := t.store.agents[t.auction.ID]
	if agent.ID == 0 {
		agent.ID = t.store.nextSeq()
		t.store.agents[t.auction.ID] = append(agents, *agent)
		return nil
	}
	for i := range agents {
		if agents[i].ID == agent.ID {
			agents[i] = *agent
			return nil
		}
	}
	t.store.agents[t.auction.ID] = append(agents, *agent)
	return nil
}

func (t *memTx) DeactivateAutoBid(_ context.Context, agentID int64) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	agents := t.store.agents[t.auction.ID]
	for i := range agents {
		if agents[i].ID == agentID {
			agents[i].IsActive = false
			return nil
		}
	}
	return nil
}

func (t *memTx) ArmTimer(_ context.Context, fireAt time.Time) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.timers[t.auction.ID] = fireAt
	return nil
}

func (t *memTx) ClearTimer(context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	delete(t.store.timers, t.auction.ID)
	return nil
}
