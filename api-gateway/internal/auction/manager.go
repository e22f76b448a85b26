// Package auction is the live auction engine: one actor goroutine per
// running stream auction, supervised by a Manager.
package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aaronwang/live-auction/shared/models"
)

// Deps are the collaborators shared by every actor.
type Deps struct {
	Ledger   Ledger
	Catalog  Catalog
	Store    StateStore
	Sink     EventSink
	Notifier Notifier
	Clock    Clock
	Policy   Policy
	Logger   *slog.Logger
}

// StartOptions are the host's overrides. Nil fields fall back to the
// catalog slot and then to the policy defaults.
type StartOptions struct {
	Duration      time.Duration
	StartingBid   *models.Money
	BidIncrement  *models.Money
	ReservePrice  *models.Money
	BuyItNowPrice *models.Money
	ExtendOnBid   *bool
}

// Manager routes commands to the actor owning each stream and guarantees
// at most one live actor per stream.
type Manager struct {
	policy   Policy
	ledger   Ledger
	catalog  Catalog
	store    StateStore
	sink     EventSink
	notifier Notifier
	clock    Clock
	log      *slog.Logger

	mu     sync.Mutex
	actors map[string]*actor
	starts map[string]*streamLock
	closed bool
}

type streamLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a manager with no live auctions.
func NewManager(d Deps) *Manager {
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Manager{
		policy:   d.Policy,
		ledger:   d.Ledger,
		catalog:  d.Catalog,
		store:    d.Store,
		sink:     d.Sink,
		notifier: d.Notifier,
		clock:    d.Clock,
		log:      d.Logger.With(slog.String("component", "auction")),
		actors:   make(map[string]*actor),
		starts:   make(map[string]*streamLock),
	}
}

// StartAuction opens an auction for productID in streamID. A live auction
// on the same stream is cancelled, and fully terminated, first.
func (m *Manager) StartAuction(ctx context.Context, hostID, streamID, productID string, opts StartOptions) (*models.AuctionSnapshot, error) {
	if err := m.checkHost(ctx, hostID, streamID); err != nil {
		return nil, err
	}

	slot, err := m.catalog.StreamProduct(ctx, streamID, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: load stream product: %v", ErrUnavailable, err)
	}
	if slot == nil {
		return nil, ErrProductNotInStream
	}
	if slot.IsSold {
		return nil, fmt.Errorf("%w: product already sold", ErrProductNotInStream)
	}

	s, err := m.settingsFor(streamID, productID, slot, opts)
	if err != nil {
		return nil, err
	}

	unlock := m.lockStream(streamID)
	defer unlock()

	if err := m.cancelExisting(ctx, streamID); err != nil {
		return nil, err
	}

	if err := m.catalog.ActivateSlot(ctx, slot.ID, s.startingBid, s.increment); err != nil {
		return nil, fmt.Errorf("%w: activate slot: %v", ErrUnavailable, err)
	}

	a := newActor(s, m)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: shutting down", ErrUnavailable)
	}
	m.actors[streamID] = a
	m.mu.Unlock()

	return a.begin(), nil
}

func (m *Manager) settingsFor(streamID, productID string, slot *models.StreamProduct, opts StartOptions) (settings, error) {
	s := settings{
		streamID:    streamID,
		productID:   productID,
		slotID:      slot.ID,
		duration:    m.policy.DefaultDuration,
		startingBid: m.policy.DefaultStartingBid,
		increment:   m.policy.DefaultIncrement,
		extendOnBid: true,
	}
	if opts.BuyItNowPrice != nil {
		s.buyNow = models.MoneyPtr(*opts.BuyItNowPrice)
	}
	if opts.Duration != 0 {
		s.duration = opts.Duration
	}
	switch {
	case opts.StartingBid != nil:
		s.startingBid = *opts.StartingBid
	case slot.StartingBid != nil:
		s.startingBid = *slot.StartingBid
	}
	switch {
	case opts.BidIncrement != nil:
		s.increment = *opts.BidIncrement
	case slot.BidIncrement != nil:
		s.increment = *slot.BidIncrement
	}
	if opts.ReservePrice != nil {
		s.reserve = *opts.ReservePrice
	}
	if opts.ExtendOnBid != nil {
		s.extendOnBid = *opts.ExtendOnBid
	}

	switch {
	case s.duration <= 0:
		return s, fmt.Errorf("%w: duration must be positive", ErrInvalidOptions)
	case s.duration < m.policy.MinDuration:
		return s, fmt.Errorf("%w: duration must be at least %s", ErrInvalidOptions, m.policy.MinDuration)
	case s.startingBid < 0:
		return s, fmt.Errorf("%w: starting bid must not be negative", ErrInvalidOptions)
	case s.increment <= 0:
		return s, fmt.Errorf("%w: bid increment must be positive", ErrInvalidOptions)
	case s.reserve < 0:
		return s, fmt.Errorf("%w: reserve price must not be negative", ErrInvalidOptions)
	case s.buyNow != nil && *s.buyNow <= s.startingBid:
		return s, fmt.Errorf("%w: buy it now price must exceed the starting bid", ErrInvalidOptions)
	}
	return s, nil
}

// cancelExisting ends the stream's live auction with reason cancelled and
// waits for its actor to exit and its store writes to land, so the old
// auction's cleanup cannot erase the new auction's state.
func (m *Manager) cancelExisting(ctx context.Context, streamID string) error {
	m.mu.Lock()
	old := m.actors[streamID]
	m.mu.Unlock()
	if old == nil {
		return nil
	}

	if _, err := m.end(ctx, old, models.EndReasonCancelled); err != nil && !errors.Is(err, ErrAuctionNotActive) {
		return err
	}
	return old.wait(ctx)
}

// PlaceBid submits a manual bid.
func (m *Manager) PlaceBid(ctx context.Context, streamID, userID string, amount models.Money) (*models.BidResponse, error) {
	a, err := m.lookup(streamID)
	if err != nil {
		return nil, err
	}
	reply := make(chan bidReply, 1)
	if err := a.send(ctx, placeBidCmd{userID: userID, amount: amount, reply: reply}); err != nil {
		return nil, err
	}
	r, err := await(ctx, a, reply)
	if err != nil {
		return nil, err
	}
	return r.resp, r.err
}

// SetAutoBid registers or replaces userID's proxy ceiling.
func (m *Manager) SetAutoBid(ctx context.Context, streamID, userID string, max models.Money) (*models.BidResponse, error) {
	a, err := m.lookup(streamID)
	if err != nil {
		return nil, err
	}
	reply := make(chan bidReply, 1)
	if err := a.send(ctx, setAutoBidCmd{userID: userID, max: max, reply: reply}); err != nil {
		return nil, err
	}
	r, err := await(ctx, a, reply)
	if err != nil {
		return nil, err
	}
	return r.resp, r.err
}

// CancelAutoBid removes userID's proxy ceiling. Standing bids are kept.
func (m *Manager) CancelAutoBid(ctx context.Context, streamID, userID string) error {
	a, err := m.lookup(streamID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := a.send(ctx, cancelAutoBidCmd{userID: userID, reply: reply}); err != nil {
		return err
	}
	r, err := await(ctx, a, reply)
	if err != nil {
		return err
	}
	return r
}

// BuyItNow ends the auction immediately with userID as the buyer.
func (m *Manager) BuyItNow(ctx context.Context, streamID, userID string) (*models.BuyNowResponse, error) {
	a, err := m.lookup(streamID)
	if err != nil {
		return nil, err
	}
	reply := make(chan buyNowReply, 1)
	if err := a.send(ctx, buyNowCmd{userID: userID, reply: reply}); err != nil {
		return nil, err
	}
	r, err := await(ctx, a, reply)
	if err != nil {
		return nil, err
	}
	return r.resp, r.err
}

// EndAuction is the host's early close. Hosts may end with reason sold or
// cancelled; both resolve the winner against the reserve.
func (m *Manager) EndAuction(ctx context.Context, callerID, streamID string, reason models.EndReason) (*models.AuctionOutcome, error) {
	if reason != models.EndReasonSold && reason != models.EndReasonCancelled {
		return nil, ErrInvalidReason
	}
	if err := m.checkHost(ctx, callerID, streamID); err != nil {
		return nil, err
	}
	a, err := m.lookup(streamID)
	if err != nil {
		return nil, err
	}
	return m.end(ctx, a, reason)
}

func (m *Manager) end(ctx context.Context, a *actor, reason models.EndReason) (*models.AuctionOutcome, error) {
	reply := make(chan endReply, 1)
	if err := a.send(ctx, endCmd{reason: reason, reply: reply}); err != nil {
		return nil, err
	}
	r, err := await(ctx, a, reply)
	if err != nil {
		return nil, err
	}
	return r.outcome, r.err
}

// GetState returns the live snapshot, or an inactive marker when the
// stream has no running auction.
func (m *Manager) GetState(ctx context.Context, streamID string) (*models.AuctionSnapshot, error) {
	inactive := &models.AuctionSnapshot{StreamID: streamID}
	a, err := m.lookup(streamID)
	if errors.Is(err, ErrNotFound) {
		return inactive, nil
	}
	reply := make(chan *models.AuctionSnapshot, 1)
	if err := a.send(ctx, snapshotCmd{reply: reply}); err != nil {
		if errors.Is(err, ErrAuctionNotActive) {
			return inactive, nil
		}
		return nil, err
	}
	snap, err := await(ctx, a, reply)
	if errors.Is(err, ErrAuctionNotActive) {
		return inactive, nil
	}
	return snap, err
}

// BidHistory lists the ledger bids for one product in one stream.
func (m *Manager) BidHistory(ctx context.Context, streamID, productID string) ([]models.Bid, error) {
	bids, err := m.ledger.BidsForAuction(ctx, models.AuctionKey(streamID, productID))
	if err != nil {
		return nil, fmt.Errorf("%w: list bids: %v", ErrUnavailable, err)
	}
	return bids, nil
}

// LiveCount returns the number of running auctions.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actors)
}

// Shutdown cancels every live auction and waits for the actors to exit.
// No auction can be started afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make([]*actor, 0, len(m.actors))
	for _, a := range m.actors {
		live = append(live, a)
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, a := range live {
		a := a
		g.Go(func() error {
			if _, err := m.end(ctx, a, models.EndReasonCancelled); err != nil && !errors.Is(err, ErrAuctionNotActive) {
				return fmt.Errorf("stream %s: %w", a.streamID, err)
			}
			return a.wait(ctx)
		})
	}
	return g.Wait()
}

func (m *Manager) checkHost(ctx context.Context, callerID, streamID string) error {
	host, err := m.catalog.StreamHost(ctx, streamID)
	if err != nil {
		return fmt.Errorf("%w: load stream host: %v", ErrUnavailable, err)
	}
	// nobody hosts an unknown stream
	if host == "" {
		return ErrNotHost
	}
	if host != callerID {
		return ErrNotHost
	}
	return nil
}

func (m *Manager) lookup(streamID string) (*actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[streamID]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

// retire is called by an actor from its own goroutine once it terminated.
func (m *Manager) retire(a *actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actors[a.streamID] == a {
		delete(m.actors, a.streamID)
	}
}

// lockStream serializes StartAuction per stream so a replacement cannot
// interleave with another start on the same stream.
func (m *Manager) lockStream(streamID string) func() {
	m.mu.Lock()
	l, ok := m.starts[streamID]
	if !ok {
		l = &streamLock{}
		m.starts[streamID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.starts, streamID)
		}
		m.mu.Unlock()
	}
}
