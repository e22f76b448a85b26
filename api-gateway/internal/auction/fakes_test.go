package auction

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aaronwang/live-auction/shared/models"
)

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

// fakeClock fires timers synchronously from Advance, in deadline order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	pending := !t.stopped && !t.fired
	t.stopped = true
	return pending
}

// Advance moves the clock forward, firing due timers one at a time.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

type fakeLedger struct {
	mu          sync.Mutex
	bids        map[string]*models.Bid
	order       []string
	settlements []*Settlement
	recordErr   func(*models.Bid) error
	settleErr   error
}

func newFakeLedger() *fakeLedger { return &fakeLedger{bids: make(map[string]*models.Bid)} }

func (l *fakeLedger) RecordBid(_ context.Context, bid *models.Bid, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recordErr != nil {
		if err := l.recordErr(bid); err != nil {
			return err
		}
	}
	l.outbidLocked(bid.AuctionID)
	cp := *bid
	l.bids[bid.ID] = &cp
	l.order = append(l.order, bid.ID)
	return nil
}

func (l *fakeLedger) outbidLocked(auctionID string) {
	for _, b := range l.bids {
		if b.AuctionID == auctionID && b.Status == models.BidStatusActive {
			b.Status = models.BidStatusOutbid
		}
	}
}

func (l *fakeLedger) Settle(_ context.Context, s *Settlement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.settleErr != nil {
		return l.settleErr
	}
	if s.NewBid != nil {
		l.outbidLocked(s.AuctionID)
		cp := *s.NewBid
		l.bids[cp.ID] = &cp
		l.order = append(l.order, cp.ID)
	}
	if b, ok := l.bids[s.WinningBidID]; ok {
		b.Status = models.BidStatusWon
	}
	if b, ok := l.bids[s.StandingBidID]; ok && b.Status == models.BidStatusActive {
		b.Status = models.BidStatusOutbid
	}
	l.settlements = append(l.settlements, s)
	return nil
}

func (l *fakeLedger) BidsForAuction(_ context.Context, auctionID string) ([]models.Bid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Bid
	for i := len(l.order) - 1; i >= 0; i-- {
		if b := l.bids[l.order[i]]; b.AuctionID == auctionID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (l *fakeLedger) setSettleErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settleErr = err
}

// withStatus counts the auction's bids in the given status.
func (l *fakeLedger) withStatus(auctionID string, status models.BidStatus) []models.Bid {
	bids, _ := l.BidsForAuction(context.Background(), auctionID)
	var out []models.Bid
	for _, b := range bids {
		if b.Status == status {
			out = append(out, b)
		}
	}
	return out
}

type fakeCatalog struct {
	mu        sync.Mutex
	hosts     map[string]string
	slots     map[string]*models.StreamProduct
	activated []string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{hosts: make(map[string]string), slots: make(map[string]*models.StreamProduct)}
}

func (c *fakeCatalog) addStream(streamID, hostID string, productIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts[streamID] = hostID
	for _, p := range productIDs {
		c.slots[models.AuctionKey(streamID, p)] = &models.StreamProduct{
			ID:        "slot-" + p,
			StreamID:  streamID,
			ProductID: p,
		}
	}
}

func (c *fakeCatalog) StreamProduct(_ context.Context, streamID, productID string) (*models.StreamProduct, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[models.AuctionKey(streamID, productID)], nil
}

func (c *fakeCatalog) StreamHost(_ context.Context, streamID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hosts[streamID], nil
}

func (c *fakeCatalog) ActivateSlot(_ context.Context, slotID string, _, _ models.Money) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activated = append(c.activated, slotID)
	return nil
}

type fakeStore struct {
	mu         sync.Mutex
	saves      int
	live       map[string]string // stream -> product of the last saved snapshot
	autoBid    map[string]models.Money
	clearDelay time.Duration
	cleared    chan string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		live:    make(map[string]string),
		autoBid: make(map[string]models.Money),
		cleared: make(chan string, 16),
	}
}

func (s *fakeStore) SaveState(_ context.Context, snap *models.AuctionSnapshot, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.live[snap.StreamID] = snap.ProductID
	return nil
}

func (s *fakeStore) SetAutoBid(_ context.Context, _, userID string, max models.Money, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoBid[userID] = max
	return nil
}

func (s *fakeStore) RemoveAutoBid(_ context.Context, _, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.autoBid, userID)
	return nil
}

func (s *fakeStore) Clear(_ context.Context, streamID string) error {
	s.mu.Lock()
	delay := s.clearDelay
	s.mu.Unlock()
	time.Sleep(delay)

	s.mu.Lock()
	delete(s.live, streamID)
	s.autoBid = make(map[string]models.Money)
	s.mu.Unlock()
	select {
	case s.cleared <- streamID:
	default:
	}
	return nil
}

func (s *fakeStore) contents(streamID string) (string, map[string]models.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bids := make(map[string]models.Money, len(s.autoBid))
	for k, v := range s.autoBid {
		bids[k] = v
	}
	return s.live[streamID], bids
}

type fakeSink struct {
	mu     sync.Mutex
	events []*models.AuctionEvent
	ch     chan *models.AuctionEvent
}

func newFakeSink() *fakeSink { return &fakeSink{ch: make(chan *models.AuctionEvent, 1024)} }

func (s *fakeSink) Publish(e *models.AuctionEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	select {
	case s.ch <- e:
	default:
	}
}

func (s *fakeSink) ofType(typ models.EventType) []*models.AuctionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AuctionEvent
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// waitFor blocks until an event of typ arrives or the test times out.
func (s *fakeSink) waitFor(t *testing.T, typ models.EventType) *models.AuctionEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-s.ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
			return nil
		}
	}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*models.Notification
}

func (n *fakeNotifier) Notify(msg *models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *fakeNotifier) forUser(userID string) []models.NotificationType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.NotificationType
	for _, msg := range n.sent {
		if msg.UserID == userID {
			out = append(out, msg.Type)
		}
	}
	return out
}

type harness struct {
	mgr      *Manager
	clock    *fakeClock
	ledger   *fakeLedger
	catalog  *fakeCatalog
	store    *fakeStore
	sink     *fakeSink
	notifier *fakeNotifier
}

const (
	testStream = "stream-1"
	testHost   = "host-1"
)

func newHarness(t *testing.T) *harness {
	return newHarnessWithPolicy(t, DefaultPolicy())
}

func newHarnessWithPolicy(t *testing.T, p Policy) *harness {
	t.Helper()
	h := &harness{
		clock:    newFakeClock(),
		ledger:   newFakeLedger(),
		catalog:  newFakeCatalog(),
		store:    newFakeStore(),
		sink:     newFakeSink(),
		notifier: &fakeNotifier{},
	}
	h.catalog.addStream(testStream, testHost, "prod-1", "prod-2")
	h.mgr = NewManager(Deps{
		Ledger:   h.ledger,
		Catalog:  h.catalog,
		Store:    h.store,
		Sink:     h.sink,
		Notifier: h.notifier,
		Clock:    h.clock,
		Policy:   p,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.mgr.Shutdown(ctx)
	})
	return h
}

func (h *harness) start(t *testing.T, productID string, opts StartOptions) *models.AuctionSnapshot {
	t.Helper()
	snap, err := h.mgr.StartAuction(context.Background(), testHost, testStream, productID, opts)
	if err != nil {
		t.Fatalf("start auction: %v", err)
	}
	return snap
}

func (h *harness) state(t *testing.T) *models.AuctionSnapshot {
	t.Helper()
	snap, err := h.mgr.GetState(context.Background(), testStream)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	return snap
}

func money(s string) models.Money {
	m, err := models.ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func moneyPtr(s string) *models.Money { return models.MoneyPtr(money(s)) }

func sortedUsers(bids []models.Bid) []string {
	out := make([]string, 0, len(bids))
	for _, b := range bids {
		out = append(out, b.UserID)
	}
	sort.Strings(out)
	return out
}
