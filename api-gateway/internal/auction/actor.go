package auction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aaronwang/live-auction/shared/models"
)

// Commands delivered through the actor mailbox. Replies travel on a
// buffered channel so the actor never blocks on a caller that gave up.
type (
	placeBidCmd struct {
		userID string
		amount models.Money
		reply  chan bidReply
	}
	setAutoBidCmd struct {
		userID string
		max    models.Money
		reply  chan bidReply
	}
	cancelAutoBidCmd struct {
		userID string
		reply  chan error
	}
	buyNowCmd struct {
		userID string
		reply  chan buyNowReply
	}
	endCmd struct {
		reason models.EndReason
		reply  chan endReply
	}
	snapshotCmd struct {
		reply chan *models.AuctionSnapshot
	}
	tickCmd      struct{ at time.Time }
	countdownCmd struct{}
)

type bidReply struct {
	resp *models.BidResponse
	err  error
}

type buyNowReply struct {
	resp *models.BuyNowResponse
	err  error
}

type endReply struct {
	outcome *models.AuctionOutcome
	err     error
}

type storeOp struct {
	name string
	fn   func(ctx context.Context) error
}

// settings are the per-auction parameters fixed at start.
type settings struct {
	streamID    string
	productID   string
	slotID      string
	duration    time.Duration
	startingBid models.Money
	increment   models.Money
	reserve     models.Money
	buyNow      *models.Money
	extendOnBid bool
}

// actor owns all mutable state of one running auction. Every field below
// the channels is touched only by the run goroutine.
type actor struct {
	settings
	auctionID string

	policy   Policy
	ledger   Ledger
	store    StateStore
	sink     EventSink
	notifier Notifier
	clock    Clock
	log      *slog.Logger
	onRetire func(*actor)

	mailbox chan any
	writes  chan storeOp
	done    chan struct{}
	flushed chan struct{} // closed once every queued store write has run

	startTime     time.Time
	endTime       time.Time
	currentBid    models.Money
	leader        string
	leaderIsAuto  bool
	standingBidID string
	bidCount      int
	active        bool
	autoBids      map[string]AutoBid
	autoSeq       uint64

	sched     *scheduler
	countdown Timer
	outcome   *models.AuctionOutcome
}

func newActor(s settings, m *Manager) *actor {
	a := &actor{
		settings:  s,
		auctionID: models.AuctionKey(s.streamID, s.productID),
		policy:    m.policy,
		ledger:    m.ledger,
		store:     m.store,
		sink:      m.sink,
		notifier:  m.notifier,
		clock:     m.clock,
		log:       m.log.With(slog.String("stream_id", s.streamID), slog.String("product_id", s.productID)),
		onRetire:  m.retire,
		mailbox:   make(chan any, m.policy.MailboxSize),
		writes:    make(chan storeOp, m.policy.MailboxSize),
		done:      make(chan struct{}),
		flushed:   make(chan struct{}),
		autoBids:  make(map[string]AutoBid),
	}
	a.sched = newScheduler(a.clock, func(at time.Time) { a.post(tickCmd{at: at}) })
	return a
}

// begin activates the auction and starts the goroutines. The returned
// snapshot is the state reported to the starter.
func (a *actor) begin() *models.AuctionSnapshot {
	now := a.clock.Now()
	a.startTime = now
	a.endTime = now.Add(a.duration)
	a.currentBid = a.startingBid
	a.active = true

	a.sched.Arm(a.endTime)
	a.armCountdown()

	snap := a.snapshot(now)
	a.saveState(snap)
	a.publish(&models.AuctionEvent{Type: models.EventAuctionStarted, Started: snap})
	a.log.Info("auction started",
		slog.String("starting_bid", a.startingBid.String()),
		slog.Duration("duration", a.duration))

	go a.runWriter()
	go a.run()
	return snap
}

func (a *actor) run() {
	defer close(a.done)
	defer close(a.writes)

	for a.active {
		a.handle(<-a.mailbox)
	}

	// reject anything that queued up behind the final command
	for {
		select {
		case cmd := <-a.mailbox:
			a.reject(cmd)
		default:
			return
		}
	}
}

func (a *actor) handle(cmd any) {
	switch c := cmd.(type) {
	case placeBidCmd:
		resp, err := a.placeBid(c.userID, c.amount)
		c.reply <- bidReply{resp, err}
	case setAutoBidCmd:
		resp, err := a.setAutoBid(c.userID, c.max)
		c.reply <- bidReply{resp, err}
	case cancelAutoBidCmd:
		a.cancelAutoBid(c.userID)
		c.reply <- nil
	case buyNowCmd:
		resp, err := a.buyItNow(c.userID)
		c.reply <- buyNowReply{resp, err}
	case endCmd:
		out, err := a.finish(c.reason, "")
		c.reply <- endReply{out, err}
	case snapshotCmd:
		c.reply <- a.snapshot(a.clock.Now())
	case tickCmd:
		a.tick()
	case countdownCmd:
		a.emitCountdown()
	}
}

func (a *actor) reject(cmd any) {
	switch c := cmd.(type) {
	case placeBidCmd:
		c.reply <- bidReply{err: ErrAuctionNotActive}
	case setAutoBidCmd:
		c.reply <- bidReply{err: ErrAuctionNotActive}
	case cancelAutoBidCmd:
		c.reply <- nil
	case buyNowCmd:
		c.reply <- buyNowReply{err: ErrAuctionNotActive}
	case endCmd:
		c.reply <- endReply{err: ErrAuctionNotActive}
	case snapshotCmd:
		c.reply <- a.inactiveSnapshot()
	}
}

// post enqueues a timer-originated command. It gives up once the actor
// has terminated.
func (a *actor) post(cmd any) {
	select {
	case a.mailbox <- cmd:
	case <-a.done:
	}
}

// send enqueues cmd on behalf of a caller.
func (a *actor) send(ctx context.Context, cmd any) error {
	select {
	case a.mailbox <- cmd:
		return nil
	case <-a.done:
		return ErrAuctionNotActive
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await waits for a reply, preferring it over the actor's termination.
func await[T any](ctx context.Context, a *actor, reply chan T) (T, error) {
	var zero T
	select {
	case r := <-reply:
		return r, nil
	case <-a.done:
		select {
		case r := <-reply:
			return r, nil
		default:
			return zero, ErrAuctionNotActive
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (a *actor) checkActive(now time.Time) error {
	if !a.active || !now.Before(a.endTime) {
		return ErrAuctionNotActive
	}
	return nil
}

func (a *actor) placeBid(userID string, amount models.Money) (*models.BidResponse, error) {
	now := a.clock.Now()
	if err := a.checkActive(now); err != nil {
		return nil, err
	}
	if amount < a.currentBid+a.increment {
		return nil, ErrBidTooLow
	}
	if userID == a.leader {
		return nil, ErrAlreadyHighestBidder
	}

	if err := a.applyBid(now, userID, amount, nil); err != nil {
		return nil, err
	}
	a.resolveProxies()
	a.afterBids()
	return a.bidResponse(), nil
}

func (a *actor) setAutoBid(userID string, max models.Money) (*models.BidResponse, error) {
	now := a.clock.Now()
	if err := a.checkActive(now); err != nil {
		return nil, err
	}
	next := a.currentBid + a.increment
	if max < next {
		return nil, ErrMaxTooLow
	}

	prev, existed := a.autoBids[userID]
	entry := AutoBid{UserID: userID, Max: max, Seq: prev.Seq}
	if !existed {
		a.autoSeq++
		entry.Seq = a.autoSeq
	}
	a.autoBids[userID] = entry

	if userID != a.leader {
		if err := a.applyBid(now, userID, max.Min(next), &max); err != nil {
			if existed {
				a.autoBids[userID] = prev
			} else {
				delete(a.autoBids, userID)
			}
			return nil, err
		}
		a.resolveProxies()
		a.afterBids()
	}

	ttl := a.storeTTL(now)
	a.persist("set_auto_bid", func(ctx context.Context) error {
		return a.store.SetAutoBid(ctx, a.streamID, userID, max, ttl)
	})
	return a.bidResponse(), nil
}

func (a *actor) cancelAutoBid(userID string) {
	if _, ok := a.autoBids[userID]; !ok {
		return
	}
	delete(a.autoBids, userID)
	a.persist("remove_auto_bid", func(ctx context.Context) error {
		return a.store.RemoveAutoBid(ctx, a.streamID, userID)
	})
}

func (a *actor) buyItNow(userID string) (*models.BuyNowResponse, error) {
	if err := a.checkActive(a.clock.Now()); err != nil {
		return nil, err
	}
	if a.buyNow == nil {
		return nil, ErrNotAvailable
	}
	if a.policy.buyNowGateReached(a.currentBid, *a.buyNow) {
		return nil, ErrTooCloseToWin
	}

	out, err := a.finish(models.EndReasonBuyNow, userID)
	if err != nil {
		return nil, err
	}
	return &models.BuyNowResponse{Success: true, FinalPrice: out.FinalPrice}, nil
}

// applyBid writes one accepted bid to the ledger and, only once that
// succeeds, moves the in-memory state. max is set for proxy bids.
func (a *actor) applyBid(now time.Time, userID string, amount models.Money, max *models.Money) error {
	bid := &models.Bid{
		ID:         uuid.New().String(),
		AuctionID:  a.auctionID,
		StreamID:   a.streamID,
		ProductID:  a.productID,
		UserID:     userID,
		Amount:     amount,
		Status:     models.BidStatusActive,
		IsAutoBid:  max != nil,
		MaxAutoBid: max,
		PlacedAt:   now.UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.policy.CommandTimeout)
	defer cancel()
	if err := a.ledger.RecordBid(ctx, bid, a.slotID); err != nil {
		a.log.Error("failed to record bid", slog.String("user_id", userID), slog.Any("error", err))
		return fmt.Errorf("%w: record bid: %v", ErrUnavailable, err)
	}

	prev := a.leader
	a.currentBid = amount
	a.leader = userID
	a.leaderIsAuto = max != nil
	a.standingBidID = bid.ID
	a.bidCount++
	a.extend(now)

	if prev != "" && prev != userID {
		a.notify(prev, models.NotificationOutbid, "You've been outbid",
			fmt.Sprintf("Someone bid $%s. Bid again to stay in the lead.", amount), amount)
	}
	return nil
}

// extend pushes the end time out when a bid lands inside the threshold.
// The end time never moves backwards.
func (a *actor) extend(now time.Time) {
	if !a.extendOnBid || a.endTime.Sub(now) >= a.policy.ExtensionThreshold {
		return
	}
	next := now.Add(a.policy.Extension)
	if !next.After(a.endTime) {
		return
	}
	a.endTime = next
	a.sched.Arm(a.endTime)
	a.log.Debug("auction extended", slog.Time("end_time", a.endTime))
}

// resolveProxies applies counter-bids until no registered ceiling can beat
// the leader. Every round strictly raises currentBid, so the loop ends.
func (a *actor) resolveProxies() {
	for {
		entries := make([]AutoBid, 0, len(a.autoBids))
		for _, ab := range a.autoBids {
			entries = append(entries, ab)
		}
		cb, ok := ResolveProxyBid(a.currentBid, a.increment, a.leader, entries)
		if !ok {
			return
		}
		max := cb.Max
		if err := a.applyBid(a.clock.Now(), cb.UserID, cb.Amount, &max); err != nil {
			// the bid that triggered this round is already committed
			a.log.Warn("proxy bidding stopped early", slog.String("user_id", cb.UserID), slog.Any("error", err))
			return
		}
	}
}

// afterBids publishes the post-resolution state once per command.
func (a *actor) afterBids() {
	now := a.clock.Now()
	a.saveState(a.snapshot(now))
	a.publish(&models.AuctionEvent{
		Type: models.EventBidPlaced,
		Bid: &models.BidPlaced{
			CurrentBid:    a.currentBid,
			TimeRemaining: a.timeRemaining(now),
			Bidder:        a.leader,
			BidCount:      a.bidCount,
			IsAutoBid:     a.leaderIsAuto,
		},
	})
}

func (a *actor) tick() {
	if !a.active {
		return
	}
	now := a.clock.Now()
	if now.Before(a.endTime) {
		// extended after this timer fired; the scheduler is already re-armed
		return
	}
	if _, err := a.finish(models.EndReasonTimeout, ""); err != nil {
		a.log.Error("failed to close expired auction, retrying", slog.Any("error", err))
		a.sched.Arm(now.Add(a.policy.SettleRetry))
	}
}

// finish settles the auction in the ledger and retires the actor. On a
// ledger failure the state is left untouched and the auction stays active.
func (a *actor) finish(reason models.EndReason, buyer string) (*models.AuctionOutcome, error) {
	if !a.active {
		return nil, ErrAuctionNotActive
	}
	now := a.clock.Now()

	s := &Settlement{AuctionID: a.auctionID, SlotID: a.slotID, Price: a.currentBid, SettledAt: now.UTC()}
	winner := ""
	switch {
	case reason == models.EndReasonBuyNow:
		s.NewBid = &models.Bid{
			ID:        uuid.New().String(),
			AuctionID: a.auctionID,
			StreamID:  a.streamID,
			ProductID: a.productID,
			UserID:    buyer,
			Amount:    *a.buyNow,
			Status:    models.BidStatusWon,
			PlacedAt:  now.UTC(),
		}
		s.StandingBidID = a.standingBidID
		s.Sold = true
		s.Price = *a.buyNow
		winner = buyer
	case a.leader != "" && a.currentBid >= a.reserve:
		s.WinningBidID = a.standingBidID
		s.Sold = true
		winner = a.leader
	default:
		s.StandingBidID = a.standingBidID
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.policy.CommandTimeout)
	defer cancel()
	if err := a.ledger.Settle(ctx, s); err != nil {
		a.log.Error("failed to settle auction", slog.String("reason", string(reason)), slog.Any("error", err))
		return nil, fmt.Errorf("%w: settle: %v", ErrUnavailable, err)
	}

	if s.NewBid != nil {
		a.currentBid = s.NewBid.Amount
		a.leader = buyer
		a.leaderIsAuto = false
		a.standingBidID = s.NewBid.ID
		a.bidCount++
	}
	a.active = false
	a.sched.Stop()
	if a.countdown != nil {
		a.countdown.Stop()
	}
	a.autoBids = make(map[string]AutoBid)

	out := &models.AuctionOutcome{FinalPrice: s.Price, ReserveMet: s.Sold, Reason: reason}
	if winner != "" {
		out.Winner = &winner
	}
	a.outcome = out

	switch {
	case s.Sold:
		a.notify(winner, models.NotificationAuctionWon, "You won!",
			fmt.Sprintf("You won the auction for $%s.", s.Price), s.Price)
	case a.leader != "":
		a.notify(a.leader, models.NotificationReserveNotMet, "Reserve not met",
			fmt.Sprintf("The auction ended at $%s without meeting the seller's reserve.", a.currentBid), a.currentBid)
	}

	a.persist("clear", func(ctx context.Context) error { return a.store.Clear(ctx, a.streamID) })
	a.publish(&models.AuctionEvent{Type: models.EventAuctionEnded, Ended: out})
	a.log.Info("auction ended",
		slog.String("reason", string(reason)),
		slog.Bool("sold", s.Sold),
		slog.String("final_price", s.Price.String()),
		slog.Int("bid_count", a.bidCount))

	a.onRetire(a)
	return out, nil
}

func (a *actor) armCountdown() {
	a.countdown = a.clock.AfterFunc(a.policy.CountdownInterval, func() { a.post(countdownCmd{}) })
}

func (a *actor) emitCountdown() {
	if !a.active {
		return
	}
	now := a.clock.Now()
	cd := &models.Countdown{
		TimeRemaining: a.timeRemaining(now),
		CurrentBid:    a.currentBid,
		BidCount:      a.bidCount,
		IsActive:      true,
	}
	if a.leader != "" {
		leader := a.leader
		cd.HighestBidder = &leader
	}
	a.publish(&models.AuctionEvent{Type: models.EventCountdown, Countdown: cd})
	a.armCountdown()
}

func (a *actor) timeRemaining(now time.Time) int {
	d := a.endTime.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func (a *actor) storeTTL(now time.Time) time.Duration {
	d := a.endTime.Sub(now)
	if d < 0 {
		d = 0
	}
	return d + a.policy.StoreTTLBuffer
}

func (a *actor) snapshot(now time.Time) *models.AuctionSnapshot {
	snap := &models.AuctionSnapshot{
		StreamID:                  a.streamID,
		ProductID:                 a.productID,
		StreamProductID:           a.slotID,
		StartTime:                 a.startTime,
		EndTime:                   a.endTime,
		DurationSeconds:           int(a.duration / time.Second),
		CurrentBid:                a.currentBid,
		BidCount:                  a.bidCount,
		IsActive:                  a.active,
		ExtendOnBid:               a.extendOnBid,
		ExtensionSeconds:          int(a.policy.Extension / time.Second),
		ExtensionThresholdSeconds: int(a.policy.ExtensionThreshold / time.Second),
		ReservePrice:              a.reserve,
		BidIncrement:              a.increment,
		BuyItNowPrice:             a.buyNow,
		TimeRemaining:             a.timeRemaining(now),
	}
	if a.leader != "" {
		leader := a.leader
		snap.HighestBidderID = &leader
	}
	return snap
}

func (a *actor) inactiveSnapshot() *models.AuctionSnapshot {
	return &models.AuctionSnapshot{StreamID: a.streamID}
}

func (a *actor) bidResponse() *models.BidResponse {
	resp := &models.BidResponse{
		Success:       true,
		CurrentBid:    a.currentBid,
		TimeRemaining: a.timeRemaining(a.clock.Now()),
		BidCount:      a.bidCount,
	}
	if a.leader != "" {
		leader := a.leader
		resp.HighestBidder = &leader
	}
	return resp
}

func (a *actor) publish(e *models.AuctionEvent) {
	e.EventID = uuid.New().String()
	e.StreamID = a.streamID
	e.ProductID = a.productID
	e.Timestamp = a.clock.Now().UTC()
	a.sink.Publish(e)
}

func (a *actor) notify(userID string, typ models.NotificationType, title, body string, amount models.Money) {
	a.notifier.Notify(&models.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Body:      body,
		StreamID:  a.streamID,
		ProductID: a.productID,
		Amount:    amount,
		CreatedAt: a.clock.Now().UTC(),
	})
}

func (a *actor) saveState(snap *models.AuctionSnapshot) {
	ttl := a.storeTTL(a.clock.Now())
	a.persist("save_state", func(ctx context.Context) error { return a.store.SaveState(ctx, snap, ttl) })
}

// persist queues an ephemeral-store write. Writes run in order on a single
// goroutine; they are best effort and dropped when the queue is full.
func (a *actor) persist(name string, fn func(ctx context.Context) error) {
	select {
	case a.writes <- storeOp{name: name, fn: fn}:
	default:
		a.log.Warn("ephemeral store queue full, dropping write", slog.String("op", name))
	}
}

func (a *actor) runWriter() {
	defer close(a.flushed)
	for op := range a.writes {
		ctx, cancel := context.WithTimeout(context.Background(), a.policy.CommandTimeout)
		if err := op.fn(ctx); err != nil {
			a.log.Warn("ephemeral store write failed", slog.String("op", op.name), slog.Any("error", err))
		}
		cancel()
	}
}

// wait blocks until the actor has exited and its store writes have run.
func (a *actor) wait(ctx context.Context) error {
	for _, ch := range []chan struct{}{a.done, a.flushed} {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
