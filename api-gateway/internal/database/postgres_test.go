package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/aaronwang/live-auction/api-gateway/internal/auction"
	"github.com/aaronwang/live-auction/shared/models"
)

func newMock(t *testing.T) (*PostgresClient, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() {
		check.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewFromDB(db), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestRecordBid_OneTransaction(t *testing.T) {
	c, mock := newMock(t)
	max := models.Cents(8000)
	bid := &models.Bid{
		ID:         "b1",
		AuctionID:  "s1:p1",
		StreamID:   "s1",
		ProductID:  "p1",
		UserID:     "alice",
		Amount:     models.Cents(1500),
		Status:     models.BidStatusActive,
		IsAutoBid:  true,
		MaxAutoBid: &max,
		PlacedAt:   time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE bids SET status = 'OUTBID' WHERE auction_id = $1 AND status = 'ACTIVE'")).
		WithArgs("s1:p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO bids")).
		WithArgs("b1", "s1:p1", "s1", "p1", "alice", "15.00", "ACTIVE", true, "80.00", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q("UPDATE stream_products SET current_bid = $1 WHERE id = $2")).
		WithArgs("15.00", "slot-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, c.RecordBid(context.Background(), bid, "slot-1"))
}

func TestRecordBid_RollsBackOnInsertFailure(t *testing.T) {
	c, mock := newMock(t)
	bid := &models.Bid{ID: "b1", AuctionID: "s1:p1", Amount: models.Cents(100), Status: models.BidStatusActive}

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE bids SET status = 'OUTBID'")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("INSERT INTO bids")).WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := c.RecordBid(context.Background(), bid, "slot-1")
	check.Error(t, err)
}

func TestSettle_SoldToStandingBid(t *testing.T) {
	c, mock := newMock(t)
	at := time.Date(2026, 3, 1, 20, 1, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE bids SET status = 'WON' WHERE id = $1")).
		WithArgs("b9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE stream_products")).
		WithArgs("100.00", at, "slot-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.Settle(context.Background(), &auction.Settlement{
		AuctionID:    "s1:p1",
		SlotID:       "slot-1",
		WinningBidID: "b9",
		Sold:         true,
		Price:        models.Cents(10000),
		SettledAt:    at,
	})
	assert.NoError(t, err)
}

func TestSettle_AlreadySold(t *testing.T) {
	c, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE bids SET status = 'WON'")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE stream_products")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := c.Settle(context.Background(), &auction.Settlement{
		SlotID:       "slot-1",
		WinningBidID: "b9",
		Sold:         true,
		Price:        models.Cents(10000),
	})
	check.True(t, errors.Is(err, ErrAlreadySold))
}

func TestSettle_UnsoldReleasesStandingBid(t *testing.T) {
	c, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE bids SET status = 'OUTBID' WHERE id = $1 AND status = 'ACTIVE'")).
		WithArgs("b9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE stream_products SET is_active = FALSE WHERE id = $1")).
		WithArgs("slot-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.Settle(context.Background(), &auction.Settlement{
		AuctionID:     "s1:p1",
		SlotID:        "slot-1",
		StandingBidID: "b9",
		Price:         models.Cents(10000),
	})
	assert.NoError(t, err)
}

func TestSettle_BuyNowInsertsWonBid(t *testing.T) {
	c, mock := newMock(t)
	at := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE bids SET status = 'OUTBID' WHERE auction_id = $1")).
		WithArgs("s1:p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO bids")).
		WithArgs("b10", "s1:p1", "s1", "p1", "bob", "100.00", "WON", false, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q("UPDATE stream_products")).
		WithArgs("100.00", at, "slot-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.Settle(context.Background(), &auction.Settlement{
		AuctionID: "s1:p1",
		SlotID:    "slot-1",
		NewBid: &models.Bid{
			ID: "b10", AuctionID: "s1:p1", StreamID: "s1", ProductID: "p1", UserID: "bob",
			Amount: models.Cents(10000), Status: models.BidStatusWon, PlacedAt: at,
		},
		StandingBidID: "b9",
		Sold:          true,
		Price:         models.Cents(10000),
		SettledAt:     at,
	})
	assert.NoError(t, err)
}

func TestBidsForAuction(t *testing.T) {
	c, mock := newMock(t)
	at := time.Date(2026, 3, 1, 20, 0, 30, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "auction_id", "stream_id", "product_id", "user_id", "amount", "status", "is_auto_bid", "max_auto_bid", "placed_at",
	}).
		AddRow("b2", "s1:p1", "s1", "p1", "bob", "55.00", "ACTIVE", true, "80.00", at).
		AddRow("b1", "s1:p1", "s1", "p1", "carol", "50.00", "OUTBID", false, nil, at)
	mock.ExpectQuery(q("FROM bids")).WithArgs("s1:p1").WillReturnRows(rows)

	bids, err := c.BidsForAuction(context.Background(), "s1:p1")
	assert.NoError(t, err)
	assert.Equal(t, 2, len(bids))
	check.Equal(t, models.Cents(5500), bids[0].Amount)
	check.Equal(t, models.Cents(8000), *bids[0].MaxAutoBid)
	check.Equal(t, models.BidStatusOutbid, bids[1].Status)
	check.Nil(t, bids[1].MaxAutoBid)
}

func TestStreamProduct(t *testing.T) {
	c, mock := newMock(t)

	rows := sqlmock.NewRows([]string{
		"id", "stream_id", "product_id", "starting_bid", "bid_increment", "current_bid", "is_active", "is_sold", "sold_price", "sold_at",
	}).AddRow("slot-1", "s1", "p1", "10.00", nil, "12.50", true, false, nil, nil)
	mock.ExpectQuery(q("FROM stream_products")).WithArgs("s1", "p1").WillReturnRows(rows)

	sp, err := c.StreamProduct(context.Background(), "s1", "p1")
	assert.NoError(t, err)
	assert.NotNil(t, sp)
	check.Equal(t, models.Cents(1000), *sp.StartingBid)
	check.Nil(t, sp.BidIncrement)
	check.Equal(t, models.Cents(1250), *sp.CurrentBid)
	check.True(t, sp.IsActive)
	check.Nil(t, sp.SoldAt)
}

func TestStreamProduct_Missing(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery(q("FROM stream_products")).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	sp, err := c.StreamProduct(context.Background(), "s1", "nope")
	assert.NoError(t, err)
	check.Nil(t, sp)
}

func TestStreamHost_Cached(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery(q("SELECT host_id FROM live_streams WHERE id = $1")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"host_id"}).AddRow("host-1"))

	for i := 0; i < 3; i++ {
		host, err := c.StreamHost(context.Background(), "s1")
		assert.NoError(t, err)
		check.Equal(t, "host-1", host)
	}
}

func TestStreamHost_Unknown(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery(q("FROM live_streams")).WillReturnRows(sqlmock.NewRows([]string{"host_id"}))

	host, err := c.StreamHost(context.Background(), "ghost")
	assert.NoError(t, err)
	check.Equal(t, "", host)
}

func TestActivateSlot(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectExec(q("UPDATE stream_products")).
		WithArgs("10.00", "2.50", "slot-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, c.ActivateSlot(context.Background(), "slot-1", models.Cents(1000), models.Cents(250)))
}
