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

var at = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func TestArchive_BidEvent(t *testing.T) {
	c, mock := newMock(t)
	event := &models.AuctionEvent{
		EventID:   "evt-1",
		Type:      models.EventBidPlaced,
		StreamID:  "stream-1",
		ProductID: "prod-1",
		Timestamp: at,
		Bid:       &models.BidPlaced{CurrentBid: models.Cents(1500), Bidder: "alice", BidCount: 1},
	}

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO auction_events")).
		WithArgs("evt-1", "bid_placed", "stream-1", "prod-1", at, `{"raw":true}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, c.Archive(context.Background(), event, []byte(`{"raw":true}`)))
}

func TestArchive_EndedEventWritesResult(t *testing.T) {
	c, mock := newMock(t)
	winner := "bob"
	event := &models.AuctionEvent{
		EventID:   "evt-2",
		Type:      models.EventAuctionEnded,
		StreamID:  "stream-1",
		ProductID: "prod-1",
		Timestamp: at,
		Ended: &models.AuctionOutcome{
			Winner:     &winner,
			FinalPrice: models.Cents(5500),
			ReserveMet: true,
			Reason:     models.EndReasonTimeout,
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO auction_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO auction_results")).
		WithArgs("evt-2", "stream-1", "prod-1", "bob", "55.00", true, "timeout", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, c.Archive(context.Background(), event, []byte(`{}`)))
}

func TestArchive_UnsoldResultHasNoWinner(t *testing.T) {
	c, mock := newMock(t)
	event := &models.AuctionEvent{
		EventID:   "evt-4",
		Type:      models.EventAuctionEnded,
		StreamID:  "stream-1",
		ProductID: "prod-1",
		Timestamp: at,
		Ended:     &models.AuctionOutcome{FinalPrice: models.Cents(9000), Reason: models.EndReasonCancelled},
	}

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO auction_events")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO auction_results")).
		WithArgs("evt-4", "stream-1", "prod-1", nil, "90.00", false, "cancelled", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, c.Archive(context.Background(), event, []byte(`{}`)))
}

func TestArchive_RedeliveryIsNoop(t *testing.T) {
	c, mock := newMock(t)
	event := &models.AuctionEvent{
		EventID: "evt-2",
		Type:    models.EventAuctionEnded,
		Ended:   &models.AuctionOutcome{Reason: models.EndReasonTimeout},
	}

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO auction_events")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	assert.NoError(t, c.Archive(context.Background(), event, []byte(`{}`)))
}

func TestArchive_RollsBackOnError(t *testing.T) {
	c, mock := newMock(t)
	event := &models.AuctionEvent{EventID: "evt-3", Type: models.EventAuctionStarted}

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO auction_events")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	check.Error(t, c.Archive(context.Background(), event, []byte(`{}`)))
}
