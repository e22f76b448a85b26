package models

import "time"

// NotificationType classifies a user notification.
type NotificationType string

const (
	NotificationOutbid        NotificationType = "OUTBID"
	NotificationAuctionWon    NotificationType = "AUCTION_WON"
	NotificationReserveNotMet NotificationType = "RESERVE_NOT_MET"
)

// Notification is handed to the notification collaborator (push/email
// delivery happens downstream of the message queue).
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	StreamID  string           `json:"stream_id"`
	ProductID string           `json:"product_id"`
	Amount    Money            `json:"amount"`
	CreatedAt time.Time        `json:"created_at"`
}
