// Package events publishes trip lifecycle changes to an external sink.
// Publishing is advisory: the session document stays the source of truth.
package events

import (
	"context"
	"log/slog"
	"time"
)

type Type string

const (
	UserRegistered     Type = "user.registered"
	UserRated          Type = "user.rated"
	TripRequested      Type = "trip.requested"
	TripAccepted       Type = "trip.accepted"
	TripStatusChanged  Type = "trip.status_changed"
	TripCashPending    Type = "trip.cash_pending"
	TripCashConfirmed  Type = "trip.cash_confirmed"
	TransactionCreated Type = "transaction.created"
)

type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	TripID    string    `json:"trip_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Amount    float64   `json:"amount,omitempty"`
	At        time.Time `json:"at"`
}

// Key is the partition/routing key: the trip when there is one, so all
// events of a trip stay ordered, else the user.
func (e Event) Key() string {
	if e.TripID != "" {
		return e.TripID
	}
	return e.UserID
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// LogPublisher writes events to a structured logger.
type LogPublisher struct{ Logger *slog.Logger }

func (l LogPublisher) Publish(ctx context.Context, e Event) error {
	l.Logger.InfoContext(ctx, "trip_event",
		"type", string(e.Type),
		"session_id", e.SessionID,
		"trip_id", e.TripID,
		"user_id", e.UserID,
		"status", e.Status,
	)
	return nil
}

func (LogPublisher) Close() error { return nil }
