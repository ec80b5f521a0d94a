package storage

import (
	"context"
	"fmt"

	"github.com/example/ride-session/internal/events"
	"github.com/example/ride-session/internal/ids"
	"github.com/example/ride-session/internal/models"
)

// CreateTransaction records the rider's payment choice for a trip. The
// amount is the fare stored on the trip. A trip settles at most once:
// if a transaction already exists it is returned unchanged, which keeps a
// retried call from recording a second payment.
func (a *Accessor) CreateTransaction(ctx context.Context, trip models.Trip, method models.PaymentMethod) (models.Transaction, error) {
	if !method.Valid() {
		return models.Transaction{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalid, method)
	}
	txn := models.Transaction{
		ID:        a.gen().New(ids.TransactionPrefix),
		TripID:    trip.ID,
		Method:    method,
		Timestamp: a.now().UnixMilli(),
	}
	var (
		result  models.Transaction
		created bool
	)
	err := a.mutate(ctx, "create_transaction", func(doc *models.Document) error {
		created = false
		for _, existing := range doc.Transactions {
			if existing.TripID == trip.ID {
				result = existing
				return errUnchanged
			}
		}
		t, err := findTrip(doc, trip.ID)
		if err != nil {
			return err
		}
		result = txn
		result.UserID = t.RiderID
		result.Amount = t.Fare
		doc.Transactions = append(doc.Transactions, result)
		created = true
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}
	if created {
		a.publish(ctx, events.Event{Type: events.TransactionCreated, TripID: trip.ID, UserID: result.UserID, Status: string(method), Amount: result.Amount})
	} else {
		a.Logger.Info("trip already settled", "trip_id", trip.ID, "transaction_id", result.ID)
	}
	return result, nil
}

func (a *Accessor) GetTransactionByTripID(ctx context.Context, tripID string) (txn models.Transaction, ok bool, err error) {
	err = a.view(ctx, "get_transaction", func(doc models.Document) {
		for _, t := range doc.Transactions {
			if t.TripID == tripID {
				txn, ok = t, true
				return
			}
		}
	})
	return txn, ok, err
}
