// Package settlement reconciles a completed trip with its payment. A
// digital method is settled as soon as its transaction exists; cash needs
// the driver to confirm receipt, and both sides learn about the cash
// handshake through a Signal.
package settlement

import (
	"context"
	"sync"

	"github.com/example/ride-session/internal/models"
)

// Signal carries the cash handshake between rider and driver.
type Signal interface {
	// MarkPending is raised by the rider after choosing cash.
	MarkPending(ctx context.Context, tripID string) error
	Pending(ctx context.Context, tripID string) (bool, error)
	// Confirm is raised by the driver once the cash is in hand.
	Confirm(ctx context.Context, tripID string) error
	Confirmed(ctx context.Context, tripID string) (bool, error)
}

type TripStore interface {
	GetTripByID(ctx context.Context, id string) (models.Trip, bool, error)
	MarkCashPending(ctx context.Context, tripID string) (models.Trip, error)
	ConfirmCash(ctx context.Context, tripID string) (models.Trip, error)
}

// StoreSignal keeps the handshake on the trip record itself, so it works
// across devices that only share the session document.
type StoreSignal struct{ Store TripStore }

func (s StoreSignal) MarkPending(ctx context.Context, tripID string) error {
	_, err := s.Store.MarkCashPending(ctx, tripID)
	return err
}

func (s StoreSignal) Pending(ctx context.Context, tripID string) (bool, error) {
	t, ok, err := s.Store.GetTripByID(ctx, tripID)
	if err != nil || !ok {
		return false, err
	}
	return t.CashPendingAt != nil, nil
}

func (s StoreSignal) Confirm(ctx context.Context, tripID string) error {
	_, err := s.Store.ConfirmCash(ctx, tripID)
	return err
}

func (s StoreSignal) Confirmed(ctx context.Context, tripID string) (bool, error) {
	t, ok, err := s.Store.GetTripByID(ctx, tripID)
	if err != nil || !ok {
		return false, err
	}
	return t.CashConfirmedAt != nil, nil
}

// LocalSignal is an in-process handshake for rider and driver clients
// running in the same process. Delivery is immediate. The zero value is
// ready to use.
type LocalSignal struct {
	mu        sync.Mutex
	pending   map[string]bool
	confirmed map[string]bool
}

func NewLocalSignal() *LocalSignal { return &LocalSignal{} }

func (l *LocalSignal) MarkPending(_ context.Context, tripID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		l.pending = make(map[string]bool)
	}
	l.pending[tripID] = true
	return nil
}

func (l *LocalSignal) Pending(_ context.Context, tripID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending[tripID], nil
}

func (l *LocalSignal) Confirm(_ context.Context, tripID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.confirmed == nil {
		l.confirmed = make(map[string]bool)
	}
	l.confirmed[tripID] = true
	return nil
}

func (l *LocalSignal) Confirmed(_ context.Context, tripID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.confirmed[tripID], nil
}

type TransactionLookup interface {
	GetTransactionByTripID(ctx context.Context, tripID string) (models.Transaction, bool, error)
}

// DigitallySettled reports whether the trip has a transaction with a
// non-cash method. Cash transactions never settle on their own.
func DigitallySettled(ctx context.Context, store TransactionLookup, tripID string) (bool, error) {
	txn, ok, err := store.GetTransactionByTripID(ctx, tripID)
	if err != nil || !ok {
		return false, err
	}
	return txn.Method.Digital(), nil
}
