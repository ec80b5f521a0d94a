// Package rider drives a rider's client through request, match, ride,
// payment and rating. All knowledge of the driver's progress comes from
// polling the shared trip record.
package rider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/example/ride-session/internal/fare"
	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/observability"
	"github.com/example/ride-session/internal/settlement"
)

const (
	DefaultTrackInterval = 3 * time.Second
	DefaultCashInterval  = 3 * time.Second
	DefaultPickup        = "123 Main St, Anytown"
)

var ErrInvalidTransition = errors.New("invalid rider transition")

type Store interface {
	CreateTrip(ctx context.Context, riderID, pickup, destination string, fare float64) (models.Trip, error)
	GetTripByID(ctx context.Context, id string) (models.Trip, bool, error)
	CancelTrip(ctx context.Context, tripID string) (models.Trip, error)
	CreateTransaction(ctx context.Context, trip models.Trip, method models.PaymentMethod) (models.Transaction, error)
	UpdateUserRating(ctx context.Context, userID string, rating int) (models.User, error)
}

type Machine struct {
	User   models.User
	Store  Store
	Signal settlement.Signal
	Fares  fare.Quoter
	Logger *slog.Logger

	TrackInterval time.Duration
	CashInterval  time.Duration
	Pickup        string

	// opMu serializes actions and polls; mu guards the fields below it.
	opMu  sync.Mutex
	mu    sync.Mutex
	state State
	trip  *models.Trip
}

func New(user models.User, store Store, signal settlement.Signal, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		User:          user,
		Store:         store,
		Signal:        signal,
		Fares:         fare.NewRandom(),
		Logger:        logger.With("machine", "rider", "user_id", user.ID),
		TrackInterval: DefaultTrackInterval,
		CashInterval:  DefaultCashInterval,
		Pickup:        DefaultPickup,
	}
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{State: m.state}
	if m.trip != nil {
		t := *m.trip
		s.Trip = &t
	}
	return s
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) current() (State, *models.Trip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.trip
}

// moveTo changes state and, when trip is non-nil or clear is set, the
// held trip.
func (m *Machine) moveTo(to State, trip *models.Trip, clear bool) error {
	m.mu.Lock()
	from := m.state
	if from != to && !canTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	switch {
	case clear:
		m.trip = nil
	case trip != nil:
		t := *trip
		m.trip = &t
	}
	m.mu.Unlock()
	if from != to {
		observability.Transitions.WithLabelValues("rider", to.String()).Inc()
		m.Logger.Info("rider state changed", "from", from.String(), "to", to.String())
	}
	return nil
}

func (m *Machine) require(want State) (*models.Trip, error) {
	state, trip := m.current()
	if state != want {
		return nil, fmt.Errorf("%w: in %s, need %s", ErrInvalidTransition, state, want)
	}
	return trip, nil
}

// Request prices and creates a trip to destination, then waits for a
// driver.
func (m *Machine) Request(ctx context.Context, destination string) (models.Trip, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if _, err := m.require(Idle); err != nil {
		return models.Trip{}, err
	}
	if err := m.moveTo(Requesting, nil, false); err != nil {
		return models.Trip{}, err
	}
	amount := m.Fares.Quote(m.Pickup, destination)
	trip, err := m.Store.CreateTrip(ctx, m.User.ID, m.Pickup, destination, amount)
	if err != nil {
		_ = m.moveTo(Idle, nil, true)
		return models.Trip{}, fmt.Errorf("request trip: %w", err)
	}
	if err := m.moveTo(AwaitingDriver, &trip, false); err != nil {
		return models.Trip{}, err
	}
	return trip, nil
}

// Cancel withdraws the request while no driver holds it. If a driver's
// claim landed first the store refuses and the rider keeps tracking.
func (m *Machine) Cancel(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	trip, err := m.require(AwaitingDriver)
	if err != nil {
		return err
	}
	if trip != nil {
		if _, err := m.Store.CancelTrip(ctx, trip.ID); err != nil {
			return fmt.Errorf("cancel trip %s: %w", trip.ID, err)
		}
	}
	return m.moveTo(Idle, nil, true)
}

// Track polls the trip once and follows its remote status. It does
// nothing outside the tracking states.
func (m *Machine) Track(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	state, trip := m.current()
	if !state.tracking() || trip == nil {
		return nil
	}
	updated, ok, err := m.Store.GetTripByID(ctx, trip.ID)
	if err != nil {
		return fmt.Errorf("track trip %s: %w", trip.ID, err)
	}
	if !ok {
		m.Logger.Warn("tracked trip missing from store", "trip_id", trip.ID)
		return nil
	}
	if !reflect.DeepEqual(updated, *trip) {
		m.mu.Lock()
		m.trip = &updated
		m.mu.Unlock()
	}
	switch updated.Status {
	case models.TripOnTrip:
		if state != OnTrip {
			return m.moveTo(OnTrip, nil, false)
		}
	case models.TripCompleted:
		return m.moveTo(Payment, nil, false)
	case models.TripCancelled:
		return m.moveTo(Idle, nil, true)
	}
	return nil
}

// Pay records the payment. Cash waits for the driver's confirmation;
// anything else goes straight to rating.
func (m *Machine) Pay(ctx context.Context, method models.PaymentMethod) (models.Transaction, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	trip, err := m.require(Payment)
	if err != nil {
		return models.Transaction{}, err
	}
	if trip == nil {
		return models.Transaction{}, fmt.Errorf("%w: no trip to pay for", ErrInvalidTransition)
	}
	txn, err := m.Store.CreateTransaction(ctx, *trip, method)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("pay trip %s: %w", trip.ID, err)
	}
	if txn.Method == models.PaymentCash {
		if err := m.Signal.MarkPending(ctx, trip.ID); err != nil {
			return txn, fmt.Errorf("signal cash for trip %s: %w", trip.ID, err)
		}
		return txn, m.moveTo(AwaitingCashConfirmation, nil, false)
	}
	return txn, m.moveTo(RatingDriver, nil, false)
}

// CheckCash polls once for the driver's cash confirmation.
func (m *Machine) CheckCash(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	state, trip := m.current()
	if state != AwaitingCashConfirmation || trip == nil {
		return nil
	}
	ok, err := m.Signal.Confirmed(ctx, trip.ID)
	if err != nil {
		return fmt.Errorf("check cash for trip %s: %w", trip.ID, err)
	}
	if !ok {
		return nil
	}
	return m.moveTo(RatingDriver, nil, false)
}

// Rate submits a 1..5 rating for the driver. The trip is finished either
// way; a failed submission is returned but does not keep the rider here.
func (m *Machine) Rate(ctx context.Context, rating int) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	trip, err := m.require(RatingDriver)
	if err != nil {
		return err
	}
	var rateErr error
	if trip != nil && trip.Assigned() {
		if _, err := m.Store.UpdateUserRating(ctx, *trip.DriverID, rating); err != nil {
			m.Logger.Warn("failed to submit driver rating", "trip_id", trip.ID, "error", err)
			rateErr = fmt.Errorf("rate driver: %w", err)
		}
	}
	if err := m.moveTo(Idle, nil, true); err != nil {
		return err
	}
	return rateErr
}

// Run polls the trip and the cash handshake until ctx is done. Poll
// failures are logged and retried on the next tick.
func (m *Machine) Run(ctx context.Context) error {
	track := time.NewTicker(m.TrackInterval)
	defer track.Stop()
	cash := time.NewTicker(m.CashInterval)
	defer cash.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-track.C:
			if err := m.Track(ctx); err != nil {
				observability.PollErrors.WithLabelValues("rider_track").Inc()
				m.Logger.Warn("trip poll failed", "error", err)
			}
		case <-cash.C:
			if err := m.CheckCash(ctx); err != nil {
				observability.PollErrors.WithLabelValues("rider_cash").Inc()
				m.Logger.Warn("cash poll failed", "error", err)
			}
		}
	}
}
