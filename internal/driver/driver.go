// Package driver drives a driver's client: going online, receiving and
// claiming requests, running the trip, collecting payment and rating the
// rider.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-session/internal/matching"
	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/observability"
	"github.com/example/ride-session/internal/settlement"
)

const (
	DefaultMatchInterval   = 5 * time.Second
	DefaultPaymentInterval = 3 * time.Second
)

// DefaultVehicle is the car a driver process uses unless configured.
var DefaultVehicle = models.Vehicle{Make: "Toyota", Model: "Camry", LicensePlate: "RIDE-123", Type: models.VehicleHomeCar}

var ErrInvalidTransition = errors.New("invalid driver transition")

type Store interface {
	matching.Store
	UpdateTripStatus(ctx context.Context, tripID string, status models.TripStatus) (models.Trip, error)
	UpdateUserRating(ctx context.Context, userID string, rating int) (models.User, error)
	GetTransactionByTripID(ctx context.Context, tripID string) (models.Transaction, bool, error)
}

type Machine struct {
	User     models.User
	Vehicle  models.Vehicle
	Store    Store
	Matching *matching.Protocol
	Signal   settlement.Signal
	Logger   *slog.Logger

	MatchInterval   time.Duration
	PaymentInterval time.Duration

	opMu  sync.Mutex
	mu    sync.Mutex
	state State
	trip  *models.Trip
	rider *models.User
}

func New(user models.User, store Store, signal settlement.Signal, snoozed *matching.SnoozeSet, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("machine", "driver", "user_id", user.ID)
	return &Machine{
		User:            user,
		Vehicle:         DefaultVehicle,
		Store:           store,
		Matching:        matching.NewProtocol(store, snoozed, logger),
		Signal:          signal,
		Logger:          logger,
		MatchInterval:   DefaultMatchInterval,
		PaymentInterval: DefaultPaymentInterval,
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
	if m.rider != nil {
		r := *m.rider
		s.Rider = &r
	}
	return s
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) current() (State, *models.Trip, *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.trip, m.rider
}

// moveTo changes state. A non-nil trip or rider replaces the held copy;
// clear drops both.
func (m *Machine) moveTo(to State, trip *models.Trip, rider *models.User, clear bool) error {
	m.mu.Lock()
	from := m.state
	if from != to && !canTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	if clear {
		m.trip, m.rider = nil, nil
	}
	if trip != nil {
		t := *trip
		m.trip = &t
	}
	if rider != nil {
		r := *rider
		m.rider = &r
	}
	m.mu.Unlock()
	if from != to {
		observability.Transitions.WithLabelValues("driver", to.String()).Inc()
		m.Logger.Info("driver state changed", "from", from.String(), "to", to.String())
	}
	return nil
}

func (m *Machine) require(want State) (*models.Trip, *models.User, error) {
	state, trip, rider := m.current()
	if state != want {
		return nil, nil, fmt.Errorf("%w: in %s, need %s", ErrInvalidTransition, state, want)
	}
	return trip, rider, nil
}

// GoOnline starts looking for work with an immediate match check.
func (m *Machine) GoOnline(ctx context.Context) error {
	err := m.withOp(func() error {
		if s := m.State(); s != Offline && s != Online {
			return fmt.Errorf("%w: cannot go online from %s", ErrInvalidTransition, s)
		}
		return m.moveTo(Online, nil, nil, false)
	})
	if err != nil {
		return err
	}
	m.searchNow(ctx)
	return nil
}

// searchNow runs the match check that follows every entry to Online. A
// failure is logged and left for the next tick.
func (m *Machine) searchNow(ctx context.Context) {
	if _, err := m.FindMatch(ctx); err != nil {
		observability.PollErrors.WithLabelValues("driver_match").Inc()
		m.Logger.Warn("match check failed", "error", err)
	}
}

// GoOffline stops matching. An offered request is dropped, not snoozed.
func (m *Machine) GoOffline() error {
	return m.withOp(func() error { return m.moveTo(Offline, nil, nil, true) })
}

func (m *Machine) withOp(fn func() error) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return fn()
}

// FindMatch polls once for an open trip. It reports whether a request was
// received and does nothing unless the driver is online and idle.
func (m *Machine) FindMatch(ctx context.Context) (bool, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.State() != Online {
		return false, nil
	}
	offer, ok, err := m.Matching.Find(ctx)
	if err != nil {
		return false, fmt.Errorf("find match: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := m.moveTo(RequestReceived, &offer.Trip, &offer.Rider, false); err != nil {
		return false, err
	}
	m.Logger.Info("ride request received", "trip_id", offer.Trip.ID, "rider_id", offer.Rider.ID)
	return true, nil
}

// Accept claims the offered trip. When another driver won, the offer is
// discarded, the driver is back online and searching, and the returned
// error wraps matching.ErrTaken.
func (m *Machine) Accept(ctx context.Context) (models.Trip, error) {
	claimed, err := m.accept(ctx)
	if errors.Is(err, matching.ErrTaken) {
		m.searchNow(ctx)
	}
	return claimed, err
}

func (m *Machine) accept(ctx context.Context) (models.Trip, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	trip, rider, err := m.require(RequestReceived)
	if err != nil {
		return models.Trip{}, err
	}
	claimed, err := m.Matching.Claim(ctx, matching.Offer{Trip: *trip, Rider: *rider}, m.User, m.Vehicle)
	if errors.Is(err, matching.ErrTaken) {
		if merr := m.moveTo(Online, nil, nil, true); merr != nil {
			return models.Trip{}, merr
		}
		return models.Trip{}, err
	}
	if err != nil {
		return models.Trip{}, fmt.Errorf("accept trip %s: %w", trip.ID, err)
	}
	if err := m.moveTo(EnRouteToPickup, &claimed, nil, false); err != nil {
		return models.Trip{}, err
	}
	return claimed, nil
}

// Decline snoozes the offered trip and resumes searching.
func (m *Machine) Decline(ctx context.Context) error {
	err := m.withOp(func() error {
		trip, _, err := m.require(RequestReceived)
		if err != nil {
			return err
		}
		m.Matching.Decline(trip.ID)
		return m.moveTo(Online, nil, nil, true)
	})
	if err != nil {
		return err
	}
	m.searchNow(ctx)
	return nil
}

func (m *Machine) Pickup(ctx context.Context) error {
	return m.advance(ctx, EnRouteToPickup, OnTrip, models.TripOnTrip)
}

func (m *Machine) Complete(ctx context.Context) error {
	return m.advance(ctx, OnTrip, TripCompleted, models.TripCompleted)
}

func (m *Machine) advance(ctx context.Context, from, to State, status models.TripStatus) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	trip, _, err := m.require(from)
	if err != nil {
		return err
	}
	updated, err := m.Store.UpdateTripStatus(ctx, trip.ID, status)
	if err != nil {
		return fmt.Errorf("set trip %s to %s: %w", trip.ID, status, err)
	}
	return m.moveTo(to, &updated, nil, false)
}

// CheckPayment polls once for settlement while the trip is completed. A
// pending cash payment wins over a digital transaction.
func (m *Machine) CheckPayment(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	state, trip, _ := m.current()
	if state != TripCompleted || trip == nil {
		return nil
	}
	pending, err := m.Signal.Pending(ctx, trip.ID)
	if err != nil {
		return fmt.Errorf("check cash for trip %s: %w", trip.ID, err)
	}
	if pending {
		return m.moveTo(AwaitingCashPayment, nil, nil, false)
	}
	settled, err := settlement.DigitallySettled(ctx, m.Store, trip.ID)
	if err != nil {
		return fmt.Errorf("check payment for trip %s: %w", trip.ID, err)
	}
	if settled {
		return m.moveTo(RatingRider, nil, nil, false)
	}
	return nil
}

// ConfirmCash tells the rider the cash was received.
func (m *Machine) ConfirmCash(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	trip, _, err := m.require(AwaitingCashPayment)
	if err != nil {
		return err
	}
	if err := m.Signal.Confirm(ctx, trip.ID); err != nil {
		return fmt.Errorf("confirm cash for trip %s: %w", trip.ID, err)
	}
	return m.moveTo(RatingRider, nil, nil, false)
}

// Rate submits a 1..5 rating for the rider and puts the driver back
// online whatever the outcome.
func (m *Machine) Rate(ctx context.Context, rating int) error {
	online, err := m.rate(ctx, rating)
	if online {
		m.searchNow(ctx)
	}
	return err
}

func (m *Machine) rate(ctx context.Context, rating int) (bool, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	trip, _, err := m.require(RatingRider)
	if err != nil {
		return false, err
	}
	var rateErr error
	if trip != nil {
		if _, err := m.Store.UpdateUserRating(ctx, trip.RiderID, rating); err != nil {
			m.Logger.Warn("failed to submit rider rating", "trip_id", trip.ID, "error", err)
			rateErr = fmt.Errorf("rate rider: %w", err)
		}
	}
	if err := m.moveTo(Online, nil, nil, true); err != nil {
		return false, err
	}
	return true, rateErr
}

// Run drives the matching and payment polls until ctx is done.
func (m *Machine) Run(ctx context.Context) error {
	match := time.NewTicker(m.MatchInterval)
	defer match.Stop()
	payment := time.NewTicker(m.PaymentInterval)
	defer payment.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-match.C:
			if _, err := m.FindMatch(ctx); err != nil {
				observability.PollErrors.WithLabelValues("driver_match").Inc()
				m.Logger.Warn("match poll failed", "error", err)
			}
		case <-payment.C:
			if err := m.CheckPayment(ctx); err != nil {
				observability.PollErrors.WithLabelValues("driver_payment").Inc()
				m.Logger.Warn("payment poll failed", "error", err)
			}
		}
	}
}
