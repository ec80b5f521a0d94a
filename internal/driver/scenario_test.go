package driver

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-session/internal/fare"
	"github.com/example/ride-session/internal/matching"
	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/rider"
	"github.com/example/ride-session/internal/settlement"
	"github.com/example/ride-session/internal/storage"
)

// Rider and driver clients share nothing but the session document.

func newRider(s *session) *rider.Machine {
	r := rider.New(s.rider, s.store, settlement.StoreSignal{Store: s.store}, quietLogger)
	r.Fares = fare.Fixed(25)
	return r
}

func TestScenarioRequestAndAccept(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	r := newRider(s)
	d := s.newDriver(t, "Bob", "bob@example.com")

	trip, err := r.Request(ctx, "Downtown")
	require.NoError(t, err)
	assert.Equal(t, models.TripRequested, trip.Status)
	assert.Equal(t, 25.0, trip.Fare)

	require.NoError(t, d.GoOnline(ctx))
	require.Equal(t, RequestReceived, d.State())
	accepted, err := d.Accept(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TripDriverAssigned, accepted.Status)
	require.NotNil(t, accepted.DriverID)
	assert.Equal(t, d.User.ID, *accepted.DriverID)
	assert.Empty(t, accepted.Driver.Password)

	require.NoError(t, r.Track(ctx))
	snap := r.Snapshot()
	assert.Equal(t, rider.AwaitingDriver, snap.State)
	require.NotNil(t, snap.Trip.Driver)
	assert.Equal(t, "Bob", snap.Trip.Driver.Name)
	assert.Equal(t, "Toyota", snap.Trip.Vehicle.Make)
}

func TestScenarioConcurrentAccept(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	trip := s.request(t, "Downtown")
	drivers := []*Machine{
		s.newDriver(t, "Bob", "bob@example.com"),
		s.newDriver(t, "Cat", "cat@example.com"),
	}
	for _, d := range drivers {
		require.NoError(t, d.GoOnline(ctx))
		require.Equal(t, RequestReceived, d.State())
	}

	errs := make([]error, len(drivers))
	var wg sync.WaitGroup
	for i, d := range drivers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = d.Accept(ctx)
		}()
	}
	wg.Wait()

	var won, lost int
	for i, err := range errs {
		if err == nil {
			won++
			assert.Equal(t, EnRouteToPickup, drivers[i].State())
			continue
		}
		lost++
		assert.ErrorIs(t, err, matching.ErrTaken)
		assert.ErrorIs(t, err, storage.ErrConflict)
		assert.Equal(t, Online, drivers[i].State())
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	stored, _, err := s.store.GetTripByID(ctx, trip.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DriverID)
}

func TestScenarioCancelHidesTrip(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	r := newRider(s)
	d := s.newDriver(t, "Bob", "bob@example.com")

	trip, err := r.Request(ctx, "Downtown")
	require.NoError(t, err)
	require.NoError(t, r.Cancel(ctx))
	assert.Equal(t, rider.Idle, r.State())

	stored, _, err := s.store.GetTripByID(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripCancelled, stored.Status)

	require.NoError(t, d.GoOnline(ctx))
	ok, err := d.FindMatch(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Online, d.State())
}

// rideToCompletion runs both clients through to a completed trip.
func rideToCompletion(t *testing.T, r *rider.Machine, d *Machine) models.Trip {
	t.Helper()
	ctx := context.Background()
	trip, err := r.Request(ctx, "Downtown")
	require.NoError(t, err)
	require.NoError(t, d.GoOnline(ctx))
	_, err = d.Accept(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Pickup(ctx))
	require.NoError(t, r.Track(ctx))
	require.Equal(t, rider.OnTrip, r.State())
	require.NoError(t, d.Complete(ctx))
	require.NoError(t, r.Track(ctx))
	require.Equal(t, rider.Payment, r.State())
	return trip
}

func TestScenarioCashNeedsConfirmation(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	r := newRider(s)
	d := s.newDriver(t, "Bob", "bob@example.com")
	trip := rideToCompletion(t, r, d)

	txn, err := r.Pay(ctx, models.PaymentCash)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCash, txn.Method)
	assert.Equal(t, trip.Fare, txn.Amount)
	assert.Equal(t, rider.AwaitingCashConfirmation, r.State())

	for range 3 {
		require.NoError(t, d.CheckPayment(ctx))
		require.NoError(t, r.CheckCash(ctx))
	}
	assert.Equal(t, AwaitingCashPayment, d.State())
	assert.Equal(t, rider.AwaitingCashConfirmation, r.State())

	require.NoError(t, d.ConfirmCash(ctx))
	assert.Equal(t, RatingRider, d.State())
	require.NoError(t, r.CheckCash(ctx))
	assert.Equal(t, rider.RatingDriver, r.State())

	require.NoError(t, r.Rate(ctx, 5))
	require.NoError(t, d.Rate(ctx, 4))
	assert.Equal(t, rider.Idle, r.State())
	assert.Equal(t, Online, d.State())
}

func TestScenarioDigitalSettlesAutomatically(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	r := newRider(s)
	d := s.newDriver(t, "Bob", "bob@example.com")
	trip := rideToCompletion(t, r, d)

	require.NoError(t, d.CheckPayment(ctx))
	assert.Equal(t, TripCompleted, d.State())

	txn, err := r.Pay(ctx, models.PaymentCreditCard)
	require.NoError(t, err)
	assert.Equal(t, trip.Fare, txn.Amount)
	assert.Equal(t, rider.RatingDriver, r.State())

	require.NoError(t, d.CheckPayment(ctx))
	assert.Equal(t, RatingRider, d.State())

	history, err := s.store.GetTripsForUser(ctx, d.User.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.TripCompleted, history[0].Status)
}
