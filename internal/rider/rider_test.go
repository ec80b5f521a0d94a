package rider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/ride-session/internal/docstore"
	"github.com/example/ride-session/internal/fare"
	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/settlement"
	"github.com/example/ride-session/internal/storage"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var camry = models.Vehicle{Make: "Toyota", Model: "Camry", LicensePlate: "RIDE-123", Type: models.VehicleHomeCar}

type fixture struct {
	store  *storage.Accessor
	rider  models.User
	driver models.User
	m      *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	id, err := mem.Create(ctx, models.EmptyDocument())
	require.NoError(t, err)
	a := storage.NewAccessor(mem, id, quietLogger)
	a.HashCost = bcrypt.MinCost

	rider, err := a.RegisterUser(ctx, "Ann", "ann@example.com", "pw")
	require.NoError(t, err)
	driver, err := a.RegisterUser(ctx, "Bob", "bob@example.com", "pw")
	require.NoError(t, err)

	m := New(rider, a, settlement.StoreSignal{Store: a}, quietLogger)
	m.Fares = fare.Fixed(25)
	return &fixture{store: a, rider: rider, driver: driver, m: m}
}

// assigned requests a trip and has the driver claim it.
func (f *fixture) assigned(t *testing.T) models.Trip {
	t.Helper()
	ctx := context.Background()
	trip, err := f.m.Request(ctx, "Downtown")
	require.NoError(t, err)
	trip, err = f.store.AcceptTrip(ctx, trip.ID, f.driver, camry)
	require.NoError(t, err)
	return trip
}

func TestRequestCreatesTripAndAwaitsDriver(t *testing.T) {
	f := newFixture(t)
	trip, err := f.m.Request(context.Background(), "Downtown")
	require.NoError(t, err)

	assert.Equal(t, models.TripRequested, trip.Status)
	assert.Equal(t, 25.0, trip.Fare)
	assert.Equal(t, DefaultPickup, trip.Pickup)
	assert.Equal(t, f.rider.ID, trip.RiderID)

	snap := f.m.Snapshot()
	assert.Equal(t, AwaitingDriver, snap.State)
	require.NotNil(t, snap.Trip)
	assert.Equal(t, trip.ID, snap.Trip.ID)
	assert.Equal(t, "Finding your driver...", Describe(snap))

	_, err = f.m.Request(context.Background(), "Uptown")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRequestFailureReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	f.m.Store = failingStore{Store: f.store}
	_, err := f.m.Request(context.Background(), "Downtown")
	require.Error(t, err)
	assert.Equal(t, Idle, f.m.State())
	assert.Nil(t, f.m.Snapshot().Trip)
}

func TestTrackFollowsRemoteStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	trip := f.assigned(t)

	require.NoError(t, f.m.Track(ctx))
	snap := f.m.Snapshot()
	assert.Equal(t, AwaitingDriver, snap.State)
	require.NotNil(t, snap.Trip.Driver)
	assert.Equal(t, f.driver.ID, *snap.Trip.DriverID)
	assert.Equal(t, "Bob is on their way!", Describe(snap))

	_, err := f.store.UpdateTripStatus(ctx, trip.ID, models.TripOnTrip)
	require.NoError(t, err)
	require.NoError(t, f.m.Track(ctx))
	assert.Equal(t, OnTrip, f.m.State())

	_, err = f.store.UpdateTripStatus(ctx, trip.ID, models.TripCompleted)
	require.NoError(t, err)
	require.NoError(t, f.m.Track(ctx))
	snap = f.m.Snapshot()
	assert.Equal(t, Payment, snap.State)
	assert.Equal(t, "Trip complete. Amount due $25.00", Describe(snap))

	// Payment is not a tracking state; further polls are no-ops.
	require.NoError(t, f.m.Track(ctx))
	assert.Equal(t, Payment, f.m.State())
}

func TestTrackSkipsOnTripWhenCompletionSeenFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	trip := f.assigned(t)
	_, err := f.store.UpdateTripStatus(ctx, trip.ID, models.TripCompleted)
	require.NoError(t, err)

	require.NoError(t, f.m.Track(ctx))
	assert.Equal(t, Payment, f.m.State())
}

func TestTrackRemoteCancelReturnsToIdle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	trip, err := f.m.Request(ctx, "Downtown")
	require.NoError(t, err)
	_, err = f.store.UpdateTripStatus(ctx, trip.ID, models.TripCancelled)
	require.NoError(t, err)

	require.NoError(t, f.m.Track(ctx))
	snap := f.m.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Nil(t, snap.Trip)
}

func TestTrackTransportErrorKeepsLocalState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	trip, err := f.m.Request(ctx, "Downtown")
	require.NoError(t, err)

	f.m.Store = failingStore{Store: f.store}
	err = f.m.Track(ctx)
	assert.ErrorIs(t, err, storage.ErrTransport)
	snap := f.m.Snapshot()
	assert.Equal(t, AwaitingDriver, snap.State)
	assert.Equal(t, trip.ID, snap.Trip.ID)
}

func TestCancelWhileAwaitingDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	trip, err := f.m.Request(ctx, "Downtown")
	require.NoError(t, err)

	require.NoError(t, f.m.Cancel(ctx))
	assert.Equal(t, Idle, f.m.State())

	stored, ok, err := f.store.GetTripByID(ctx, trip.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.TripCancelled, stored.Status)

	assert.ErrorIs(t, f.m.Cancel(ctx), ErrInvalidTransition)
}

func TestCancelLosesToEarlierClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	trip := f.assigned(t)

	err := f.m.Cancel(ctx)
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.Equal(t, AwaitingDriver, f.m.State())

	stored, _, err := f.store.GetTripByID(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripDriverAssigned, stored.Status)
}

func completed(t *testing.T, f *fixture) models.Trip {
	t.Helper()
	ctx := context.Background()
	trip := f.assigned(t)
	_, err := f.store.UpdateTripStatus(ctx, trip.ID, models.TripCompleted)
	require.NoError(t, err)
	require.NoError(t, f.m.Track(ctx))
	require.Equal(t, Payment, f.m.State())
	return trip
}

func TestDigitalPaymentGoesStraightToRating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	trip := completed(t, f)

	txn, err := f.m.Pay(ctx, models.PaymentCreditCard)
	require.NoError(t, err)
	assert.Equal(t, trip.Fare, txn.Amount)
	assert.Equal(t, RatingDriver, f.m.State())
	assert.Equal(t, "How was your ride with Bob?", Describe(f.m.Snapshot()))
}

func TestCashPaymentWaitsForConfirmation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	trip := completed(t, f)

	txn, err := f.m.Pay(ctx, models.PaymentCash)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCash, txn.Method)
	assert.Equal(t, AwaitingCashConfirmation, f.m.State())

	stored, _, err := f.store.GetTripByID(ctx, trip.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.CashPendingAt)

	require.NoError(t, f.m.CheckCash(ctx))
	assert.Equal(t, AwaitingCashConfirmation, f.m.State())

	_, err = f.store.ConfirmCash(ctx, trip.ID)
	require.NoError(t, err)
	require.NoError(t, f.m.CheckCash(ctx))
	assert.Equal(t, RatingDriver, f.m.State())
}

func TestRateUpdatesDriverAndResets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	completed(t, f)
	_, err := f.m.Pay(ctx, models.PaymentPayPal)
	require.NoError(t, err)

	require.NoError(t, f.m.Rate(ctx, 4))
	snap := f.m.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Nil(t, snap.Trip)

	driver, ok, err := f.store.GetUserByID(ctx, f.driver.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4.0, driver.Rating)
	assert.Equal(t, 1, driver.NumRatings)
}

func TestRateFailureStillResets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	completed(t, f)
	_, err := f.m.Pay(ctx, models.PaymentApplePay)
	require.NoError(t, err)

	err = f.m.Rate(ctx, 9)
	assert.ErrorIs(t, err, storage.ErrInvalid)
	assert.Equal(t, Idle, f.m.State())
}

func TestPayOutsidePaymentIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.Pay(context.Background(), models.PaymentCash)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCanTransitionTable(t *testing.T) {
	assert.True(t, canTransition(Idle, Requesting))
	assert.True(t, canTransition(AwaitingDriver, Payment))
	assert.True(t, canTransition(OnTrip, Idle))
	assert.False(t, canTransition(Idle, Payment))
	assert.False(t, canTransition(AwaitingCashConfirmation, Idle))
	assert.Equal(t, "AWAITING_CASH_CONFIRMATION", AwaitingCashConfirmation.String())
}

var errStoreDown = errors.New("store down")

// failingStore fails every trip read and write with a transport error.
type failingStore struct{ Store }

func (failingStore) CreateTrip(context.Context, string, string, string, float64) (models.Trip, error) {
	return models.Trip{}, errors.Join(storage.ErrTransport, errStoreDown)
}

func (failingStore) GetTripByID(context.Context, string) (models.Trip, bool, error) {
	return models.Trip{}, false, errors.Join(storage.ErrTransport, errStoreDown)
}
