package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/ride-session/internal/events"
	"github.com/example/ride-session/internal/ids"
	"github.com/example/ride-session/internal/models"
)

type tripRequest struct {
	RiderID     string  `validate:"required"`
	Destination string  `validate:"required"`
	Fare        float64 `validate:"gte=0"`
}

var knownStatuses = map[models.TripStatus]bool{
	models.TripRequested:       true,
	models.TripDriverAssigned:  true,
	models.TripEnRouteToPickup: true,
	models.TripOnTrip:          true,
	models.TripCompleted:       true,
	models.TripCancelled:       true,
}

func findTrip(doc *models.Document, id string) (*models.Trip, error) {
	for i := range doc.Trips {
		if doc.Trips[i].ID == id {
			return &doc.Trips[i], nil
		}
	}
	return nil, fmt.Errorf("%w: trip %s", ErrNotFound, id)
}

// newestFirst orders by creation time, then id, both descending.
func newestFirst(trips []models.Trip) {
	sort.SliceStable(trips, func(i, j int) bool {
		if trips[i].CreatedAt != trips[j].CreatedAt {
			return trips[i].CreatedAt > trips[j].CreatedAt
		}
		return trips[i].ID > trips[j].ID
	})
}

// CreateTrip records a new request with no driver and status Requested.
func (a *Accessor) CreateTrip(ctx context.Context, riderID, pickup, destination string, fare float64) (models.Trip, error) {
	if err := a.check(tripRequest{RiderID: riderID, Destination: destination, Fare: fare}); err != nil {
		return models.Trip{}, err
	}
	trip := models.Trip{
		ID:          a.gen().New(ids.TripPrefix),
		RiderID:     riderID,
		Pickup:      pickup,
		Destination: destination,
		Fare:        fare,
		Status:      models.TripRequested,
		CreatedAt:   a.now().UnixMilli(),
	}
	err := a.mutate(ctx, "create_trip", func(doc *models.Document) error {
		doc.Trips = append(doc.Trips, trip)
		return nil
	})
	if err != nil {
		return models.Trip{}, err
	}
	a.publish(ctx, events.Event{Type: events.TripRequested, TripID: trip.ID, UserID: riderID, Status: string(trip.Status), Amount: fare})
	return trip, nil
}

func (a *Accessor) GetTripByID(ctx context.Context, id string) (trip models.Trip, ok bool, err error) {
	err = a.view(ctx, "get_trip", func(doc models.Document) {
		if t, ferr := findTrip(&doc, id); ferr == nil {
			trip, ok = *t, true
		}
	})
	return trip, ok, err
}

// FindOpenTrip returns the newest Requested trip whose id is not in
// exclude.
func (a *Accessor) FindOpenTrip(ctx context.Context, exclude []string) (trip models.Trip, ok bool, err error) {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	err = a.view(ctx, "find_open_trip", func(doc models.Document) {
		open := make([]models.Trip, 0, len(doc.Trips))
		for _, t := range doc.Trips {
			if t.Status == models.TripRequested && !skip[t.ID] {
				open = append(open, t)
			}
		}
		if len(open) == 0 {
			return
		}
		newestFirst(open)
		trip, ok = open[0], true
	})
	return trip, ok, err
}

// AcceptTrip binds driver and vehicle to a trip that is still Requested.
// Any other status means another driver (or a cancel) got there first.
func (a *Accessor) AcceptTrip(ctx context.Context, tripID string, driver models.User, vehicle models.Vehicle) (models.Trip, error) {
	var accepted models.Trip
	snapshot := profile(driver)
	err := a.mutate(ctx, "accept_trip", func(doc *models.Document) error {
		t, err := findTrip(doc, tripID)
		if err != nil {
			return err
		}
		if t.Status != models.TripRequested {
			return fmt.Errorf("%w: trip no longer available", ErrConflict)
		}
		driverID := snapshot.ID
		v := vehicle
		t.DriverID = &driverID
		t.Driver = &snapshot
		t.Vehicle = &v
		t.Status = models.TripDriverAssigned
		accepted = *t
		return nil
	})
	if err != nil {
		return models.Trip{}, err
	}
	a.publish(ctx, events.Event{Type: events.TripAccepted, TripID: tripID, UserID: snapshot.ID, Status: string(accepted.Status)})
	return accepted, nil
}

// UpdateTripStatus overwrites the status unconditionally.
func (a *Accessor) UpdateTripStatus(ctx context.Context, tripID string, status models.TripStatus) (models.Trip, error) {
	if !knownStatuses[status] {
		return models.Trip{}, fmt.Errorf("%w: unknown trip status %q", ErrInvalid, status)
	}
	var updated models.Trip
	err := a.mutate(ctx, "update_trip_status", func(doc *models.Document) error {
		t, err := findTrip(doc, tripID)
		if err != nil {
			return err
		}
		t.Status = status
		updated = *t
		return nil
	})
	if err != nil {
		return models.Trip{}, err
	}
	a.publish(ctx, events.Event{Type: events.TripStatusChanged, TripID: tripID, Status: string(status)})
	return updated, nil
}

// CancelTrip cancels a trip only while it is still Requested, so a cancel
// can never undo a claim that landed first.
func (a *Accessor) CancelTrip(ctx context.Context, tripID string) (models.Trip, error) {
	var cancelled models.Trip
	err := a.mutate(ctx, "cancel_trip", func(doc *models.Document) error {
		t, err := findTrip(doc, tripID)
		if err != nil {
			return err
		}
		if t.Status != models.TripRequested {
			return fmt.Errorf("%w: trip is %s", ErrConflict, t.Status)
		}
		t.Status = models.TripCancelled
		cancelled = *t
		return nil
	})
	if err != nil {
		return models.Trip{}, err
	}
	a.publish(ctx, events.Event{Type: events.TripStatusChanged, TripID: tripID, Status: string(models.TripCancelled)})
	return cancelled, nil
}

// GetTripsForUser lists trips the user rode or drove, newest first.
func (a *Accessor) GetTripsForUser(ctx context.Context, userID string) ([]models.Trip, error) {
	var out []models.Trip
	err := a.view(ctx, "trips_for_user", func(doc models.Document) {
		for _, t := range doc.Trips {
			if t.RiderID == userID || (t.DriverID != nil && *t.DriverID == userID) {
				out = append(out, t)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	newestFirst(out)
	return out, nil
}

// MarkCashPending records that the rider chose to pay cash. The first
// mark wins.
func (a *Accessor) MarkCashPending(ctx context.Context, tripID string) (models.Trip, error) {
	return a.stampCash(ctx, "mark_cash_pending", tripID, func(t *models.Trip) **int64 { return &t.CashPendingAt }, events.TripCashPending)
}

// ConfirmCash records that the driver received the cash.
func (a *Accessor) ConfirmCash(ctx context.Context, tripID string) (models.Trip, error) {
	return a.stampCash(ctx, "confirm_cash", tripID, func(t *models.Trip) **int64 { return &t.CashConfirmedAt }, events.TripCashConfirmed)
}

func (a *Accessor) stampCash(ctx context.Context, op, tripID string, field func(*models.Trip) **int64, typ events.Type) (models.Trip, error) {
	at := a.now().UnixMilli()
	var updated models.Trip
	err := a.mutate(ctx, op, func(doc *models.Document) error {
		t, err := findTrip(doc, tripID)
		if err != nil {
			return err
		}
		updated = *t
		f := field(t)
		if *f != nil {
			return errUnchanged
		}
		stamp := at
		*f = &stamp
		updated = *t
		return nil
	})
	if err != nil {
		return models.Trip{}, err
	}
	a.publish(ctx, events.Event{Type: typ, TripID: tripID, Status: string(updated.Status)})
	return updated, nil
}
