// Package matching is the driver side of trip discovery: find the newest
// open trip, then either claim it exclusively or snooze it.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/observability"
	"github.com/example/ride-session/internal/storage"
)

// ErrTaken means the trip was claimed (or cancelled) before our accept
// landed. Callers resume searching; the same trip is not retried.
var ErrTaken = errors.New("trip taken")

type Store interface {
	FindOpenTrip(ctx context.Context, exclude []string) (models.Trip, bool, error)
	GetUserByID(ctx context.Context, id string) (models.User, bool, error)
	AcceptTrip(ctx context.Context, tripID string, driver models.User, vehicle models.Vehicle) (models.Trip, error)
}

// Offer is an open trip together with the rider who requested it.
type Offer struct {
	Trip  models.Trip
	Rider models.User
}

type Protocol struct {
	Store   Store
	Snoozed *SnoozeSet
	Logger  *slog.Logger
}

func NewProtocol(store Store, snoozed *SnoozeSet, logger *slog.Logger) *Protocol {
	if snoozed == nil {
		snoozed = NewSnoozeSet(DefaultCooldown)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{Store: store, Snoozed: snoozed, Logger: logger}
}

// Find looks for the newest open trip that is not snoozed. A trip whose
// rider cannot be found is skipped for this round.
func (p *Protocol) Find(ctx context.Context) (Offer, bool, error) {
	trip, ok, err := p.Store.FindOpenTrip(ctx, p.Snoozed.IDs())
	if err != nil || !ok {
		return Offer{}, false, err
	}
	rider, ok, err := p.Store.GetUserByID(ctx, trip.RiderID)
	if err != nil {
		return Offer{}, false, err
	}
	if !ok {
		p.Logger.Warn("open trip has unknown rider", "trip_id", trip.ID, "rider_id", trip.RiderID)
		return Offer{}, false, nil
	}
	return Offer{Trip: trip, Rider: rider}, true, nil
}

// Claim accepts the offered trip for driver. Losing the race returns an
// error wrapping ErrTaken.
func (p *Protocol) Claim(ctx context.Context, offer Offer, driver models.User, vehicle models.Vehicle) (models.Trip, error) {
	trip, err := p.Store.AcceptTrip(ctx, offer.Trip.ID, driver, vehicle)
	switch {
	case err == nil:
		observability.MatchesTotal.Inc()
		return trip, nil
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrNotFound):
		observability.AcceptConflicts.Inc()
		p.Logger.Info("trip taken before accept", "trip_id", offer.Trip.ID, "driver_id", driver.ID)
		return models.Trip{}, fmt.Errorf("%w: %w", ErrTaken, err)
	default:
		return models.Trip{}, err
	}
}

// Decline snoozes the trip so Find skips it until the cool-down passes.
func (p *Protocol) Decline(tripID string) {
	p.Snoozed.Snooze(tripID)
}
