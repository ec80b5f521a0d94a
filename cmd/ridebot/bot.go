package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-session/internal/driver"
	"github.com/example/ride-session/internal/matching"
	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/rider"
	"github.com/example/ride-session/internal/storage"
)

var errTripCancelled = errors.New("trip was cancelled")

// riderBot plays one trip as the rider. Polling is left to the machine's
// own Run loop; the bot only takes the user's actions.
type riderBot struct {
	m           *rider.Machine
	destination string
	method      models.PaymentMethod
	rating      int
	step        time.Duration
	logger      *slog.Logger
}

func (b *riderBot) Run(ctx context.Context) error {
	trip, err := b.m.Request(ctx, b.destination)
	if err != nil {
		return err
	}
	b.logger.Info("trip requested", "trip_id", trip.ID, "fare", trip.Fare, "destination", trip.Destination)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = b.m.Run(ctx) }()

	ticker := time.NewTicker(b.step)
	defer ticker.Stop()
	last := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		snap := b.m.Snapshot()
		if line := rider.Describe(snap); line != last {
			b.logger.Info(line, "state", snap.State.String())
			last = line
		}
		switch snap.State {
		case rider.Payment:
			if _, err := b.m.Pay(ctx, b.method); err != nil {
				b.logger.Warn("payment failed", "error", err)
			}
		case rider.RatingDriver:
			return b.m.Rate(ctx, b.rating)
		case rider.Idle:
			return errTripCancelled
		}
	}
}

// driverBot serves trips until it has completed trips of them (forever
// when trips is zero). The first declines requests it sees are snoozed.
type driverBot struct {
	m        *driver.Machine
	declines int
	trips    int
	rating   int
	step     time.Duration
	logger   *slog.Logger
}

func (b *driverBot) Run(ctx context.Context) error {
	if err := b.m.GoOnline(ctx); err != nil {
		return err
	}
	defer func() { _ = b.m.GoOffline() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = b.m.Run(ctx) }()

	ticker := time.NewTicker(b.step)
	defer ticker.Stop()
	done := 0
	last := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		snap := b.m.Snapshot()
		if line := driver.Describe(snap); line != last {
			b.logger.Info(line, "state", snap.State.String())
			last = line
		}
		var err error
		switch snap.State {
		case driver.RequestReceived:
			if b.declines > 0 {
				b.declines--
				err = b.m.Decline(ctx)
				break
			}
			_, err = b.m.Accept(ctx)
			if errors.Is(err, matching.ErrTaken) {
				b.logger.Info("trip taken by another driver, searching again")
				err = nil
			}
		case driver.EnRouteToPickup:
			err = b.m.Pickup(ctx)
		case driver.OnTrip:
			err = b.m.Complete(ctx)
		case driver.AwaitingCashPayment:
			err = b.m.ConfirmCash(ctx)
		case driver.RatingRider:
			err = b.m.Rate(ctx, b.rating)
			done++
			if b.trips > 0 && done >= b.trips {
				return err
			}
		}
		if err != nil {
			b.logger.Warn("driver action failed", "state", snap.State.String(), "error", err)
		}
	}
}

// signIn logs in, registering the account first when it does not exist.
func signIn(ctx context.Context, a *storage.Accessor, name, email, secret string) (models.User, error) {
	u, err := a.LoginUser(ctx, email, secret)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, storage.ErrAuth) {
		return models.User{}, err
	}
	u, err = a.RegisterUser(ctx, name, email, secret)
	if errors.Is(err, storage.ErrConflict) {
		return models.User{}, fmt.Errorf("%w: wrong secret for %s", storage.ErrAuth, email)
	}
	return u, err
}
