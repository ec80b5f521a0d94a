package driver

import (
	"fmt"

	"github.com/example/ride-session/internal/fare"
	"github.com/example/ride-session/internal/models"
)

type State int

const (
	Offline State = iota
	Online
	RequestReceived
	EnRouteToPickup
	OnTrip
	TripCompleted
	AwaitingCashPayment
	RatingRider
)

var stateNames = [...]string{
	Offline:             "OFFLINE",
	Online:              "ONLINE",
	RequestReceived:     "REQUEST_RECEIVED",
	EnRouteToPickup:     "EN_ROUTE_TO_PICKUP",
	OnTrip:              "ON_TRIP",
	TripCompleted:       "TRIP_COMPLETED",
	AwaitingCashPayment: "AWAITING_CASH_PAYMENT",
	RatingRider:         "RATING_RIDER",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

var transitions = map[State][]State{
	Offline:             {Online},
	Online:              {Offline, RequestReceived},
	RequestReceived:     {Online, Offline, EnRouteToPickup},
	EnRouteToPickup:     {OnTrip},
	OnTrip:              {TripCompleted},
	TripCompleted:       {AwaitingCashPayment, RatingRider},
	AwaitingCashPayment: {RatingRider},
	RatingRider:         {Online},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time copy of the driver's local view. Rider is
// set while a request is offered or a trip is in progress.
type Snapshot struct {
	State State
	Trip  *models.Trip
	Rider *models.User
}

// Describe renders a snapshot as the driver's one-line status.
func Describe(s Snapshot) string {
	switch s.State {
	case Offline:
		return "You are offline."
	case Online:
		return "Looking for riders..."
	case RequestReceived:
		if s.Trip != nil && s.Rider != nil {
			return fmt.Sprintf("New request from %s (%s): %s to %s, %s",
				s.Rider.Name, fare.FormatRating(s.Rider.Rating), s.Trip.Pickup, s.Trip.Destination, fare.Format(s.Trip.Fare))
		}
		return "New ride request"
	case EnRouteToPickup:
		if s.Trip != nil {
			return "Heading to pickup at " + s.Trip.Pickup
		}
		return "Heading to pickup"
	case OnTrip:
		if s.Trip != nil {
			return "Driving to " + s.Trip.Destination
		}
		return "On trip"
	case TripCompleted:
		return "Trip complete. Waiting for payment..."
	case AwaitingCashPayment:
		if s.Trip != nil {
			return "Collect " + fare.Format(s.Trip.Fare) + " in cash"
		}
		return "Collect cash payment"
	case RatingRider:
		if s.Rider != nil {
			return "Rate your rider " + s.Rider.Name
		}
		return "Rate your rider"
	default:
		return s.State.String()
	}
}
