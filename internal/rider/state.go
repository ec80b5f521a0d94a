package rider

import (
	"fmt"

	"github.com/example/ride-session/internal/fare"
	"github.com/example/ride-session/internal/models"
)

type State int

const (
	Idle State = iota
	Requesting
	AwaitingDriver
	OnTrip
	Payment
	AwaitingCashConfirmation
	RatingDriver
)

var stateNames = [...]string{
	Idle:                     "IDLE",
	Requesting:               "REQUESTING",
	AwaitingDriver:           "AWAITING_DRIVER",
	OnTrip:                   "ON_TRIP",
	Payment:                  "PAYMENT",
	AwaitingCashConfirmation: "AWAITING_CASH_CONFIRMATION",
	RatingDriver:             "RATING_DRIVER",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// transitions lists every legal move. Remote Completed may be seen while
// still awaiting the driver if a poll missed On Trip, and a remote cancel
// returns any tracking state to Idle.
var transitions = map[State][]State{
	Idle:                     {Requesting},
	Requesting:               {AwaitingDriver, Idle},
	AwaitingDriver:           {OnTrip, Payment, Idle},
	OnTrip:                   {Payment, Idle},
	Payment:                  {AwaitingCashConfirmation, RatingDriver},
	AwaitingCashConfirmation: {RatingDriver},
	RatingDriver:             {Idle},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// tracking states poll the trip record.
func (s State) tracking() bool { return s == AwaitingDriver || s == OnTrip }

// Snapshot is a point-in-time copy of the rider's local view.
type Snapshot struct {
	State State
	Trip  *models.Trip
}

// Describe renders a snapshot as the one-line status a rider would see.
func Describe(s Snapshot) string {
	switch s.State {
	case Idle:
		return "Where to?"
	case Requesting:
		return "Requesting a ride..."
	case AwaitingDriver:
		if s.Trip != nil && s.Trip.Driver != nil {
			return fmt.Sprintf("%s is on their way!", s.Trip.Driver.Name)
		}
		return "Finding your driver..."
	case OnTrip:
		if s.Trip != nil {
			return "On trip to " + s.Trip.Destination
		}
		return "On trip"
	case Payment:
		if s.Trip != nil {
			return "Trip complete. Amount due " + fare.Format(s.Trip.Fare)
		}
		return "Trip complete"
	case AwaitingCashConfirmation:
		return "Waiting for the driver to confirm cash payment."
	case RatingDriver:
		if s.Trip != nil && s.Trip.Driver != nil {
			return "How was your ride with " + s.Trip.Driver.Name + "?"
		}
		return "How was your ride?"
	default:
		return s.State.String()
	}
}
