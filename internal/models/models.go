package models

type TripStatus string

const (
	TripRequested       TripStatus = "Requested"
	TripDriverAssigned  TripStatus = "Driver Assigned"
	TripEnRouteToPickup TripStatus = "En Route to Pickup"
	TripOnTrip          TripStatus = "On Trip"
	TripCompleted       TripStatus = "Completed"
	TripCancelled       TripStatus = "Cancelled"
)

type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "Cash"
	PaymentCreditCard PaymentMethod = "Credit Card"
	PaymentPayPal     PaymentMethod = "PayPal"
	PaymentApplePay   PaymentMethod = "Apple Pay"
	PaymentGooglePay  PaymentMethod = "Google Pay"
)

// PaymentMethods lists every method a rider may settle with.
var PaymentMethods = []PaymentMethod{PaymentCash, PaymentCreditCard, PaymentPayPal, PaymentApplePay, PaymentGooglePay}

func (m PaymentMethod) Valid() bool {
	for _, pm := range PaymentMethods {
		if pm == m {
			return true
		}
	}
	return false
}

// Digital reports whether the method settles without a driver handshake.
func (m PaymentMethod) Digital() bool { return m.Valid() && m != PaymentCash }

type VehicleType string

const (
	VehicleTaxi    VehicleType = "Taxi"
	VehicleHomeCar VehicleType = "Home Car"
	VehiclePremium VehicleType = "Premium"
)

type User struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Password   string  `json:"password"` // bcrypt hash
	AvatarURL  string  `json:"avatarUrl"`
	Rating     float64 `json:"rating"` // 1..5
	NumRatings int     `json:"numRatings"`
}

type Vehicle struct {
	Make         string      `json:"make"`
	Model        string      `json:"model"`
	LicensePlate string      `json:"licensePlate"`
	Type         VehicleType `json:"type"`
}

type Trip struct {
	ID          string     `json:"id"`
	RiderID     string     `json:"riderId"`
	DriverID    *string    `json:"driverId"`
	Pickup      string     `json:"pickup"`
	Destination string     `json:"destination"`
	Fare        float64    `json:"fare"`
	Driver      *User      `json:"driver"`
	Vehicle     *Vehicle   `json:"vehicle"`
	Status      TripStatus `json:"status"`
	CreatedAt   int64      `json:"createdAt"` // epoch millis

	CashPendingAt   *int64 `json:"cashPendingAt,omitempty"`
	CashConfirmedAt *int64 `json:"cashConfirmedAt,omitempty"`
}

// Assigned reports whether a driver has claimed the trip.
func (t Trip) Assigned() bool { return t.DriverID != nil && *t.DriverID != "" }

type Transaction struct {
	ID        string        `json:"id"`
	TripID    string        `json:"tripId"`
	UserID    string        `json:"userId"`
	Amount    float64       `json:"amount"`
	Method    PaymentMethod `json:"method"`
	Timestamp int64         `json:"timestamp"`
}

// Document is the whole shared state of one session.
type Document struct {
	Users        []User        `json:"users"`
	Trips        []Trip        `json:"trips"`
	Transactions []Transaction `json:"transactions"`
}

// EmptyDocument returns a document whose collections encode as [] rather than null.
func EmptyDocument() Document {
	return Document{Users: []User{}, Trips: []Trip{}, Transactions: []Transaction{}}
}
