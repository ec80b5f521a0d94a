package events

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventKeyPrefersTrip(t *testing.T) {
	assert.Equal(t, "trip_1", Event{TripID: "trip_1", UserID: "user_1"}.Key())
	assert.Equal(t, "user_1", Event{UserID: "user_1"}.Key())
}

func TestLogPublisherWritesType(t *testing.T) {
	var buf bytes.Buffer
	l := LogPublisher{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	err := l.Publish(context.Background(), Event{Type: TripAccepted, TripID: "trip_9", At: time.Now()})
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), `"type":"trip.accepted"`)
	assert.Contains(t, buf.String(), `"trip_id":"trip_9"`)
}
