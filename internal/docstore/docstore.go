// Package docstore holds the shared session document. Every backend stores
// the whole document as one JSON value and only supports whole-document
// reads and replaces; there is no partial update.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/ride-session/internal/models"
)

var (
	ErrNotFound        = errors.New("docstore: session not found")
	ErrVersionMismatch = errors.New("docstore: document version changed")
	ErrMalformed       = errors.New("docstore: malformed document")
)

// Version identifies one revision of a session document. The empty
// Version means the backend could not report one.
type Version string

// Store is the raw whole-document protocol.
type Store interface {
	Create(ctx context.Context, doc models.Document) (string, error)
	Read(ctx context.Context, sessionID string) (models.Document, error)
	Replace(ctx context.Context, sessionID string, doc models.Document) error
}

// Versioned is implemented by backends that can make a replace conditional
// on the revision that was read.
type Versioned interface {
	Store
	ReadVersion(ctx context.Context, sessionID string) (models.Document, Version, error)
	// ReplaceIf stores doc only if the current revision equals expected,
	// returning ErrVersionMismatch otherwise.
	ReplaceIf(ctx context.Context, sessionID string, doc models.Document, expected Version) error
}

// Encode renders a document, normalizing nil collections to empty arrays.
func Encode(doc models.Document) ([]byte, error) {
	if doc.Users == nil {
		doc.Users = []models.User{}
	}
	if doc.Trips == nil {
		doc.Trips = []models.Trip{}
	}
	if doc.Transactions == nil {
		doc.Transactions = []models.Transaction{}
	}
	return json.Marshal(doc)
}

// Decode parses a document and rejects bodies missing any collection.
func Decode(b []byte) (models.Document, error) {
	var raw struct {
		Users        *[]models.User        `json:"users"`
		Trips        *[]models.Trip        `json:"trips"`
		Transactions *[]models.Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return models.Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Users == nil || raw.Trips == nil || raw.Transactions == nil {
		return models.Document{}, fmt.Errorf("%w: missing collection", ErrMalformed)
	}
	return models.Document{Users: *raw.Users, Trips: *raw.Trips, Transactions: *raw.Transactions}, nil
}
