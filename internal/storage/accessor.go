// Package storage is the only code that talks to the session document
// store. Every operation reads the whole document, applies a pure
// transformation and replaces the whole document. When the backend can
// make the replace conditional on the revision it read, a lost race is
// retried from a fresh read; otherwise the last replace wins.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/ride-session/internal/docstore"
	"github.com/example/ride-session/internal/events"
	"github.com/example/ride-session/internal/ids"
	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/observability"
)

const defaultMaxAttempts = 5

// errUnchanged lets a transformation finish a mutate without writing.
var errUnchanged = errors.New("document unchanged")

type Accessor struct {
	Store     docstore.Store
	SessionID string
	IDs       *ids.Generator
	Now       func() time.Time
	Events    events.Publisher
	Logger    *slog.Logger

	// MaxAttempts bounds read-modify-replace cycles on a versioned store.
	MaxAttempts int
	// HashCost is the bcrypt cost for credential secrets.
	HashCost int

	validate *validator.Validate
}

func NewAccessor(store docstore.Store, sessionID string, logger *slog.Logger) *Accessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accessor{
		Store:       store,
		SessionID:   sessionID,
		IDs:         ids.NewGenerator(),
		Now:         time.Now,
		Events:      events.Nop{},
		Logger:      logger,
		MaxAttempts: defaultMaxAttempts,
		HashCost:    bcrypt.DefaultCost,
		validate:    validator.New(),
	}
}

func (a *Accessor) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func (a *Accessor) checker() *validator.Validate {
	if a.validate == nil {
		a.validate = validator.New()
	}
	return a.validate
}

func (a *Accessor) check(v any) error {
	if err := a.checker().Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (a *Accessor) gen() *ids.Generator {
	if a.IDs == nil {
		a.IDs = ids.NewGenerator()
	}
	return a.IDs
}

// mutate runs one read-modify-replace cycle. fn may be applied more than
// once, each time to a fresh copy of the document; returning an error
// from fn aborts without writing.
func (a *Accessor) mutate(ctx context.Context, op string, fn func(doc *models.Document) error) (err error) {
	start := time.Now()
	defer func() { a.record(op, start, err) }()

	vs, ok := a.Store.(docstore.Versioned)
	if !ok {
		doc, err := a.Store.Read(ctx, a.SessionID)
		if err != nil {
			return transportErr(op, err)
		}
		if err := fn(&doc); err != nil {
			if errors.Is(err, errUnchanged) {
				return nil
			}
			return err
		}
		if err := a.Store.Replace(ctx, a.SessionID, doc); err != nil {
			return transportErr(op, err)
		}
		return nil
	}

	attempts := a.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	for i := 1; ; i++ {
		doc, ver, err := vs.ReadVersion(ctx, a.SessionID)
		if err != nil {
			return transportErr(op, err)
		}
		if err := fn(&doc); err != nil {
			if errors.Is(err, errUnchanged) {
				return nil
			}
			return err
		}
		err = vs.ReplaceIf(ctx, a.SessionID, doc, ver)
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrVersionMismatch) {
			return transportErr(op, err)
		}
		if i >= attempts {
			return fmt.Errorf("%s: %w: document kept changing after %d attempts", op, ErrConflict, i)
		}
		observability.CASRetries.WithLabelValues(op).Inc()
		a.Logger.Debug("store version mismatch, retrying", "op", op, "attempt", i)
	}
}

func (a *Accessor) view(ctx context.Context, op string, fn func(doc models.Document)) (err error) {
	start := time.Now()
	defer func() { a.record(op, start, err) }()
	doc, err := a.Store.Read(ctx, a.SessionID)
	if err != nil {
		return transportErr(op, err)
	}
	fn(doc)
	return nil
}

func (a *Accessor) record(op string, start time.Time, err error) {
	observability.StoreOpLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	observability.StoreOps.WithLabelValues(op, outcome(err)).Inc()
}

func (a *Accessor) publish(ctx context.Context, e events.Event) {
	if a.Events == nil {
		return
	}
	e.SessionID = a.SessionID
	if e.At.IsZero() {
		e.At = a.now()
	}
	if err := a.Events.Publish(ctx, e); err != nil {
		observability.EventPublishErrors.Inc()
		a.Logger.Warn("event publish failed", "type", string(e.Type), "trip_id", e.TripID, "error", err)
	}
}

func transportErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "error"
	}
}
