package docstore

import (
	"context"
	"fmt"
	"net/url"

	"github.com/example/ride-session/internal/models"
)

const sessionParam = "session"

// SessionFromURL returns the session id carried in a share URL, if any.
func SessionFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return u.Query().Get(sessionParam), nil
}

// ShareURL returns base with the session query parameter set, so a second
// device can join by opening it.
func ShareURL(base, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(sessionParam, sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Bootstrap joins the session named by sessionID or, when it is empty,
// creates a fresh empty document. It returns the session id in use and
// whether it was newly created.
func Bootstrap(ctx context.Context, s Store, sessionID string) (string, bool, error) {
	if sessionID != "" {
		if _, err := s.Read(ctx, sessionID); err != nil {
			return "", false, fmt.Errorf("join session %s: %w", sessionID, err)
		}
		return sessionID, false, nil
	}
	id, err := s.Create(ctx, models.EmptyDocument())
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
