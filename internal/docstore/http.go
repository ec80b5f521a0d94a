package docstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/example/ride-session/internal/models"
)

// HTTPStore talks to a jsonblob-style document service:
//
//	POST {base}        create, id returned in the Location header
//	GET  {base}/{id}   read
//	PUT  {base}/{id}   replace
//
// Services that send an ETag and honour If-Match give real conditional
// replaces; others silently fall back to last-writer-wins.
type HTTPStore struct {
	Base   string
	Client *http.Client
}

func NewHTTPStore(base string) *HTTPStore {
	return &HTTPStore{Base: strings.TrimRight(base, "/"), Client: &http.Client{Timeout: 5 * time.Second}}
}

func (h *HTTPStore) Create(ctx context.Context, doc models.Document) (string, error) {
	b, err := Encode(doc)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Base, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := h.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("create session: unexpected status %s", resp.Status)
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("create session: response has no Location header")
	}
	id := sessionFromLocation(loc)
	if id == "" {
		return "", fmt.Errorf("create session: cannot parse session id from %q", loc)
	}
	return id, nil
}

func (h *HTTPStore) Read(ctx context.Context, sessionID string) (models.Document, error) {
	doc, _, err := h.ReadVersion(ctx, sessionID)
	return doc, err
}

func (h *HTTPStore) ReadVersion(ctx context.Context, sessionID string) (models.Document, Version, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url(sessionID), nil)
	if err != nil {
		return models.Document{}, "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := h.Client.Do(req)
	if err != nil {
		return models.Document{}, "", fmt.Errorf("read session: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusNotFound {
		return models.Document{}, "", ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		return models.Document{}, "", fmt.Errorf("read session: unexpected status %s", resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Document{}, "", fmt.Errorf("read session: %w", err)
	}
	doc, err := Decode(b)
	if err != nil {
		return models.Document{}, "", err
	}
	return doc, parseETag(resp.Header.Get("ETag")), nil
}

func (h *HTTPStore) Replace(ctx context.Context, sessionID string, doc models.Document) error {
	return h.put(ctx, sessionID, doc, "")
}

// ReplaceIf degrades to an unconditional replace when the read carried no
// version.
func (h *HTTPStore) ReplaceIf(ctx context.Context, sessionID string, doc models.Document, expected Version) error {
	return h.put(ctx, sessionID, doc, expected)
}

func (h *HTTPStore) put(ctx context.Context, sessionID string, doc models.Document, expected Version) error {
	b, err := Encode(doc)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.url(sessionID), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if expected != "" {
		req.Header.Set("If-Match", `"`+string(expected)+`"`)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer drain(resp)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusPreconditionFailed:
		return ErrVersionMismatch
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("save session: unexpected status %s", resp.Status)
	}
	return nil
}

func (h *HTTPStore) url(id string) string { return h.Base + "/" + url.PathEscape(id) }

func sessionFromLocation(loc string) string {
	if u, err := url.Parse(loc); err == nil {
		loc = u.Path
	}
	id := path.Base(strings.TrimRight(loc, "/"))
	if id == "." || id == "/" {
		return ""
	}
	return id
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// parseETag drops the weak prefix and quotes; If-Match is rebuilt from the
// bare version.
func parseETag(tag string) Version {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
	return Version(strings.Trim(tag, `"`))
}
