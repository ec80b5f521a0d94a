package docserver

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-session/internal/docstore"
	"github.com/example/ride-session/internal/observability"
)

func TestWriteMode(t *testing.T) {
	cases := []struct {
		method, ifMatch, want string
	}{
		{http.MethodGet, "", ""},
		{http.MethodPost, "", writeCreate},
		{http.MethodPut, "", writeUnconditional},
		{http.MethodPut, "*", writeUnconditional},
		{http.MethodPut, `"3"`, writeConditional},
		{http.MethodPut, `W/"3"`, writeConditional},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(tc.method, BlobPath+"/x", nil)
		if tc.ifMatch != "" {
			r.Header.Set("If-Match", tc.ifMatch)
		}
		assert.Equal(t, tc.want, writeMode(r), "%s If-Match=%q", tc.method, tc.ifMatch)
	}
}

func TestWriteOutcomeAndLevel(t *testing.T) {
	assert.Equal(t, "applied", writeOutcome(http.StatusCreated))
	assert.Equal(t, "stale", writeOutcome(http.StatusPreconditionFailed))
	assert.Equal(t, "missing", writeOutcome(http.StatusNotFound))
	assert.Equal(t, "rejected", writeOutcome(http.StatusBadRequest))
	assert.Equal(t, "error", writeOutcome(http.StatusBadGateway))

	assert.Equal(t, slog.LevelDebug, logLevel(http.StatusPreconditionFailed))
	assert.Equal(t, slog.LevelWarn, logLevel(http.StatusNotFound))
	assert.Equal(t, slog.LevelError, logLevel(http.StatusBadGateway))
	assert.Equal(t, slog.LevelInfo, logLevel(http.StatusOK))
}

// lockedBuffer is written by the server goroutine and read by the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

func TestStaleWriteIsCountedAndLogged(t *testing.T) {
	var buf lockedBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv := httptest.NewServer(New(docstore.NewMemoryStore(), "", logger))
	defer srv.Close()

	resp := do(t, http.MethodPost, srv.URL+BlobPath, emptyBody, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	loc := resp.Header.Get("Location")
	etag := do(t, http.MethodGet, loc, "", nil).Header.Get("ETag")
	require.Equal(t, http.StatusOK, do(t, http.MethodPut, loc, emptyBody, map[string]string{"If-Match": etag}).StatusCode)

	route := BlobPath + "/{id}"
	stale := observability.DocumentWrites.WithLabelValues(route, writeConditional, "stale")
	before := testutil.ToFloat64(stale)
	buf.Reset()

	resp = do(t, http.MethodPut, loc, emptyBody, map[string]string{"If-Match": etag})
	require.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, before+1, testutil.ToFloat64(stale))

	var entry struct {
		Level     string `json:"level"`
		Route     string `json:"route"`
		Status    int    `json:"status"`
		SessionID string `json:"session_id"`
		RequestID string `json:"request_id"`
		Write     struct {
			Mode    string `json:"mode"`
			Outcome string `json:"outcome"`
		} `json:"write"`
	}
	line := buf.Bytes()
	require.NoError(t, json.Unmarshal(line, &entry), string(line))
	assert.Equal(t, "DEBUG", entry.Level)
	assert.Equal(t, route, entry.Route)
	assert.Equal(t, http.StatusPreconditionFailed, entry.Status)
	assert.NotEmpty(t, entry.SessionID)
	assert.Equal(t, resp.Header.Get("X-Request-ID"), entry.RequestID)
	assert.Equal(t, writeConditional, entry.Write.Mode)
	assert.Equal(t, "stale", entry.Write.Outcome)
}
