package docstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-session/internal/models"
)

func TestHTTPStore_CreateParsesLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, emptyBody, string(b))
		w.Header().Set("Location", "https://jsonblob.example/api/jsonBlob/1234-abcd")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	id, err := NewHTTPStore(srv.URL + "/api/jsonBlob").Create(context.Background(), models.Document{})
	require.NoError(t, err)
	assert.Equal(t, "1234-abcd", id)
}

func TestHTTPStore_CreateWithoutLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	_, err := NewHTTPStore(srv.URL).Create(context.Background(), models.Document{})
	assert.Error(t, err)
}

func TestHTTPStore_ReadAndConditionalPut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if r.URL.Path != "/blob/s1" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("ETag", `"4"`)
			_, _ = w.Write([]byte(emptyBody))
		case http.MethodPut:
			if r.Header.Get("If-Match") != `"4"` {
				w.WriteHeader(http.StatusPreconditionFailed)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()
	ctx := context.Background()
	h := NewHTTPStore(srv.URL + "/blob/")

	doc, v, err := h.ReadVersion(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, Version("4"), v)
	assert.NotNil(t, doc.Users)

	assert.NoError(t, h.ReplaceIf(ctx, "s1", doc, v))
	assert.ErrorIs(t, h.ReplaceIf(ctx, "s1", doc, "3"), ErrVersionMismatch)

	_, err = h.Read(ctx, "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPStore_WeakETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("ETag", `W/"7"`)
			_, _ = w.Write([]byte(emptyBody))
		case http.MethodPut:
			assert.Equal(t, `"7"`, r.Header.Get("If-Match"))
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()
	ctx := context.Background()
	h := NewHTTPStore(srv.URL + "/blob/")

	doc, v, err := h.ReadVersion(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, Version("7"), v)
	assert.NoError(t, h.ReplaceIf(ctx, "s1", doc, v))
}

func TestHTTPStore_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"users":[]}`))
	}))
	defer srv.Close()

	_, err := NewHTTPStore(srv.URL).Read(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrMalformed)
}
