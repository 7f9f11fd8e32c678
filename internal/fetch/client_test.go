package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUsesETag(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"state":{"open":true}}`))
	}))
	defer srv.Close()

	c := New(5*time.Second, nil)
	ctx := context.Background()

	first, err := c.Get(ctx, srv.URL)
	require.NoError(t, err)
	second, err := c.Get(ctx, srv.URL)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), notModified.Load())
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":{"open":true}}`))
	}))
	defer srv.Close()

	var out struct {
		State struct {
			Open bool `json:"open"`
		} `json:"state"`
	}
	require.NoError(t, New(time.Second, nil).GetJSON(context.Background(), srv.URL, &out))
	assert.True(t, out.State.Open)
}

func TestGetStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(time.Second, nil).Get(context.Background(), srv.URL)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestGetHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(5*time.Second, nil).Get(ctx, srv.URL)
	assert.Error(t, err)
}
