package logsearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/search", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var q Query
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "zigbee", q.Text)
		assert.Equal(t, "error", q.Level)

		_, _ = w.Write([]byte(`{"entries":[
			{"timestamp":"2026-03-01T10:00:00Z","level":"error","source":"zha","message":"device unreachable"}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")

	entries, err := c.Search(context.Background(), Query{Text: "zigbee", Level: "error"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "zha", entries[0].Source)
}

func TestTail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tail", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))

		_, _ = w.Write([]byte(`{"entries":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")

	entries, err := c.Tail(context.Background(), 25)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTailDefaultLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"entries":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")

	_, err := c.Tail(context.Background(), 0)
	assert.NoError(t, err)
}

func TestSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")

	_, err := c.Search(context.Background(), Query{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
