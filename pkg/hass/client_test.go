package hass

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/states", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`[
			{"entity_id":"light.kitchen","state":"on","attributes":{"brightness":254}},
			{"entity_id":"switch.porch","state":"off","attributes":{}}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")

	states, err := c.States(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "light.kitchen", states[0].ID)
	assert.Equal(t, float64(254), states[0].Attributes["brightness"])
}

func TestState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/states/light.kitchen", r.URL.Path)
		_, _ = w.Write([]byte(`{"entity_id":"light.kitchen","state":"on","attributes":{}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")

	st, err := c.State(context.Background(), "light.kitchen")
	require.NoError(t, err)
	assert.Equal(t, "on", st.State)
}

func TestCallService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/services/light/turn_on", r.URL.Path)

		var data map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&data))
		assert.Equal(t, "light.kitchen", data["entity_id"])

		_, _ = w.Write([]byte(`[{"entity_id":"light.kitchen","state":"on","attributes":{}}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")

	changed, err := c.CallService(context.Background(), "light", "turn_on", map[string]any{
		"entity_id": "light.kitchen",
	})
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "on", changed[0].State)
}

func TestCallServiceNilData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var data map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&data))
		assert.Empty(t, data)

		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")

	_, err := c.CallService(context.Background(), "homeassistant", "restart", nil)
	assert.NoError(t, err)
}

func TestSetState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/states/sensor.custom", r.URL.Path)

		var data map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&data))
		assert.Equal(t, "42", data["state"])

		_, _ = w.Write([]byte(`{"entity_id":"sensor.custom","state":"42","attributes":{"unit_of_measurement":"W"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")

	e, err := c.SetState(context.Background(), "sensor.custom", "42", map[string]any{"unit_of_measurement": "W"})
	require.NoError(t, err)
	assert.Equal(t, "42", e.State)
	assert.Equal(t, "W", e.Attributes["unit_of_measurement"])
}

func TestGetConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/config", r.URL.Path)
		_, _ = w.Write([]byte(`{"location_name":"Home","version":"2026.8.1","time_zone":"Europe/Madrid","state":"RUNNING"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")

	cfg, err := c.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Home", cfg.LocationName)
	assert.Equal(t, "RUNNING", cfg.State)
}

func TestErrorLog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/error_log", r.URL.Path)
		_, _ = w.Write([]byte("2026-03-01 ERROR something broke\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")

	log, err := c.ErrorLog(context.Background())
	require.NoError(t, err)
	assert.Contains(t, log, "something broke")
}

func TestErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "bad")

	_, err := c.States(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNewTrimsTrailingSlash(t *testing.T) {
	c := New("http://ha.local:8123/", "tok")
	assert.Equal(t, "http://ha.local:8123", c.BaseURL)
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://ha.local:8123/api/websocket", New("http://ha.local:8123", "").wsURL())
	assert.Equal(t, "wss://ha.local/api/websocket", New("https://ha.local", "").wsURL())
}
