package webrtc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercord/pkg/retry"
)

func TestIdentityEndpoint(t *testing.T) {
	tests := []struct {
		signal string
		want   string
	}{
		{"ws://localhost:8081/ws", "http://localhost:8081/api/v1/identities"},
		{"wss://broker.example.com/ws/?x=1", "https://broker.example.com/api/v1/identities"},
		{"https://broker.example.com", "https://broker.example.com/api/v1/identities"},
	}
	for _, tt := range tests {
		got, err := identityEndpoint(tt.signal)
		require.NoError(t, err, tt.signal)
		assert.Equal(t, tt.want, got)
	}

	_, err := identityEndpoint("tcp://broker:1")
	assert.Error(t, err)
}

func TestHTTPTokenSource(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/api/v1/identities", r.URL.Path)

		var req struct {
			PeerID string `json:"peer_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		switch {
		case n == 1:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"SERVICE_UNAVAILABLE"}`))
		case req.PeerID == "bad id":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"INVALID_INPUT","message":"invalid peer ID format"}`))
		default:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"token":"token-for-` + req.PeerID + `"}`))
		}
	}))
	defer server.Close()

	cfg := retry.Config{Enabled: true, MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	source, err := HTTPTokenSource("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", server.Client(), cfg)
	require.NoError(t, err)

	token, err := source(context.Background(), "alice-1234")
	require.NoError(t, err)
	assert.Equal(t, "token-for-alice-1234", token)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	_, err = source(context.Background(), "bad id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid peer ID format")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
