package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/voiced/internal/capability"
	"github.com/fyrsmithlabs/voiced/internal/config"
)

type fakeStatus struct{}

func (fakeStatus) SessionID() string    { return "sess-1" }
func (fakeStatus) StartedAt() time.Time { return time.Now() }
func (fakeStatus) Mode() string         { return "listening" }

func (fakeStatus) Providers() []capability.ProviderInfo {
	return []capability.ProviderInfo{
		{ID: "weather", Status: capability.StatusReachable, Capabilities: 2},
		{ID: "broken", Status: capability.StatusUnreachable, LastError: "spawn failed"},
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startServer(t *testing.T, status StatusSource) (int, func()) {
	t.Helper()
	port := freePort(t)
	srv := NewServer(config.ServerConfig{
		Port:            port,
		ShutdownTimeout: config.Duration(time.Second),
	}, status)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	return port, func() {
		cancel()
		if err := <-errCh; err != http.ErrServerClosed {
			t.Errorf("Start() = %v, want http.ErrServerClosed", err)
		}
	}
}

func TestServer_Health(t *testing.T) {
	port, shutdown := startServer(t, nil)
	defer shutdown()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	require.NoError(t, err)
	defer resp.Body.Close()

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "voiced", health.Service)
}

func TestServer_Status(t *testing.T) {
	port, shutdown := startServer(t, fakeStatus{})
	defer shutdown()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/status", port))
	require.NoError(t, err)
	defer resp.Body.Close()

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "listening", status.Mode)
	assert.Equal(t, "sess-1", status.SessionID)
	require.Len(t, status.Providers, 2)
	assert.Equal(t, "reachable", status.Providers[0].Status)
	assert.Equal(t, "spawn failed", status.Providers[1].LastError)
}

func TestServer_Metrics(t *testing.T) {
	port, shutdown := startServer(t, nil)
	defer shutdown()

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
