package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/blob"
	"github.com/planor-ai/planor/pkg/config"
	"github.com/planor-ai/planor/pkg/events"
	"github.com/planor-ai/planor/pkg/models"
	"github.com/planor-ai/planor/pkg/orchestrator"
	"github.com/planor-ai/planor/pkg/persistence"
)

// newTestServer builds a gateway over a fresh in-memory store with auth
// disabled. Orchestrator-backed routes report 503; plan execution paths are
// covered by the e2e suite.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	authOff := false
	cfg := &config.Config{
		Gateway: &config.GatewayConfig{
			AuthEnabled:    &authOff,
			MaxUploadBytes: 1 << 20,
		},
	}

	store := persistence.NewMemStore()
	t.Cleanup(func() { _ = store.Close() })

	fsStore, err := blob.NewFSStore(t.TempDir(), 1<<20)
	require.NoError(t, err)
	blobs := blob.NewService(fsStore, time.Minute)

	return NewServer(cfg, store, nil, nil, blobs)
}

// newAuthTestServer builds a gateway with bearer auth enabled and a known
// signing secret.
func newAuthTestServer(t *testing.T) *Server {
	t.Helper()

	t.Setenv("PLANOR_JWT_SECRET", "test-signing-secret")

	cfg := &config.Config{Gateway: config.DefaultGatewayConfig()}

	store := persistence.NewMemStore()
	t.Cleanup(func() { _ = store.Close() })

	fsStore, err := blob.NewFSStore(t.TempDir(), 1<<20)
	require.NoError(t, err)
	blobs := blob.NewService(fsStore, time.Minute)

	return NewServer(cfg, store, nil, nil, blobs)
}

// doJSON runs a request through the full router and decodes the JSON body
// into out (when non-nil).
func doJSON(t *testing.T, s *Server, method, target, body string, out any) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out),
			"response body: %s", rec.Body.String())
	}
	return rec
}

// createTestSession creates a session through the API and returns it.
func createTestSession(t *testing.T, s *Server) *models.Session {
	t.Helper()

	var session models.Session
	rec := doJSON(t, s, http.MethodPost, "/api/v1/sessions", "", &session)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, session.ID)
	return &session
}

func TestValidateWiring(t *testing.T) {
	t.Run("reports missing orchestrator", func(t *testing.T) {
		s := newTestServer(t)
		err := s.ValidateWiring()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "orchestrator")
	})

	t.Run("reports missing connection manager", func(t *testing.T) {
		s := newTestServer(t)
		s.orchestrator = &orchestrator.Orchestrator{}
		err := s.ValidateWiring()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection manager")
	})

	t.Run("passes when fully wired", func(t *testing.T) {
		s := newTestServer(t)
		s.orchestrator = &orchestrator.Orchestrator{}
		s.connManager = events.NewConnectionManager(nil, events.ManagerOptions{})
		assert.NoError(t, s.ValidateWiring())
	})

	t.Run("rejects auth without secret", func(t *testing.T) {
		t.Setenv("PLANOR_JWT_SECRET", "")
		cfg := &config.Config{Gateway: config.DefaultGatewayConfig()}
		store := persistence.NewMemStore()
		t.Cleanup(func() { _ = store.Close() })

		fsStore, err := blob.NewFSStore(t.TempDir(), 1<<20)
		require.NoError(t, err)

		s := NewServer(cfg, store, &orchestrator.Orchestrator{},
			events.NewConnectionManager(nil, events.ManagerOptions{}),
			blob.NewService(fsStore, time.Minute))

		wireErr := s.ValidateWiring()
		require.Error(t, wireErr)
		assert.Contains(t, wireErr.Error(), "PLANOR_JWT_SECRET")
	})
}

func TestServerLifecycle(t *testing.T) {
	s := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- s.StartWithListener(ln)
	}()

	baseURL := fmt.Sprintf("http://%s", ln.Addr().String())
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond, "server did not become ready")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(shutdownCtx))

	select {
	case err := <-done:
		assert.NoError(t, err, "clean shutdown should not surface an error")
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after Shutdown")
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	s := newTestServer(t)
	assert.NoError(t, s.Shutdown(context.Background()))
}
