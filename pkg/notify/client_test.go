package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingPost wraps a Service whose client talks to a mock Slack API and
// counts chat.postMessage calls.
type countingPost struct {
	svc *Service
	mu  sync.Mutex
	n   int
}

func (c *countingPost) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func postCountingService(t *testing.T) *countingPost {
	t.Helper()
	c := &countingPost{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "chat.postMessage") {
			c.mu.Lock()
			c.n++
			c.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1234.5678"}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	c.svc = NewServiceWithClient(client, "https://dash.example.com")
	return c
}

func TestClient_PostMessage(t *testing.T) {
	var gotChannel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotChannel = r.Form.Get("channel")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1234.5678"}`))
	}))
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, "hello", false, false),
			nil, nil,
		),
	}

	err := client.PostMessage(context.Background(), blocks, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "C123", gotChannel)
}

func TestClient_PostMessage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C404", srv.URL+"/")
	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, "hello", false, false),
			nil, nil,
		),
	}

	err := client.PostMessage(context.Background(), blocks, 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}
