package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sitewright/internal/logging"
)

type allowAll struct{}

func (allowAll) IsAllowedOrigin(string) bool { return true }

type denyAll struct{}

func (denyAll) IsAllowedOrigin(string) bool { return false }

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(allowAll{}, logging.Discard())
	defer hub.Shutdown(context.Background())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(CSSUpdate("/css/style.css"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, TypeCSSUpdate, msg.Type)
	assert.Equal(t, "/css/style.css", msg.Target)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub := NewHub(allowAll{}, logging.Discard())
	defer hub.Shutdown(context.Background())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(denyAll{}, logging.Discard())
	defer hub.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHubAfterShutdown(t *testing.T) {
	hub := NewHub(allowAll{}, logging.Discard())
	require.NoError(t, hub.Shutdown(context.Background()))
	require.NoError(t, hub.Shutdown(context.Background()))

	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	hub.Broadcast(FullReload())
	assert.Equal(t, 0, hub.Clients())
}

func TestLocalOriginValidator(t *testing.T) {
	v := LocalOriginValidator{Addr: "devbox:9001"}

	testCases := []struct {
		origin   string
		expected bool
	}{
		{"http://localhost:9001", true},
		{"http://127.0.0.1:3000", true},
		{"http://[::1]:9001", true},
		{"http://devbox:9001", true},
		{"http://devbox:9002", false},
		{"https://example.com", false},
		{"file:///index.html", false},
		{"not a url", false},
	}

	for _, tc := range testCases {
		t.Run(tc.origin, func(t *testing.T) {
			assert.Equal(t, tc.expected, v.IsAllowedOrigin(tc.origin))
		})
	}
}

func TestMessageConstructors(t *testing.T) {
	assert.Equal(t, TypeFullReload, FullReload().Type)

	msg := BuildError("styles", "<div>boom</div>")
	assert.Equal(t, TypeBuildError, msg.Type)
	assert.Equal(t, "styles", msg.Target)
	assert.Equal(t, "<div>boom</div>", msg.Content)

	assert.Equal(t, "scripts", BuildSuccess("scripts").Target)
}
