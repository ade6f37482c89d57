package progressws_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sachin-iam/sortify/internal/adapters/progressws"
	"github.com/sachin-iam/sortify/internal/core"
)

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubRejectsMissingUserID(t *testing.T) {
	hub := progressws.NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestHubDeliversEventsToOwnerOnly(t *testing.T) {
	hub := progressws.NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	owner := dial(t, srv, "u1")
	other := dial(t, srv, "u2")

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.Publish("u1", core.ProgressEvent{JobID: "j1", Status: core.JobStatusProcessing, ProcessedMessages: 42})

	var event core.ProgressEvent
	owner.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, owner.ReadJSON(&event))
	assert.Equal(t, "j1", event.JobID)
	assert.Equal(t, 42, event.ProcessedMessages)

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var stray core.ProgressEvent
	assert.Error(t, other.ReadJSON(&stray), "event leaked to another user's connection")
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub := progressws.NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "u1")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)

	// Publishing to a userless hub is a no-op
	hub.Publish("u1", core.ProgressEvent{JobID: "j1"})
}
