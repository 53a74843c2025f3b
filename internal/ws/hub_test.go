package ws_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"imagevault/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*ws.Hub, string) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := ws.NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.HandleWebSocket(hub, w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(ws.Message{
		Type:      ws.EventEditFallback,
		ImageID:   "img-1",
		VersionID: 2,
		Fallback:  true,
		Warning:   "edit failed",
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got ws.Message
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ws.EventEditFallback, got.Type)
	assert.Equal(t, "img-1", got.ImageID)
	assert.Equal(t, 2, got.VersionID)
	assert.True(t, got.Fallback)
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastAfterShutdownReturns(t *testing.T) {
	logger, _ := test.NewNullLogger()
	hub := ws.NewHub(logger)
	hub.Shutdown()
	hub.Shutdown()

	done := make(chan struct{})
	go func() {
		hub.Broadcast(ws.Message{Type: ws.EventImageUploaded})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked after shutdown")
	}
}
