package pushserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizz-issima/realtime/internal/pushwire"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(100, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		cctx, ccancel := context.WithCancel(context.Background())
		client := NewClient(hub, conn, "sock-test")
		client.Start(cctx, ccancel)
		hub.Register(client)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) pushwire.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f pushwire.Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func waitSubscribers(t *testing.T, hub *Hub, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Subscribers(channel) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel %s never reached %d subscribers", channel, want)
}

func TestConnectionEstablishedFrame(t *testing.T) {
	_, srv := startHub(t)
	conn := dial(t, srv)

	f := readFrame(t, conn)
	assert.Equal(t, pushwire.FrameConnected, f.Type)
	assert.Equal(t, "sock-test", f.SocketID)
}

func TestSubscribePublishDeliver(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	readFrame(t, conn) // connection:established

	require.NoError(t, conn.WriteJSON(pushwire.Frame{Type: pushwire.FrameSubscribe, Channel: "conversation-c1"}))
	waitSubscribers(t, hub, "conversation-c1", 1)

	hub.Publish(context.Background(), "conversation-c1", pushwire.EventNewMessage,
		map[string]string{"content": "hi"})

	f := readFrame(t, conn)
	assert.Equal(t, pushwire.FrameEvent, f.Type)
	assert.Equal(t, "conversation-c1", f.Channel)
	assert.Equal(t, pushwire.EventNewMessage, f.Event)
	assert.JSONEq(t, `{"content":"hi"}`, string(f.Data))
}

func TestPublishSkipsOtherChannels(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(pushwire.Frame{Type: pushwire.FrameSubscribe, Channel: "conversation-c1"}))
	waitSubscribers(t, hub, "conversation-c1", 1)

	hub.Publish(context.Background(), "conversation-other", pushwire.EventNewMessage, map[string]string{"content": "not for you"})
	hub.Publish(context.Background(), "conversation-c1", pushwire.EventNewMessage, map[string]string{"content": "for you"})

	f := readFrame(t, conn)
	assert.Equal(t, "conversation-c1", f.Channel)
	assert.JSONEq(t, `{"content":"for you"}`, string(f.Data))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(pushwire.Frame{Type: pushwire.FrameSubscribe, Channel: "conversation-c1"}))
	waitSubscribers(t, hub, "conversation-c1", 1)
	require.NoError(t, conn.WriteJSON(pushwire.Frame{Type: pushwire.FrameUnsubscribe, Channel: "conversation-c1"}))
	waitSubscribers(t, hub, "conversation-c1", 0)

	hub.Publish(context.Background(), "conversation-c1", pushwire.EventNewMessage, map[string]string{"content": "late"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "no frame expected after unsubscribe")
}

func TestUnknownFrameGetsError(t *testing.T) {
	_, srv := startHub(t)
	conn := dial(t, srv)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(pushwire.Frame{Type: "bogus"}))
	f := readFrame(t, conn)
	assert.Equal(t, pushwire.FrameError, f.Type)
}

func TestDisconnectCleansSubscriptions(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(pushwire.Frame{Type: pushwire.FrameSubscribe, Channel: "conversation-c1"}))
	waitSubscribers(t, hub, "conversation-c1", 1)

	conn.Close()
	waitSubscribers(t, hub, "conversation-c1", 0)
}
