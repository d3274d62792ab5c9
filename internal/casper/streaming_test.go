package casper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamServer is a scripted stand-in for the streaming API.
type streamServer struct {
	t       *testing.T
	server  *httptest.Server
	script  func(conn *websocket.Conn, connNum int)
	dials   atomic.Int32
	headers chan http.Header
}

func newStreamServer(t *testing.T, script func(conn *websocket.Conn, connNum int)) *streamServer {
	s := &streamServer{t: t, script: script, headers: make(chan http.Header, 16)}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(s.dials.Add(1))
		s.headers <- r.Header.Clone()
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.script(conn, n)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *streamServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func shortTimings() StreamOption {
	return WithStreamTimings(
		25*time.Millisecond,  // heartbeat check
		100*time.Millisecond, // stale after
		10*time.Millisecond,  // reconnect delay
		10*time.Millisecond,  // startup retry delay
	)
}

func TestStreamClientDeliversFrames(t *testing.T) {
	frame := Frame{
		Action:    ActionCreated,
		Data:      json.RawMessage(`{"deploy_hash":"abc","amount":"5"}`),
		Timestamp: "2026-01-01T00:00:00Z",
	}
	payload, err := json.Marshal(frame)
	require.NoError(t, err)

	done := make(chan struct{})
	server := newStreamServer(t, func(conn *websocket.Conn, connNum int) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("Ping")))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
		<-done
	})

	var mu sync.Mutex
	var received []Frame
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewStreamClient(server.wsURL(), "test-access-key", func(_ context.Context, f Frame) error {
		mu.Lock()
		received = append(received, f)
		mu.Unlock()
		cancel()
		return nil
	}, shortTimings())

	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(ctx) }()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
	close(done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, ActionCreated, received[0].Action)

	transfer, err := DecodeTransfer(received[0])
	require.NoError(t, err)
	assert.Equal(t, "abc", transfer.DeployHash)

	// The access key rides the handshake
	header := <-server.headers
	assert.Equal(t, "test-access-key", header.Get("Authorization"))
}

func TestStreamClientReconnectsAfterClose(t *testing.T) {
	done := make(chan struct{})
	server := newStreamServer(t, func(conn *websocket.Conn, connNum int) {
		if connNum == 1 {
			// Drop the first connection immediately
			return
		}
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("Ping")))
		<-done
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewStreamClient(server.wsURL(), "", func(context.Context, Frame) error { return nil }, shortTimings())
	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(ctx) }()

	require.Eventually(t, func() bool {
		return server.dials.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond, "expected a reconnect after the dropped connection")

	cancel()
	close(done)
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestStreamClientReconnectsWhenSilent(t *testing.T) {
	done := make(chan struct{})
	server := newStreamServer(t, func(conn *websocket.Conn, connNum int) {
		if connNum == 1 {
			// Say nothing: the connection stays open but silent, so the
			// watchdog has to kill it
			<-done
			return
		}
		// The replacement heartbeats, so it must survive the watchdog
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if conn.WriteMessage(websocket.TextMessage, []byte("Ping")) != nil {
					return
				}
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewStreamClient(server.wsURL(), "", func(context.Context, Frame) error { return nil }, shortTimings())
	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(ctx) }()

	require.Eventually(t, func() bool {
		return server.dials.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond, "expected the watchdog to replace the silent connection")

	// Several staleness windows later the count must have settled: one
	// replacement, not a reconnect loop
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(2), server.dials.Load())

	cancel()
	close(done)
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestStreamClientSkipsMalformedFrames(t *testing.T) {
	goodPayload, err := json.Marshal(Frame{Action: ActionCreated, Data: json.RawMessage(`{}`)})
	require.NoError(t, err)

	done := make(chan struct{})
	server := newStreamServer(t, func(conn *websocket.Conn, connNum int) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, goodPayload))
		<-done
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count atomic.Int32
	client := NewStreamClient(server.wsURL(), "", func(context.Context, Frame) error {
		count.Add(1)
		cancel()
		return nil
	}, shortTimings())

	errCh := make(chan error, 1)
	go func() { errCh <- client.Run(ctx) }()

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
	close(done)

	assert.Equal(t, int32(1), count.Load())
}
