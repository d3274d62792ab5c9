package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/domain"
	"github.com/caspy-social/caspy-backend/internal/store"
	"github.com/caspy-social/caspy-backend/internal/store/schema"
)

const testToken = "9d28ddba00c7e010af63dd3ea50448c72b1b08ba4519f859d995c48d52c97f68"

type testEnv struct {
	hub    *Hub
	store  *store.MemoryStore
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	s := store.NewMemoryStore()
	clock := adapter.NewFakeClock(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))

	router := gin.New()
	router.GET("/ws", Serve(hub, s, clock))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{hub: hub, store: s, server: server}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// recvType reads events until one of the wanted type arrives
func recvType(t *testing.T, conn *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var event map[string]interface{}
		require.NoError(t, conn.ReadJSON(&event))
		if event["type"] == wantType {
			return event
		}
	}
}

func join(t *testing.T, conn *websocket.Conn, wallet, name string) map[string]interface{} {
	t.Helper()
	send(t, conn, map[string]interface{}{
		"type":          "join-room",
		"tokenHash":     testToken,
		"walletAddress": wallet,
		"userName":      name,
	})
	return recvType(t, conn, "joined")
}

func TestJoinRoomReplaysHistory(t *testing.T) {
	env := newTestEnv(t)

	for i, body := range []string{"first", "second"} {
		require.NoError(t, env.store.SaveChatMessage(context.Background(), &schema.ChatMessage{
			TokenHash:     testToken,
			WalletAddress: "01earlier",
			UserName:      "early",
			Body:          body,
			CreatedAt:     time.Date(2026, 9, 1, 10, i, 0, 0, time.UTC),
		}))
	}

	conn := env.dial(t)
	joined := join(t, conn, "01alice", "alice")

	assert.Equal(t, float64(1), joined["count"])
	history, ok := joined["history"].([]interface{})
	require.True(t, ok)
	require.Len(t, history, 2)
	first := history[0].(map[string]interface{})
	assert.Equal(t, "first", first["text"])
	assert.Equal(t, "early", first["userName"])
}

func TestJoinNotifiesExistingMembers(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t)
	join(t, alice, "01alice", "alice")

	bob := env.dial(t)
	joined := join(t, bob, "01bob", "bob")
	assert.Equal(t, float64(2), joined["count"])

	event := recvType(t, alice, "member_count")
	assert.Equal(t, float64(2), event["count"])
	assert.Equal(t, 2, env.hub.MemberCount(testToken))
}

func TestSendMessageBroadcastsAndPersists(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t)
	join(t, alice, "01alice", "alice")
	bob := env.dial(t)
	join(t, bob, "01bob", "bob")
	recvType(t, alice, "member_count")

	send(t, alice, map[string]interface{}{
		"type":          "send-message",
		"walletAddress": "01alice",
		"text":          "gm everyone",
	})

	for _, conn := range []*websocket.Conn{alice, bob} {
		event := recvType(t, conn, "message")
		assert.Equal(t, "gm everyone", event["text"])
		assert.Equal(t, "01alice", event["walletAddress"])
	}

	require.Eventually(t, func() bool {
		messages, err := env.store.GetRecentChatMessages(context.Background(), testToken, 10)
		return err == nil && len(messages) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSendMessageWithoutRoomFails(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, map[string]interface{}{"type": "send-message", "text": "hello?"})
	event := recvType(t, conn, "error")
	assert.Equal(t, "Not in a room", event["message"])
}

func TestLeaveRoomUpdatesCount(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t)
	join(t, alice, "01alice", "alice")
	bob := env.dial(t)
	join(t, bob, "01bob", "bob")
	recvType(t, alice, "member_count")

	send(t, bob, map[string]interface{}{"type": "leave-room"})

	event := recvType(t, alice, "member_count")
	assert.Equal(t, float64(1), event["count"])

	require.Eventually(t, func() bool {
		return env.hub.MemberCount(testToken) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDisconnectUpdatesCount(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t)
	join(t, alice, "01alice", "alice")
	bob := env.dial(t)
	join(t, bob, "01bob", "bob")
	recvType(t, alice, "member_count")

	bob.Close()

	event := recvType(t, alice, "member_count")
	assert.Equal(t, float64(1), event["count"])
}

func TestRejoinSameRoomIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	join(t, conn, "01alice", "alice")
	joined := join(t, conn, "01alice", "alice")

	assert.Equal(t, float64(1), joined["count"])
	assert.Equal(t, 1, env.hub.MemberCount(testToken))
}

func TestBroadcastTradeReachesRoom(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	join(t, conn, "01alice", "alice")

	env.hub.BroadcastTrade(&domain.Trade{
		DeployHash: "aa01",
		TokenHash:  testToken,
		Kind:       domain.TradeKindBuy,
		Amount:     "123",
		Timestamp:  time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	})

	event := recvType(t, conn, "new_transaction")
	assert.Equal(t, testToken, event["tokenHash"])
	tx, ok := event["transaction"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "buy", tx["kind"])

	// Trades for rooms nobody joined are dropped quietly
	env.hub.BroadcastTrade(&domain.Trade{TokenHash: "ffff", Kind: domain.TradeKindSell})
}

func TestJoinRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, map[string]interface{}{"type": "join-room", "walletAddress": "01alice"})
	event := recvType(t, conn, "error")
	assert.Equal(t, "Missing tokenHash", event["message"])
}

func TestUnknownTypeReturnsError(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, map[string]interface{}{"type": "bogus"})
	event := recvType(t, conn, "error")
	assert.Equal(t, "Unknown message type", event["message"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))
	event = recvType(t, conn, "error")
	assert.Equal(t, "Invalid message format", event["message"])
}

func TestPresenceEvents(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t)
	join(t, alice, "01alice", "alice")

	bob := env.dial(t)
	join(t, bob, "01bob", "bob")

	event := recvType(t, alice, "user_joined")
	assert.Equal(t, "01bob", event["walletAddress"])
	assert.Equal(t, "bob", event["userName"])
	assert.Equal(t, float64(2), event["count"])

	send(t, bob, map[string]interface{}{"type": "leave-room"})

	event = recvType(t, alice, "user_left")
	assert.Equal(t, "01bob", event["walletAddress"])
	assert.Equal(t, float64(1), event["count"])
}
