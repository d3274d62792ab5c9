package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/domain"
	"github.com/caspy-social/caspy-backend/internal/logger"
	"github.com/caspy-social/caspy-backend/internal/store"
	"github.com/caspy-social/caspy-backend/internal/store/schema"
)

// historyLimit is how many messages a joining client gets replayed.
const historyLimit = 50

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type inboundMessage struct {
	Type          string `json:"type"`
	TokenHash     string `json:"tokenHash,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	UserName      string `json:"userName,omitempty"`
	Text          string `json:"text,omitempty"`
}

type historyMessage struct {
	ID            int64  `json:"id"`
	WalletAddress string `json:"walletAddress"`
	UserName      string `json:"userName"`
	Text          string `json:"text"`
	Timestamp     string `json:"timestamp"`
}

type joinedEvent struct {
	Type    string           `json:"type"`
	Message string           `json:"message"`
	Count   int              `json:"count"`
	History []historyMessage `json:"history"`
}

type memberCountEvent struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type presenceEvent struct {
	Type          string `json:"type"`
	WalletAddress string `json:"walletAddress,omitempty"`
	UserName      string `json:"userName,omitempty"`
	Count         int    `json:"count"`
}

type chatEvent struct {
	Type          string `json:"type"`
	ID            int64  `json:"id"`
	WalletAddress string `json:"walletAddress"`
	Text          string `json:"text"`
	Timestamp     string `json:"timestamp"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type tradeEvent struct {
	Type        string        `json:"type"`
	TokenHash   string        `json:"tokenHash"`
	Transaction *domain.Trade `json:"transaction"`
}

// Client is one WebSocket connection. A client is in at most one room at a
// time; joining a new room leaves the previous one.
type Client struct {
	hub   *Hub
	store store.Store
	clock adapter.Clock
	conn  *websocket.Conn
	send  chan []byte

	room     *Room
	wallet   string
	userName string
}

// Serve upgrades the request and runs the connection until it closes.
func Serve(hub *Hub, s store.Store, clock adapter.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{
			hub:   hub,
			store: s,
			clock: clock,
			conn:  conn,
			send:  make(chan []byte, 256),
		}
		go client.writePump()
		client.readPump(c.Request.Context())
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.leaveRoom()
		close(c.send)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(1 << 20) // 1MB
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			c.sendEvent(errorEvent{Type: "error", Message: "Invalid message format"})
			continue
		}

		switch in.Type {
		case "join-room":
			c.handleJoin(ctx, in)
		case "leave-room":
			c.leaveRoom()
		case "send-message":
			c.handleMessage(ctx, in)
		default:
			c.sendEvent(errorEvent{Type: "error", Message: "Unknown message type"})
		}
	}
}

func (c *Client) handleJoin(ctx context.Context, in inboundMessage) {
	tokenHash := domain.NormalizeHash(in.TokenHash)
	if tokenHash == "" {
		c.sendEvent(errorEvent{Type: "error", Message: "Missing tokenHash"})
		return
	}

	room := c.hub.Room(tokenHash)
	if c.room == room {
		// Rejoin of the same room just replays state
		c.sendJoined(ctx, room)
		return
	}

	c.leaveRoom()
	c.wallet = domain.NormalizeHash(in.WalletAddress)
	c.userName = in.UserName
	c.room = room
	count := room.add(c)

	c.sendJoined(ctx, room)
	c.broadcastCount(room, count, true)
	c.broadcastPresence(room, "user_joined", count)
}

func (c *Client) sendJoined(ctx context.Context, room *Room) {
	history := make([]historyMessage, 0, historyLimit)
	messages, err := c.store.GetRecentChatMessages(ctx, room.tokenHash, historyLimit)
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("load chat history: %w", err))
	} else {
		for _, m := range messages {
			history = append(history, historyMessage{
				ID:            m.ID,
				WalletAddress: m.WalletAddress,
				UserName:      m.UserName,
				Text:          m.Body,
				Timestamp:     m.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
	}

	c.sendEvent(joinedEvent{
		Type:    "joined",
		Message: fmt.Sprintf("Welcome to the chat, %s!", c.userName),
		Count:   room.MemberCount(),
		History: history,
	})
}

func (c *Client) handleMessage(ctx context.Context, in inboundMessage) {
	if c.room == nil {
		c.sendEvent(errorEvent{Type: "error", Message: "Not in a room"})
		return
	}
	if in.Text == "" {
		return
	}

	msg := &schema.ChatMessage{
		TokenHash:     c.room.tokenHash,
		WalletAddress: c.wallet,
		UserName:      c.userName,
		Body:          in.Text,
		CreatedAt:     c.clock.Now(),
	}
	if err := c.store.SaveChatMessage(ctx, msg); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("save chat message: %w", err))
	}

	payload, err := json.Marshal(chatEvent{
		Type:          "message",
		ID:            msg.ID,
		WalletAddress: c.wallet,
		Text:          in.Text,
		Timestamp:     msg.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	c.room.broadcast(payload)
}

// leaveRoom removes the client from its room, if any, and tells the
// remaining members the new count
func (c *Client) leaveRoom() {
	if c.room == nil {
		return
	}
	room := c.room
	c.room = nil
	count := room.remove(c)
	c.broadcastCount(room, count, false)
	c.broadcastPresence(room, "user_left", count)
}

// broadcastCount announces the member count to the room, excluding the
// client itself when it just joined (it learns the count from joined)
func (c *Client) broadcastCount(room *Room, count int, skipSelf bool) {
	payload, err := json.Marshal(memberCountEvent{Type: "member_count", Count: count})
	if err != nil {
		return
	}
	if skipSelf {
		room.broadcastExcept(c, payload)
	} else {
		room.broadcast(payload)
	}
}

// broadcastPresence tells the remaining members who came or went
func (c *Client) broadcastPresence(room *Room, eventType string, count int) {
	payload, err := json.Marshal(presenceEvent{
		Type:          eventType,
		WalletAddress: c.wallet,
		UserName:      c.userName,
		Count:         count,
	})
	if err != nil {
		return
	}
	room.broadcastExcept(c, payload)
}

func (c *Client) sendEvent(event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
