package signaling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/etherchat/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size accepted from a peer. SDP blobs fit comfortably.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client is one live websocket connection held by the hub.
//
// Codename and RoomID are only touched by the hub goroutine.
type Client struct {
	ID       string
	Codename string
	RoomID   string

	Conn *websocket.Conn
	Send chan []byte
}

// NewClient wraps an upgraded connection and assigns it a fresh identifier.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, sendBuffer),
	}
}

// ReadPump decodes frames from the connection and hands them to the hub.
// It returns, and unregisters the client, when the connection fails.
func (c *Client) ReadPump(hub *Hub) {
	defer func() {
		hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				hub.logger.Warn("websocket read failed", "conn", c.ID, "err", err)
			}
			return
		}

		ev, err := models.DecodeClientEvent(frame)
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, models.ErrUnknownEvent) {
				level = slog.LevelDebug
			}
			hub.logger.Log(context.Background(), level, "dropping frame", "conn", c.ID, "err", err)
			continue
		}

		if !hub.Dispatch(c, ev) {
			return
		}
	}
}

// WritePump drains Send into the connection and keeps it alive with pings.
func (c *Client) WritePump(hub *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				hub.logger.Warn("websocket write failed", "conn", c.ID, "err", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
