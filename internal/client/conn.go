package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/etherchat/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var (
	// ErrNotConnected is returned once the signaling connection is gone.
	ErrNotConnected = errors.New("not connected to signaling server")
	// ErrSendBufferFull is returned when the outbound queue has no room.
	ErrSendBufferFull = errors.New("signaling send buffer full")
)

// Signaler is the client's view of the relay connection. Send must not
// block: link callbacks call it from transport goroutines.
type Signaler interface {
	Send(ev models.ClientEvent) error
	Events() <-chan models.ServerEvent
	Close() error
}

// Conn is a websocket connection to the signaling server.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	events chan models.ServerEvent
	done   chan struct{}
	wrote  chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// Dial connects to serverURL and starts the pumps.
func Dial(ctx context.Context, serverURL string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Conn{
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		events: make(chan models.ServerEvent, sendBuffer),
		done:   make(chan struct{}),
		wrote:  make(chan struct{}),
		logger: logger,
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// Send queues ev for the server. A full queue drops ev.
func (c *Conn) Send(ev models.ClientEvent) error {
	frame, err := models.Encode(ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn("send buffer full, dropping frame", "event", ev.Name())
		return ErrSendBufferFull
	}
}

// Events is closed when the connection drops.
func (c *Conn) Events() <-chan models.ServerEvent {
	return c.events
}

// Close flushes queued frames, says goodbye to the server and tears the
// connection down.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	select {
	case <-c.wrote:
	case <-time.After(writeWait):
	}
	return nil
}

func (c *Conn) readPump() {
	defer func() {
		c.once.Do(func() { close(c.done) })
		c.ws.Close()
		close(c.events)
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("signaling connection lost", "err", err)
			}
			return
		}

		ev, err := models.DecodeServerEvent(frame)
		if err != nil {
			if errors.Is(err, models.ErrUnknownEvent) {
				c.logger.Debug("ignoring server event", "err", err)
			} else {
				c.logger.Warn("malformed server frame", "err", err)
			}
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.wrote)
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			// Frames queued before Close still go out.
			for len(c.send) > 0 {
				if err := c.ws.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
