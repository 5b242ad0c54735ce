package signaling

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mossy-p/etherchat/internal/models"
)

const defaultCodename = "Anonymous"

// ErrStopped is returned by queries made after Run has returned.
var ErrStopped = errors.New("hub stopped")

// Presence receives membership changes as they happen. Implementations must
// not block: they are called from the hub goroutine.
type Presence interface {
	Joined(roomID, connID string)
	Left(roomID, connID string)
}

type nopPresence struct{}

func (nopPresence) Joined(string, string) {}
func (nopPresence) Left(string, string)   {}

// Hub is the single owner of the connection registry and room directory.
// Every event is handled to completion on the Run goroutine before the next
// one is taken, so no state below needs locking. Registration, frames,
// disconnects and queries share one FIFO queue, so a frame sent just before
// a disconnect is still handled.
type Hub struct {
	registry  *Registry
	directory *Directory
	presence  Presence
	logger    *slog.Logger
	now       func() time.Time

	events chan func()
	done   chan struct{}
}

// Option configures a Hub built by NewHub.
type Option func(*Hub)

// WithPresence mirrors membership changes into p.
func WithPresence(p Presence) Option {
	return func(h *Hub) { h.presence = p }
}

// WithLogger replaces slog.Default for hub and connection logging.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithClock sets the time source used to stamp text messages.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// NewHub returns a hub that does nothing until Run is called.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		registry:  NewRegistry(),
		directory: NewDirectory(),
		presence:  nopPresence{},
		logger:    slog.Default(),
		now:       time.Now,
		events:    make(chan func(), 256),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes events until ctx is cancelled. On exit every client's send
// channel is closed so its write pump shuts the socket.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.registry.Each(func(c *Client) { close(c.Send) })
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-h.events:
			fn()
		}
	}
}

func (h *Hub) post(fn func()) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.events <- fn:
		return true
	case <-h.done:
		return false
	}
}

// Register admits c. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	return h.post(func() { h.admit(c) })
}

// Unregister removes c and cleans up its room membership.
func (h *Hub) Unregister(c *Client) {
	h.post(func() { h.drop(c) })
}

// Dispatch queues ev from c for the hub goroutine. It reports false once the
// hub has stopped.
func (h *Hub) Dispatch(c *Client, ev models.ClientEvent) bool {
	return h.post(func() {
		if !h.registered(c) {
			return
		}
		h.handle(c, ev)
	})
}

func (h *Hub) registered(c *Client) bool {
	live, ok := h.registry.Get(c.ID)
	return ok && live == c
}

func (h *Hub) admit(c *Client) {
	if !h.registry.Add(c) {
		h.logger.Error("duplicate connection id", "conn", c.ID)
		close(c.Send)
		return
	}
	h.logger.Info("client connected", "conn", c.ID)
	h.send(c, &models.Welcome{ID: c.ID})
}

func (h *Hub) drop(c *Client) {
	if !h.registered(c) {
		return
	}
	h.leave(c)
	h.registry.Remove(c.ID)
	close(c.Send)
	h.logger.Info("client disconnected", "conn", c.ID)
}

// do runs fn on the hub goroutine and waits for it.
func (h *Hub) do(ctx context.Context, fn func()) error {
	select {
	case <-h.done:
		return ErrStopped
	default:
	}

	finished := make(chan struct{})
	select {
	case h.events <- func() { fn(); close(finished) }:
	case <-h.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// A queued fn is abandoned if Run stops before reaching it.
	select {
	case <-finished:
		return nil
	case <-h.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Room returns a snapshot of roomID. ok is false when no such room exists.
func (h *Hub) Room(ctx context.Context, roomID string) (info models.RoomInfo, ok bool, err error) {
	err = h.do(ctx, func() {
		if !h.directory.Has(roomID) {
			return
		}
		members := h.members(roomID)
		info = models.RoomInfo{ID: roomID, MemberCount: len(members), Members: members}
		ok = true
	})
	return info, ok, err
}

// Stats reports how many connections and rooms are live.
func (h *Hub) Stats(ctx context.Context) (conns, rooms int, err error) {
	err = h.do(ctx, func() {
		conns = h.registry.Len()
		rooms = h.directory.Len()
	})
	return conns, rooms, err
}

func (h *Hub) handle(c *Client, ev models.ClientEvent) {
	switch ev := ev.(type) {
	case *models.JoinRoom:
		h.join(c, ev.RoomID, ev.Codename)
	case *models.LeaveRoom:
		h.leave(c)
	case *models.InitiateCall:
		h.handleInitiateCall(c, ev)
	case *models.SendSignal:
		h.handleSignal(c, ev)
	case *models.SendText:
		h.handleText(c, ev)
	case *models.AcceptCall:
		h.handleCallAccepted(c, ev)
	case *models.RejectCall:
		h.handleCallRejected(c, ev)
	case *models.EndCall:
		h.handleEndCall(c, ev)
	default:
		h.logger.Debug("unhandled event", "conn", c.ID, "event", ev.Name())
	}
}

// join places c in roomID. Joining the room c is already in re-sends the
// member list to c and, if the codename changed, refreshes the others.
func (h *Hub) join(c *Client, roomID, codename string) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		h.logger.Debug("join without room id", "conn", c.ID)
		return
	}
	codename = strings.TrimSpace(codename)
	if codename == "" {
		codename = defaultCodename
	}

	if c.RoomID == roomID {
		renamed := c.Codename != codename
		c.Codename = codename
		members := h.members(roomID)
		if renamed {
			h.broadcast(roomID, &models.UserJoined{UserID: c.ID, Codename: codename, Users: members}, c.ID)
		}
		h.send(c, (*models.RoomUsers)(&members))
		return
	}

	if c.RoomID != "" {
		h.leave(c)
	}

	c.Codename = codename
	c.RoomID = roomID
	if h.directory.Add(roomID, c.ID) {
		h.logger.Info("room created", "room", roomID)
	}
	h.presence.Joined(roomID, c.ID)

	members := h.members(roomID)
	h.logger.Info("member joined", "room", roomID, "conn", c.ID, "codename", codename, "members", len(members))

	h.broadcast(roomID, &models.UserJoined{UserID: c.ID, Codename: codename, Users: members}, c.ID)
	h.send(c, (*models.RoomUsers)(&members))
}

// leave takes c out of its room, deleting the room when it empties.
func (h *Hub) leave(c *Client) {
	roomID := c.RoomID
	if roomID == "" {
		return
	}
	c.RoomID = ""

	remaining, _ := h.directory.Remove(roomID, c.ID)
	h.presence.Left(roomID, c.ID)
	if remaining == 0 {
		h.logger.Info("room removed", "room", roomID)
		return
	}

	h.logger.Info("member left", "room", roomID, "conn", c.ID, "members", remaining)
	h.broadcast(roomID, &models.UserLeft{UserID: c.ID, Codename: c.Codename, Users: h.members(roomID)}, c.ID)
}

func (h *Hub) members(roomID string) []models.Member {
	ids := h.directory.Members(roomID)
	members := make([]models.Member, 0, len(ids))
	for _, id := range ids {
		codename := defaultCodename
		if c, ok := h.registry.Get(id); ok && c.Codename != "" {
			codename = c.Codename
		}
		members = append(members, models.Member{ID: id, Codename: codename})
	}
	return members
}
