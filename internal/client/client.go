// Package client is the chat client coordinator. A single loop owns the call
// machine, the peer links, the room roster and the transcript; server
// events, user actions and link callbacks are all serialised through it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mossy-p/etherchat/internal/call"
	"github.com/mossy-p/etherchat/internal/media"
	"github.com/mossy-p/etherchat/internal/models"
	"github.com/mossy-p/etherchat/internal/peer"
)

const (
	noticeBuffer  = 64
	maxTranscript = 500
)

// ErrNotInRoom is returned by room scoped operations before Join.
var ErrNotInRoom = errors.New("not in a room")

// NoticeKind classifies a Notice.
type NoticeKind int

const (
	NoticeIncomingCall NoticeKind = iota + 1
	NoticeCallAccepted
	NoticeCallRejected
	NoticeCallEnded
	NoticeMediaConnected
	NoticeTranscript
)

// Notice is something the user interface should surface.
type Notice struct {
	Kind     NoticeKind
	Peer     string
	Codename string
	// Line is set for NoticeTranscript.
	Line models.Message
}

// Snapshot is a copy of the coordinator's state.
type Snapshot struct {
	ID           string
	Codename     string
	Room         string
	Users        []models.Member
	State        call.State
	Peer         string
	PeerCodename string
	// Links lists the remotes with an open peer link.
	Links      []string
	Transcript []models.Message
}

// Options configures a Client.
type Options struct {
	Codename string
	Factory  peer.Factory
	// Capture supplies the outbound track. Nil means receive only.
	Capture *media.Capture
	Logger  *slog.Logger
}

// Client must be driven by Run.
type Client struct {
	sig      Signaler
	machine  *call.Machine
	peers    *peer.Manager
	capture  *media.Capture
	logger   *slog.Logger
	codename string

	// self is also read by link callbacks
	self atomic.Value

	room       string
	users      []models.Member
	transcript []models.Message

	actions chan func()
	notices chan Notice
	done    chan struct{}
}

// New builds a client on sig. A blank codename is replaced by a generated one.
func New(sig Signaler, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	codename := strings.TrimSpace(opts.Codename)
	if codename == "" {
		codename = NewCodename()
	}

	c := &Client{
		sig:      sig,
		machine:  call.New(),
		capture:  opts.Capture,
		logger:   logger,
		codename: codename,
		actions:  make(chan func()),
		notices:  make(chan Notice, noticeBuffer),
		done:     make(chan struct{}),
	}
	c.self.Store("")

	var tracks peer.TrackSource
	if opts.Capture != nil {
		tracks = opts.Capture
	}
	c.peers = peer.NewManager(opts.Factory, linkSink{c}, tracks, logger)
	return c
}

// Codename is the handle announced to the room.
func (c *Client) Codename() string { return c.codename }

// Notices delivers user facing notifications. Notices are dropped when the
// reader falls behind.
func (c *Client) Notices() <-chan Notice { return c.notices }

// Run processes events until ctx is cancelled or the server goes away. Losing
// the server ends any call and returns ErrNotConnected.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)

	events := c.sig.Events()
	for {
		select {
		case <-ctx.Done():
			c.apply(c.machine.End())
			return nil

		case ev, ok := <-events:
			if !ok {
				c.logger.Warn("signaling connection closed")
				c.apply(c.machine.Disconnected())
				c.peers.CloseAll()
				return ErrNotConnected
			}
			c.handle(ev)

		case fn := <-c.actions:
			fn()
		}
	}
}

// Join enters room, leaving the current one first. A call in progress is
// ended.
func (c *Client) Join(ctx context.Context, room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return errors.New("room id is required")
	}
	return c.do(ctx, func() error {
		c.apply(c.machine.End())
		if err := c.sig.Send(&models.JoinRoom{RoomID: room, Codename: c.codename}); err != nil {
			return err
		}
		c.room, c.users = room, nil
		return nil
	})
}

// Leave exits the current room and ends any call.
func (c *Client) Leave(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.room == "" {
			return ErrNotInRoom
		}
		c.apply(c.machine.End())
		if err := c.sig.Send(&models.LeaveRoom{}); err != nil {
			return err
		}
		c.room, c.users = "", nil
		return nil
	})
}

// Send posts a text line to the room. The line enters the transcript when
// the server echoes it back.
func (c *Client) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.do(ctx, func() error {
		if c.room == "" {
			return ErrNotInRoom
		}
		return c.sig.Send(&models.SendText{RoomID: c.room, Message: text, Codename: c.codename})
	})
}

// Call rings target.
func (c *Client) Call(ctx context.Context, target string) error {
	return c.do(ctx, func() error {
		step, err := c.machine.Initiate(target)
		if err != nil {
			return err
		}
		return c.apply(step)
	})
}

// Accept answers the ringing call.
func (c *Client) Accept(ctx context.Context) error {
	return c.do(ctx, func() error {
		step, err := c.machine.Accept()
		if err != nil {
			return err
		}
		return c.apply(step)
	})
}

// Reject declines the ringing call.
func (c *Client) Reject(ctx context.Context) error {
	return c.do(ctx, func() error {
		step, err := c.machine.Reject()
		if err != nil {
			return err
		}
		return c.apply(step)
	})
}

// End hangs up. It is a no-op while idle.
func (c *Client) End(ctx context.Context) error {
	return c.do(ctx, func() error {
		return c.apply(c.machine.End())
	})
}

// Snapshot returns a copy of the current state.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.do(ctx, func() error {
		s = Snapshot{
			ID:           c.id(),
			Codename:     c.codename,
			Room:         c.room,
			Users:        slices.Clone(c.users),
			State:        c.machine.State(),
			Peer:         c.machine.Remote(),
			PeerCodename: c.machine.RemoteCodename(),
			Links:        c.peers.Remotes(),
			Transcript:   slices.Clone(c.transcript),
		}
		return nil
	})
	return s, err
}

// EnableMic opens the capture device with filter. Links opened afterwards
// send the masked track.
func (c *Client) EnableMic(ctx context.Context, filter media.Filter) error {
	if c.capture == nil {
		return media.ErrNoDevice
	}
	return c.capture.Enable(ctx, filter)
}

// SetFilter rebuilds the masking graph over the open device.
func (c *Client) SetFilter(filter media.Filter) error {
	if c.capture == nil {
		return media.ErrNoDevice
	}
	return c.capture.SetFilter(filter)
}

// DisableMic releases the capture device.
func (c *Client) DisableMic() {
	if c.capture != nil {
		c.capture.Disable()
	}
}

// do runs fn on the loop and waits for its result.
func (c *Client) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.actions <- func() { errc <- fn() }:
	case <-c.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. It gives up once the loop has stopped.
func (c *Client) post(fn func()) {
	go func() {
		select {
		case c.actions <- fn:
		case <-c.done:
		}
	}()
}

func (c *Client) id() string {
	return c.self.Load().(string)
}

func (c *Client) handle(ev models.ServerEvent) {
	switch ev := ev.(type) {
	case *models.Welcome:
		c.self.Store(ev.ID)
		c.machine.SetSelf(ev.ID)
		c.logger.Info("connected to signaling server", "conn", ev.ID)

	case *models.RoomUsers:
		c.users = slices.Clone(*ev)

	case *models.UserJoined:
		c.users = ev.Users
		c.system(fmt.Sprintf("%s joined the room", ev.Codename))

	case *models.UserLeft:
		c.users = ev.Users
		c.system(fmt.Sprintf("%s left the room", ev.Codename))
		c.apply(c.machine.Gone(ev.UserID))
		c.peers.Close(ev.UserID)

	case *models.CallIncoming:
		c.apply(c.machine.Incoming(ev.From, ev.Codename))

	case *models.CallAccepted:
		c.apply(c.machine.Accepted(ev.From))

	case *models.CallRejected:
		if step := c.machine.Rejected(ev.From); step.Notice != call.NoNotice {
			c.apply(step)
			c.system("Call was rejected")
		}

	case *models.CallEnded:
		c.apply(c.machine.Ended(ev.From))

	case *models.Signal:
		if !c.machine.AcceptsSignal(ev.From) {
			c.logger.Debug("dropping signal outside a session", "peer", ev.From)
			return
		}
		if err := c.peers.Signal(ev.From, ev.Signal); err != nil {
			c.logger.Warn("apply signal", "peer", ev.From, "err", err)
		}

	case *models.TextMessage:
		c.record(models.Message{
			Kind:      models.MessageKindUser,
			From:      ev.From,
			Codename:  ev.Codename,
			Content:   ev.Message,
			Timestamp: ev.Timestamp,
		})

	default:
		c.logger.Debug("unhandled server event", "event", ev.Name())
	}
}

// apply carries out a transition's effects in order. A failure part way ends
// the session locally.
func (c *Client) apply(step call.Step) error {
	for _, e := range step.Effects {
		if err := c.effect(e, step.Peer); err != nil {
			c.logger.Warn("call effect failed", "peer", step.Peer, "err", err)
			if c.machine.State() != call.Idle {
				c.apply(c.machine.End())
			}
			return err
		}
	}
	c.notify(step)
	return nil
}

func (c *Client) effect(e call.Effect, remote string) error {
	switch e {
	case call.SendInitiate:
		return c.sig.Send(&models.InitiateCall{To: remote, From: c.id(), Codename: c.codename})
	case call.SendAccept:
		return c.sig.Send(&models.AcceptCall{To: remote, From: c.id()})
	case call.SendReject:
		return c.sig.Send(&models.RejectCall{To: remote, From: c.id()})
	case call.SendEnd:
		targets := c.peers.Remotes()
		if remote != "" && !slices.Contains(targets, remote) {
			targets = append(targets, remote)
		}
		for _, to := range targets {
			if err := c.sig.Send(&models.EndCall{To: to}); err != nil {
				return err
			}
		}
		return nil
	case call.OpenOutbound:
		_, err := c.peers.Open(remote, true)
		return err
	case call.OpenInbound:
		_, err := c.peers.Open(remote, false)
		return err
	case call.Negotiate:
		return c.peers.Negotiate(remote)
	case call.TearDown:
		c.peers.CloseAll()
		return nil
	default:
		return fmt.Errorf("unknown call effect %d", e)
	}
}

func (c *Client) notify(step call.Step) {
	var kind NoticeKind
	switch step.Notice {
	case call.NoticeIncoming:
		kind = NoticeIncomingCall
	case call.NoticeAccepted:
		kind = NoticeCallAccepted
	case call.NoticeRejected:
		kind = NoticeCallRejected
	case call.NoticeEnded:
		kind = NoticeCallEnded
	default:
		return
	}
	c.emit(Notice{Kind: kind, Peer: step.Peer, Codename: c.machine.RemoteCodename()})
}

func (c *Client) linkState(remote string, s peer.State) {
	switch s {
	case peer.Connected:
		if c.machine.State() == call.InCall && c.machine.Remote() == remote {
			c.emit(Notice{Kind: NoticeMediaConnected, Peer: remote})
		}
	case peer.Closed, peer.Failed:
		if step := c.machine.Gone(remote); step.Notice != call.NoNotice {
			c.logger.Info("peer link down", "peer", remote, "state", s)
			c.apply(step)
		}
	}
}

func (c *Client) system(content string) {
	c.record(models.Message{
		Kind:      models.MessageKindSystem,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *Client) record(m models.Message) {
	c.transcript = append(c.transcript, m)
	if n := len(c.transcript) - maxTranscript; n > 0 {
		c.transcript = slices.Delete(c.transcript, 0, n)
	}
	c.emit(Notice{Kind: NoticeTranscript, Peer: m.From, Codename: m.Codename, Line: m})
}

func (c *Client) emit(n Notice) {
	select {
	case c.notices <- n:
	default:
		c.logger.Debug("notice dropped", "kind", n.Kind)
	}
}

// linkSink adapts the client to peer.Sink. Signals go straight out on the
// connection; state changes are handled on the loop, and only if the link
// has not been replaced or torn down in the meantime.
type linkSink struct{ c *Client }

func (s linkSink) SendSignal(l *peer.Link, p peer.Payload) {
	raw, err := json.Marshal(p)
	if err != nil {
		s.c.logger.Warn("encode signal", "peer", l.Remote, "err", err)
		return
	}
	if err := s.c.sig.Send(&models.SendSignal{To: l.Remote, From: s.c.id(), Signal: raw}); err != nil {
		s.c.logger.Warn("signal not sent", "peer", l.Remote, "err", err)
	}
}

func (s linkSink) LinkState(l *peer.Link, st peer.State) {
	s.c.post(func() {
		if !s.c.peers.Current(l) {
			s.c.logger.Debug("dropping state of a closed link", "peer", l.Remote, "state", st)
			return
		}
		s.c.linkState(l.Remote, st)
	})
}
