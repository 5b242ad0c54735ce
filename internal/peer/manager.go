// Package peer keeps the client's peer links, one per remote id, and bridges
// their handshake traffic to the signaling relay.
package peer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Sink receives what links produce. Both methods are called from transport
// goroutines with the arena locked, so they must not block or call back into
// the Manager. A sink that defers work must check Current(l) again when it
// gets to it.
type Sink interface {
	SendSignal(l *Link, p Payload)
	LinkState(l *Link, s State)
}

// TrackSource supplies the current local track, if any.
type TrackSource interface {
	Track() webrtc.TrackLocal
}

// Manager owns the link arena. Its methods are called from the coordinator's
// loop; transport callbacks may arrive from any goroutine. The capture track
// it attaches is never stopped here.
type Manager struct {
	factory Factory
	sink    Sink
	tracks  TrackSource
	logger  *slog.Logger

	mu    sync.Mutex
	links map[string]*Link
}

// NewManager returns an empty manager. tracks may be nil.
func NewManager(factory Factory, sink Sink, tracks TrackSource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		factory: factory,
		sink:    sink,
		tracks:  tracks,
		logger:  logger,
		links:   make(map[string]*Link),
	}
}

// Open returns the link to remote, creating it if absent.
func (m *Manager) Open(remote string, initiator bool) (*Link, error) {
	m.mu.Lock()
	if l, ok := m.links[remote]; ok {
		m.mu.Unlock()
		return l, nil
	}
	l := &Link{Remote: remote, Initiator: initiator}
	m.links[remote] = l
	m.mu.Unlock()

	var track webrtc.TrackLocal
	if m.tracks != nil {
		track = m.tracks.Track()
	}
	t, err := m.factory.New(Config{Remote: remote, Initiator: initiator, Track: track}, Events{
		Signal: func(p Payload) {
			m.deliver(l, func() { m.sink.SendSignal(l, p) })
		},
		State: func(s State) {
			m.deliver(l, func() {
				m.logger.Debug("link state", "peer", remote, "state", s)
				m.sink.LinkState(l, s)
			})
		},
	})
	if err != nil {
		m.forget(l)
		return nil, fmt.Errorf("open link to %s: %w", remote, err)
	}

	m.mu.Lock()
	l.transport = t
	m.mu.Unlock()
	m.logger.Debug("link opened", "peer", remote, "initiator", initiator, "sending", track != nil)
	return l, nil
}

// Negotiate starts the offer on the initiator link to remote.
func (m *Manager) Negotiate(remote string) error {
	l, ok := m.get(remote)
	if !ok || l.transport == nil {
		return fmt.Errorf("no link to %s", remote)
	}
	if !l.Initiator {
		return fmt.Errorf("link to %s is not an initiator", remote)
	}
	return l.transport.Negotiate()
}

// Signal applies a relayed payload, creating a non-initiator link first when
// none exists.
func (m *Manager) Signal(remote string, raw json.RawMessage) error {
	p, err := ParsePayload(raw)
	if err != nil {
		return err
	}
	l, err := m.Open(remote, false)
	if err != nil {
		return err
	}
	return l.transport.Apply(p)
}

// Close tears down the link to remote, if any.
func (m *Manager) Close(remote string) {
	m.mu.Lock()
	l, ok := m.links[remote]
	delete(m.links, remote)
	m.mu.Unlock()
	if ok {
		m.shutdown(l)
	}
}

// CloseAll removes every link from the arena, then closes their transports.
// It returns the remotes that had links.
func (m *Manager) CloseAll() []string {
	m.mu.Lock()
	links := m.links
	m.links = make(map[string]*Link)
	m.mu.Unlock()

	remotes := make([]string, 0, len(links))
	for remote, l := range links {
		remotes = append(remotes, remote)
		m.shutdown(l)
	}
	sort.Strings(remotes)
	return remotes
}

// Remotes lists the remotes with open links, sorted.
func (m *Manager) Remotes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	remotes := make([]string, 0, len(m.links))
	for remote := range m.links {
		remotes = append(remotes, remote)
	}
	sort.Strings(remotes)
	return remotes
}

// Has reports whether a link to remote exists.
func (m *Manager) Has(remote string) bool {
	_, ok := m.get(remote)
	return ok
}

func (m *Manager) get(remote string) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[remote]
	return l, ok
}

// Current reports whether l is still the arena entry for its remote.
func (m *Manager) Current(l *Link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[l.Remote] == l
}

// deliver runs fn only while l is the arena entry. The lock is held
// throughout, so once Close or CloseAll has returned nothing from l gets out.
func (m *Manager) deliver(l *Link, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[l.Remote] == l {
		fn()
	}
}

func (m *Manager) forget(l *Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[l.Remote] == l {
		delete(m.links, l.Remote)
	}
}

func (m *Manager) shutdown(l *Link) {
	if l.transport == nil {
		return
	}
	if err := l.transport.Close(); err != nil {
		m.logger.Warn("close link", "peer", l.Remote, "err", err)
	}
}
