package peer

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	cfg        Config
	ev         Events
	applied    []Payload
	negotiated int
	closed     int
}

func (t *fakeTransport) Negotiate() error {
	t.negotiated++
	t.ev.Signal(Payload{Type: TypeOffer, SDP: "offer-sdp"})
	return nil
}

func (t *fakeTransport) Apply(p Payload) error {
	t.applied = append(t.applied, p)
	return nil
}

func (t *fakeTransport) Close() error {
	t.closed++
	return nil
}

type fakeFactory struct {
	built []*fakeTransport
	err   error
}

func (f *fakeFactory) New(cfg Config, ev Events) (Transport, error) {
	if f.err != nil {
		return nil, f.err
	}
	t := &fakeTransport{cfg: cfg, ev: ev}
	f.built = append(f.built, t)
	return t, nil
}

type sinkSignal struct {
	remote string
	p      Payload
}

type sinkState struct {
	remote string
	s      State
}

type recordingSink struct {
	mu      sync.Mutex
	signals []sinkSignal
	states  []sinkState
}

func (s *recordingSink) SendSignal(l *Link, p Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sinkSignal{l.Remote, p})
}

func (s *recordingSink) LinkState(l *Link, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, sinkState{l.Remote, st})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager() (*Manager, *fakeFactory, *recordingSink) {
	f := &fakeFactory{}
	sink := &recordingSink{}
	return NewManager(f, sink, nil, quietLogger()), f, sink
}

func TestOpenIsGetOrCreate(t *testing.T) {
	m, f, _ := newManager()

	a, err := m.Open("y", true)
	require.NoError(t, err)
	b, err := m.Open("y", false)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.True(t, b.Initiator)
	assert.Len(t, f.built, 1)
	assert.Equal(t, []string{"y"}, m.Remotes())
}

func TestInitiatorDefersOfferUntilNegotiate(t *testing.T) {
	m, f, sink := newManager()

	_, err := m.Open("y", true)
	require.NoError(t, err)
	assert.Empty(t, sink.signals)

	require.NoError(t, m.Negotiate("y"))
	assert.Equal(t, 1, f.built[0].negotiated)
	assert.Equal(t, []sinkSignal{{"y", Payload{Type: TypeOffer, SDP: "offer-sdp"}}}, sink.signals)
}

func TestNegotiateRequiresInitiator(t *testing.T) {
	m, _, _ := newManager()
	assert.Error(t, m.Negotiate("y"))

	_, err := m.Open("y", false)
	require.NoError(t, err)
	assert.Error(t, m.Negotiate("y"))
}

func TestSignalCreatesResponderLink(t *testing.T) {
	m, f, _ := newManager()

	require.NoError(t, m.Signal("x", json.RawMessage(`{"type":"offer","sdp":"v=0"}`)))
	require.Len(t, f.built, 1)
	assert.False(t, f.built[0].cfg.Initiator)
	assert.Equal(t, []Payload{{Type: TypeOffer, SDP: "v=0"}}, f.built[0].applied)

	require.NoError(t, m.Signal("x", json.RawMessage(`{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host"}}`)))
	assert.Len(t, f.built, 1)
	assert.Len(t, f.built[0].applied, 2)
}

func TestSignalRejectsUnknownPayload(t *testing.T) {
	m, f, _ := newManager()

	err := m.Signal("x", json.RawMessage(`{"renegotiate":true}`))
	assert.ErrorIs(t, err, ErrUnknownPayload)
	err = m.Signal("x", json.RawMessage(`{"type":"offer"}`))
	assert.ErrorIs(t, err, ErrUnknownPayload)
	assert.Error(t, m.Signal("x", json.RawMessage(`not json`)))

	assert.Empty(t, f.built)
	assert.False(t, m.Has("x"))
}

func TestCloseAllDropsLateEvents(t *testing.T) {
	m, f, sink := newManager()
	_, err := m.Open("y", true)
	require.NoError(t, err)
	_, err = m.Open("z", false)
	require.NoError(t, err)

	f.built[0].ev.State(Connected)
	assert.Equal(t, []sinkState{{"y", Connected}}, sink.states)

	assert.Equal(t, []string{"y", "z"}, m.CloseAll())
	assert.Empty(t, m.Remotes())
	for _, tr := range f.built {
		assert.Equal(t, 1, tr.closed)
	}

	// A torn down transport still reporting must not reach the sink.
	f.built[0].ev.State(Closed)
	f.built[1].ev.Signal(Payload{Type: TypeAnswer, SDP: "late"})
	assert.Len(t, sink.states, 1)
	assert.Empty(t, sink.signals)
}

func TestReopenedLinkIgnoresPredecessor(t *testing.T) {
	m, f, sink := newManager()
	_, err := m.Open("y", true)
	require.NoError(t, err)
	m.Close("y")
	_, err = m.Open("y", false)
	require.NoError(t, err)

	f.built[0].ev.State(Failed)
	f.built[1].ev.State(Connected)
	assert.Equal(t, []sinkState{{"y", Connected}}, sink.states)
}

func TestFactoryFailureLeavesNoLink(t *testing.T) {
	m, f, _ := newManager()
	f.err = errors.New("no ICE agent")

	_, err := m.Open("y", true)
	assert.ErrorIs(t, err, f.err)
	assert.False(t, m.Has("y"))
}

func TestCurrentTracksArenaEntry(t *testing.T) {
	m, _, _ := newManager()
	first, err := m.Open("y", true)
	require.NoError(t, err)
	assert.True(t, m.Current(first))

	m.CloseAll()
	assert.False(t, m.Current(first))

	second, err := m.Open("y", false)
	require.NoError(t, err)
	assert.False(t, m.Current(first))
	assert.True(t, m.Current(second))
}

// blockingSink parks in SendSignal until released.
type blockingSink struct {
	recordingSink
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSink) SendSignal(l *Link, p Payload) {
	close(s.entered)
	<-s.release
	s.recordingSink.SendSignal(l, p)
}

func TestCloseAllWaitsForSignalInFlight(t *testing.T) {
	f := &fakeFactory{}
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(f, sink, nil, quietLogger())
	_, err := m.Open("y", true)
	require.NoError(t, err)

	go f.built[0].ev.Signal(Payload{Type: TypeCandidate, Candidate: &webrtc.ICECandidateInit{Candidate: "c"}})
	<-sink.entered

	closed := make(chan []string)
	go func() { closed <- m.CloseAll() }()
	select {
	case <-closed:
		t.Fatal("CloseAll returned while a signal was still going out")
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	assert.Equal(t, []string{"y"}, <-closed)
	assert.Len(t, sink.signals, 1)

	// Nothing leaves a link after CloseAll has returned.
	f.built[0].ev.Signal(Payload{Type: TypeCandidate, Candidate: &webrtc.ICECandidateInit{Candidate: "late"}})
	assert.Len(t, sink.signals, 1)
}
