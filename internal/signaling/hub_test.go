package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/etherchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(append([]Option{WithLogger(quietLogger())}, opts...)...)
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return h
}

func connect(t *testing.T, h *Hub, id string) *Client {
	t.Helper()
	c := &Client{ID: id, Send: make(chan []byte, 64)}
	require.True(t, h.Register(c))
	welcome, ok := next(t, c).(*models.Welcome)
	require.True(t, ok)
	require.Equal(t, id, welcome.ID)
	return c
}

func next(t *testing.T, c *Client) models.ServerEvent {
	t.Helper()
	select {
	case frame, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		ev, err := models.DecodeServerEvent(frame)
		require.NoError(t, err)
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event for %s", c.ID)
		return nil
	}
}

// flush waits until everything queued before it has been handled.
func flush(t *testing.T, h *Hub) {
	t.Helper()
	require.NoError(t, h.do(context.Background(), func() {}))
}

func assertSilent(t *testing.T, h *Hub, clients ...*Client) {
	t.Helper()
	flush(t, h)
	for _, c := range clients {
		select {
		case frame := <-c.Send:
			t.Fatalf("%s got unexpected frame %s", c.ID, frame)
		default:
		}
	}
}

func dispatch(t *testing.T, h *Hub, c *Client, ev models.ClientEvent) {
	t.Helper()
	require.True(t, h.Dispatch(c, ev))
}

func TestJoinAloneThenSecondMember(t *testing.T) {
	h := startHub(t)
	x := connect(t, h, "x")
	y := connect(t, h, "y")

	dispatch(t, h, x, &models.JoinRoom{RoomID: "r1", Codename: "Ghost-1"})
	users, ok := next(t, x).(*models.RoomUsers)
	require.True(t, ok)
	assert.Equal(t, models.RoomUsers{{ID: "x", Codename: "Ghost-1"}}, *users)

	dispatch(t, h, y, &models.JoinRoom{RoomID: "r1", Codename: "Echo-2"})
	want := []models.Member{{ID: "x", Codename: "Ghost-1"}, {ID: "y", Codename: "Echo-2"}}

	joined, ok := next(t, x).(*models.UserJoined)
	require.True(t, ok)
	assert.Equal(t, "y", joined.UserID)
	assert.Equal(t, "Echo-2", joined.Codename)
	assert.Equal(t, want, joined.Users)

	users, ok = next(t, y).(*models.RoomUsers)
	require.True(t, ok)
	assert.Equal(t, want, []models.Member(*users))

	assertSilent(t, h, x, y)
}

func TestJoinWithoutRoomIsIgnored(t *testing.T) {
	h := startHub(t)
	x := connect(t, h, "x")

	dispatch(t, h, x, &models.JoinRoom{RoomID: "   ", Codename: "Ghost"})
	assertSilent(t, h, x)

	conns, rooms, err := h.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, conns)
	assert.Zero(t, rooms)
}

func TestEmptyCodenameBecomesAnonymous(t *testing.T) {
	h := startHub(t)
	x := connect(t, h, "x")

	dispatch(t, h, x, &models.JoinRoom{RoomID: "r1"})
	users := next(t, x).(*models.RoomUsers)
	assert.Equal(t, "Anonymous", (*users)[0].Codename)
}

func TestTextFanOutStaysInRoom(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	h := startHub(t, WithClock(func() time.Time { return now }))
	x := connect(t, h, "x")
	y := connect(t, h, "y")
	z := connect(t, h, "z")

	dispatch(t, h, x, &models.JoinRoom{RoomID: "r1", Codename: "X"})
	dispatch(t, h, y, &models.JoinRoom{RoomID: "r1", Codename: "Y"})
	dispatch(t, h, z, &models.JoinRoom{RoomID: "r2", Codename: "Z"})
	flush(t, h)
	drain(x, y, z)

	dispatch(t, h, x, &models.SendText{RoomID: "r1", Message: "hello", Codename: "X"})
	for _, c := range []*Client{x, y} {
		msg, ok := next(t, c).(*models.TextMessage)
		require.True(t, ok)
		assert.Equal(t, models.TextMessage{From: "x", Codename: "X", Message: "hello", Timestamp: now.UnixMilli()}, *msg)
	}
	assertSilent(t, h, x, y, z)
}

func TestTextToForeignRoomIsDropped(t *testing.T) {
	h := startHub(t)
	x := connect(t, h, "x")
	y := connect(t, h, "y")
	dispatch(t, h, x, &models.JoinRoom{RoomID: "r1", Codename: "X"})
	dispatch(t, h, y, &models.JoinRoom{RoomID: "r2", Codename: "Y"})
	flush(t, h)
	drain(x, y)

	dispatch(t, h, x, &models.SendText{RoomID: "r2", Message: "sneaky"})
	assertSilent(t, h, x, y)
}

func TestRelayOverridesSenderAndDropsUnknownTarget(t *testing.T) {
	h := startHub(t)
	x := connect(t, h, "x")
	y := connect(t, h, "y")

	blob := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	dispatch(t, h, x, &models.SendSignal{To: "y", From: "spoofed", Signal: blob})
	sig, ok := next(t, y).(*models.Signal)
	require.True(t, ok)
	assert.Equal(t, "x", sig.From)
	assert.JSONEq(t, string(blob), string(sig.Signal))

	dispatch(t, h, x, &models.InitiateCall{To: "y", From: "spoofed", Codename: "X"})
	incoming := next(t, y).(*models.CallIncoming)
	assert.Equal(t, models.CallIncoming{From: "x", Codename: "X"}, *incoming)

	dispatch(t, h, y, &models.AcceptCall{To: "x"})
	assert.Equal(t, &models.CallAccepted{From: "y"}, next(t, x))

	dispatch(t, h, y, &models.RejectCall{To: "x"})
	assert.Equal(t, &models.CallRejected{From: "y"}, next(t, x))

	dispatch(t, h, x, &models.EndCall{To: "y"})
	assert.Equal(t, &models.CallEnded{From: "x"}, next(t, y))

	dispatch(t, h, x, &models.EndCall{})
	dispatch(t, h, x, &models.SendSignal{To: "gone", Signal: blob})
	assertSilent(t, h, x, y)
}

func TestDisconnectBroadcastsAndDeletesEmptyRoom(t *testing.T) {
	h := startHub(t)
	x := connect(t, h, "x")
	y := connect(t, h, "y")
	dispatch(t, h, x, &models.JoinRoom{RoomID: "r1", Codename: "X"})
	dispatch(t, h, y, &models.JoinRoom{RoomID: "r1", Codename: "Y"})
	flush(t, h)
	drain(x, y)

	h.Unregister(x)
	left, ok := next(t, y).(*models.UserLeft)
	require.True(t, ok)
	assert.Equal(t, "x", left.UserID)
	assert.Equal(t, "X", left.Codename)
	assert.Equal(t, []models.Member{{ID: "y", Codename: "Y"}}, left.Users)

	_, open := <-x.Send
	assert.False(t, open, "send channel of a dropped client is closed")

	h.Unregister(y)
	flush(t, h)
	_, found, err := h.Room(context.Background(), "r1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExplicitLeave(t *testing.T) {
	h := startHub(t)
	x := connect(t, h, "x")
	y := connect(t, h, "y")
	dispatch(t, h, x, &models.JoinRoom{RoomID: "r1", Codename: "X"})
	dispatch(t, h, y, &models.JoinRoom{RoomID: "r1", Codename: "Y"})
	flush(t, h)
	drain(x, y)

	dispatch(t, h, y, &models.LeaveRoom{})
	left := next(t, x).(*models.UserLeft)
	assert.Equal(t, "y", left.UserID)

	dispatch(t, h, y, &models.SendText{Message: "anyone?"})
	assertSilent(t, h, x, y)
}

func TestRejoinSameRoom(t *testing.T) {
	h := startHub(t)
	x := connect(t, h, "x")
	y := connect(t, h, "y")
	dispatch(t, h, x, &models.JoinRoom{RoomID: "r1", Codename: "X"})
	dispatch(t, h, y, &models.JoinRoom{RoomID: "r1", Codename: "Y"})
	flush(t, h)
	drain(x, y)

	dispatch(t, h, y, &models.JoinRoom{RoomID: "r1", Codename: "Y"})
	users := next(t, y).(*models.RoomUsers)
	assert.Len(t, *users, 2)
	assertSilent(t, h, x)

	dispatch(t, h, y, &models.JoinRoom{RoomID: "r1", Codename: "Renamed"})
	joined := next(t, x).(*models.UserJoined)
	assert.Equal(t, "Renamed", joined.Codename)
	users = next(t, y).(*models.RoomUsers)
	assert.Equal(t, "Renamed", (*users)[1].Codename)

	info, found, err := h.Room(context.Background(), "r1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, info.MemberCount)
}

func TestSwitchingRoomsLeavesTheOldOne(t *testing.T) {
	h := startHub(t)
	x := connect(t, h, "x")
	y := connect(t, h, "y")
	dispatch(t, h, x, &models.JoinRoom{RoomID: "r1", Codename: "X"})
	dispatch(t, h, y, &models.JoinRoom{RoomID: "r1", Codename: "Y"})
	flush(t, h)
	drain(x, y)

	dispatch(t, h, y, &models.JoinRoom{RoomID: "r2", Codename: "Y"})
	left := next(t, x).(*models.UserLeft)
	assert.Equal(t, "y", left.UserID)
	users := next(t, y).(*models.RoomUsers)
	assert.Equal(t, models.RoomUsers{{ID: "y", Codename: "Y"}}, *users)
}

type recordingPresence struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPresence) Joined(roomID, connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "+"+roomID+"/"+connID)
}

func (p *recordingPresence) Left(roomID, connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "-"+roomID+"/"+connID)
}

func TestPresenceMirrorsMembership(t *testing.T) {
	p := &recordingPresence{}
	h := startHub(t, WithPresence(p))
	x := connect(t, h, "x")

	dispatch(t, h, x, &models.JoinRoom{RoomID: "r1", Codename: "X"})
	dispatch(t, h, x, &models.JoinRoom{RoomID: "r2", Codename: "X"})
	h.Unregister(x)
	flush(t, h)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, []string{"+r1/x", "-r1/x", "+r2/x", "-r2/x"}, p.events)
}

// TestMembershipMatchesModel drives random join/leave/disconnect sequences
// and checks the directory against a trivially correct model after each step.
func TestMembershipMatchesModel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	h := startHub(t)

	const clients = 8
	rooms := []string{"a", "b", "c"}
	conns := make(map[string]*Client)
	lastRoom := make(map[string]string)

	for step := 0; step < 400; step++ {
		id := fmt.Sprintf("c%d", rng.Intn(clients))
		c, live := conns[id]

		switch op := rng.Intn(4); {
		case !live:
			c = &Client{ID: id, Send: make(chan []byte, 1024)}
			require.True(t, h.Register(c))
			conns[id] = c
		case op <= 1:
			room := rooms[rng.Intn(len(rooms))]
			dispatch(t, h, c, &models.JoinRoom{RoomID: room, Codename: id})
			lastRoom[id] = room
		case op == 2:
			dispatch(t, h, c, &models.LeaveRoom{})
			delete(lastRoom, id)
		default:
			h.Unregister(c)
			delete(conns, id)
			delete(lastRoom, id)
		}

		want := make(map[string]int)
		for _, room := range lastRoom {
			want[room]++
		}

		counts := make(map[string]int)
		present := make(map[string]bool)
		require.NoError(t, h.do(context.Background(), func() {
			for _, room := range rooms {
				counts[room] = h.directory.Count(room)
				present[room] = h.directory.Has(room)
			}
		}))
		for _, room := range rooms {
			require.Equal(t, want[room], counts[room], "step %d room %s", step, room)
			require.Equal(t, want[room] > 0, present[room], "step %d room %s", step, room)
		}
		for _, c := range conns {
			drain(c)
		}
	}
}

func TestQueriesFailAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(WithLogger(quietLogger()))
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	c := &Client{ID: "x", Send: make(chan []byte, 4)}
	require.True(t, h.Register(c))
	cancel()
	<-stopped

	_, _, err := h.Stats(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.False(t, h.Dispatch(c, &models.LeaveRoom{}))
}

func drain(clients ...*Client) {
	for _, c := range clients {
	loop:
		for {
			select {
			case _, ok := <-c.Send:
				if !ok {
					break loop
				}
			default:
				break loop
			}
		}
	}
}

func TestQueryQueuedBeforeStopReturns(t *testing.T) {
	// Run may stop with the query still queued; the caller must not hang
	// even without a deadline of its own.
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		h := NewHub(WithLogger(quietLogger()))
		stopped := make(chan struct{})
		go func() {
			h.Run(ctx)
			close(stopped)
		}()

		running, release := make(chan struct{}), make(chan struct{})
		require.True(t, h.post(func() {
			close(running)
			cancel()
			<-release
		}))
		<-running

		result := make(chan error, 1)
		go func() {
			_, _, err := h.Stats(context.Background())
			result <- err
		}()
		require.Eventually(t, func() bool { return len(h.events) == 1 }, time.Second, time.Millisecond)
		close(release)
		<-stopped

		select {
		case err := <-result:
			if err != nil {
				assert.ErrorIs(t, err, ErrStopped)
			}
		case <-time.After(time.Second):
			t.Fatal("query hung after the hub stopped")
		}
	}
}
