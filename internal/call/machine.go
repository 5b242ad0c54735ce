// Package call holds the per-client call negotiation state machine. It has no
// I/O of its own: every transition returns the effects the caller must carry
// out against the relay and the peer session manager, in order.
package call

import "fmt"

// State is the negotiation state of the local client.
type State int

const (
	Idle State = iota
	Calling
	Ringing
	InCall
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Calling:
		return "calling"
	case Ringing:
		return "ringing"
	case InCall:
		return "in-call"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Direction records who started the current session.
type Direction int

const (
	None Direction = iota
	Outbound
	Inbound
)

// Effect is one side effect requested by a transition.
type Effect int

const (
	// SendInitiate emits initiate-call to Step.Peer.
	SendInitiate Effect = iota + 1
	// SendAccept emits call-accepted to Step.Peer.
	SendAccept
	// SendReject emits call-rejected to Step.Peer.
	SendReject
	// SendEnd emits end-call to every open link's remote and to Step.Peer.
	SendEnd
	// OpenOutbound creates the initiator link to Step.Peer.
	OpenOutbound
	// OpenInbound creates (or reuses) the non-initiator link to Step.Peer.
	OpenInbound
	// Negotiate starts the offer on the initiator link to Step.Peer.
	Negotiate
	// TearDown destroys every peer link.
	TearDown
)

// Notice is what the user should be told about a transition, if anything.
type Notice int

const (
	NoNotice Notice = iota
	NoticeIncoming
	NoticeAccepted
	NoticeRejected
	NoticeEnded
)

// Step is the outcome of one transition.
type Step struct {
	Peer    string
	Effects []Effect
	Notice  Notice
}

// Has reports whether e is among the step's effects.
func (s Step) Has(e Effect) bool {
	for _, x := range s.Effects {
		if x == e {
			return true
		}
	}
	return false
}

// Machine is not safe for concurrent use. The client coordinator drives it
// from its single event loop.
type Machine struct {
	self      string
	state     State
	direction Direction
	remote    string
	codename  string
}

// New returns a machine in the idle state.
func New() *Machine {
	return &Machine{}
}

// SetSelf records the local connection id assigned by the server.
func (m *Machine) SetSelf(id string) {
	m.self = id
}

func (m *Machine) State() State { return m.state }

func (m *Machine) Direction() Direction { return m.direction }

// Remote is the peer of the current session, empty when idle.
func (m *Machine) Remote() string { return m.remote }

// RemoteCodename is the codename announced by an inbound caller.
func (m *Machine) RemoteCodename() string { return m.codename }

// AcceptsSignal reports whether a handshake payload from 'from' belongs to the
// current session. Anything else is a protocol race and must be dropped.
func (m *Machine) AcceptsSignal(from string) bool {
	return m.state != Idle && from != "" && from == m.remote
}

// Initiate starts an outbound call to target.
func (m *Machine) Initiate(target string) (Step, error) {
	if target == "" || target == m.self {
		return Step{}, ErrInvalidTarget
	}
	if m.state != Idle {
		return Step{}, fmt.Errorf("%w: %s with %s", ErrBusy, m.state, m.remote)
	}
	m.enter(Calling, Outbound, target, "")
	return Step{Peer: target, Effects: []Effect{SendInitiate, OpenOutbound}}, nil
}

// Incoming handles call-incoming from a remote caller.
func (m *Machine) Incoming(from, codename string) Step {
	switch {
	case m.state == Idle:
		m.enter(Ringing, Inbound, from, codename)
		return Step{Peer: from, Notice: NoticeIncoming}
	case from != m.remote:
		return Step{Peer: from, Effects: []Effect{SendReject}}
	case m.state == Calling:
		// Both sides initiated. The smaller id stays caller and waits for the
		// other side's call-accepted.
		if m.self < from {
			return Step{}
		}
		m.enter(InCall, Inbound, from, codename)
		return Step{
			Peer:    from,
			Effects: []Effect{TearDown, SendAccept, OpenInbound},
			Notice:  NoticeAccepted,
		}
	default:
		// Duplicate call-incoming for the session already in progress.
		return Step{}
	}
}

// Accepted handles call-accepted from the remote being called.
func (m *Machine) Accepted(from string) Step {
	if m.state != Calling || from != m.remote {
		return Step{}
	}
	m.state = InCall
	return Step{Peer: from, Effects: []Effect{Negotiate}, Notice: NoticeAccepted}
}

// Rejected handles call-rejected from the remote being called.
func (m *Machine) Rejected(from string) Step {
	if m.state != Calling || from != m.remote {
		return Step{}
	}
	m.reset()
	return Step{Peer: from, Effects: []Effect{TearDown}, Notice: NoticeRejected}
}

// Accept answers a ringing call.
func (m *Machine) Accept() (Step, error) {
	if m.state != Ringing {
		return Step{}, ErrNoIncomingCall
	}
	m.state = InCall
	return Step{Peer: m.remote, Effects: []Effect{SendAccept, OpenInbound}}, nil
}

// Reject declines a ringing call.
func (m *Machine) Reject() (Step, error) {
	if m.state != Ringing {
		return Step{}, ErrNoIncomingCall
	}
	peer := m.remote
	m.reset()
	return Step{Peer: peer, Effects: []Effect{SendReject, TearDown}}, nil
}

// End hangs up locally. Ending while idle does nothing.
func (m *Machine) End() Step {
	if m.state == Idle {
		return Step{}
	}
	peer := m.remote
	m.reset()
	return Step{Peer: peer, Effects: []Effect{SendEnd, TearDown}, Notice: NoticeEnded}
}

// Ended handles call-ended. An empty from is treated as the current remote.
func (m *Machine) Ended(from string) Step {
	if m.state == Idle || (from != "" && from != m.remote) {
		return Step{}
	}
	return m.drop()
}

// Gone handles the remote of the current session leaving the room or its
// link closing or failing.
func (m *Machine) Gone(peer string) Step {
	if m.state == Idle || peer != m.remote {
		return Step{}
	}
	return m.drop()
}

// Disconnected handles loss of the signaling connection.
func (m *Machine) Disconnected() Step {
	if m.state == Idle {
		return Step{}
	}
	return m.drop()
}

func (m *Machine) drop() Step {
	peer := m.remote
	m.reset()
	return Step{Peer: peer, Effects: []Effect{TearDown}, Notice: NoticeEnded}
}

func (m *Machine) enter(s State, d Direction, remote, codename string) {
	m.state = s
	m.direction = d
	m.remote = remote
	m.codename = codename
}

func (m *Machine) reset() {
	m.enter(Idle, None, "", "")
}
