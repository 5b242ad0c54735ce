package peer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrUnknownPayload is returned for a signal payload whose type is not
// offer, answer or candidate.
var ErrUnknownPayload = errors.New("unknown signal payload")

// Payload types.
const (
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
)

// Payload is the handshake blob relayed inside signal events.
type Payload struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// ParsePayload decodes and validates a relayed signal.
func ParsePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode signal: %w", err)
	}
	switch p.Type {
	case TypeOffer, TypeAnswer:
		if p.SDP == "" {
			return Payload{}, fmt.Errorf("%w: %s without sdp", ErrUnknownPayload, p.Type)
		}
	case TypeCandidate:
		if p.Candidate == nil {
			return Payload{}, fmt.Errorf("%w: candidate without body", ErrUnknownPayload)
		}
	default:
		return Payload{}, fmt.Errorf("%w: %q", ErrUnknownPayload, p.Type)
	}
	return p, nil
}

// State is a transport condition reported back to the coordinator.
type State int

const (
	Connected State = iota + 1
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config describes one link to build.
type Config struct {
	Remote    string
	Initiator bool
	// Track is the local audio to send. Nil means receive only.
	Track webrtc.TrackLocal
}

// Events are invoked by a transport from its own goroutines.
type Events struct {
	Signal func(Payload)
	State  func(State)
}

// Transport is one media session with a remote peer. Methods are called from
// a single goroutine.
type Transport interface {
	// Negotiate creates and emits the offer. Only initiators negotiate.
	Negotiate() error
	// Apply feeds a payload received from the remote.
	Apply(Payload) error
	Close() error
}

// Factory builds transports.
type Factory interface {
	New(cfg Config, ev Events) (Transport, error)
}

// Link is an entry in the manager's arena.
type Link struct {
	Remote    string
	Initiator bool

	transport Transport
}
