package peer

import (
	"errors"
	"fmt"
	"log/slog"

	pion "github.com/pion/webrtc/v4"
)

// PionFactory builds transports on pion peer connections with trickle ICE.
type PionFactory struct {
	STUNServers []string
	Logger      *slog.Logger
}

func (f PionFactory) New(cfg Config, ev Events) (Transport, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("peer", cfg.Remote)

	var iceServers []pion.ICEServer
	if len(f.STUNServers) > 0 {
		iceServers = []pion.ICEServer{{URLs: f.STUNServers}}
	}
	pc, err := pion.NewPeerConnection(pion.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if cfg.Track != nil {
		sender, err := pc.AddTrack(cfg.Track)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
		go drainRTCP(sender)
	} else if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	t := &pionTransport{pc: pc, initiator: cfg.Initiator, ev: ev, logger: logger}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		ev.Signal(Payload{Type: TypeCandidate, Candidate: &init})
	})

	pc.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		switch s {
		case pion.PeerConnectionStateConnected:
			ev.State(Connected)
		case pion.PeerConnectionStateFailed:
			ev.State(Failed)
		case pion.PeerConnectionStateClosed:
			ev.State(Closed)
		}
	})

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		logger.Info("remote audio", "codec", track.Codec().MimeType)
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	})

	return t, nil
}

type pionTransport struct {
	pc        *pion.PeerConnection
	initiator bool
	ev        Events
	logger    *slog.Logger

	// candidates received before the remote description
	pending []pion.ICECandidateInit
}

func (t *pionTransport) Negotiate() error {
	if !t.initiator {
		return errors.New("only the initiator creates an offer")
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	t.ev.Signal(Payload{Type: TypeOffer, SDP: t.pc.LocalDescription().SDP})
	return nil
}

func (t *pionTransport) Apply(p Payload) error {
	switch p.Type {
	case TypeOffer:
		if t.initiator {
			t.logger.Debug("dropping offer on initiator link")
			return nil
		}
		if err := t.remote(pion.SDPTypeOffer, p.SDP); err != nil {
			return err
		}
		answer, err := t.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := t.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		t.ev.Signal(Payload{Type: TypeAnswer, SDP: t.pc.LocalDescription().SDP})
		return nil

	case TypeAnswer:
		if !t.initiator {
			t.logger.Debug("dropping answer on non-initiator link")
			return nil
		}
		return t.remote(pion.SDPTypeAnswer, p.SDP)

	case TypeCandidate:
		if t.pc.RemoteDescription() == nil {
			t.pending = append(t.pending, *p.Candidate)
			return nil
		}
		if err := t.pc.AddICECandidate(*p.Candidate); err != nil {
			return fmt.Errorf("add ICE candidate: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownPayload, p.Type)
	}
}

func (t *pionTransport) remote(typ pion.SDPType, sdp string) error {
	if err := t.pc.SetRemoteDescription(pion.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	for _, c := range t.pending {
		if err := t.pc.AddICECandidate(c); err != nil {
			t.logger.Warn("add queued ICE candidate", "err", err)
		}
	}
	t.pending = nil
	return nil
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

// drainRTCP keeps the sender's interceptors running until it stops.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
