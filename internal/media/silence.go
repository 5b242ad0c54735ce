package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceDevice stands in for a microphone on hosts without an audio driver.
// Each stream is an Opus track fed with silent frames, which keeps the call
// negotiated as send-receive.
type SilenceDevice struct {
	// StreamID groups the track in the remote SDP. Defaults to "etherchat".
	StreamID string
}

func (d SilenceDevice) Open(ctx context.Context) (RawStream, error) {
	streamID := d.StreamID
	if streamID == "" {
		streamID = "etherchat"
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	s := &silenceStream{track: track, done: make(chan struct{})}
	s.wg.Add(1)
	go s.feed()
	return s, nil
}

type silenceStream struct {
	track *webrtc.TrackLocalStaticSample
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func (s *silenceStream) Track() webrtc.TrackLocal { return s.track }

func (s *silenceStream) Close() error {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

func (s *silenceStream) feed() {
	defer s.wg.Done()
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			// Unbound tracks accept and discard samples.
			_ = s.track.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameDuration})
		}
	}
}
