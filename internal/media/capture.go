// Package media manages the microphone capture used as the outbound audio of
// a call. Capture has two scopes: the raw device stream, held from
// microphone-on until microphone-off, and the masking graph built on top of
// it, rebuilt on every filter change.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrNoDevice is returned when no capture device is configured.
	ErrNoDevice = errors.New("no capture device")
	// ErrNotEnabled is returned by SetFilter while the microphone is off.
	ErrNotEnabled = errors.New("microphone is not enabled")
)

// RawStream is an open device stream.
type RawStream interface {
	Track() webrtc.TrackLocal
	Close() error
}

// Device opens the raw capture stream.
type Device interface {
	Open(ctx context.Context) (RawStream, error)
}

// Masker builds a processing graph over raw for filter. The returned cleanup
// releases the graph only; it must not close raw.
type Masker interface {
	Apply(raw RawStream, filter Filter) (webrtc.TrackLocal, func(), error)
}

// Passthrough is a Masker that sends the raw track unchanged for every filter.
// The chat command uses it, so its filters are accepted but inaudible.
type Passthrough struct{}

func (Passthrough) Apply(raw RawStream, _ Filter) (webrtc.TrackLocal, func(), error) {
	return raw.Track(), func() {}, nil
}

// Capture is safe for concurrent use.
type Capture struct {
	device Device
	masker Masker
	logger *slog.Logger

	mu      sync.Mutex
	raw     RawStream
	output  webrtc.TrackLocal
	cleanup func()
	filter  Filter
}

// NewCapture returns a disabled capture. A nil masker means Passthrough.
func NewCapture(device Device, masker Masker, logger *slog.Logger) *Capture {
	if masker == nil {
		masker = Passthrough{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{device: device, masker: masker, logger: logger, filter: FilterNone}
}

// Enable opens the device if needed and builds the graph for filter. Calling
// it while enabled only switches the filter.
func (c *Capture) Enable(ctx context.Context, filter Filter) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.raw != nil {
		return c.apply(filter)
	}
	if c.device == nil {
		return ErrNoDevice
	}

	raw, err := c.device.Open(ctx)
	if err != nil {
		return fmt.Errorf("open capture device: %w", err)
	}
	c.raw = raw
	if err := c.apply(filter); err != nil {
		c.closeRaw()
		return err
	}
	c.logger.Info("microphone on", "filter", filter)
	return nil
}

// SetFilter tears down the current graph and builds one for filter. The raw
// stream stays open.
func (c *Capture) SetFilter(filter Filter) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.raw == nil {
		return ErrNotEnabled
	}
	return c.apply(filter)
}

// Disable releases the graph and the raw stream. It is a no-op when off.
func (c *Capture) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.raw == nil {
		return
	}
	c.release()
	c.closeRaw()
	c.logger.Info("microphone off")
}

// Track returns the masked output, or nil while the microphone is off.
func (c *Capture) Track() webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

// Enabled reports whether the raw stream is open.
func (c *Capture) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw != nil
}

// Filter returns the filter of the current graph.
func (c *Capture) Filter() Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

func (c *Capture) apply(filter Filter) error {
	c.release()
	output, cleanup, err := c.masker.Apply(c.raw, filter)
	if err != nil {
		return fmt.Errorf("apply %s filter: %w", filter, err)
	}
	c.output, c.cleanup, c.filter = output, cleanup, filter
	return nil
}

func (c *Capture) release() {
	if c.cleanup != nil {
		c.cleanup()
	}
	c.output, c.cleanup = nil, nil
}

func (c *Capture) closeRaw() {
	if err := c.raw.Close(); err != nil {
		c.logger.Warn("close capture device", "err", err)
	}
	c.raw = nil
}
