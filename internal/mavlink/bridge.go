// Package mavlink bridges a MAVLink telemetry link to the stream registry.
//
// The bridge emits a heartbeat at a fixed interval and answers camera
// information requests and the camstream dialect queries. Inbound messages
// are handled one at a time in arrival order; the heartbeat never waits on
// them.
package mavlink

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/jmylchreest/camstreamd/internal/config"
	"github.com/jmylchreest/camstreamd/internal/observability"
	"github.com/jmylchreest/camstreamd/internal/stream"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
)

// State is the lifecycle state of a Bridge.
type State int32

// Bridge states.
const (
	StateDisconnected State = iota
	StateConnected
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Registry is the subset of the stream registry the bridge drives.
type Registry interface {
	Streams() []stream.Descriptor
	StreamByID(id uint8) (stream.Descriptor, bool)
	Capabilities(device string) (v4l2.Capabilities, error)
	Formats(device string) ([]v4l2.PixelFormat, error)
	FrameSize(device string) (uint32, uint32, error)
	URI(d stream.Descriptor, host string) string
	Mutate(mountPath string, format v4l2.PixelFormat, newMountPath string, width, height uint32) (stream.Descriptor, error)
}

// Dialer opens the telemetry link.
type Dialer func() (Link, error)

// Options configures a Bridge.
type Options struct {
	SystemID         uint8
	LivenessInterval time.Duration
	MountPathPolicy  string
}

// OptionsFromConfig converts the telemetry link configuration.
func OptionsFromConfig(cfg config.MAVLinkConfig) Options {
	return Options{
		SystemID:         uint8(cfg.SystemID),
		LivenessInterval: cfg.LivenessInterval,
		MountPathPolicy:  cfg.MountPathPolicy,
	}
}

// Bridge translates telemetry link traffic into registry operations.
type Bridge struct {
	registry Registry
	dial     Dialer
	opts     Options
	logger   *slog.Logger

	state atomic.Int32
	link  Link

	sendMu sync.Mutex
}

// NewBridge creates a disconnected bridge.
func NewBridge(registry Registry, dial Dialer, opts Options, logger *slog.Logger) *Bridge {
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = time.Second
	}
	if opts.MountPathPolicy == "" {
		opts.MountPathPolicy = config.MountPathPreserve
	}
	return &Bridge{
		registry: registry,
		dial:     dial,
		opts:     opts,
		logger:   observability.WithComponent(logger, "mavlink"),
	}
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Connect opens the link. Failures wrap ErrTransportConnectFailed.
func (b *Bridge) Connect() error {
	if b.State() != StateDisconnected {
		return fmt.Errorf("bridge already %s", b.State())
	}

	link, err := b.dial()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransportConnectFailed, err)
	}
	b.link = link
	b.state.Store(int32(StateConnected))
	return nil
}

// Run emits heartbeats and dispatches inbound messages until ctx is
// cancelled or the link closes. The link is closed on return.
func (b *Bridge) Run(ctx context.Context) error {
	if b.State() != StateConnected {
		return fmt.Errorf("bridge is %s, want %s", b.State(), StateConnected)
	}
	b.state.Store(int32(StateRunning))
	defer func() {
		b.link.Close()
		b.state.Store(int32(StateDisconnected))
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.liveness(ctx)
	}()

	b.logger.Info("telemetry bridge running",
		slog.Int("system_id", int(b.opts.SystemID)),
		slog.Duration("liveness_interval", b.opts.LivenessInterval),
		slog.String("mount_path_policy", b.opts.MountPathPolicy),
	)

	err := b.dispatch(ctx)
	cancel()
	wg.Wait()
	return err
}

func (b *Bridge) liveness(ctx context.Context) {
	ticker := time.NewTicker(b.opts.LivenessInterval)
	defer ticker.Stop()

	for {
		b.send(heartbeat())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context) error {
	messages := b.link.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-messages:
			if !ok {
				b.logger.Warn("telemetry link closed")
				return nil
			}
			b.handleSafely(in)
		}
	}
}

// handleSafely handles one message, recovering from handler panics so
// dispatch continues.
func (b *Bridge) handleSafely(in Inbound) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked",
				slog.Any("panic", r),
				slog.Uint64("message_id", uint64(in.Message.GetID())),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	b.handle(in)
}

func (b *Bridge) handle(in Inbound) {
	if in.Message == nil {
		return
	}
	if target, ok := targetSystemOf(in.Message); ok {
		if target != 0 && target != b.opts.SystemID {
			b.logger.Log(context.Background(), observability.LevelTrace, "ignoring message for other system",
				slog.Int("target_system", int(target)))
			return
		}
	}

	switch msg := in.Message.(type) {
	case *common.MessageCommandLong:
		b.handleCommandLong(msg)
	case *MessageStreamListQuery:
		b.handleStreamListQuery(msg)
	case *MessageStreamSettingsQuery:
		b.handleStreamSettingsQuery(msg)
	case *MessageSetStreamSettings:
		b.handleSetStreamSettings(msg)
	default:
		b.logger.Log(context.Background(), observability.LevelTrace, "ignoring message",
			slog.Uint64("message_id", uint64(in.Message.GetID())),
			slog.Int("system_id", int(in.SystemID)),
			slog.Int("component_id", int(in.ComponentID)),
		)
	}
}

func (b *Bridge) send(msg message.Message) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	if err := b.link.Send(msg); err != nil {
		b.logger.Warn("telemetry send failed",
			slog.Uint64("message_id", uint64(msg.GetID())),
			slog.String("error", err.Error()),
		)
	}
}

// uriHost is the host placed in stream URIs sent over the link.
func (b *Bridge) uriHost() string {
	if ip := b.link.LocalIP(); ip != nil {
		return ip.String()
	}
	return ""
}
