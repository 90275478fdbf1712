// Package stream owns the set of published camera streams.
//
// The Registry validates every change through a pipeline builder before it
// touches the media server, so a stream that exists in the registry always
// has a pipeline that was accepted for its device. All mutations are
// serialized by one lock; queries return copies.
package stream

import (
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/jmylchreest/camstreamd/internal/formats"
	"github.com/jmylchreest/camstreamd/internal/gst"
	"github.com/jmylchreest/camstreamd/internal/observability"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
)

// Defaults for the media server endpoint.
const (
	DefaultAddress = "0.0.0.0"
	DefaultPort    = 8554

	autoMountPrefix = "/stream"
	maxPort         = 65535
)

// MediaServer is the RTSP executor the registry drives. Calls are made while
// the registry lock is held and must not block on connected consumers.
type MediaServer interface {
	// Mount publishes pipeline at path.
	Mount(path string, pipeline gst.Pipeline) error
	// Unmount stops accepting new consumers at path. Existing consumers drain.
	Unmount(path string) error
	// Remount swaps the pipeline of the mount at oldPath in place and moves
	// it to newPath (which may equal oldPath).
	Remount(oldPath, newPath string, pipeline gst.Pipeline) error
	// Bind records the listen endpoint. It takes effect on the next Attach.
	Bind(address string, port int)
	// Attach (re)registers the server with its event source and returns the
	// port it listens on. On failure the previous listener keeps serving.
	Attach(generation uint64) (int, error)
}

// DeviceLister enumerates capture device paths.
type DeviceLister interface {
	Paths() ([]string, error)
}

// PipelineBuilder validates and composes a capture pipeline.
type PipelineBuilder interface {
	Build(device string, format v4l2.PixelFormat, width, height uint32) (gst.Pipeline, error)
}

// Observer is notified after successful registry changes. Notifications are
// delivered outside the registry lock, one at a time, in the order the
// changes were made.
type Observer interface {
	StreamAdded(d Descriptor)
	StreamUpdated(previousMountPath string, d Descriptor)
	StreamRemoved(d Descriptor)
}

// EndpointObserver is an Observer that also wants to hear when the media
// server moves to a new address or port.
type EndpointObserver interface {
	Observer
	EndpointChanged(address string, port int)
}

// Registry manages published streams and the media server endpoint.
type Registry struct {
	logger  *slog.Logger
	devices DeviceLister
	reader  v4l2.Reader
	builder PipelineBuilder
	server  MediaServer

	mu         sync.RWMutex
	streams    []*Descriptor
	nextID     uint8
	address    string
	port       int
	generation uint64
	observers  []Observer
	committed  uint64

	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	delivered  uint64
}

// NewRegistry creates a registry. The pipeline builder defaults to one backed
// by reader.
func NewRegistry(devices DeviceLister, reader v4l2.Reader, server MediaServer, logger *slog.Logger) *Registry {
	r := &Registry{
		logger:  observability.WithComponent(logger, "registry"),
		devices: devices,
		reader:  reader,
		builder: gst.NewBuilder(reader),
		server:  server,
		nextID:  1,
		address: DefaultAddress,
		port:    DefaultPort,
	}
	r.notifyCond = sync.NewCond(&r.notifyMu)
	server.Bind(r.address, r.port)
	return r
}

// WithBuilder replaces the pipeline builder.
func (r *Registry) WithBuilder(b PipelineBuilder) *Registry {
	r.builder = b
	return r
}

// WithEndpoint sets the initial media server endpoint without attaching.
func (r *Registry) WithEndpoint(address string, port int) *Registry {
	r.address = address
	r.port = port
	r.server.Bind(address, port)
	return r
}

// WithObserver registers an observer for stream changes.
func (r *Registry) WithObserver(o Observer) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
	return r
}

// Devices enumerates capture devices afresh.
func (r *Registry) Devices() ([]string, error) {
	return r.devices.Paths()
}

// Capabilities reads the capability set of device.
func (r *Registry) Capabilities(device string) (v4l2.Capabilities, error) {
	return r.reader.Capabilities(device)
}

// Formats reads the pixel formats device offers.
func (r *Registry) Formats(device string) ([]v4l2.PixelFormat, error) {
	return r.reader.Formats(device)
}

// FrameSize reads the geometry currently configured on device.
func (r *Registry) FrameSize(device string) (uint32, uint32, error) {
	return r.reader.FrameSize(device)
}

// Streams returns a snapshot of all streams in insertion order.
func (r *Registry) Streams() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, len(r.streams))
	for i, d := range r.streams {
		out[i] = d.clone()
	}
	return out
}

// MountPaths returns the mount path of every stream in insertion order.
func (r *Registry) MountPaths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.streams))
	for i, d := range r.streams {
		out[i] = d.MountPath
	}
	return out
}

// Stream returns the stream mounted at mountPath.
func (r *Registry) Stream(mountPath string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d := r.findLocked(NormalizeMountPath(mountPath)); d != nil {
		return d.clone(), true
	}
	return Descriptor{}, false
}

// StreamByID returns the stream with the given id.
func (r *Registry) StreamByID(id uint8) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.streams {
		if d.ID == id {
			return d.clone(), true
		}
	}
	return Descriptor{}, false
}

// Add validates and publishes a new stream.
func (r *Registry) Add(device string, format v4l2.PixelFormat, mountPath string, width, height uint32) (Descriptor, error) {
	mount := NormalizeMountPath(mountPath)
	if mount == "" {
		return Descriptor{}, fmt.Errorf("%w: empty", ErrInvalidMountPath)
	}

	r.mu.Lock()
	added, err := r.addLocked(device, format, mount, width, height)
	if err != nil {
		r.mu.Unlock()
		return Descriptor{}, err
	}
	seq, observers := r.commitLocked()
	r.mu.Unlock()

	r.logger.Info("stream added",
		slog.Int("id", int(added.ID)),
		slog.String("device", added.Device),
		slog.String("format", added.Format.String()),
		slog.String("mount_path", added.MountPath),
		slog.String("pipeline", added.Pipeline.String()),
	)
	r.notify(seq, observers, func(o Observer) { o.StreamAdded(added) })
	return added, nil
}

func (r *Registry) addLocked(device string, format v4l2.PixelFormat, mount string, width, height uint32) (Descriptor, error) {
	if r.findLocked(mount) != nil {
		return Descriptor{}, fmt.Errorf("%w: %s already in use", ErrInvalidMountPath, mount)
	}

	if err := r.checkDevice(device); err != nil {
		return Descriptor{}, err
	}

	pipeline, err := r.builder.Build(device, format, width, height)
	if err != nil {
		return Descriptor{}, fmt.Errorf("building pipeline for %s: %w", mount, err)
	}

	id, err := r.allocateIDLocked()
	if err != nil {
		return Descriptor{}, err
	}

	if err := r.server.Mount(mount, pipeline); err != nil {
		return Descriptor{}, fmt.Errorf("mounting %s: %w", mount, err)
	}

	d := &Descriptor{
		ID:        id,
		Device:    device,
		Name:      v4l2.NewDevice(device).Name,
		Format:    format,
		MountPath: mount,
		Width:     width,
		Height:    height,
		Pipeline:  pipeline,
	}
	r.streams = append(r.streams, d)
	r.nextID = id + 1
	// A failed attach is logged; the previous listener keeps serving.
	_ = r.attachLocked()

	return d.clone(), nil
}

func (r *Registry) checkDevice(device string) error {
	paths, err := r.devices.Paths()
	if err != nil {
		return fmt.Errorf("%w: enumerating devices: %w", ErrInvalidDevice, err)
	}
	for _, p := range paths {
		if p == device {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidDevice, device)
}

// allocateIDLocked hands out ids in increasing order, wrapping past 255 to
// the lowest id not in use.
func (r *Registry) allocateIDLocked() (uint8, error) {
	inUse := make(map[uint8]bool, len(r.streams))
	for _, d := range r.streams {
		inUse[d.ID] = true
	}

	id := r.nextID
	for range 255 {
		if id == 0 {
			id = 1
		}
		if !inUse[id] {
			return id, nil
		}
		id++
	}
	return 0, ErrTooManyStreams
}

// Remove unpublishes the stream at mountPath. Consumers already connected
// keep their media until they disconnect.
func (r *Registry) Remove(mountPath string) error {
	mount := NormalizeMountPath(mountPath)

	r.mu.Lock()
	idx := -1
	for i, d := range r.streams {
		if d.MountPath == mount {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamNotFound, mountPath)
	}

	removed := r.streams[idx].clone()
	r.streams = append(r.streams[:idx], r.streams[idx+1:]...)
	if err := r.server.Unmount(mount); err != nil {
		r.logger.Warn("media server unmount failed",
			slog.String("mount_path", mount),
			slog.String("error", err.Error()),
		)
	}
	seq, observers := r.commitLocked()
	r.mu.Unlock()

	r.logger.Info("stream removed",
		slog.Int("id", int(removed.ID)),
		slog.String("mount_path", removed.MountPath),
	)
	r.notify(seq, observers, func(o Observer) { o.StreamRemoved(removed) })
	return nil
}

// Mutate changes the format, geometry and optionally the mount path of an
// existing stream. The new pipeline is validated first and swapped into the
// existing mount; on any failure the stream is left untouched. An empty
// newMountPath keeps the current one.
func (r *Registry) Mutate(mountPath string, format v4l2.PixelFormat, newMountPath string, width, height uint32) (Descriptor, error) {
	mount := NormalizeMountPath(mountPath)
	target := mount
	if newMountPath != "" {
		target = NormalizeMountPath(newMountPath)
		if target == "" {
			return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidMountPath, newMountPath)
		}
	}

	r.mu.Lock()
	d := r.findLocked(mount)
	if d == nil {
		r.mu.Unlock()
		return Descriptor{}, fmt.Errorf("%w: %s", ErrStreamNotFound, mountPath)
	}
	if target != mount && r.findLocked(target) != nil {
		r.mu.Unlock()
		return Descriptor{}, fmt.Errorf("%w: %s already in use", ErrInvalidMountPath, target)
	}

	pipeline, err := r.builder.Build(d.Device, format, width, height)
	if err != nil {
		r.mu.Unlock()
		return Descriptor{}, fmt.Errorf("rebuilding pipeline for %s: %w", mount, err)
	}
	if err := r.server.Remount(mount, target, pipeline); err != nil {
		r.mu.Unlock()
		return Descriptor{}, fmt.Errorf("remounting %s: %w", mount, err)
	}

	d.Format = format
	d.Width = width
	d.Height = height
	d.MountPath = target
	d.Pipeline = pipeline
	updated := d.clone()
	seq, observers := r.commitLocked()
	r.mu.Unlock()

	r.logger.Info("stream updated",
		slog.Int("id", int(updated.ID)),
		slog.String("format", updated.Format.String()),
		slog.String("mount_path", updated.MountPath),
		slog.String("previous_mount_path", mount),
		slog.String("pipeline", updated.Pipeline.String()),
	)
	r.notify(seq, observers, func(o Observer) { o.StreamUpdated(mount, updated) })
	return updated, nil
}

// Address returns the media server bind address.
func (r *Registry) Address() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.address
}

// Port returns the media server bind port.
func (r *Registry) Port() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.port
}

// Generation returns the number of times the media server has been attached.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// SetAddress rebinds the media server to ip, which must be an IP literal.
func (r *Registry) SetAddress(ip string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}

	r.mu.Lock()
	if err := r.rebindLocked(ip, r.port); err != nil {
		r.mu.Unlock()
		return err
	}
	r.endpointChangedUnlock()
	return nil
}

// SetPort rebinds the media server to port. Zero lets the system choose.
func (r *Registry) SetPort(port int) error {
	if port < 0 || port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}

	r.mu.Lock()
	if err := r.rebindLocked(r.address, port); err != nil {
		r.mu.Unlock()
		return err
	}
	r.endpointChangedUnlock()
	return nil
}

// rebindLocked moves the media server to address and port. The endpoint is
// only committed once the server listens on it.
func (r *Registry) rebindLocked(address string, port int) error {
	r.server.Bind(address, port)
	if err := r.attachLocked(); err != nil {
		r.server.Bind(r.address, r.port)
		return err
	}
	r.address = address
	return nil
}

// endpointChangedUnlock releases the lock and tells endpoint observers where
// the media server now listens.
func (r *Registry) endpointChangedUnlock() {
	seq, observers := r.commitLocked()
	address, port := r.address, r.port
	r.mu.Unlock()

	r.notify(seq, observers, func(o Observer) {
		if eo, ok := o.(EndpointObserver); ok {
			eo.EndpointChanged(address, port)
		}
	})
}

// attachLocked re-attaches the media server and records the port it listens
// on. The generation only advances on success.
func (r *Registry) attachLocked() error {
	generation := r.generation + 1
	port, err := r.server.Attach(generation)
	if err != nil {
		r.logger.Warn("media server attach failed",
			slog.Uint64("generation", generation),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("attaching media server: %w", err)
	}
	r.generation = generation
	r.port = port
	return nil
}

// commitLocked reserves the next notification slot.
func (r *Registry) commitLocked() (uint64, []Observer) {
	r.committed++
	return r.committed, r.observers
}

// notify runs fn for every observer once all earlier changes have been
// delivered.
func (r *Registry) notify(seq uint64, observers []Observer, fn func(Observer)) {
	r.notifyMu.Lock()
	for r.delivered != seq-1 {
		r.notifyCond.Wait()
	}
	r.notifyMu.Unlock()

	defer func() {
		r.notifyMu.Lock()
		r.delivered = seq
		r.notifyCond.Broadcast()
		r.notifyMu.Unlock()
	}()
	for _, o := range observers {
		fn(o)
	}
}

// URI returns the RTSP URI of d. An empty host uses the bind address.
func (r *Registry) URI(d Descriptor, host string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if host == "" {
		host = r.address
	}
	return "rtsp://" + net.JoinHostPort(host, strconv.Itoa(r.port)) + d.MountPath
}

// AutoPublish adds one stream per enumerated device using the preferred
// streamable format, mounted at /stream<ordinal>. Devices that cannot stream
// are skipped. It returns the streams that were added.
func (r *Registry) AutoPublish() ([]Descriptor, error) {
	paths, err := r.devices.Paths()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}

	var added []Descriptor
	for _, path := range paths {
		available, err := r.reader.Formats(path)
		if err != nil {
			r.logger.Debug("skipping device, formats unreadable",
				slog.String("device", path),
				slog.String("error", err.Error()),
			)
			continue
		}

		format, ok := formats.Select(available)
		if !ok {
			r.logger.Debug("skipping device, no streamable format", slog.String("device", path))
			continue
		}

		d, err := r.Add(path, format, AutoMountPath(path), 0, 0)
		if err != nil {
			r.logger.Debug("skipping device",
				slog.String("device", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		added = append(added, d)
	}
	return added, nil
}

// AutoMountPath returns the mount path AutoPublish uses for device.
func AutoMountPath(device string) string {
	if ordinal := v4l2.NewDevice(device).Ordinal; ordinal >= 0 {
		return autoMountPrefix + strconv.Itoa(ordinal)
	}
	return autoMountPrefix + "-" + filepath.Base(device)
}

func (r *Registry) findLocked(mount string) *Descriptor {
	for _, d := range r.streams {
		if d.MountPath == mount {
			return d
		}
	}
	return nil
}
