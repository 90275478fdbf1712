// Package discovery advertises published streams over mDNS/DNS-SD so
// ground stations on the local network can find them without configuration.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/jmylchreest/camstreamd/internal/config"
	"github.com/jmylchreest/camstreamd/internal/observability"
	"github.com/jmylchreest/camstreamd/internal/stream"
)

// Announcement is a live service registration.
type Announcement interface {
	Shutdown()
}

// Announcer registers one service instance.
type Announcer interface {
	Announce(instance string, port int, text []string) (Announcement, error)
}

// ZeroconfAnnouncer registers services with the multicast DNS responder.
type ZeroconfAnnouncer struct {
	service string
	domain  string
	ifaces  []net.Interface
}

// NewZeroconfAnnouncer resolves the configured interfaces. No interfaces
// means every multicast-capable interface.
func NewZeroconfAnnouncer(cfg config.DiscoveryConfig) (*ZeroconfAnnouncer, error) {
	a := &ZeroconfAnnouncer{service: cfg.ServiceType, domain: cfg.Domain}
	for _, name := range cfg.Interfaces {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("discovery interface %q: %w", name, err)
		}
		a.ifaces = append(a.ifaces, *iface)
	}
	return a, nil
}

// Announce implements Announcer.
func (a *ZeroconfAnnouncer) Announce(instance string, port int, text []string) (Announcement, error) {
	srv, err := zeroconf.Register(instance, a.service, a.domain, port, text, a.ifaces)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// Publisher keeps one announcement per mounted stream. It is a registry
// observer; every change re-registers the affected instance.
type Publisher struct {
	announcer Announcer
	logger    *slog.Logger

	mu      sync.Mutex
	port    func() int
	streams map[string]stream.Descriptor
	live    map[string]Announcement
	closed  bool
}

// NewPublisher creates a publisher. port reports the port the media server
// listens on when a stream is announced.
func NewPublisher(announcer Announcer, port func() int, logger *slog.Logger) *Publisher {
	return &Publisher{
		announcer: announcer,
		logger:    observability.WithComponent(logger, "discovery"),
		port:      port,
		streams:   make(map[string]stream.Descriptor),
		live:      make(map[string]Announcement),
	}
}

// StreamAdded implements stream.Observer.
func (p *Publisher) StreamAdded(d stream.Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.streams[d.MountPath] = d
	p.announceLocked(d, p.port())
}

// StreamUpdated implements stream.Observer.
func (p *Publisher) StreamUpdated(previousMountPath string, d stream.Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.withdrawLocked(previousMountPath)
	delete(p.streams, previousMountPath)
	p.streams[d.MountPath] = d
	p.announceLocked(d, p.port())
}

// StreamRemoved implements stream.Observer.
func (p *Publisher) StreamRemoved(d stream.Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withdrawLocked(d.MountPath)
	delete(p.streams, d.MountPath)
}

// EndpointChanged implements stream.EndpointObserver. Every stream is
// re-announced on the new port.
func (p *Publisher) EndpointChanged(_ string, port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for mount, d := range p.streams {
		p.withdrawLocked(mount)
		p.announceLocked(d, port)
	}
}

// Announced returns the mount paths currently advertised.
func (p *Publisher) Announced() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.live))
	for mount := range p.live {
		out = append(out, mount)
	}
	return out
}

// Close withdraws every announcement. Later changes are ignored.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for mount := range p.live {
		p.withdrawLocked(mount)
	}
	p.closed = true
}

func (p *Publisher) announceLocked(d stream.Descriptor, port int) {
	instance := InstanceName(d.MountPath)
	a, err := p.announcer.Announce(instance, port, TXTRecords(d))
	if err != nil {
		p.logger.Warn("announcing stream failed",
			slog.String("instance", instance),
			slog.String("mount_path", d.MountPath),
			slog.String("error", err.Error()),
		)
		return
	}
	p.live[d.MountPath] = a
	p.logger.Debug("announced stream",
		slog.String("instance", instance),
		slog.Int("port", port),
	)
}

func (p *Publisher) withdrawLocked(mount string) {
	if a, ok := p.live[mount]; ok {
		a.Shutdown()
		delete(p.live, mount)
	}
}

// InstanceName is the DNS-SD instance name for a mount path: "/cams/front"
// becomes "cams-front".
func InstanceName(mountPath string) string {
	return strings.ReplaceAll(strings.TrimPrefix(mountPath, "/"), "/", "-")
}

// TXTRecords describes d to browsing clients.
func TXTRecords(d stream.Descriptor) []string {
	return []string{
		"path=" + d.MountPath,
		"id=" + strconv.Itoa(int(d.ID)),
		"device=" + d.Device,
		"format=" + d.Format.String(),
	}
}
