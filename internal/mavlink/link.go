package mavlink

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/jmylchreest/camstreamd/internal/config"
)

// ErrTransportConnectFailed is returned when the telemetry link cannot be
// opened.
var ErrTransportConnectFailed = errors.New("mavlink transport connect failed")

const inboundBufferSize = 64

// Inbound is a decoded message and its sender.
type Inbound struct {
	Message     message.Message
	SystemID    uint8
	ComponentID uint8
}

// Link is a bidirectional MAVLink connection.
type Link interface {
	// Messages yields inbound messages. It is closed when the link closes.
	Messages() <-chan Inbound
	// Send writes msg to every connected peer.
	Send(msg message.Message) error
	// LocalIP is the address peers reach us on, or nil when unknown.
	LocalIP() net.IP
	Close() error
}

// NodeLink is a Link over a gomavlib node.
type NodeLink struct {
	node    *gomavlib.Node
	inbound chan Inbound
	localIP net.IP
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens the transport described by cfg.
func Dial(cfg config.MAVLinkConfig, logger *slog.Logger) (*NodeLink, error) {
	endpoint, err := endpointFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportConnectFailed, err)
	}
	return openLink(endpoint, cfg, logger)
}

// openLink starts a node on endpoint.
func openLink(endpoint gomavlib.EndpointConf, cfg config.MAVLinkConfig, logger *slog.Logger) (*NodeLink, error) {
	conf := gomavlib.NodeConf{
		Endpoints:        []gomavlib.EndpointConf{endpoint},
		Dialect:          Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      byte(cfg.SystemID),
		OutComponentID:   cameraComponent,
		HeartbeatDisable: true,
	}
	if cfg.SigningKey != "" {
		key := frame.NewV2Key([]byte(cfg.SigningKey))
		conf.InKey = key
		conf.OutKey = key
	}

	node, err := gomavlib.NewNode(conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransportConnectFailed, cfg.Transport, cfg.Address, err)
	}

	l := &NodeLink{
		node:    node,
		inbound: make(chan Inbound, inboundBufferSize),
		localIP: localIPFor(cfg),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go l.pump()

	logger.Info("telemetry link open",
		slog.String("transport", cfg.Transport),
		slog.String("address", cfg.Address),
		slog.Int("system_id", cfg.SystemID),
		slog.Bool("signed", cfg.SigningKey != ""),
	)
	return l, nil
}

func (l *NodeLink) pump() {
	defer close(l.inbound)

	for evt := range l.node.Events() {
		switch e := evt.(type) {
		case *gomavlib.EventFrame:
			in := Inbound{
				Message:     e.Message(),
				SystemID:    e.SystemID(),
				ComponentID: e.ComponentID(),
			}
			select {
			case l.inbound <- in:
			case <-l.done:
				return
			}
		case *gomavlib.EventChannelOpen:
			l.logger.Debug("telemetry channel open", slog.String("channel", fmt.Sprint(e.Channel)))
		case *gomavlib.EventChannelClose:
			l.logger.Debug("telemetry channel closed", slog.String("channel", fmt.Sprint(e.Channel)))
		case *gomavlib.EventParseError:
			l.logger.Debug("discarding unparsable frame", slog.String("error", e.Error.Error()))
		}
	}
}

// Messages implements Link.
func (l *NodeLink) Messages() <-chan Inbound {
	return l.inbound
}

// Send implements Link.
func (l *NodeLink) Send(msg message.Message) error {
	return l.node.WriteMessageAll(msg)
}

// LocalIP implements Link.
func (l *NodeLink) LocalIP() net.IP {
	return l.localIP
}

// Close implements Link.
func (l *NodeLink) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.node.Close()
	})
	return nil
}

// endpointFor maps the configured transport onto a gomavlib endpoint.
func endpointFor(cfg config.MAVLinkConfig) (gomavlib.EndpointConf, error) {
	switch cfg.Transport {
	case config.TransportSerial:
		return gomavlib.EndpointSerial{Device: cfg.Address, Baud: cfg.Baud}, nil
	case config.TransportUDPServer:
		return gomavlib.EndpointUDPServer{Address: cfg.Address}, nil
	case config.TransportUDPClient:
		return gomavlib.EndpointUDPClient{Address: cfg.Address}, nil
	case config.TransportTCPServer:
		return gomavlib.EndpointTCPServer{Address: cfg.Address}, nil
	case config.TransportTCPClient:
		return gomavlib.EndpointTCPClient{Address: cfg.Address}, nil
	case config.TransportUDPBroadcast:
		host, port, err := net.SplitHostPort(cfg.Address)
		if err != nil {
			return nil, err
		}
		if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
			host = "255.255.255.255"
		}
		return gomavlib.EndpointUDPBroadcast{
			BroadcastAddress: net.JoinHostPort(host, port),
			LocalAddress:     ":" + port,
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// localIPFor picks the local address peers see. Client transports use the
// route towards the peer; everything else the first non-loopback IPv4
// interface address.
func localIPFor(cfg config.MAVLinkConfig) net.IP {
	switch cfg.Transport {
	case config.TransportUDPClient, config.TransportTCPClient:
		if conn, err := net.Dial("udp", cfg.Address); err == nil {
			defer conn.Close()
			if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
				return addr.IP
			}
		}
	case config.TransportUDPServer, config.TransportTCPServer:
		if host, _, err := net.SplitHostPort(cfg.Address); err == nil {
			if ip := net.ParseIP(host); ip != nil && !ip.IsUnspecified() {
				return ip
			}
		}
	}
	return firstInterfaceIP()
}

func firstInterfaceIP() net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4
		}
	}
	return nil
}
