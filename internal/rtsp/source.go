package rtsp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/camstreamd/internal/gst"
	"github.com/jmylchreest/camstreamd/internal/observability"
	"github.com/pion/rtp"
)

const (
	maxPacketSize    = 1500
	packetBufferSize = 256
)

// Source is a running capture pipeline producing RTP packets.
type Source interface {
	// Packets yields payloaded packets. It is closed when the source ends.
	Packets() <-chan *rtp.Packet
	// Close stops the pipeline.
	Close() error
	// Stats samples the resource usage of the pipeline process.
	Stats() (gst.ProcessStats, error)
}

// Launcher starts capture pipelines.
type Launcher interface {
	Launch(ctx context.Context, pipeline gst.Pipeline) (Source, error)
}

// GstLauncher runs pipelines with gst-launch-1.0 and receives their RTP
// output on a loopback UDP socket.
type GstLauncher struct {
	binary string
	logger *slog.Logger
}

// NewGstLauncher creates a launcher using the gst-launch binary at path.
func NewGstLauncher(binary string, logger *slog.Logger) *GstLauncher {
	return &GstLauncher{binary: binary, logger: logger}
}

// Launch starts pipeline with a udpsink pointed at a fresh loopback port.
func (l *GstLauncher) Launch(ctx context.Context, pipeline gst.Pipeline) (Source, error) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("opening RTP socket: %w", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port

	cmd := gst.NewCommand(l.binary, forLaunch(pipeline), "udpsink host=127.0.0.1 port="+strconv.Itoa(port)+" sync=false")
	if err := cmd.Start(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	src := &udpSource{
		conn:    conn,
		cmd:     cmd,
		packets: make(chan *rtp.Packet, packetBufferSize),
		logger:  l.logger.With(slog.Int("pid", cmd.PID())),
	}
	go src.read()
	go src.watch()

	src.logger.Debug("pipeline launched", slog.String("command", cmd.String()))
	return src, nil
}

type udpSource struct {
	conn    net.PacketConn
	cmd     *gst.Command
	packets chan *rtp.Packet
	logger  *slog.Logger

	closeOnce sync.Once
	dropped   atomic.Uint64
}

func (s *udpSource) Packets() <-chan *rtp.Packet {
	return s.packets
}

func (s *udpSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.cmd.Kill()
		s.conn.Close()
	})
	return err
}

func (s *udpSource) Stats() (gst.ProcessStats, error) {
	return s.cmd.Stats()
}

func (s *udpSource) read() {
	defer close(s.packets)

	buf := make([]byte, maxPacketSize)
	for {
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			return
		}

		// Unmarshal aliases its input.
		data := make([]byte, n)
		copy(data, buf[:n])

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(data); err != nil {
			s.logger.Log(context.Background(), observability.LevelTrace, "discarding malformed RTP packet",
				slog.String("error", err.Error()))
			continue
		}

		select {
		case s.packets <- pkt:
		default:
			if s.dropped.Add(1)%packetBufferSize == 1 {
				s.logger.Warn("RTP consumer falling behind, dropping packets",
					slog.Uint64("dropped", s.dropped.Load()))
			}
		}
	}
}

// watch unblocks the reader once the pipeline process exits.
func (s *udpSource) watch() {
	<-s.cmd.Done()

	if err := s.cmd.Err(); err != nil {
		s.logger.Warn("pipeline exited",
			slog.String("error", err.Error()),
			slog.Any("stderr", s.cmd.StderrLines()),
		)
	} else {
		s.logger.Debug("pipeline exited")
	}
	s.conn.Close()
}
