// Package rtsp serves capture pipelines to RTSP consumers.
//
// A mount maps a path to a pipeline description. The pipeline is launched
// lazily when the first consumer describes the mount and is shared by every
// consumer of that mount. Unmounting or remounting detaches the running
// media: consumers already playing keep it until they disconnect, new
// consumers get the new pipeline.
package rtsp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/jmylchreest/camstreamd/internal/gst"
	"github.com/jmylchreest/camstreamd/internal/observability"
	"github.com/pion/rtp"
)

// Errors returned by mount table operations.
var (
	ErrMountExists   = errors.New("mount already exists")
	ErrMountNotFound = errors.New("mount not found")
	ErrNotListening  = errors.New("server not listening")
)

const defaultIdleTimeout = 10 * time.Second

// Config holds media server settings that are fixed for the process lifetime.
type Config struct {
	// UDPRTPPort and UDPRTCPPort enable the UDP transport when both are set.
	UDPRTPPort  int
	UDPRTCPPort int
	// IdleTimeout closes media that was described but never set up.
	IdleTimeout time.Duration
}

// outlet is where a media writes packets. It is a *gortsplib.ServerStream
// outside of tests.
type outlet interface {
	WritePacketRTP(medi *description.Media, pkt *rtp.Packet) error
	Close()
}

type mount struct {
	path     string
	pipeline gst.Pipeline
	current  *media
}

// media is one running pipeline and the consumers reading it.
type media struct {
	path     string
	pipeline gst.Pipeline
	desc     *description.Media
	stream   outlet
	source   Source
	owner    *mount
	readers  int
	detached bool
	closed   bool
	opened   time.Time
	idle     *time.Timer
}

func (m *media) serverStream() *gortsplib.ServerStream {
	st, _ := m.stream.(*gortsplib.ServerStream)
	return st
}

// release stops the pipeline and disconnects remaining consumers. It must be
// called without the server lock held.
func (m *media) release() {
	if m == nil {
		return
	}
	if m.source != nil {
		m.source.Close()
	}
	if m.stream != nil {
		m.stream.Close()
	}
}

// Server is an RTSP server with a mutable mount table.
type Server struct {
	cfg      Config
	launcher Launcher
	logger   *slog.Logger

	// openOutlet creates the packet sink for a new media.
	openOutlet func(srv *gortsplib.Server, desc *description.Session) (outlet, error)

	// attachMu serializes listener changes.
	attachMu sync.Mutex

	mu        sync.Mutex
	ctx       context.Context
	address   string
	port      int
	requested string
	bound     string
	srv       *gortsplib.Server
	mounts   map[string]*mount
	sessions map[any]*media
	live     map[*media]struct{}
}

// NewServer creates a server that launches pipelines with launcher.
func NewServer(cfg Config, launcher Launcher, logger *slog.Logger) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Server{
		cfg:        cfg,
		launcher:   launcher,
		logger:     observability.WithComponent(logger, "rtsp"),
		openOutlet: openServerStream,
		ctx:        context.Background(),
		mounts:     make(map[string]*mount),
		sessions:   make(map[any]*media),
		live:       make(map[*media]struct{}),
	}
}

func openServerStream(srv *gortsplib.Server, desc *description.Session) (outlet, error) {
	if srv == nil {
		return nil, ErrNotListening
	}
	st := &gortsplib.ServerStream{
		Server: srv,
		Desc:   desc,
	}
	if err := st.Initialize(); err != nil {
		return nil, err
	}
	return st, nil
}

// Start binds the listener and ties pipeline processes to ctx. The server is
// closed when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if _, err := s.Attach(0); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

// Mount publishes pipeline at path.
func (s *Server) Mount(path string, pipeline gst.Pipeline) error {
	path = normalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mounts[path]; ok {
		return fmt.Errorf("%w: %s", ErrMountExists, path)
	}
	s.mounts[path] = &mount{path: path, pipeline: pipeline}

	s.logger.Debug("mounted", slog.String("path", path), slog.String("pipeline", pipeline.String()))
	return nil
}

// Unmount removes path from the mount table. Playing consumers keep their
// media until they disconnect.
func (s *Server) Unmount(path string) error {
	path = normalizePath(path)

	s.mu.Lock()
	m, ok := s.mounts[path]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMountNotFound, path)
	}
	delete(s.mounts, path)
	dead := s.detachLocked(m)
	s.mu.Unlock()

	dead.release()
	s.logger.Debug("unmounted", slog.String("path", path))
	return nil
}

// Remount replaces the pipeline of the mount at oldPath and moves it to
// newPath. Consumers of the old pipeline drain.
func (s *Server) Remount(oldPath, newPath string, pipeline gst.Pipeline) error {
	oldPath = normalizePath(oldPath)
	newPath = normalizePath(newPath)

	s.mu.Lock()
	m, ok := s.mounts[oldPath]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMountNotFound, oldPath)
	}
	if newPath != oldPath {
		if _, taken := s.mounts[newPath]; taken {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrMountExists, newPath)
		}
		delete(s.mounts, oldPath)
		s.mounts[newPath] = m
		m.path = newPath
	}
	m.pipeline = pipeline
	dead := s.detachLocked(m)
	s.mu.Unlock()

	dead.release()
	s.logger.Debug("remounted",
		slog.String("path", newPath),
		slog.String("previous_path", oldPath),
		slog.String("pipeline", pipeline.String()),
	)
	return nil
}

// Bind records the listen endpoint used by the next Attach.
func (s *Server) Bind(address string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = address
	s.port = port
}

// Attach starts the listener on the bound endpoint, restarting it if the
// endpoint changed since the last Attach, and returns the port it listens
// on. A restart disconnects every consumer. If the new endpoint cannot be
// bound the previous listener keeps serving.
func (s *Server) Attach(generation uint64) (int, error) {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	s.mu.Lock()
	address, port := s.address, s.port
	requested := net.JoinHostPort(address, strconv.Itoa(port))
	running, prevRequested, prevBound := s.srv != nil, s.requested, s.bound
	s.mu.Unlock()

	if running && prevRequested == requested {
		s.logger.Debug("listener unchanged", slog.Uint64("generation", generation), slog.String("endpoint", prevBound))
		return portOf(prevBound), nil
	}

	srv, bound, err := s.listen(address, port)
	if err != nil && running {
		// The new endpoint may overlap the running listener, e.g. a wildcard
		// address on the same port or the fixed UDP ports. Retry with it
		// stopped and fall back to it if that fails too.
		s.stopListener()
		srv, bound, err = s.listen(address, port)
		if err != nil {
			s.restoreListener(prevRequested, prevBound)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("listening on %s: %w", requested, err)
	}

	s.install(srv, requested, bound)
	s.logger.Info("rtsp listener started", slog.Uint64("generation", generation), slog.String("endpoint", bound))
	return portOf(bound), nil
}

// listen starts a gortsplib server on address and port and returns the
// endpoint it actually bound.
func (s *Server) listen(address string, port int) (*gortsplib.Server, string, error) {
	var bound string
	srv := &gortsplib.Server{
		Handler:     &handler{s: s},
		RTSPAddress: net.JoinHostPort(address, strconv.Itoa(port)),
		Listen: func(network, addr string) (net.Listener, error) {
			ln, err := net.Listen(network, addr)
			if err == nil {
				bound = ln.Addr().String()
			}
			return ln, err
		},
	}
	if s.cfg.UDPRTPPort > 0 && s.cfg.UDPRTCPPort > 0 {
		srv.UDPRTPAddress = net.JoinHostPort(address, strconv.Itoa(s.cfg.UDPRTPPort))
		srv.UDPRTCPAddress = net.JoinHostPort(address, strconv.Itoa(s.cfg.UDPRTCPPort))
	}
	if err := srv.Start(); err != nil {
		return nil, "", err
	}
	return srv, bound, nil
}

// install makes srv the active listener, dropping media of the previous one.
func (s *Server) install(srv *gortsplib.Server, requested, bound string) {
	s.mu.Lock()
	old := s.srv
	dead := s.dropAllLocked()
	s.srv = srv
	s.requested = requested
	s.bound = bound
	s.mu.Unlock()

	for _, m := range dead {
		m.release()
	}
	if old != nil {
		old.Close()
	}
}

// stopListener closes the active listener and every pipeline.
func (s *Server) stopListener() {
	s.install(nil, "", "")
}

// restoreListener brings the previous listener back on the port it had.
func (s *Server) restoreListener(requested, bound string) {
	host, port, err := net.SplitHostPort(bound)
	if err == nil {
		var srv *gortsplib.Server
		if srv, bound, err = s.listen(host, portOf(bound)); err == nil {
			s.install(srv, requested, bound)
			s.logger.Warn("rtsp listener restored", slog.String("endpoint", bound))
			return
		}
	}
	s.logger.Error("rtsp listener lost",
		slog.String("endpoint", net.JoinHostPort(host, port)),
		slog.String("error", err.Error()),
	)
}

// Endpoint returns the host:port the listener is bound to, or "" when not
// listening.
func (s *Server) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Close stops the listener and every pipeline.
func (s *Server) Close() {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	s.stopListener()
}

func portOf(endpoint string) int {
	_, p, err := net.SplitHostPort(endpoint)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(p)
	return port
}

// acquire returns the media of the mount at path, launching it if needed.
func (s *Server) acquire(path string) (*media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mounts[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMountNotFound, path)
	}
	if m.current != nil {
		return m.current, nil
	}

	desc, err := mediaFor(m.pipeline.Payloader)
	if err != nil {
		return nil, err
	}
	out, err := s.openOutlet(s.srv, &description.Session{Medias: []*description.Media{desc}})
	if err != nil {
		return nil, fmt.Errorf("creating stream for %s: %w", path, err)
	}
	src, err := s.launcher.Launch(s.ctx, m.pipeline)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("launching pipeline for %s: %w", path, err)
	}

	med := &media{
		path:     path,
		pipeline: m.pipeline,
		desc:     desc,
		stream:   out,
		source:   src,
		owner:    m,
		opened:   time.Now(),
	}
	m.current = med
	s.live[med] = struct{}{}
	med.idle = time.AfterFunc(s.cfg.IdleTimeout, func() { s.reapIdle(med) })

	go s.forward(med)

	s.logger.Info("pipeline started", slog.String("path", path), slog.String("pipeline", m.pipeline.String()))
	return med, nil
}

// forward copies packets from the source to the consumers until the source
// ends.
func (s *Server) forward(med *media) {
	for pkt := range med.source.Packets() {
		if err := med.stream.WritePacketRTP(med.desc, pkt); err != nil {
			s.logger.Log(context.Background(), observability.LevelTrace, "write failed",
				slog.String("path", med.path),
				slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	unexpected := !med.closed
	dead := s.closeLocked(med)
	s.mu.Unlock()
	dead.release()

	if unexpected {
		s.logger.Warn("pipeline ended", slog.String("path", med.path))
	}
}

// addReader registers session as a consumer of the media at path.
func (s *Server) addReader(session any, path string) (*media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if med, ok := s.sessions[session]; ok {
		return med, nil
	}
	m, ok := s.mounts[path]
	if !ok || m.current == nil {
		return nil, fmt.Errorf("%w: %s", ErrMountNotFound, path)
	}

	med := m.current
	med.readers++
	s.sessions[session] = med
	if med.idle != nil {
		med.idle.Stop()
		med.idle = nil
	}
	return med, nil
}

// dropReader unregisters session. The media is closed when its last reader
// leaves.
func (s *Server) dropReader(session any) {
	s.mu.Lock()
	med, ok := s.sessions[session]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, session)
	med.readers--

	var dead *media
	if med.readers <= 0 {
		dead = s.closeLocked(med)
	}
	s.mu.Unlock()

	if dead != nil {
		dead.release()
		s.logger.Info("pipeline stopped, no readers", slog.String("path", dead.path), slog.Bool("detached", dead.detached))
	}
}

func (s *Server) reapIdle(med *media) {
	s.mu.Lock()
	var dead *media
	if med.readers == 0 {
		dead = s.closeLocked(med)
	}
	s.mu.Unlock()

	if dead != nil {
		dead.release()
		s.logger.Debug("pipeline reaped, never played", slog.String("path", dead.path))
	}
}

// detachLocked takes the current media away from m. It returns the media if
// it has no readers and should be released.
func (s *Server) detachLocked(m *mount) *media {
	med := m.current
	if med == nil {
		return nil
	}
	m.current = nil
	med.owner = nil
	med.detached = true
	if med.readers > 0 {
		return nil
	}
	return s.closeLocked(med)
}

// closeLocked marks med closed and returns it for release, or nil if it was
// already closed.
func (s *Server) closeLocked(med *media) *media {
	if med.closed {
		return nil
	}
	med.closed = true
	if med.idle != nil {
		med.idle.Stop()
		med.idle = nil
	}
	if med.owner != nil && med.owner.current == med {
		med.owner.current = nil
	}
	delete(s.live, med)
	for session, sm := range s.sessions {
		if sm == med {
			delete(s.sessions, session)
		}
	}
	return med
}

func (s *Server) dropAllLocked() []*media {
	var dead []*media
	for med := range s.live {
		if d := s.closeLocked(med); d != nil {
			dead = append(dead, d)
		}
	}
	return dead
}

func normalizePath(path string) string {
	return "/" + strings.Trim(path, "/")
}

// handler adapts Server to the gortsplib handler interfaces.
type handler struct {
	s *Server
}

func (h *handler) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	med, err := h.s.acquire(normalizePath(ctx.Path))
	if err != nil {
		return notFoundOr(err), nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, med.serverStream(), nil
}

func (h *handler) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	path := normalizePath(ctx.Path)
	if _, err := h.s.acquire(path); err != nil {
		return notFoundOr(err), nil, nil
	}
	med, err := h.s.addReader(ctx.Session, path)
	if err != nil {
		return notFoundOr(err), nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, med.serverStream(), nil
}

func (h *handler) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	h.s.logger.Debug("consumer playing", slog.String("path", normalizePath(ctx.Path)))
	return &base.Response{StatusCode: base.StatusOK}, nil
}

func (h *handler) OnSessionClose(ctx *gortsplib.ServerHandlerOnSessionCloseCtx) {
	h.s.dropReader(ctx.Session)
}

func notFoundOr(err error) *base.Response {
	if errors.Is(err, ErrMountNotFound) {
		return &base.Response{StatusCode: base.StatusNotFound}
	}
	return &base.Response{StatusCode: base.StatusInternalServerError}
}
