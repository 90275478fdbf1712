// Package streamtest provides a recording MediaServer and registry fixtures
// for tests in packages that depend on stream.Registry.
package streamtest

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jmylchreest/camstreamd/internal/gst"
	"github.com/jmylchreest/camstreamd/internal/stream"
	"github.com/jmylchreest/camstreamd/internal/testutil"
)

// MediaServer records every call made by a registry.
type MediaServer struct {
	mu          sync.Mutex
	mounts      map[string]gst.Pipeline
	calls       []string
	address     string
	port        int
	generations []uint64

	// Fail makes the named operation ("mount", "unmount", "remount", "attach") fail.
	Fail map[string]bool
	// AssignedPort is reported by Attach when bound to port 0.
	AssignedPort int
}

// NewMediaServer returns an empty recording server.
func NewMediaServer() *MediaServer {
	return &MediaServer{mounts: make(map[string]gst.Pipeline), Fail: make(map[string]bool)}
}

func (s *MediaServer) record(call string) error {
	s.calls = append(s.calls, call)
	op := call
	for i, c := range call {
		if c == ' ' {
			op = call[:i]
			break
		}
	}
	if s.Fail[op] {
		return fmt.Errorf("%s: %w", call, testutil.ErrInjected)
	}
	return nil
}

// Mount implements stream.MediaServer.
func (s *MediaServer) Mount(path string, p gst.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("mount " + path); err != nil {
		return err
	}
	s.mounts[path] = p
	return nil
}

// Unmount implements stream.MediaServer.
func (s *MediaServer) Unmount(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("unmount " + path); err != nil {
		return err
	}
	delete(s.mounts, path)
	return nil
}

// Remount implements stream.MediaServer.
func (s *MediaServer) Remount(oldPath, newPath string, p gst.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("remount " + oldPath + " " + newPath); err != nil {
		return err
	}
	delete(s.mounts, oldPath)
	s.mounts[newPath] = p
	return nil
}

// Bind implements stream.MediaServer.
func (s *MediaServer) Bind(address string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address, s.port = address, port
}

// Attach implements stream.MediaServer.
func (s *MediaServer) Attach(generation uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations = append(s.generations, generation)
	if err := s.record(fmt.Sprintf("attach %d", generation)); err != nil {
		return 0, err
	}
	if s.port == 0 {
		return s.AssignedPort, nil
	}
	return s.port, nil
}

// Mounts returns a copy of the current mount table.
func (s *MediaServer) Mounts() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.mounts))
	for k, v := range s.mounts {
		out[k] = v.String()
	}
	return out
}

// Calls returns the recorded calls in order.
func (s *MediaServer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Endpoint returns the last bound address and port.
func (s *MediaServer) Endpoint() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address, s.port
}

// Generations returns the generation passed to each Attach.
func (s *MediaServer) Generations() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.generations...)
}

// StaticDevices is a fixed device list.
type StaticDevices []string

// Paths implements stream.DeviceLister.
func (d StaticDevices) Paths() ([]string, error) {
	return append([]string(nil), d...), nil
}

// Fixture bundles a registry with its fakes.
type Fixture struct {
	Registry *stream.Registry
	Reader   *testutil.FakeReader
	Server   *MediaServer
}

// NewFixture returns a registry over the given fake devices, keyed by path.
func NewFixture(devices map[string]testutil.FakeDevice) *Fixture {
	reader := testutil.NewFakeReader()
	for path, d := range devices {
		reader.Set(path, d)
	}
	server := NewMediaServer()
	registry := stream.NewRegistry(readerDevices{reader}, reader, server, DiscardLogger())
	return &Fixture{Registry: registry, Reader: reader, Server: server}
}

// readerDevices lists whatever devices the fake reader currently knows, in
// the order an Enumerator would produce.
type readerDevices struct{ r *testutil.FakeReader }

func (d readerDevices) Paths() ([]string, error) {
	paths := d.r.Paths()
	sortByOrdinal(paths)
	return paths, nil
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
