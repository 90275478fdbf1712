package rtsp

import (
	"sort"
	"time"

	"github.com/jmylchreest/camstreamd/internal/gst"
)

// MediaStatus describes one running pipeline.
type MediaStatus struct {
	MountPath string            `json:"mount_path"`
	Pipeline  string            `json:"pipeline"`
	Readers   int               `json:"readers"`
	Detached  bool              `json:"detached"`
	Uptime    time.Duration     `json:"uptime"`
	Process   *gst.ProcessStats `json:"process,omitempty"`
}

// Media reports every running pipeline, including detached ones still
// serving consumers, ordered by mount path.
func (s *Server) Media() []MediaStatus {
	s.mu.Lock()
	out := make([]MediaStatus, 0, len(s.live))
	sources := make([]Source, 0, len(s.live))
	for med := range s.live {
		out = append(out, MediaStatus{
			MountPath: med.path,
			Pipeline:  med.pipeline.String(),
			Readers:   med.readers,
			Detached:  med.detached,
			Uptime:    time.Since(med.opened),
		})
		sources = append(sources, med.source)
	}
	s.mu.Unlock()

	// Sampling reads /proc, keep it outside the lock.
	for i, src := range sources {
		if stats, err := src.Stats(); err == nil {
			out[i].Process = &stats
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].MountPath < out[j].MountPath })
	return out
}

// Mounts returns the mounted paths in sorted order.
func (s *Server) Mounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.mounts))
	for path := range s.mounts {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}
