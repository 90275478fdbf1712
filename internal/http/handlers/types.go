package handlers

import (
	"time"

	"github.com/jmylchreest/camstreamd/internal/formats"
	"github.com/jmylchreest/camstreamd/internal/rtsp"
	"github.com/jmylchreest/camstreamd/internal/stream"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
)

// DeviceResponse is an enumerated capture device.
type DeviceResponse struct {
	Path    string `json:"path" doc:"Device node path"`
	Name    string `json:"name" doc:"Path relative to /dev"`
	Ordinal int    `json:"ordinal" doc:"Trailing number of the node, -1 if none"`
}

// CapabilitiesResponse is the result of VIDIOC_QUERYCAP.
type CapabilitiesResponse struct {
	Driver       string   `json:"driver"`
	Card         string   `json:"card"`
	BusInfo      string   `json:"bus_info"`
	Version      string   `json:"version" doc:"Driver version as major.minor.patch"`
	Capabilities uint32   `json:"capabilities" doc:"Raw capability bit mask"`
	Flags        []string `json:"flags" doc:"Names of the set capability bits"`
}

// CapabilitiesFromV4L2 converts device capabilities.
func CapabilitiesFromV4L2(c v4l2.Capabilities) CapabilitiesResponse {
	return CapabilitiesResponse{
		Driver:       c.Driver,
		Card:         c.Card,
		BusInfo:      c.BusInfo,
		Version:      c.VersionString(),
		Capabilities: uint32(c.Flags),
		Flags:        c.Flags.Names(),
	}
}

// FormatResponse is one pixel format a device offers.
type FormatResponse struct {
	FourCC     string `json:"fourcc"`
	Code       uint32 `json:"code" doc:"FourCC packed little-endian"`
	Streamable bool   `json:"streamable"`
}

// FormatsFromV4L2 converts a device's format list, flagging the ones that
// can be published.
func FormatsFromV4L2(fs []v4l2.PixelFormat) []FormatResponse {
	out := make([]FormatResponse, 0, len(fs))
	for _, f := range fs {
		p, ok := formats.Lookup(f)
		out = append(out, FormatResponse{
			FourCC:     f.String(),
			Code:       uint32(f),
			Streamable: ok && p.Streamable(),
		})
	}
	return out
}

// StreamResponse is a published stream.
type StreamResponse struct {
	ID        uint8  `json:"id" doc:"Camera id used on the telemetry link"`
	Device    string `json:"device"`
	Name      string `json:"name"`
	Format    string `json:"format"`
	MountPath string `json:"mount_path"`
	Width     uint32 `json:"width" doc:"Requested width, 0 for device default"`
	Height    uint32 `json:"height" doc:"Requested height, 0 for device default"`
	Pipeline  string `json:"pipeline" doc:"GStreamer launch description"`
	URI       string `json:"uri"`
}

// StreamFromDescriptor converts a registry descriptor.
func StreamFromDescriptor(d stream.Descriptor, uri string) StreamResponse {
	return StreamResponse{
		ID:        d.ID,
		Device:    d.Device,
		Name:      d.Name,
		Format:    d.Format.String(),
		MountPath: d.MountPath,
		Width:     d.Width,
		Height:    d.Height,
		Pipeline:  d.Pipeline.String(),
		URI:       uri,
	}
}

// ServerResponse describes the media server endpoint.
type ServerResponse struct {
	Address    string   `json:"address"`
	Port       int      `json:"port"`
	Generation uint64   `json:"generation" doc:"Number of times the listener has been attached"`
	Listening  string   `json:"listening,omitempty" doc:"Address the listener is actually bound to"`
	Mounts     []string `json:"mounts"`
}

// MediaResponse describes a running capture pipeline.
type MediaResponse struct {
	MountPath     string         `json:"mount_path"`
	Pipeline      string         `json:"pipeline"`
	Readers       int            `json:"readers"`
	Detached      bool           `json:"detached" doc:"Unmounted but still serving existing readers"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Process       *ProcessStatus `json:"process,omitempty"`
}

// ProcessStatus is resource usage of a pipeline process.
type ProcessStatus struct {
	PID           int     `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryRSSMB   float64 `json:"memory_rss_mb"`
	MemoryPercent float32 `json:"memory_percent"`
}

// MediaFromStatus converts the media server's status report.
func MediaFromStatus(s rtsp.MediaStatus) MediaResponse {
	m := MediaResponse{
		MountPath:     s.MountPath,
		Pipeline:      s.Pipeline,
		Readers:       s.Readers,
		Detached:      s.Detached,
		UptimeSeconds: s.Uptime.Round(time.Millisecond).Seconds(),
	}
	if s.Process != nil {
		m.Process = &ProcessStatus{
			PID:           s.Process.PID,
			CPUPercent:    s.Process.CPUPercent,
			MemoryRSSMB:   float64(s.Process.MemoryRSSBytes) / 1024 / 1024,
			MemoryPercent: s.Process.MemoryPercent,
		}
	}
	return m
}
