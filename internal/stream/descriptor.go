package stream

import (
	"slices"
	"strings"

	"github.com/jmylchreest/camstreamd/internal/gst"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
)

// Descriptor is a published stream. Values handed out by the Registry are
// copies; mutating them has no effect on the registry.
type Descriptor struct {
	// ID identifies the stream on the telemetry link. It is assigned on add
	// and survives in-place mutation.
	ID        uint8
	Device    string
	Name      string
	Format    v4l2.PixelFormat
	MountPath string
	// Width and Height are the requested geometry; zero means device default.
	Width    uint32
	Height   uint32
	Pipeline gst.Pipeline
}

func (d *Descriptor) clone() Descriptor {
	c := *d
	c.Pipeline.Stages = slices.Clone(d.Pipeline.Stages)
	return c
}

// NormalizeMountPath prefixes a missing leading slash. It returns "" for
// paths that are empty or consist only of slashes.
func NormalizeMountPath(p string) string {
	p = strings.TrimSpace(p)
	if strings.Trim(p, "/") == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
