// Package gst composes GStreamer launch descriptions for V4L2 capture devices.
//
// A Builder validates that a device can stream a given pixel format and, if
// so, emits the textual pipeline an RTSP media factory launches. It never runs
// GStreamer itself.
package gst

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jmylchreest/camstreamd/internal/formats"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
)

// Build rejections, in the order they are checked.
var (
	ErrStreamingUnsupported = errors.New("device does not support streaming")
	ErrFormatUnavailable    = errors.New("format not offered by device")
	ErrFormatUnsupported    = errors.New("format cannot be streamed")
)

// PayloaderName is the element name an RTSP media factory looks for.
const PayloaderName = "pay0"

const stageSeparator = " ! "

// Pipeline is an ordered list of launch stages.
type Pipeline struct {
	Stages []string
	// Payloader is the bare RTP payloader element, e.g. "rtpjpegpay".
	Payloader string
}

// String joins the stages into a gst-launch description.
func (p Pipeline) String() string {
	return strings.Join(p.Stages, stageSeparator)
}

// Builder validates and composes capture pipelines.
type Builder struct {
	reader v4l2.Reader
}

// NewBuilder creates a Builder that queries devices through reader.
func NewBuilder(reader v4l2.Reader) *Builder {
	return &Builder{reader: reader}
}

// Build returns the pipeline that streams device in format. Width and height
// are applied to the caps only when both are non-zero; otherwise the device's
// current geometry is used.
func (b *Builder) Build(device string, format v4l2.PixelFormat, width, height uint32) (Pipeline, error) {
	caps, err := b.reader.Capabilities(device)
	if err != nil {
		return Pipeline{}, fmt.Errorf("%w: %s: %w", ErrStreamingUnsupported, device, err)
	}
	if !caps.Has(v4l2.CapStreaming) {
		return Pipeline{}, fmt.Errorf("%w: %s", ErrStreamingUnsupported, device)
	}

	available, err := b.reader.Formats(device)
	if err != nil {
		return Pipeline{}, fmt.Errorf("%w: %s %s: %w", ErrFormatUnavailable, device, format, err)
	}
	if !slices.Contains(available, format) {
		return Pipeline{}, fmt.Errorf("%w: %s %s", ErrFormatUnavailable, device, format)
	}

	profile, ok := formats.Lookup(format)
	if !ok || !profile.Streamable() {
		return Pipeline{}, fmt.Errorf("%w: %s", ErrFormatUnsupported, format)
	}

	return Compose(device, profile, width, height), nil
}

// Compose assembles the stages for an already validated profile.
func Compose(device string, profile formats.Profile, width, height uint32) Pipeline {
	stages := []string{"v4l2src device=" + device}

	if profile.Caps != "" {
		caps := profile.Caps
		if width != 0 && height != 0 {
			caps += fmt.Sprintf(", width=%d, height=%d", width, height)
		}
		stages = append(stages, caps)
	}
	if profile.Converter != "" {
		stages = append(stages, profile.Converter)
	}
	if profile.Encoder != "" {
		stages = append(stages, profile.Encoder)
	}
	if profile.Payloader != "" {
		stages = append(stages, profile.Payloader+" name="+PayloaderName)
	}

	return Pipeline{Stages: stages, Payloader: profile.Payloader}
}
