package mavlink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/jmylchreest/camstreamd/internal/config"
	"github.com/jmylchreest/camstreamd/internal/observability"
	"github.com/jmylchreest/camstreamd/internal/stream"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
)

var (
	errNoFormats = errors.New("device reports no formats")
	errNoURI     = errors.New("stream has no URI")
)

func matches(d stream.Descriptor, cameraID uint8) bool {
	return cameraID == 0 || d.ID == cameraID
}

// handleCommandLong serves the commands addressed to the camera component.
func (b *Bridge) handleCommandLong(msg *common.MessageCommandLong) {
	if msg.TargetComponent != 0 && msg.TargetComponent != cameraComponent {
		b.logger.Log(context.Background(), observability.LevelTrace, "ignoring command for other component",
			slog.Int("target_component", int(msg.TargetComponent)))
		return
	}

	switch msg.Command {
	case common.MAV_CMD_REQUEST_CAMERA_INFORMATION:
		b.handleCameraInformationRequest(msg)
	default:
		b.logger.Debug("command unhandled", slog.Int("command", int(msg.Command)))
		b.ack(msg.Command, common.MAV_RESULT_UNSUPPORTED)
	}
}

// handleCameraInformationRequest sends one CAMERA_INFORMATION per stream
// matching the camera id in param2 (0 matches all).
func (b *Bridge) handleCameraInformationRequest(msg *common.MessageCommandLong) {
	cameraID := uint8(msg.Param2)

	sent := 0
	for _, d := range b.registry.Streams() {
		if !matches(d, cameraID) {
			continue
		}
		b.send(b.cameraInformation(d))
		sent++
	}

	if sent == 0 {
		b.logger.Debug("camera information for unknown camera", slog.Int("camera_id", int(cameraID)))
		b.ack(msg.Command, common.MAV_RESULT_DENIED)
		return
	}
	b.ack(msg.Command, common.MAV_RESULT_ACCEPTED)
}

func (b *Bridge) cameraInformation(d stream.Descriptor) *common.MessageCameraInformation {
	vendor, model := d.Name, d.Name
	if caps, err := b.registry.Capabilities(d.Device); err == nil {
		if caps.Driver != "" {
			vendor = caps.Driver
		}
		if caps.Card != "" {
			model = caps.Card
		}
	}

	width, height := d.Width, d.Height
	if width == 0 || height == 0 {
		if w, h, err := b.registry.FrameSize(d.Device); err == nil {
			width, height = w, h
		}
	}

	info := &common.MessageCameraInformation{
		ResolutionH:    uint16(width),
		ResolutionV:    uint16(height),
		Flags:          common.CAMERA_CAP_FLAGS_CAPTURE_VIDEO | common.CAMERA_CAP_FLAGS_HAS_VIDEO_STREAM,
		CameraDeviceId: d.ID,
	}
	copy(info.VendorName[:], vendor)
	copy(info.ModelName[:], model)
	return info
}

func (b *Bridge) ack(cmd common.MAV_CMD, result common.MAV_RESULT) {
	b.send(&common.MessageCommandAck{Command: cmd, Result: result})
}

func (b *Bridge) handleStreamListQuery(msg *MessageStreamListQuery) {
	host := b.uriHost()

	for _, d := range b.registry.Streams() {
		if !matches(d, msg.CameraID) {
			continue
		}
		b.send(&MessageStreamURI{
			CameraID: d.ID,
			Name:     truncate(d.Name, nameLen),
			URI:      truncate(b.registry.URI(d, host), listURILen),
		})
	}
}

// handleStreamSettingsQuery answers for the first matching stream only. A
// stream whose settings cannot all be read gets no answer.
func (b *Bridge) handleStreamSettingsQuery(msg *MessageStreamSettingsQuery) {
	for _, d := range b.registry.Streams() {
		if !matches(d, msg.CameraID) {
			continue
		}

		settings, err := b.settingsOf(d)
		if err != nil {
			b.logger.Debug("stream settings unavailable",
				slog.Int("camera_id", int(d.ID)),
				slog.String("device", d.Device),
				slog.String("error", err.Error()),
			)
			return
		}
		b.send(settings)
		return
	}
}

func (b *Bridge) settingsOf(d stream.Descriptor) (*MessageStreamSettings, error) {
	caps, err := b.registry.Capabilities(d.Device)
	if err != nil {
		return nil, err
	}

	available, err := b.registry.Formats(d.Device)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, errNoFormats
	}

	width, height, err := b.registry.FrameSize(d.Device)
	if err != nil {
		return nil, err
	}

	uri := b.registry.URI(d, b.uriHost())
	if uri == "" {
		return nil, errNoURI
	}

	settings := &MessageStreamSettings{
		Capabilities: uint32(caps.Flags),
		Format:       uint32(d.Format),
		Width:        uint16(width),
		Height:       uint16(height),
		CameraID:     d.ID,
		Name:         truncate(d.Name, nameLen),
		URI:          truncate(uri, settingsURILen),
	}
	for i := 0; i < len(available) && i < settingsFormats; i++ {
		settings.Formats[i] = uint32(available[i])
	}
	return settings, nil
}

func (b *Bridge) handleSetStreamSettings(msg *MessageSetStreamSettings) {
	if msg.CameraID == 0 {
		b.logger.Debug("set stream settings without camera id")
		return
	}

	d, ok := b.registry.StreamByID(msg.CameraID)
	if !ok {
		b.logger.Debug("set stream settings for unknown camera", slog.Int("camera_id", int(msg.CameraID)))
		return
	}

	format := d.Format
	if msg.Format != 0 {
		format = v4l2.PixelFormat(msg.Format)
	}

	width, height := d.Width, d.Height
	if msg.Width != 0 && msg.Height != 0 {
		width, height = uint32(msg.Width), uint32(msg.Height)
	}

	var mountPath string
	if b.opts.MountPathPolicy == config.MountPathAdopt && msg.MountPath != "" {
		mountPath = msg.MountPath
	}

	updated, err := b.registry.Mutate(d.MountPath, format, mountPath, width, height)
	if err != nil {
		b.logger.Warn("applying stream settings failed",
			slog.Int("camera_id", int(d.ID)),
			slog.String("format", format.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	b.logger.Info("stream settings applied",
		slog.Int("camera_id", int(updated.ID)),
		slog.String("format", updated.Format.String()),
		slog.String("mount_path", updated.MountPath),
		slog.Int("width", int(updated.Width)),
		slog.Int("height", int(updated.Height)),
	)
}
