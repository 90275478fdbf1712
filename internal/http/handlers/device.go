package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/camstreamd/internal/formats"
	"github.com/jmylchreest/camstreamd/internal/stream"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
)

// DeviceHandler exposes capture device queries.
type DeviceHandler struct {
	registry *stream.Registry
}

// NewDeviceHandler creates a new device handler.
func NewDeviceHandler(registry *stream.Registry) *DeviceHandler {
	return &DeviceHandler{registry: registry}
}

// Register registers the device routes with the API.
func (h *DeviceHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listDevices",
		Method:      "GET",
		Path:        "/api/v1/devices",
		Summary:     "List capture devices",
		Description: "Enumerates capture devices, excluding blacklisted ones",
		Tags:        []string{"Devices"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getDeviceCapabilities",
		Method:      "GET",
		Path:        "/api/v1/devices/{name}/capabilities",
		Summary:     "Get device capabilities",
		Tags:        []string{"Devices"},
	}, h.GetCapabilities)

	huma.Register(api, huma.Operation{
		OperationID: "getDeviceFormats",
		Method:      "GET",
		Path:        "/api/v1/devices/{name}/formats",
		Summary:     "Get device formats",
		Description: "Returns the pixel formats in driver order and the one auto-publishing would pick",
		Tags:        []string{"Devices"},
	}, h.GetFormats)

	huma.Register(api, huma.Operation{
		OperationID: "getDeviceFrameSize",
		Method:      "GET",
		Path:        "/api/v1/devices/{name}/frame-size",
		Summary:     "Get current frame size",
		Tags:        []string{"Devices"},
	}, h.GetFrameSize)
}

// DeviceNameInput addresses a device by its name under /dev.
type DeviceNameInput struct {
	Name string `path:"name" doc:"Device name relative to /dev, e.g. video0"`
}

func devicePath(name string) (string, error) {
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		return "", huma.Error400BadRequest(fmt.Sprintf("invalid device name %q", name))
	}
	return "/dev/" + name, nil
}

// ListDevicesOutput is the output for listing devices.
type ListDevicesOutput struct {
	Body struct {
		Devices []DeviceResponse `json:"devices"`
	}
}

// List enumerates capture devices.
func (h *DeviceHandler) List(ctx context.Context, input *struct{}) (*ListDevicesOutput, error) {
	paths, err := h.registry.Devices()
	if err != nil {
		return nil, apiError(ctx, "failed to enumerate devices", err)
	}

	out := &ListDevicesOutput{}
	out.Body.Devices = make([]DeviceResponse, 0, len(paths))
	for _, p := range paths {
		d := v4l2.NewDevice(p)
		out.Body.Devices = append(out.Body.Devices, DeviceResponse{Path: d.Path, Name: d.Name, Ordinal: d.Ordinal})
	}
	return out, nil
}

// CapabilitiesOutput is the output for a capability query.
type CapabilitiesOutput struct {
	Body CapabilitiesResponse
}

// GetCapabilities queries a device's capabilities.
func (h *DeviceHandler) GetCapabilities(ctx context.Context, input *DeviceNameInput) (*CapabilitiesOutput, error) {
	path, err := devicePath(input.Name)
	if err != nil {
		return nil, err
	}

	caps, err := h.registry.Capabilities(path)
	if err != nil {
		return nil, apiError(ctx, "failed to query capabilities", err)
	}
	return &CapabilitiesOutput{Body: CapabilitiesFromV4L2(caps)}, nil
}

// FormatsOutput is the output for a format query.
type FormatsOutput struct {
	Body struct {
		Formats   []FormatResponse `json:"formats"`
		Preferred string           `json:"preferred,omitempty" doc:"Format auto-publishing would choose"`
	}
}

// GetFormats lists a device's pixel formats.
func (h *DeviceHandler) GetFormats(ctx context.Context, input *DeviceNameInput) (*FormatsOutput, error) {
	path, err := devicePath(input.Name)
	if err != nil {
		return nil, err
	}

	available, err := h.registry.Formats(path)
	if err != nil {
		return nil, apiError(ctx, "failed to query formats", err)
	}

	out := &FormatsOutput{}
	out.Body.Formats = FormatsFromV4L2(available)
	if f, ok := formats.Select(available); ok {
		out.Body.Preferred = f.String()
	}
	return out, nil
}

// FrameSizeOutput is the output for a frame size query.
type FrameSizeOutput struct {
	Body struct {
		Width  uint32 `json:"width"`
		Height uint32 `json:"height"`
	}
}

// GetFrameSize reads a device's current frame size.
func (h *DeviceHandler) GetFrameSize(ctx context.Context, input *DeviceNameInput) (*FrameSizeOutput, error) {
	path, err := devicePath(input.Name)
	if err != nil {
		return nil, err
	}

	w, hgt, err := h.registry.FrameSize(path)
	if err != nil {
		return nil, apiError(ctx, "failed to query frame size", err)
	}

	out := &FrameSizeOutput{}
	out.Body.Width, out.Body.Height = w, hgt
	return out, nil
}
