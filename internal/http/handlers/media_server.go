package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/camstreamd/internal/rtsp"
	"github.com/jmylchreest/camstreamd/internal/stream"
)

// MediaReporter reports the state of the running media server.
type MediaReporter interface {
	Endpoint() string
	Media() []rtsp.MediaStatus
}

// ServerHandler exposes the media server endpoint and its running pipelines.
type ServerHandler struct {
	registry *stream.Registry
	media    MediaReporter
}

// NewServerHandler creates a new server handler. media may be nil.
func NewServerHandler(registry *stream.Registry, media MediaReporter) *ServerHandler {
	return &ServerHandler{registry: registry, media: media}
}

// Register registers the media server routes with the API.
func (h *ServerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getServer",
		Method:      "GET",
		Path:        "/api/v1/server",
		Summary:     "Get media server endpoint",
		Tags:        []string{"Server"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "setServerAddress",
		Method:      "PUT",
		Path:        "/api/v1/server/address",
		Summary:     "Set media server address",
		Description: "Rebinds the RTSP listener. Connected readers are disconnected.",
		Tags:        []string{"Server"},
	}, h.SetAddress)

	huma.Register(api, huma.Operation{
		OperationID: "setServerPort",
		Method:      "PUT",
		Path:        "/api/v1/server/port",
		Summary:     "Set media server port",
		Description: "Rebinds the RTSP listener. Connected readers are disconnected.",
		Tags:        []string{"Server"},
	}, h.SetPort)

	huma.Register(api, huma.Operation{
		OperationID: "listServerMedia",
		Method:      "GET",
		Path:        "/api/v1/server/media",
		Summary:     "List running pipelines",
		Tags:        []string{"Server"},
	}, h.ListMedia)
}

// ServerOutput is the media server endpoint.
type ServerOutput struct {
	Body ServerResponse
}

func (h *ServerHandler) snapshot() *ServerOutput {
	out := &ServerOutput{Body: ServerResponse{
		Address:    h.registry.Address(),
		Port:       h.registry.Port(),
		Generation: h.registry.Generation(),
		Mounts:     h.registry.MountPaths(),
	}}
	if h.media != nil {
		out.Body.Listening = h.media.Endpoint()
	}
	return out
}

// Get returns the media server endpoint.
func (h *ServerHandler) Get(ctx context.Context, input *struct{}) (*ServerOutput, error) {
	return h.snapshot(), nil
}

// SetAddressInput is the input for rebinding the address.
type SetAddressInput struct {
	Body struct {
		Address string `json:"address" doc:"IP literal to bind, e.g. 0.0.0.0"`
	}
}

// SetAddress rebinds the media server to a new address.
func (h *ServerHandler) SetAddress(ctx context.Context, input *SetAddressInput) (*ServerOutput, error) {
	if err := h.registry.SetAddress(input.Body.Address); err != nil {
		return nil, apiError(ctx, "failed to set address", err)
	}
	return h.snapshot(), nil
}

// SetPortInput is the input for rebinding the port.
type SetPortInput struct {
	Body struct {
		Port int `json:"port" minimum:"0" maximum:"65535" doc:"TCP port, 0 lets the system choose"`
	}
}

// SetPort rebinds the media server to a new port.
func (h *ServerHandler) SetPort(ctx context.Context, input *SetPortInput) (*ServerOutput, error) {
	if err := h.registry.SetPort(input.Body.Port); err != nil {
		return nil, apiError(ctx, "failed to set port", err)
	}
	return h.snapshot(), nil
}

// ListMediaOutput is the output for listing running pipelines.
type ListMediaOutput struct {
	Body struct {
		Media []MediaResponse `json:"media"`
	}
}

// ListMedia reports running pipelines, including detached ones still draining.
func (h *ServerHandler) ListMedia(ctx context.Context, input *struct{}) (*ListMediaOutput, error) {
	out := &ListMediaOutput{}
	out.Body.Media = []MediaResponse{}
	if h.media == nil {
		return out, nil
	}
	for _, m := range h.media.Media() {
		out.Body.Media = append(out.Body.Media, MediaFromStatus(m))
	}
	return out, nil
}
