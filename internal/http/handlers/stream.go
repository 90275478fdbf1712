package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/camstreamd/internal/stream"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
)

// StreamHandler publishes, changes and removes streams.
type StreamHandler struct {
	registry *stream.Registry
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(registry *stream.Registry) *StreamHandler {
	return &StreamHandler{registry: registry}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listStreams",
		Method:      "GET",
		Path:        "/api/v1/streams",
		Summary:     "List streams",
		Tags:        []string{"Streams"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID:   "createStream",
		Method:        "POST",
		Path:          "/api/v1/streams",
		Summary:       "Publish a stream",
		Description:   "Builds a pipeline for the device and format and mounts it on the media server",
		Tags:          []string{"Streams"},
		DefaultStatus: http.StatusCreated,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "getStream",
		Method:      "GET",
		Path:        "/api/v1/streams/{mount}",
		Summary:     "Get stream",
		Tags:        []string{"Streams"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateStream",
		Method:      "PUT",
		Path:        "/api/v1/streams/{mount}",
		Summary:     "Change a stream",
		Description: "Rebuilds the pipeline with a new format and size, optionally moving the mount path. Existing readers keep the old pipeline.",
		Tags:        []string{"Streams"},
	}, h.Update)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteStream",
		Method:        "DELETE",
		Path:          "/api/v1/streams/{mount}",
		Summary:       "Remove a stream",
		Tags:          []string{"Streams"},
		DefaultStatus: http.StatusNoContent,
	}, h.Delete)
}

// ListStreamsInput is the input for listing streams.
type ListStreamsInput struct {
	Host string `query:"host" doc:"Host to place in stream URIs instead of the bind address"`
}

// ListStreamsOutput is the output for listing streams.
type ListStreamsOutput struct {
	Body struct {
		Streams []StreamResponse `json:"streams"`
	}
}

// List returns every published stream in publication order.
func (h *StreamHandler) List(ctx context.Context, input *ListStreamsInput) (*ListStreamsOutput, error) {
	streams := h.registry.Streams()

	out := &ListStreamsOutput{}
	out.Body.Streams = make([]StreamResponse, 0, len(streams))
	for _, d := range streams {
		out.Body.Streams = append(out.Body.Streams, StreamFromDescriptor(d, h.registry.URI(d, input.Host)))
	}
	return out, nil
}

// StreamOutput wraps a single stream.
type StreamOutput struct {
	Body StreamResponse
}

// CreateStreamInput is the input for publishing a stream.
type CreateStreamInput struct {
	Body struct {
		Device    string `json:"device" minLength:"1" doc:"Device path, e.g. /dev/video0"`
		Format    string `json:"format" minLength:"1" maxLength:"4" doc:"Pixel format FourCC"`
		MountPath string `json:"mount_path" minLength:"1" doc:"RTSP mount path"`
		Width     uint32 `json:"width,omitempty" doc:"0 keeps the device default"`
		Height    uint32 `json:"height,omitempty" doc:"0 keeps the device default"`
	}
}

// Create publishes a stream.
func (h *StreamHandler) Create(ctx context.Context, input *CreateStreamInput) (*StreamOutput, error) {
	format, err := v4l2.ParsePixelFormat(input.Body.Format)
	if err != nil {
		return nil, apiError(ctx, "invalid format", err)
	}

	d, err := h.registry.Add(input.Body.Device, format, input.Body.MountPath, input.Body.Width, input.Body.Height)
	if err != nil {
		return nil, apiError(ctx, "failed to publish stream", err)
	}
	return &StreamOutput{Body: StreamFromDescriptor(d, h.registry.URI(d, ""))}, nil
}

// StreamMountInput addresses a stream by its mount path.
type StreamMountInput struct {
	Mount string `path:"mount" doc:"Mount path without the leading slash"`
	Host  string `query:"host" doc:"Host to place in the stream URI instead of the bind address"`
}

// Get returns one stream.
func (h *StreamHandler) Get(ctx context.Context, input *StreamMountInput) (*StreamOutput, error) {
	d, ok := h.registry.Stream(input.Mount)
	if !ok {
		return nil, huma.Error404NotFound("stream not found")
	}
	return &StreamOutput{Body: StreamFromDescriptor(d, h.registry.URI(d, input.Host))}, nil
}

// UpdateStreamInput is the input for changing a stream.
type UpdateStreamInput struct {
	Mount string `path:"mount" doc:"Mount path without the leading slash"`
	Body  struct {
		Format    string `json:"format,omitempty" maxLength:"4" doc:"New pixel format; empty keeps the current one"`
		MountPath string `json:"mount_path,omitempty" doc:"New mount path; empty keeps the current one"`
		Width     uint32 `json:"width,omitempty" doc:"New width; the current size is kept unless width and height are both set"`
		Height    uint32 `json:"height,omitempty" doc:"New height; the current size is kept unless width and height are both set"`
	}
}

// Update changes a stream's format, size or mount path.
func (h *StreamHandler) Update(ctx context.Context, input *UpdateStreamInput) (*StreamOutput, error) {
	current, ok := h.registry.Stream(input.Mount)
	if !ok {
		return nil, huma.Error404NotFound("stream not found")
	}

	format := current.Format
	if input.Body.Format != "" {
		f, err := v4l2.ParsePixelFormat(input.Body.Format)
		if err != nil {
			return nil, apiError(ctx, "invalid format", err)
		}
		format = f
	}

	width, height := current.Width, current.Height
	if input.Body.Width != 0 && input.Body.Height != 0 {
		width, height = input.Body.Width, input.Body.Height
	}

	d, err := h.registry.Mutate(current.MountPath, format, input.Body.MountPath, width, height)
	if err != nil {
		return nil, apiError(ctx, "failed to update stream", err)
	}
	return &StreamOutput{Body: StreamFromDescriptor(d, h.registry.URI(d, ""))}, nil
}

// Delete unpublishes a stream.
func (h *StreamHandler) Delete(ctx context.Context, input *StreamMountInput) (*struct{}, error) {
	if err := h.registry.Remove(input.Mount); err != nil {
		return nil, apiError(ctx, "failed to remove stream", err)
	}
	return nil, nil
}
