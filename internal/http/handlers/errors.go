package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/camstreamd/internal/gst"
	"github.com/jmylchreest/camstreamd/internal/observability"
	"github.com/jmylchreest/camstreamd/internal/stream"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
)

// apiError maps registry and device errors onto HTTP statuses. Server-side
// failures are logged on the request's logger.
func apiError(ctx context.Context, msg string, err error) error {
	var status int
	switch {
	case errors.Is(err, stream.ErrStreamNotFound),
		errors.Is(err, v4l2.ErrDeviceUnavailable):
		status = http.StatusNotFound
	case errors.Is(err, stream.ErrTooManyStreams):
		status = http.StatusConflict
	case errors.Is(err, stream.ErrInvalidDevice),
		errors.Is(err, stream.ErrInvalidMountPath),
		errors.Is(err, stream.ErrInvalidAddress),
		errors.Is(err, stream.ErrInvalidPort),
		errors.Is(err, v4l2.ErrInvalidPixelFormat),
		errors.Is(err, gst.ErrStreamingUnsupported),
		errors.Is(err, gst.ErrFormatUnavailable),
		errors.Is(err, gst.ErrFormatUnsupported):
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
	}

	logger := observability.WithError(observability.LoggerFromContext(ctx), err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg)
	} else {
		logger.Debug(msg)
	}
	return huma.NewError(status, msg, err)
}
