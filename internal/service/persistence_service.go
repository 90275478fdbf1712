package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/camstreamd/internal/models"
	"github.com/jmylchreest/camstreamd/internal/observability"
	"github.com/jmylchreest/camstreamd/internal/repository"
	"github.com/jmylchreest/camstreamd/internal/stream"
	"github.com/jmylchreest/camstreamd/internal/v4l2"
)

const defaultWriteTimeout = 5 * time.Second

// StreamRegistry is the part of the stream registry that Restore replays into.
type StreamRegistry interface {
	Stream(mountPath string) (stream.Descriptor, bool)
	Add(device string, format v4l2.PixelFormat, mountPath string, width, height uint32) (stream.Descriptor, error)
	Mutate(mountPath string, format v4l2.PixelFormat, newMountPath string, width, height uint32) (stream.Descriptor, error)
}

// PersistenceService saves published streams and replays them at startup.
// It is attached to the registry as an observer; write failures are logged
// and never fail the registry operation that caused them.
type PersistenceService struct {
	repo         repository.StreamRecordRepository
	logger       *slog.Logger
	writeTimeout time.Duration
}

// NewPersistenceService creates a new persistence service.
func NewPersistenceService(repo repository.StreamRecordRepository) *PersistenceService {
	return &PersistenceService{
		repo:         repo,
		logger:       slog.Default(),
		writeTimeout: defaultWriteTimeout,
	}
}

// WithLogger sets the logger for the service.
func (s *PersistenceService) WithLogger(logger *slog.Logger) *PersistenceService {
	s.logger = observability.WithComponent(logger, "persistence")
	return s
}

// StreamAdded stores the new stream.
func (s *PersistenceService) StreamAdded(d stream.Descriptor) {
	s.write("saving stream", d, func(ctx context.Context) error {
		return s.repo.Replace(ctx, d.MountPath, recordFor(d))
	})
}

// StreamUpdated rewrites the record stored under the previous mount path.
func (s *PersistenceService) StreamUpdated(previousMountPath string, d stream.Descriptor) {
	s.write("updating stream", d, func(ctx context.Context) error {
		return s.repo.Replace(ctx, previousMountPath, recordFor(d))
	})
}

// StreamRemoved deletes the stream's record.
func (s *PersistenceService) StreamRemoved(d stream.Descriptor) {
	s.write("deleting stream", d, func(ctx context.Context) error {
		return s.repo.DeleteByMountPath(ctx, d.MountPath)
	})
}

func (s *PersistenceService) write(action string, d stream.Descriptor, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.logger.Warn(action+" failed",
			slog.String("mount_path", d.MountPath),
			slog.String("device", d.Device),
			slog.String("error", err.Error()),
		)
	}
}

// RestoreResult counts what Restore did.
type RestoreResult struct {
	Added   int
	Updated int
	Skipped int
}

// Restore replays every stored record into the registry. A record whose
// mount path is already published updates that stream's format and size;
// any other record is added. Records that cannot be applied are skipped and
// kept so a device that returns later is picked up on the next start.
func (s *PersistenceService) Restore(ctx context.Context, registry StreamRegistry) (RestoreResult, error) {
	var result RestoreResult

	records, err := s.repo.List(ctx)
	if err != nil {
		return result, fmt.Errorf("loading stream records: %w", err)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		format, err := v4l2.ParsePixelFormat(rec.Format)
		if err != nil {
			s.skip(rec, err)
			result.Skipped++
			continue
		}

		if _, ok := registry.Stream(rec.MountPath); ok {
			if _, err := registry.Mutate(rec.MountPath, format, "", rec.Width, rec.Height); err != nil {
				s.skip(rec, err)
				result.Skipped++
				continue
			}
			result.Updated++
			continue
		}

		if _, err := registry.Add(rec.Device, format, rec.MountPath, rec.Width, rec.Height); err != nil {
			s.skip(rec, err)
			result.Skipped++
			continue
		}
		result.Added++
	}

	s.logger.Info("streams restored",
		slog.Int("added", result.Added),
		slog.Int("updated", result.Updated),
		slog.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *PersistenceService) skip(rec *models.StreamRecord, err error) {
	s.logger.Warn("skipping stored stream",
		slog.String("mount_path", rec.MountPath),
		slog.String("device", rec.Device),
		slog.String("format", rec.Format),
		slog.String("error", err.Error()),
	)
}

func recordFor(d stream.Descriptor) *models.StreamRecord {
	return &models.StreamRecord{
		Device:    d.Device,
		Format:    d.Format.String(),
		MountPath: d.MountPath,
		Width:     d.Width,
		Height:    d.Height,
	}
}
