// Package repository defines data access interfaces for camstreamd entities.
package repository

import (
	"context"

	"github.com/jmylchreest/camstreamd/internal/models"
)

// StreamRecordRepository defines operations for persisted stream records.
type StreamRecordRepository interface {
	// Create stores a new record.
	Create(ctx context.Context, record *models.StreamRecord) error
	// GetByMountPath returns the record for a mount path, or nil if none exists.
	GetByMountPath(ctx context.Context, mountPath string) (*models.StreamRecord, error)
	// List returns every record in creation order.
	List(ctx context.Context) ([]*models.StreamRecord, error)
	// Replace overwrites the record stored under mountPath, which may move
	// the record to a new mount path.
	Replace(ctx context.Context, mountPath string, record *models.StreamRecord) error
	// DeleteByMountPath removes the record for a mount path. Missing records are not an error.
	DeleteByMountPath(ctx context.Context, mountPath string) error
}
