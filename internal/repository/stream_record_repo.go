package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmylchreest/camstreamd/internal/models"
	"gorm.io/gorm"
)

// streamRecordRepo implements StreamRecordRepository using GORM.
type streamRecordRepo struct {
	db *gorm.DB
}

// NewStreamRecordRepository creates a new StreamRecordRepository.
func NewStreamRecordRepository(db *gorm.DB) *streamRecordRepo {
	return &streamRecordRepo{db: db}
}

func (r *streamRecordRepo) Create(ctx context.Context, record *models.StreamRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("creating stream record: %w", err)
	}
	return nil
}

func (r *streamRecordRepo) GetByMountPath(ctx context.Context, mountPath string) (*models.StreamRecord, error) {
	var record models.StreamRecord
	err := r.db.WithContext(ctx).Where("mount_path = ?", mountPath).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting stream record by mount path: %w", err)
	}
	return &record, nil
}

func (r *streamRecordRepo) List(ctx context.Context) ([]*models.StreamRecord, error) {
	var records []*models.StreamRecord
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing stream records: %w", err)
	}
	return records, nil
}

// Replace updates the existing row in place so its ID and creation time
// survive a mount path change. A missing row is created.
func (r *streamRecordRepo) Replace(ctx context.Context, mountPath string, record *models.StreamRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.StreamRecord
		err := tx.Where("mount_path = ?", mountPath).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Create(record).Error; err != nil {
				return fmt.Errorf("creating stream record: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting stream record by mount path: %w", err)
		}

		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		if err := tx.Save(record).Error; err != nil {
			return fmt.Errorf("updating stream record: %w", err)
		}
		return nil
	})
}

func (r *streamRecordRepo) DeleteByMountPath(ctx context.Context, mountPath string) error {
	if err := r.db.WithContext(ctx).Where("mount_path = ?", mountPath).Delete(&models.StreamRecord{}).Error; err != nil {
		return fmt.Errorf("deleting stream record: %w", err)
	}
	return nil
}
