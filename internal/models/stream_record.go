package models

import (
	"strings"
)

// StreamRecord is a published stream saved across restarts.
//
// Format holds the FourCC text of the pixel format (e.g. "YUYV") with
// trailing padding removed, so the table stays readable from a SQL shell.
type StreamRecord struct {
	BaseModel

	Device    string `gorm:"not null;size:255" json:"device"`
	Format    string `gorm:"not null;size:4" json:"format"`
	MountPath string `gorm:"uniqueIndex;not null;size:255" json:"mount_path"`
	Width     uint32 `gorm:"default:0" json:"width"`
	Height    uint32 `gorm:"default:0" json:"height"`
}

// TableName returns the table name for StreamRecord.
func (StreamRecord) TableName() string {
	return "stream_records"
}

// Validate checks the record before it is written.
func (r *StreamRecord) Validate() error {
	if strings.TrimSpace(r.Device) == "" {
		return ErrDeviceRequired
	}
	if n := len(r.Format); n == 0 || n > 4 {
		return ErrValidation{Field: "format", Message: "must be a 1-4 character code"}
	}
	if strings.TrimSpace(r.MountPath) == "" {
		return ErrMountPathRequired
	}
	return nil
}
