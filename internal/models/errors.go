package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

var (
	// ErrDeviceRequired indicates a record without a device path.
	ErrDeviceRequired = errors.New("device is required")

	// ErrMountPathRequired indicates a record without a mount path.
	ErrMountPathRequired = errors.New("mount_path is required")
)
