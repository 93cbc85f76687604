package common

import (
	"github.com/google/uuid"
)

// NewDatasetID generates a unique dataset ID with the "ds_" prefix
// Format: ds_<uuid>
func NewDatasetID() string {
	return "ds_" + uuid.New().String()
}
