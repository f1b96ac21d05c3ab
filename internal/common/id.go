package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a unique run ID with the "run_" prefix
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewJobID generates a unique automation job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewBatchID generates a unique batch ID with the "batch_" prefix
func NewBatchID() string {
	return "batch_" + uuid.New().String()
}
