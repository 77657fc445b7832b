package store

import (
	"context"
	"time"
)

// ProjectionStatus represents the current operational status of a projection.
type ProjectionStatus string

const (
	// ProjectionStatusReady indicates the projection is up-to-date and ready to serve queries
	ProjectionStatusReady ProjectionStatus = "READY"

	// ProjectionStatusRebuilding indicates the projection is being rebuilt from scratch
	ProjectionStatusRebuilding ProjectionStatus = "REBUILDING"

	// ProjectionStatusFailed indicates the projection encountered an error
	ProjectionStatusFailed ProjectionStatus = "FAILED"

	// ProjectionStatusPaused indicates the projection is paused (not processing events)
	ProjectionStatusPaused ProjectionStatus = "PAUSED"
)

// ProjectionState tracks the operational state of a projection for monitoring.
// Lag is the distance between the store's head sequence and the projection's
// checkpoint at the time the state was written.
type ProjectionState struct {
	ProjectionName string
	Status         ProjectionStatus
	Message        string
	Lag            int64
	UpdatedAt      time.Time
}

// ProjectionStatusStore persists projection status rows.
type ProjectionStatusStore interface {
	// Save saves the projection status.
	Save(ctx context.Context, state *ProjectionState) error

	// Load loads the projection status.
	// A projection with no row reports as ready.
	Load(ctx context.Context, projectionName string) (*ProjectionState, error)
}
