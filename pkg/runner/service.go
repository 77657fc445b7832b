package runner

import "context"

// Service is one startable unit of the process.
type Service interface {
	// Name identifies the service in logs and error messages.
	Name() string

	// Start brings the service up. It returns once the service is ready,
	// not when it finishes; long-running work belongs on an internal
	// goroutine. Must respect context cancellation.
	Start(ctx context.Context) error

	// Stop shuts the service down within the context deadline.
	Stop(ctx context.Context) error
}

// HealthChecker is implemented by services that can report health.
type HealthChecker interface {
	Service

	// HealthCheck returns an error while the service is unhealthy.
	HealthCheck(ctx context.Context) error
}
