// Package health provides system health monitoring and status reporting.
package health

import "github.com/vietddude/pgactor/internal/infra/postgres"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ComponentHealth contains the health of one component.
type ComponentHealth struct {
	Name       string          `json:"name"`
	Status     SystemStatus    `json:"status"`
	State      string          `json:"state,omitempty"`
	Generation uint64          `json:"generation,omitempty"`
	HandleID   string          `json:"handle_id,omitempty"`
	Restarts   uint64          `json:"restarts,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Pool       *postgres.Stats `json:"pool,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Components   map[string]ComponentHealth `json:"components"`
}

// Aggregate returns the worst status in components.
func Aggregate(components map[string]ComponentHealth) SystemStatus {
	status := StatusHealthy
	for _, c := range components {
		if c.Status == StatusCritical {
			return StatusCritical
		}
		if c.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}
