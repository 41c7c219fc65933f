package jobs

import "context"

// HealthStatus is the closed set of aggregate health states.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "Healthy"
	HealthDegraded  HealthStatus = "Degraded"
	HealthUnhealthy HealthStatus = "Unhealthy"
)

// HTTPStatus maps a HealthStatus to the status code /health should return:
// Healthy and Degraded both report 200 (the service is still accepting
// work), Unhealthy reports 503.
func (s HealthStatus) HTTPStatus() int {
	if s == HealthUnhealthy {
		return 503
	}
	return 200
}

// HealthReport is the /health/detailed response body.
type HealthReport struct {
	Status       HealthStatus `json:"status"`
	QueueDepth   int          `json:"queueDepth"`
	FailureRate  float64      `json:"failureRate"`
	DatabaseUp   bool         `json:"databaseUp"`
	DetailReason string       `json:"detailReason,omitempty"`
}

// Pinger is satisfied by anything C8 can probe for reachability (a durable
// StatusStore, typically).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheckService is C8: it aggregates queue depth and failure rate from
// C3/C4 plus backend reachability into a single health verdict.
type HealthCheckService struct {
	queue *Queue
	store StatusStore
}

// NewHealthCheckService wires C8 over the queue and status store.
func NewHealthCheckService(queue *Queue, store StatusStore) *HealthCheckService {
	return &HealthCheckService{queue: queue, store: store}
}

// Check computes the current aggregate health.
//
//	queueDepth > 1000                        -> Degraded
//	failureRate > 0.5                        -> Unhealthy
//	failureRate > 0.2 or queueDepth > 500     -> Degraded
//	backend unreachable                      -> Unhealthy
//	otherwise                                -> Healthy
func (h *HealthCheckService) Check(ctx context.Context) HealthReport {
	depth := h.queue.Len()
	metrics, err := h.store.Metrics(ctx)
	if err != nil {
		return HealthReport{Status: HealthUnhealthy, QueueDepth: depth, DetailReason: "status store unreachable: " + err.Error()}
	}

	if err := h.store.Ping(ctx); err != nil {
		return HealthReport{Status: HealthUnhealthy, QueueDepth: depth, FailureRate: metrics.FailureRate, DatabaseUp: false, DetailReason: "database unreachable: " + err.Error()}
	}

	report := HealthReport{QueueDepth: depth, FailureRate: metrics.FailureRate, DatabaseUp: true}

	switch {
	case metrics.FailureRate > 0.5:
		report.Status = HealthUnhealthy
		report.DetailReason = "failure rate above 0.5"
	case metrics.FailureRate > 0.2 || depth > 500:
		report.Status = HealthDegraded
		report.DetailReason = "failure rate above 0.2 or queue depth above 500"
	default:
		report.Status = HealthHealthy
	}

	return report
}
