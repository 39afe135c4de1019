package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

// ComponentHealth is one tracked component's latest report.
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker aggregates component reports into one process verdict.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
}

var healthChecker = &HealthChecker{
	components: make(map[string]ComponentHealth),
	startTime:  time.Now(),
}

// SetVersion stamps the build version into health responses.
func SetVersion(version string) {
	healthChecker.mu.Lock()
	healthChecker.version = version
	healthChecker.mu.Unlock()
}

// RegisterComponent records a component's current health. Calling it
// again for the same name overwrites the previous report.
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
	healthChecker.mu.Unlock()
}

// UpdateComponent is RegisterComponent under its loop-callsite name.
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// GetHealth snapshots the aggregate status. One unhealthy component
// makes the whole process unhealthy.
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	out := HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(healthChecker.components)),
		Version:    healthChecker.version,
		Uptime:     time.Since(healthChecker.startTime).String(),
		StartTime:  healthChecker.startTime,
	}
	for name, comp := range healthChecker.components {
		if comp.Healthy {
			out.Components[name] = "healthy"
			continue
		}
		out.Status = "unhealthy"
		out.Components[name] = "unhealthy: " + comp.Message
	}
	return out
}

// HealthHandler serves the aggregate verdict, 503 when unhealthy.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	}
}
