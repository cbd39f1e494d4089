package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks a backend's reachability.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// ConnChecker reports broker connectivity.
type ConnChecker interface {
	IsConnected() bool
}

// KeyCounter reports the primary key pool size.
type KeyCounter interface {
	Len() int
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	PrimaryKeys   int               `json:"primary_keys"`
}

type HealthHandler struct {
	db        Pinger
	mqtt      ConnChecker
	keys      KeyCounter
	version   string
	startTime time.Time
}

// NewHealthHandler creates a health handler. db, mqtt and keys may be nil.
func NewHealthHandler(db Pinger, mqtt ConnChecker, keys KeyCounter, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		keys:      keys,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK
	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	// Database check
	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// With no keys every request goes to the job service.
	keys := 0
	if h.keys != nil {
		keys = h.keys.Len()
	}
	if keys > 0 {
		checks["primary_api"] = "ok"
	} else {
		checks["primary_api"] = "no_keys"
		degrade()
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		PrimaryKeys:   keys,
	})
}
