// Package handler provides HTTP handlers for the local crossnotify API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/crossnotify/crossnotify/internal/api/models"
	"github.com/crossnotify/crossnotify/internal/api/response"
	"github.com/crossnotify/crossnotify/internal/relay"
)

// Probe is an extra subsystem check for GET /v1/ops/ready.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	relay     *relay.Service
	checks    []Probe
}

// NewOpsHandler creates a new OpsHandler. With a nil relay, readiness only
// reflects the extra checks.
func NewOpsHandler(version, buildTime string, relayService *relay.Service, checks ...Probe) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		relay:     relayService,
		checks:    checks,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - the device is registered, its
// push subscription is armed and every extra check passes.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ready := models.Readiness{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}

	if h.relay != nil {
		relayStatus := models.SubsystemStatus{Name: "relay", Status: models.HealthStatusOK}
		if self, ok := h.relay.CurrentDevice(); ok {
			ready.DeviceID = &self.ID
		}
		if !h.relay.IsReady() {
			detail := "device not registered or push subscription not armed"
			relayStatus.Status = models.HealthStatusFail
			relayStatus.Detail = &detail
			ready.Status = models.HealthStatusFail
		}
		ready.Subsystems = append(ready.Subsystems, relayStatus)
	}

	for _, c := range h.checks {
		status := models.SubsystemStatus{Name: c.Name, Status: models.HealthStatusOK}
		if err := c.Check(r.Context()); err != nil {
			detail := err.Error()
			status.Status = models.HealthStatusDegraded
			status.Detail = &detail
			if ready.Status == models.HealthStatusOK {
				ready.Status = models.HealthStatusDegraded
			}
		}
		ready.Subsystems = append(ready.Subsystems, status)
	}

	code := http.StatusOK
	if ready.Status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, ready)
}
