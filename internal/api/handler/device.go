package handler

import (
	"net/http"
	"strconv"

	"github.com/crossnotify/crossnotify/internal/api/models"
	"github.com/crossnotify/crossnotify/internal/api/response"
	"github.com/crossnotify/crossnotify/internal/auth"
	"github.com/crossnotify/crossnotify/internal/device"
	"github.com/crossnotify/crossnotify/internal/relay"
)

// DeviceHandler handles device registration endpoints.
type DeviceHandler struct {
	relay *relay.Service
	auth  *auth.Service
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(relayService *relay.Service, authService *auth.Service) *DeviceHandler {
	return &DeviceHandler{
		relay: relayService,
		auth:  authService,
	}
}

// RegisterDevice handles POST /v1/devices - register this device and issue
// an access token for it. Registering again is idempotent.
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var input models.DeviceRegisterRequest
	if !decode(w, r, &input) {
		return
	}

	reg, err := h.relay.RegisterDevice(r.Context(), input.PushToken)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := h.auth.IssueToken(reg)
	if err != nil {
		response.InternalError(w, r, "failed to issue access token")
		return
	}

	response.Created(w, r, "/v1/devices/current", models.DeviceRegisterResponse{
		Device:      toDevice(reg, reg.ID),
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn,
	})
}

// ListDevices handles GET /v1/devices - list the user's active devices.
// Pass refresh=true to reload them from the shared store first.
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.relay.CachedDevices()
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		fresh, err := h.relay.RefreshDevices(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		devices = fresh
	}

	currentID := ""
	if self, ok := h.relay.CurrentDevice(); ok {
		currentID = self.ID
	}

	list := models.DeviceList{Items: make([]models.Device, 0, len(devices))}
	for _, d := range devices {
		list.Items = append(list.Items, toDevice(d, currentID))
	}
	response.JSON(w, r, http.StatusOK, list)
}

// GetCurrentDevice handles GET /v1/devices/current.
func (h *DeviceHandler) GetCurrentDevice(w http.ResponseWriter, r *http.Request) {
	self, ok := h.relay.CurrentDevice()
	if !ok {
		response.NotRegistered(w, r)
		return
	}
	response.JSON(w, r, http.StatusOK, toDevice(self, self.ID))
}

// UnregisterDevice handles DELETE /v1/devices/current. By default the
// registration is kept but deactivated; hard=true deletes it.
func (h *DeviceHandler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	hard, _ := strconv.ParseBool(r.URL.Query().Get("hard"))
	if err := h.relay.UnregisterDevice(r.Context(), hard); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w, r)
}

func toDevice(d *device.Registration, currentID string) models.Device {
	out := models.Device{
		ID:           d.ID,
		Name:         d.Name,
		DeviceType:   string(d.DeviceType),
		Platform:     string(d.Platform),
		Model:        optional(d.Model),
		OSVersion:    optional(d.OSVersion),
		AppVersion:   optional(d.AppVersion),
		PushEnabled:  d.PushEnabled,
		IsActive:     d.IsActive,
		IsCurrent:    d.ID == currentID,
		RegisteredAt: models.Timestamp(d.RegisteredAt),
		LastSeenAt:   models.Timestamp(d.LastSeenAt),
	}
	if d.PushToken != "" {
		out.TokenLast4 = optional(d.TokenLast4())
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
