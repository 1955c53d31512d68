package handler

import (
	"net/http"
	"time"

	"github.com/crossnotify/crossnotify/internal/api/models"
	"github.com/crossnotify/crossnotify/internal/api/response"
	"github.com/crossnotify/crossnotify/internal/notification"
	"github.com/crossnotify/crossnotify/internal/routing"
)

// RoutingHandler handles smart routing endpoints.
type RoutingHandler struct {
	router *routing.Service
}

// NewRoutingHandler creates a new RoutingHandler.
func NewRoutingHandler(router *routing.Service) *RoutingHandler {
	return &RoutingHandler{router: router}
}

func (h *RoutingHandler) mode() models.RoutingMode {
	seconds := int(h.router.PresenceTimeout() / time.Second)
	return models.RoutingMode{
		Mode:                   string(h.router.Mode()),
		PresenceTimeoutSeconds: &seconds,
	}
}

// GetMode handles GET /v1/routing/mode.
func (h *RoutingHandler) GetMode(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.mode())
}

// SetMode handles PUT /v1/routing/mode.
func (h *RoutingHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var input models.RoutingMode
	if !decode(w, r, &input) {
		return
	}
	if err := h.router.SetMode(routing.Mode(input.Mode)); err != nil {
		writeError(w, r, err)
		return
	}
	if input.PresenceTimeoutSeconds != nil {
		h.router.SetPresenceTimeout(time.Duration(*input.PresenceTimeoutSeconds) * time.Second)
	}
	response.JSON(w, r, http.StatusOK, h.mode())
}

// ListOnlineDevices handles GET /v1/routing/devices.
func (h *RoutingHandler) ListOnlineDevices(w http.ResponseWriter, r *http.Request) {
	online := h.router.OnlineDevices()
	list := models.OnlineDeviceList{Items: make([]models.OnlineDevice, 0, len(online))}
	for _, p := range online {
		list.Items = append(list.Items, models.OnlineDevice{
			DeviceID:   p.DeviceID,
			DeviceType: string(p.DeviceType),
			Name:       p.Name,
			LastSeen:   models.Timestamp(p.LastSeen),
		})
	}
	response.JSON(w, r, http.StatusOK, list)
}

// RouteNotification handles POST /v1/routing/notifications.
func (h *RoutingHandler) RouteNotification(w http.ResponseWriter, r *http.Request) {
	h.route(w, r, routing.KindStandard)
}

// RouteUrgentNotification handles POST /v1/routing/notifications:urgent.
func (h *RoutingHandler) RouteUrgentNotification(w http.ResponseWriter, r *http.Request) {
	h.route(w, r, routing.KindUrgent)
}

func (h *RoutingHandler) route(w http.ResponseWriter, r *http.Request, kind routing.Kind) {
	var input models.RouteNotificationRequest
	if !decode(w, r, &input) {
		return
	}

	n := routing.Notification{
		Title:          input.Title,
		Body:           input.Body,
		Category:       input.Category,
		Priority:       input.Category.DefaultPriority(),
		Kind:           kind,
		TargetDeviceID: input.TargetDeviceID,
	}
	if input.Priority != nil {
		n.Priority = *input.Priority
	}
	if kind == routing.KindUrgent {
		n.Priority = notification.PriorityCritical
	}

	targets, err := h.router.RouteNotification(r.Context(), n)
	h.routed(w, r, targets, err)
}

// RouteDataNotification handles POST /v1/routing/notifications:data.
func (h *RoutingHandler) RouteDataNotification(w http.ResponseWriter, r *http.Request) {
	var input models.RouteDataRequest
	if !decode(w, r, &input) {
		return
	}
	targets, err := h.router.SendDataNotification(r.Context(), input.Values, input.TargetDeviceID)
	h.routed(w, r, targets, err)
}

func (h *RoutingHandler) routed(w http.ResponseWriter, r *http.Request, targets []string, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, models.RouteResult{
		Mode:    string(h.router.Mode()),
		Targets: targets,
	})
}
