package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crossnotify/crossnotify/internal/api/models"
	"github.com/crossnotify/crossnotify/internal/api/response"
	"github.com/crossnotify/crossnotify/internal/notification"
	"github.com/crossnotify/crossnotify/internal/relay"
)

// Notification kinds accepted by POST /v1/notifications/{kind}.
const (
	KindTaskCompletion = "task-completion"
	KindApproval       = "approval"
	KindPassword       = "password"
	KindError          = "error"
	KindReminder       = "reminder"
	KindFileReady      = "file-ready"
)

// NotificationHandler handles relayed notification endpoints.
type NotificationHandler struct {
	relay *relay.Service
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(relayService *relay.Service) *NotificationHandler {
	return &NotificationHandler{relay: relayService}
}

// SendNotification handles POST /v1/notifications.
func (h *NotificationHandler) SendNotification(w http.ResponseWriter, r *http.Request) {
	var input models.SendNotificationRequest
	if !decode(w, r, &input) {
		return
	}
	payload, err := h.relay.Send(r.Context(), input.Draft())
	h.sent(w, r, payload, err)
}

// SendKind handles POST /v1/notifications/{kind} - the typed shortcuts.
func (h *NotificationHandler) SendKind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		payload *notification.Payload
		err     error
	)

	switch chi.URLParam(r, "kind") {
	case KindTaskCompletion:
		var in models.TaskCompletionRequest
		if !decode(w, r, &in) {
			return
		}
		var d time.Duration
		if in.DurationSeconds != nil {
			d = time.Duration(*in.DurationSeconds * float64(time.Second))
		}
		payload, err = h.relay.NotifyTaskCompletion(ctx, in.TaskID, in.TaskName, in.Success, d)
	case KindApproval:
		var in models.ApprovalRequest
		if !decode(w, r, &in) {
			return
		}
		payload, err = h.relay.RequestApproval(ctx, in.Title, in.Details, in.Options)
	case KindPassword:
		var in models.PasswordRequest
		if !decode(w, r, &in) {
			return
		}
		payload, err = h.relay.RequestPassword(ctx, in.Prompt, in.Service)
	case KindError:
		var in models.ErrorReportRequest
		if !decode(w, r, &in) {
			return
		}
		payload, err = h.relay.NotifyError(ctx, in.Title, in.Message, in.Code, in.Recoverable)
	case KindReminder:
		var in models.ReminderRequest
		if !decode(w, r, &in) {
			return
		}
		var dueAt *time.Time
		if in.DueAt != nil {
			t := in.DueAt.Time()
			dueAt = &t
		}
		payload, err = h.relay.SendReminder(ctx, in.Title, in.Body, dueAt)
	case KindFileReady:
		var in models.FileReadyRequest
		if !decode(w, r, &in) {
			return
		}
		payload, err = h.relay.NotifyFileReady(ctx, in.FileName, in.Location, in.SizeBytes)
	default:
		response.NotFound(w, r, "unknown notification kind")
		return
	}

	h.sent(w, r, payload, err)
}

func (h *NotificationHandler) sent(w http.ResponseWriter, r *http.Request, payload *notification.Payload, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, r, "/v1/notifications/"+payload.ID+"/deliveries", models.NewNotification(payload))
}

// Acknowledge handles POST /v1/notifications/{notificationId}/ack.
func (h *NotificationHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var input models.AcknowledgeRequest
	if !decode(w, r, &input) {
		return
	}
	if err := h.relay.Acknowledge(r.Context(), chi.URLParam(r, "notificationId"), input.Action); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w, r)
}

// ListDeliveries handles GET /v1/notifications/{notificationId}/deliveries.
func (h *NotificationHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	records, err := h.relay.Deliveries(r.Context(), chi.URLParam(r, "notificationId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewDeliveryList(records))
}
