package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crossnotify/crossnotify/internal/api/models"
	"github.com/crossnotify/crossnotify/internal/api/response"
	"github.com/crossnotify/crossnotify/internal/intelligence"
)

// IntelligenceHandler handles notification classification endpoints.
type IntelligenceHandler struct {
	intelligence *intelligence.Service
}

// NewIntelligenceHandler creates a new IntelligenceHandler.
func NewIntelligenceHandler(svc *intelligence.Service) *IntelligenceHandler {
	return &IntelligenceHandler{intelligence: svc}
}

// Classify handles POST /v1/intelligence/classify - classify an observed
// notification, keep it in history and run the auto-action gate.
func (h *IntelligenceHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var input models.ObserveRequest
	if !decode(w, r, &input) {
		return
	}
	classified := h.intelligence.Observe(r.Context(), input.ObservedNotification)
	response.JSON(w, r, http.StatusOK, classified)
}

// Clear handles POST /v1/intelligence/clear.
func (h *IntelligenceHandler) Clear(w http.ResponseWriter, r *http.Request) {
	var input models.ClearRequest
	if !decode(w, r, &input) {
		return
	}
	by := intelligence.ClearedByUser
	if input.ClearedBy != nil {
		by = *input.ClearedBy
	}

	classified, err := h.intelligence.ClearByID(r.Context(), input.NotificationID, by)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, classified)
}

// FetchClearances handles POST /v1/intelligence/clearances:fetch.
func (h *IntelligenceHandler) FetchClearances(w http.ResponseWriter, r *http.Request) {
	applied, err := h.intelligence.FetchSyncedClearances(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.ClearancesFetched{Applied: applied})
}

// ListHistory handles GET /v1/intelligence/history.
func (h *IntelligenceHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.ClassifiedList{Items: h.intelligence.History()})
}

// GetAppSettings handles GET /v1/intelligence/apps/{appId}.
func (h *IntelligenceHandler) GetAppSettings(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.intelligence.SettingsForApp(chi.URLParam(r, "appId")))
}

// PutAppSettings handles PUT /v1/intelligence/apps/{appId}.
func (h *IntelligenceHandler) PutAppSettings(w http.ResponseWriter, r *http.Request) {
	var input models.AppSettingsRequest
	if !decode(w, r, &input) {
		return
	}
	settings := input.Settings(chi.URLParam(r, "appId"))
	h.intelligence.SetAppSettings(settings)
	response.JSON(w, r, http.StatusOK, h.intelligence.SettingsForApp(settings.AppIdentifier))
}
