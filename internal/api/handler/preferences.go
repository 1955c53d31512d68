package handler

import (
	"net/http"
	"time"

	"github.com/crossnotify/crossnotify/internal/api/models"
	"github.com/crossnotify/crossnotify/internal/api/response"
	"github.com/crossnotify/crossnotify/internal/notification"
	"github.com/crossnotify/crossnotify/internal/preferences"
	"github.com/crossnotify/crossnotify/internal/relay"
)

// PreferencesHandler handles the notification preference endpoints.
type PreferencesHandler struct {
	engine *preferences.Engine
	relay  *relay.Service
	now    func() time.Time
}

// NewPreferencesHandler creates a new PreferencesHandler. The relay is
// used to default evaluations to this device.
func NewPreferencesHandler(engine *preferences.Engine, relayService *relay.Service) *PreferencesHandler {
	return &PreferencesHandler{
		engine: engine,
		relay:  relayService,
		now:    time.Now,
	}
}

// GetPreferences handles GET /v1/preferences.
func (h *PreferencesHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.engine.Snapshot())
}

// PutPreferences handles PUT /v1/preferences - replace the whole snapshot.
// The saved snapshot is synced to the user's other devices.
func (h *PreferencesHandler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	var input models.PreferencesUpdate
	if !decode(w, r, &input) {
		return
	}

	saved, err := h.engine.Update(r.Context(), func(p *preferences.PreferenceSet) {
		*p = *input.PreferenceSet.Clone()
		if p.EnabledCategories == nil {
			p.EnabledCategories = map[notification.Category]bool{}
		}
		if p.PriorityOverrides == nil {
			p.PriorityOverrides = map[notification.Category]notification.Priority{}
		}
		if p.SoundOverrides == nil {
			p.SoundOverrides = map[notification.Category]string{}
		}
		if p.HapticOverrides == nil {
			p.HapticOverrides = map[notification.Category]notification.Haptic{}
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, saved)
}

// Evaluate handles POST /v1/preferences:evaluate - would a notification of
// this category be shown right now?
func (h *PreferencesHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var input models.EvaluateRequest
	if !decode(w, r, &input) {
		return
	}

	deviceID := input.DeviceID
	if deviceID == "" {
		if self, ok := h.relay.CurrentDevice(); ok {
			deviceID = self.ID
		}
	}

	priority := h.engine.EffectivePriority(input.Category)
	if input.Priority != nil {
		priority = *input.Priority
	}

	response.JSON(w, r, http.StatusOK, models.Evaluation{
		Deliver:      h.engine.ShouldDeliver(input.Category, priority, deviceID),
		InQuietHours: h.engine.InQuietHours(h.now()),
		Priority:     priority,
		Sound:        h.engine.EffectiveSound(input.Category),
		Haptic:       h.engine.EffectiveHaptic(input.Category),
	})
}
