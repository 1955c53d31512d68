package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/crossnotify/crossnotify/internal/api/models"
	"github.com/crossnotify/crossnotify/internal/api/response"
	"github.com/crossnotify/crossnotify/internal/intelligence"
	"github.com/crossnotify/crossnotify/internal/notification"
	"github.com/crossnotify/crossnotify/internal/relay"
	"github.com/crossnotify/crossnotify/internal/routing"
	"github.com/crossnotify/crossnotify/internal/store"
)

// decode reads a JSON body into v and validates it. It writes the 400
// response itself and reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, v models.Validator) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return false
	}
	if errs := v.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "validation error", errs)
		return false
	}
	return true
}

// writeError maps a domain error onto a problem response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var opErr *relay.OpError
	switch {
	case errors.Is(err, relay.ErrNotRegistered):
		response.NotRegistered(w, r)
	case errors.Is(err, relay.ErrDeviceNotFound):
		response.NotFound(w, r, "device not found")
	case errors.Is(err, intelligence.ErrNotFound):
		response.NotFound(w, r, "notification not found")
	case errors.Is(err, relay.ErrNotificationExpired):
		response.Conflict(w, r, "notification has expired")
	case errors.Is(err, notification.ErrInvalidTransition):
		response.Conflict(w, r, err.Error())
	case errors.Is(err, notification.ErrInvalidDraft),
		errors.Is(err, routing.ErrInvalidMode):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, store.ErrUnavailable):
		response.ServiceUnavailable(w, r, "shared store is unavailable")
	case errors.As(err, &opErr):
		zerolog.Ctx(r.Context()).Warn().Err(err).Stringer("kind", opErr.Kind).Msg("shared store operation failed")
		response.StoreFailure(w, r, opErr.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}
