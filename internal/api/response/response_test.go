package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossnotify/crossnotify/internal/api/middleware"
	"github.com/crossnotify/crossnotify/internal/api/models"
	"github.com/crossnotify/crossnotify/internal/api/response"
)

// serve runs write behind the RequestID middleware with the given client id.
func serve(t *testing.T, method, path, clientID string, write http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, http.NoBody)
	if clientID != "" {
		req.Header.Set(middleware.RequestIDHeader, clientID)
	}
	rec := httptest.NewRecorder()
	middleware.RequestID(write).ServeHTTP(rec, req)
	return rec
}

func TestJSON(t *testing.T) {
	rec := serve(t, http.MethodGet, "/v1/routing/mode", "req-json", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"mode": "activeDevice"})
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req-json", rec.Header().Get("X-Request-Id"))
	assert.JSONEq(t, `{"mode":"activeDevice"}`, rec.Body.String())
}

func TestJSON_GeneratesRequestID(t *testing.T) {
	rec := serve(t, http.MethodGet, "/v1/devices", "", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, nil)
	})

	assert.Regexp(t, `^req_[0-9a-f]{32}$`, rec.Header().Get("X-Request-Id"))
	assert.Empty(t, rec.Body.String())
}

func TestJSON_NoRequestIDOutsideMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/devices", http.NoBody)
	rec := httptest.NewRecorder()

	response.JSON(rec, req, http.StatusOK, []string{})

	assert.Empty(t, rec.Header().Get("X-Request-Id"))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCreated(t *testing.T) {
	rec := serve(t, http.MethodPost, "/v1/notifications", "req-created", func(w http.ResponseWriter, r *http.Request) {
		response.Created(w, r, "/v1/notifications/n-1/deliveries", map[string]string{"id": "n-1"})
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/v1/notifications/n-1/deliveries", rec.Header().Get("Location"))
	assert.Equal(t, "req-created", rec.Header().Get("X-Request-Id"))
}

func TestNoContent(t *testing.T) {
	rec := serve(t, http.MethodPost, "/v1/notifications/n-1/ack", "req-ack", response.NoContent)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "req-ack", rec.Header().Get("X-Request-Id"))
	assert.Empty(t, rec.Body.String())
}

func TestProblemWriters(t *testing.T) {
	tests := []struct {
		name       string
		write      http.HandlerFunc
		wantStatus int
		wantType   string
	}{
		{"bad request", func(w http.ResponseWriter, r *http.Request) {
			response.BadRequest(w, r, "invalid notification", []models.FieldError{{Field: "title", Message: "is required"}})
		}, http.StatusBadRequest, models.ProblemTypeValidation},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			response.Unauthorized(w, r, "missing bearer token")
		}, http.StatusUnauthorized, models.ProblemTypeUnauthorized},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			response.NotFound(w, r, "notification not found")
		}, http.StatusNotFound, models.ProblemTypeNotFound},
		{"conflict", func(w http.ResponseWriter, r *http.Request) {
			response.Conflict(w, r, "already acknowledged")
		}, http.StatusConflict, models.ProblemTypeConflict},
		{"not registered", response.NotRegistered, http.StatusConflict, models.ProblemTypeNotRegistered},
		{"unsupported media type", response.UnsupportedMediaType, http.StatusUnsupportedMediaType, models.ProblemTypeUnsupportedType},
		{"too many requests", func(w http.ResponseWriter, r *http.Request) {
			response.TooManyRequests(w, r, "slow down")
		}, http.StatusTooManyRequests, models.ProblemTypeTooManyRequests},
		{"internal", func(w http.ResponseWriter, r *http.Request) {
			response.InternalError(w, r, "unexpected")
		}, http.StatusInternalServerError, models.ProblemTypeInternal},
		{"store failure", func(w http.ResponseWriter, r *http.Request) {
			response.StoreFailure(w, r, "send failed")
		}, http.StatusBadGateway, models.ProblemTypeStoreFailure},
		{"unavailable", func(w http.ResponseWriter, r *http.Request) {
			response.ServiceUnavailable(w, r, "store down")
		}, http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, http.MethodPost, "/v1/notifications", "req-problem", tt.write)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			assert.Equal(t, "req-problem", rec.Header().Get("X-Request-Id"))
			assert.Empty(t, rec.Header().Get("Retry-After"))

			var problem models.Problem
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
			assert.Equal(t, tt.wantType, problem.Type)
			assert.Equal(t, tt.wantStatus, problem.Status)
			assert.Equal(t, "/v1/notifications", problem.Instance)
			assert.Equal(t, "req-problem", problem.TraceID)
		})
	}
}
