package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossnotify/crossnotify/internal/api"
	"github.com/crossnotify/crossnotify/internal/api/models"
	"github.com/crossnotify/crossnotify/internal/auth"
	"github.com/crossnotify/crossnotify/internal/device"
	"github.com/crossnotify/crossnotify/internal/intelligence"
	"github.com/crossnotify/crossnotify/internal/preferences"
	"github.com/crossnotify/crossnotify/internal/presentation"
	"github.com/crossnotify/crossnotify/internal/push"
	"github.com/crossnotify/crossnotify/internal/relay"
	"github.com/crossnotify/crossnotify/internal/routing"
	"github.com/crossnotify/crossnotify/internal/store"
)

type testEnv struct {
	handler   http.Handler
	presenter *presentation.MemoryPresenter
	token     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	bus := push.NewBus(logger)
	s := store.NewMemoryStore(store.MemoryStoreConfig{Publisher: bus, Logger: logger})
	local := preferences.NewMemoryLocalStore()

	registry := device.NewRegistry(device.RegistryConfig{
		Identity:   device.Identity{Name: "Work Laptop", DeviceType: device.TypeLaptop, Platform: device.PlatformWebPush},
		Repository: device.NewStoreRepository(s),
		IDStore:    local,
		NewID:      func() string { return "dev-laptop" },
		Logger:     logger,
	})
	prefs := preferences.NewEngine(preferences.EngineConfig{Local: local, Logger: logger})
	presenter := presentation.NewMemoryPresenter()

	relayService := relay.NewService(relay.ServiceConfig{
		Store:     s,
		Registry:  registry,
		Gate:      prefs,
		Presenter: presenter,
		Listener:  bus,
		Logger:    logger,
	})
	router := routing.NewService(routing.ServiceConfig{
		Store:     s,
		Identity:  relayService,
		Presenter: presenter,
		Gate:      prefs,
		Logger:    logger,
	})
	classifier := intelligence.NewService(intelligence.ServiceConfig{
		Store:       s,
		Presenter:   presenter,
		Identity:    relayService,
		SyncEnabled: true,
		Logger:      logger,
	})
	authService := auth.NewService(auth.ServiceConfig{
		JWTService: auth.NewJWTService(auth.JWTConfig{
			SigningKey: "test-secret-key-for-testing-only",
			Issuer:     "crossnotify",
			Audience:   "crossnotify-local",
		}),
		Devices: registry,
	})

	return &testEnv{
		handler: api.NewRouter(api.RouterConfig{
			Version:        "test",
			BuildTime:      "2026-01-01T00:00:00Z",
			Logger:         zerolog.New(io.Discard),
			AllowedOrigins: []string{"http://localhost:*"},
			AuthService:    authService,
			Relay:          relayService,
			Router:         router,
			Intelligence:   classifier,
			Preferences:    prefs,
		}),
		presenter: presenter,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// register registers the device and keeps its access token.
func (e *testEnv) register(t *testing.T) models.DeviceRegisterResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/devices", map[string]string{"pushToken": "https://push.example/sub/abcd1234"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp models.DeviceRegisterResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	e.token = resp.AccessToken
	return resp
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/ops/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var health models.Health
	decodeJSON(t, rec, &health)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestReadinessFollowsRegistration(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/ops/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.register(t)

	rec = env.do(t, http.MethodGet, "/v1/ops/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ready models.Readiness
	decodeJSON(t, rec, &ready)
	assert.Equal(t, models.HealthStatusOK, ready.Status)
	require.NotNil(t, ready.DeviceID)
	assert.Equal(t, "dev-laptop", *ready.DeviceID)
}

func TestSecurityHeadersApplied(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/ops/health", nil)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		origin     string
		wantOrigin string
	}{
		{name: "local ui", origin: "http://localhost:5173", wantOrigin: "http://localhost:5173"},
		{name: "foreign site", origin: "https://evil.example", wantOrigin: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/v1/notifications", http.NoBody)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRegisterDevice(t *testing.T) {
	env := newTestEnv(t)

	resp := env.register(t)
	assert.Equal(t, "dev-laptop", resp.Device.ID)
	assert.Equal(t, "Work Laptop", resp.Device.Name)
	assert.True(t, resp.Device.IsCurrent)
	assert.True(t, resp.Device.IsActive)
	require.NotNil(t, resp.Device.TokenLast4)
	assert.Equal(t, "1234", *resp.Device.TokenLast4)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Positive(t, resp.ExpiresIn)

	// Registering again keeps the same device.
	again := env.register(t)
	assert.Equal(t, resp.Device.ID, again.Device.ID)
}

func TestRegisterDevice_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
		ct   string
		want int
	}{
		{"missing token", `{}`, "application/json", http.StatusBadRequest},
		{"malformed json", `{"pushToken":`, "application/json", http.StatusBadRequest},
		{"unknown field", `{"pushToken":"x","platform":"APNS"}`, "application/json", http.StatusBadRequest},
		{"wrong media type", `pushToken=x`, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/devices", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", tt.ct)
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/devices"},
		{http.MethodGet, "/v1/devices/current"},
		{http.MethodDelete, "/v1/devices/current"},
		{http.MethodPost, "/v1/notifications"},
		{http.MethodPost, "/v1/notifications/approval"},
		{http.MethodPost, "/v1/notifications/n-1/ack"},
		{http.MethodGet, "/v1/notifications/n-1/deliveries"},
		{http.MethodGet, "/v1/routing/mode"},
		{http.MethodPut, "/v1/routing/mode"},
		{http.MethodPost, "/v1/routing/notifications:urgent"},
		{http.MethodPost, "/v1/intelligence/classify"},
		{http.MethodPost, "/v1/intelligence/clearances:fetch"},
		{http.MethodGet, "/v1/intelligence/apps/com.whatsapp"},
		{http.MethodGet, "/v1/preferences"},
		{http.MethodPost, "/v1/preferences:evaluate"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := env.do(t, rt.method, rt.path, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestDevices(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	rec := env.do(t, http.MethodGet, "/v1/devices?refresh=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list models.DeviceList
	decodeJSON(t, rec, &list)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "dev-laptop", list.Items[0].ID)

	rec = env.do(t, http.MethodGet, "/v1/devices/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var current models.Device
	decodeJSON(t, rec, &current)
	assert.Equal(t, "laptop", current.DeviceType)
	assert.True(t, current.IsCurrent)

	rec = env.do(t, http.MethodDelete, "/v1/devices/current", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// The token belongs to a device that is no longer active.
	rec = env.do(t, http.MethodGet, "/v1/devices/current", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendNotification(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	rec := env.do(t, http.MethodPost, "/v1/notifications", map[string]interface{}{
		"category": "taskCompleted",
		"title":    "Build finished",
		"body":     "All 212 tests passed",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sent models.Notification
	decodeJSON(t, rec, &sent)
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, "dev-laptop", sent.SourceDeviceID)
	assert.Equal(t, "Build finished", sent.Title)
	assert.Equal(t, "/v1/notifications/"+sent.ID+"/deliveries", rec.Header().Get("Location"))

	rec = env.do(t, http.MethodGet, "/v1/notifications/"+sent.ID+"/deliveries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deliveries models.DeliveryList
	decodeJSON(t, rec, &deliveries)
	assert.NotNil(t, deliveries.Items)

	rec = env.do(t, http.MethodPost, "/v1/notifications/"+sent.ID+"/ack", map[string]string{"action": "open"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSendNotification_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	rec := env.do(t, http.MethodPost, "/v1/notifications", map[string]interface{}{
		"category": "gossip",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var problem models.Problem
	decodeJSON(t, rec, &problem)
	fields := make([]string, 0, len(problem.Errors))
	for _, e := range problem.Errors {
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"category", "title"}, fields)
}

func TestSendKind(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	tests := []struct {
		kind string
		body map[string]interface{}
		want int
	}{
		{"task-completion", map[string]interface{}{"taskId": "t-1", "taskName": "backup", "success": true, "durationSeconds": 42.5}, http.StatusCreated},
		{"approval", map[string]interface{}{"title": "Deploy to prod?", "details": "v2.3.0", "options": []string{"approve", "deny"}}, http.StatusCreated},
		{"password", map[string]interface{}{"prompt": "Unlock keychain", "service": "ssh"}, http.StatusCreated},
		{"error", map[string]interface{}{"title": "Sync failed", "message": "disk full", "recoverable": true}, http.StatusCreated},
		{"reminder", map[string]interface{}{"title": "Standup", "dueAt": "2026-10-19T09:00:00Z"}, http.StatusCreated},
		{"file-ready", map[string]interface{}{"fileName": "report.pdf", "location": "/tmp/report.pdf", "sizeBytes": 2048}, http.StatusCreated},
		{"approval", map[string]interface{}{"details": "no title"}, http.StatusBadRequest},
		{"carrier-pigeon", map[string]interface{}{"title": "x"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/notifications/"+tt.kind, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHardUnregisterRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	rec := env.do(t, http.MethodDelete, "/v1/devices/current?hard=true", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/notifications", map[string]interface{}{
		"category": "system",
		"title":    "hello",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoutingMode(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	rec := env.do(t, http.MethodGet, "/v1/routing/mode", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mode models.RoutingMode
	decodeJSON(t, rec, &mode)
	assert.Equal(t, "activeDevice", mode.Mode)
	require.NotNil(t, mode.PresenceTimeoutSeconds)
	assert.Equal(t, 300, *mode.PresenceTimeoutSeconds)

	rec = env.do(t, http.MethodPut, "/v1/routing/mode", map[string]interface{}{
		"mode":                   "allDevices",
		"presenceTimeoutSeconds": 60,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &mode)
	assert.Equal(t, "allDevices", mode.Mode)
	assert.Equal(t, 60, *mode.PresenceTimeoutSeconds)

	rec = env.do(t, http.MethodPut, "/v1/routing/mode", map[string]string{"mode": "loudest"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouteNotification_FallsBackToSelf(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	rec := env.do(t, http.MethodPost, "/v1/routing/notifications:urgent", map[string]interface{}{
		"title":    "Server down",
		"body":     "api-1 is not responding",
		"category": "error",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var result models.RouteResult
	decodeJSON(t, rec, &result)
	assert.Equal(t, []string{"dev-laptop"}, result.Targets)

	shown := env.presenter.Shown()
	require.Len(t, shown, 1)
	assert.Equal(t, "Server down", shown[0].Title)
	assert.True(t, shown[0].Critical)

	rec = env.do(t, http.MethodPost, "/v1/routing/notifications:data", map[string]interface{}{
		"values": map[string]string{"clipboard": "hello"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/routing/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var online models.OnlineDeviceList
	decodeJSON(t, rec, &online)
	assert.NotNil(t, online.Items)
}

func TestIntelligence(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	rec := env.do(t, http.MethodPost, "/v1/intelligence/classify", map[string]interface{}{
		"id":            "wa-1",
		"appIdentifier": "com.whatsapp",
		"title":         "Mom",
		"body":          "Call me when you can",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var classified intelligence.ClassifiedNotification
	decodeJSON(t, rec, &classified)
	assert.Equal(t, intelligence.CategoryMessaging, classified.Category)

	rec = env.do(t, http.MethodPost, "/v1/intelligence/clear", map[string]string{"notificationId": "wa-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeJSON(t, rec, &classified)
	assert.True(t, classified.IsCleared)
	require.NotNil(t, classified.ClearedBy)
	assert.Equal(t, intelligence.ClearedByUser, *classified.ClearedBy)

	rec = env.do(t, http.MethodPost, "/v1/intelligence/clear", map[string]string{"notificationId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/intelligence/clear", map[string]string{"notificationId": "wa-1", "clearedBy": "remote"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Our own clearance is not applied again.
	rec = env.do(t, http.MethodPost, "/v1/intelligence/clearances:fetch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched models.ClearancesFetched
	decodeJSON(t, rec, &fetched)
	assert.Equal(t, 0, fetched.Applied)

	rec = env.do(t, http.MethodGet, "/v1/intelligence/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history models.ClassifiedList
	decodeJSON(t, rec, &history)
	assert.Len(t, history.Items, 1)
}

func TestIntelligenceAppSettings(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	rec := env.do(t, http.MethodPut, "/v1/intelligence/apps/com.slack", map[string]interface{}{
		"autoActions": false,
		"urgency":     "high",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/intelligence/apps/com.slack", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var settings map[string]interface{}
	decodeJSON(t, rec, &settings)
	assert.Equal(t, "com.slack", settings["appIdentifier"])
	assert.Equal(t, false, settings["autoActions"])
	assert.Equal(t, "high", settings["urgency"])

	rec = env.do(t, http.MethodPut, "/v1/intelligence/apps/com.slack", map[string]string{"urgency": "meh"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreferences(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	rec := env.do(t, http.MethodGet, "/v1/preferences", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var prefs preferences.PreferenceSet
	decodeJSON(t, rec, &prefs)
	assert.True(t, prefs.GlobalEnabled)

	prefs.EnabledCategories["reminder"] = false
	rec = env.do(t, http.MethodPut, "/v1/preferences", prefs)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var saved preferences.PreferenceSet
	decodeJSON(t, rec, &saved)
	assert.False(t, saved.EnabledCategories["reminder"])
	assert.False(t, saved.LastModified.IsZero())

	tests := []struct {
		name     string
		category string
		deliver  bool
	}{
		{"disabled category", "reminder", false},
		{"enabled category", "approvalRequired", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/preferences:evaluate", map[string]string{"category": tt.category})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var eval models.Evaluation
			decodeJSON(t, rec, &eval)
			assert.Equal(t, tt.deliver, eval.Deliver)
		})
	}

	prefs.EnabledCategories["gossip"] = true
	rec = env.do(t, http.MethodPut, "/v1/preferences", prefs)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
