package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC7807 error body, served as application/problem+json.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProblemTypeBase prefixes every problem type URI.
const ProblemTypeBase = "https://crossnotify.dev/problems/"

// Problem type URIs.
const (
	ProblemTypeValidation      = ProblemTypeBase + "validation-error"
	ProblemTypeUnauthorized    = ProblemTypeBase + "unauthorized"
	ProblemTypeTLSRequired     = ProblemTypeBase + "tls-required"
	ProblemTypeNotFound        = ProblemTypeBase + "not-found"
	ProblemTypeConflict        = ProblemTypeBase + "conflict"
	ProblemTypeNotRegistered   = ProblemTypeBase + "device-not-registered"
	ProblemTypeUnsupportedType = ProblemTypeBase + "unsupported-media-type"
	ProblemTypeTooManyRequests = ProblemTypeBase + "too-many-requests"
	ProblemTypeInternal        = ProblemTypeBase + "internal-error"
	ProblemTypeStoreFailure    = ProblemTypeBase + "store-failure"
	ProblemTypeUnavailable     = ProblemTypeBase + "service-unavailable"
)

type problemKind struct {
	title  string
	status int
}

var problemKinds = map[string]problemKind{
	ProblemTypeValidation:      {"Validation error", http.StatusBadRequest},
	ProblemTypeUnauthorized:    {"Unauthorized", http.StatusUnauthorized},
	ProblemTypeTLSRequired:     {"TLS required", http.StatusForbidden},
	ProblemTypeNotFound:        {"Not found", http.StatusNotFound},
	ProblemTypeConflict:        {"Conflict", http.StatusConflict},
	ProblemTypeNotRegistered:   {"Device not registered", http.StatusConflict},
	ProblemTypeUnsupportedType: {"Unsupported media type", http.StatusUnsupportedMediaType},
	ProblemTypeTooManyRequests: {"Too many requests", http.StatusTooManyRequests},
	ProblemTypeInternal:        {"Internal server error", http.StatusInternalServerError},
	ProblemTypeStoreFailure:    {"Shared store operation failed", http.StatusBadGateway},
	ProblemTypeUnavailable:     {"Service unavailable", http.StatusServiceUnavailable},
}

// Known creates a Problem of one of the registered types. Unregistered
// types are reported as internal errors.
func Known(problemType, traceID, detail string) *Problem {
	kind, ok := problemKinds[problemType]
	if !ok {
		problemType, kind = ProblemTypeInternal, problemKinds[ProblemTypeInternal]
	}
	return &Problem{
		Type:    problemType,
		Title:   kind.title,
		Status:  kind.status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// Write sends the Problem, echoing its trace id as X-Request-Id.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Request-Id", p.TraceID)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewBadRequest creates a 400 problem carrying the rejected fields.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := Known(ProblemTypeValidation, traceID, detail)
	p.Errors = errors
	return p
}

func NewUnauthorized(traceID, detail string) *Problem {
	return Known(ProblemTypeUnauthorized, traceID, detail)
}

// NewTLSRequired creates a 403 problem for plain HTTP behind a TLS proxy.
func NewTLSRequired(traceID string) *Problem {
	return Known(ProblemTypeTLSRequired, traceID, "This endpoint requires HTTPS")
}

func NewNotFound(traceID, detail string) *Problem {
	return Known(ProblemTypeNotFound, traceID, detail)
}

func NewConflict(traceID, detail string) *Problem {
	return Known(ProblemTypeConflict, traceID, detail)
}

// NewNotRegistered creates a 409 problem for operations that need a
// registered local device.
func NewNotRegistered(traceID string) *Problem {
	return Known(ProblemTypeNotRegistered, traceID,
		"register this device before sending or acknowledging notifications")
}

func NewUnsupportedMediaType(traceID string) *Problem {
	return Known(ProblemTypeUnsupportedType, traceID, "Content-Type must be application/json")
}

// NewStoreFailure creates a 502 problem for a failed shared store call.
func NewStoreFailure(traceID, detail string) *Problem {
	return Known(ProblemTypeStoreFailure, traceID, detail)
}

func NewTooManyRequests(traceID, detail string) *Problem {
	return Known(ProblemTypeTooManyRequests, traceID, detail)
}

func NewInternalError(traceID, detail string) *Problem {
	return Known(ProblemTypeInternal, traceID, detail)
}

func NewServiceUnavailable(traceID, detail string) *Problem {
	return Known(ProblemTypeUnavailable, traceID, detail)
}
