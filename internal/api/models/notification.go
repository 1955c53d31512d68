package models

import (
	"time"

	"github.com/crossnotify/crossnotify/internal/notification"
)

// SendNotificationRequest relays a notification to the user's devices.
type SendNotificationRequest struct {
	Category notification.Category  `json:"category"`
	Priority *notification.Priority `json:"priority,omitempty"`

	Title    string  `json:"title"`
	Body     string  `json:"body"`
	Subtitle *string `json:"subtitle,omitempty"`

	Sound    *string              `json:"sound,omitempty"`
	Haptic   *notification.Haptic `json:"haptic,omitempty"`
	Badge    *int                 `json:"badge,omitempty"`
	ThreadID *string              `json:"threadId,omitempty"`
	DeepLink *string              `json:"deepLink,omitempty"`

	UserInfo *notification.UserInfo `json:"userInfo,omitempty"`

	// TargetDeviceIDs restricts delivery. Omit to broadcast.
	TargetDeviceIDs []string `json:"targetDeviceIds,omitempty"`

	TTLSeconds             int     `json:"ttlSeconds,omitempty"`
	RequiresAcknowledgment bool    `json:"requiresAcknowledgment,omitempty"`
	ActionIdentifier       *string `json:"actionIdentifier,omitempty"`
}

// Validate validates the request.
func (r *SendNotificationRequest) Validate() []FieldError {
	var errs []FieldError
	if !r.Category.Valid() {
		errs = append(errs, invalid("category", "unknown category"))
	}
	if r.Title == "" {
		errs = append(errs, required("title"))
	}
	if r.TTLSeconds < 0 {
		errs = append(errs, invalid("ttlSeconds", "must not be negative"))
	}
	if r.UserInfo != nil {
		if err := r.UserInfo.Validate(); err != nil {
			errs = append(errs, invalid("userInfo", err.Error()))
		}
	}
	return errs
}

// Draft converts the request.
func (r *SendNotificationRequest) Draft() notification.Draft {
	return notification.Draft{
		Category:               r.Category,
		Priority:               r.Priority,
		Title:                  r.Title,
		Body:                   r.Body,
		Subtitle:               r.Subtitle,
		Sound:                  r.Sound,
		Haptic:                 r.Haptic,
		Badge:                  r.Badge,
		ThreadID:               r.ThreadID,
		DeepLink:               r.DeepLink,
		UserInfo:               r.UserInfo,
		TargetDeviceIDs:        r.TargetDeviceIDs,
		TTL:                    time.Duration(r.TTLSeconds) * time.Second,
		RequiresAcknowledgment: r.RequiresAcknowledgment,
		ActionIdentifier:       r.ActionIdentifier,
	}
}

// Notification is a relayed payload.
type Notification struct {
	ID                     string                 `json:"id"`
	Category               notification.Category  `json:"category"`
	Priority               notification.Priority  `json:"priority"`
	Title                  string                 `json:"title"`
	Body                   string                 `json:"body"`
	Subtitle               *string                `json:"subtitle,omitempty"`
	Sound                  *string                `json:"sound,omitempty"`
	Haptic                 *notification.Haptic   `json:"haptic,omitempty"`
	Badge                  *int                   `json:"badge,omitempty"`
	ThreadID               *string                `json:"threadId,omitempty"`
	DeepLink               *string                `json:"deepLink,omitempty"`
	UserInfo               *notification.UserInfo `json:"userInfo,omitempty"`
	SourceDeviceID         string                 `json:"sourceDeviceId"`
	TargetDeviceIDs        []string               `json:"targetDeviceIds,omitempty"`
	CreatedAt              Timestamp              `json:"createdAt"`
	ExpiresAt              Timestamp              `json:"expiresAt"`
	RequiresAcknowledgment bool                   `json:"requiresAcknowledgment"`
	ActionIdentifier       *string                `json:"actionIdentifier,omitempty"`
}

// NewNotification converts a payload.
func NewNotification(p *notification.Payload) Notification {
	return Notification{
		ID:                     p.ID,
		Category:               p.Category,
		Priority:               p.Priority,
		Title:                  p.Title,
		Body:                   p.Body,
		Subtitle:               p.Subtitle,
		Sound:                  p.Sound,
		Haptic:                 p.Haptic,
		Badge:                  p.Badge,
		ThreadID:               p.ThreadID,
		DeepLink:               p.DeepLink,
		UserInfo:               p.UserInfo,
		SourceDeviceID:         p.SourceDeviceID,
		TargetDeviceIDs:        p.TargetDeviceIDs,
		CreatedAt:              Timestamp(p.CreatedAt),
		ExpiresAt:              Timestamp(p.ExpiresAt),
		RequiresAcknowledgment: p.RequiresAcknowledgment,
		ActionIdentifier:       p.ActionIdentifier,
	}
}

// Wrapper request bodies for POST /v1/notifications/{kind}.

type TaskCompletionRequest struct {
	TaskID          string   `json:"taskId"`
	TaskName        string   `json:"taskName"`
	Success         bool     `json:"success"`
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`
}

func (r *TaskCompletionRequest) Validate() []FieldError {
	var errs []FieldError
	if r.TaskID == "" {
		errs = append(errs, required("taskId"))
	}
	if r.TaskName == "" {
		errs = append(errs, required("taskName"))
	}
	return errs
}

type ApprovalRequest struct {
	Title   string   `json:"title"`
	Details string   `json:"details"`
	Options []string `json:"options,omitempty"`
}

func (r *ApprovalRequest) Validate() []FieldError {
	if r.Title == "" {
		return []FieldError{required("title")}
	}
	return nil
}

type PasswordRequest struct {
	Prompt  string `json:"prompt"`
	Service string `json:"service,omitempty"`
}

func (r *PasswordRequest) Validate() []FieldError {
	if r.Prompt == "" {
		return []FieldError{required("prompt")}
	}
	return nil
}

type ErrorReportRequest struct {
	Title       string `json:"title"`
	Message     string `json:"message"`
	Code        string `json:"code,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

func (r *ErrorReportRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Title == "" {
		errs = append(errs, required("title"))
	}
	if r.Message == "" {
		errs = append(errs, required("message"))
	}
	return errs
}

type ReminderRequest struct {
	Title string     `json:"title"`
	Body  string     `json:"body"`
	DueAt *Timestamp `json:"dueAt,omitempty"`
}

func (r *ReminderRequest) Validate() []FieldError {
	if r.Title == "" {
		return []FieldError{required("title")}
	}
	return nil
}

type FileReadyRequest struct {
	FileName  string `json:"fileName"`
	Location  string `json:"location"`
	SizeBytes *int64 `json:"sizeBytes,omitempty"`
}

func (r *FileReadyRequest) Validate() []FieldError {
	var errs []FieldError
	if r.FileName == "" {
		errs = append(errs, required("fileName"))
	}
	if r.Location == "" {
		errs = append(errs, required("location"))
	}
	return errs
}

// AcknowledgeRequest records the user's response on this device.
type AcknowledgeRequest struct {
	Action string `json:"action"`
}

func (r *AcknowledgeRequest) Validate() []FieldError {
	if r.Action == "" {
		return []FieldError{required("action")}
	}
	return nil
}

// Delivery is the status of a notification on one device.
type Delivery struct {
	NotificationID string                      `json:"notificationId"`
	DeviceID       string                      `json:"deviceId"`
	Status         notification.DeliveryStatus `json:"status"`
	UpdatedAt      Timestamp                   `json:"updatedAt"`
	Reason         *string                     `json:"reason,omitempty"`
}

// DeliveryList lists the known delivery records of a notification.
type DeliveryList struct {
	Items []Delivery `json:"items"`
}

// NewDeliveryList converts delivery records.
func NewDeliveryList(records []*notification.DeliveryRecord) DeliveryList {
	out := DeliveryList{Items: make([]Delivery, 0, len(records))}
	for _, d := range records {
		out.Items = append(out.Items, Delivery{
			NotificationID: d.NotificationID,
			DeviceID:       d.DeviceID,
			Status:         d.Status,
			UpdatedAt:      Timestamp(d.UpdatedAt),
			Reason:         d.Reason,
		})
	}
	return out
}
