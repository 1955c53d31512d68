package relay

import (
	"context"
	"time"

	"github.com/crossnotify/crossnotify/internal/notification"
)

// NotifyTaskCompletion tells the other devices that a task finished.
func (s *Service) NotifyTaskCompletion(ctx context.Context, taskID, taskName string, success bool, duration time.Duration) (*notification.Payload, error) {
	title := "Task completed"
	body := taskName + " finished successfully"
	if !success {
		title = "Task failed"
		body = taskName + " did not complete"
	}
	info := notification.TaskInfo{TaskID: taskID, TaskName: taskName, Success: success}
	if duration > 0 {
		secs := duration.Seconds()
		info.DurationSeconds = &secs
	}
	return s.Send(ctx, notification.Draft{
		Category: notification.CategoryTaskCompleted,
		Title:    title,
		Body:     body,
		ThreadID: ptr("tasks"),
		UserInfo: notification.TaskUserInfo(info),
	})
}

// RequestApproval asks another device to approve an action.
func (s *Service) RequestApproval(ctx context.Context, title, details string, options []string) (*notification.Payload, error) {
	return s.Send(ctx, notification.Draft{
		Category: notification.CategoryApprovalRequired,
		Title:    title,
		Body:     details,
		UserInfo: notification.ApprovalUserInfo(notification.ApprovalInfo{
			RequestID: s.newID(),
			Details:   details,
			Options:   options,
		}),
		RequiresAcknowledgment: true,
		ActionIdentifier:       ptr("approval"),
	})
}

// RequestPassword asks another device to supply a credential. The payload
// carries only the prompt.
func (s *Service) RequestPassword(ctx context.Context, prompt, service string) (*notification.Payload, error) {
	return s.Send(ctx, notification.Draft{
		Category: notification.CategoryPasswordRequired,
		Title:    "Password required",
		Body:     prompt,
		UserInfo: notification.CredentialUserInfo(notification.CredentialInfo{
			RequestID: s.newID(),
			Prompt:    prompt,
			Service:   service,
		}),
		RequiresAcknowledgment: true,
		ActionIdentifier:       ptr("credential"),
	})
}

// NotifyError reports an error to the other devices.
func (s *Service) NotifyError(ctx context.Context, title, message, code string, recoverable bool) (*notification.Payload, error) {
	return s.Send(ctx, notification.Draft{
		Category: notification.CategoryError,
		Title:    title,
		Body:     message,
		UserInfo: notification.ErrorUserInfo(notification.ErrorInfo{
			Code:        code,
			Message:     message,
			Recoverable: recoverable,
		}),
	})
}

// SendReminder sends a reminder, optionally with a due time.
func (s *Service) SendReminder(ctx context.Context, title, body string, dueAt *time.Time) (*notification.Payload, error) {
	return s.Send(ctx, notification.Draft{
		Category: notification.CategoryReminder,
		Title:    title,
		Body:     body,
		UserInfo: notification.ReminderUserInfo(notification.ReminderInfo{
			ReminderID: s.newID(),
			DueAt:      dueAt,
		}),
	})
}

// NotifyFileReady tells the other devices that a file can be picked up.
func (s *Service) NotifyFileReady(ctx context.Context, fileName, location string, sizeBytes *int64) (*notification.Payload, error) {
	return s.Send(ctx, notification.Draft{
		Category: notification.CategoryFileReady,
		Title:    "File ready",
		Body:     fileName,
		DeepLink: ptr(location),
		UserInfo: notification.FileUserInfo(notification.FileInfo{
			FileName:  fileName,
			Location:  location,
			SizeBytes: sizeBytes,
		}),
	})
}

func ptr[T any](v T) *T { return &v }
