package notification

import (
	"encoding/json"
	"fmt"
	"time"
)

// UserInfoKind names the variant carried by a UserInfo.
type UserInfoKind string

// UserInfo variants.
const (
	KindTask       UserInfoKind = "task"
	KindApproval   UserInfoKind = "approval"
	KindCredential UserInfoKind = "credential"
	KindError      UserInfoKind = "error"
	KindReminder   UserInfoKind = "reminder"
	KindFile       UserInfoKind = "file"
	KindData       UserInfoKind = "data"
)

// TaskInfo accompanies task completion notifications.
type TaskInfo struct {
	TaskID          string   `json:"taskId"`
	TaskName        string   `json:"taskName"`
	Success         bool     `json:"success"`
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`
}

// ApprovalInfo accompanies approval requests.
type ApprovalInfo struct {
	RequestID string   `json:"requestId"`
	Details   string   `json:"details,omitempty"`
	Options   []string `json:"options,omitempty"`
}

// CredentialInfo accompanies password requests. It never carries a secret.
type CredentialInfo struct {
	RequestID string `json:"requestId"`
	Prompt    string `json:"prompt"`
	Service   string `json:"service,omitempty"`
}

// ErrorInfo accompanies error notifications.
type ErrorInfo struct {
	Code        string `json:"code,omitempty"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// ReminderInfo accompanies reminders.
type ReminderInfo struct {
	ReminderID string     `json:"reminderId"`
	DueAt      *time.Time `json:"dueAt,omitempty"`
}

// FileInfo accompanies file-ready notifications.
type FileInfo struct {
	FileName  string `json:"fileName"`
	Location  string `json:"location"`
	SizeBytes *int64 `json:"sizeBytes,omitempty"`
}

// DataInfo carries string values for silent data notifications.
type DataInfo struct {
	Values map[string]string `json:"values"`
}

// UserInfo is a closed union of the structured payloads a notification can
// carry. Exactly one variant is set and it matches Kind.
type UserInfo struct {
	Kind       UserInfoKind    `json:"kind"`
	Task       *TaskInfo       `json:"task,omitempty"`
	Approval   *ApprovalInfo   `json:"approval,omitempty"`
	Credential *CredentialInfo `json:"credential,omitempty"`
	Error      *ErrorInfo      `json:"error,omitempty"`
	Reminder   *ReminderInfo   `json:"reminder,omitempty"`
	File       *FileInfo       `json:"file,omitempty"`
	Data       *DataInfo       `json:"data,omitempty"`
}

// TaskUserInfo wraps a TaskInfo.
func TaskUserInfo(v TaskInfo) *UserInfo { return &UserInfo{Kind: KindTask, Task: &v} }

// ApprovalUserInfo wraps an ApprovalInfo.
func ApprovalUserInfo(v ApprovalInfo) *UserInfo { return &UserInfo{Kind: KindApproval, Approval: &v} }

// CredentialUserInfo wraps a CredentialInfo.
func CredentialUserInfo(v CredentialInfo) *UserInfo {
	return &UserInfo{Kind: KindCredential, Credential: &v}
}

// ErrorUserInfo wraps an ErrorInfo.
func ErrorUserInfo(v ErrorInfo) *UserInfo { return &UserInfo{Kind: KindError, Error: &v} }

// ReminderUserInfo wraps a ReminderInfo.
func ReminderUserInfo(v ReminderInfo) *UserInfo { return &UserInfo{Kind: KindReminder, Reminder: &v} }

// FileUserInfo wraps a FileInfo.
func FileUserInfo(v FileInfo) *UserInfo { return &UserInfo{Kind: KindFile, File: &v} }

// DataUserInfo wraps a DataInfo.
func DataUserInfo(v DataInfo) *UserInfo { return &UserInfo{Kind: KindData, Data: &v} }

// Validate checks that exactly the variant named by Kind is set.
func (u *UserInfo) Validate() error {
	set := map[UserInfoKind]bool{
		KindTask:       u.Task != nil,
		KindApproval:   u.Approval != nil,
		KindCredential: u.Credential != nil,
		KindError:      u.Error != nil,
		KindReminder:   u.Reminder != nil,
		KindFile:       u.File != nil,
		KindData:       u.Data != nil,
	}

	present, known := set[u.Kind]
	if !known {
		return fmt.Errorf("unknown user info kind %q", u.Kind)
	}
	if !present {
		return fmt.Errorf("user info kind %q has no %s body", u.Kind, u.Kind)
	}
	for kind, ok := range set {
		if ok && kind != u.Kind {
			return fmt.Errorf("user info kind %q also carries a %s body", u.Kind, kind)
		}
	}
	return nil
}

// UnmarshalJSON decodes and validates a user info union.
func (u *UserInfo) UnmarshalJSON(data []byte) error {
	type plain UserInfo
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	out := UserInfo(decoded)
	if err := out.Validate(); err != nil {
		return err
	}
	*u = out
	return nil
}
