// Package types defines the shared domain model for the hydration reminder
// service: water tasks, users, filters, and the application error taxonomy.
// It has no dependencies on other internal packages so that every layer
// (handlers, services, repositories) can share these definitions freely.
package types

import (
	"encoding/json"
	"time"
)

// CivilLayout is the fixed wire format for civil timestamps. Values are
// rendered in the service's single configured timezone with zero-padded
// fields, so lexicographic order equals chronological order. This is the
// one canonical formatting path; nothing else may hand-roll the layout.
const CivilLayout = "2006-01-02 15:04:05"

// CivilDateLayout is the wire format for date-only query parameters.
const CivilDateLayout = "2006-01-02"

// FormatCivil renders t in the canonical civil timestamp format.
// The caller is responsible for t already being in the service timezone.
func FormatCivil(t time.Time) string {
	return t.Format(CivilLayout)
}

// ParseCivil parses a canonical civil timestamp in the given location.
func ParseCivil(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(CivilLayout, s, loc)
}

// ParseCivilDate parses a YYYY-MM-DD date in the given location, returning
// midnight at the start of that day.
func ParseCivilDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(CivilDateLayout, s, loc)
}

// TaskStatus is the lifecycle state of a water task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskMissed    TaskStatus = "missed"
)

// WaterTask is one scheduled hydration checkpoint for one user.
// (OpenID, ScheduledAt) is a unique key: at most one task per user per slot.
//
// Invariants maintained by the lifecycle engine:
//   - CompletedAt is non-nil if and only if Status == TaskCompleted.
//   - Status only moves along pending->completed, completed->pending
//     (cancel), and pending->missed (sweep).
type WaterTask struct {
	ID          string
	OpenID      string
	ScheduledAt time.Time
	Status      TaskStatus
	WaterAmount int // milliliters
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// wireTask is the JSON representation of a WaterTask. Civil timestamps are
// serialized as fixed-format strings for compatibility with existing clients.
type wireTask struct {
	ID            string     `json:"id"`
	OpenID        string     `json:"openid"`
	ScheduledTime string     `json:"scheduledTime"`
	Status        TaskStatus `json:"status"`
	WaterAmount   int        `json:"waterAmount"`
	CompletedAt   *string    `json:"completedAt"`
	CreatedAt     string     `json:"createdAt"`
}

// MarshalJSON renders the task with civil-string timestamps.
func (t *WaterTask) MarshalJSON() ([]byte, error) {
	w := wireTask{
		ID:            t.ID,
		OpenID:        t.OpenID,
		ScheduledTime: FormatCivil(t.ScheduledAt),
		Status:        t.Status,
		WaterAmount:   t.WaterAmount,
		CreatedAt:     FormatCivil(t.CreatedAt),
	}
	if t.CompletedAt != nil {
		s := FormatCivil(*t.CompletedAt)
		w.CompletedAt = &s
	}
	return json.Marshal(w)
}

// TaskFilter selects tasks for List queries. Zero-valued fields are ignored.
// Slot bounds follow the store contract: GTE/LTE are inclusive, LT exclusive.
type TaskFilter struct {
	OpenID  string
	Status  TaskStatus
	SlotGTE time.Time
	SlotLT  time.Time
	SlotLTE time.Time
}

// DayStats is the aggregate returned by the today-status endpoint.
// Counts reflect stored status only; no relabeling is applied here.
type DayStats struct {
	TotalTasks     int `json:"totalTasks"`
	CompletedTasks int `json:"completedTasks"`
	MissedTasks    int `json:"missedTasks"`
	PendingTasks   int `json:"pendingTasks"`
	TotalWater     int `json:"totalWater"`
	CompletionRate int `json:"completionRate"`
}

// User is the account record read by the scheduler and written by the
// login/subscription endpoints. Tasks reference users by OpenID.
type User struct {
	OpenID       string
	Nickname     string
	Subscribed   bool
	LastReminded *time.Time
	CreatedAt    time.Time
}

// wireUser is the JSON representation of a User.
type wireUser struct {
	OpenID       string  `json:"openid"`
	Nickname     string  `json:"nickname"`
	Subscribed   bool    `json:"subscribed"`
	LastReminded *string `json:"lastReminded"`
	CreatedAt    string  `json:"createdAt"`
}

// MarshalJSON renders the user with civil-string timestamps.
func (u *User) MarshalJSON() ([]byte, error) {
	w := wireUser{
		OpenID:     u.OpenID,
		Nickname:   u.Nickname,
		Subscribed: u.Subscribed,
		CreatedAt:  FormatCivil(u.CreatedAt),
	}
	if u.LastReminded != nil {
		s := FormatCivil(*u.LastReminded)
		w.LastReminded = &s
	}
	return json.Marshal(w)
}
