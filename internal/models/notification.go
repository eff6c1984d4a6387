package models

import "time"

type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationInfo, NotificationSuccess, NotificationWarning, NotificationError:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Status string

const (
	StatusRead   Status = "read"
	StatusUnread Status = "unread"
)

func (s Status) Valid() bool {
	return s == StatusRead || s == StatusUnread
}

// Notification is an alert pushed to a user over the realtime transport
// or fetched in bulk from the notifications resource.
type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Priority  Priority         `json:"priority"`
	Status    Status           `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
	ActionURL string           `json:"actionUrl,omitempty"`
}

// Unread reports whether the user has not seen the notification yet.
func (n Notification) Unread() bool {
	return n.Status == StatusUnread
}
