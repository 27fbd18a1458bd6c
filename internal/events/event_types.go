package events

import (
	"time"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventLoginSucceeded     EventType = "login_succeeded"
	EventLoginFailed        EventType = "login_failed"
	EventAccountLocked      EventType = "account_locked"
	EventAccountUnlocked    EventType = "account_unlocked"
	EventTokenRefreshed     EventType = "token_refreshed"
	EventIdentityRegistered EventType = "identity_registered"
)

// AllEventTypes lists every security event type.
var AllEventTypes = []EventType{
	EventLoginSucceeded,
	EventLoginFailed,
	EventAccountLocked,
	EventAccountUnlocked,
	EventTokenRefreshed,
	EventIdentityRegistered,
}

// Event represents a security event emitted by the auth service.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Username  string      `json:"username"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// LoginFailedPayload payload.
type LoginFailedPayload struct {
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts,omitempty"`
}

// AccountLockedPayload payload.
type AccountLockedPayload struct {
	Until time.Time `json:"until"`
}

// IdentityRegisteredPayload payload.
type IdentityRegisteredPayload struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}
