package auth

import (
	"context"
	"time"
)

// SessionRecord is one row of the portal sign-in audit trail.
type SessionRecord struct {
	ID        string     `json:"id"`
	UserID    int64      `json:"user_id"`
	Email     string     `json:"email"`
	OpenedAt  time.Time  `json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
}

// Auditor records sign-in and sign-out events. Implementations are expected
// to be asynchronous; failures never block the user.
type Auditor interface {
	SessionOpened(ctx context.Context, rec SessionRecord) error
	SessionClosed(ctx context.Context, id string, at time.Time) error
}

type nopAuditor struct{}

func (nopAuditor) SessionOpened(context.Context, SessionRecord) error     { return nil }
func (nopAuditor) SessionClosed(context.Context, string, time.Time) error { return nil }
