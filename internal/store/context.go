package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type contextKey int

const (
	ctxKeyUserID contextKey = iota
	ctxKeyAgentID
)

// WithUserID attaches the acting external user ID to ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// UserIDFromContext returns the user ID attached by WithUserID, or "" if none.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

// ValidateUserID rejects empty user IDs; callers use it to guard endpoints
// that require an authenticated caller identity.
func ValidateUserID(userID string) error {
	if userID == "" {
		return errors.New("store: user ID is required")
	}
	return nil
}

// WithAgentID attaches the acting agent's UUID to ctx.
func WithAgentID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyAgentID, id)
}

// AgentIDFromContext returns the agent UUID attached by WithAgentID, or the
// zero UUID if none.
func AgentIDFromContext(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(ctxKeyAgentID).(uuid.UUID)
	return v
}
