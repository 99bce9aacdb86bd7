// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// SyncScope identifies which instance and task a unit of work belongs to.
// Set by the worker before executing a task and by the webhook handler
// before ingestion, so log lines can always be attributed.
type SyncScope struct {
	InstanceID string
	TaskID     string
	EntityKind string
}

type syncScopeKey struct{}

// WithScope adds SyncScope to context.
func WithScope(ctx context.Context, scope *SyncScope) context.Context {
	return context.WithValue(ctx, syncScopeKey{}, scope)
}

// GetScope returns SyncScope from context.
func GetScope(ctx context.Context) *SyncScope {
	if v, ok := ctx.Value(syncScopeKey{}).(*SyncScope); ok {
		return v
	}
	return nil
}

// GetInstanceID returns the instance ID from context or empty string.
func GetInstanceID(ctx context.Context) string {
	if s := GetScope(ctx); s != nil {
		return s.InstanceID
	}
	return ""
}
