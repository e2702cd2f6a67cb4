// Package audit records security-relevant events: failed logins, rate
// limited attempts, tenant access denials, permission denials. Events
// are append-only and queried by operators, not by request handlers.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// Record fills in the timestamp and writes the event. Audit failures
// must never fail the guarded request, so write errors divert the
// event to the process log instead of propagating; callers that need
// the error use Log directly.
func Record(ctx context.Context, logger Logger, event *Event) {
	if logger == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := logger.Log(ctx, event); err != nil {
		if payload, jerr := event.ToJSON(); jerr == nil {
			slog.Error("audit write failed", "error", err, "event", string(payload))
		} else {
			slog.Error("audit write failed", "error", err, "event_type", string(event.EventType))
		}
	}
}

// NopLogger discards every event.
type NopLogger struct{}

func (NopLogger) Log(context.Context, *Event) error { return nil }
func (NopLogger) Close() error                      { return nil }

// MemoryLogger keeps events in memory. For tests and dev servers.
type MemoryLogger struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemoryLogger creates an in-memory audit logger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (l *MemoryLogger) Log(_ context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	event.ID = int64(len(l.events) + 1)
	l.events = append(l.events, event)
	return nil
}

func (l *MemoryLogger) Close() error { return nil }

// Events returns a snapshot of recorded events.
func (l *MemoryLogger) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Event, len(l.events))
	copy(out, l.events)
	return out
}
