package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBLogger implements audit logging to the control-plane PostgreSQL
// database.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return logger, nil
}

// ensureTable creates the audit_events table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		principal_id VARCHAR(100),
		tenant_id VARCHAR(100),
		ip_address VARCHAR(45),
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		message TEXT,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_tenant_id ON audit_events(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_principal_id ON audit_events(principal_id);
	`
	_, err := l.db.Exec(query)
	return err
}

// Log writes an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (
			timestamp, event_type, status, principal_id, tenant_id,
			ip_address, request_id, method, path, message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	return l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status),
		nullable(event.PrincipalID), nullable(event.TenantID),
		nullable(event.IPAddress), nullable(event.RequestID),
		nullable(event.Method), nullable(event.Path),
		nullable(event.Message), metadataJSON,
	).Scan(&event.ID)
}

// Close is a no-op; the control-plane pool is owned by the caller.
func (l *DBLogger) Close() error { return nil }

// ListEvents returns recent events for a tenant, newest first.
func (l *DBLogger) ListEvents(ctx context.Context, tenantID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, timestamp, event_type, status,
		       COALESCE(principal_id, ''), COALESCE(tenant_id, ''),
		       COALESCE(ip_address, ''), COALESCE(request_id, ''),
		       COALESCE(method, ''), COALESCE(path, ''), COALESCE(message, ''),
		       metadata
		FROM audit_events
		WHERE tenant_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := l.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var metadataJSON []byte
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.EventType, &e.Status,
			&e.PrincipalID, &e.TenantID, &e.IPAddress, &e.RequestID,
			&e.Method, &e.Path, &e.Message, &metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
