package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBLogger implements audit logging to PostgreSQL database
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db: db,
	}

	// Ensure the sso_audit_events table exists
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure sso_audit_events table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the sso_audit_events table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS sso_audit_events (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		status VARCHAR(20) NOT NULL,
		reason VARCHAR(64),
		provider_key VARCHAR(64),
		tenant_id BIGINT,
		user_id BIGINT,
		identity_id BIGINT,
		policy VARCHAR(32),
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(100),
		message TEXT,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_sso_audit_events_timestamp ON sso_audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_sso_audit_events_type ON sso_audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_sso_audit_events_tenant ON sso_audit_events(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_sso_audit_events_user ON sso_audit_events(user_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	event.Sanitize()

	var metadata interface{}
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = data
	}

	query := `
		INSERT INTO sso_audit_events (
			id, timestamp, event_type, status, reason,
			provider_key, tenant_id, user_id, identity_id, policy,
			ip_address, user_agent, request_id, message, metadata
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)
	`

	_, err := l.db.ExecContext(ctx, query,
		event.ID, event.Timestamp, string(event.EventType), string(event.Status), event.Reason,
		event.ProviderKey, event.TenantID, event.UserID, event.IdentityID, event.Policy,
		event.IPAddress, event.UserAgent, event.RequestID, event.Message, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// SearchFilter represents filters for searching audit events
type SearchFilter struct {
	StartTime   *time.Time
	EndTime     *time.Time
	EventTypes  []EventType
	Status      *EventStatus
	ProviderKey string
	TenantID    *int64
	UserID      *int64
	Limit       int
}

// Search returns events matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	query := `
		SELECT
			id, timestamp, event_type, status, reason,
			provider_key, tenant_id, user_id, identity_id, policy,
			ip_address, user_agent, request_id, message, metadata
		FROM sso_audit_events
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if len(filter.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		eventTypeStrs := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			eventTypeStrs[i] = string(et)
		}
		args = append(args, pq.Array(eventTypeStrs))
		argCount++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(*filter.Status))
		argCount++
	}

	if filter.ProviderKey != "" {
		query += fmt.Sprintf(" AND provider_key = $%d", argCount)
		args = append(args, filter.ProviderKey)
		argCount++
	}

	if filter.TenantID != nil {
		query += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, *filter.TenantID)
		argCount++
	}

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var (
			event                                    AuditEvent
			eventType, status                        string
			reason, providerKey, policy              sql.NullString
			ipAddress, userAgent, requestID, message sql.NullString
			tenantID, userID, identityID             sql.NullInt64
			metadataJSON                             []byte
		)

		if err := rows.Scan(
			&event.ID, &event.Timestamp, &eventType, &status, &reason,
			&providerKey, &tenantID, &userID, &identityID, &policy,
			&ipAddress, &userAgent, &requestID, &message, &metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		event.EventType = EventType(eventType)
		event.Status = EventStatus(status)
		event.Reason = reason.String
		event.ProviderKey = providerKey.String
		event.Policy = policy.String
		event.IPAddress = ipAddress.String
		event.UserAgent = userAgent.String
		event.RequestID = requestID.String
		event.Message = message.String
		if tenantID.Valid {
			event.TenantID = &tenantID.Int64
		}
		if userID.Valid {
			event.UserID = &userID.Int64
		}
		if identityID.Valid {
			event.IdentityID = &identityID.Int64
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		events = append(events, &event)
	}

	return events, rows.Err()
}

// Close closes the database logger
func (l *DBLogger) Close() error {
	// We don't close the database connection as it may be shared
	return nil
}
