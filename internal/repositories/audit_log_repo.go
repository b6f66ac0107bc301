package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/BradenHooton/vocalid/internal/database"
	"github.com/BradenHooton/vocalid/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const auditLogColumns = `id, timestamp, user_id, session_id, event_type, event_description, severity,
	ip_address, user_agent, request_path, request_method, response_status, additional_data`

// rowScanner is satisfied by pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// AuditLogRepository is the durable audit sink
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

// scanAuditLogRow populates an AuditLogEntry from a database row
func scanAuditLogRow(row rowScanner) (*models.AuditLogEntry, error) {
	var e models.AuditLogEntry

	err := row.Scan(
		&e.ID, &e.Timestamp, &e.UserID, &e.SessionID, &e.EventType, &e.EventDescription, &e.Severity,
		&e.IPAddress, &e.UserAgent, &e.RequestPath, &e.RequestMethod, &e.ResponseStatus, &e.AdditionalData,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

// scanAuditLogRows iterates through rows and scans each entry
func scanAuditLogRows(rows pgx.Rows) ([]models.AuditLogEntry, error) {
	defer rows.Close()

	logs := make([]models.AuditLogEntry, 0)

	for rows.Next() {
		e, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}

// Create stores an entry. Re-delivering the same id is a no-op.
func (r *AuditLogRepository) Create(ctx context.Context, e *models.AuditLogEntry) error {
	query := `
		INSERT INTO audit_logs (` + auditLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.Timestamp, e.UserID, e.SessionID, e.EventType, e.EventDescription, e.Severity,
		e.IPAddress, e.UserAgent, e.RequestPath, e.RequestMethod, e.ResponseStatus, e.AdditionalData,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", database.MapPostgresError(err))
	}

	return nil
}

// Emit implements background.AuditSink
func (r *AuditLogRepository) Emit(ctx context.Context, e *models.AuditLogEntry) error {
	return r.Create(ctx, e)
}

// List returns stored entries matching filter, newest first. Zero filter
// fields match everything; a non-positive Limit returns every match.
func (r *AuditLogRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLogEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.EventType != "" {
		add("event_type = $%d", filter.EventType)
	}
	if filter.Severity != "" {
		add("severity = $%d", string(filter.Severity))
	}
	if filter.StartDate != nil {
		add("timestamp >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("timestamp <= $%d", *filter.EndDate)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + auditLogColumns + ` FROM audit_logs`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY timestamp DESC, id")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditLogRows(rows)
}

// Cleanup removes audit logs older than the specified number of days
func (r *AuditLogRepository) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	query := `
		DELETE FROM audit_logs
		WHERE timestamp < CURRENT_TIMESTAMP - INTERVAL '1 day' * $1
	`

	result, err := r.pool.Exec(ctx, query, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	return result.RowsAffected(), nil
}
