package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/aquamarinepk/relaybus/message"
)

// PostgresSink persists every dispatched message as a row in audit_log.
// It opens its own connection via lib/pq rather than sharing the bus's
// pgx pool, since an audit sink commonly lives in a different process
// than the bus it observes.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens a lib/pq connection to dsn. Callers are
// responsible for running migrations that create audit_log beforehand
// (see migrate.Migrator).
func NewPostgresSink(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open audit sink connection: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// Record inserts one audit_log row per dispatched message.
func (s *PostgresSink) Record(ctx context.Context, msg message.Message) error {
	headersJSON, err := json.Marshal(msg.Headers())
	if err != nil {
		return fmt.Errorf("cannot marshal headers: %w", err)
	}

	query := `
		INSERT INTO audit_log (id, topic, msg_type, priority, source, correlation_id, payload_len, headers, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		msg.ID(),
		msg.Topic(),
		msg.Type().String(),
		int(msg.Priority()),
		msg.Source(),
		msg.CorrelationID(),
		msg.Payload().Len(),
		headersJSON,
		msg.Timestamp(),
	)
	if err != nil {
		return fmt.Errorf("cannot insert audit record: %w", err)
	}
	return nil
}

// List retrieves the most recent audit rows, for diagnostics.
func (s *PostgresSink) List(ctx context.Context, limit int) ([]AuditRecord, error) {
	query := `
		SELECT id, topic, msg_type, priority, source, correlation_id, payload_len, created_at
		FROM audit_log
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("cannot query audit records: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.Topic, &r.Type, &r.Priority, &r.Source, &r.CorrelationID, &r.PayloadLen, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("cannot scan audit record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// AuditRecord is a row read back from audit_log.
type AuditRecord struct {
	ID            string
	Topic         string
	Type          string
	Priority      int
	Source        string
	CorrelationID string
	PayloadLen    int
	CreatedAt     time.Time
}
