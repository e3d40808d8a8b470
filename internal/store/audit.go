package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/raaihank/pii-anonymizer/internal/errs"
)

// Operation kinds recorded in the audit log.
const (
	OperationAnonymize      = "anonymize"
	OperationBatchAnonymize = "batch_anonymize"
)

// OperationRecord is an append-only audit entry. It carries counts and
// entity type names only.
type OperationRecord struct {
	ID                 int64     `json:"id"`
	Timestamp          time.Time `json:"timestamp"`
	Operation          string    `json:"operation"`
	EntityTypes        []string  `json:"entity_types"`
	InputLength        int64     `json:"input_length"`
	EntitiesDetected   int       `json:"entities_detected"`
	EntitiesAnonymized int       `json:"entities_anonymized"`
	SynthesisFailures  int       `json:"synthesis_failures"`
	DurationMs         int64     `json:"duration_ms"`
}

type auditRow struct {
	ID                 int64  `db:"id"`
	Timestamp          int64  `db:"timestamp"`
	Operation          string `db:"operation"`
	EntityTypes        string `db:"entity_types"`
	InputLength        int64  `db:"input_length"`
	EntitiesDetected   int    `db:"entities_detected"`
	EntitiesAnonymized int    `db:"entities_anonymized"`
	SynthesisFailures  int    `db:"synthesis_failures"`
	DurationMs         int64  `db:"duration_ms"`
}

// AuditFilter controls which records Query returns.
type AuditFilter struct {
	Since     *time.Time
	Until     *time.Time
	Operation string
	Limit     int
}

// AuditLog stores OperationRecords.
type AuditLog struct {
	db *DB
}

// NewAuditLog creates an AuditLog backed by db.
func NewAuditLog(db *DB) *AuditLog {
	return &AuditLog{db: db}
}

// Log appends rec. A zero Timestamp is set to now.
func (a *AuditLog) Log(ctx context.Context, rec OperationRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.EntityTypes == nil {
		rec.EntityTypes = []string{}
	}
	types, err := json.Marshal(rec.EntityTypes)
	if err != nil {
		return fmt.Errorf("marshalling entity types: %w", err)
	}

	_, err = a.db.ExecContext(ctx, a.db.Rebind(`
		INSERT INTO audit_log (
			timestamp, operation, entity_types, input_length,
			entities_detected, entities_anonymized, synthesis_failures, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.Timestamp.UTC().UnixNano(),
		rec.Operation,
		string(types),
		rec.InputLength,
		rec.EntitiesDetected,
		rec.EntitiesAnonymized,
		rec.SynthesisFailures,
		rec.DurationMs,
	)
	if err != nil {
		return errs.Storage("audit.log", err)
	}
	return nil
}

// Query returns records matching filter, newest first. Limit defaults to 100.
func (a *AuditLog) Query(ctx context.Context, filter AuditFilter) ([]OperationRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().UnixNano())
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until.UTC().UnixNano())
	}
	if filter.Operation != "" {
		clauses = append(clauses, "operation = ?")
		args = append(args, filter.Operation)
	}

	query := `SELECT id, timestamp, operation, entity_types, input_length,
		entities_detected, entities_anonymized, synthesis_failures, duration_ms
		FROM audit_log`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var rows []auditRow
	if err := a.db.SelectContext(ctx, &rows, a.db.Rebind(query), args...); err != nil {
		return nil, errs.Storage("audit.query", err)
	}

	out := make([]OperationRecord, 0, len(rows))
	for _, r := range rows {
		var types []string
		if err := json.Unmarshal([]byte(r.EntityTypes), &types); err != nil {
			return nil, fmt.Errorf("unmarshalling entity types: %w", err)
		}
		out = append(out, OperationRecord{
			ID:                 r.ID,
			Timestamp:          fromNanos(r.Timestamp),
			Operation:          r.Operation,
			EntityTypes:        types,
			InputLength:        r.InputLength,
			EntitiesDetected:   r.EntitiesDetected,
			EntitiesAnonymized: r.EntitiesAnonymized,
			SynthesisFailures:  r.SynthesisFailures,
			DurationMs:         r.DurationMs,
		})
	}
	return out, nil
}
