package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lib/pq"
	"github.com/raaihank/pii-anonymizer/internal/errs"
	"github.com/raaihank/pii-anonymizer/internal/fingerprint"
	"go.uber.org/zap"
)

const (
	// DefaultSynthesisAttempts bounds collision retries per new mapping.
	DefaultSynthesisAttempts = 5
	// MaxListLimit caps a single page of List.
	MaxListLimit = 1000
	// MaxSubstituteLength caps administrative substitute edits.
	MaxSubstituteLength = 500
)

// Mapping is one persisted (fingerprint, entity type) -> substitute entry.
// The original value is never stored.
type Mapping struct {
	ID          int64     `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	EntityType  string    `json:"entity_type"`
	Substitute  string    `json:"substitute"`
	FirstSeen   time.Time `json:"first_seen"`
	LastUsed    time.Time `json:"last_used"`
	UsageCount  int64     `json:"usage_count"`
}

type mappingRow struct {
	ID          int64  `db:"id"`
	Fingerprint string `db:"fingerprint"`
	EntityType  string `db:"entity_type"`
	Substitute  string `db:"substitute"`
	FirstSeen   int64  `db:"first_seen"`
	LastUsed    int64  `db:"last_used"`
	UsageCount  int64  `db:"usage_count"`
}

func (r mappingRow) toMapping() Mapping {
	return Mapping{
		ID:          r.ID,
		Fingerprint: r.Fingerprint,
		EntityType:  r.EntityType,
		Substitute:  r.Substitute,
		FirstSeen:   fromNanos(r.FirstSeen),
		LastUsed:    fromNanos(r.LastUsed),
		UsageCount:  r.UsageCount,
	}
}

const mappingColumns = "id, fingerprint, entity_type, substitute, first_seen, last_used, usage_count"

// SynthesizeFunc produces the candidate substitute for a retry attempt.
// salt is the store-wide synthesis salt, rotated by DeleteAll.
type SynthesizeFunc func(ctx context.Context, salt string, attempt int) (string, error)

// Resolution is the outcome of FindOrCreate.
type Resolution struct {
	MappingID  int64
	Substitute string
	Created    bool
}

// ExportFilter selects mappings by last_used window and entity type.
type ExportFilter struct {
	Since      *time.Time
	Until      *time.Time
	EntityType string
}

// MappingStore is the consistent substitution store.
type MappingStore struct {
	db          *DB
	locks       keyedMutex
	maxAttempts int
	logger      *zap.Logger
}

// NewMappingStore creates a MappingStore. maxAttempts <= 0 selects
// DefaultSynthesisAttempts.
func NewMappingStore(db *DB, maxAttempts int, logger *zap.Logger) *MappingStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultSynthesisAttempts
	}
	return &MappingStore{db: db, maxAttempts: maxAttempts, logger: logger}
}

// FindOrCreate returns the substitute for key, creating it with synthesize
// when absent. Either way usage_count and last_used are updated in the same
// transaction. Concurrent calls for one key observe a single mapping.
func (s *MappingStore) FindOrCreate(ctx context.Context, key fingerprint.Key, entityType string, synthesize SynthesizeFunc) (Resolution, error) {
	const op = "mappings.find_or_create"

	unlock := s.locks.lock(key)
	defer unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Resolution{}, s.fail(ctx, op, err)
	}
	defer tx.Rollback()

	fp := key.String()
	now := nowNanos()

	touch := s.db.Rebind(`UPDATE pii_mappings SET usage_count = usage_count + 1, last_used = ?
		WHERE fingerprint = ? AND entity_type = ? RETURNING id, substitute`)

	var hit struct {
		ID         int64  `db:"id"`
		Substitute string `db:"substitute"`
	}
	err = tx.GetContext(ctx, &hit, touch, now, fp, entityType)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return Resolution{}, s.fail(ctx, op, err)
		}
		return Resolution{MappingID: hit.ID, Substitute: hit.Substitute}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return Resolution{}, s.fail(ctx, op, err)
	}

	var salt string
	if err := tx.GetContext(ctx, &salt, `SELECT synthesis_salt FROM store_state WHERE id = 1`); err != nil {
		return Resolution{}, s.fail(ctx, op, err)
	}

	insert := s.db.Rebind(`INSERT INTO pii_mappings (fingerprint, entity_type, substitute, first_seen, last_used, usage_count)
		VALUES (?, ?, ?, ?, ?, 1) ON CONFLICT DO NOTHING RETURNING id`)

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Resolution{}, fmt.Errorf("%s: %w", op, err)
		}

		candidate, err := synthesize(ctx, salt, attempt)
		if err != nil {
			return Resolution{}, err
		}

		var id int64
		err = tx.GetContext(ctx, &id, insert, fp, entityType, candidate, now, now)
		if err == nil {
			if err := tx.Commit(); err != nil {
				return Resolution{}, s.fail(ctx, op, err)
			}
			return Resolution{MappingID: id, Substitute: candidate, Created: true}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Resolution{}, s.fail(ctx, op, err)
		}

		// Conflict: either another writer created the key, or the candidate
		// is already some other value's substitute.
		err = tx.GetContext(ctx, &hit, touch, now, fp, entityType)
		if err == nil {
			if err := tx.Commit(); err != nil {
				return Resolution{}, s.fail(ctx, op, err)
			}
			return Resolution{MappingID: hit.ID, Substitute: hit.Substitute}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Resolution{}, s.fail(ctx, op, err)
		}

		s.logger.Debug("Substitute collision, retrying synthesis",
			zap.String("entity_type", entityType),
			zap.Int("attempt", attempt+1))
	}

	return Resolution{}, errs.New(errs.KindSynthesisExhausted, op,
		"could not synthesize a unique %s substitute after %d attempts", entityType, s.maxAttempts)
}

// Lookup returns the mapping for key without touching its counters.
func (s *MappingStore) Lookup(ctx context.Context, key fingerprint.Key, entityType string) (*Mapping, error) {
	const op = "mappings.lookup"

	var row mappingRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT `+mappingColumns+` FROM pii_mappings WHERE fingerprint = ? AND entity_type = ?`), key.String(), entityType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(op, "no %s mapping for this value", entityType)
	}
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	m := row.toMapping()
	return &m, nil
}

// Get returns the mapping with the given id.
func (s *MappingStore) Get(ctx context.Context, id int64) (*Mapping, error) {
	const op = "mappings.get"

	var row mappingRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+mappingColumns+` FROM pii_mappings WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(op, "mapping %d not found", id)
	}
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	m := row.toMapping()
	return &m, nil
}

// List returns one page of mappings, newest first, with the total count.
func (s *MappingStore) List(ctx context.Context, limit, offset int) ([]Mapping, int64, error) {
	const op = "mappings.list"

	if limit < 1 || limit > MaxListLimit {
		return nil, 0, errs.Validation(op, "limit must be between 1 and %d", MaxListLimit)
	}
	if offset < 0 {
		return nil, 0, errs.Validation(op, "offset must not be negative")
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM pii_mappings`); err != nil {
		return nil, 0, s.fail(ctx, op, err)
	}

	var rows []mappingRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT `+mappingColumns+` FROM pii_mappings ORDER BY first_seen DESC, id DESC LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, 0, s.fail(ctx, op, err)
	}
	return toMappings(rows), total, nil
}

// Export returns every mapping matching filter, most recently used first.
func (s *MappingStore) Export(ctx context.Context, filter ExportFilter) ([]Mapping, error) {
	const op = "mappings.export"

	var (
		clauses []string
		args    []any
	)
	if filter.Since != nil {
		clauses = append(clauses, "last_used >= ?")
		args = append(args, filter.Since.UTC().UnixNano())
	}
	if filter.Until != nil {
		clauses = append(clauses, "last_used <= ?")
		args = append(args, filter.Until.UTC().UnixNano())
	}
	if filter.EntityType != "" {
		clauses = append(clauses, "entity_type = ?")
		args = append(args, filter.EntityType)
	}

	query := `SELECT ` + mappingColumns + ` FROM pii_mappings`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY last_used DESC, id DESC"

	var rows []mappingRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	return toMappings(rows), nil
}

// UpdateSubstitute replaces a mapping's substitute. The new value must stay
// unique within the entity type.
func (s *MappingStore) UpdateSubstitute(ctx context.Context, id int64, substitute string) (*Mapping, error) {
	const op = "mappings.update_substitute"

	if n := utf8.RuneCountInString(substitute); n < 1 || n > MaxSubstituteLength {
		return nil, errs.Validation(op, "substitute must be between 1 and %d characters", MaxSubstituteLength)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	defer tx.Rollback()

	var row mappingRow
	err = tx.GetContext(ctx, &row, s.db.Rebind(`SELECT `+mappingColumns+` FROM pii_mappings WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound(op, "mapping %d not found", id)
	}
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	var taken int
	err = tx.GetContext(ctx, &taken, s.db.Rebind(
		`SELECT COUNT(*) FROM pii_mappings WHERE entity_type = ? AND substitute = ? AND id <> ?`), row.EntityType, substitute, id)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	if taken > 0 {
		return nil, errs.New(errs.KindConflict, op, "substitute already used by another %s mapping", row.EntityType)
	}

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE pii_mappings SET substitute = ? WHERE id = ?`), substitute, id); err != nil {
		if isUniqueViolation(err) {
			return nil, errs.New(errs.KindConflict, op, "substitute already used by another %s mapping", row.EntityType)
		}
		return nil, s.fail(ctx, op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.fail(ctx, op, err)
	}

	row.Substitute = substitute
	m := row.toMapping()
	s.logger.Info("Mapping substitute updated", zap.Int64("mapping_id", id), zap.String("entity_type", row.EntityType))
	return &m, nil
}

// Delete removes one mapping. The original value gets a fresh mapping the
// next time it is seen.
func (s *MappingStore) Delete(ctx context.Context, id int64) error {
	const op = "mappings.delete"

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM pii_mappings WHERE id = ?`), id)
	if err != nil {
		return s.fail(ctx, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail(ctx, op, err)
	}
	if n == 0 {
		return errs.NotFound(op, "mapping %d not found", id)
	}
	s.logger.Info("Mapping deleted", zap.Int64("mapping_id", id))
	return nil
}

// DeleteAll removes every mapping and rotates the synthesis salt, so values
// seen again afterwards get substitutes unrelated to the old ones.
func (s *MappingStore) DeleteAll(ctx context.Context) (int64, error) {
	const op = "mappings.delete_all"

	salt, err := newSalt()
	if err != nil {
		return 0, errs.Wrap(errs.KindInternal, op, err, "failed to rotate synthesis salt")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, s.fail(ctx, op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM pii_mappings`)
	if err != nil {
		return 0, s.fail(ctx, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail(ctx, op, err)
	}

	if _, err := tx.ExecContext(ctx, s.db.Rebind(
		`UPDATE store_state SET synthesis_salt = ?, generation = generation + 1 WHERE id = 1`), salt); err != nil {
		return 0, s.fail(ctx, op, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, s.fail(ctx, op, err)
	}

	s.logger.Warn("All mappings deleted", zap.Int64("deleted", n))
	return n, nil
}

// Count returns the number of mappings.
func (s *MappingStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pii_mappings`); err != nil {
		return 0, s.fail(ctx, "mappings.count", err)
	}
	return n, nil
}

// fail classifies a database error. Cancellation keeps its context error so
// callers can tell an aborted call from a broken database.
func (s *MappingStore) fail(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	s.logger.Error("Mapping store operation failed", zap.String("op", op), zap.Error(err))
	return errs.Storage(op, err)
}

func toMappings(rows []mappingRow) []Mapping {
	out := make([]Mapping, len(rows))
	for i, r := range rows {
		out[i] = r.toMapping()
	}
	return out
}

// isUniqueViolation recognizes unique constraint errors from both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
