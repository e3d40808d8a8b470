package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/raaihank/pii-anonymizer/internal/errs"
)

// MaxTopSubstitutes caps EntityStats.TopSubstitutes.
const MaxTopSubstitutes = 100

// TypeStats aggregates the mappings of one entity type.
type TypeStats struct {
	EntityType   string `json:"entity_type" db:"entity_type"`
	MappingCount int64  `json:"unique_values" db:"mapping_count"`
	TotalUsage   int64  `json:"total_substitutions" db:"total_usage"`
}

// Stats summarizes the mapping table.
type Stats struct {
	TotalMappings int64       `json:"total_mappings"`
	TotalUsage    int64       `json:"total_substitutions"`
	EntityTypes   []TypeStats `json:"by_entity_type"`
	OldestMapping *time.Time  `json:"oldest_mapping"`
	NewestMapping *time.Time  `json:"newest_mapping"`
}

// SubstituteUsage is one entry of a per-type usage ranking.
type SubstituteUsage struct {
	Substitute string    `json:"substitute"`
	UsageCount int64     `json:"count"`
	FirstSeen  time.Time `json:"first_seen"`
}

// EntityStats is the detail view of one entity type.
type EntityStats struct {
	TypeStats
	FirstSeen      time.Time         `json:"first_seen"`
	LastUsed       time.Time         `json:"last_used"`
	TopSubstitutes []SubstituteUsage `json:"substitutes"`
}

// Stats returns aggregate mapping statistics. Both queries share one
// read-only transaction so the totals agree with the per-type rows.
func (s *MappingStore) Stats(ctx context.Context) (*Stats, error) {
	const op = "mappings.stats"

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	defer tx.Rollback()

	var totals struct {
		Count  int64         `db:"total_mappings"`
		Usage  int64         `db:"total_usage"`
		Oldest sql.NullInt64 `db:"oldest"`
		Newest sql.NullInt64 `db:"newest"`
	}
	err = tx.GetContext(ctx, &totals, `SELECT COUNT(*) AS total_mappings,
		COALESCE(SUM(usage_count), 0) AS total_usage,
		MIN(first_seen) AS oldest,
		MAX(first_seen) AS newest
		FROM pii_mappings`)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}

	types := []TypeStats{}
	err = tx.SelectContext(ctx, &types, `SELECT entity_type,
		COUNT(*) AS mapping_count,
		COALESCE(SUM(usage_count), 0) AS total_usage
		FROM pii_mappings GROUP BY entity_type ORDER BY entity_type`)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.fail(ctx, op, err)
	}

	st := &Stats{TotalMappings: totals.Count, TotalUsage: totals.Usage, EntityTypes: types}
	if totals.Oldest.Valid {
		t := fromNanos(totals.Oldest.Int64)
		st.OldestMapping = &t
	}
	if totals.Newest.Valid {
		t := fromNanos(totals.Newest.Int64)
		st.NewestMapping = &t
	}
	return st, nil
}

// EntityStats returns the statistics of one entity type with its top
// substitutes by usage. top is clamped to [1, MaxTopSubstitutes].
func (s *MappingStore) EntityStats(ctx context.Context, entityType string, top int) (*EntityStats, error) {
	const op = "mappings.entity_stats"

	if top <= 0 || top > MaxTopSubstitutes {
		top = MaxTopSubstitutes
	}

	var agg struct {
		Count     int64         `db:"mapping_count"`
		Usage     int64         `db:"total_usage"`
		FirstSeen sql.NullInt64 `db:"first_seen"`
		LastUsed  sql.NullInt64 `db:"last_used"`
	}
	err := s.db.GetContext(ctx, &agg, s.db.Rebind(`SELECT COUNT(*) AS mapping_count,
		COALESCE(SUM(usage_count), 0) AS total_usage,
		MIN(first_seen) AS first_seen,
		MAX(last_used) AS last_used
		FROM pii_mappings WHERE entity_type = ?`), entityType)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	if agg.Count == 0 {
		return nil, errs.NotFound(op, "no mappings for entity type %s", entityType)
	}

	var rows []struct {
		Substitute string `db:"substitute"`
		UsageCount int64  `db:"usage_count"`
		FirstSeen  int64  `db:"first_seen"`
	}
	err = s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT substitute, usage_count, first_seen
		FROM pii_mappings WHERE entity_type = ?
		ORDER BY usage_count DESC, id ASC LIMIT ?`), entityType, top)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	ranking := make([]SubstituteUsage, len(rows))
	for i, r := range rows {
		ranking[i] = SubstituteUsage{Substitute: r.Substitute, UsageCount: r.UsageCount, FirstSeen: fromNanos(r.FirstSeen)}
	}

	return &EntityStats{
		TypeStats:      TypeStats{EntityType: entityType, MappingCount: agg.Count, TotalUsage: agg.Usage},
		FirstSeen:      fromNanos(agg.FirstSeen.Int64),
		LastUsed:       fromNanos(agg.LastUsed.Int64),
		TopSubstitutes: ranking,
	}, nil
}
