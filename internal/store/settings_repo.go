package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/raaihank/pii-anonymizer/internal/errs"
	"github.com/raaihank/pii-anonymizer/internal/settings"
	"github.com/raaihank/pii-anonymizer/internal/strategy"
)

// SettingsRepository implements settings.Repository on the configuration
// tables.
type SettingsRepository struct {
	db *DB
}

var _ settings.Repository = (*SettingsRepository)(nil)

// NewSettingsRepository creates a SettingsRepository backed by db.
func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

type configRow struct {
	Version             int64   `db:"version"`
	ConfidenceThreshold float64 `db:"confidence_threshold"`
	Language            string  `db:"language"`
	Locale              string  `db:"locale"`
	UpdatedAt           int64   `db:"updated_at"`
}

type entityRow struct {
	EntityType string `db:"entity_type"`
	Enabled    bool   `db:"enabled"`
	Strategy   string `db:"strategy"`
	Params     string `db:"strategy_params"`
}

// LoadSettings returns the stored snapshot, or nil when none exists.
func (r *SettingsRepository) LoadSettings(ctx context.Context) (*settings.Settings, error) {
	const op = "settings.load"

	var cfg configRow
	err := r.db.GetContext(ctx, &cfg, `SELECT version, confidence_threshold, language, locale, updated_at
		FROM anonymizer_config WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage(op, err)
	}

	var rows []entityRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT entity_type, enabled, strategy, strategy_params
		FROM entity_type_config ORDER BY entity_type`); err != nil {
		return nil, errs.Storage(op, err)
	}

	s := &settings.Settings{
		Version:             cfg.Version,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Language:            cfg.Language,
		Locale:              cfg.Locale,
		UpdatedAt:           fromNanos(cfg.UpdatedAt),
		EntityTypes:         make(map[string]settings.EntityConfig, len(rows)),
	}
	for _, row := range rows {
		var params strategy.Params
		if row.Params != "" && row.Params != "{}" {
			if err := json.Unmarshal([]byte(row.Params), &params); err != nil {
				return nil, fmt.Errorf("decoding %s strategy params: %w", row.EntityType, err)
			}
		}
		s.EntityTypes[row.EntityType] = settings.EntityConfig{
			EntityType: row.EntityType,
			Enabled:    row.Enabled,
			Strategy:   strategy.Strategy(row.Strategy),
			Params:     params,
		}
	}
	return s, nil
}

// SaveSettings replaces the stored snapshot atomically.
func (r *SettingsRepository) SaveSettings(ctx context.Context, s *settings.Settings) error {
	const op = "settings.save"

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.Storage(op, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO anonymizer_config (id, version, confidence_threshold, language, locale, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			version = excluded.version,
			confidence_threshold = excluded.confidence_threshold,
			language = excluded.language,
			locale = excluded.locale,
			updated_at = excluded.updated_at`),
		s.Version, s.ConfidenceThreshold, s.Language, s.Locale, s.UpdatedAt.UTC().UnixNano())
	if err != nil {
		return errs.Storage(op, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_type_config`); err != nil {
		return errs.Storage(op, err)
	}

	insert := r.db.Rebind(`INSERT INTO entity_type_config (entity_type, enabled, strategy, strategy_params)
		VALUES (?, ?, ?, ?)`)
	for _, ec := range s.Entities() {
		params := []byte("{}")
		if len(ec.Params) > 0 {
			params, err = json.Marshal(ec.Params)
			if err != nil {
				return fmt.Errorf("encoding %s strategy params: %w", ec.EntityType, err)
			}
		}
		if _, err := tx.ExecContext(ctx, insert, ec.EntityType, ec.Enabled, string(ec.Strategy), string(params)); err != nil {
			return errs.Storage(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Storage(op, err)
	}
	return nil
}
