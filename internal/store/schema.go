package store

import "strings"

// schema is shared by both dialects; {{serial}} expands to the dialect's
// auto-increment primary key.
const schema = `
CREATE TABLE IF NOT EXISTS pii_mappings (
    id {{serial}},
    fingerprint TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    substitute TEXT NOT NULL,
    first_seen BIGINT NOT NULL,
    last_used BIGINT NOT NULL,
    usage_count BIGINT NOT NULL DEFAULT 1,
    UNIQUE (fingerprint, entity_type),
    UNIQUE (entity_type, substitute)
);
CREATE INDEX IF NOT EXISTS idx_pii_mappings_entity_type ON pii_mappings (entity_type);
CREATE INDEX IF NOT EXISTS idx_pii_mappings_last_used ON pii_mappings (last_used);
CREATE INDEX IF NOT EXISTS idx_pii_mappings_first_seen ON pii_mappings (first_seen);

CREATE TABLE IF NOT EXISTS anonymizer_config (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    version BIGINT NOT NULL,
    confidence_threshold DOUBLE PRECISION NOT NULL,
    language TEXT NOT NULL,
    locale TEXT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_type_config (
    entity_type TEXT PRIMARY KEY,
    enabled BOOLEAN NOT NULL,
    strategy TEXT NOT NULL,
    strategy_params TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS audit_log (
    id {{serial}},
    timestamp BIGINT NOT NULL,
    operation TEXT NOT NULL,
    entity_types TEXT NOT NULL DEFAULT '[]',
    input_length BIGINT NOT NULL,
    entities_detected INTEGER NOT NULL,
    entities_anonymized INTEGER NOT NULL,
    synthesis_failures INTEGER NOT NULL DEFAULT 0,
    duration_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log (timestamp);

CREATE TABLE IF NOT EXISTS store_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    synthesis_salt TEXT NOT NULL,
    generation BIGINT NOT NULL DEFAULT 0
);
`

func schemaFor(driver string) string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	return strings.ReplaceAll(schema, "{{serial}}", serial)
}
