package sqlite

const schema = `
-- Era registry: one row per application-time period on a user table
CREATE TABLE IF NOT EXISTS era_periods (
    table_name TEXT NOT NULL,
    era_name TEXT NOT NULL DEFAULT 'valid' CHECK(era_name <> 'system_time'),
    from_column TEXT NOT NULL,
    until_column TEXT NOT NULL,
    value_kind TEXT NOT NULL CHECK(value_kind IN ('integer', 'real', 'text')),
    bounds_check_trigger TEXT NOT NULL DEFAULT '',
    sync_to_column TEXT NOT NULL DEFAULT '',
    sync_range_column TEXT NOT NULL DEFAULT '',
    audit_table TEXT NOT NULL DEFAULT '',
    CHECK (from_column <> until_column),
    PRIMARY KEY (table_name, era_name)
);

-- Temporal unique keys: rows equal on the key columns must not have
-- overlapping validity within the era
CREATE TABLE IF NOT EXISTS era_unique_keys (
    key_name TEXT PRIMARY KEY,
    table_name TEXT NOT NULL,
    columns TEXT NOT NULL,          -- JSON array, ordered
    era_name TEXT NOT NULL,
    unique_index TEXT NOT NULL,
    exclusion_insert_trigger TEXT NOT NULL,
    exclusion_update_trigger TEXT NOT NULL,
    predicate TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (table_name, era_name) REFERENCES era_periods(table_name, era_name)
);

CREATE INDEX IF NOT EXISTS idx_era_unique_keys_table ON era_unique_keys(table_name);

-- Temporal foreign keys: the child's validity must be contiguously covered
-- by parent rows sharing the referenced key
CREATE TABLE IF NOT EXISTS era_foreign_keys (
    key_name TEXT PRIMARY KEY,
    table_name TEXT NOT NULL,       -- child table
    columns TEXT NOT NULL,          -- JSON array, pairwise with the parent key
    era_name TEXT NOT NULL,
    ref_key_name TEXT NOT NULL REFERENCES era_unique_keys(key_name),
    match_mode TEXT NOT NULL DEFAULT 'SIMPLE' CHECK(match_mode IN ('SIMPLE', 'FULL', 'PARTIAL')),
    on_update TEXT NOT NULL DEFAULT 'NO ACTION' CHECK(on_update IN ('NO ACTION', 'RESTRICT')),
    on_delete TEXT NOT NULL DEFAULT 'NO ACTION' CHECK(on_delete IN ('NO ACTION', 'RESTRICT')),
    child_insert_check TEXT NOT NULL,
    child_update_check TEXT NOT NULL,
    parent_update_check TEXT NOT NULL,
    parent_delete_check TEXT NOT NULL,
    FOREIGN KEY (table_name, era_name) REFERENCES era_periods(table_name, era_name)
);

CREATE INDEX IF NOT EXISTS idx_era_foreign_keys_table ON era_foreign_keys(table_name);
CREATE INDEX IF NOT EXISTS idx_era_foreign_keys_ref ON era_foreign_keys(ref_key_name);

-- Config table for user settings
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Metadata table for internal state (schema version, etc.)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
