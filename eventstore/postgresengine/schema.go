package postgresengine

import "strings"

// Schema is the DDL for the default events table.
//
// Positions form the primary key and are assigned gaplessly inside the
// append transaction. The unique index on lower(event_id) enforces
// case-insensitive event identity; its name carries "event_id" so unique
// violations on it are classified as duplicate identity rather than as
// a position race. The GIN index serves the jsonb tag containment
// predicate used by criteria queries.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
    position   bigint NOT NULL PRIMARY KEY,
    event_id   text   NOT NULL,
    event_type text   NOT NULL,
    payload    jsonb  NOT NULL,
    tags       jsonb  NOT NULL DEFAULT '[]'::jsonb
);

CREATE UNIQUE INDEX IF NOT EXISTS events_event_id_unique_idx ON events (lower(event_id));

CREATE INDEX IF NOT EXISTS events_event_type_idx ON events (event_type);

CREATE INDEX IF NOT EXISTS events_tags_idx ON events USING gin (tags jsonb_path_ops);
`

// SchemaForTable returns the DDL with a custom table name, for stores
// configured through WithTableName. Index names are prefixed with the
// table name as well, so multiple stores can share a database.
func SchemaForTable(tableName string) string {
	if tableName == "" || tableName == defaultEventsTableName {
		return Schema
	}

	return strings.ReplaceAll(Schema, defaultEventsTableName, tableName)
}
