package sqliteengine

import "strings"

// Schema is the DDL for the default events and event_tags tables.
//
// Positions form the primary key and are assigned gaplessly inside the
// append transaction. COLLATE NOCASE on event_id enforces
// case-insensitive event identity. The side table holds one row per
// (position, tag) pair and serves the per-tag EXISTS predicates; the
// events row additionally carries the tags as JSON text so reads do
// not need to reassemble them from the side table.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
    position   INTEGER NOT NULL PRIMARY KEY,
    event_id   TEXT    NOT NULL COLLATE NOCASE UNIQUE,
    event_type TEXT    NOT NULL,
    payload    TEXT    NOT NULL,
    tags       TEXT    NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS event_tags (
    position INTEGER NOT NULL REFERENCES events (position) ON DELETE CASCADE,
    tag      TEXT    NOT NULL,
    PRIMARY KEY (position, tag)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS events_event_type_idx ON events (event_type);

CREATE INDEX IF NOT EXISTS event_tags_tag_idx ON event_tags (tag, position);
`

// SchemaForTables returns the DDL with custom table names, for stores
// configured through WithTableNames.
func SchemaForTables(eventsTable, tagsTable string) string {
	ddl := Schema

	if tagsTable != "" && tagsTable != defaultTagsTableName {
		ddl = strings.ReplaceAll(ddl, defaultTagsTableName, tagsTable)
	}

	if eventsTable != "" && eventsTable != defaultEventsTableName {
		ddl = strings.ReplaceAll(ddl, defaultEventsTableName+" ", eventsTable+" ")
		ddl = strings.ReplaceAll(ddl, defaultEventsTableName+"_", eventsTable+"_")
	}

	return ddl
}
