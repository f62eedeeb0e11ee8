package sqliteengine

import (
	"errors"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/dcbkit/tagged-eventstore-go/eventstore"
)

// classifyError maps a sqlite3 driver error onto the store's error
// taxonomy.
//
// Busy and locked errors mean another writer held the database, so the
// append attempt can be retried. A unique violation naming the event id
// column is a duplicate identity; a primary key violation on position
// is a lost race on MAX+1 position assignment and retryable.
func classifyError(err error) (error, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return nil, false
	}

	switch {
	case sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked:
		return eventstore.ErrSerializationConflict, true

	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
		if strings.Contains(sqliteErr.Error(), "event_id") {
			return eventstore.ErrDuplicateEventID, true
		}

		return eventstore.ErrSerializationConflict, true

	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return eventstore.ErrSerializationConflict, true
	}

	return nil, false
}
