// Package config provides database connection helpers for the SQLite
// engine tests.
package config

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync/atomic"

	// database/sql driver for the SQLite based store.
	_ "github.com/mattn/go-sqlite3"

	"github.com/dcbkit/tagged-eventstore-go/eventstore/sqliteengine"
)

var dbCounter atomic.Int64

// OpenInMemoryDB opens a fresh in-memory SQLite database. Each call gets
// its own database; the pool is limited to one connection so every query
// sees the same in-memory instance.
func OpenInMemoryDB() *sql.DB {
	name := fmt.Sprintf("eventstore_test_%d", dbCounter.Add(1))

	db, err := sql.Open("sqlite3", sqliteengine.InMemoryDSN(name))
	if err != nil {
		log.Fatal("Failed to open sqlite3 DB, error: ", err)
	}

	db.SetMaxOpenConns(1)

	return db
}

// NewInMemoryEventStore creates a store on a fresh in-memory database
// with the schema already created.
func NewInMemoryEventStore(ctx context.Context, options ...sqliteengine.Option) (sqliteengine.EventStore, *sql.DB, error) {
	db := OpenInMemoryDB()

	es, err := sqliteengine.NewEventStore(db, options...)
	if err != nil {
		_ = db.Close()

		return sqliteengine.EventStore{}, nil, err
	}

	if err := es.CreateSchema(ctx); err != nil {
		_ = db.Close()

		return sqliteengine.EventStore{}, nil, err
	}

	return es, db, nil
}
