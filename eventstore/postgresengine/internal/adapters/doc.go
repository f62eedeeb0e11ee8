// Package adapters provides database abstractions for the Postgres engine,
// so it can work with pgxpool.Pool, sql.DB and sqlx.DB connections through
// one interface.
//
// The adapters expose parameterized queries plus explicit transaction scopes
// (BeginSerializable / Commit / Rollback) and classify backend errors
// onto the eventstore error taxonomy (serialization conflicts, duplicate
// event ids).
//
// This package is internal; users configure a concrete connection through
// the postgresengine factory constructors.
package adapters
