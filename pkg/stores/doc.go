// Package stores provides the run history persistence layer.
// It records every runner invocation, the job events it emitted and the
// final per-host outcome table in SQLite (pure Go driver, WAL mode) with
// schema managed by embedded migrations.
package stores
