package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/friendsofgo/errors"
	_ "modernc.org/sqlite"
)

const (
	StatePending = "pending"
	StateApplied = "applied"
	StateFailed  = "failed"
)

// Open connects to the sqlite ledger at path and creates the tables
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "store: could not open ledger")
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if err := CreateTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func CreateTables(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store: could not begin transaction")
	}
	defer tx.Rollback()

	// name is the table key inside the deployment file
	_, err = tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS deployments (
		id INTEGER NOT NULL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		path TEXT NOT NULL,
		content TEXT NOT NULL,
		state TEXT NOT NULL,
		last_modified DATETIME NOT NULL,
		last_run DATETIME,
		last_error TEXT
	);`)
	if err != nil {
		return errors.Wrap(err, "store: could not create deployments")
	}

	_, err = tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS step_runs (
		id INTEGER NOT NULL PRIMARY KEY,
		run_id TEXT NOT NULL,
		deployment_id INTEGER NOT NULL REFERENCES deployments (id) ON DELETE CASCADE ON UPDATE CASCADE,
		step TEXT NOT NULL,
		status TEXT NOT NULL,
		digest TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);`)
	if err != nil {
		return errors.Wrap(err, "store: could not create step_runs")
	}

	// Files written on the host. Orphaned when their deployment goes away.
	_, err = tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER NOT NULL PRIMARY KEY,
		deployment_id INTEGER REFERENCES deployments (id) ON DELETE SET NULL ON UPDATE CASCADE,
		kind TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		digest TEXT NOT NULL,
		last_modified DATETIME NOT NULL
	);`)
	if err != nil {
		return errors.Wrap(err, "store: could not create artifacts")
	}

	_, err = tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS step_runs_deployment_step
		ON step_runs (deployment_id, step, id);`)
	if err != nil {
		return errors.Wrap(err, "store: could not create step_runs index")
	}

	return errors.Wrap(tx.Commit(), "store: could not commit schema")
}
