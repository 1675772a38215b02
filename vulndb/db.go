// Copyright (C) 2026 Vulnwatch, Inc.
// See LICENSE for copying information.

// Package vulndb implements the embedded SQLite store for vulnerability data.
package vulndb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/go-cmp/cmp"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// DatabaseName is the file name of the vulnerability database.
const DatabaseName = "vanta_vulnerabilities.db"

var (
	mon = monkit.Package()

	// ErrDatabase represents errors from the vulnerability database.
	ErrDatabase = errs.Class("vulndb")
	// ErrPreflight represents an error during the preflight schema check.
	ErrPreflight = errs.Class("preflight")
)

// Config configures the vulnerability database.
type Config struct {
	Directory string `help:"directory where the vulnerability database is stored" default:"storage"`
}

// DB provides access to the vulnerability tables.
//
// A single connection is shared by all tables; each table serializes its own
// writes behind a mutex and every multi-row write runs in one transaction.
type DB struct {
	log    *zap.Logger
	config Config

	sqlDB *sql.DB
	path  string

	vulnerabilities *VulnerabilitiesDB
	remediations    *RemediationsDB
	assets          *AssetsDB
	history         *HistoryDB
}

// Open opens or creates the vulnerability database, applying the schema and
// repairing additively changed tables.
func Open(ctx context.Context, log *zap.Logger, config Config) (_ *DB, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := os.MkdirAll(config.Directory, 0700); err != nil {
		return nil, ErrDatabase.Wrap(err)
	}
	path := filepath.Join(config.Directory, DatabaseName)

	sqlDB, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, ErrDatabase.Wrap(err)
	}
	// sqlite pragmas apply per connection; keep a single one so they stick
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 268435456",
	} {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			return nil, ErrDatabase.Wrap(errs.Combine(err, sqlDB.Close()))
		}
	}

	db := &DB{
		log:    log,
		config: config,
		sqlDB:  sqlDB,
		path:   path,

		vulnerabilities: &VulnerabilitiesDB{db: sqlDB},
		remediations:    &RemediationsDB{db: sqlDB},
		assets:          &AssetsDB{db: sqlDB},
		history:         &HistoryDB{db: sqlDB},
	}

	if err := db.createTables(ctx); err != nil {
		return nil, ErrDatabase.Wrap(errs.Combine(err, sqlDB.Close()))
	}
	if err := db.repairHistoryColumns(ctx); err != nil {
		return nil, ErrDatabase.Wrap(errs.Combine(err, sqlDB.Close()))
	}

	log.Info("database ready", zap.String("path", path))
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return ErrDatabase.Wrap(db.sqlDB.Close())
}

// Path returns the database file location.
func (db *DB) Path() string { return db.path }

// Vulnerabilities gives access to the vulnerabilities table.
func (db *DB) Vulnerabilities() *VulnerabilitiesDB { return db.vulnerabilities }

// Remediations gives access to the remediations table.
func (db *DB) Remediations() *RemediationsDB { return db.remediations }

// VulnerableAssets gives access to the vulnerable_assets table.
func (db *DB) VulnerableAssets() *AssetsDB { return db.assets }

// History gives access to the sync journal.
func (db *DB) History() *HistoryDB { return db.history }

func (db *DB) createTables(ctx context.Context) error {
	tx, err := db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range createTables {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// repairHistoryColumns adds sync_history count columns that older database
// files are missing. Columns are only ever added, never dropped or retyped.
func (db *DB) repairHistoryColumns(ctx context.Context) error {
	existing, err := db.tableColumns(ctx, "sync_history")
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	for _, column := range historyCountColumns {
		if present[column] {
			continue
		}
		db.log.Info("repairing sync_history schema", zap.String("column", column))
		if _, err := db.sqlDB.ExecContext(ctx, `ALTER TABLE sync_history ADD COLUMN `+column+` INTEGER`); err != nil {
			return err
		}
	}
	return nil
}

// tableColumns returns the column names of a table in declaration order.
func (db *DB) tableColumns(ctx context.Context, table string) (_ []string, err error) {
	rows, err := db.sqlDB.QueryContext(ctx, `PRAGMA table_info(`+table+`)`)
	if err != nil {
		return nil, err
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var columns []string
	for rows.Next() {
		var (
			index        int
			name, ctype  string
			notNull      bool
			defaultValue sql.NullString
			pk           int
		)
		if err := rows.Scan(&index, &name, &ctype, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// Preflight verifies that every table carries the expected columns.
func (db *DB) Preflight(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	for table, expected := range expectedSchema {
		actual, err := db.tableColumns(ctx, table)
		if err != nil {
			return ErrPreflight.Wrap(err)
		}

		wanted := append([]string(nil), expected...)
		sort.Strings(wanted)
		sort.Strings(actual)

		if diff := cmp.Diff(wanted, actual); diff != "" {
			return ErrPreflight.New("table %s schema does not match expected: %s", table, diff)
		}
	}
	return nil
}
