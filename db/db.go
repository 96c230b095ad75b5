// Package db provides the clone history store of the siteclone project.
//
// The store is a sqlite database. Each query is held in an sql file in the `sql`
// directory which can be run on the sqlite command line, and is also prepared as a Go
// named statement through the parameterization scheme set out in parameterize.go. The
// embedded sql files may be replaced by a directory of edited copies; see SQLMount.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"siteclone/internal/mounts"

	"github.com/jmoiron/sqlx" // helper library
	_ "modernc.org/sqlite"    // pure go sqlite driver
)

// SQLEmbeddedFS holds the schema and query files.
//
//go:embed sql
var SQLEmbeddedFS embed.FS

// schemaFile is the idempotent schema definition in the sql mount.
const schemaFile = "schema.sql"

// SQLMount mounts the sql files, from dir when it is not empty or otherwise from the
// embedded files.
func SQLMount(dir string) (*mounts.Mount, error) {
	return mounts.New("sql", SQLEmbeddedFS, dir)
}

// parameterizedStmt describes an sql file parsed into an sqlx NamedStmt expecting the
// provided args.
type parameterizedStmt struct {
	sqlFile string
	args    []string
	*sqlx.NamedStmt
}

// verifyArgs checks that the arguments provided to a parameterizedStmt are exactly
// those the sql file declares.
func (p *parameterizedStmt) verifyArgs(args map[string]any) error {
	if got, want := len(args), len(p.args); got != want {
		return fmt.Errorf(
			"argument length to named statement from %q incorrect: got %d want %d",
			p.sqlFile,
			got,
			want,
		)
	}
	for _, a := range p.args {
		if _, ok := args[a]; !ok {
			return fmt.Errorf("named statement from %q missing argument %q", p.sqlFile, a)
		}
	}
	return nil
}

// DB provides a wrapper around the sql.DB connection for clone history operations.
type DB struct {
	*sqlx.DB
	sqlFS fs.FS
	log   *slog.Logger

	// Prepared statements.
	runInsertStmt    *parameterizedStmt
	backupInsertStmt *parameterizedStmt
	runsGetStmt      *parameterizedStmt
	runBackupsStmt   *parameterizedStmt
}

// NewConnection creates a new connection to an SQLite database at the given path,
// initialises the schema and prepares the statements held in sqlFS.
func NewConnection(dbPath string, sqlFS fs.FS, logger *slog.Logger) (*DB, error) {

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// dataSource is the default setting for file-based databases.
	dataSource := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)

	// for in-memory test databases, check the necessary cached setting is used.
	if strings.Contains(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory") {
		if !strings.Contains(dbPath, "cache=shared") {
			return nil, fmt.Errorf("in-memory connection %q should contain 'cache=shared'", dbPath)
		}
		dataSource = dbPath
	}
	dbDB, err := sql.Open("sqlite", dataSource)
	if err != nil {
		return nil, err
	}
	if err := dbDB.Ping(); err != nil {
		_ = dbDB.Close()
		return nil, err
	}
	// One writer at a time.
	dbDB.SetMaxOpenConns(1)

	// Wrap the standard library *sql.DB with sqlx.
	db := &DB{
		DB:    sqlx.NewDb(dbDB, "sqlite"),
		sqlFS: sqlFS,
		log:   logger,
	}

	if err := db.InitSchema(sqlFS, schemaFile); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.prepareNamedStatements(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not prepare named statements: %w", err)
	}
	return db, nil
}

// prepareNamedStatements prepares all the named statements for this database connection.
func (db *DB) prepareNamedStatements() error {
	var err error

	// Runs.
	db.runInsertStmt, err = db.prepNamedStatement(db.sqlFS, "run_insert.sql")
	if err != nil {
		return fmt.Errorf("run insert statement error: %w", err)
	}
	db.runsGetStmt, err = db.prepNamedStatement(db.sqlFS, "runs.sql")
	if err != nil {
		return fmt.Errorf("get runs statement error: %w", err)
	}

	// Backups.
	db.backupInsertStmt, err = db.prepNamedStatement(db.sqlFS, "backup_insert.sql")
	if err != nil {
		return fmt.Errorf("backup insert statement error: %w", err)
	}
	db.runBackupsStmt, err = db.prepNamedStatement(db.sqlFS, "run_backups.sql")
	if err != nil {
		return fmt.Errorf("get run backups statement error: %w", err)
	}

	return nil
}

// prepNamedStatement prepares the SQL query in filePath.
func (db *DB) prepNamedStatement(fileFS fs.FS, filePath string) (*parameterizedStmt, error) {
	query, err := ParameterizeFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("could not parameterize %q: %w", filePath, err)
	}

	pQuery, err := db.PrepareNamed(string(query.Body))
	if err != nil {
		return nil, fmt.Errorf("could not prepare statement %q: %w", filePath, err)
	}
	return &parameterizedStmt{
		filePath,
		query.Parameters,
		pQuery,
	}, nil
}

// InitSchema creates the necessary tables if they don't already exist. The schema file
// can be run idempotently.
func (db *DB) InitSchema(fileFS fs.FS, filePath string) error {

	schema, err := fs.ReadFile(fileFS, filePath)
	if err != nil {
		return fmt.Errorf("could not read schema file at %q: %w", filePath, err)
	}

	_, err = db.ExecContext(context.Background(), string(schema))
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// logQuery logs a statement, its arguments and any error at debug level.
func (db *DB) logQuery(name string, stmt *parameterizedStmt, args map[string]any, err error) {
	db.log.Debug(
		"sql",
		"name", name,
		"file", stmt.sqlFile,
		"args", args,
		"err", err,
	)
}
