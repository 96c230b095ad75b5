package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"siteclone/clone"
)

// timeLayout is the sortable text form of times in the database.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusAborted   = "aborted"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Run is a recorded clone run.
type Run struct {
	ID               string
	Source           string
	Destination      string
	Elements         []clone.Element
	SkipBackup       bool
	BackupsCreated   bool
	DestinationReady bool
	Status           string
	Error            string
	StartedAt        time.Time
	FinishedAt       time.Time
	BackupCount      int
}

// runRow is the concrete type of each row returned by the runs query.
type runRow struct {
	ID               string `db:"id"`
	Source           string `db:"source"`
	Destination      string `db:"destination"`
	Elements         string `db:"elements"`
	SkipBackup       bool   `db:"skip_backup"`
	BackupsCreated   bool   `db:"backups_created"`
	DestinationReady bool   `db:"destination_ready"`
	Status           string `db:"status"`
	Error            string `db:"error"`
	StartedAt        string `db:"started_at"`
	FinishedAt       string `db:"finished_at"`
	BackupCount      int    `db:"backup_count"`
}

// backupRow is the concrete type of each row returned by the run backups query.
type backupRow struct {
	RunID       string `db:"run_id"`
	Element     string `db:"element"`
	CreatedAt   string `db:"created_at"`
	DownloadURL string `db:"download_url"`
}

// runStatus summarises the outcome of a run.
func runStatus(res clone.Result, runErr error) string {
	switch {
	case runErr == nil && res.Aborted:
		return StatusAborted
	case runErr == nil:
		return StatusSucceeded
	case errors.Is(runErr, clone.ErrCancelled), errors.Is(runErr, context.Canceled):
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Record saves a clone run and the backups it located in one transaction. It
// implements clone.Recorder.
func (db *DB) Record(ctx context.Context, res clone.Result, runErr error) error {

	var errMsg string
	if runErr != nil {
		errMsg = runErr.Error()
	}
	elements := make([]string, len(res.Elements))
	for i, e := range res.Elements {
		elements[i] = string(e)
	}

	// Start transaction.
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after a commit.
	}()

	stmt := db.runInsertStmt
	namedArgs := map[string]any{
		"RunID":            res.RunID,
		"Source":           res.Request.Source,
		"Destination":      res.Request.Destination,
		"Elements":         strings.Join(elements, ","),
		"SkipBackup":       res.Request.SkipBackup,
		"BackupsCreated":   res.BackupsCreated,
		"DestinationReady": res.DestinationReady,
		"Status":           runStatus(res, runErr),
		"ErrorMessage":     errMsg,
		"StartedAt":        res.StartedAt.UTC().Format(timeLayout),
		"FinishedAt":       res.FinishedAt.UTC().Format(timeLayout),
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return fmt.Errorf("run insert verify arguments error: %w", err)
	}
	_, err = tx.NamedStmtContext(ctx, stmt.NamedStmt).ExecContext(ctx, namedArgs)
	db.logQuery("run insert", stmt, namedArgs, err)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", res.RunID, err)
	}

	for _, record := range res.Backups {
		stmt := db.backupInsertStmt
		namedArgs := map[string]any{
			"RunID":       res.RunID,
			"Element":     string(record.Element),
			"CreatedAt":   record.CreatedAt.UTC().Format(timeLayout),
			"DownloadURL": record.DownloadURL,
		}
		if err := stmt.verifyArgs(namedArgs); err != nil {
			return fmt.Errorf("backup insert verify arguments error: %w", err)
		}
		_, err := tx.NamedStmtContext(ctx, stmt.NamedStmt).ExecContext(ctx, namedArgs)
		db.logQuery("backup insert", stmt, namedArgs, err)
		if err != nil {
			return fmt.Errorf("failed to record %s backup for run %s: %w", record.Element, res.RunID, err)
		}
	}

	return tx.Commit()
}

// Runs returns up to limit recorded runs, newest first. It isn't necessary to run this
// query in a transaction.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit < 1 {
		return nil, fmt.Errorf("invalid run limit %d", limit)
	}

	stmt := db.runsGetStmt
	namedArgs := map[string]any{"RowLimit": limit}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, fmt.Errorf("runs verify arguments error: %w", err)
	}

	var rows []runRow
	err := stmt.SelectContext(ctx, &rows, namedArgs)
	db.logQuery("runs", stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("runs select error: %w", err)
	}

	runs := make([]Run, 0, len(rows))
	for _, r := range rows {
		run := Run{
			ID:               r.ID,
			Source:           r.Source,
			Destination:      r.Destination,
			SkipBackup:       r.SkipBackup,
			BackupsCreated:   r.BackupsCreated,
			DestinationReady: r.DestinationReady,
			Status:           r.Status,
			Error:            r.Error,
			BackupCount:      r.BackupCount,
		}
		if r.Elements != "" {
			for _, e := range strings.Split(r.Elements, ",") {
				run.Elements = append(run.Elements, clone.Element(e))
			}
		}
		if run.StartedAt, err = time.Parse(timeLayout, r.StartedAt); err != nil {
			return nil, fmt.Errorf("run %s start time: %w", r.ID, err)
		}
		if run.FinishedAt, err = time.Parse(timeLayout, r.FinishedAt); err != nil {
			return nil, fmt.Errorf("run %s finish time: %w", r.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// RunBackups returns the source backups located by a run in element order.
func (db *DB) RunBackups(ctx context.Context, runID string) ([]clone.BackupRecord, error) {

	stmt := db.runBackupsStmt
	namedArgs := map[string]any{"RunID": runID}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, fmt.Errorf("run backups verify arguments error: %w", err)
	}

	var rows []backupRow
	err := stmt.SelectContext(ctx, &rows, namedArgs)
	db.logQuery("run backups", stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("run backups select error: %w", err)
	}

	records := make([]clone.BackupRecord, 0, len(rows))
	for _, r := range rows {
		createdAt, err := time.Parse(timeLayout, r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("backup %s created time: %w", r.Element, err)
		}
		records = append(records, clone.BackupRecord{
			Element:     clone.Element(r.Element),
			CreatedAt:   createdAt,
			DownloadURL: r.DownloadURL,
		})
	}
	return records, nil
}
