package compaction

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal persists compaction run history to a local SQLite database for
// operational inspection. It is append-only and never consulted by the
// pipeline itself; the storage layout stays the sole source of truth.
type Journal struct {
	db *sql.DB
}

// RunRecord is one stored compaction run.
type RunRecord struct {
	ID                  int64
	StartedAt           time.Time
	OrganizationID      string
	Date                string
	PartitionsFound     int
	PartitionsCompacted int
	BlocksCreated       int
	FilesRemoved        int
	TotalEvents         int64
	Errors              int
}

// OpenJournal opens (and if needed initializes) a journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("compaction: failed to open journal: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS compaction_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at INTEGER NOT NULL,
			organization_id TEXT NOT NULL DEFAULT '',
			dt TEXT NOT NULL DEFAULT '',
			partitions_found INTEGER NOT NULL,
			partitions_compacted INTEGER NOT NULL,
			blocks_created INTEGER NOT NULL,
			files_removed INTEGER NOT NULL,
			total_events INTEGER NOT NULL,
			errors INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS compaction_results (
			run_id INTEGER NOT NULL REFERENCES compaction_runs(id),
			partition_path TEXT NOT NULL,
			success INTEGER NOT NULL,
			files_removed INTEGER NOT NULL,
			events_count INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_results_run ON compaction_results(run_id);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("compaction: failed to initialize journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// RecordRun stores one run summary with its per-partition results.
func (j *Journal) RecordRun(ctx context.Context, filters Filters, summary *CompactionSummary) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("compaction: journal begin: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO compaction_runs
			(started_at, organization_id, dt, partitions_found, partitions_compacted,
			 blocks_created, files_removed, total_events, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().Unix(), filters.OrganizationID, filters.Date,
		summary.PartitionsFound, summary.PartitionsCompacted,
		summary.BlocksCreated, summary.FilesRemoved, summary.TotalEvents, summary.Errors)
	if err != nil {
		return fmt.Errorf("compaction: journal insert run: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("compaction: journal run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO compaction_results
			(run_id, partition_path, success, files_removed, events_count, error)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("compaction: journal prepare: %w", err)
	}
	defer stmt.Close()

	for _, res := range summary.Results {
		if _, err := stmt.ExecContext(ctx, runID, res.PartitionPath, res.Success,
			res.FilesRemoved, res.EventsCount, res.Error); err != nil {
			return fmt.Errorf("compaction: journal insert result: %w", err)
		}
	}

	return tx.Commit()
}

// RecentRuns returns the newest runs, most recent first.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, started_at, organization_id, dt, partitions_found,
		       partitions_compacted, blocks_created, files_removed, total_events, errors
		FROM compaction_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("compaction: journal query: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var startedAt int64
		if err := rows.Scan(&r.ID, &startedAt, &r.OrganizationID, &r.Date,
			&r.PartitionsFound, &r.PartitionsCompacted, &r.BlocksCreated,
			&r.FilesRemoved, &r.TotalEvents, &r.Errors); err != nil {
			return nil, fmt.Errorf("compaction: journal scan: %w", err)
		}
		r.StartedAt = time.Unix(startedAt, 0)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close releases the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
