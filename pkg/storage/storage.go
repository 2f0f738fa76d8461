// Package storage persists reconciliation findings in a local sqlite
// database so repeated runs surface drift deltas instead of full snapshots.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS drift_findings (
  id            INTEGER PRIMARY KEY,
  repo_key      TEXT NOT NULL,
  finding_type  TEXT NOT NULL CHECK (finding_type IN ('stale_target','untracked_repo','stale_file','untracked_file','duplicate_project','unresolvable_target')),
  detail        TEXT NOT NULL DEFAULT '',
  org_id        TEXT NOT NULL DEFAULT '',
  run_id        INTEGER NOT NULL DEFAULT 0,
  first_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  last_seen_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(repo_key, finding_type, detail)
);
CREATE INDEX IF NOT EXISTS idx_findings_repo ON drift_findings(repo_key);
CREATE INDEX IF NOT EXISTS idx_findings_type ON drift_findings(finding_type);
CREATE TABLE IF NOT EXISTS drift_changes (
  id            INTEGER PRIMARY KEY,
  occurred_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  repo_key      TEXT NOT NULL,
  finding_type  TEXT NOT NULL,
  detail        TEXT NOT NULL DEFAULT '',
  org_id        TEXT NOT NULL DEFAULT '',
  change_type   TEXT NOT NULL CHECK (change_type IN ('added','removed'))
);
CREATE INDEX IF NOT EXISTS idx_changes_time ON drift_changes(occurred_at);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// RecordRun upserts the run's findings and sweeps out findings the run no
// longer reports, returning the resulting added/removed change events.
func (d *DB) RecordRun(ctx context.Context, findings []Finding) ([]Change, error) {
	now := time.Now().UTC()
	runID := now.Unix()

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, "SELECT repo_key, finding_type, detail FROM drift_findings")
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var key, ftype, detail string
		if err = rows.Scan(&key, &ftype, &detail); err != nil {
			rows.Close()
			return nil, err
		}
		existing[identityKey(key, ftype, detail)] = true
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}

	var changes []Change
	for _, f := range findings {
		key := identityKey(f.RepoKey, f.Type, f.Detail)
		if existing[key] {
			_, err = tx.ExecContext(ctx, `UPDATE drift_findings SET run_id = ?, last_seen_at = CURRENT_TIMESTAMP WHERE repo_key = ? AND finding_type = ? AND detail = ?`, runID, f.RepoKey, f.Type, f.Detail)
			if err != nil {
				return nil, err
			}
			continue
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO drift_findings(repo_key, finding_type, detail, org_id, run_id) VALUES(?,?,?,?,?)`, f.RepoKey, f.Type, f.Detail, f.OrgID, runID)
		if err != nil {
			return nil, err
		}
		existing[key] = true
		changes = append(changes, Change{OccurredAt: now, RepoKey: f.RepoKey, Type: f.Type, Detail: f.Detail, OrgID: f.OrgID, ChangeType: "added"})
	}

	// Sweep: findings not touched by this run have been resolved.
	staleRows, err := tx.QueryContext(ctx, "SELECT repo_key, finding_type, detail, org_id FROM drift_findings WHERE run_id != ?", runID)
	if err != nil {
		return nil, err
	}
	var removed []Finding
	for staleRows.Next() {
		var f Finding
		if err = staleRows.Scan(&f.RepoKey, &f.Type, &f.Detail, &f.OrgID); err != nil {
			staleRows.Close()
			return nil, err
		}
		removed = append(removed, f)
	}
	if err = staleRows.Close(); err != nil {
		return nil, err
	}

	if len(removed) > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM drift_findings WHERE run_id != ?`, runID)
		if err != nil {
			return nil, err
		}
		for _, f := range removed {
			_, ierr := tx.ExecContext(ctx, `INSERT INTO drift_changes(occurred_at, repo_key, finding_type, detail, org_id, change_type) VALUES(CURRENT_TIMESTAMP, ?, ?, ?, ?, 'removed')`, f.RepoKey, f.Type, f.Detail, f.OrgID)
			if ierr != nil {
				return nil, ierr
			}
			changes = append(changes, Change{OccurredAt: now, RepoKey: f.RepoKey, Type: f.Type, Detail: f.Detail, OrgID: f.OrgID, ChangeType: "removed"})
		}
	}

	for _, c := range changes {
		if c.ChangeType != "added" {
			continue
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO drift_changes(occurred_at, repo_key, finding_type, detail, org_id, change_type) VALUES(CURRENT_TIMESTAMP, ?, ?, ?, ?, 'added')`, c.RepoKey, c.Type, c.Detail, c.OrgID)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return changes, nil
}

// ListOptions controls selection when listing findings.
type ListOptions struct {
	Type      string
	KeyFilter string
}

// ListFindings returns current findings matching the filters.
func (d *DB) ListFindings(ctx context.Context, opts ListOptions) ([]Finding, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	if opts.Type != "" && opts.Type != "all" {
		where += " AND finding_type = ?"
		args = append(args, opts.Type)
	}
	if opts.KeyFilter != "" {
		where += " AND repo_key LIKE ?"
		args = append(args, fmt.Sprintf("%%%s%%", opts.KeyFilter))
	}

	q := "SELECT repo_key, finding_type, detail, org_id FROM drift_findings " + where + " ORDER BY repo_key, finding_type, detail"
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Finding
	for rows.Next() {
		var f Finding
		if err := rows.Scan(&f.RepoKey, &f.Type, &f.Detail, &f.OrgID); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRecentChanges returns the most recent N drift changes.
func (d *DB) ListRecentChanges(ctx context.Context, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 50
	}
	q := "SELECT occurred_at, repo_key, finding_type, detail, org_id, change_type FROM drift_changes ORDER BY occurred_at DESC, id DESC LIMIT ?"
	rows, err := d.sql.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var c Change
		var occurredAtStr string
		if err := rows.Scan(&occurredAtStr, &c.RepoKey, &c.Type, &c.Detail, &c.OrgID, &c.ChangeType); err != nil {
			return nil, err
		}
		// Parse SQLite CURRENT_TIMESTAMP format, then RFC3339.
		if t, perr := time.Parse("2006-01-02 15:04:05", occurredAtStr); perr == nil {
			c.OccurredAt = t
		} else if t2, perr2 := time.Parse(time.RFC3339, occurredAtStr); perr2 == nil {
			c.OccurredAt = t2
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return changes, nil
}

type TypeStats struct {
	Type  string
	Count int
}

func (d *DB) GetStats(ctx context.Context) ([]TypeStats, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT finding_type, COUNT(*) FROM drift_findings GROUP BY finding_type ORDER BY finding_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []TypeStats
	for rows.Next() {
		var s TypeStats
		if err := rows.Scan(&s.Type, &s.Count); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func identityKey(repoKey, findingType, detail string) string {
	return repoKey + "\x00" + findingType + "\x00" + detail
}
