// Package sqlite persists anomaly records to a SQLite database so runs can
// be compared over time.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hed1ad/graphguard/pkg/detectors/graphanomaly"
)

const schema = `
CREATE TABLE IF NOT EXISTS anomalies (
	run_id      TEXT NOT NULL,
	node_id     TEXT NOT NULL,
	label       TEXT NOT NULL,
	grp         TEXT NOT NULL,
	mode        TEXT NOT NULL,
	score       REAL NOT NULL,
	threshold   REAL NOT NULL,
	reason      TEXT NOT NULL,
	record_json TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, node_id)
);

CREATE INDEX IF NOT EXISTS idx_anomalies_node ON anomalies(node_id);
CREATE INDEX IF NOT EXISTS idx_anomalies_score ON anomalies(run_id, score DESC);
`

// Writer stores the records of one run. The context given to Open bounds
// every statement the writer issues.
type Writer struct {
	db    *sql.DB
	runID string
	ctx   context.Context
}

// Open opens or creates the database at path. Records written through the
// returned writer are tagged with runID.
func Open(ctx context.Context, path, runID string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Writer{db: db, runID: runID, ctx: ctx}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (w *Writer) insert(e execer, rec graphanomaly.AnomalyRecord, now time.Time) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.NodeID, err)
	}
	_, err = e.ExecContext(w.ctx, `
		INSERT OR REPLACE INTO anomalies
			(run_id, node_id, label, grp, mode, score, threshold, reason, record_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.runID, rec.NodeID, rec.Label, rec.Group, rec.DetectionMode.String(),
		rec.OutlierScore, rec.Threshold, rec.Reason, string(data), now)
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.NodeID, err)
	}
	return nil
}

// Write outputs a single record.
func (w *Writer) Write(rec graphanomaly.AnomalyRecord) error {
	return w.insert(w.db, rec, time.Now().UTC())
}

// WriteAll outputs multiple records in one transaction.
func (w *Writer) WriteAll(recs []graphanomaly.AnomalyRecord) error {
	tx, err := w.db.BeginTx(w.ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	now := time.Now().UTC()
	for _, rec := range recs {
		if err := w.insert(tx, rec, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Summary is the per-run view of the stored records.
type Summary struct {
	RunID     string
	Anomalies int
	MaxScore  float64
}

// Runs summarizes every stored run, newest first.
func (w *Writer) Runs(ctx context.Context) ([]Summary, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT run_id, COUNT(*), MAX(score)
		FROM anomalies
		GROUP BY run_id
		ORDER BY MAX(created_at) DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.RunID, &s.Anomalies, &s.MaxScore); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Records returns the records of runID ordered by descending score.
func (w *Writer) Records(ctx context.Context, runID string) ([]StoredRecord, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT node_id, label, grp, mode, score, threshold, reason, record_json
		FROM anomalies
		WHERE run_id = ?
		ORDER BY score DESC, node_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var r StoredRecord
		if err := rows.Scan(&r.NodeID, &r.Label, &r.Group, &r.Mode, &r.Score, &r.Threshold, &r.Reason, &r.JSON); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// StoredRecord is one persisted anomaly.
type StoredRecord struct {
	NodeID    string
	Label     string
	Group     string
	Mode      string
	Score     float64
	Threshold float64
	Reason    string
	JSON      string
}

// Close releases resources.
func (w *Writer) Close() error {
	return w.db.Close()
}
