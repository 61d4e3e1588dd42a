package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/quakewatch/pipeline/pkg/logger"
)

// Client is the run ledger: one row per scheduled pipeline run, for operator
// visibility across runs.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("Run ledger initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		violation_count INTEGER NOT NULL,
		feature_count INTEGER NOT NULL,
		fingerprint TEXT,
		sinks_ok TEXT,
		sinks_failed TEXT,
		detail TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON pipeline_runs(status);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

type RunRow struct {
	ID             string
	Status         string
	RowCount       int
	ViolationCount int
	FeatureCount   int
	Fingerprint    string
	SinksOK        []string
	SinksFailed    []string
	Detail         string
	StartedAt      time.Time
	FinishedAt     time.Time
}

func (c *Client) InsertRun(run *RunRow) error {
	query := `
	INSERT INTO pipeline_runs
		(id, status, row_count, violation_count, feature_count, fingerprint,
		 sinks_ok, sinks_failed, detail, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(query,
		run.ID,
		run.Status,
		run.RowCount,
		run.ViolationCount,
		run.FeatureCount,
		run.Fingerprint,
		strings.Join(run.SinksOK, ","),
		strings.Join(run.SinksFailed, ","),
		run.Detail,
		run.StartedAt.Unix(),
		run.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (c *Client) RecentRuns(limit int) ([]RunRow, error) {
	query := `
	SELECT id, status, row_count, violation_count, feature_count, fingerprint,
	       sinks_ok, sinks_failed, detail, started_at, finished_at
	FROM pipeline_runs
	ORDER BY started_at DESC
	LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRow
	for rows.Next() {
		var run RunRow
		var sinksOK, sinksFailed string
		var startedAt, finishedAt int64
		err := rows.Scan(&run.ID, &run.Status, &run.RowCount, &run.ViolationCount,
			&run.FeatureCount, &run.Fingerprint, &sinksOK, &sinksFailed,
			&run.Detail, &startedAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.SinksOK = splitList(sinksOK)
		run.SinksFailed = splitList(sinksFailed)
		run.StartedAt = time.Unix(startedAt, 0).UTC()
		run.FinishedAt = time.Unix(finishedAt, 0).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
