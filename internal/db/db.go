// Package db persists counting runs and credited crossings to SQLite.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/crosswatch-data/crossing.report/internal/counter"
	"github.com/crosswatch-data/crossing.report/internal/geom"
	"github.com/crosswatch-data/crossing.report/internal/units"
)

// DB wraps the SQLite connection with crossing-report specific operations.
type DB struct {
	*sql.DB
	path string
}

// OpenDB opens the SQLite database at path without touching the schema.
// Migrations manage the schema; use NewDB for the common open-and-migrate path.
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps the recorder responsive while the API reads, and the busy
	// timeout covers the brief writer contention that remains.
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	return &DB{DB: conn, path: path}, nil
}

// NewDB opens the database and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// Run is one counting run's row.
type Run struct {
	RunID        string     `json:"run_id"`
	Source       string     `json:"source"`
	Line         geom.Line  `json:"line"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	EnterCount   uint64     `json:"enter_count"`
	ExitCount    uint64     `json:"exit_count"`
	Frames       uint64     `json:"frames"`
	Rejected     uint64     `json:"rejected"`
	PerMinute    float64    `json:"vehicles_per_minute"`
	TrafficLevel string     `json:"traffic_level,omitempty"`
}

// Crossing is one credited crossing's row.
type Crossing struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	TrackID    int64     `json:"track_id"`
	FrameIndex int64     `json:"frame_index"`
	Direction  string    `json:"direction"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateRun inserts a new run row and returns its generated id.
func (db *DB) CreateRun(source string, line geom.Line) (string, error) {
	runID := uuid.NewString()

	lineJSON, err := json.Marshal(line)
	if err != nil {
		return "", fmt.Errorf("marshal line: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO runs (run_id, source, line, started_at) VALUES (?, ?, ?, ?)`,
		runID, source, string(lineJSON), time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// FinishRun stamps a run with its final statistics.
func (db *DB) FinishRun(runID string, stats counter.RunStats, level units.TrafficLevel) error {
	res, err := db.Exec(
		`UPDATE runs SET
			finished_at = ?,
			enter_count = ?,
			exit_count = ?,
			frames = ?,
			rejected = ?,
			per_minute = ?,
			traffic_level = ?
		WHERE run_id = ?`,
		time.Now().UTC(),
		stats.Counts.Enter,
		stats.Counts.Exit,
		stats.FramesProcessed,
		stats.RejectedObservations,
		stats.PerMinute,
		string(level),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: no run with id %s", runID)
	}
	return nil
}

// RecordCrossing persists one credited crossing.
func (db *DB) RecordCrossing(runID string, ev counter.CrossingEvent) error {
	_, err := db.Exec(
		`INSERT INTO crossings (run_id, track_id, frame_index, direction, x, y, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, ev.TrackID, ev.FrameIndex, string(ev.Direction), ev.Position.X, ev.Position.Y,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert crossing: %w", err)
	}
	return nil
}

// GetRun returns a run by id.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(
		`SELECT run_id, source, line, started_at, finished_at,
		        enter_count, exit_count, frames, rejected, per_minute, traffic_level
		 FROM runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(
		`SELECT run_id, source, line, started_at, finished_at,
		        enter_count, exit_count, frames, rejected, per_minute, traffic_level
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var lineJSON string
	var finishedAt sql.NullTime
	var trafficLevel sql.NullString

	err := row.Scan(
		&run.RunID, &run.Source, &lineJSON, &run.StartedAt, &finishedAt,
		&run.EnterCount, &run.ExitCount, &run.Frames, &run.Rejected,
		&run.PerMinute, &trafficLevel,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if err := json.Unmarshal([]byte(lineJSON), &run.Line); err != nil {
		return nil, fmt.Errorf("unmarshal run line: %w", err)
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if trafficLevel.Valid {
		run.TrafficLevel = trafficLevel.String
	}
	return &run, nil
}

// ListCrossings returns a run's crossings in frame order, oldest first.
func (db *DB) ListCrossings(runID string, limit int) ([]*Crossing, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(
		`SELECT id, run_id, track_id, frame_index, direction, x, y, created_at
		 FROM crossings WHERE run_id = ? ORDER BY frame_index ASC, id ASC LIMIT ?`,
		runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list crossings: %w", err)
	}
	defer rows.Close()

	var crossings []*Crossing
	for rows.Next() {
		var c Crossing
		if err := rows.Scan(&c.ID, &c.RunID, &c.TrackID, &c.FrameIndex,
			&c.Direction, &c.X, &c.Y, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan crossing: %w", err)
		}
		crossings = append(crossings, &c)
	}
	return crossings, rows.Err()
}

// CrossingCounts recomputes a run's direction-split totals from its rows.
func (db *DB) CrossingCounts(runID string) (counter.Counts, error) {
	rows, err := db.Query(
		`SELECT direction, COUNT(*) FROM crossings WHERE run_id = ? GROUP BY direction`,
		runID)
	if err != nil {
		return counter.Counts{}, fmt.Errorf("count crossings: %w", err)
	}
	defer rows.Close()

	var counts counter.Counts
	for rows.Next() {
		var direction string
		var n uint64
		if err := rows.Scan(&direction, &n); err != nil {
			return counter.Counts{}, fmt.Errorf("scan crossing count: %w", err)
		}
		switch counter.Direction(direction) {
		case counter.DirectionEnter:
			counts.Enter = n
		case counter.DirectionExit:
			counts.Exit = n
		}
	}
	return counts, rows.Err()
}

// MinuteBucket is a per-minute rollup of a run's crossings.
type MinuteBucket struct {
	Minute string `json:"minute"` // "2006-01-02 15:04" in UTC
	Enter  uint64 `json:"enter"`
	Exit   uint64 `json:"exit"`
}

// CrossingsPerMinute rolls a run's crossings up into per-minute buckets by
// record time, oldest first.
func (db *DB) CrossingsPerMinute(runID string) ([]MinuteBucket, error) {
	rows, err := db.Query(
		`SELECT strftime('%Y-%m-%d %H:%M', created_at) AS minute,
		        SUM(CASE WHEN direction = 'enter' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN direction = 'exit' THEN 1 ELSE 0 END)
		 FROM crossings
		 WHERE run_id = ?
		 GROUP BY minute
		 ORDER BY minute ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("rollup crossings: %w", err)
	}
	defer rows.Close()

	var buckets []MinuteBucket
	for rows.Next() {
		var b MinuteBucket
		if err := rows.Scan(&b.Minute, &b.Enter, &b.Exit); err != nil {
			return nil, fmt.Errorf("scan rollup bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
