// Package flightlog keeps a SQLite ledger of record and replay flights.
//
// A flight is one pill lifetime: a test case recorded or replayed once.
// Each intercepted call is logged with its index, operation and a content
// digest of the outcome, which lets the CLI answer "when was this cassette
// last recorded and did replay serve what was recorded".
//
// The ledger is diagnostic. Fixture files on disk remain the only source of
// truth for playback.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - busy_timeout=5000: parallel test processes wait for the write lock
//   - foreign_keys=ON: calls are deleted with their flight
package flightlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sourceops/cloud-custodian/internal/fixture"
)

//go:embed schema.sql
var schemaSQL string

// Flight status values.
const (
	StatusOpen   = "open"
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// Flight is one record or replay run of a test case.
type Flight struct {
	ID       string `json:"id"`
	TestCase string `json:"test_case"`
	Mode     string `json:"mode"`
	Seq      int64  `json:"seq"`
	Status   string `json:"status"`
	Calls    int    `json:"calls"`
}

// Call is one intercepted call within a flight.
type Call struct {
	Index      int    `json:"index"`
	Operation  string `json:"operation"`
	StatusCode int    `json:"status_code"`
	Digest     string `json:"digest"`
}

// Log is the flight ledger.
type Log struct {
	db *sql.DB
}

// Open creates or opens a ledger at path. Use ":memory:" for an in-process ledger.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open flight log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to flight log: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Log{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// BeginFlight opens a flight for testCase and returns its ID.
func (l *Log) BeginFlight(ctx context.Context, testCase, mode string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO flights (id, test_case, mode, seq, status)
		SELECT ?, ?, ?, COALESCE(MAX(seq), 0) + 1, ?
		FROM flights
	`, id, testCase, mode, StatusOpen)
	if err != nil {
		return "", fmt.Errorf("begin flight: %w", err)
	}
	return id, nil
}

// RecordCall logs one intercepted call.
func (l *Log) RecordCall(ctx context.Context, flightID string, e fixture.Entry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO flight_calls (flight_id, idx, operation, status_code, digest)
		VALUES (?, ?, ?, ?, ?)
	`, flightID, e.Index, e.Operation, e.StatusCode, fixture.Digest(e))
	if err != nil {
		return fmt.Errorf("record call %d: %w", e.Index, err)
	}
	return nil
}

// EndFlight closes a flight with status and the final call count.
func (l *Log) EndFlight(ctx context.Context, flightID, status string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE flights
		SET status = ?, calls = (SELECT COUNT(*) FROM flight_calls WHERE flight_id = ?)
		WHERE id = ?
	`, status, flightID, flightID)
	if err != nil {
		return fmt.Errorf("end flight: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end flight: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("end flight: unknown flight %s", flightID)
	}
	return nil
}

// Flights lists flights in seq order. An empty testCase lists all flights.
// Returns an empty slice (not nil) when nothing matches.
func (l *Log) Flights(ctx context.Context, testCase string) ([]Flight, error) {
	query := `SELECT id, test_case, mode, seq, status, calls FROM flights`
	var args []any
	if testCase != "" {
		query += ` WHERE test_case = ?`
		args = append(args, testCase)
	}
	query += ` ORDER BY seq ASC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query flights: %w", err)
	}
	defer rows.Close()

	flights := []Flight{}
	for rows.Next() {
		var f Flight
		if err := rows.Scan(&f.ID, &f.TestCase, &f.Mode, &f.Seq, &f.Status, &f.Calls); err != nil {
			return nil, fmt.Errorf("scan flight: %w", err)
		}
		flights = append(flights, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flights: %w", err)
	}
	return flights, nil
}

// Calls lists the calls of a flight in index order.
func (l *Log) Calls(ctx context.Context, flightID string) ([]Call, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT idx, operation, status_code, digest
		FROM flight_calls
		WHERE flight_id = ?
		ORDER BY idx ASC
	`, flightID)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	calls := []Call{}
	for rows.Next() {
		var c Call
		if err := rows.Scan(&c.Index, &c.Operation, &c.StatusCode, &c.Digest); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return calls, nil
}

// Diverged compares the latest replay of testCase against the latest record
// and returns the indexes whose digests differ or exist on only one side.
// Returns nil when either side has no flight.
func (l *Log) Diverged(ctx context.Context, testCase string) ([]int, error) {
	rec, err := l.latest(ctx, testCase, "record")
	if err != nil || rec == "" {
		return nil, err
	}
	rep, err := l.latest(ctx, testCase, "replay")
	if err != nil || rep == "" {
		return nil, err
	}

	recCalls, err := l.Calls(ctx, rec)
	if err != nil {
		return nil, err
	}
	repCalls, err := l.Calls(ctx, rep)
	if err != nil {
		return nil, err
	}

	recorded := make(map[int]string, len(recCalls))
	for _, c := range recCalls {
		recorded[c.Index] = c.Digest
	}
	diverged := []int{}
	for _, c := range repCalls {
		d, ok := recorded[c.Index]
		if !ok || d != c.Digest {
			diverged = append(diverged, c.Index)
		}
		delete(recorded, c.Index)
	}
	for _, c := range recCalls {
		if _, left := recorded[c.Index]; left {
			diverged = append(diverged, c.Index)
		}
	}
	return diverged, nil
}

func (l *Log) latest(ctx context.Context, testCase, mode string) (string, error) {
	var id string
	err := l.db.QueryRowContext(ctx, `
		SELECT id FROM flights
		WHERE test_case = ? AND mode = ?
		ORDER BY seq DESC
		LIMIT 1
	`, testCase, mode).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest %s flight: %w", mode, err)
	}
	return id, nil
}
