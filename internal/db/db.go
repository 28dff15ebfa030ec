// Package db persists a history of connection lifecycle events, health
// checks, and daemon events to a local SQLite database.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection and provides logging methods.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode so status queries don't block the daemon's writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn != nil {
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return db.conn.Close()
	}
	return nil
}

func (db *DB) initSchema() error {
	schema := `
	-- Connection lifecycle events, one row per state transition per session
	CREATE TABLE IF NOT EXISTS connection_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Health probe outcomes
	CREATE TABLE IF NOT EXISTS health_checks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		success INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Daemon lifecycle events
	CREATE TABLE IF NOT EXISTS daemon_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_connection_events_timestamp ON connection_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_connection_events_session ON connection_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_health_checks_timestamp ON health_checks(timestamp);
	CREATE INDEX IF NOT EXISTS idx_daemon_events_timestamp ON daemon_events(timestamp);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// ConnectionEvent is one persisted lifecycle event.
type ConnectionEvent struct {
	ID        int64
	SessionID string
	EventType string
	Details   string
	Timestamp time.Time
}

// LogConnectionEvent records a lifecycle event for a session. Retries
// briefly on a locked database; logging is best-effort and must never block
// daemon shutdown.
func (db *DB) LogConnectionEvent(sessionID, eventType, details string) error {
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		_, err := db.conn.Exec(
			`INSERT INTO connection_events (session_id, event_type, details, timestamp)
			 VALUES (?, ?, ?, ?)`,
			sessionID, eventType, details, time.Now(),
		)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to log connection event after %d retries: database locked", maxRetries)
}

// HealthCheck is one persisted probe outcome.
type HealthCheck struct {
	ID        int64
	Success   bool
	Duration  time.Duration
	Error     string
	Timestamp time.Time
}

// LogHealthCheck records one probe outcome.
func (db *DB) LogHealthCheck(success bool, duration time.Duration, probeErr string) error {
	_, err := db.conn.Exec(
		`INSERT INTO health_checks (success, duration_ms, error, timestamp)
		 VALUES (?, ?, ?, ?)`,
		success, duration.Milliseconds(), probeErr, time.Now(),
	)
	return err
}

// DaemonEvent is one persisted daemon lifecycle event.
type DaemonEvent struct {
	ID        int64
	EventType string
	Details   string
	Timestamp time.Time
}

// LogDaemonEvent records a daemon lifecycle event.
func (db *DB) LogDaemonEvent(eventType, details string) error {
	_, err := db.conn.Exec(
		`INSERT INTO daemon_events (event_type, details, timestamp)
		 VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
	return err
}

// RecentConnectionEvents returns the newest events, most recent first.
func (db *DB) RecentConnectionEvents(limit int) ([]ConnectionEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, session_id, event_type, details, timestamp
		 FROM connection_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ConnectionEvent
	for rows.Next() {
		var e ConnectionEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SessionEvents returns all events for one session in insertion order.
func (db *DB) SessionEvents(sessionID string) ([]ConnectionEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, session_id, event_type, details, timestamp
		 FROM connection_events
		 WHERE session_id = ?
		 ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ConnectionEvent
	for rows.Next() {
		var e ConnectionEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentHealthChecks returns the newest probe outcomes, most recent first.
func (db *DB) RecentHealthChecks(limit int) ([]HealthCheck, error) {
	rows, err := db.conn.Query(
		`SELECT id, success, duration_ms, error, timestamp
		 FROM health_checks
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []HealthCheck
	for rows.Next() {
		var c HealthCheck
		var durationMs int64
		if err := rows.Scan(&c.ID, &c.Success, &durationMs, &c.Error, &c.Timestamp); err != nil {
			return nil, err
		}
		c.Duration = time.Duration(durationMs) * time.Millisecond
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// RecentDaemonEvents returns the newest daemon events, most recent first.
func (db *DB) RecentDaemonEvents(limit int) ([]DaemonEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, event_type, details, timestamp
		 FROM daemon_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []DaemonEvent
	for rows.Next() {
		var e DaemonEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
