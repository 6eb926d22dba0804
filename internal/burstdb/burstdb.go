// Package burstdb persists burst transitions and per-burst traffic counters
// to SQLite, giving offline tools and operators a queryable ledger of what
// the framing layer saw.
package burstdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the ledger database at path.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id            TEXT PRIMARY KEY,
			source            TEXT,
			started_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS bursts (
			run_id            TEXT,
			burst_id          BIGINT,
			first_seen        TIMESTAMP,
			promoted_at       TIMESTAMP,
			finished_at       TIMESTAMP,
			packets           BIGINT DEFAULT 0,
			fragments         BIGINT DEFAULT 0,
			bytes             BIGINT DEFAULT 0,
			PRIMARY KEY (run_id, burst_id),
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
		CREATE TABLE IF NOT EXISTS packet_errors (
			run_id            TEXT,
			kind              TEXT,
			detail            TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

// BeginRun registers a new analysis run and returns its ID.
func (db *DB) BeginRun(source string) (string, error) {
	runID := uuid.New().String()
	_, err := db.Exec(`INSERT INTO runs (run_id, source) VALUES (?, ?)`, runID, source)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return runID, nil
}

// RecordBurstStart creates the ledger row for a burst the first time it is seen.
func (db *DB) RecordBurstStart(runID string, burstID uint32, firstSeen time.Time) error {
	_, err := db.Exec(`
		INSERT INTO bursts (run_id, burst_id, first_seen) VALUES (?, ?, ?)
		ON CONFLICT (run_id, burst_id) DO NOTHING`,
		runID, int64(burstID), firstSeen.UTC())
	if err != nil {
		return fmt.Errorf("record burst %d start: %w", burstID, err)
	}
	return nil
}

// RecordBurstPromoted stamps the time the burst ID became current.
func (db *DB) RecordBurstPromoted(runID string, burstID uint32, at time.Time) error {
	_, err := db.Exec(`UPDATE bursts SET promoted_at = ? WHERE run_id = ? AND burst_id = ?`,
		at.UTC(), runID, int64(burstID))
	if err != nil {
		return fmt.Errorf("record burst %d promotion: %w", burstID, err)
	}
	return nil
}

// RecordBurstFinished stamps the time the burst-finished notification fired.
func (db *DB) RecordBurstFinished(runID string, burstID uint32, at time.Time) error {
	_, err := db.Exec(`UPDATE bursts SET finished_at = ? WHERE run_id = ? AND burst_id = ?`,
		at.UTC(), runID, int64(burstID))
	if err != nil {
		return fmt.Errorf("record burst %d finish: %w", burstID, err)
	}
	return nil
}

// AddBurstTraffic accumulates packet/fragment/byte counters for a burst.
func (db *DB) AddBurstTraffic(runID string, burstID uint32, packets, fragments, bytes int64) error {
	_, err := db.Exec(`
		UPDATE bursts SET packets = packets + ?, fragments = fragments + ?, bytes = bytes + ?
		WHERE run_id = ? AND burst_id = ?`,
		packets, fragments, bytes, runID, int64(burstID))
	if err != nil {
		return fmt.Errorf("add traffic for burst %d: %w", burstID, err)
	}
	return nil
}

// RecordPacketError logs a dropped packet: kind is "malformed" or
// "unknown_source", detail is the error text.
func (db *DB) RecordPacketError(runID, kind, detail string) error {
	_, err := db.Exec(`INSERT INTO packet_errors (run_id, kind, detail) VALUES (?, ?, ?)`,
		runID, kind, detail)
	if err != nil {
		return fmt.Errorf("record packet error: %w", err)
	}
	return nil
}

// BurstSummary is one burst's ledger row.
type BurstSummary struct {
	BurstID    uint32
	FirstSeen  time.Time
	PromotedAt *time.Time
	FinishedAt *time.Time
	Packets    int64
	Fragments  int64
	Bytes      int64
}

// BurstSummaries returns the bursts of a run in burst-ID order.
func (db *DB) BurstSummaries(runID string) ([]BurstSummary, error) {
	rows, err := db.Query(`
		SELECT burst_id, first_seen, promoted_at, finished_at, packets, fragments, bytes
		FROM bursts WHERE run_id = ? ORDER BY burst_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query burst summaries: %w", err)
	}
	defer rows.Close()

	var out []BurstSummary
	for rows.Next() {
		var s BurstSummary
		var burstID int64
		if err := rows.Scan(&burstID, &s.FirstSeen, &s.PromotedAt, &s.FinishedAt,
			&s.Packets, &s.Fragments, &s.Bytes); err != nil {
			return nil, fmt.Errorf("scan burst summary: %w", err)
		}
		s.BurstID = uint32(burstID)
		out = append(out, s)
	}
	return out, rows.Err()
}

// PacketErrorCounts returns the number of dropped packets per error kind.
func (db *DB) PacketErrorCounts(runID string) (map[string]int64, error) {
	rows, err := db.Query(`
		SELECT kind, COUNT(*) FROM packet_errors WHERE run_id = ? GROUP BY kind`, runID)
	if err != nil {
		return nil, fmt.Errorf("query packet errors: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan packet error count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}
