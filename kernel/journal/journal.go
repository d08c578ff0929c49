// Package journal persists delivery traces to SQLite, so per-cycle message
// logs survive the process and runs can be compared after the fact.
//
// Persistence is strictly opt-in: the kernel itself keeps no on-disk state.
package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/agentsim/agentsim/kernel/trace"

	_ "modernc.org/sqlite"
)

// Journal wraps a SQLite database holding delivery records grouped by run.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database and initializes the schema.
func Open(path string) (*Journal, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deliveries (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run        TEXT NOT NULL,
		cycle      INTEGER NOT NULL,
		vtime      REAL NOT NULL,
		topic      TEXT NOT NULL,
		sender     TEXT,
		receiver   TEXT,
		recipients TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deliveries_run ON deliveries(run, cycle);
	CREATE INDEX IF NOT EXISTS idx_deliveries_topic ON deliveries(topic);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Append writes the records of one run in a single transaction. Recipient
// lists are stored comma-joined; agent uuids never contain commas.
func (j *Journal) Append(run string, records []trace.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO deliveries (run, cycle, vtime, topic, sender, receiver, recipients, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range records {
		if _, err := stmt.Exec(run, r.Cycle, r.Time, r.Topic, r.Sender, r.Receiver,
			strings.Join(r.Recipients, ","), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert delivery: %w", err)
		}
	}
	return tx.Commit()
}

// Count returns the number of recorded deliveries for a run.
func (j *Journal) Count(run string) (int, error) {
	var n int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM deliveries WHERE run = ?`, run).Scan(&n)
	return n, err
}

// Runs lists the distinct run names in the journal, ordered by name.
func (j *Journal) Runs() ([]string, error) {
	rows, err := j.db.Query(`SELECT DISTINCT run FROM deliveries ORDER BY run`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Load reads back the delivery records of a run in insertion order.
func (j *Journal) Load(run string) ([]trace.DeliveryRecord, error) {
	rows, err := j.db.Query(`
		SELECT cycle, vtime, topic, sender, receiver, recipients
		FROM deliveries WHERE run = ? ORDER BY id`, run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []trace.DeliveryRecord
	for rows.Next() {
		var r trace.DeliveryRecord
		var recipients string
		if err := rows.Scan(&r.Cycle, &r.Time, &r.Topic, &r.Sender, &r.Receiver, &recipients); err != nil {
			return nil, err
		}
		if recipients != "" {
			r.Recipients = strings.Split(recipients, ",")
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
