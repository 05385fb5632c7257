package report

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"courtnotify/internal/dispatch"
)

// History persists run summaries across runs so operators can answer
// "did this client get a notice last week" without digging through logs.
type History struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// OpenHistory creates or opens the run-history database at dbPath.
func OpenHistory(dbPath string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("report: create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("report: open history database: %w", err)
	}

	h := &History{db: db, dbPath: dbPath}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: initialize history schema: %w", err)
	}
	return h, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// Path returns the database file path.
func (h *History) Path() string {
	return h.dbPath
}

func (h *History) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		profile TEXT NOT NULL,
		target_date TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		sent INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		skipped INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_target_date ON runs(target_date);
	CREATE INDEX IF NOT EXISTS idx_runs_profile ON runs(profile);

	CREATE TABLE IF NOT EXISTS outcomes (
		run_id TEXT NOT NULL,
		client TEXT NOT NULL,
		contact TEXT NOT NULL,
		category TEXT,
		hearing_date TEXT,
		status TEXT NOT NULL,
		reason TEXT,
		attempts INTEGER NOT NULL,
		error_detail TEXT,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_contact ON outcomes(contact);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Record stores a complete run summary with its outcomes in one
// transaction.
func (h *History) Record(s *Summary) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("report: begin history transaction: %w", err)
	}
	defer tx.Rollback()

	dryRun := 0
	if s.DryRun {
		dryRun = 1
	}
	_, err = tx.Exec(`
		INSERT INTO runs (id, profile, target_date, dry_run, started_at, finished_at, sent, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.RunID, s.Profile, s.TargetDate.Format("2006-01-02"), dryRun,
		s.StartedAt, s.FinishedAt, s.Sent, s.Failed, s.Skipped)
	if err != nil {
		return fmt.Errorf("report: record run: %w", err)
	}

	for _, o := range s.Outcomes {
		hearing := ""
		if !o.HearingDate.IsZero() {
			hearing = o.HearingDate.Format("2006-01-02")
		}
		_, err = tx.Exec(`
			INSERT INTO outcomes (run_id, client, contact, category, hearing_date,
				status, reason, attempts, error_detail, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.RunID, o.Client, o.Contact, o.Category, hearing,
			string(o.Status), o.Reason, o.Attempts, o.ErrorDetail, o.Timestamp)
		if err != nil {
			return fmt.Errorf("report: record outcome for %s: %w", o.Client, err)
		}
	}

	return tx.Commit()
}

// RunRecord is one stored run, counts only.
type RunRecord struct {
	RunID      string
	Profile    string
	TargetDate string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Sent       int
	Failed     int
	Skipped    int
}

// RecentRuns returns the most recent runs, newest first.
func (h *History) RecentRuns(limit int) ([]RunRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.db.Query(`
		SELECT id, profile, target_date, dry_run, started_at, finished_at, sent, failed, skipped
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var dryRun int
		if err := rows.Scan(&r.RunID, &r.Profile, &r.TargetDate, &dryRun,
			&r.StartedAt, &r.FinishedAt, &r.Sent, &r.Failed, &r.Skipped); err != nil {
			return nil, err
		}
		r.DryRun = dryRun != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// OutcomesForContact returns every stored outcome for a contact, newest
// first.
func (h *History) OutcomesForContact(contact string) ([]dispatch.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.db.Query(`
		SELECT client, contact, category, hearing_date, status, reason, attempts, error_detail, timestamp
		FROM outcomes
		WHERE contact = ?
		ORDER BY timestamp DESC
	`, contact)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []dispatch.Outcome
	for rows.Next() {
		var o dispatch.Outcome
		var category, hearing, reason, detail sql.NullString
		var status string
		if err := rows.Scan(&o.Client, &o.Contact, &category, &hearing,
			&status, &reason, &o.Attempts, &detail, &o.Timestamp); err != nil {
			return nil, err
		}
		o.Category = category.String
		o.Status = dispatch.Status(status)
		o.Reason = reason.String
		o.ErrorDetail = detail.String
		if hearing.Valid && hearing.String != "" {
			if d, err := time.Parse("2006-01-02", hearing.String); err == nil {
				o.HearingDate = d
			}
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
