package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding generated content, the dedup
// ledger, the voice-profile singleton, run records, the signal mirror, and
// the publish job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "herald.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// --- Content ---

// SaveContent inserts a content row and returns its autoincrement id.
func (s *Store) SaveContent(c ContentRecord) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO content (uuid, body, kind, source_description, relevance_score, brand_score, image_ref, source_type, source_id, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UUID, c.Body, c.Kind, c.SourceDescription, c.RelevanceScore, c.BrandScore,
		c.ImageRef, c.SourceType, c.SourceID, c.ContentHash, c.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetContentByUUID returns a single content row.
func (s *Store) GetContentByUUID(id string) (ContentRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, uuid, body, kind, source_description, relevance_score, brand_score, image_ref, source_type, source_id, content_hash, created_at
		FROM content WHERE uuid = ?`, id)
	return scanContent(row)
}

// ListContent returns the most recent content rows, newest first.
func (s *Store) ListContent(limit int) ([]ContentRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, uuid, body, kind, source_description, relevance_score, brand_score, image_ref, source_type, source_id, content_hash, created_at
		FROM content ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ContentRecord
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(r rowScanner) (ContentRecord, error) {
	var c ContentRecord
	var createdAt string
	err := r.Scan(&c.ID, &c.UUID, &c.Body, &c.Kind, &c.SourceDescription, &c.RelevanceScore,
		&c.BrandScore, &c.ImageRef, &c.SourceType, &c.SourceID, &c.ContentHash, &createdAt)
	if err == sql.ErrNoRows {
		return ContentRecord{}, ErrNotFound
	}
	if err != nil {
		return ContentRecord{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return ContentRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t
	return c, nil
}

// --- Ledger ---

// InsertLedgerEntry atomically inserts a ledger row. An empty ContentHash
// is stored as NULL so mark-processed entries are exempt from the
// content-hash uniqueness constraint. Returns ErrDuplicate when either
// uniqueness invariant is violated.
func (s *Store) InsertLedgerEntry(e LedgerEntry) error {
	var hash any
	if e.ContentHash != "" {
		hash = e.ContentHash
	}
	_, err := s.db.Exec(`
		INSERT INTO ledger (source_type, source_id, content_hash, content_uuid, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.SourceType, e.SourceID, hash, e.ContentUUID, e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: ledger entry %s/%s", ErrDuplicate, e.SourceType, e.SourceID)
	}
	return err
}

// HasLedgerEntry reports whether a (sourceType, sourceID) pair was processed.
func (s *Store) HasLedgerEntry(sourceType, sourceID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM ledger WHERE source_type = ? AND source_id = ?)`,
		sourceType, sourceID,
	).Scan(&exists)
	return exists, err
}

// HasContentHash reports whether any ledger entry carries the given hash.
func (s *Store) HasContentHash(hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM ledger WHERE content_hash = ?)`, hash,
	).Scan(&exists)
	return exists, err
}

// isUniqueViolation matches sqlite's constraint error text. modernc.org/sqlite
// does not export typed constraint errors, so string matching is the
// supported detection path.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Voice profile singleton ---

// SaveVoiceProfile upserts the single profile row.
func (s *Store) SaveVoiceProfile(data string, updatedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO voice_profile (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		data, updatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// LoadVoiceProfile returns the stored profile JSON and its update time,
// or ErrNotFound when no profile has been learned yet.
func (s *Store) LoadVoiceProfile() (string, time.Time, error) {
	var data, updatedAt string
	err := s.db.QueryRow(`SELECT data, updated_at FROM voice_profile WHERE id = 1`).Scan(&data, &updatedAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return data, t, nil
}

// --- Runs ---

// CreateRun inserts a run record and returns its monotonic id.
func (s *Store) CreateRun(correlationID string, startedAt time.Time) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO runs (correlation_id, state, started_at) VALUES (?, 'idle', ?)`,
		correlationID, startedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateRunState records a state transition.
func (s *Store) UpdateRunState(id int64, state string) error {
	res, err := s.db.Exec(`UPDATE runs SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishRun records the terminal state, counts, and error log for a run.
func (s *Store) FinishRun(r RunRecord) error {
	res, err := s.db.Exec(`
		UPDATE runs SET state = ?, finished_at = ?, processed = ?, generated = ?, skipped = ?, errors = ?, error_log = ?
		WHERE id = ?`,
		r.State, r.FinishedAt.UTC().Format(time.RFC3339),
		r.Processed, r.Generated, r.Skipped, r.Errors, r.ErrorLog, r.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRecentRuns returns the latest run records, newest first.
func (s *Store) GetRecentRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, correlation_id, state, started_at, finished_at, processed, generated, skipped, errors, error_log
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RunRecord
	for rows.Next() {
		var r RunRecord
		var startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.CorrelationID, &r.State, &startedAt, &finishedAt,
			&r.Processed, &r.Generated, &r.Skipped, &r.Errors, &r.ErrorLog); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at for run %d: %w", r.ID, err)
		}
		if finishedAt.Valid {
			if r.FinishedAt, err = time.Parse(time.RFC3339, finishedAt.String); err != nil {
				return nil, fmt.Errorf("parsing finished_at for run %d: %w", r.ID, err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Signal mirror ---

// SaveSignalMirror upserts a gathered signal for analytics and supplemental
// sourcing.
func (s *Store) SaveSignalMirror(rec SignalRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO signals (id, kind, payload_json, score, captured_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET score = excluded.score`,
		rec.ID, rec.Kind, rec.PayloadJSON, rec.Score, rec.CapturedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetMirrorSignals returns the most recent mirrored signals of a kind.
func (s *Store) GetMirrorSignals(kind string, limit int) ([]SignalRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, payload_json, score, captured_at
		FROM signals WHERE kind = ? ORDER BY captured_at DESC LIMIT ?`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SignalRecord
	for rows.Next() {
		var rec SignalRecord
		var capturedAt string
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.PayloadJSON, &rec.Score, &capturedAt); err != nil {
			return nil, err
		}
		if rec.CapturedAt, err = time.Parse(time.RFC3339, capturedAt); err != nil {
			return nil, fmt.Errorf("parsing captured_at: %w", err)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// --- Jobs ---

// EnqueueJob inserts a pending job.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob atomically claims the oldest runnable pending job of the
// given types, or returns nil when none is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

// CompleteJob marks a running job completed.
func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failure, rescheduling with exponential backoff until
// the attempt budget is exhausted.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
