package automation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specforge/internal/interfaces"
	"github.com/ternarybob/specforge/internal/models"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS automation_jobs (
	id          TEXT PRIMARY KEY,
	job_type    TEXT NOT NULL,
	dedupe_key  TEXT NOT NULL UNIQUE,
	status      TEXT NOT NULL,
	payload     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_automation_jobs_status ON automation_jobs(status, created_at);

CREATE TABLE IF NOT EXISTS automation_audit (
	job_id      TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	note        TEXT NOT NULL DEFAULT '',
	at          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_automation_audit_job ON automation_audit(job_id, at);
`

// Store is the sqlite-backed automation job store. Jobs deduplicate on
// dedupe_key and every status change leaves an audit row.
type Store struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewStore opens (or creates) the sqlite database at path
func NewStore(path string, logger arbor.ILogger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening automation db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating automation db: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue inserts a queued job, or returns the existing job when the
// dedupe key is already present. The bool reports whether a new row was
// created.
func (s *Store) Enqueue(ctx context.Context, jobType, dedupeKey, payload string) (*models.AutomationJob, bool, error) {
	now := time.Now().UTC()
	id := uuid.NewString()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_jobs (id, job_type, dedupe_key, status, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dedupe_key) DO NOTHING`,
		id, jobType, dedupeKey, string(models.AutomationQueued), payload, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("enqueuing automation job: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	job, err := s.jobByDedupeKey(ctx, dedupeKey)
	if err != nil {
		return nil, false, err
	}
	if inserted > 0 {
		s.logger.Info().Str("job", job.ID).Str("type", jobType).Msg("Automation job enqueued")
	} else {
		s.logger.Debug().Str("job", job.ID).Str("dedupe_key", dedupeKey).Msg("Automation job deduplicated")
	}
	return job, inserted > 0, nil
}

// Get returns one job by ID
func (s *Store) Get(ctx context.Context, jobID string) (*models.AutomationJob, error) {
	job, err := s.scanJob(s.db.QueryRowContext(ctx, `
		SELECT id, job_type, dedupe_key, status, payload, created_at, updated_at
		FROM automation_jobs WHERE id = ?`, jobID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: automation job %s", interfaces.ErrProductNotFound, jobID)
	}
	return job, err
}

// Transition moves a job to a new status, writing the audit row in the
// same transaction. Illegal moves return ErrInvalidTransition.
func (s *Store) Transition(ctx context.Context, jobID string, to models.AutomationStatus, note string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var from models.AutomationStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM automation_jobs WHERE id = ?`, jobID).Scan(&from)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: automation job %s", interfaces.ErrProductNotFound, jobID)
	}
	if err != nil {
		return err
	}
	if !models.CanTransitionAutomation(from, to) {
		return fmt.Errorf("%w: automation job %s -> %s", interfaces.ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE automation_jobs SET status = ?, updated_at = ? WHERE id = ?`, string(to), now, jobID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO automation_audit (job_id, from_status, to_status, note, at)
		VALUES (?, ?, ?, ?, ?)`, jobID, string(from), string(to), note, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Debug().Str("job", jobID).Str("from", string(from)).Str("to", string(to)).Msg("Automation job transitioned")
	return nil
}

// Claim moves the oldest queued job to running and returns it. The bool
// is false when the queue is empty.
func (s *Store) Claim(ctx context.Context) (*models.AutomationJob, bool, error) {
	job, err := s.scanJob(s.db.QueryRowContext(ctx, `
		SELECT id, job_type, dedupe_key, status, payload, created_at, updated_at
		FROM automation_jobs WHERE status = ? ORDER BY created_at LIMIT 1`,
		string(models.AutomationQueued)))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := s.Transition(ctx, job.ID, models.AutomationRunning, "claimed"); err != nil {
		return nil, false, err
	}
	job.Status = models.AutomationRunning
	return job, true, nil
}

// AuditTrail returns the transition history for a job, oldest first
func (s *Store) AuditTrail(ctx context.Context, jobID string) ([]models.AutomationAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, from_status, to_status, note, at
		FROM automation_audit WHERE job_id = ? ORDER BY at, rowid`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AutomationAudit
	for rows.Next() {
		var row models.AutomationAudit
		if err := rows.Scan(&row.JobID, &row.FromStatus, &row.ToStatus, &row.Note, &row.At); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ExpireStale fails queued jobs older than the TTL, leaving an audit
// trail. Returns the number of jobs expired.
func (s *Store) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM automation_jobs WHERE status = ? AND created_at < ?`,
		string(models.AutomationQueued), cutoff)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		if err := s.Transition(ctx, id, models.AutomationFailed, "ttl_expired"); err != nil {
			s.logger.Warn().Err(err).Str("job", id).Msg("Failed to expire stale job")
			continue
		}
		expired++
	}
	if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("Expired stale automation jobs")
	}
	return expired, nil
}

// ParkedJobs lists failed jobs whose latest audit note marks a domain
// backoff park rather than a real handler failure
func (s *Store) ParkedJobs(ctx context.Context) ([]models.AutomationJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT j.id, j.job_type, j.dedupe_key, j.status, j.payload, j.created_at, j.updated_at
		FROM automation_jobs j
		WHERE j.status = ?
		  AND (SELECT a.note FROM automation_audit a WHERE a.job_id = j.id ORDER BY a.at DESC, a.rowid DESC LIMIT 1)
		      LIKE 'domain_backoff:%'
		ORDER BY j.created_at`, string(models.AutomationFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AutomationJob
	for rows.Next() {
		var job models.AutomationJob
		if err := rows.Scan(&job.ID, &job.JobType, &job.DedupeKey, &job.Status, &job.Payload, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) jobByDedupeKey(ctx context.Context, dedupeKey string) (*models.AutomationJob, error) {
	return s.scanJob(s.db.QueryRowContext(ctx, `
		SELECT id, job_type, dedupe_key, status, payload, created_at, updated_at
		FROM automation_jobs WHERE dedupe_key = ?`, dedupeKey))
}

func (s *Store) scanJob(row *sql.Row) (*models.AutomationJob, error) {
	var job models.AutomationJob
	err := row.Scan(&job.ID, &job.JobType, &job.DedupeKey, &job.Status, &job.Payload, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
