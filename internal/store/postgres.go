package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/meshgen/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Tenants ---

func (s *PostgresStore) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	var t models.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM tenants WHERE name = 'default' LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default tenant: %w", err)
	}
	return &t, nil
}

// --- API Keys ---

const apiKeyColumns = `id, tenant_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, external_job_id, owner_id, api_status, progress, model_url, error_message, created_at, updated_at, expires_at`

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.ExternalJobID, &j.OwnerID, &j.APIStatus, &j.Progress,
		&j.ModelURL, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt, &j.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, external_job_id, owner_id, api_status, progress, model_url, error_message, created_at, updated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.ExternalJobID, job.OwnerID, job.APIStatus, job.Progress, job.ModelURL,
		job.ErrorMessage, job.CreatedAt, job.UpdatedAt, job.ExpiresAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJobByExternalID(ctx context.Context, externalJobID string) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE external_job_id = $1`, externalJobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by external id: %w", err)
	}
	return j, nil
}

// UpdateJobStatus performs a single conditional UPDATE so that two writers
// racing on the same job can never move it out of a terminal status.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, apiStatus string, opts ...JobUpdateOption) (*models.Job, error) {
	progress, modelURL, errMsg, updatedAt := ApplyJobUpdateOptions(opts...)

	sets := []string{"api_status = $3", "updated_at = $4"}
	args := []any{id, models.TerminalAPIStatuses(), apiStatus, updatedAt}
	argIdx := 5

	if progress != nil {
		sets = append(sets, fmt.Sprintf("progress = $%d", argIdx))
		args = append(args, *progress)
		argIdx++
	}
	if modelURL != nil {
		sets = append(sets, fmt.Sprintf("model_url = $%d", argIdx))
		args = append(args, *modelURL)
		argIdx++
	}
	if errMsg != nil {
		sets = append(sets, fmt.Sprintf("error_message = $%d", argIdx))
		args = append(args, *errMsg)
	}

	query := `UPDATE jobs SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 AND api_status <> ALL($2) RETURNING ` + jobColumns

	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the job does not exist or it is already terminal.
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrJobTerminal
	}
	if err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) BackfillJobModelURL(ctx context.Context, id uuid.UUID, modelURL string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET model_url = $2, updated_at = $3 WHERE id = $1 AND model_url IS NULL`,
		id, modelURL, at)
	if err != nil {
		return false, fmt.Errorf("backfill job model url: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) listJobs(ctx context.Context, op string, where string, filter JobFilter) ([]*models.Job, error) {
	filter = filter.normalized()

	args := []any{models.TerminalAPIStatuses(), filter.Now}
	conditions := []string{"j.api_status <> ALL($1)", where}
	if filter.OwnerID != nil {
		conditions = append(conditions, fmt.Sprintf("j.owner_id = $%d", len(args)+1))
		args = append(args, *filter.OwnerID)
	}
	args = append(args, filter.Limit)

	query := fmt.Sprintf(
		`SELECT j.id, j.external_job_id, j.owner_id, j.api_status, j.progress, j.model_url,
		        j.error_message, j.created_at, j.updated_at, j.expires_at
		 FROM jobs j LEFT JOIN models m ON m.job_id = j.id
		 WHERE %s ORDER BY j.updated_at ASC LIMIT $%d`,
		strings.Join(conditions, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return scanJobs(rows)
}

func (s *PostgresStore) ListRefreshableJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	return s.listJobs(ctx, "list refreshable jobs",
		`j.expires_at >= $2 AND (m.id IS NULL OR m.model_status <> 'completed')`, filter)
}

func (s *PostgresStore) ListExpiredJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	return s.listJobs(ctx, "list expired jobs", `j.expires_at < $2`, filter)
}

func (s *PostgresStore) ListJobsWithCompletedModel(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	return s.listJobs(ctx, "list jobs with completed model",
		`j.expires_at >= $2 AND m.model_status = 'completed'`, filter)
}

// --- Models ---

const modelColumns = `id, owner_id, model_status, job_id, image_urls, model_url, created_at, updated_at`

func scanModel(row rowScanner) (*models.Model, error) {
	var m models.Model
	err := row.Scan(&m.ID, &m.OwnerID, &m.ModelStatus, &m.JobID, &m.ImageURLs,
		&m.ModelURL, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) CreateModel(ctx context.Context, m *models.Model) error {
	if m.ImageURLs == nil {
		m.ImageURLs = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO models (id, owner_id, model_status, job_id, image_urls, model_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.OwnerID, m.ModelStatus, m.JobID, m.ImageURLs, m.ModelURL, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create model: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetModel(ctx context.Context, id uuid.UUID) (*models.Model, error) {
	m, err := scanModel(s.pool.QueryRow(ctx, `SELECT `+modelColumns+` FROM models WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetModelByJobID(ctx context.Context, jobID uuid.UUID) (*models.Model, error) {
	m, err := scanModel(s.pool.QueryRow(ctx, `SELECT `+modelColumns+` FROM models WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get model by job: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) UpdateModelStatus(ctx context.Context, id uuid.UUID, status string, opts ...ModelUpdateOption) (*models.Model, error) {
	modelURL, updatedAt := ApplyModelUpdateOptions(opts...)

	query := `UPDATE models SET model_status = $2, updated_at = $3`
	args := []any{id, status, updatedAt}
	if modelURL != nil {
		query += ", model_url = $4"
		args = append(args, *modelURL)
	}
	query += " WHERE id = $1 RETURNING " + modelColumns

	m, err := scanModel(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update model status: %w", err)
	}
	return m, nil
}

// AttachJob links a job to the model and moves it into the generating status.
func (s *PostgresStore) AttachJob(ctx context.Context, modelID uuid.UUID, jobID uuid.UUID) (*models.Model, error) {
	m, err := scanModel(s.pool.QueryRow(ctx,
		`UPDATE models SET job_id = $2, model_status = $3, updated_at = $4
		 WHERE id = $1 RETURNING `+modelColumns,
		modelID, jobID, models.ModelStatusGenerating, time.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("attach job to model: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) DeleteModel(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM models WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
