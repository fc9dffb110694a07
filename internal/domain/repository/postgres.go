package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"workbridge/internal/common"
	"workbridge/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// every repository method works both inside and outside ExecTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type pgStore struct {
	db *sql.DB
	q  querier
}

// NewPgStore creates the Postgres-backed Store.
func NewPgStore(db *sql.DB) Store {
	return &pgStore{db: db, q: db}
}

func (s *pgStore) Jobs() JobRepository                   { return &pgJobRepository{q: s.q} }
func (s *pgStore) Bids() BidRepository                   { return &pgBidRepository{q: s.q} }
func (s *pgStore) Confirmations() ConfirmationRepository { return &pgConfirmationRepository{q: s.q} }
func (s *pgStore) Payments() PaymentRepository           { return &pgPaymentRepository{q: s.q} }
func (s *pgStore) Workers() WorkerRepository             { return &pgWorkerRepository{q: s.q} }
func (s *pgStore) Clients() ClientRepository             { return &pgClientRepository{q: s.q} }

func (s *pgStore) ExecTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgStore.ExecTx begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgStore{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgStore.ExecTx commit: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- jobs ---

type pgJobRepository struct {
	q querier
}

const jobColumns = `id, title, slug, description, price, location_id, status, urgency,
       payment_mode, required_skills, client_id, assigned_worker_id,
       scheduled_at, created_at, updated_at`

func scanJob(row interface{ Scan(dest ...any) error }) (*model.Job, error) {
	job := &model.Job{}
	var skills []byte
	err := row.Scan(
		&job.ID, &job.Title, &job.Slug, &job.Description, &job.Price,
		&job.LocationID, &job.Status, &job.Urgency, &job.PaymentMode,
		&skills, &job.ClientID, &job.AssignedWorkerID,
		&job.ScheduledAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &job.RequiredSkills); err != nil {
			return nil, fmt.Errorf("decode required_skills: %w", err)
		}
	}
	return job, nil
}

func (r *pgJobRepository) Create(ctx context.Context, job *model.Job) error {
	skills, err := json.Marshal(job.RequiredSkills)
	if err != nil {
		return fmt.Errorf("encode required_skills: %w", err)
	}
	query := `INSERT INTO jobs (id, title, slug, description, price, location_id, status, urgency,
	              payment_mode, required_skills, client_id, assigned_worker_id, scheduled_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = r.q.ExecContext(ctx, query,
		job.ID, job.Title, job.Slug, job.Description, job.Price, job.LocationID,
		job.Status, job.Urgency, job.PaymentMode, skills, job.ClientID,
		job.AssignedWorkerID, job.ScheduledAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("job already exists: %w", common.ErrDuplicateResource)
		}
		return fmt.Errorf("pgJobRepository.Create: %w", err)
	}
	return nil
}

func (r *pgJobRepository) FindByID(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgJobRepository.FindByID: %w", err)
	}
	return job, nil
}

func (r *pgJobRepository) Update(ctx context.Context, job *model.Job) error {
	skills, err := json.Marshal(job.RequiredSkills)
	if err != nil {
		return fmt.Errorf("encode required_skills: %w", err)
	}
	query := `UPDATE jobs SET
	              title = $1, slug = $2, description = $3, price = $4, location_id = $5,
	              status = $6, urgency = $7, payment_mode = $8, required_skills = $9,
	              assigned_worker_id = $10, scheduled_at = $11, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $12`
	res, err := r.q.ExecContext(ctx, query,
		job.Title, job.Slug, job.Description, job.Price, job.LocationID,
		job.Status, job.Urgency, job.PaymentMode, skills,
		job.AssignedWorkerID, job.ScheduledAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("pgJobRepository.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *pgJobRepository) UpdateGuarded(ctx context.Context, job *model.Job, prev model.JobStatus) error {
	skills, err := json.Marshal(job.RequiredSkills)
	if err != nil {
		return fmt.Errorf("encode required_skills: %w", err)
	}
	// The status predicate makes the write a compare-and-swap: at READ
	// COMMITTED a concurrent transaction that advanced the job first
	// leaves this one with zero rows instead of a silent overwrite.
	query := `UPDATE jobs SET
	              title = $1, slug = $2, description = $3, price = $4, location_id = $5,
	              status = $6, urgency = $7, payment_mode = $8, required_skills = $9,
	              assigned_worker_id = $10, scheduled_at = $11, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $12 AND status = $13`
	res, err := r.q.ExecContext(ctx, query,
		job.Title, job.Slug, job.Description, job.Price, job.LocationID,
		job.Status, job.Urgency, job.PaymentMode, skills,
		job.AssignedWorkerID, job.ScheduledAt, job.ID, prev,
	)
	if err != nil {
		return fmt.Errorf("pgJobRepository.UpdateGuarded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s moved past %s concurrently: %w",
			job.ID, prev, common.ErrIllegalStateTransition)
	}
	return nil
}

func (r *pgJobRepository) ListOpen(ctx context.Context, limit, offset int) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
	          WHERE status = $1
	          ORDER BY created_at DESC
	          LIMIT $2 OFFSET $3`
	rows, err := r.q.QueryContext(ctx, query, model.JobStatusOpenForBids, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("pgJobRepository.ListOpen: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *pgJobRepository) FindExpirable(ctx context.Context, cutoff time.Time, limit int) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
	          WHERE status IN ($1, $2, $3, $4) AND scheduled_at < $5
	          ORDER BY scheduled_at
	          LIMIT $6`
	rows, err := r.q.QueryContext(ctx, query,
		model.JobStatusCreated, model.JobStatusOpenForBids,
		model.JobStatusBidSelected, model.JobStatusReadyToStart,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pgJobRepository.FindExpirable: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]model.Job, error) {
	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *pgJobRepository) CountActiveAssignments(ctx context.Context, workerID string) (int, error) {
	query := `SELECT COUNT(*) FROM jobs
	          WHERE assigned_worker_id = $1 AND status IN ($2, $3, $4)`
	var count int
	err := r.q.QueryRowContext(ctx, query, workerID,
		model.JobStatusReadyToStart, model.JobStatusInProgress,
		model.JobStatusCompletedPendingPayment,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pgJobRepository.CountActiveAssignments: %w", err)
	}
	return count, nil
}

// --- bids ---

type pgBidRepository struct {
	q querier
}

const bidColumns = `id, job_id, worker_id, amount, notes, status, created_at, updated_at`

func scanBid(row interface{ Scan(dest ...any) error }) (*model.Bid, error) {
	bid := &model.Bid{}
	err := row.Scan(
		&bid.ID, &bid.JobID, &bid.WorkerID, &bid.Amount, &bid.Notes,
		&bid.Status, &bid.CreatedAt, &bid.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return bid, nil
}

func (r *pgBidRepository) Create(ctx context.Context, bid *model.Bid) error {
	query := `INSERT INTO bids (id, job_id, worker_id, amount, notes, status)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.ExecContext(ctx, query,
		bid.ID, bid.JobID, bid.WorkerID, bid.Amount, bid.Notes, bid.Status,
	)
	if err != nil {
		// Unique (job_id, worker_id) index is the authoritative duplicate
		// guard behind the probabilistic pre-check.
		if isUniqueViolation(err) {
			return fmt.Errorf("worker already bid on this job: %w", common.ErrDuplicateResource)
		}
		return fmt.Errorf("pgBidRepository.Create: %w", err)
	}
	return nil
}

func (r *pgBidRepository) FindByID(ctx context.Context, id string) (*model.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = $1`
	bid, err := scanBid(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgBidRepository.FindByID: %w", err)
	}
	return bid, nil
}

func (r *pgBidRepository) FindByJobAndWorker(ctx context.Context, jobID, workerID string) (*model.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE job_id = $1 AND worker_id = $2`
	bid, err := scanBid(r.q.QueryRowContext(ctx, query, jobID, workerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgBidRepository.FindByJobAndWorker: %w", err)
	}
	return bid, nil
}

func (r *pgBidRepository) ListByJob(ctx context.Context, jobID string) ([]model.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE job_id = $1 ORDER BY created_at`
	rows, err := r.q.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("pgBidRepository.ListByJob: %w", err)
	}
	defer rows.Close()
	return collectBids(rows)
}

func (r *pgBidRepository) ListByWorker(ctx context.Context, workerID string) ([]model.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE worker_id = $1 ORDER BY created_at DESC`
	rows, err := r.q.QueryContext(ctx, query, workerID)
	if err != nil {
		return nil, fmt.Errorf("pgBidRepository.ListByWorker: %w", err)
	}
	defer rows.Close()
	return collectBids(rows)
}

func collectBids(rows *sql.Rows) ([]model.Bid, error) {
	var bids []model.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bids = append(bids, *bid)
	}
	return bids, rows.Err()
}

func (r *pgBidRepository) Update(ctx context.Context, bid *model.Bid) error {
	query := `UPDATE bids SET amount = $1, notes = $2, status = $3, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $4`
	res, err := r.q.ExecContext(ctx, query, bid.Amount, bid.Notes, bid.Status, bid.ID)
	if err != nil {
		return fmt.Errorf("pgBidRepository.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *pgBidRepository) RejectSiblings(ctx context.Context, jobID, keepBidID string) error {
	query := `UPDATE bids SET status = $1, updated_at = CURRENT_TIMESTAMP
	          WHERE job_id = $2 AND id <> $3 AND status <> $1`
	if _, err := r.q.ExecContext(ctx, query, model.BidStatusRejected, jobID, keepBidID); err != nil {
		return fmt.Errorf("pgBidRepository.RejectSiblings: %w", err)
	}
	return nil
}

// --- confirmation codes ---

type pgConfirmationRepository struct {
	q querier
}

const confirmationColumns = `id, job_id, start_code, release_code, status,
       start_attempts, release_attempts, created_at, updated_at`

func scanConfirmation(row interface{ Scan(dest ...any) error }) (*model.ConfirmationCode, error) {
	code := &model.ConfirmationCode{}
	err := row.Scan(
		&code.ID, &code.JobID, &code.StartCode, &code.ReleaseCode, &code.Status,
		&code.StartAttempts, &code.ReleaseAttempts, &code.CreatedAt, &code.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return code, nil
}

func (r *pgConfirmationRepository) Create(ctx context.Context, code *model.ConfirmationCode) error {
	query := `INSERT INTO confirmation_codes (id, job_id, start_code, release_code, status,
	              start_attempts, release_attempts)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.q.ExecContext(ctx, query,
		code.ID, code.JobID, code.StartCode, code.ReleaseCode, code.Status,
		code.StartAttempts, code.ReleaseAttempts,
	)
	if err != nil {
		// Unique job_id keeps the record 1:1 with its job.
		if isUniqueViolation(err) {
			return fmt.Errorf("confirmation codes already issued for job: %w", common.ErrDuplicateResource)
		}
		return fmt.Errorf("pgConfirmationRepository.Create: %w", err)
	}
	return nil
}

func (r *pgConfirmationRepository) FindByJobID(ctx context.Context, jobID string) (*model.ConfirmationCode, error) {
	query := `SELECT ` + confirmationColumns + ` FROM confirmation_codes WHERE job_id = $1`
	code, err := scanConfirmation(r.q.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgConfirmationRepository.FindByJobID: %w", err)
	}
	return code, nil
}

func (r *pgConfirmationRepository) Update(ctx context.Context, code *model.ConfirmationCode) error {
	query := `UPDATE confirmation_codes SET start_code = $1, release_code = $2, status = $3,
	              start_attempts = $4, release_attempts = $5, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $6`
	res, err := r.q.ExecContext(ctx, query,
		code.StartCode, code.ReleaseCode, code.Status,
		code.StartAttempts, code.ReleaseAttempts, code.ID,
	)
	if err != nil {
		return fmt.Errorf("pgConfirmationRepository.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// --- payment transactions ---

type pgPaymentRepository struct {
	q querier
}

const paymentColumns = `id, job_id, client_id, worker_id, amount, mode, status,
       gateway_ref, created_at, updated_at`

func scanPayment(row interface{ Scan(dest ...any) error }) (*model.PaymentTransaction, error) {
	txn := &model.PaymentTransaction{}
	err := row.Scan(
		&txn.ID, &txn.JobID, &txn.ClientID, &txn.WorkerID, &txn.Amount,
		&txn.Mode, &txn.Status, &txn.GatewayRef, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *pgPaymentRepository) Create(ctx context.Context, txn *model.PaymentTransaction) error {
	query := `INSERT INTO payment_transactions (id, job_id, client_id, worker_id, amount, mode,
	              status, gateway_ref)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.q.ExecContext(ctx, query,
		txn.ID, txn.JobID, txn.ClientID, txn.WorkerID, txn.Amount, txn.Mode,
		txn.Status, txn.GatewayRef,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("active payment transaction already exists for job: %w", common.ErrDuplicateResource)
		}
		return fmt.Errorf("pgPaymentRepository.Create: %w", err)
	}
	return nil
}

func (r *pgPaymentRepository) FindByID(ctx context.Context, id string) (*model.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE id = $1`
	txn, err := scanPayment(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgPaymentRepository.FindByID: %w", err)
	}
	return txn, nil
}

func (r *pgPaymentRepository) FindActiveByJobID(ctx context.Context, jobID string) (*model.PaymentTransaction, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_transactions
	          WHERE job_id = $1 AND status <> $2`
	txn, err := scanPayment(r.q.QueryRowContext(ctx, query, jobID, model.PaymentReleased))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgPaymentRepository.FindActiveByJobID: %w", err)
	}
	return txn, nil
}

func (r *pgPaymentRepository) Update(ctx context.Context, txn *model.PaymentTransaction) error {
	query := `UPDATE payment_transactions SET status = $1, gateway_ref = $2, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $3`
	res, err := r.q.ExecContext(ctx, query, txn.Status, txn.GatewayRef, txn.ID)
	if err != nil {
		return fmt.Errorf("pgPaymentRepository.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// --- workers ---

type pgWorkerRepository struct {
	q querier
}

const workerColumns = `id, name, skills, on_duty, cancellation_count, blocked_until,
       created_at, updated_at`

func scanWorker(row interface{ Scan(dest ...any) error }) (*model.Worker, error) {
	worker := &model.Worker{}
	var skills []byte
	err := row.Scan(
		&worker.ID, &worker.Name, &skills, &worker.OnDuty,
		&worker.CancellationCount, &worker.BlockedUntil,
		&worker.CreatedAt, &worker.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &worker.Skills); err != nil {
			return nil, fmt.Errorf("decode skills: %w", err)
		}
	}
	return worker, nil
}

func (r *pgWorkerRepository) Create(ctx context.Context, worker *model.Worker) error {
	skills, err := json.Marshal(worker.Skills)
	if err != nil {
		return fmt.Errorf("encode skills: %w", err)
	}
	query := `INSERT INTO workers (id, name, skills, on_duty, cancellation_count, blocked_until)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.q.ExecContext(ctx, query,
		worker.ID, worker.Name, skills, worker.OnDuty,
		worker.CancellationCount, worker.BlockedUntil,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("worker already exists: %w", common.ErrDuplicateResource)
		}
		return fmt.Errorf("pgWorkerRepository.Create: %w", err)
	}
	return nil
}

func (r *pgWorkerRepository) FindByID(ctx context.Context, id string) (*model.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE id = $1`
	worker, err := scanWorker(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgWorkerRepository.FindByID: %w", err)
	}
	return worker, nil
}

func (r *pgWorkerRepository) Update(ctx context.Context, worker *model.Worker) error {
	skills, err := json.Marshal(worker.Skills)
	if err != nil {
		return fmt.Errorf("encode skills: %w", err)
	}
	query := `UPDATE workers SET name = $1, skills = $2, on_duty = $3,
	              cancellation_count = $4, blocked_until = $5, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $6`
	res, err := r.q.ExecContext(ctx, query,
		worker.Name, skills, worker.OnDuty,
		worker.CancellationCount, worker.BlockedUntil, worker.ID,
	)
	if err != nil {
		return fmt.Errorf("pgWorkerRepository.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *pgWorkerRepository) FindBlockExpired(ctx context.Context, now time.Time, limit int) ([]model.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers
	          WHERE blocked_until IS NOT NULL AND blocked_until < $1
	          ORDER BY blocked_until
	          LIMIT $2`
	rows, err := r.q.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("pgWorkerRepository.FindBlockExpired: %w", err)
	}
	defer rows.Close()

	var workers []model.Worker
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, *worker)
	}
	return workers, rows.Err()
}

// --- clients ---

type pgClientRepository struct {
	q querier
}

func (r *pgClientRepository) Create(ctx context.Context, client *model.Client) error {
	query := `INSERT INTO clients (id, name) VALUES ($1, $2)`
	if _, err := r.q.ExecContext(ctx, query, client.ID, client.Name); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("client already exists: %w", common.ErrDuplicateResource)
		}
		return fmt.Errorf("pgClientRepository.Create: %w", err)
	}
	return nil
}

func (r *pgClientRepository) FindByID(ctx context.Context, id string) (*model.Client, error) {
	query := `SELECT id, name, created_at FROM clients WHERE id = $1`
	client := &model.Client{}
	err := r.q.QueryRowContext(ctx, query, id).Scan(&client.ID, &client.Name, &client.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgClientRepository.FindByID: %w", err)
	}
	return client, nil
}
