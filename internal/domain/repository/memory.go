package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"workbridge/internal/common"
	"workbridge/internal/domain/model"
)

// memData holds every table as a value map so snapshots are cheap shallow
// copies.
type memData struct {
	jobs          map[string]model.Job
	bids          map[string]model.Bid
	confirmations map[string]model.ConfirmationCode // keyed by job id
	payments      map[string]model.PaymentTransaction
	workers       map[string]model.Worker
	clients       map[string]model.Client
}

func (d *memData) clone() *memData {
	c := &memData{
		jobs:          make(map[string]model.Job, len(d.jobs)),
		bids:          make(map[string]model.Bid, len(d.bids)),
		confirmations: make(map[string]model.ConfirmationCode, len(d.confirmations)),
		payments:      make(map[string]model.PaymentTransaction, len(d.payments)),
		workers:       make(map[string]model.Worker, len(d.workers)),
		clients:       make(map[string]model.Client, len(d.clients)),
	}
	for k, v := range d.jobs {
		c.jobs[k] = v
	}
	for k, v := range d.bids {
		c.bids[k] = v
	}
	for k, v := range d.confirmations {
		c.confirmations[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.workers {
		c.workers[k] = v
	}
	for k, v := range d.clients {
		c.clients[k] = v
	}
	return c
}

// MemStore is the in-memory Store used by tests. ExecTx serializes closures
// behind one mutex and restores a snapshot on error, which mirrors the
// commit-or-nothing and isolation guarantees the Postgres store gets from
// the database engine.
type MemStore struct {
	mu   *sync.Mutex
	data *memData
	inTx bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		mu: &sync.Mutex{},
		data: &memData{
			jobs:          make(map[string]model.Job),
			bids:          make(map[string]model.Bid),
			confirmations: make(map[string]model.ConfirmationCode),
			payments:      make(map[string]model.PaymentTransaction),
			workers:       make(map[string]model.Worker),
			clients:       make(map[string]model.Client),
		},
	}
}

func (s *MemStore) Jobs() JobRepository                   { return &memJobRepository{s: s} }
func (s *MemStore) Bids() BidRepository                   { return &memBidRepository{s: s} }
func (s *MemStore) Confirmations() ConfirmationRepository { return &memConfirmationRepository{s: s} }
func (s *MemStore) Payments() PaymentRepository           { return &memPaymentRepository{s: s} }
func (s *MemStore) Workers() WorkerRepository             { return &memWorkerRepository{s: s} }
func (s *MemStore) Clients() ClientRepository             { return &memClientRepository{s: s} }

func (s *MemStore) ExecTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		// Nested ExecTx joins the enclosing transaction.
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	tx := &MemStore{mu: s.mu, data: s.data, inTx: true}
	if err := fn(tx); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

// lock acquires the store mutex for a single operation outside ExecTx and
// returns the matching unlock.
func (s *MemStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// --- jobs ---

type memJobRepository struct {
	s *MemStore
}

func (r *memJobRepository) Create(ctx context.Context, job *model.Job) error {
	defer r.s.lock()()
	if _, ok := r.s.data.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, common.ErrDuplicateResource)
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	r.s.data.jobs[job.ID] = *job
	return nil
}

func (r *memJobRepository) FindByID(ctx context.Context, id string) (*model.Job, error) {
	defer r.s.lock()()
	job, ok := r.s.data.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &job, nil
}

func (r *memJobRepository) Update(ctx context.Context, job *model.Job) error {
	defer r.s.lock()()
	if _, ok := r.s.data.jobs[job.ID]; !ok {
		return common.ErrNotFound
	}
	job.UpdatedAt = time.Now()
	r.s.data.jobs[job.ID] = *job
	return nil
}

func (r *memJobRepository) UpdateGuarded(ctx context.Context, job *model.Job, prev model.JobStatus) error {
	defer r.s.lock()()
	stored, ok := r.s.data.jobs[job.ID]
	if !ok {
		return common.ErrNotFound
	}
	if stored.Status != prev {
		return fmt.Errorf("job %s moved to %s concurrently: %w",
			job.ID, stored.Status, common.ErrIllegalStateTransition)
	}
	job.UpdatedAt = time.Now()
	r.s.data.jobs[job.ID] = *job
	return nil
}

func (r *memJobRepository) ListOpen(ctx context.Context, limit, offset int) ([]model.Job, error) {
	defer r.s.lock()()
	var jobs []model.Job
	for _, job := range r.s.data.jobs {
		if job.Status == model.JobStatusOpenForBids {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return page(jobs, limit, offset), nil
}

func (r *memJobRepository) FindExpirable(ctx context.Context, cutoff time.Time, limit int) ([]model.Job, error) {
	defer r.s.lock()()
	expirable := map[model.JobStatus]bool{
		model.JobStatusCreated:      true,
		model.JobStatusOpenForBids:  true,
		model.JobStatusBidSelected:  true,
		model.JobStatusReadyToStart: true,
	}
	var jobs []model.Job
	for _, job := range r.s.data.jobs {
		if expirable[job.Status] && job.ScheduledAt.Before(cutoff) {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ScheduledAt.Before(jobs[j].ScheduledAt) })
	return page(jobs, limit, 0), nil
}

func (r *memJobRepository) CountActiveAssignments(ctx context.Context, workerID string) (int, error) {
	defer r.s.lock()()
	active := map[model.JobStatus]bool{
		model.JobStatusReadyToStart:            true,
		model.JobStatusInProgress:              true,
		model.JobStatusCompletedPendingPayment: true,
	}
	count := 0
	for _, job := range r.s.data.jobs {
		if job.AssignedWorkerID != nil && *job.AssignedWorkerID == workerID && active[job.Status] {
			count++
		}
	}
	return count, nil
}

func page(jobs []model.Job, limit, offset int) []model.Job {
	if offset >= len(jobs) {
		return nil
	}
	jobs = jobs[offset:]
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// --- bids ---

type memBidRepository struct {
	s *MemStore
}

func (r *memBidRepository) Create(ctx context.Context, bid *model.Bid) error {
	defer r.s.lock()()
	for _, existing := range r.s.data.bids {
		if existing.JobID == bid.JobID && existing.WorkerID == bid.WorkerID {
			return fmt.Errorf("worker already bid on this job: %w", common.ErrDuplicateResource)
		}
	}
	now := time.Now()
	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = now
	}
	bid.UpdatedAt = now
	r.s.data.bids[bid.ID] = *bid
	return nil
}

func (r *memBidRepository) FindByID(ctx context.Context, id string) (*model.Bid, error) {
	defer r.s.lock()()
	bid, ok := r.s.data.bids[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &bid, nil
}

func (r *memBidRepository) FindByJobAndWorker(ctx context.Context, jobID, workerID string) (*model.Bid, error) {
	defer r.s.lock()()
	for _, bid := range r.s.data.bids {
		if bid.JobID == jobID && bid.WorkerID == workerID {
			b := bid
			return &b, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memBidRepository) ListByJob(ctx context.Context, jobID string) ([]model.Bid, error) {
	defer r.s.lock()()
	var bids []model.Bid
	for _, bid := range r.s.data.bids {
		if bid.JobID == jobID {
			bids = append(bids, bid)
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].CreatedAt.Before(bids[j].CreatedAt) })
	return bids, nil
}

func (r *memBidRepository) ListByWorker(ctx context.Context, workerID string) ([]model.Bid, error) {
	defer r.s.lock()()
	var bids []model.Bid
	for _, bid := range r.s.data.bids {
		if bid.WorkerID == workerID {
			bids = append(bids, bid)
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].CreatedAt.After(bids[j].CreatedAt) })
	return bids, nil
}

func (r *memBidRepository) Update(ctx context.Context, bid *model.Bid) error {
	defer r.s.lock()()
	if _, ok := r.s.data.bids[bid.ID]; !ok {
		return common.ErrNotFound
	}
	bid.UpdatedAt = time.Now()
	r.s.data.bids[bid.ID] = *bid
	return nil
}

func (r *memBidRepository) RejectSiblings(ctx context.Context, jobID, keepBidID string) error {
	defer r.s.lock()()
	for id, bid := range r.s.data.bids {
		if bid.JobID == jobID && id != keepBidID && bid.Status != model.BidStatusRejected {
			bid.Status = model.BidStatusRejected
			bid.UpdatedAt = time.Now()
			r.s.data.bids[id] = bid
		}
	}
	return nil
}

// --- confirmation codes ---

type memConfirmationRepository struct {
	s *MemStore
}

func (r *memConfirmationRepository) Create(ctx context.Context, code *model.ConfirmationCode) error {
	defer r.s.lock()()
	if _, ok := r.s.data.confirmations[code.JobID]; ok {
		return fmt.Errorf("confirmation codes already issued for job: %w", common.ErrDuplicateResource)
	}
	now := time.Now()
	if code.CreatedAt.IsZero() {
		code.CreatedAt = now
	}
	code.UpdatedAt = now
	r.s.data.confirmations[code.JobID] = *code
	return nil
}

func (r *memConfirmationRepository) FindByJobID(ctx context.Context, jobID string) (*model.ConfirmationCode, error) {
	defer r.s.lock()()
	code, ok := r.s.data.confirmations[jobID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &code, nil
}

func (r *memConfirmationRepository) Update(ctx context.Context, code *model.ConfirmationCode) error {
	defer r.s.lock()()
	if _, ok := r.s.data.confirmations[code.JobID]; !ok {
		return common.ErrNotFound
	}
	code.UpdatedAt = time.Now()
	r.s.data.confirmations[code.JobID] = *code
	return nil
}

// --- payment transactions ---

type memPaymentRepository struct {
	s *MemStore
}

func (r *memPaymentRepository) Create(ctx context.Context, txn *model.PaymentTransaction) error {
	defer r.s.lock()()
	for _, existing := range r.s.data.payments {
		if existing.JobID == txn.JobID && !model.IsTerminalPayment(existing.Status) {
			return fmt.Errorf("active payment transaction already exists for job: %w", common.ErrDuplicateResource)
		}
	}
	now := time.Now()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now
	r.s.data.payments[txn.ID] = *txn
	return nil
}

func (r *memPaymentRepository) FindByID(ctx context.Context, id string) (*model.PaymentTransaction, error) {
	defer r.s.lock()()
	txn, ok := r.s.data.payments[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &txn, nil
}

func (r *memPaymentRepository) FindActiveByJobID(ctx context.Context, jobID string) (*model.PaymentTransaction, error) {
	defer r.s.lock()()
	for _, txn := range r.s.data.payments {
		if txn.JobID == jobID && !model.IsTerminalPayment(txn.Status) {
			t := txn
			return &t, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memPaymentRepository) Update(ctx context.Context, txn *model.PaymentTransaction) error {
	defer r.s.lock()()
	if _, ok := r.s.data.payments[txn.ID]; !ok {
		return common.ErrNotFound
	}
	txn.UpdatedAt = time.Now()
	r.s.data.payments[txn.ID] = *txn
	return nil
}

// --- workers ---

type memWorkerRepository struct {
	s *MemStore
}

func (r *memWorkerRepository) Create(ctx context.Context, worker *model.Worker) error {
	defer r.s.lock()()
	if _, ok := r.s.data.workers[worker.ID]; ok {
		return fmt.Errorf("worker %s: %w", worker.ID, common.ErrDuplicateResource)
	}
	now := time.Now()
	if worker.CreatedAt.IsZero() {
		worker.CreatedAt = now
	}
	worker.UpdatedAt = now
	r.s.data.workers[worker.ID] = *worker
	return nil
}

func (r *memWorkerRepository) FindByID(ctx context.Context, id string) (*model.Worker, error) {
	defer r.s.lock()()
	worker, ok := r.s.data.workers[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &worker, nil
}

func (r *memWorkerRepository) Update(ctx context.Context, worker *model.Worker) error {
	defer r.s.lock()()
	if _, ok := r.s.data.workers[worker.ID]; !ok {
		return common.ErrNotFound
	}
	worker.UpdatedAt = time.Now()
	r.s.data.workers[worker.ID] = *worker
	return nil
}

func (r *memWorkerRepository) FindBlockExpired(ctx context.Context, now time.Time, limit int) ([]model.Worker, error) {
	defer r.s.lock()()
	var workers []model.Worker
	for _, worker := range r.s.data.workers {
		if worker.BlockedUntil != nil && worker.BlockedUntil.Before(now) {
			workers = append(workers, worker)
		}
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].BlockedUntil.Before(*workers[j].BlockedUntil) })
	if limit > 0 && len(workers) > limit {
		workers = workers[:limit]
	}
	return workers, nil
}

// --- clients ---

type memClientRepository struct {
	s *MemStore
}

func (r *memClientRepository) Create(ctx context.Context, client *model.Client) error {
	defer r.s.lock()()
	if _, ok := r.s.data.clients[client.ID]; ok {
		return fmt.Errorf("client %s: %w", client.ID, common.ErrDuplicateResource)
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now()
	}
	r.s.data.clients[client.ID] = *client
	return nil
}

func (r *memClientRepository) FindByID(ctx context.Context, id string) (*model.Client, error) {
	defer r.s.lock()()
	client, ok := r.s.data.clients[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &client, nil
}
