package model

import "time"

type BidStatus string

const (
	BidStatusPending  BidStatus = "PENDING"
	BidStatusSelected BidStatus = "SELECTED"
	BidStatusRejected BidStatus = "REJECTED"
)

// Bid is a worker's offer on an open job. At most one bid exists per
// (job, worker) pair, and at most one bid per job ever reaches SELECTED
// once the job leaves open bidding.
type Bid struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	WorkerID  string    `json:"worker_id"`
	Amount    int64     `json:"amount"` // minor currency units
	Notes     *string   `json:"notes,omitempty"`
	Status    BidStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
