package model

import "time"

const (
	RoleClient = "client"
	RoleWorker = "worker"
	RoleOps    = "ops"
)

// Worker is the slice of the externally-owned worker profile this engine
// reads and mutates: duty status and penalty state. Profile CRUD lives in
// the account service.
type Worker struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Skills            []string   `json:"skills,omitempty"`
	OnDuty            bool       `json:"on_duty"`
	CancellationCount int        `json:"cancellation_count"`
	BlockedUntil      *time.Time `json:"blocked_until,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsBlocked reports whether the worker is under an active cancellation
// block at the given instant.
func (w *Worker) IsBlocked(now time.Time) bool {
	return w.BlockedUntil != nil && w.BlockedUntil.After(now)
}

// Client is the read-only reference to a job poster.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
