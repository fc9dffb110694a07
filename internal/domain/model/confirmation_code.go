package model

import "time"

type ConfirmationStatus string

const (
	ConfirmationStartPending   ConfirmationStatus = "START_PENDING"
	ConfirmationReleasePending ConfirmationStatus = "RELEASE_PENDING"
	ConfirmationCompleted      ConfirmationStatus = "COMPLETED"
)

// CodeLength is the number of ASCII digits in each confirmation code.
const CodeLength = 6

// MaxCodeAttempts is the per-phase verification attempt budget. Once a
// phase counter reaches this value, further verification calls fail with
// ErrLockedOut until the codes are regenerated.
const MaxCodeAttempts = 5

// ConfirmationCode holds the start and release codes for a job, exactly
// one record per job. Both codes are stored plainly; omitting the code a
// given role must not see is the handler layer's job, not storage's.
type ConfirmationCode struct {
	ID              string             `json:"id"`
	JobID           string             `json:"job_id"`
	StartCode       string             `json:"start_code,omitempty"`
	ReleaseCode     string             `json:"release_code,omitempty"`
	Status          ConfirmationStatus `json:"status"`
	StartAttempts   int                `json:"start_attempts"`
	ReleaseAttempts int                `json:"release_attempts"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}
