package model

import "time"

type PaymentStatus string

const (
	PaymentPendingEscrow PaymentStatus = "PENDING_ESCROW"
	PaymentEscrowLocked  PaymentStatus = "ESCROW_LOCKED"
	PaymentReleased      PaymentStatus = "RELEASED"
)

// PaymentTransaction tracks escrowed funds for a job. At most one
// non-terminal (non-RELEASED) transaction exists per job; release is
// permitted only from ESCROW_LOCKED after the release code verifies.
type PaymentTransaction struct {
	ID         string        `json:"id"`
	JobID      string        `json:"job_id"`
	ClientID   string        `json:"client_id"`
	WorkerID   string        `json:"worker_id"`
	Amount     int64         `json:"amount"` // minor currency units
	Mode       PaymentMode   `json:"mode"`
	Status     PaymentStatus `json:"status"`
	GatewayRef *string       `json:"gateway_ref,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// IsTerminalPayment reports whether no further mutation is allowed.
func IsTerminalPayment(s PaymentStatus) bool {
	return s == PaymentReleased
}
