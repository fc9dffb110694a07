// Package model defines the persisted entities of the job–bid–payment
// lifecycle engine and the Job status state machine.
//
// Valid job status graph:
//
//	CREATED ──► OPEN_FOR_BIDS ──► BID_SELECTED_AWAITING_HANDSHAKE ──► READY_TO_START ──► IN_PROGRESS ──► COMPLETED_PENDING_PAYMENT ──► {PAYMENT_RELEASED, COMPLETED}
//	    │             │                        │                           │
//	    └─────────────┴────────────────────────┴───────────────────────────┴──► {CANCELLED, JOB_CLOSED_DUE_TO_EXPIRATION}
//
// PAYMENT_RELEASED, COMPLETED, CANCELLED and JOB_CLOSED_DUE_TO_EXPIRATION
// are terminal. Once a job is IN_PROGRESS it can no longer be cancelled or
// expired.
package model

import (
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusCreated                 JobStatus = "CREATED"
	JobStatusOpenForBids             JobStatus = "OPEN_FOR_BIDS"
	JobStatusBidSelected             JobStatus = "BID_SELECTED_AWAITING_HANDSHAKE"
	JobStatusReadyToStart            JobStatus = "READY_TO_START"
	JobStatusInProgress              JobStatus = "IN_PROGRESS"
	JobStatusCompletedPendingPayment JobStatus = "COMPLETED_PENDING_PAYMENT"
	JobStatusCompleted               JobStatus = "COMPLETED"
	JobStatusPaymentReleased         JobStatus = "PAYMENT_RELEASED"
	JobStatusCancelled               JobStatus = "CANCELLED"
	JobStatusClosedExpired           JobStatus = "JOB_CLOSED_DUE_TO_EXPIRATION"
)

type JobUrgency string

const (
	UrgencyLow    JobUrgency = "LOW"
	UrgencyNormal JobUrgency = "NORMAL"
	UrgencyHigh   JobUrgency = "HIGH"
)

type PaymentMode string

const (
	PaymentModeCash   PaymentMode = "CASH"
	PaymentModeEscrow PaymentMode = "ESCROW"
)

// validJobTransitions lists every allowed (from → to) pair. The
// BID_SELECTED self-loop covers manual re-selection after a declined
// handshake.
var validJobTransitions = map[JobStatus][]JobStatus{
	JobStatusCreated:     {JobStatusOpenForBids, JobStatusCancelled, JobStatusClosedExpired},
	JobStatusOpenForBids: {JobStatusBidSelected, JobStatusCancelled, JobStatusClosedExpired},
	JobStatusBidSelected: {JobStatusBidSelected, JobStatusReadyToStart, JobStatusCancelled, JobStatusClosedExpired},
	JobStatusReadyToStart: {
		JobStatusInProgress, JobStatusCancelled, JobStatusClosedExpired,
	},
	JobStatusInProgress:              {JobStatusCompletedPendingPayment},
	JobStatusCompletedPendingPayment: {JobStatusPaymentReleased, JobStatusCompleted},
	// PAYMENT_RELEASED, COMPLETED, CANCELLED, JOB_CLOSED_DUE_TO_EXPIRATION
	// are terminal and have no outgoing transitions.
}

// assignedStatuses are the statuses during which Job.AssignedWorkerID must
// be non-nil.
var assignedStatuses = map[JobStatus]bool{
	JobStatusReadyToStart:            true,
	JobStatusInProgress:              true,
	JobStatusCompletedPendingPayment: true,
	JobStatusCompleted:               true,
	JobStatusPaymentReleased:         true,
}

// ParseJobStatus converts a raw string to a JobStatus, returning an error
// for unknown values.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	switch st {
	case JobStatusCreated, JobStatusOpenForBids, JobStatusBidSelected,
		JobStatusReadyToStart, JobStatusInProgress, JobStatusCompletedPendingPayment,
		JobStatusCompleted, JobStatusPaymentReleased, JobStatusCancelled, JobStatusClosedExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// IsJobTransitionAllowed returns true when moving from → to is permitted by
// the state machine.
func IsJobTransitionAllowed(from, to JobStatus) bool {
	allowed, ok := validJobTransitions[from]
	if !ok {
		return false // terminal state
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// RequiresAssignment returns true when the status demands a non-nil
// assigned worker.
func RequiresAssignment(s JobStatus) bool {
	return assignedStatuses[s]
}

// IsTerminal returns true for statuses with no outgoing transitions.
func IsTerminal(s JobStatus) bool {
	_, ok := validJobTransitions[s]
	return !ok
}

// CancellableStatuses lists the statuses from which CANCELLED and
// JOB_CLOSED_DUE_TO_EXPIRATION remain reachable.
func CancellableStatuses() []JobStatus {
	return []JobStatus{JobStatusCreated, JobStatusOpenForBids, JobStatusBidSelected, JobStatusReadyToStart}
}

type Job struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Slug             string      `json:"slug"`
	Description      string      `json:"description"`
	Price            int64       `json:"price"` // minor currency units
	LocationID       *string     `json:"location_id,omitempty"`
	Status           JobStatus   `json:"status"`
	Urgency          JobUrgency  `json:"urgency"`
	PaymentMode      PaymentMode `json:"payment_mode"`
	RequiredSkills   []string    `json:"required_skills,omitempty"`
	ClientID         string      `json:"client_id"`
	AssignedWorkerID *string     `json:"assigned_worker_id,omitempty"`
	ScheduledAt      time.Time   `json:"scheduled_at"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}
