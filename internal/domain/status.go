package domain

import (
	"time"
)

// BatchStatus is the operator-facing view of a live batch.
type BatchStatus struct {
	BatchID        string
	ExpectedCount  int
	CompletedCount int
	SuccessCount   int
	FailureCount   int
	ElapsedMs      int64
	Cancelled      bool
	Origin         string
	InitiatedBy    string
	StartedAt      time.Time
}

func StatusOf(r *BatchRecord, now time.Time) BatchStatus {
	return BatchStatus{
		BatchID:        r.BatchID,
		ExpectedCount:  r.ExpectedCount,
		CompletedCount: r.CompletedCount,
		SuccessCount:   r.SuccessCount,
		FailureCount:   r.FailureCount,
		ElapsedMs:      r.Elapsed(now).Milliseconds(),
		Cancelled:      r.Cancelled,
		Origin:         r.Metadata.Origin,
		InitiatedBy:    r.Metadata.InitiatedBy,
		StartedAt:      r.StartedAt,
	}
}

// TriggerReason records why a completion trigger ran.
type TriggerReason string

const (
	TriggerReasonCompleted TriggerReason = "COMPLETED"
	TriggerReasonForced    TriggerReason = "FORCED"
)

func (r TriggerReason) String() string { return string(r) }

// CompletionSummary is the single audit event emitted per finished batch.
type CompletionSummary struct {
	BatchID           string
	Reason            TriggerReason
	ExpectedCount     int
	CompletedCount    int
	SuccessCount      int
	FailureCount      int
	GroupsNotified    int
	GroupsFailed      int
	ActionsDispatched int
	Elapsed           time.Duration
	Origin            string
	InitiatedBy       string
	CompletedAt       time.Time
}

// CompletionOutcome is what a single completion report did to its batch.
type CompletionOutcome string

const (
	OutcomeRecorded           CompletionOutcome = "RECORDED"
	OutcomeCompleted          CompletionOutcome = "COMPLETED"
	OutcomeCompletedCancelled CompletionOutcome = "COMPLETED_CANCELLED"
	OutcomeDuplicate          CompletionOutcome = "DUPLICATE"
)

func (o CompletionOutcome) String() string { return string(o) }
