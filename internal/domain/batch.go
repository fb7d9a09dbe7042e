package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Metadata is caller-supplied context handed to the completion trigger.
type Metadata struct {
	InitiatedBy string            `json:"initiatedBy"`
	Origin      string            `json:"origin"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

func (m Metadata) Validate() error {
	if strings.TrimSpace(m.InitiatedBy) == "" {
		return fmt.Errorf("%w: metadata.initiatedBy is required", ErrValidation)
	}
	if strings.TrimSpace(m.Origin) == "" {
		return fmt.Errorf("%w: metadata.origin is required", ErrValidation)
	}
	return nil
}

// Item is the summary of one finished job kept on the batch record.
type Item struct {
	JobID    string          `json:"jobId"`
	Success  bool            `json:"success"`
	GroupKey string          `json:"groupKey,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// BatchRecord is the shared completion-tracking state of one batch.
type BatchRecord struct {
	BatchID        string            `json:"batchId"`
	ExpectedCount  int               `json:"expectedCount"`
	CompletedCount int               `json:"completedCount"`
	SuccessCount   int               `json:"successCount"`
	FailureCount   int               `json:"failureCount"`
	Items          []Item            `json:"items"`
	GroupedItems   map[string][]Item `json:"groupedItems"`
	StartedAt      time.Time         `json:"startedAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	Metadata       Metadata          `json:"metadata"`
	Cancelled      bool              `json:"cancelled"`
	CancelledAt    *time.Time        `json:"cancelledAt,omitempty"`
	Finished       bool              `json:"finished,omitempty"`
	FinishedAt     *time.Time        `json:"finishedAt,omitempty"`
}

func NewBatchRecord(batchID string, expectedCount int, metadata Metadata, now time.Time) (*BatchRecord, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is required", ErrValidation)
	}
	if expectedCount < 1 {
		return nil, fmt.Errorf("%w: expected count must be >= 1 (got %d)", ErrValidation, expectedCount)
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}

	now = now.UTC()
	return &BatchRecord{
		BatchID:       batchID,
		ExpectedCount: expectedCount,
		Items:         []Item{},
		GroupedItems:  map[string][]Item{},
		StartedAt:     now,
		UpdatedAt:     now,
		Metadata:      metadata,
	}, nil
}

// IsComplete reports whether every expected job has been accounted for.
func (r *BatchRecord) IsComplete() bool {
	return r.CompletedCount >= r.ExpectedCount
}

// Apply folds one job outcome into the record. It returns false, leaving the
// record untouched, when the batch is already complete or finished.
func (r *BatchRecord) Apply(item Item, now time.Time) bool {
	if r.Finished || r.IsComplete() {
		return false
	}

	r.CompletedCount++
	if item.Success {
		r.SuccessCount++
	} else {
		r.FailureCount++
	}

	if item.GroupKey != "" {
		r.Items = append(r.Items, item)
		if r.GroupedItems == nil {
			r.GroupedItems = map[string][]Item{}
		}
		r.GroupedItems[item.GroupKey] = append(r.GroupedItems[item.GroupKey], item)
	}

	r.UpdatedAt = now.UTC()
	return true
}

func (r *BatchRecord) Cancel(now time.Time) {
	if r.Cancelled {
		return
	}
	at := now.UTC()
	r.Cancelled = true
	r.CancelledAt = &at
	r.UpdatedAt = at
}

// Finish marks the record terminal. A finished record is never applied to or
// triggered again, even if it outlives its deletion.
func (r *BatchRecord) Finish(now time.Time) {
	if r.Finished {
		return
	}
	at := now.UTC()
	r.Finished = true
	r.FinishedAt = &at
	r.UpdatedAt = at
}

// CheckInvariants verifies the counter relationships of a loaded record.
func (r *BatchRecord) CheckInvariants() error {
	if r.CompletedCount != r.SuccessCount+r.FailureCount {
		return fmt.Errorf("batch %s: completed=%d != success=%d + failure=%d",
			r.BatchID, r.CompletedCount, r.SuccessCount, r.FailureCount)
	}
	if r.CompletedCount > r.ExpectedCount {
		return fmt.Errorf("batch %s: completed=%d exceeds expected=%d",
			r.BatchID, r.CompletedCount, r.ExpectedCount)
	}
	return nil
}

func (r *BatchRecord) Elapsed(now time.Time) time.Duration {
	elapsed := now.Sub(r.StartedAt)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func EncodeRecord(r *BatchRecord) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: batch record is required", ErrValidation)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch record %s: %w", r.BatchID, err)
	}
	return data, nil
}

func DecodeRecord(data []byte) (*BatchRecord, error) {
	var r BatchRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode batch record: %w", err)
	}
	if r.Items == nil {
		r.Items = []Item{}
	}
	if r.GroupedItems == nil {
		r.GroupedItems = map[string][]Item{}
	}
	return &r, nil
}
