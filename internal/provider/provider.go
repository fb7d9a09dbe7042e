package provider

import (
	"strings"

	"github.com/kursadbilgin/batch-coordinator/internal/coordinator"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerCorrelationID  = "X-Correlation-ID"
)

// groupDelivery is the body posted for one notified result group.
type groupDelivery[T any] struct {
	BatchID     string            `json:"batchId"`
	GroupKey    string            `json:"groupKey"`
	Reason      string            `json:"reason"`
	JobIDs      []string          `json:"jobIds"`
	Items       []T               `json:"items"`
	Origin      string            `json:"origin"`
	InitiatedBy string            `json:"initiatedBy"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

func newGroupDelivery[T any](n coordinator.GroupNotification[T]) groupDelivery[T] {
	return groupDelivery[T]{
		BatchID:     n.BatchID,
		GroupKey:    n.GroupKey,
		Reason:      n.Reason.String(),
		JobIDs:      n.JobIDs,
		Items:       n.Payloads,
		Origin:      n.Metadata.Origin,
		InitiatedBy: n.Metadata.InitiatedBy,
		Attributes:  n.Metadata.Attributes,
	}
}

// deliveryKey is stable across redeliveries of the same group so receivers
// can deduplicate.
func deliveryKey(batchID string, groupKey string) string {
	return strings.Join([]string{batchID, groupKey}, ":")
}
