package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CompletionMessage is the broker payload of one finished job.
type CompletionMessage struct {
	BatchID       string          `json:"batchId"`
	JobID         string          `json:"jobId"`
	Success       bool            `json:"success"`
	GroupKey      string          `json:"groupKey,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

func (m CompletionMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if len(m.Payload) > 0 && !json.Valid(m.Payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	return nil
}

func (m CompletionMessage) headers() (string, string) {
	return m.BatchID + ":" + m.JobID, m.CorrelationID
}

// NotificationMessage is published once per notified result group.
type NotificationMessage struct {
	NotificationID string            `json:"notificationId"`
	BatchID        string            `json:"batchId"`
	GroupKey       string            `json:"groupKey"`
	Reason         string            `json:"reason"`
	JobIDs         []string          `json:"jobIds"`
	Items          json.RawMessage   `json:"items"`
	Origin         string            `json:"origin"`
	InitiatedBy    string            `json:"initiatedBy"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	CorrelationID  string            `json:"correlationId,omitempty"`
}

func (m NotificationMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if strings.TrimSpace(m.GroupKey) == "" {
		return fmt.Errorf("groupKey is required")
	}
	if len(m.JobIDs) == 0 {
		return fmt.Errorf("jobIds must not be empty")
	}
	return nil
}

func (m NotificationMessage) headers() (string, string) {
	id := m.NotificationID
	if id == "" {
		id = uuid.NewString()
	}
	return id, m.CorrelationID
}
