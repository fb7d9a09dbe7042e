package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/batch-coordinator/internal/coordinator"
	"github.com/kursadbilgin/batch-coordinator/internal/domain"
	"github.com/kursadbilgin/batch-coordinator/internal/observability"
	"github.com/kursadbilgin/batch-coordinator/internal/repository"
)

// BatchCoordinator is the coordinator surface exposed over HTTP. Payloads
// stay raw JSON so the API never has to know what the trigger consumes.
type BatchCoordinator interface {
	Register(ctx context.Context, batchID string, expectedCount int, metadata domain.Metadata) (domain.BatchStatus, error)
	RecordCompletion(ctx context.Context, batchID string, result coordinator.JobResult[json.RawMessage]) (coordinator.CompletionResult, error)
	Cancel(ctx context.Context, batchID string) (domain.BatchStatus, error)
	ForceTrigger(ctx context.Context, batchID string) (domain.CompletionSummary, error)
	GetStatus(ctx context.Context, batchID string) (domain.BatchStatus, error)
	ListActive(ctx context.Context) ([]domain.BatchStatus, error)
}

// CompletionLister reads the persisted audit trail.
type CompletionLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.CompletionSummary, error)
}

type BatchHandler struct {
	coordinator BatchCoordinator
	completions CompletionLister
}

func NewBatchHandler(coordinator BatchCoordinator, completions CompletionLister) (*BatchHandler, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("batch coordinator is required")
	}
	return &BatchHandler{coordinator: coordinator, completions: completions}, nil
}

// RegisterBatchRoutes mounts the admin API under /v1. The completions route
// is only mounted when an audit store is configured.
func RegisterBatchRoutes(router fiber.Router, coordinator BatchCoordinator, completions CompletionLister) error {
	h, err := NewBatchHandler(coordinator, completions)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.RegisterBatch)
	v1.Get("/batches", h.ListActive)
	v1.Get("/batches/:batchId", h.GetStatus)
	v1.Post("/batches/:batchId/completions", h.RecordCompletion)
	v1.Post("/batches/:batchId/cancel", h.Cancel)
	v1.Post("/batches/:batchId/trigger", h.ForceTrigger)
	if completions != nil {
		v1.Get("/completions", h.ListCompletions)
	}

	return nil
}

type registerBatchRequest struct {
	BatchID       string          `json:"batchId"`
	ExpectedCount int             `json:"expectedCount"`
	Metadata      domain.Metadata `json:"metadata"`
}

type recordCompletionRequest struct {
	JobID    string          `json:"jobId"`
	Success  bool            `json:"success"`
	GroupKey string          `json:"groupKey"`
	Payload  json.RawMessage `json:"payload"`
	Error    string          `json:"error"`
}

type batchStatusResponse struct {
	BatchID        string    `json:"batchId"`
	ExpectedCount  int       `json:"expectedCount"`
	CompletedCount int       `json:"completedCount"`
	SuccessCount   int       `json:"successCount"`
	FailureCount   int       `json:"failureCount"`
	ElapsedMs      int64     `json:"elapsedMs"`
	Cancelled      bool      `json:"cancelled"`
	Origin         string    `json:"origin"`
	InitiatedBy    string    `json:"initiatedBy"`
	StartedAt      time.Time `json:"startedAt"`
}

type completionSummaryResponse struct {
	BatchID           string    `json:"batchId"`
	Reason            string    `json:"reason"`
	ExpectedCount     int       `json:"expectedCount"`
	CompletedCount    int       `json:"completedCount"`
	SuccessCount      int       `json:"successCount"`
	FailureCount      int       `json:"failureCount"`
	GroupsNotified    int       `json:"groupsNotified"`
	GroupsFailed      int       `json:"groupsFailed"`
	ActionsDispatched int       `json:"actionsDispatched"`
	ElapsedMs         int64     `json:"elapsedMs"`
	Origin            string    `json:"origin"`
	InitiatedBy       string    `json:"initiatedBy"`
	CompletedAt       time.Time `json:"completedAt"`
}

type recordCompletionResponse struct {
	Outcome string                     `json:"outcome"`
	Status  batchStatusResponse        `json:"status"`
	Summary *completionSummaryResponse `json:"summary,omitempty"`
}

type listBatchesResponse struct {
	Data []batchStatusResponse `json:"data"`
}

type listCompletionsResponse struct {
	Data  []completionSummaryResponse `json:"data"`
	Limit int                         `json:"limit"`
}

func (h *BatchHandler) RegisterBatch(c *fiber.Ctx) error {
	var req registerBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	status, err := h.coordinator.Register(requestContext(c), req.BatchID, req.ExpectedCount, req.Metadata)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toBatchStatusResponse(status))
}

func (h *BatchHandler) RecordCompletion(c *fiber.Ctx) error {
	var req recordCompletionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.coordinator.RecordCompletion(requestContext(c), batchIDParam(c), coordinator.JobResult[json.RawMessage]{
		JobID:    req.JobID,
		Success:  req.Success,
		GroupKey: req.GroupKey,
		Payload:  req.Payload,
		Error:    req.Error,
	})
	if err != nil {
		return toHTTPError(err)
	}

	resp := recordCompletionResponse{
		Outcome: result.Outcome.String(),
		Status:  toBatchStatusResponse(result.Status),
	}
	if result.Summary != nil {
		summary := toCompletionSummaryResponse(*result.Summary)
		resp.Summary = &summary
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *BatchHandler) GetStatus(c *fiber.Ctx) error {
	status, err := h.coordinator.GetStatus(requestContext(c), batchIDParam(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchStatusResponse(status))
}

func (h *BatchHandler) ListActive(c *fiber.Ctx) error {
	statuses, err := h.coordinator.ListActive(requestContext(c))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]batchStatusResponse, 0, len(statuses))
	for _, status := range statuses {
		data = append(data, toBatchStatusResponse(status))
	}

	return c.Status(fiber.StatusOK).JSON(listBatchesResponse{Data: data})
}

func (h *BatchHandler) Cancel(c *fiber.Ctx) error {
	status, err := h.coordinator.Cancel(requestContext(c), batchIDParam(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchStatusResponse(status))
}

func (h *BatchHandler) ForceTrigger(c *fiber.Ctx) error {
	summary, err := h.coordinator.ForceTrigger(requestContext(c), batchIDParam(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toCompletionSummaryResponse(summary))
}

func (h *BatchHandler) ListCompletions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return toHTTPError(fmt.Errorf("%w: limit must be >= 0", domain.ErrValidation))
	}
	limit = repository.NormalizeListLimit(limit)

	summaries, err := h.completions.ListRecent(requestContext(c), limit)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]completionSummaryResponse, 0, len(summaries))
	for _, summary := range summaries {
		data = append(data, toCompletionSummaryResponse(summary))
	}

	return c.Status(fiber.StatusOK).JSON(listCompletionsResponse{Data: data, Limit: limit})
}

func batchIDParam(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Params("batchId"))
}

// requestContext carries the caller's correlation id into coordinator logs.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toBatchStatusResponse(s domain.BatchStatus) batchStatusResponse {
	return batchStatusResponse{
		BatchID:        s.BatchID,
		ExpectedCount:  s.ExpectedCount,
		CompletedCount: s.CompletedCount,
		SuccessCount:   s.SuccessCount,
		FailureCount:   s.FailureCount,
		ElapsedMs:      s.ElapsedMs,
		Cancelled:      s.Cancelled,
		Origin:         s.Origin,
		InitiatedBy:    s.InitiatedBy,
		StartedAt:      s.StartedAt,
	}
}

func toCompletionSummaryResponse(s domain.CompletionSummary) completionSummaryResponse {
	return completionSummaryResponse{
		BatchID:           s.BatchID,
		Reason:            s.Reason.String(),
		ExpectedCount:     s.ExpectedCount,
		CompletedCount:    s.CompletedCount,
		SuccessCount:      s.SuccessCount,
		FailureCount:      s.FailureCount,
		GroupsNotified:    s.GroupsNotified,
		GroupsFailed:      s.GroupsFailed,
		ActionsDispatched: s.ActionsDispatched,
		ElapsedMs:         s.Elapsed.Milliseconds(),
		Origin:            s.Origin,
		InitiatedBy:       s.InitiatedBy,
		CompletedAt:       s.CompletedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrBatchNotFound), errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrLockBusy), errors.Is(err, domain.ErrStoreUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
