package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/batch-coordinator/internal/coordinator"
	"github.com/kursadbilgin/batch-coordinator/internal/observability"
	"github.com/kursadbilgin/batch-coordinator/internal/ratelimit"
)

const (
	defaultWebhookTimeout = 2 * time.Second
	defaultRetryCount     = 1
	defaultRetryWait      = 100 * time.Millisecond
	defaultRetryMaxWait   = 500 * time.Millisecond

	// WebhookDestination is the rate limiter key of webhook deliveries.
	WebhookDestination = "webhook"
)

var _ coordinator.Notifier[struct{}] = (*WebhookNotifier[struct{}])(nil)

// WebhookNotifier posts each notified group to an HTTP endpoint. One
// successful post counts as one dispatched action.
type WebhookNotifier[T any] struct {
	client   *resty.Client
	endpoint string
	limiter  ratelimit.RateLimiter
}

func NewWebhookNotifier[T any](endpoint string, limiter ratelimit.RateLimiter) (*WebhookNotifier[T], error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryWaitTime(defaultRetryWait)
	client.SetRetryMaxWaitTime(defaultRetryMaxWait)

	return NewWebhookNotifierWithClient[T](endpoint, client, limiter)
}

func NewWebhookNotifierWithClient[T any](
	endpoint string,
	client *resty.Client,
	limiter ratelimit.RateLimiter,
) (*WebhookNotifier[T], error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(defaultRetryCount)
	client.AddRetryCondition(func(response *resty.Response, err error) bool {
		if err != nil {
			return !errors.Is(err, context.Canceled)
		}
		return response != nil && isTransientStatus(response.StatusCode())
	})

	return &WebhookNotifier[T]{
		client:   client,
		endpoint: trimmedEndpoint,
		limiter:  limiter,
	}, nil
}

func (w *WebhookNotifier[T]) Notify(ctx context.Context, notification coordinator.GroupNotification[T]) (int, error) {
	if w == nil || w.client == nil {
		return 0, fmt.Errorf("webhook notifier is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, WebhookDestination); err != nil {
			return 0, fmt.Errorf("failed to wait for webhook rate limit: %w", err)
		}
	}

	request := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(headerIdempotencyKey, deliveryKey(notification.BatchID, notification.GroupKey)).
		SetBody(newGroupDelivery(notification))
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		request.SetHeader(headerCorrelationID, correlationID)
	}

	response, err := request.Post(w.endpoint)
	if err != nil {
		return 0, w.deliveryError(notification, 0, "", !errors.Is(err, context.Canceled), err)
	}
	if response == nil {
		return 0, w.deliveryError(notification, 0, "", true, errors.New("empty response"))
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return 1, nil
	}
	return 0, w.deliveryError(notification, statusCode, response.String(), isTransientStatus(statusCode), nil)
}

func (w *WebhookNotifier[T]) deliveryError(
	notification coordinator.GroupNotification[T],
	statusCode int,
	body string,
	transient bool,
	cause error,
) *DeliveryError {
	return &DeliveryError{
		Destination: WebhookDestination,
		BatchID:     notification.BatchID,
		GroupKey:    notification.GroupKey,
		StatusCode:  statusCode,
		Body:        body,
		Transient:   transient,
		Cause:       cause,
	}
}
