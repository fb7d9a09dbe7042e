package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/batch-coordinator/internal/coordinator"
	"github.com/kursadbilgin/batch-coordinator/internal/domain"
	"github.com/kursadbilgin/batch-coordinator/internal/observability"
)

type indexedDoc struct {
	DocumentID string `json:"documentId"`
}

func testNotification() coordinator.GroupNotification[indexedDoc] {
	return coordinator.GroupNotification[indexedDoc]{
		BatchID:  "b1",
		GroupKey: "tenant-7",
		Reason:   domain.TriggerReasonCompleted,
		JobIDs:   []string{"j1", "j3"},
		Payloads: []indexedDoc{{DocumentID: "d1"}, {DocumentID: "d3"}},
		Metadata: domain.Metadata{
			InitiatedBy: "user-1",
			Origin:      "bulk-import",
			Attributes:  map[string]string{"uploadId": "u-9"},
		},
	}
}

func fastRetryClient(timeout time.Duration) *resty.Client {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryWaitTime(time.Millisecond)
	client.SetRetryMaxWaitTime(5 * time.Millisecond)
	return client
}

type countingLimiter struct {
	waits atomic.Int32
	err   error
}

func (l *countingLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (l *countingLimiter) Wait(_ context.Context, destination string) error {
	if destination != WebhookDestination {
		return errors.New("unexpected destination " + destination)
	}
	l.waits.Add(1)
	return l.err
}

func TestWebhookNotifierNotifySuccess(t *testing.T) {
	t.Parallel()

	var (
		gotBody    groupDelivery[indexedDoc]
		gotHeaders http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotHeaders = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	limiter := &countingLimiter{}
	notifier, err := NewWebhookNotifier[indexedDoc](server.URL, limiter)
	if err != nil {
		t.Fatalf("NewWebhookNotifier() error = %v", err)
	}

	ctx := observability.WithCorrelationID(context.Background(), "cid-1")
	dispatched, err := notifier.Notify(ctx, testNotification())
	if err != nil {
		t.Fatalf("Notify() unexpected error: %v", err)
	}
	if dispatched != 1 {
		t.Fatalf("dispatched = %d, want 1", dispatched)
	}
	if limiter.waits.Load() != 1 {
		t.Fatalf("limiter waits = %d, want 1", limiter.waits.Load())
	}

	if gotBody.BatchID != "b1" || gotBody.GroupKey != "tenant-7" || gotBody.Reason != "COMPLETED" {
		t.Fatalf("body = %+v", gotBody)
	}
	if len(gotBody.Items) != 2 || gotBody.Items[1].DocumentID != "d3" {
		t.Fatalf("body.items = %+v", gotBody.Items)
	}
	if gotBody.Attributes["uploadId"] != "u-9" {
		t.Fatalf("body.attributes = %+v", gotBody.Attributes)
	}
	if got := gotHeaders.Get(headerIdempotencyKey); got != "b1:tenant-7" {
		t.Fatalf("%s = %q, want %q", headerIdempotencyKey, got, "b1:tenant-7")
	}
	if got := gotHeaders.Get(headerCorrelationID); got != "cid-1" {
		t.Fatalf("%s = %q, want %q", headerCorrelationID, got, "cid-1")
	}
}

func TestWebhookNotifierStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
		wantRequests  int32
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true, wantRequests: 2},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false, wantRequests: 1},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true, wantRequests: 2},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var requests atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("receiver failed"))
			}))
			defer server.Close()

			notifier, err := NewWebhookNotifierWithClient[indexedDoc](server.URL, fastRetryClient(time.Second), nil)
			if err != nil {
				t.Fatalf("NewWebhookNotifierWithClient() error = %v", err)
			}

			dispatched, err := notifier.Notify(context.Background(), testNotification())
			if err == nil {
				t.Fatal("expected error")
			}
			if dispatched != 0 {
				t.Fatalf("dispatched = %d, want 0", dispatched)
			}
			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}
			if got := requests.Load(); got != tc.wantRequests {
				t.Fatalf("requests = %d, want %d", got, tc.wantRequests)
			}

			var deliveryErr *DeliveryError
			if !errors.As(err, &deliveryErr) {
				t.Fatalf("expected DeliveryError, got %T", err)
			}
			if deliveryErr.StatusCode != tc.statusCode {
				t.Fatalf("DeliveryError.StatusCode = %d, want %d", deliveryErr.StatusCode, tc.statusCode)
			}
			if deliveryErr.BatchID != "b1" || deliveryErr.Destination != WebhookDestination {
				t.Fatalf("DeliveryError = %+v", deliveryErr)
			}
			if !strings.Contains(err.Error(), "receiver failed") {
				t.Fatalf("error %q should include the receiver body", err.Error())
			}
		})
	}
}

func TestWebhookNotifierRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifierWithClient[indexedDoc](server.URL, fastRetryClient(time.Second), nil)
	if err != nil {
		t.Fatalf("NewWebhookNotifierWithClient() error = %v", err)
	}

	dispatched, err := notifier.Notify(context.Background(), testNotification())
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if dispatched != 1 || requests.Load() != 2 {
		t.Fatalf("dispatched = %d, requests = %d, want 1 and 2", dispatched, requests.Load())
	}
}

func TestWebhookNotifierTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifierWithClient[indexedDoc](server.URL, fastRetryClient(30*time.Millisecond), nil)
	if err != nil {
		t.Fatalf("NewWebhookNotifierWithClient() error = %v", err)
	}

	_, err = notifier.Notify(context.Background(), testNotification())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestWebhookNotifierRateLimitFailure(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{err: context.DeadlineExceeded}
	notifier, err := NewWebhookNotifier[indexedDoc]("http://127.0.0.1:1/hook", limiter)
	if err != nil {
		t.Fatalf("NewWebhookNotifier() error = %v", err)
	}

	if _, err := notifier.Notify(context.Background(), testNotification()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Notify() error = %v, want DeadlineExceeded", err)
	}
}

func TestNewWebhookNotifierValidatesEndpoint(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{"", "  ", "not a url"} {
		if _, err := NewWebhookNotifier[indexedDoc](endpoint, nil); err == nil {
			t.Fatalf("NewWebhookNotifier(%q) expected error", endpoint)
		}
	}
}
