package transport

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantLevel zapcore.Level
	}{
		{name: "fiber client error", err: fiber.NewError(fiber.StatusConflict, "batch exists"), wantCode: fiber.StatusConflict, wantLevel: zapcore.WarnLevel},
		{name: "plain error", err: errors.New("boom"), wantCode: fiber.StatusInternalServerError, wantLevel: zapcore.ErrorLevel},
		{name: "unavailable", err: fiber.NewError(fiber.StatusServiceUnavailable, "lock busy"), wantCode: fiber.StatusServiceUnavailable, wantLevel: zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, recorded := observer.New(zapcore.DebugLevel)
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.New(core))})
			app.Get("/fail", func(c *fiber.Ctx) error { return tt.err })

			req := httptest.NewRequest("GET", "/fail", nil)
			req.Header.Set(fiber.HeaderXRequestID, "cid-1")
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), `"error"`) {
				t.Fatalf("body = %s, want error field", body)
			}

			entries := recorded.All()
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			if entries[0].Level != tt.wantLevel {
				t.Fatalf("level = %s, want %s", entries[0].Level, tt.wantLevel)
			}
			if entries[0].ContextMap()["correlationId"] != "cid-1" {
				t.Fatalf("correlationId = %v", entries[0].ContextMap()["correlationId"])
			}
		})
	}
}
