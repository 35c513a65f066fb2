package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func TestStatusFromError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: fmt.Errorf("%w: bad phone", domain.ErrValidation), want: fiber.StatusBadRequest},
		{name: "not found", err: domain.ErrNotFound, want: fiber.StatusNotFound},
		{name: "terminal state", err: fmt.Errorf("%w: ENDED", domain.ErrTerminalState), want: fiber.StatusConflict},
		{name: "invalid transition", err: domain.ErrInvalidTransition, want: fiber.StatusConflict},
		{name: "conflict", err: domain.ErrConflict, want: fiber.StatusConflict},
		{name: "rate limited", err: fmt.Errorf("%w: trunk t1", domain.ErrRateLimited), want: fiber.StatusTooManyRequests},
		{name: "fiber error wins", err: fiber.NewError(fiber.StatusTeapot, "nope"), want: fiber.StatusTeapot},
		{name: "unknown is 500", err: fmt.Errorf("db down"), want: fiber.StatusInternalServerError},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := StatusFromError(tc.err); got != tc.want {
				t.Fatalf("StatusFromError() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestErrorHandlerRendersErrorBody(t *testing.T) {
	t.Parallel()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fmt.Errorf("%w: missing field", domain.ErrValidation)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var parsed map[string]string
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["error"] == "" {
		t.Fatalf("body = %s, want {error}", string(body))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	t.Parallel()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
	reached := false
	app.Use(APIKeyAuth("s3cret"))
	app.Get("/guarded", func(c *fiber.Ctx) error {
		reached = true
		return c.JSON(fiber.Map{"ok": true})
	})

	// Missing key.
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/guarded", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if reached {
		t.Fatal("handler must not run without a key")
	}

	// Wrong key.
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set(APIKeyHeader, "wrong")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if reached {
		t.Fatal("handler must not run with a wrong key")
	}

	// Correct key.
	req = httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set(APIKeyHeader, "s3cret")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !reached {
		t.Fatal("handler should run with the right key")
	}
}

func TestAPIKeyAuthEmptyConfiguredKeyRejectsAll(t *testing.T) {
	t.Parallel()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
	app.Use(APIKeyAuth(""))
	app.Get("/guarded", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set(APIKeyHeader, "")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 when no key is configured", resp.StatusCode)
	}
}
