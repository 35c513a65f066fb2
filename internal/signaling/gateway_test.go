package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

func TestHTTPGatewayPlaceCallSuccess(t *testing.T) {
	t.Parallel()

	var gotBody originateRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("X-Call-ID", "gw-call-1")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	g, err := NewHTTPGateway(server.URL)
	if err != nil {
		t.Fatalf("NewHTTPGateway() error = %v", err)
	}

	req := DialRequest{
		AttemptID:     "attempt-1",
		TrunkID:       "trunk-east-1",
		Phone:         "+15551230001",
		CorrelationID: "corr-1",
	}

	resp, err := g.PlaceCall(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceCall() unexpected error: %v", err)
	}

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if resp.CallID != "gw-call-1" {
		t.Fatalf("CallID = %q, want %q", resp.CallID, "gw-call-1")
	}

	if gotBody.To != req.Phone {
		t.Fatalf("request.to = %q, want %q", gotBody.To, req.Phone)
	}
	if gotBody.TrunkID != req.TrunkID {
		t.Fatalf("request.trunkId = %q, want %q", gotBody.TrunkID, req.TrunkID)
	}
	if gotBody.CorrelationID != req.CorrelationID {
		t.Fatalf("request.correlationId = %q, want %q", gotBody.CorrelationID, req.CorrelationID)
	}
}

func TestHTTPGatewayPlaceCallStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("gateway failed"))
			}))
			defer server.Close()

			g, err := NewHTTPGateway(server.URL)
			if err != nil {
				t.Fatalf("NewHTTPGateway() error = %v", err)
			}

			_, err = g.PlaceCall(context.Background(), DialRequest{
				AttemptID: "attempt-1",
				TrunkID:   "trunk-east-1",
				Phone:     "+15551230001",
			})
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.StatusCode != tc.statusCode {
				t.Fatalf("ProviderError.StatusCode = %d, want %d", providerErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestHTTPGatewayPlaceCallTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	g, err := NewHTTPGatewayWithClient(server.URL, client)
	if err != nil {
		t.Fatalf("NewHTTPGatewayWithClient() error = %v", err)
	}

	_, err = g.PlaceCall(context.Background(), DialRequest{
		AttemptID: "attempt-1",
		TrunkID:   "trunk-east-1",
		Phone:     "+15551230001",
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}

	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestHTTPGatewayPlaceCallValidation(t *testing.T) {
	t.Parallel()

	g, err := NewHTTPGateway("http://localhost:18080/originate")
	if err != nil {
		t.Fatalf("NewHTTPGateway() error = %v", err)
	}

	testCases := []struct {
		name string
		req  DialRequest
	}{
		{name: "missing attempt id", req: DialRequest{TrunkID: "t1", Phone: "+15551230001"}},
		{name: "missing trunk id", req: DialRequest{AttemptID: "a1", Phone: "+15551230001"}},
		{name: "missing phone", req: DialRequest{AttemptID: "a1", TrunkID: "t1"}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := g.PlaceCall(context.Background(), tc.req); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
