package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/lead-reengage/internal/events"
	"github.com/wolfman30/lead-reengage/internal/http/handlers"
	"github.com/wolfman30/lead-reengage/pkg/logging"
)

type nopPublisher struct{ got []events.Inbound }

func (p *nopPublisher) Publish(_ context.Context, evt events.Inbound) error {
	p.got = append(p.got, evt)
	return nil
}

func TestHealthReportsChecks(t *testing.T) {
	h := New(&Config{
		Logger: logging.Discard(),
		HealthChecks: map[string]HealthCheck{
			"redis":    func(context.Context) error { return nil },
			"postgres": func(context.Context) error { return errors.New("connection refused") },
		},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" || resp.Checks["redis"] != "ok" || resp.Checks["postgres"] != "connection refused" {
		t.Fatalf("unexpected health response %#v", resp)
	}
}

func TestHealthWithoutChecks(t *testing.T) {
	rec := httptest.NewRecorder()
	New(&Config{Logger: logging.Discard()}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "reengage_router_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := New(&Config{
		Logger:         logging.Discard(),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "reengage_router_test_total 1") {
		t.Fatalf("metric missing from output: %s", rec.Body.String())
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	pub := &nopPublisher{}
	h := New(&Config{
		Logger:          logging.Discard(),
		AdminEvents:     handlers.NewAdminEventsHandler(pub, logging.Discard()),
		AdminAuthSecret: "secret",
	})
	body := `{"lead_id":"lead-1","trigger":"reengage"}`

	req := httptest.NewRequest(http.MethodPost, "/admin/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "agent-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/admin/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with token, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(pub.got) != 1 {
		t.Fatalf("expected event published, got %d", len(pub.got))
	}
}

func TestAdminRoutesAbsentWithoutSecret(t *testing.T) {
	h := New(&Config{
		Logger:      logging.Discard(),
		AdminEvents: handlers.NewAdminEventsHandler(&nopPublisher{}, logging.Discard()),
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/events", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
