package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/querypilot/querypilot/internal/config"
)

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig(t, nil)

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Fatal("expected trace header")
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg := testConfig(t, nil)

	h := NewHandler(cfg, Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestReadinessChecksFromConfig(t *testing.T) {
	cfg := testConfig(t, nil)
	if err := CheckAIConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected missing api key error")
	}
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("disabled object store should be ready: %v", err)
	}

	cfg = testConfig(t, map[string]string{
		"QUERYPILOT_AI_API_KEY":          "k",
		"QUERYPILOT_OBJECTSTORE_ENABLED": "true",
	})
	if err := CheckAIConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckAIConfig() error = %v", err)
	}
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckObjectStoreConfig() error = %v", err)
	}

	cfg.ObjectStore.Bucket = ""
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected missing bucket error")
	}
}

func TestUIHandlerServesNonAPIRoutes(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{
		UI: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, "<html>ok</html>")
		}),
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/console", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func testConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	values := map[string]string{"QUERYPILOT_PROFILE": "test"}
	for key, value := range env {
		values[key] = value
	}
	cfg, err := config.Load("querypilot-api", mapLookup(values))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
