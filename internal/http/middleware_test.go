package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
	"github.com/kjstillabower/weather-lookup/internal/traffic"
)

func TestMiddleware_ThroughHandler(t *testing.T) {
	mc := &mockWeatherClient{results: map[string]models.Snapshot{"Paris": parisSnapshot()}}
	h, _ := newTestHandler(t, mc, nil)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/api/weather/{city}", h.GetWeather)

	w := serve(router, httptest.NewRequest("GET", "/api/weather/Paris", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get(CorrelationIDHeader) == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	var gotID string
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.New(core)))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		gotID = observability.CorrelationID(r.Context())
		observability.LoggerFromContext(r.Context()).Info("inside handler")
	})

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(CorrelationIDHeader, "client-provided-id")
	w := serve(router, req)

	if got := w.Header().Get(CorrelationIDHeader); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
	if gotID != "client-provided-id" {
		t.Errorf("context correlation ID = %q, want client-provided-id", gotID)
	}
	entries := logs.FilterMessage("inside handler").All()
	if len(entries) != 1 || entries[0].ContextMap()["correlation_id"] != "client-provided-id" {
		t.Errorf("request logger missing correlation_id: %+v", entries)
	}
}

func TestMiddleware_CorrelationIDGenerated(t *testing.T) {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {})

	a := serve(router, httptest.NewRequest("GET", "/x", nil)).Header().Get(CorrelationIDHeader)
	b := serve(router, httptest.NewRequest("GET", "/x", nil)).Header().Get(CorrelationIDHeader)
	if a == "" || b == "" || a == b {
		t.Errorf("generated IDs = %q, %q, want two distinct non-empty values", a, b)
	}
}

func TestMiddleware_MetricsRecordsRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/api/weather/{city}", func(w http.ResponseWriter, r *http.Request) {
		if InFlightCount() < 1 {
			t.Error("request not tracked as in flight")
		}
		w.WriteHeader(http.StatusTeapot)
	})

	serve(router, httptest.NewRequest("GET", "/api/weather/Oslo", nil))

	body := serve(observability.MetricsHandler(), httptest.NewRequest("GET", "/metrics", nil)).Body.String()
	want := `httpRequestsTotal{method="GET",route="/api/weather/{city}",statusCode="4xx"}`
	if !strings.Contains(body, want) {
		t.Errorf("metrics missing %s", want)
	}
	if InFlightCount() != 0 {
		t.Errorf("InFlightCount() = %d after request, want 0", InFlightCount())
	}
}

func TestStatusRecorder_FirstWriteHeaderWins(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	rec.WriteHeader(http.StatusNotFound)
	rec.WriteHeader(http.StatusInternalServerError)
	if rec.statusCode != http.StatusNotFound {
		t.Errorf("statusCode = %d, want %d", rec.statusCode, http.StatusNotFound)
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	})

	TimeoutMiddleware(50*time.Millisecond)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !ok {
		t.Fatal("request context has no deadline")
	}
	if time.Until(deadline) > 50*time.Millisecond {
		t.Errorf("deadline too far out: %v", time.Until(deadline))
	}
}

func TestTimeoutMiddleware_ZeroDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			t.Error("zero timeout must not set a deadline")
		}
	})
	TimeoutMiddleware(0)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestTimeoutMiddleware_LookupTimesOut(t *testing.T) {
	mc := &mockWeatherClient{block: make(chan struct{})}
	h, _ := newTestHandler(t, mc, nil)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	api := router.PathPrefix("/api").Subrouter()
	api.Use(TimeoutMiddleware(20 * time.Millisecond))
	api.HandleFunc("/weather/{city}", h.GetWeather)

	w := serve(router, httptest.NewRequest("GET", "/api/weather/Paris", nil))

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d", w.Code, http.StatusGatewayTimeout)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	traffic.Reset()
	t.Cleanup(traffic.Reset)

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(RateLimitMiddleware(limiter))
	router.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}).Methods("POST")

	first := serve(router, httptest.NewRequest("POST", "/api/search", nil))
	if first.Code != http.StatusAccepted {
		t.Fatalf("first request status = %d, want %d", first.Code, http.StatusAccepted)
	}

	req := httptest.NewRequest("POST", "/api/search", nil)
	req.Header.Set(CorrelationIDHeader, "limited")
	second := serve(router, req)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", second.Code, http.StatusTooManyRequests)
	}
	errObj := decodeError(t, second)
	if errObj["code"] != "RATE_LIMITED" || errObj["requestId"] != "limited" {
		t.Errorf("error = %v", errObj)
	}
	if got := traffic.Count(traffic.Denied, time.Minute); got != 1 {
		t.Errorf("denied count = %d, want 1", got)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	RateLimitMiddleware(nil)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !called {
		t.Error("nil limiter must pass requests through")
	}
}

func TestCorrelationIDReachesBackgroundFetch(t *testing.T) {
	ids := make(chan string, 1)
	mc := &ctxCapturingClient{ids: ids}
	h, svc := newTestHandler(t, mc, nil)

	router := newTestRouter(h)
	req := httptest.NewRequest("POST", "/api/search", strings.NewReader(`{"city":"Paris"}`))
	req.Header.Set(CorrelationIDHeader, "search-1")
	serve(router, req)
	svc.Wait()

	select {
	case got := <-ids:
		if got != "search-1" {
			t.Errorf("fetch correlation ID = %q, want search-1", got)
		}
	default:
		t.Fatal("fetch never ran")
	}
}

type ctxCapturingClient struct {
	ids chan string
}

func (c *ctxCapturingClient) GetCurrentWeather(ctx context.Context, city string) (models.Snapshot, error) {
	c.ids <- observability.CorrelationID(ctx)
	return parisSnapshot(), nil
}

func (c *ctxCapturingClient) ValidateAPIKey(ctx context.Context) error { return nil }
