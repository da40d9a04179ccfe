package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup/internal/circuitbreaker"
	"github.com/kjstillabower/weather-lookup/internal/client"
	"github.com/kjstillabower/weather-lookup/internal/display"
	"github.com/kjstillabower/weather-lookup/internal/lifecycle"
	"github.com/kjstillabower/weather-lookup/internal/observability"
	"github.com/kjstillabower/weather-lookup/internal/service"
	"github.com/kjstillabower/weather-lookup/internal/traffic"
	"github.com/kjstillabower/weather-lookup/internal/validation"
)

// maxSearchBodyBytes caps JSON search bodies.
const maxSearchBodyBytes = 4 << 10

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// BreakerState, when set, reports the provider circuit breaker. Open means degraded.
	BreakerState func() circuitbreaker.State
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService   *service.WeatherService
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil.
func NewHandler(weatherService *service.WeatherService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weatherService: weatherService,
		healthConfig:   healthConfig,
		logger:         logger,
	}
}

// GetPage handles GET /.
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	st := h.weatherService.State()
	renderPage(w, r, http.StatusOK, pageData{State: st, Input: st.Query})
}

// PostSearch handles the form submit on POST /search and redirects back to the page.
func (h *Handler) PostSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSearchBodyBytes)
	if err := r.ParseForm(); err != nil {
		renderPage(w, r, http.StatusBadRequest, pageData{
			State:           h.weatherService.State(),
			ValidationError: "Could not read the search form.",
		})
		return
	}
	city := r.PostFormValue("city")

	_, err := h.submit(r, city)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrClosed):
		renderPage(w, r, http.StatusServiceUnavailable, pageData{
			State:           h.weatherService.State(),
			Input:           city,
			ValidationError: "The service is shutting down. Try again shortly.",
		})
		return
	default:
		renderPage(w, r, http.StatusBadRequest, pageData{
			State:           h.weatherService.State(),
			Input:           city,
			ValidationError: cityErrorMessage(err),
		})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// submit starts a search unless the process is draining, in which case it reports
// service.ErrClosed before the service itself is closed.
func (h *Handler) submit(r *http.Request, city string) (bool, error) {
	if lifecycle.IsShuttingDown() {
		return false, service.ErrClosed
	}
	_, ok, err := h.weatherService.Submit(r.Context(), city)
	return ok, err
}

// GetState handles GET /api/state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.weatherService.State())
}

type searchRequest struct {
	City string `json:"city"`
}

type searchResponse struct {
	Accepted bool          `json:"accepted"`
	State    display.State `json:"state"`
}

// PostAPISearch handles POST /api/search. 202 when a fetch was started, 200 with
// accepted=false for blank input.
func (h *Handler) PostAPISearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSearchBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "body must be JSON like {\"city\": \"London\"}")
		return
	}

	ok, err := h.submit(r, req.City)
	if errors.Is(err, service.ErrClosed) {
		writeError(w, r, http.StatusServiceUnavailable, "SHUTTING_DOWN", "service is shutting down")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", cityErrorMessage(err))
		return
	}
	status := http.StatusOK
	if ok {
		status = http.StatusAccepted
	}
	writeJSON(w, status, searchResponse{Accepted: ok, State: h.weatherService.State()})
}

// GetWeather handles GET /api/weather/{city}: a synchronous lookup outside the display state.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]

	snap, err := h.weatherService.Lookup(r.Context(), city)
	if err != nil {
		if msg, ok := cityValidationMessage(err); ok {
			writeError(w, r, http.StatusBadRequest, "INVALID_CITY", msg)
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":       result.status,
		"service":      observability.ServiceName,
		"version":      "dev",
		"checks":       checks,
		"displayPhase": h.weatherService.State().Phase,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down, starting, breaker open,
// error rate over threshold, healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if lifecycle.Current() == lifecycle.Starting {
		return healthResult{"starting", http.StatusServiceUnavailable, "startup"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.BreakerState != nil && h.healthConfig.BreakerState() == circuitbreaker.StateOpen {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// cityValidationMessage reports whether err came from city validation and, if so, the
// message to show for it.
func cityValidationMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, validation.ErrCityEmpty):
		return "Enter a city name.", true
	case errors.Is(err, validation.ErrCityTooShort):
		return "City name is too short.", true
	case errors.Is(err, validation.ErrCityTooLong):
		return "City name is too long.", true
	case errors.Is(err, validation.ErrCityControlChars):
		return "City name contains control characters.", true
	}
	return "", false
}

func cityErrorMessage(err error) string {
	if msg, ok := cityValidationMessage(err); ok {
		return msg
	}
	return "Invalid city."
}

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": {"code", "message", "requestId"}}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps a lookup failure to a status and code. The user-facing message
// comes from client.UserMessage; the underlying error is logged at DEBUG.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if logger := observability.LoggerFromContext(r.Context()); logger != nil {
		logger.Debug("lookup failed", zap.Error(err), zap.String("category", string(client.CategorizeError(err))))
	}
	msg := client.UserMessage(err)
	switch {
	case errors.Is(err, client.ErrLocationNotFound):
		writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", msg)
	case errors.Is(err, client.ErrParse):
		writeError(w, r, http.StatusBadGateway, "BAD_UPSTREAM_RESPONSE", msg)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", msg)
	default:
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", msg)
	}
}
