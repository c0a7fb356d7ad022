package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-gateway/internal/failure"
	"github.com/kjstillabower/weather-gateway/internal/lifecycle"
	"github.com/kjstillabower/weather-gateway/internal/observability"
	"github.com/kjstillabower/weather-gateway/internal/service"
	"github.com/kjstillabower/weather-gateway/internal/traffic"
	"github.com/kjstillabower/weather-gateway/internal/validation"
)

// Error codes returned in the error envelope.
const (
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeCityNotFound          = "CITY_NOT_FOUND"
	CodeConfiguration         = "CONFIGURATION_ERROR"
	CodeUpstreamUnavailable   = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamError         = "UPSTREAM_ERROR"
	CodeMalformedUpstreamData = "MALFORMED_UPSTREAM_DATA"
	CodeSearchUnavailable     = "SEARCH_UNAVAILABLE"
	CodeInternal              = "INTERNAL_ERROR"
	CodeNotFound              = "NOT_FOUND"
)

// HealthConfig holds what the health handler reports and the degraded thresholds.
type HealthConfig struct {
	Version          string
	StartTime        time.Time
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
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
	if healthConfig == nil {
		healthConfig = &HealthConfig{Version: "dev", StartTime: time.Now()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weatherService: weatherService,
		healthConfig:   healthConfig,
		logger:         logger,
	}
}

// GetRoot handles GET /.
func (h *Handler) GetRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Weather Dashboard API",
		"status":  "running",
	})
}

// GetCurrentWeather handles GET /weather/current?city=&country_code=.
func (h *Handler) GetCurrentWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc, err := validation.ParseLocation(q.Get("city"), q.Get("country_code"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, validation.Message(err))
		return
	}

	result, err := h.weatherService.CurrentWeather(r.Context(), loc.City, loc.CountryCode)
	if err != nil {
		h.writeWeatherError(w, r, loc.City, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// GetForecast handles GET /weather/forecast?city=&country_code=.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc, err := validation.ParseLocation(q.Get("city"), q.Get("country_code"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, validation.Message(err))
		return
	}

	days, err := h.weatherService.Forecast(r.Context(), loc.City, loc.CountryCode)
	if err != nil {
		h.writeWeatherError(w, r, loc.City, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, days)
}

// SearchCities handles GET /weather/search?query=&limit=. Every upstream failure is reported the
// same way; an empty match list is a success.
func (h *Handler) SearchCities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sq, err := validation.ParseSearch(q.Get("query"), q.Get("limit"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, validation.Message(err))
		return
	}

	results, err := h.weatherService.SearchCities(r.Context(), sq.Query, sq.Limit)
	if err != nil {
		traffic.RecordError()
		h.loggerFor(r).Error("city search failed",
			zap.String("query", sq.Query),
			zap.String("kind", failure.KindOf(err).String()),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, CodeSearchUnavailable, "City search service unavailable")
		return
	}
	traffic.RecordSuccess()
	h.loggerFor(r).Info("city search", zap.String("query", sq.Query), zap.Int("results", len(results)))
	writeJSON(w, http.StatusOK, results)
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

	now := time.Now()
	resp := map[string]interface{}{
		"status":    result.status,
		"timestamp": now.UTC().Format(time.RFC3339),
		"version":   h.healthConfig.Version,
		"uptime":    int64(now.Sub(h.healthConfig.StartTime).Seconds()),
	}
	if h.healthConfig.CachePing != nil {
		cacheStatus := "healthy"
		if h.healthConfig.CachePing() != nil {
			cacheStatus = "unhealthy"
		}
		resp["checks"] = map[string]string{"cache": cacheStatus}
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > degraded (error rate) > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errors, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && errors*100 >= h.healthConfig.DegradedErrorPct*total {
			return healthResult{"degraded", http.StatusOK, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeWeatherError maps a gateway failure to its status and code. Upstream bodies never reach
// the client; malformed upstream data is logged at error level.
func (h *Handler) writeWeatherError(w http.ResponseWriter, r *http.Request, city string, err error) {
	logger := h.loggerFor(r)
	kind := failure.KindOf(err)

	if kind == failure.KindCityNotFound {
		traffic.RecordSuccess()
		logger.Info("city not found", zap.String("city", city))
		writeError(w, r, http.StatusNotFound, CodeCityNotFound, "City '"+city+"' not found")
		return
	}

	traffic.RecordError()
	switch kind {
	case failure.KindConfiguration:
		logger.Error("weather provider not configured", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, CodeConfiguration, "OpenWeather API key not configured")
	case failure.KindUpstreamUnavailable:
		logger.Warn("weather provider unavailable", zap.String("city", city), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, CodeUpstreamUnavailable, "Weather service unavailable")
	case failure.KindUpstreamHTTP:
		fields := []zap.Field{zap.String("city", city), zap.Error(err)}
		if fe, ok := failure.As(err); ok {
			fields = append(fields, zap.Int("upstream_status", fe.Status), zap.String("upstream_body", fe.Body))
		}
		logger.Warn("weather provider error", fields...)
		writeError(w, r, http.StatusInternalServerError, CodeUpstreamError, "Weather service returned an error")
	case failure.KindMalformedUpstreamData:
		field := ""
		if fe, ok := failure.As(err); ok {
			field = fe.Field
		}
		logger.Error("malformed upstream data", zap.String("city", city), zap.String("field", field))
		writeError(w, r, http.StatusInternalServerError, CodeMalformedUpstreamData, "Weather service returned invalid data")
	default:
		logger.Error("unexpected weather error", zap.String("city", city), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}

func (h *Handler) loggerFor(r *http.Request) *zap.Logger {
	return observability.LoggerFromContext(r.Context(), h.logger)
}

// notFound renders unknown routes in the standard error envelope.
func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, CodeNotFound, "Not found")
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}
