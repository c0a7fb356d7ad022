package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-gateway/internal/observability"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// NewRouter wires the API routes and middleware chain around h.
func NewRouter(h *Handler, logger *zap.Logger, opts RouterOptions) http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(notFound)
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/", h.GetRoot).Methods(http.MethodGet)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(TimeoutMiddleware(opts.RequestTimeout))
	weatherRouter.HandleFunc("/current", h.GetCurrentWeather).Methods(http.MethodGet)
	weatherRouter.HandleFunc("/forecast", h.GetForecast).Methods(http.MethodGet)
	weatherRouter.HandleFunc("/search", h.SearchCities).Methods(http.MethodGet)

	if len(opts.CORSOrigins) == 0 {
		return router
	}
	return CORSMiddleware(opts.CORSOrigins)(router)
}
