package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-lookup/internal/observability"
)

// NewRouter builds the route table. Search routes share limiter (nil disables it);
// the other /api routes get requestTimeout (zero disables it).
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/", h.GetPage).Methods("GET")
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	searchRouter := router.NewRoute().Subrouter()
	searchRouter.Use(RateLimitMiddleware(limiter))
	searchRouter.HandleFunc("/search", h.PostSearch).Methods("POST")
	searchRouter.HandleFunc("/api/search", h.PostAPISearch).Methods("POST")

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(TimeoutMiddleware(requestTimeout))
	apiRouter.HandleFunc("/state", h.GetState).Methods("GET")
	apiRouter.HandleFunc("/weather/{city}", h.GetWeather).Methods("GET")
	return router
}
