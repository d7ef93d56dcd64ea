package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wonny/aegis/exitengine/internal/api/handlers"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "exit",
	Subsystem: "api",
	Name:      "http_requests_total",
	Help:      "Ops API requests, by route template, method and status",
}, []string{"route", "method", "status"})

// Handlers groups the API handlers
type Handlers struct {
	Control   *handlers.ControlHandler
	Profiles  *handlers.ProfileHandler
	Positions *handlers.PositionHandler
	Intents   *handlers.IntentHandler
	System    *handlers.SystemHandler
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(h Handlers, metricsEnabled bool, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.System.Health).Methods("GET")
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	api := r.PathPrefix("/api/exit").Subrouter()

	api.HandleFunc("/status", h.System.Status).Methods("GET")

	// Kill switch
	api.HandleFunc("/control", h.Control.GetControl).Methods("GET")
	api.HandleFunc("/control", h.Control.SetControl).Methods("PUT")

	// Profiles (validate는 {id}보다 먼저 등록)
	api.HandleFunc("/profiles", h.Profiles.ListProfiles).Methods("GET")
	api.HandleFunc("/profiles/validate", h.Profiles.ValidateProfile).Methods("POST")
	api.HandleFunc("/profiles/{id}", h.Profiles.GetProfile).Methods("GET")
	api.HandleFunc("/profiles/{id}", h.Profiles.PutProfile).Methods("PUT")

	// Symbol overrides
	api.HandleFunc("/overrides", h.Profiles.ListOverrides).Methods("GET")
	api.HandleFunc("/overrides/{symbol}", h.Profiles.PutOverride).Methods("PUT")
	api.HandleFunc("/overrides/{symbol}", h.Profiles.DeleteOverride).Methods("DELETE")

	// Positions
	api.HandleFunc("/positions/{id}", h.Positions.GetPositionExit).Methods("GET")
	api.HandleFunc("/positions/{id}/profile", h.Positions.AssignProfile).Methods("PUT")
	api.HandleFunc("/positions/{id}/mode", h.Positions.SetExitMode).Methods("PUT")

	// Intents
	api.HandleFunc("/intents", h.Intents.ListIntents).Methods("GET")
	api.HandleFunc("/intents/{id}", h.Intents.GetIntent).Methods("GET")
	api.HandleFunc("/intents/{id}/approve", h.Intents.Approve).Methods("POST")
	api.HandleFunc("/intents/{id}/cancel", h.Intents.Cancel).Methods("POST")
	api.HandleFunc("/intents/{id}/status", h.Intents.UpdateStatus).Methods("POST")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests and counts them by route template
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := "unknown"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start).String(),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
