// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"machinery/internal/logger"
	"machinery/internal/network"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// SensorDirectory is the read side of the sensor store used by the API
type SensorDirectory interface {
	ListSensors(ctx context.Context) ([]*Sensor, error)
	GetSensor(ctx context.Context, id string) (*Sensor, error)
	RecentReadings(ctx context.Context, sensorID string, limit int) ([]*Reading, error)
}

// SensorStatus is a provisioned sensor together with its live state
type SensorStatus struct {
	*Sensor
	CommandConnected   bool     `json:"command_connected"`
	TelemetryConnected bool     `json:"telemetry_connected"`
	LatestReading      *Reading `json:"latest_reading,omitempty"`
}

// CommandRequest is the body of a command submission
type CommandRequest struct {
	Command string `json:"command"`
}

// CommandResponse is the outcome of a relayed command
type CommandResponse struct {
	SensorID  string `json:"sensor_id"`
	CommandID string `json:"command_id"`
	Command   string `json:"command"`
	Response  string `json:"response"`
	TimedOut  bool   `json:"timed_out"`
	LatencyMS int64  `json:"latency_ms"`
}

// APIServer is the HTTP front-end through which operators issue commands
type APIServer struct {
	sensors   SensorDirectory
	relay     *Registry
	telemetry *Registry
	cache     *ReadingCache
	tokens    *TokenService
	limiter   *RateLimiter
	timeout   time.Duration
	logger    zerolog.Logger
	server    *http.Server
}

// NewAPIServer creates an API server. Auth and rate limiting are wired in
// only when enabled in config.
func NewAPIServer(sensors SensorDirectory, relay, telemetry *Registry, cache *ReadingCache, config APIConfig) *APIServer {
	api := &APIServer{
		sensors:   sensors,
		relay:     relay,
		telemetry: telemetry,
		cache:     cache,
		logger:    logger.GetLogger("controller.api"),
	}
	api.timeout, _ = time.ParseDuration(config.Timeout)
	if api.timeout <= 0 {
		api.timeout = 30 * time.Second
	}
	if config.Auth.Enabled {
		api.tokens = NewTokenService(config.Auth)
	}
	if config.RateLimit.Enabled {
		api.limiter = NewRateLimiter(config.RateLimit)
	}
	return api
}

// Router builds the HTTP handler tree
func (api *APIServer) Router() http.Handler {
	router := mux.NewRouter()

	router.Use(api.loggingMiddleware)
	if api.limiter != nil {
		router.Use(api.limiter.Middleware)
	}

	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	apiRouter.HandleFunc("/health", api.handleHealth).Methods("GET")
	apiRouter.Handle("/sensors", api.protect(ScopeRead, api.handleListSensors)).Methods("GET")
	apiRouter.Handle("/sensors/{id}", api.protect(ScopeRead, api.handleGetSensor)).Methods("GET")
	apiRouter.Handle("/sensors/{id}/readings", api.protect(ScopeRead, api.handleReadings)).Methods("GET")
	apiRouter.Handle("/sensors/{id}/command", api.protect(ScopeCommand, api.handleCommand)).Methods("POST")
	apiRouter.Handle("/sessions", api.protect(ScopeRead, api.handleSessions)).Methods("GET")

	return router
}

func (api *APIServer) protect(scope string, h http.HandlerFunc) http.Handler {
	if api.tokens == nil {
		return h
	}
	return api.tokens.RequireScope(scope, h)
}

// Serve runs the HTTP server on ln until ctx is cancelled
func (api *APIServer) Serve(ctx context.Context, ln net.Listener) error {
	api.server = &http.Server{
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: api.timeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	api.logger.Info().
		Str("address", ln.Addr().String()).
		Msg("Starting API server")

	errc := make(chan error, 1)
	go func() { errc <- api.server.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := api.server.Shutdown(shutdownCtx); err != nil {
			api.server.Close()
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Middleware
func (api *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		api.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, map[string]interface{}{
		"success":   false,
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Handlers
func (api *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"relay_sessions":     api.relay.Len(),
		"telemetry_sessions": api.telemetry.Len(),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}

func (api *APIServer) handleListSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := api.sensors.ListSensors(r.Context())
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to list sensors")
		sendError(w, http.StatusInternalServerError, "failed to list sensors")
		return
	}

	statuses := make([]SensorStatus, 0, len(sensors))
	for _, sensor := range sensors {
		statuses = append(statuses, api.status(sensor))
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"sensors": statuses,
		"count":   len(statuses),
	})
}

func (api *APIServer) handleGetSensor(w http.ResponseWriter, r *http.Request) {
	sensor, ok := api.lookupSensor(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, api.status(sensor))
}

func (api *APIServer) handleReadings(w http.ResponseWriter, r *http.Request) {
	sensor, ok := api.lookupSensor(w, r)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			sendError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	readings, err := api.sensors.RecentReadings(r.Context(), sensor.ID, limit)
	if err != nil {
		api.logger.Error().Err(err).Str("sensor_id", sensor.ID).Msg("Failed to load readings")
		sendError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	if readings == nil {
		readings = []*Reading{}
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"sensor_id": sensor.ID,
		"readings":  readings,
		"count":     len(readings),
	})
}

func (api *APIServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"relay":     api.relay.Sessions(),
		"telemetry": api.telemetry.Sessions(),
	})
}

func (api *APIServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	sensorID := mux.Vars(r)["id"]

	var req CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		sendError(w, http.StatusBadRequest, "command is required")
		return
	}
	if len(req.Command) > network.MaxCommandFrame {
		sendError(w, http.StatusBadRequest, "command exceeds "+strconv.Itoa(network.MaxCommandFrame)+" bytes")
		return
	}

	env, ok := api.relay.Submit(sensorID, req.Command)
	if !ok {
		sendError(w, http.StatusServiceUnavailable, "sensor not connected")
		return
	}

	log := api.logger.With().
		Str("sensor_id", sensorID).
		Str("command_id", env.ID.String()).
		Logger()
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		log = log.With().Str("operator", claims.Subject).Logger()
	}
	log.Debug().Str("command", req.Command).Msg("Command accepted")

	ctx, cancel := context.WithTimeout(r.Context(), api.timeout)
	defer cancel()

	response, err := env.Sink.Wait(ctx)
	if err != nil {
		// The worker still resolves the envelope; nobody reads it
		log.Warn().Err(err).Msg("Gave up waiting for command response")
		response = network.TimeoutSentinel
	}

	result := CommandResponse{
		SensorID:  sensorID,
		CommandID: env.ID.String(),
		Command:   req.Command,
		Response:  response,
		TimedOut:  response == network.TimeoutSentinel,
		LatencyMS: time.Since(env.EnqueuedAt).Milliseconds(),
	}
	status := http.StatusOK
	if result.TimedOut {
		status = http.StatusGatewayTimeout
	}
	sendJSON(w, status, result)
}

func (api *APIServer) lookupSensor(w http.ResponseWriter, r *http.Request) (*Sensor, bool) {
	id := mux.Vars(r)["id"]
	sensor, err := api.sensors.GetSensor(r.Context(), id)
	if errors.Is(err, ErrSensorNotFound) {
		sendError(w, http.StatusNotFound, "sensor not found")
		return nil, false
	}
	if err != nil {
		api.logger.Error().Err(err).Str("sensor_id", id).Msg("Failed to load sensor")
		sendError(w, http.StatusInternalServerError, "failed to load sensor")
		return nil, false
	}
	return sensor, true
}

func (api *APIServer) status(sensor *Sensor) SensorStatus {
	status := SensorStatus{
		Sensor:             sensor,
		CommandConnected:   api.relay.Connected(sensor.ID),
		TelemetryConnected: api.telemetry.Connected(sensor.ID),
	}
	if reading, ok := api.cache.Latest(sensor.ID); ok {
		status.LatestReading = &reading
	}
	return status
}
