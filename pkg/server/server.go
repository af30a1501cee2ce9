// Package server implements a lock server
package server

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/api"
)

// APIServerConfig defines the configuration for the APIServer
type APIServerConfig struct {
	LockService deploylock.Service
	Log         *slog.Logger
	// Metrics are exposed at /metrics if not nil
	Metrics prometheus.Gatherer
	// Token required as bearer credentials of the lock requests. Requests are not authenticated if empty
	Token string
}

// APIServer defines a deploylock API server
type APIServer struct {
	srv deploylock.Service
	log *slog.Logger
}

// NewAPIServer creates a new lock service API server
func NewAPIServer(config APIServerConfig) http.Handler {
	log := config.Log
	if log == nil {
		log = deploylock.DiscardLogger()
	}
	server := &APIServer{
		srv: config.LockService,
		log: log,
	}

	handler := http.NewServeMux()
	handler.Handle("POST /lock", authorize(config.Token, http.HandlerFunc(server.Lock)))
	handler.Handle("POST /unlock", authorize(config.Token, http.HandlerFunc(server.Unlock)))
	handler.Handle("POST /check", authorize(config.Token, http.HandlerFunc(server.Check)))
	if config.Metrics != nil {
		handler.Handle("GET /metrics", promhttp.HandlerFor(config.Metrics, promhttp.HandlerOpts{}))
	}

	return handler
}

// authorize rejects requests that do not carry the token as bearer credentials
func authorize(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credentials, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(credentials), []byte(token)) != 1 {
			w.Header().Add("Content-Type", "application/json")
			w.Header().Add("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			resp := struct {
				Error *deploylock.Error `json:"error"`
			}{Error: deploylock.NewError(api.ErrUnauthorized)}
			_ = json.NewEncoder(w).Encode(resp) //nolint:errchkjson
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Lock implements the request handler for the lock request
func (a *APIServer) Lock(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")

	resp := api.LockResponse{}

	// ensure errors are reported and logged
	defer func() {
		if resp.Error != nil {
			a.log.Error(resp.Error.Error())
			_ = json.NewEncoder(w).Encode(resp) //nolint:errchkjson
		}
	}()

	req := api.LockRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		resp.Error = deploylock.NewWrappedError(api.ErrInvalidRequest, err)
		return
	}

	a.log.Debug("processing", "request", req.String())

	result, err := a.srv.Lock(r.Context(), req.LockRequest)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		resp.Error = deploylock.NewWrappedError(api.ErrLockFailed, err)
		return
	}

	resp.Result = result

	a.log.Debug("returning", "status", result.Status)

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp) //nolint:errchkjson
}

// Unlock implements the request handler for the unlock request
func (a *APIServer) Unlock(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")

	resp := api.UnlockResponse{}

	// ensure errors are reported and logged
	defer func() {
		if resp.Error != nil {
			a.log.Error(resp.Error.Error())
			_ = json.NewEncoder(w).Encode(resp) //nolint:errchkjson
		}
	}()

	req := api.UnlockRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		resp.Error = deploylock.NewWrappedError(api.ErrInvalidRequest, err)
		return
	}

	a.log.Debug("processing", "request", req.String())

	result, err := a.srv.Unlock(r.Context(), req.UnlockRequest)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		resp.Error = deploylock.NewWrappedError(api.ErrUnlockFailed, err)
		return
	}

	resp.Result = result

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp) //nolint:errchkjson
}

// Check implements the request handler for the check request
func (a *APIServer) Check(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")

	resp := api.CheckResponse{}

	// ensure errors are reported and logged
	defer func() {
		if resp.Error != nil {
			a.log.Error(resp.Error.Error())
			_ = json.NewEncoder(w).Encode(resp) //nolint:errchkjson
		}
	}()

	req := api.CheckRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		resp.Error = deploylock.NewWrappedError(api.ErrInvalidRequest, err)
		return
	}

	a.log.Debug("processing", "scope", req.Scope)

	result, err := a.srv.Check(r.Context(), req.Scope)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		resp.Error = deploylock.NewWrappedError(api.ErrCheckFailed, err)
		return
	}

	resp.Result = result

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp) //nolint:errchkjson
}
