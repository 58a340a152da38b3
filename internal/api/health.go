package api

import (
	"context"
	"net/http"
	"time"

	"github.com/launchpad/indexer/internal/processor"
)

// degradedLag is the number of blocks behind head at which a chain is
// reported as degraded.
const degradedLag = 100

type HealthStatus struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Database  DatabaseStatus `json:"database"`
	Chains    []ChainHealth  `json:"chains,omitempty"`
}

type DatabaseStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type ChainHealth struct {
	ChainID   int64  `json:"chain_id"`
	Name      string `json:"name"`
	Cursor    uint64 `json:"cursor"`
	Head      uint64 `json:"head"`
	Lag       uint64 `json:"lag"`
	LastError string `json:"last_error,omitempty"`
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := s.healthStatus(ctx)

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	JSON(w, httpStatus, status, nil)
}

func (s *APIServer) healthStatus(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Timestamp: time.Now().UTC(),
		Status:    "healthy",
	}

	status.Database = DatabaseStatus{Connected: true}
	if err := s.store.Ping(ctx); err != nil {
		status.Database = DatabaseStatus{Connected: false, Error: err.Error()}
		status.Status = "unhealthy"
	}

	if s.status == nil {
		return status
	}
	for _, c := range s.status.Status() {
		status.Chains = append(status.Chains, chainHealth(c))
		if status.Status == "healthy" && (c.Lag > degradedLag || c.LastError != "") {
			status.Status = "degraded"
		}
	}
	return status
}

func chainHealth(c processor.ChainStatus) ChainHealth {
	return ChainHealth{
		ChainID:   c.ChainID,
		Name:      c.Name,
		Cursor:    c.Cursor,
		Head:      c.Head,
		Lag:       c.Lag,
		LastError: c.LastError,
	}
}

// handleReady reports whether the store is reachable.
func (s *APIServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *APIServer) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
