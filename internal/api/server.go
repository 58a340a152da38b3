package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/launchpad/indexer/internal/database"
	"github.com/launchpad/indexer/internal/metrics"
	"github.com/launchpad/indexer/internal/prices"
	"github.com/launchpad/indexer/internal/processor"
)

// StatusProvider reports per-chain indexing progress. It is nil when the
// process only serves the API.
type StatusProvider interface {
	Status() []processor.ChainStatus
}

// Store is the non-query part of the database the API relies on.
// *database.Database implements it.
type Store interface {
	Ping(ctx context.Context) error
	ListCursors(ctx context.Context) ([]database.IndexerState, error)
}

type Options struct {
	SQLTimeout time.Duration
	SQLMaxRows int
}

type APIServer struct {
	mux    *http.ServeMux
	db     *pgxpool.Pool
	store  Store
	status StatusProvider
	opts   Options
	logger zerolog.Logger
}

func NewAPIServer(db *database.Database, status StatusProvider, opts Options, logger zerolog.Logger) *APIServer {
	return newAPIServer(db.Pool(), db, status, opts, logger)
}

func newAPIServer(pool *pgxpool.Pool, store Store, status StatusProvider, opts Options, logger zerolog.Logger) *APIServer {
	if opts.SQLTimeout <= 0 {
		opts.SQLTimeout = 10 * time.Second
	}
	if opts.SQLMaxRows <= 0 {
		opts.SQLMaxRows = 1000
	}
	s := &APIServer{
		mux:    http.NewServeMux(),
		db:     pool,
		store:  store,
		status: status,
		opts:   opts,
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.registerRoutes()
	return s
}

func (s *APIServer) Handler() http.Handler {
	return s.logMiddleware(s.mux)
}

func (s *APIServer) Start(ctx context.Context, addr string) error {
	s.logger.Info().Str("addr", addr).Msg("Starting API server")
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("Shutting down API server...")
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *APIServer) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.HandleFunc("/live", s.handleLive)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.Handle("/metrics", metrics.Handler())

	s.mux.HandleFunc("/sql", s.handleSQL)

	s.mux.HandleFunc("/pools", s.handlePools)
	s.mux.HandleFunc("/pools/", s.handlePoolPrefix)
	s.mux.HandleFunc("/trades", s.handleTrades)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *APIServer) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("latency", time.Since(start)).
			Msg("http")
	})
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	var chains []processor.ChainStatus
	if s.status != nil {
		chains = s.status.Status()
	} else {
		states, err := s.cursorStatus(r.Context())
		if err != nil {
			Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		chains = states
	}
	JSON(w, http.StatusOK, map[string]any{
		"chains": chains,
		"time":   time.Now().UTC(),
	}, nil)
}

// cursorStatus reads persisted cursors when no indexer runs in this process.
func (s *APIServer) cursorStatus(ctx context.Context) ([]processor.ChainStatus, error) {
	states, err := s.store.ListCursors(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]processor.ChainStatus, 0, len(states))
	for _, st := range states {
		out = append(out, processor.ChainStatus{
			ChainID:      st.ChainID,
			Cursor:       st.LastBlockNumber,
			LastProgress: st.UpdatedAt,
		})
	}
	return out, nil
}

func (s *APIServer) handlePools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	limit, offset, page, perPage := parsePagination(r)
	f := database.PoolFilter{
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
		Limit:     limit,
		Offset:    offset,
	}
	if v := q.Get("chain_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid chain_id")
			return
		}
		f.ChainID = &id
	}
	if v := q.Get("address"); v != "" {
		f.Address = &v
	}
	if v := q.Get("creator"); v != "" {
		f.Creator = &v
	}
	if v := q.Get("complete"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid complete flag")
			return
		}
		f.Complete = &b
	}

	items, err := database.ListPools(r.Context(), s.db, f)
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	prices.EnrichPools(items)
	pg := &Pagination{Page: page, PerPage: perPage, HasNext: len(items) == perPage}
	JSON(w, http.StatusOK, items, pg)
}

// handlePoolPrefix serves /pools/{chainId}/{address} and /pools/{chainId}/{address}/trades.
func (s *APIServer) handlePoolPrefix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/pools/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || len(parts) > 3 {
		Error(w, http.StatusNotFound, "not found")
		return
	}
	chainID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid chain id")
		return
	}
	address := parts[1]
	if !common.IsHexAddress(address) {
		Error(w, http.StatusBadRequest, "invalid pool address")
		return
	}

	if len(parts) == 3 {
		if parts[2] != "trades" {
			Error(w, http.StatusNotFound, "not found")
			return
		}
		s.listTrades(w, r, database.TradeFilter{ChainID: &chainID, Pool: &address})
		return
	}

	items, err := database.ListPools(r.Context(), s.db, database.PoolFilter{ChainID: &chainID, Address: &address, Limit: 1})
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(items) == 0 {
		Error(w, http.StatusNotFound, "pool not found")
		return
	}
	prices.EnrichPool(&items[0])
	JSON(w, http.StatusOK, items[0], nil)
}

func (s *APIServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	var f database.TradeFilter
	if v := q.Get("chain_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid chain_id")
			return
		}
		f.ChainID = &id
	}
	if v := q.Get("pool"); v != "" {
		f.Pool = &v
	}
	if v := q.Get("user"); v != "" {
		f.User = &v
	}
	s.listTrades(w, r, f)
}

func (s *APIServer) listTrades(w http.ResponseWriter, r *http.Request, f database.TradeFilter) {
	limit, offset, page, perPage := parsePagination(r)
	f.Limit, f.Offset = limit, offset
	items, err := database.ListTrades(r.Context(), s.db, f)
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	pg := &Pagination{Page: page, PerPage: perPage, HasNext: len(items) == perPage}
	JSON(w, http.StatusOK, items, pg)
}
