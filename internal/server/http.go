package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"BetLedger/internal/clock"
	"BetLedger/internal/core"
	"BetLedger/internal/instruction"
	"BetLedger/internal/keys"
	"BetLedger/internal/math"
	"BetLedger/internal/observability"
	"BetLedger/internal/query"
	"BetLedger/internal/state"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxInstructionBytes = 1 << 20

// Server is the HTTP/JSON surface: instruction submission, engine and
// projection reads, the websocket event feed, and operational endpoints.
type Server struct {
	engine  *core.Engine
	queries *query.Service
	clk     clock.Clock
	hub     *Hub
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
	mux     *http.ServeMux
}

func New(
	engine *core.Engine,
	queries *query.Service,
	clk clock.Clock,
	hub *Hub,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Server {
	s := &Server{
		engine:  engine,
		queries: queries,
		clk:     clk,
		hub:     hub,
		health:  health,
		metrics: metrics,
		log:     log,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/instructions", s.instrument("submit", s.handleSubmit))
	s.mux.HandleFunc("GET /api/state", s.instrument("state", s.handleMainState))
	s.mux.HandleFunc("GET /api/pools", s.instrument("pools", s.handleListPools))
	s.mux.HandleFunc("GET /api/pools/{betId}", s.instrument("pool", s.handleGetPool))
	s.mux.HandleFunc("GET /api/pools/{betId}/history", s.instrument("history", s.handleGetHistory))
	s.mux.HandleFunc("GET /api/pools/{betId}/quote", s.instrument("quote", s.handleQuote))
	s.mux.HandleFunc("GET /api/pools/{betId}/entries/{user}", s.instrument("entry", s.handleGetEntry))
	s.mux.HandleFunc("GET /api/entries", s.instrument("entries", s.handleListEntries))
	s.mux.HandleFunc("GET /api/balances", s.instrument("balances", s.handleGetBalance))
	s.mux.HandleFunc("GET /api/journal", s.instrument("journal", s.handleJournal))
	s.mux.HandleFunc("GET /api/integrity", s.instrument("integrity", s.handleIntegrity))

	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("GET /healthz", s.health.LivenessHandler)
	s.mux.HandleFunc("GET /readyz", s.health.ReadinessHandler)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler exposes the route table, primarily for tests.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// corsMiddleware allows browser clients (charting front-ends) to call the
// read API cross-origin. Auth lives in the instruction signature, not in
// cookies, so a permissive origin is safe here.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           corsMiddleware(s.mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errChan <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// === instruction submission ===

type submitResponse struct {
	Sequence  int64  `json:"sequence"`
	Duplicate bool   `json:"duplicate"`
	EventType string `json:"eventType,omitempty"`
	StateHash string `json:"stateHash,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInstructionBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "BadRequest", "cannot read body")
		return
	}

	signed, err := instruction.Parse(body)
	if err != nil {
		if errors.Is(err, instruction.ErrBadSignature) {
			s.writeError(w, http.StatusUnauthorized, "BadSignature", err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}

	result, err := s.engine.Execute(signed)
	if err != nil {
		s.writeRejection(w, err)
		return
	}

	resp := submitResponse{
		Sequence:  result.Sequence,
		Duplicate: result.Duplicate,
	}
	if result.Envelope != nil {
		resp.EventType = result.Envelope.EventType.String()
		resp.StateHash = hex.EncodeToString(result.Envelope.StateHash[:])
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// === engine reads ===

type mainStateResponse struct {
	Owner          string `json:"owner"`
	InitialPrice   uint64 `json:"initialPrice"`
	ScaleFactor    uint64 `json:"scaleFactor"`
	CreatorFeeBps  uint64 `json:"creatorFeeBps"`
	PlatformFeeBps uint64 `json:"platformFeeBps"`
	NextBetID      uint64 `json:"nextBetId"`
	Sequence       int64  `json:"sequence"`
	StateHash      string `json:"stateHash"`
	VaultBalance   int64  `json:"vaultBalance"`
	VaultAddress   string `json:"vaultAddress"`
}

func (s *Server) handleMainState(w http.ResponseWriter, r *http.Request) {
	main, err := s.engine.ViewMainState()
	if err != nil {
		s.writeRejection(w, err)
		return
	}

	vaultAddr, err := keys.VaultAddress()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Internal", "address derivation failed")
		return
	}

	hash := s.engine.GetStateHash()
	s.writeJSON(w, http.StatusOK, mainStateResponse{
		Owner:          main.Owner.String(),
		InitialPrice:   main.InitialPrice,
		ScaleFactor:    main.ScaleFactor,
		CreatorFeeBps:  main.CreatorFeeBps,
		PlatformFeeBps: main.PlatformFeeBps,
		NextBetID:      main.NextBetID,
		Sequence:       s.engine.GetSequence(),
		StateHash:      hex.EncodeToString(hash[:]),
		VaultBalance:   s.engine.VaultBalance(),
		VaultAddress:   vaultAddr.String(),
	})
}

type quoteResponse struct {
	BetID         uint64 `json:"betId"`
	IsYes         bool   `json:"isYes"`
	Amount        uint64 `json:"amount"`
	TokenAmount   uint64 `json:"tokenAmount"`
	YesPrice      uint64 `json:"yesPrice"`
	NoPrice       uint64 `json:"noPrice"`
	NewYesReserve uint64 `json:"newYesReserve"`
	NewNoReserve  uint64 `json:"newNoReserve"`
}

// handleQuote previews a deposit against live engine reserves using the
// same pricing function the core applies, so a quoted deposit submitted
// against unchanged reserves mints exactly the quoted tokens.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	betID, err := strconv.ParseUint(r.PathValue("betId"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "BadRequest", "invalid bet id")
		return
	}
	amount, err := strconv.ParseUint(r.URL.Query().Get("amount"), 10, 64)
	if err != nil || amount == 0 {
		s.writeError(w, http.StatusBadRequest, "BadRequest", "amount must be a positive integer")
		return
	}
	side := r.URL.Query().Get("side")
	if side != "yes" && side != "no" {
		s.writeError(w, http.StatusBadRequest, "BadRequest", "side must be yes or no")
		return
	}
	isYes := side == "yes"

	pool, err := s.engine.ViewPool(betID)
	if err != nil {
		s.writeRejection(w, err)
		return
	}
	if err := pool.CheckOpenForDeposits(s.clk.Now()); err != nil {
		s.writeRejection(w, err)
		return
	}

	q, err := math.QuoteDeposit(pool.YesReserve, pool.NoReserve, amount, isYes)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, "MathOverflow", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, quoteResponse{
		BetID:         betID,
		IsYes:         isYes,
		Amount:        amount,
		TokenAmount:   q.TokenAmount,
		YesPrice:      q.YesPrice,
		NoPrice:       q.NoPrice,
		NewYesReserve: q.NewYesReserve,
		NewNoReserve:  q.NewNoReserve,
	})
}

// === projection reads ===

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := query.PoolFilter{
		Status:  q.Get("status"),
		Creator: q.Get("creator"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "BadRequest", "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "BadRequest", "invalid after cursor")
			return
		}
		filter.AfterBetID = &after
	}

	pools, err := s.queries.ListPools(r.Context(), filter, s.clk.Now())
	if err != nil {
		s.writeQueryError(w, "pools", err)
		return
	}
	if pools == nil {
		pools = []query.PoolResponse{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"pools": pools})
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	betID, err := strconv.ParseUint(r.PathValue("betId"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "BadRequest", "invalid bet id")
		return
	}

	pool, err := s.queries.GetPool(r.Context(), betID, s.clk.Now())
	if err != nil {
		s.writeQueryError(w, "pool", err)
		return
	}
	if pool == nil {
		s.writeError(w, http.StatusNotFound, "InvalidBet", "unknown bet id")
		return
	}
	s.writeJSON(w, http.StatusOK, pool)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	betID, err := strconv.ParseUint(r.PathValue("betId"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "BadRequest", "invalid bet id")
		return
	}

	history, err := s.queries.GetHistory(r.Context(), betID)
	if err != nil {
		s.writeQueryError(w, "history", err)
		return
	}
	if history == nil {
		s.writeError(w, http.StatusNotFound, "InvalidBet", "unknown bet id")
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	betID, err := strconv.ParseUint(r.PathValue("betId"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "BadRequest", "invalid bet id")
		return
	}
	user := r.PathValue("user")

	entry, err := s.queries.GetEntry(r.Context(), betID, user)
	if err != nil {
		s.writeQueryError(w, "entry", err)
		return
	}
	if entry == nil {
		s.writeError(w, http.StatusNotFound, "InvalidBet", "no entry for this user")
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		s.writeError(w, http.StatusBadRequest, "BadRequest", "user is required")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		var err error
		if limit, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "BadRequest", "invalid limit")
			return
		}
	}

	entries, err := s.queries.ListEntriesByUser(r.Context(), user, limit)
	if err != nil {
		s.writeQueryError(w, "entries", err)
		return
	}
	if entries == nil {
		entries = []query.EntryResponse{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		s.writeError(w, http.StatusBadRequest, "BadRequest", "account is required")
		return
	}

	balance, err := s.queries.GetBalance(r.Context(), account)
	if err != nil {
		s.writeQueryError(w, "balances", err)
		return
	}
	s.writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		s.writeError(w, http.StatusBadRequest, "BadRequest", "wallet is required")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		var err error
		if limit, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, "BadRequest", "invalid limit")
			return
		}
	}
	var after *int64
	if v := r.URL.Query().Get("after"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "BadRequest", "invalid after cursor")
			return
		}
		after = &seq
	}

	entries, err := s.queries.GetJournalHistory(r.Context(), wallet, limit, after)
	if err != nil {
		s.writeQueryError(w, "journal", err)
		return
	}
	if entries == nil {
		entries = []query.JournalHistoryEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"journal": entries})
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeQueryError(w, "integrity", err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

// === helpers ===

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeRejection maps typed core rejections to HTTP statuses.
func (s *Server) writeRejection(w http.ResponseWriter, err error) {
	code, ok := state.CodeOf(err)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Internal", err.Error())
		return
	}
	s.writeError(w, statusForCode(code), code.String(), err.Error())
}

func statusForCode(code state.Code) int {
	switch code {
	case state.CodeTitleTooLong, state.CodeDescriptionTooLong,
		state.CodeTitleEmpty, state.CodeDescriptionEmpty:
		return http.StatusBadRequest
	case state.CodeUnauthorized:
		return http.StatusForbidden
	case state.CodeInvalidBet:
		return http.StatusNotFound
	case state.CodeMathOverflow:
		return http.StatusUnprocessableEntity
	default:
		// Lifecycle violations: wrong phase for this instruction.
		return http.StatusConflict
	}
}

func (s *Server) writeQueryError(w http.ResponseWriter, endpoint string, err error) {
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(endpoint, "internal").Inc()
	}
	s.log.Error().Err(err).Str("endpoint", endpoint).Msg("query failed")
	s.writeError(w, http.StatusInternalServerError, "Internal", "query failed")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, fmt.Sprintf("%d", rec.status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}
