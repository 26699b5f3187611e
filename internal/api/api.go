// Package api serves the game operations over HTTP with JSON bodies.
//
// Every /v1 route requires an "Authorization: Bearer <token>" header. Success
// responses are {"status":"ok","data":...}; failures are
// {"status":"error","error":{"code","message","details"}} with the HTTP
// status derived from the error class.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tchosco/toi700game-sub002/internal/gameerr"
	"github.com/Tchosco/toi700game-sub002/internal/model"
	"github.com/Tchosco/toi700game-sub002/internal/service"
)

const maxBodyBytes = 1 << 20

// Response is the envelope of every JSON reply.
type Response struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Server routes HTTP requests to a service.
type Server struct {
	svc      *service.Service
	auth     service.Authenticator
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Options configures a Server.
type Options struct {
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// New creates a Server.
func New(svc *service.Service, auth service.Authenticator, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{svc: svc, auth: auth, gatherer: opts.Gatherer, logger: logger}
}

// Handler returns the routing handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Response{Status: "ok"})
	})
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	v1 := func(pattern string, h func(*http.Request) (any, error)) {
		mux.Handle(pattern, s.authenticated(h))
	}

	v1("POST /v1/wars", s.declareWar)
	v1("GET /v1/wars/{warID}", s.getWar)
	v1("POST /v1/wars/{warID}/surrender", s.surrenderWar)
	v1("POST /v1/wars/{warID}/activate", s.activateWar)
	v1("POST /v1/wars/{warID}/cycles", s.advanceWarCycle)
	v1("GET /v1/territories/{territoryID}/wars", s.territoryWars)

	v1("POST /v1/votes", s.proposeVote)
	v1("POST /v1/votes/close-expired", s.closeExpiredVotes)
	v1("GET /v1/votes/{voteID}", s.getVote)
	v1("POST /v1/votes/{voteID}/ballots", s.castVote)
	v1("GET /v1/laws/{lawID}", s.getLaw)

	v1("POST /v1/listings", s.placeListing)
	v1("GET /v1/listings", s.listListings)
	v1("GET /v1/listings/{listingID}", s.getListing)
	v1("POST /v1/listings/{listingID}/cancel", s.cancelListing)
	v1("POST /v1/listings/{listingID}/fills", s.fillListing)

	v1("POST /v1/rankings/{tick}", s.computeRankings)
	v1("GET /v1/rankings/{tick}", s.rankings)
	v1("GET /v1/territories/{territoryID}/rankings", s.rankingHistory)
	v1("PUT /v1/ticks/{tick}/summaries/{territoryID}", s.recordTickSummary)

	v1("GET /v1/balances/{kind}/{owner}/{asset}", s.balance)
	v1("GET /v1/events", s.events)

	return s.logRequests(mux)
}

// authenticated resolves the actor, runs h and writes its result.
func (s *Server) authenticated(h func(*http.Request) (any, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, err)
			return
		}
		r = r.WithContext(service.WithActor(r.Context(), actor))

		data, err := h(r)
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusOK
		if isCreate(r.Pattern) {
			status = http.StatusCreated
		}
		writeJSON(w, status, Response{Status: "ok", Data: data})
	})
}

// isCreate reports whether pattern creates a top-level resource.
func isCreate(pattern string) bool {
	switch pattern {
	case "POST /v1/wars", "POST /v1/votes", "POST /v1/listings":
		return true
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.LogAttrs(r.Context(), slog.LevelDebug, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	switch gameerr.ClassOf(err) {
	case gameerr.ClassAuthentication:
		return http.StatusUnauthorized
	case gameerr.ClassAuthorization:
		return http.StatusForbidden
	case gameerr.ClassValidation:
		return http.StatusBadRequest
	case gameerr.ClassNotFound:
		return http.StatusNotFound
	case gameerr.ClassStateConflict:
		return http.StatusConflict
	case gameerr.ClassInsufficientResource:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := &ErrorBody{Code: string(gameerr.CodeOf(err)), Message: err.Error()}
	if ge, ok := gameerr.As(err); ok {
		body.Message = ge.Message
		body.Details = map[string]any{"class": ge.Class()}
		if ge.Entity != "" {
			body.Details["entity"] = ge.Entity
		}
		if gameerr.Retryable(err) {
			body.Details["retryable"] = true
		}
	}
	writeJSON(w, StatusOf(err), Response{Status: "error", Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return gameerr.New(gameerr.CodeValidation, "", "request body is required")
		}
		return gameerr.New(gameerr.CodeValidation, "", "invalid request body: %v", err)
	}
	return nil
}

func pathTick(r *http.Request) (int64, error) {
	tick, err := strconv.ParseInt(r.PathValue("tick"), 10, 64)
	if err != nil {
		return 0, gameerr.New(gameerr.CodeValidation, "", "tick must be an integer, got %q", r.PathValue("tick"))
	}
	return tick, nil
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, gameerr.New(gameerr.CodeValidation, "", "%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}

func (s *Server) declareWar(r *http.Request) (any, error) {
	var req service.DeclareWarRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.svc.DeclareWar(r.Context(), req)
}

func (s *Server) getWar(r *http.Request) (any, error) {
	return s.svc.GetWar(r.Context(), r.PathValue("warID"))
}

func (s *Server) surrenderWar(r *http.Request) (any, error) {
	return s.svc.SurrenderWar(r.Context(), r.PathValue("warID"))
}

func (s *Server) activateWar(r *http.Request) (any, error) {
	return s.svc.ActivateWar(r.Context(), r.PathValue("warID"))
}

func (s *Server) advanceWarCycle(r *http.Request) (any, error) {
	return s.svc.AdvanceWarCycle(r.Context(), r.PathValue("warID"))
}

func (s *Server) territoryWars(r *http.Request) (any, error) {
	return s.svc.WarsOf(r.Context(), r.PathValue("territoryID"))
}

func (s *Server) proposeVote(r *http.Request) (any, error) {
	var req service.ProposeVoteRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.svc.ProposeVote(r.Context(), req)
}

func (s *Server) closeExpiredVotes(r *http.Request) (any, error) {
	return s.svc.CloseExpiredVotes(r.Context())
}

type voteView struct {
	Vote    model.Vote         `json:"vote"`
	Ballots []model.VoteRecord `json:"ballots"`
}

func (s *Server) getVote(r *http.Request) (any, error) {
	v, ballots, err := s.svc.GetVote(r.Context(), r.PathValue("voteID"))
	if err != nil {
		return nil, err
	}
	return voteView{Vote: v, Ballots: ballots}, nil
}

// castBody is the ballot body; the vote id comes from the path.
type castBody struct {
	TerritoryID string       `json:"territory_id"`
	Choice      model.Choice `json:"choice"`
	Reason      string       `json:"reason,omitempty"`
}

func (s *Server) castVote(r *http.Request) (any, error) {
	var body castBody
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	return s.svc.CastVote(r.Context(), service.CastVoteRequest{
		VoteID:      r.PathValue("voteID"),
		TerritoryID: body.TerritoryID,
		Choice:      body.Choice,
		Reason:      body.Reason,
	})
}

type lawView struct {
	Law     model.Law                 `json:"law"`
	History []model.LegalHistoryEntry `json:"history"`
}

func (s *Server) getLaw(r *http.Request) (any, error) {
	law, history, err := s.svc.GetLaw(r.Context(), r.PathValue("lawID"))
	if err != nil {
		return nil, err
	}
	return lawView{Law: law, History: history}, nil
}

func (s *Server) placeListing(r *http.Request) (any, error) {
	var req service.PlaceListingRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	return s.svc.PlaceListing(r.Context(), req)
}

func (s *Server) listListings(r *http.Request) (any, error) {
	return s.svc.ListListings(r.Context(), model.ListingStatus(r.URL.Query().Get("status")))
}

func (s *Server) getListing(r *http.Request) (any, error) {
	return s.svc.GetListing(r.Context(), r.PathValue("listingID"))
}

func (s *Server) cancelListing(r *http.Request) (any, error) {
	return s.svc.CancelListing(r.Context(), r.PathValue("listingID"))
}

type fillBody struct {
	CounterpartyUserID string `json:"counterparty_user_id"`
	Quantity           int64  `json:"quantity"`
}

func (s *Server) fillListing(r *http.Request) (any, error) {
	var body fillBody
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	return s.svc.FillListing(r.Context(), service.FillListingRequest{
		ListingID:          r.PathValue("listingID"),
		CounterpartyUserID: body.CounterpartyUserID,
		Quantity:           body.Quantity,
	})
}

func (s *Server) computeRankings(r *http.Request) (any, error) {
	tick, err := pathTick(r)
	if err != nil {
		return nil, err
	}
	return s.svc.ComputeRankings(r.Context(), tick)
}

func (s *Server) rankings(r *http.Request) (any, error) {
	tick, err := pathTick(r)
	if err != nil {
		return nil, err
	}
	return s.svc.Rankings(r.Context(), tick)
}

func (s *Server) rankingHistory(r *http.Request) (any, error) {
	return s.svc.RankingHistory(r.Context(), r.PathValue("territoryID"))
}

type summaryBody struct {
	Production  map[string]float64 `json:"production"`
	Consumption map[string]float64 `json:"consumption"`
}

func (s *Server) recordTickSummary(r *http.Request) (any, error) {
	tick, err := pathTick(r)
	if err != nil {
		return nil, err
	}
	var body summaryBody
	if err := decode(r, &body); err != nil {
		return nil, err
	}
	err = s.svc.RecordTickSummary(r.Context(), model.TickSummary{
		TickNumber:  tick,
		TerritoryID: r.PathValue("territoryID"),
		Production:  body.Production,
		Consumption: body.Consumption,
	})
	return nil, err
}

type balanceView struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

func (s *Server) balance(r *http.Request) (any, error) {
	acct := model.Account{
		Kind:  model.AccountKind(r.PathValue("kind")),
		Owner: r.PathValue("owner"),
		Asset: r.PathValue("asset"),
	}
	bal, err := s.svc.Balance(r.Context(), acct)
	if err != nil {
		return nil, err
	}
	return balanceView{Account: acct.String(), Balance: bal}, nil
}

func (s *Server) events(r *http.Request) (any, error) {
	after, err := queryInt(r, "after")
	if err != nil {
		return nil, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return nil, err
	}
	return s.svc.Events(r.Context(), after, int(limit))
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// within timeout.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, timeout time.Duration, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
