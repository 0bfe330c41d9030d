package api

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulseworks/readycheck/pkg/engine"
	"github.com/pulseworks/readycheck/pkg/reports"
	"github.com/pulseworks/readycheck/pkg/store"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// StoreInterface is the journal surface the handlers need. The sqlite
// store satisfies it; tests swap in fakes.
type StoreInterface interface {
	AppendEvent(ctx context.Context, event *store.Event) error
	ReadEvents(ctx context.Context, since time.Time, limit int) ([]*store.Event, error)
	ReadRecentEvents(ctx context.Context, limit int) ([]*store.Event, error)
	QueryEvents(ctx context.Context, filter store.EventFilter) ([]*store.Event, error)
	GetTickStats(ctx context.Context, filter store.StatFilter) ([]store.TickStat, error)
	PruneEvents(ctx context.Context, retention time.Duration, includeType string, excludeTypes []string) (int64, error)
	DeleteOwnerData(ctx context.Context, ownerID string) error

	RegisterWebhook(ctx context.Context, cfg *store.WebhookConfig) error
	ListWebhooks(ctx context.Context) ([]*store.WebhookConfig, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
}

// EngineInterface is the prediction surface the handlers query.
type EngineInterface interface {
	TimeUntilAffordable(now time.Time, abilityID engine.AbilityID, fresher *engine.PoolReading) (engine.Prediction, error)
	Status(now time.Time, poolID engine.PoolID) (engine.PoolStatus, bool)
	StatusAll(now time.Time) []engine.PoolStatus
	NoticeCast(notice engine.CastNotice)
	Catalog() *engine.Catalog
}

// SamplerInterface exposes source health for the health endpoint.
type SamplerInterface interface {
	Health() []engine.SourceHealth
}

type ElectionManagerInterface interface {
	IsLeader() bool
	GetLeader(ctx context.Context) (string, bool, error)
	GetEpoch() int64
}

// Server is the daemon's HTTP surface: readiness queries, pool state,
// journal reads, and the authed admin routes.
type Server struct {
	store   StoreInterface
	engine  EngineInterface
	sampler SamplerInterface
	owners  *engine.OwnerProjection
	server  *http.Server
	ownerID string

	tlsCertFile string
	tlsKeyFile  string

	// Static admin token hash; empty means open local mode
	apiTokenHash string

	election ElectionManagerInterface
}

func NewServer(st *store.Store, eng *engine.Engine, sampler *engine.Sampler, addr string) *Server {
	s := &Server{
		store:  st,
		engine: eng,
		owners: engine.NewOwnerProjection(),
	}
	if eng != nil {
		s.ownerID = eng.Config().OwnerID
	}
	// Assigned only when non-nil so the health handler can tell a missing
	// sampler from a present one.
	if sampler != nil {
		s.sampler = sampler
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/readiness", s.handleReadiness)
	mux.HandleFunc("/v1/pools", s.handlePools)
	mux.HandleFunc("/v1/cast", s.withLeaderCheck(s.handleCast))
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/webhooks", s.withLeaderCheck(s.withAuth(s.handleWebhooks)))
	mux.HandleFunc("/v1/webhooks/", s.withLeaderCheck(s.withAuth(s.handleWebhooks)))
	mux.HandleFunc("/v1/admin/prune", s.withLeaderCheck(s.withAuth(s.handlePrune)))
	mux.HandleFunc("/v1/owners/", s.withLeaderCheck(s.withAuth(s.handleOwners)))
	mux.HandleFunc("/v1/reports", s.withAuth(s.handleReports))
	// Simulations are self-contained and touch no live state, so no leader
	// check; they do burn CPU, hence auth.
	mux.HandleFunc("/v1/simulate", s.withAuth(s.handleSimulation))

	if addr == "" {
		addr = ":8090"
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      withLogging(withRecovery(withSecureHeaders(mux))),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	return s
}

func (s *Server) SetTLS(certFile, keyFile string) {
	s.tlsCertFile = certFile
	s.tlsKeyFile = keyFile
}

// SetAPIToken installs the shared token required on admin routes. An empty
// token leaves them open, the expected posture for a daemon bound to
// localhost.
func (s *Server) SetAPIToken(token string) {
	if token == "" {
		s.apiTokenHash = ""
		return
	}
	s.apiTokenHash = hashToken(token)
}

// SetElectionManager sets the election manager for HA routing
func (s *Server) SetElectionManager(em ElectionManagerInterface) {
	s.election = em
}

func (s *Server) getEpoch() int64 {
	if s.election == nil {
		return 0
	}
	return s.election.GetEpoch()
}

// Start runs the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	var err error
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		fmt.Printf(`{"level":"info","msg":"server_starting_tls","addr":"%s"}`+"\n", s.server.Addr)
		err = s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	} else {
		fmt.Printf(`{"level":"info","msg":"server_starting","addr":"%s"}`+"\n", s.server.Addr)
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	fmt.Println(`{"level":"info","msg":"server_stopping"}`)
	return s.server.Shutdown(ctx)
}

// writeJSON encodes v with the right headers. Encode failures can only be
// logged; the status line is already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_encode_response","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
	}
}

// requireMethod writes the 405 and reports false on a method mismatch.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// parseWindow reads the mandatory from/to RFC3339 query params shared by
// the stats and reports routes.
func parseWindow(w http.ResponseWriter, q url.Values) (from, to time.Time, ok bool) {
	var err error
	from, err = time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		http.Error(w, `{"error":"invalid_from","format":"RFC3339"}`, http.StatusBadRequest)
		return
	}
	to, err = time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		http.Error(w, `{"error":"invalid_to","format":"RFC3339"}`, http.StatusBadRequest)
		return
	}
	if to.Before(from) {
		http.Error(w, `{"error":"to_before_from"}`, http.StatusBadRequest)
		return
	}
	return from, to, true
}

// handleReadiness answers affordability queries. A named ability returns a
// single prediction; with no ability the whole catalog is answered, which
// is the HUD's bulk poll.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	now := time.Now().UTC()

	abilityID := q.Get("ability")
	if abilityID == "" {
		abilities := s.engine.Catalog().Abilities()
		preds := make([]engine.Prediction, 0, len(abilities))
		for _, a := range abilities {
			pred, err := s.engine.TimeUntilAffordable(now, a.ID, nil)
			if err != nil {
				fmt.Printf(`{"level":"error","msg":"failed_to_predict","trace_id":"%s","ability_id":"%s","error":"%v"}`+"\n",
					getTraceID(r.Context()), a.ID, err)
				continue
			}
			preds = append(preds, pred)
		}
		writeJSON(w, r, http.StatusOK, preds)
		return
	}

	// An optional fresher reading lets the client report a pool value the
	// sampler has not seen yet. It can arm the window before predicting
	// but never feeds the estimator.
	var fresher *engine.PoolReading
	if cur := q.Get("current"); cur != "" {
		current, err := strconv.ParseFloat(cur, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid_current"}`, http.StatusBadRequest)
			return
		}
		var maxVal float64
		if m := q.Get("max"); m != "" {
			maxVal, err = strconv.ParseFloat(m, 64)
			if err != nil {
				http.Error(w, `{"error":"invalid_max"}`, http.StatusBadRequest)
				return
			}
		}
		_, poolID, err := s.engine.Catalog().ResourceCost(engine.AbilityID(abilityID))
		if err != nil {
			http.Error(w, `{"error":"unknown_ability"}`, http.StatusNotFound)
			return
		}
		fresher = &engine.PoolReading{PoolID: poolID, Current: current, Max: maxVal}
	}

	pred, err := s.engine.TimeUntilAffordable(now, engine.AbilityID(abilityID), fresher)
	if err != nil {
		http.Error(w, `{"error":"unknown_ability"}`, http.StatusNotFound)
		return
	}

	// Bulk polls are not journaled; a named ask is deliberate enough to
	// record.
	payload, _ := json.Marshal(pred)
	evt := store.Event{
		EventID:       store.EventID(fmt.Sprintf("pred_%d", now.UnixNano())),
		EventType:     store.EventTypePredictionMade,
		SchemaVersion: 1,
		TsEvent:       now,
		TsIngest:      now,
		Epoch:         s.getEpoch(),
		Source: store.EventSource{
			OriginKind: "daemon",
			OriginID:   "api",
			WriterID:   "readycheck-d",
		},
		Dimensions: store.EventDimensions{
			OwnerID:   s.ownerID,
			PoolID:    string(pred.PoolID),
			AbilityID: string(pred.AbilityID),
			SourceID:  store.SentinelUnknown,
		},
		Correlation: store.EventCorrelation{
			CorrelationID: fmt.Sprintf("ask_%d", now.UnixNano()),
			CausationID:   store.SentinelUnknown,
		},
		Payload: payload,
	}
	if err := s.store.AppendEvent(r.Context(), &evt); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_append_prediction_event","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
	}

	writeJSON(w, r, http.StatusOK, pred)
}

// handlePools returns live pool states.
func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	now := time.Now().UTC()
	if poolID := r.URL.Query().Get("pool"); poolID != "" {
		status, ok := s.engine.Status(now, engine.PoolID(poolID))
		if !ok {
			http.Error(w, `{"error":"unknown_pool"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, r, http.StatusOK, status)
		return
	}

	writeJSON(w, r, http.StatusOK, s.engine.StatusAll(now))
}

// handleCast accepts an action-success notice from the client. The notice
// only triggers an immediate sample; the pool delta remains the
// authoritative spend signal.
func (s *Server) handleCast(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req CastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
		return
	}
	if req.AbilityID == "" {
		http.Error(w, `{"error":"missing_ability_id"}`, http.StatusBadRequest)
		return
	}
	if _, ok := s.engine.Catalog().Ability(engine.AbilityID(req.AbilityID)); !ok {
		http.Error(w, `{"error":"unknown_ability"}`, http.StatusNotFound)
		return
	}

	s.engine.NoticeCast(engine.CastNotice{
		AbilityID: engine.AbilityID(req.AbilityID),
		At:        time.Now().UTC(),
	})

	fmt.Printf(`{"level":"info","msg":"cast_noticed","trace_id":"%s","ability_id":"%s"}`+"\n",
		getTraceID(r.Context()), req.AbilityID)

	writeJSON(w, r, http.StatusAccepted, CastResponse{Status: "noticed", AbilityID: req.AbilityID})
}

// handleEvents returns recent events for diagnostics.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	limit := 50
	if l := q.Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}

	var events []*store.Event
	var err error
	if eventType, poolID := q.Get("type"), q.Get("pool_id"); eventType != "" || poolID != "" {
		filter := store.EventFilter{PoolID: poolID, Limit: limit}
		if eventType != "" {
			filter.EventTypes = []store.EventType{store.EventType(eventType)}
		}
		events, err = s.store.QueryEvents(r.Context(), filter)
	} else {
		events, err = s.store.ReadRecentEvents(r.Context(), limit)
	}
	if err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_read_events","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, r, http.StatusOK, events)
}

// handleStats returns aggregated regen tick statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	bucket := q.Get("bucket")
	if bucket == "" {
		bucket = "hour"
	}
	if bucket != "hour" && bucket != "day" {
		http.Error(w, `{"error":"invalid_bucket","valid":["hour","day"]}`, http.StatusBadRequest)
		return
	}

	from, to, ok := parseWindow(w, q)
	if !ok {
		return
	}

	stats, err := s.store.GetTickStats(r.Context(), store.StatFilter{
		From:    from,
		To:      to,
		Bucket:  bucket,
		OwnerID: q.Get("owner_id"),
		PoolID:  q.Get("pool_id"),
		Phase:   q.Get("phase"),
	})
	if err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_get_tick_stats","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, r, http.StatusOK, stats)
}

// handleReports streams a CSV export of the journal. Reports can scan a lot
// of history, so they sit behind auth like /v1/simulate.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	reportType := reports.ReportType(q.Get("type"))
	if reportType == "" {
		http.Error(w, `{"error":"missing_report_type","valid":["spend_log","regen","events"]}`, http.StatusBadRequest)
		return
	}

	from, to, ok := parseWindow(w, q)
	if !ok {
		return
	}

	params := reports.ReportParams{
		Start: from,
		End:   to,
		Filters: map[string]interface{}{
			"owner":      q.Get("owner_id"),
			"pool":       q.Get("pool_id"),
			"phase":      q.Get("phase"),
			"bucket":     q.Get("bucket"),
			"event_type": q.Get("event_type"),
		},
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			http.Error(w, `{"error":"invalid_limit"}`, http.StatusBadRequest)
			return
		}
		params.Filters["limit"] = limit
	}

	gen, err := reports.NewReportGenerator(reportType, s.store)
	if err != nil {
		http.Error(w, `{"error":"unknown_report_type","valid":["spend_log","regen","events"]}`, http.StatusBadRequest)
		return
	}

	reader, err := gen.Generate(r.Context(), params)
	if err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_generate_report","trace_id":"%s","type":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), reportType, err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", reportType))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_stream_report","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
	}
}

// handlePrune allows an operator to delete old events.
func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Retention string `json:"retention"` // e.g., "720h"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
		return
	}

	retention, err := time.ParseDuration(req.Retention)
	if err != nil {
		http.Error(w, `{"error":"invalid_retention_format","example":"720h"}`, http.StatusBadRequest)
		return
	}

	count, err := s.store.PruneEvents(r.Context(), retention, "", nil)
	if err != nil {
		// Without a snapshot nothing is safe to prune yet.
		if errors.Is(err, store.ErrNoSnapshots) {
			http.Error(w, `{"error":"no_snapshot_yet"}`, http.StatusConflict)
			return
		}
		fmt.Printf(`{"level":"error","msg":"failed_to_prune_events","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
		http.Error(w, fmt.Sprintf(`{"error":"prune_failed","details":"%v"}`, err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":         "success",
		"pruned_count":   count,
		"retention_used": retention.String(),
	})
}

// handleOwners wipes everything recorded for one owner.
func (s *Server) handleOwners(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/owners"), "/")

	switch r.Method {
	case http.MethodGet:
		s.handleOwnersGet(w, r, id)
	case http.MethodDelete:
		s.handleOwnersDelete(w, r, id)
	default:
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOwnersGet(w http.ResponseWriter, r *http.Request, id string) {
	if s.owners == nil {
		http.Error(w, `{"error":"owner_registry_unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	// Catch up on the journal before answering, so deletions and fresh
	// owners show without a daemon restart.
	if err := s.owners.Refresh(r.Context(), s.store); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_refresh_owners","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}

	if id != "" {
		info, ok := s.owners.Get(id)
		if !ok {
			http.Error(w, `{"error":"unknown_owner"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, r, http.StatusOK, info)
		return
	}

	writeJSON(w, r, http.StatusOK, s.owners.GetAll())
}

func (s *Server) handleOwnersDelete(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" {
		http.Error(w, `{"error":"missing_owner_id"}`, http.StatusBadRequest)
		return
	}

	if err := s.store.DeleteOwnerData(r.Context(), id); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_delete_owner_data","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}
	if s.owners != nil {
		s.owners.Remove(id)
	}

	fmt.Printf(`{"level":"info","msg":"owner_data_deleted","trace_id":"%s","owner_id":"%s"}`+"\n", getTraceID(r.Context()), id)
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth reports daemon status, election role, and source health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	resp := HealthResponse{Status: "ok", Role: "standalone"}
	if s.election != nil {
		resp.Role = "follower"
		if s.election.IsLeader() {
			resp.Role = "leader"
		}
		resp.Epoch = s.election.GetEpoch()
	}
	if s.sampler != nil {
		resp.Sources = s.sampler.Health()
		for _, src := range resp.Sources {
			if !src.Healthy {
				resp.Status = "degraded"
				break
			}
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// withAuth gates a handler behind the admin bearer token.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// No token configured means open local mode.
		if s.apiTokenHash == "" {
			next(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, `{"error":"unauthorized","reason":"missing_token"}`, http.StatusUnauthorized)
			return
		}
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			http.Error(w, `{"error":"unauthorized","reason":"invalid_token_format"}`, http.StatusUnauthorized)
			return
		}
		hash := hashToken(token)
		if subtle.ConstantTimeCompare([]byte(hash), []byte(s.apiTokenHash)) != 1 {
			http.Error(w, `{"error":"unauthorized","reason":"invalid_token"}`, http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// withRecovery turns handler panics into 500s instead of dropped
// connections.
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				fmt.Printf(`{"level":"error","msg":"panic_recovered","error":"%v","path":"%s"}`+"\n", err, r.URL.Path)
				http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withLogging threads a trace id through the request context and emits
// one log line per request.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = randomHex(16)
		}
		r = r.WithContext(context.WithValue(r.Context(), traceIDKey, traceID))
		w.Header().Set("X-Trace-ID", traceID)

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		fmt.Printf(`{"level":"info","msg":"http_request","trace_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`+"\n",
			traceID, r.Method, r.URL.Path, ww.status, time.Since(start).Milliseconds())
	})
}

// randomHex returns n random bytes hex-encoded, falling back to a
// timestamp if the system randomness source fails.
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return hex.EncodeToString(b)
}

func generateToken() string {
	return randomHex(32)
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// statusWriter captures the status code a handler wrote.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

var secureHeaders = map[string]string{
	"Content-Security-Policy":   "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:;",
	"Strict-Transport-Security": "max-age=63072000; includeSubDomains",
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"Referrer-Policy":           "no-referrer",
	"X-XSS-Protection":          "1; mode=block",
}

func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range secureHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// withLeaderCheck sends writes to the lease holder so the journal keeps a
// single writer. Reads are answered by whichever daemon got the request.
func (s *Server) withLeaderCheck(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.election == nil || s.election.IsLeader() {
			next(w, r)
			return
		}
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next(w, r)
			return
		}

		leaderAddr, ok, err := s.election.GetLeader(r.Context())
		if err != nil {
			fmt.Printf(`{"level":"error","msg":"failed_to_check_leader","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
			http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, `{"error":"service_unavailable","reason":"no_leader_elected"}`, http.StatusServiceUnavailable)
			return
		}

		target := strings.TrimRight(leaderAddr, "/") + r.URL.Path
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
	}
}
