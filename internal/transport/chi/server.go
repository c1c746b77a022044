package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrag/internal/domain"
	"github.com/kailas-cloud/bookrag/internal/domain/mode"
	"github.com/kailas-cloud/bookrag/internal/domain/result"
	"github.com/kailas-cloud/bookrag/internal/logger"
	"github.com/kailas-cloud/bookrag/internal/usecase/assemble"
	healthuc "github.com/kailas-cloud/bookrag/internal/usecase/health"
	"github.com/kailas-cloud/bookrag/internal/usecase/query"
)

const (
	defaultRecentCount = 5
	maxBatchSize       = 32
)

// Error codes of the transport layer. Query failures travel inside the
// result contract instead.
const (
	codeBadRequest = "bad_request"
	codeTooLarge   = "batch_too_large"
)

// Querier is the query surface served over HTTP.
type Querier interface {
	Run(ctx context.Context, q string, opts query.Options) result.Result
	RunBatch(ctx context.Context, queries []string, opts query.Options) []result.Result
	ReaderWindow(ctx context.Context, source string, index, window int) query.ReaderResult
	Recent(ctx context.Context, n int) []string
	Modes() []query.ModeInfo
}

// Server exposes the query service over HTTP.
type Server struct {
	queries      Querier
	health       *healthuc.Service
	queryTimeout time.Duration
	logger       *zap.Logger
}

// NewServer creates an HTTP API server. A non-positive queryTimeout disables
// the deadline.
func NewServer(queries Querier, health *healthuc.Service, queryTimeout time.Duration, logger *zap.Logger) *Server {
	return &Server{
		queries:      queries,
		health:       health,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// Routes registers the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/modes", s.ListModes)
	r.Post("/query", s.Query)
	r.Get("/recent", s.RecentQueries)
	r.Get("/reader", s.Reader)
	r.Get("/metrics", s.Metrics)
}

type queryRequest struct {
	Query           string          `json:"q"`
	Queries         []string        `json:"queries,omitempty"`
	Publishers      []string        `json:"pubs"`
	Mode            string          `json:"mode"`
	JudgeMode       string          `json:"judge_mode"`
	UseJudge        *bool           `json:"use_judge"`
	JudgeMin        *float64        `json:"judge_min"`
	Sort            string          `json:"sort"`
	ComputeNearMiss *bool           `json:"compute_near_miss"`
	UseLLM          bool            `json:"use_llm"`
	Budget          assemble.Budget `json:"budget"`
}

func (r queryRequest) options() query.Options {
	return query.Options{
		Publishers:      r.Publishers,
		Mode:            r.Mode,
		JudgeMode:       r.JudgeMode,
		UseJudge:        r.UseJudge,
		JudgeMin:        r.JudgeMin,
		Sort:            mode.ParseSort(r.Sort),
		ComputeNearMiss: r.ComputeNearMiss,
		UseLLM:          r.UseLLM,
		Budget:          r.Budget,
	}
}

type queryResponse struct {
	result.Result
	Summary string `json:"summary"`
}

type batchResponse struct {
	Results []queryResponse `json:"results"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Query handles POST /query. A non-empty "queries" list runs a batch.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request")
		return
	}
	opts := req.options()

	if len(req.Queries) > 0 {
		if len(req.Queries) > maxBatchSize {
			writeError(w, http.StatusBadRequest, codeTooLarge,
				"batch exceeds "+strconv.Itoa(maxBatchSize)+" queries")
			return
		}
		res, ok := race(r.Context(), s.queryTimeout, func(ctx context.Context) []result.Result {
			return s.queries.RunBatch(ctx, req.Queries, opts)
		})
		if !ok {
			s.timedOut(r.Context(), len(req.Queries))
			res = make([]result.Result, len(req.Queries))
			for i, q := range req.Queries {
				res[i] = timeoutResult(q, opts)
			}
		}
		out := batchResponse{Results: make([]queryResponse, len(res))}
		for i := range res {
			out.Results[i] = queryResponse{Result: res[i], Summary: res[i].Summary()}
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	res, ok := race(r.Context(), s.queryTimeout, func(ctx context.Context) result.Result {
		return s.queries.Run(ctx, req.Query, opts)
	})
	if !ok {
		s.timedOut(r.Context(), 1)
		res = timeoutResult(req.Query, opts)
	}
	writeJSON(w, http.StatusOK, queryResponse{Result: res, Summary: res.Summary()})
}

// RecentQueries handles GET /recent?n=.
func (s *Server) RecentQueries(w http.ResponseWriter, r *http.Request) {
	n := defaultRecentCount
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, map[string][]string{"queries": s.queries.Recent(r.Context(), n)})
}

// Reader handles GET /reader?fp=&cidx=&window=.
func (s *Server) Reader(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	index, err := strconv.Atoi(params.Get("cidx"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "cidx must be an integer")
		return
	}
	window := query.DefaultReaderWindow
	if v := params.Get("window"); v != "" {
		window, err = strconv.Atoi(v)
		if err != nil || window < 0 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "window must be a non-negative integer")
			return
		}
	}
	writeJSON(w, http.StatusOK, s.queries.ReaderWindow(r.Context(), params.Get("fp"), index, window))
}

// ListModes handles GET /modes.
func (s *Server) ListModes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default": query.DefaultMode,
		"modes":   s.queries.Modes(),
	})
}

type healthResponse struct {
	Status     healthuc.Status                 `json:"status"`
	Checks     map[string]healthuc.CheckResult `json:"checks"`
	Publishers []string                        `json:"publishers"`
}

// HealthCheck handles GET /health. Only a server with no loaded corpus
// reports 503; degraded components still serve lexical answers.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status:     report.Status,
		Checks:     report.Checks,
		Publishers: report.Publishers,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) timedOut(ctx context.Context, n int) {
	logger.FromContext(ctx).Warn("Query timed out",
		zap.Duration("timeout", s.queryTimeout),
		zap.Int("queries", n),
	)
}

// race runs fn under a deadline. It reports false when the deadline (or the
// request) ended first; fn keeps running in the background and its result is
// dropped.
func race[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) T) (T, bool) {
	if timeout <= 0 {
		return fn(ctx), true
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	done := make(chan T, 1)
	go func() {
		defer cancel()
		done <- fn(ctx)
	}()
	select {
	case v := <-done:
		return v, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

func timeoutResult(q string, opts query.Options) result.Result {
	sort := opts.Sort
	if sort == "" {
		sort = mode.Best
	}
	return result.Failure(domain.NewTimeoutError(), result.Meta{
		EventID: uuid.NewString(),
		Query: result.QueryInfo{
			Original:   q,
			Expansions: []string{},
			Mode:       opts.Mode,
			Sort:       sort,
			Requested:  opts.Publishers,
			Used:       []string{},
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}
