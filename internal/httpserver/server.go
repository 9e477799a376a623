package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/radiusdt/revshare/internal/cache"
	"github.com/radiusdt/revshare/internal/config"
	"github.com/radiusdt/revshare/internal/database"
	"github.com/radiusdt/revshare/internal/metrics"
	"github.com/radiusdt/revshare/internal/middleware"
	"github.com/radiusdt/revshare/internal/models"
	"github.com/radiusdt/revshare/internal/revenue"
	"github.com/radiusdt/revshare/internal/storage"
	"go.uber.org/zap"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics

	// Service replaces the storage-backed service when set.
	Service *revenue.Service
}

// Server wraps the HTTP handlers and the revenue service.
type Server struct {
	service *revenue.Service
	mux     *http.ServeMux
	checks  map[string]func(context.Context) error
	logger  *zap.Logger
	config  *config.Config
	metrics *metrics.Metrics
}

// NewStorage picks the repositories for deps: PostgreSQL when connected,
// otherwise in-memory; traffic from ClickHouse when connected.
func NewStorage(deps *Dependencies) revenue.Deps {
	var d revenue.Deps
	if deps.DB != nil {
		pool := deps.DB.Pool
		d = revenue.Deps{
			Ledger:      storage.NewPostgresLedger(pool),
			Rates:       storage.NewPostgresExchangeRateRepo(pool),
			Directory:   storage.NewPostgresDirectory(pool),
			Groups:      storage.NewPostgresGroupRepo(pool),
			Overrides:   storage.NewPostgresOverrideRepo(pool),
			Adjustments: storage.NewPostgresAdjustmentRepo(pool),
			Traffic:     storage.NewPostgresPoolStats(pool),
		}
	} else {
		d = revenue.Deps{
			Ledger:      storage.NewInMemoryLedger(),
			Rates:       storage.NewInMemoryExchangeRateRepo(),
			Directory:   storage.NewInMemoryDirectory(),
			Groups:      storage.NewInMemoryGroupRepo(),
			Overrides:   storage.NewInMemoryOverrideRepo(),
			Adjustments: storage.NewInMemoryAdjustmentRepo(),
			Traffic:     storage.NewInMemoryPoolStats(),
		}
	}
	if deps.ClickHouse != nil {
		d.Traffic = storage.NewClickHousePoolStats(deps.ClickHouse.Conn)
	}
	return d
}

// NewService builds the engine, the cache loader and the service.
func NewService(deps *Dependencies) *revenue.Service {
	cfg := deps.Config
	engine := revenue.NewEngine(NewStorage(deps), revenue.SettingsFromConfig(cfg.Revenue), deps.Logger, deps.Metrics)

	var store cache.Store
	if deps.Redis != nil {
		store = cache.NewRedisStore(deps.Redis.Client, cfg.Cache.KeyPrefix)
	} else {
		store = cache.NewMemoryStore(cfg.Cache.KeyPrefix)
	}
	loader := cache.NewLoader(store, cfg.Cache, deps.Logger, deps.Metrics)
	return revenue.NewService(engine, loader, deps.Logger, deps.Metrics)
}

// NewServer constructs the server with all routes registered.
func NewServer(deps *Dependencies) *Server {
	svc := deps.Service
	if svc == nil {
		svc = NewService(deps)
	}

	s := &Server{
		service: svc,
		mux:     http.NewServeMux(),
		checks:  make(map[string]func(context.Context) error),
		logger:  deps.Logger,
		config:  deps.Config,
		metrics: deps.Metrics,
	}
	if deps.DB != nil {
		s.checks["postgres"] = deps.DB.Health
	}
	if deps.Redis != nil {
		s.checks["redis"] = deps.Redis.Health
	}
	if deps.ClickHouse != nil {
		s.checks["clickhouse"] = deps.ClickHouse.Health
	}

	mux := s.mux
	mux.HandleFunc("/health", s.handleHealth)
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Reports
	mux.HandleFunc("/reports/summary", s.handleSummary)
	mux.HandleFunc("/reports/monthly", s.handleMonthly)
	mux.HandleFunc("/reports/purchase", s.handlePurchase)
	mux.HandleFunc("/reports/publisher-detail", s.handlePublisherDetail)
	mux.HandleFunc("/reports/pool", s.handlePoolDetail)

	// Revenue share groups
	mux.HandleFunc("/groups", s.handleGroups)
	mux.HandleFunc("/groups/", s.handleGroupByID)
	mux.HandleFunc("/publishers/important", s.handleImportant)

	// Settings
	mux.HandleFunc("/exchange-rates", s.handleExchangeRates)
	mux.HandleFunc("/rate-overrides", s.handleRateOverrides)
	mux.HandleFunc("/adjustments", s.handleAdjustments)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Service returns the revenue service behind the handlers.
func (s *Server) Service() *revenue.Service {
	return s.service
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = "degraded"
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.jsonStatus(w, code, map[string]interface{}{"status": status, "checks": results})
}

// ---- Request helpers ----

// badRequest marks errors caused by the request itself.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func invalid(err error) error {
	if err == nil {
		return nil
	}
	return badRequest{err: err}
}

func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := middleware.OwnerFromContext(r.Context())
	if owner == "" {
		s.errorResponse(w, "owner is required", http.StatusUnauthorized)
		return "", false
	}
	return owner, true
}

func parseDay(s string) (time.Time, error) {
	return time.Parse(models.DateLayout, strings.TrimSpace(s))
}

// parseMonth accepts "2006-01" and "2006-01-02".
func parseMonth(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01", s); err == nil {
		return t, nil
	}
	t, err := parseDay(s)
	if err != nil {
		return time.Time{}, errors.New("month must be YYYY-MM")
	}
	return models.MonthStart(t), nil
}

func rangeParam(r *http.Request) (models.DateRange, error) {
	q := r.URL.Query()
	start, err := parseDay(q.Get("start_date"))
	if err != nil {
		return models.DateRange{}, invalid(errors.New("start_date must be YYYY-MM-DD"))
	}
	end, err := parseDay(q.Get("end_date"))
	if err != nil {
		return models.DateRange{}, invalid(errors.New("end_date must be YYYY-MM-DD"))
	}
	rng, err := models.NewDateRange(start, end)
	return rng, invalid(err)
}

func yearParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("year")
	if raw == "" {
		return time.Now().UTC().Year(), nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year < 1 || year > 9999 {
		return 0, invalid(errors.New("year must be a four digit number"))
	}
	return year, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalid(errors.New("invalid json: " + err.Error()))
	}
	return nil
}

// ---- Responses ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	s.jsonStatus(w, http.StatusOK, data)
}

func (s *Server) jsonStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// statusFor maps an error to an HTTP status. An invalid rate policy is the
// caller's fault on writes and a data problem on reports.
func statusFor(err error, write bool) int {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrRangeTooLong):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateActiveGroup):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidRatePolicy):
		if write {
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, write bool) {
	code := statusFor(err, write)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("owner", middleware.OwnerFromContext(r.Context())),
			zap.Error(err),
		)
		if code == http.StatusInternalServerError {
			s.errorResponse(w, "internal error", code)
			return
		}
	}
	s.errorResponse(w, err.Error(), code)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
}
