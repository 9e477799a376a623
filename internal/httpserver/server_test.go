package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/radiusdt/revshare/internal/cache"
	"github.com/radiusdt/revshare/internal/config"
	"github.com/radiusdt/revshare/internal/middleware"
	"github.com/radiusdt/revshare/internal/models"
	"github.com/radiusdt/revshare/internal/revenue"
	"github.com/radiusdt/revshare/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testOwner = "owner-1"

func testConfig() *config.Config {
	return &config.Config{
		Cache: config.CacheConfig{KeyPrefix: "test:report"},
		Revenue: config.RevenueConfig{
			EcosystemFactor:     decimal.RequireFromString("0.595"),
			DefaultExchangeRate: decimal.NewFromInt(1370),
			PartnerUnitValue:    decimal.NewFromInt(5),
			DefaultUnitPrice:    decimal.NewFromInt(50),
			DefaultUnitType:     "percent",
			USDPlatforms:        []string{"adsense"},
			PoolPlatform:        "adpost",
			PoolAdUnitID:        "mobile_content",
		},
	}
}

// newTestHandler serves s behind the auth middleware with auth disabled, so
// X-Owner-ID selects the owner.
func newTestHandler(s *Server) http.Handler {
	return middleware.NewAuthMiddleware(config.AuthConfig{}, zap.NewNop()).Handler(s)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set(middleware.OwnerHeaderName, testOwner)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// seededServer builds a server over in-memory stores holding one publisher
// group with a single ad unit that earned 10000 on 2024-03-02.
func seededServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	day := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	ledger := storage.NewInMemoryLedger()
	ledger.Add(&models.RevenueRecord{
		Owner:          testOwner,
		Platform:       "kakao",
		Alias:          "main",
		Date:           day,
		AdUnitID:       "u1",
		EarningsNative: decimal.NewFromInt(10000),
		Clicks:         10,
	})
	groups := storage.NewInMemoryGroupRepo()
	g := &models.RevenueShareGroup{
		Owner:        testOwner,
		PublisherKey: "pub-a",
		GroupName:    "Alpha group",
		UnitPrice:    decimal.NewFromInt(50),
		UnitType:     models.UnitTypePercent,
		Active:       true,
	}
	require.NoError(t, groups.CreateGroup(ctx, g))
	require.NoError(t, groups.AddMapping(ctx, testOwner, &models.AdUnitMapping{GroupID: g.ID, Platform: "kakao", AdUnitID: "u1"}))

	deps := revenue.Deps{
		Ledger:      ledger,
		Rates:       storage.NewInMemoryExchangeRateRepo(),
		Directory:   storage.NewInMemoryDirectory(models.NewPublisher("pub-a", "Alpha", models.LevelPublisher)),
		Groups:      groups,
		Overrides:   storage.NewInMemoryOverrideRepo(),
		Adjustments: storage.NewInMemoryAdjustmentRepo(),
		Traffic:     storage.NewInMemoryPoolStats(),
	}
	cfg := testConfig()
	engine := revenue.NewEngine(deps, revenue.SettingsFromConfig(cfg.Revenue), zap.NewNop(), nil)
	loader := cache.NewLoader(cache.NewMemoryStore(cfg.Cache.KeyPrefix), cfg.Cache, zap.NewNop(), nil)
	svc := revenue.NewService(engine, loader, zap.NewNop(), nil)

	return NewServer(&Dependencies{Config: cfg, Logger: zap.NewNop(), Service: svc})
}

func TestHealth(t *testing.T) {
	s := NewServer(&Dependencies{Config: testConfig(), Logger: zap.NewNop()})
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSummaryEndpoint(t *testing.T) {
	h := newTestHandler(seededServer(t))

	rec := do(t, h, http.MethodGet, "/reports/summary?start_date=2024-03-01&end_date=2024-03-02", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report revenue.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, testOwner, report.Owner)
	assert.Len(t, report.Days, 2)
	assert.True(t, report.Totals.Publisher.Revenue.Equal(decimal.NewFromInt(10000)))
	assert.True(t, report.Totals.Publisher.Cost.Equal(decimal.NewFromInt(5000)))

	// the cached response is identical
	again := do(t, h, http.MethodGet, "/reports/summary?start_date=2024-03-01&end_date=2024-03-02", "")
	assert.JSONEq(t, rec.Body.String(), again.Body.String())
}

func TestReportValidation(t *testing.T) {
	h := newTestHandler(seededServer(t))

	tests := []struct {
		name   string
		method string
		target string
		code   int
	}{
		{"missing dates", http.MethodGet, "/reports/summary", http.StatusBadRequest},
		{"bad date", http.MethodGet, "/reports/summary?start_date=2024-13-01&end_date=2024-03-02", http.StatusBadRequest},
		{"end before start", http.MethodGet, "/reports/pool?start_date=2024-03-05&end_date=2024-03-02", http.StatusBadRequest},
		{"range over the cap", http.MethodGet, "/reports/summary?start_date=1700-01-01&end_date=2024-12-31", http.StatusBadRequest},
		{"leap range over the cap", http.MethodGet, "/reports/pool?start_date=2023-06-01&end_date=2025-06-01", http.StatusBadRequest},
		{"bad year", http.MethodGet, "/reports/monthly?year=abc", http.StatusBadRequest},
		{"detail without keys", http.MethodGet, "/reports/publisher-detail?start_date=2024-03-01&end_date=2024-03-02", http.StatusBadRequest},
		{"wrong method", http.MethodPost, "/reports/summary", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, "")
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestOwnerRequired(t *testing.T) {
	s := seededServer(t)
	req := httptest.NewRequest(http.MethodGet, "/reports/monthly?year=2024", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOtherReports(t *testing.T) {
	h := newTestHandler(seededServer(t))

	for _, target := range []string{
		"/reports/monthly?year=2024",
		"/reports/purchase?year=2024&search=alpha&important_only=false",
		"/reports/publisher-detail?start_date=2024-03-01&end_date=2024-03-02&publishers=pub-a",
		"/reports/pool?start_date=2024-03-01&end_date=2024-03-02",
	} {
		rec := do(t, h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusOK, rec.Code, target+": "+rec.Body.String())
	}
}

func TestGroupLifecycle(t *testing.T) {
	h := newTestHandler(NewServer(&Dependencies{Config: testConfig(), Logger: zap.NewNop()}))

	rec := do(t, h, http.MethodPost, "/groups", `{"publisher_key":"pub-a","group_name":"Alpha","unit_price":"30","unit_type":"percent"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var g models.RevenueShareGroup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.NotEmpty(t, g.ID)
	assert.True(t, g.Active)

	dup := do(t, h, http.MethodPost, "/groups", `{"publisher_key":"pub-a","group_name":"Again","unit_price":"30","unit_type":"percent"}`)
	assert.Equal(t, http.StatusConflict, dup.Code)

	bad := do(t, h, http.MethodPost, "/groups", `{"publisher_key":"pub-b","group_name":"Bravo","unit_price":"30","unit_type":"barter"}`)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	rec = do(t, h, http.MethodPost, "/groups/"+g.ID+"/ad-units", `{"platform":"kakao","ad_unit_id":"u1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var m models.AdUnitMapping
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "u1", m.AdUnitName)

	rec = do(t, h, http.MethodGet, "/groups/"+g.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail revenue.GroupDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Len(t, detail.Mappings, 1)

	rec = do(t, h, http.MethodPut, "/groups/"+g.ID, `{"publisher_key":"pub-a","group_name":"Alpha","unit_price":"7","unit_type":"won"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.Equal(t, models.UnitTypeFlatPerClick, g.UnitType)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/groups/"+g.ID+"/ad-units/"+m.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/groups/"+g.ID+"/ad-units/missing", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/groups/"+g.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/groups/missing", "").Code)

	rec = do(t, h, http.MethodGet, "/groups?active_only=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestImportantCreatesGroup(t *testing.T) {
	h := newTestHandler(NewServer(&Dependencies{Config: testConfig(), Logger: zap.NewNop()}))

	rec := do(t, h, http.MethodPost, "/publishers/important", `{"publisher_keys":["pub-z"],"important":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var groups []models.RevenueShareGroup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Important)
	assert.Equal(t, "pub-z group", groups[0].GroupName)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/publishers/important", `{"important":true}`).Code)
}

func TestSettingsEndpoints(t *testing.T) {
	h := newTestHandler(NewServer(&Dependencies{Config: testConfig(), Logger: zap.NewNop()}))

	rec := do(t, h, http.MethodPut, "/exchange-rates", `{"year_month":"2024-03","rate":"1350.5"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/exchange-rates", `{"year_month":"2024-03","rate":"0"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/exchange-rates", `{"year_month":"March","rate":"1"}`).Code)

	rec = do(t, h, http.MethodGet, "/exchange-rates?from=2024-01&to=2024-12", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rates []models.ExchangeRate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rates))
	require.Len(t, rates, 1)
	assert.True(t, rates[0].Rate.Equal(decimal.RequireFromString("1350.5")))

	rec = do(t, h, http.MethodPut, "/rate-overrides", `{"publisher_key":"pub-a","year_month":"2024-03","unit_price":"40","unit_type":"percent"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/rate-overrides", `{"publisher_key":"pub-a","year_month":"2024-03","unit_price":"40","unit_type":"gold"}`).Code)

	rec = do(t, h, http.MethodPut, "/adjustments", `{"date":"2024-03-02","section":"partner_cost","amount":"1200","memo":"manual"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/adjustments", `{"date":"2024-03-02","section":"bonus","amount":"1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/adjustments", `{"date":"2024-03-02","unknown":1}`).Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(storage.ErrNotFound, false))
	assert.Equal(t, http.StatusConflict, statusFor(storage.ErrDuplicateActiveGroup, true))
	assert.Equal(t, http.StatusBadRequest, statusFor(models.ErrInvalidRatePolicy, true))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(models.ErrInvalidRatePolicy, false))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded, false))
	assert.Equal(t, http.StatusBadRequest, statusFor(models.ErrRangeTooLong, false))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError, false))
}
