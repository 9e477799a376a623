package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/radiusdt/revshare/internal/models"
	"github.com/radiusdt/revshare/internal/revenue"
	"github.com/shopspring/decimal"
)

// ---- Reports ----

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	rng, err := rangeParam(r)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	report, err := s.service.Summary(r.Context(), owner, rng)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	s.jsonResponse(w, report)
}

func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	year, err := yearParam(r)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	report, err := s.service.Monthly(r.Context(), owner, year)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	s.jsonResponse(w, report)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	year, err := yearParam(r)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	q := r.URL.Query()
	importantOnly, _ := strconv.ParseBool(q.Get("important_only"))
	report, err := s.service.Purchase(r.Context(), owner, revenue.PurchaseQuery{
		Year:          year,
		Search:        q.Get("search"),
		ImportantOnly: importantOnly,
	})
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	s.jsonResponse(w, report)
}

func (s *Server) handlePublisherDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	rng, err := rangeParam(r)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	q := r.URL.Query()
	raw := q.Get("publishers")
	if raw == "" {
		raw = q.Get("publisher_keys")
	}
	keys := splitList(raw)
	if len(keys) == 0 {
		s.errorResponse(w, "publishers is required", http.StatusBadRequest)
		return
	}
	report, err := s.service.PublisherDetail(r.Context(), owner, rng, keys)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	s.jsonResponse(w, report)
}

func (s *Server) handlePoolDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	rng, err := rangeParam(r)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	report, err := s.service.PoolDetail(r.Context(), owner, rng)
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	s.jsonResponse(w, report)
}

// ---- Groups ----

type groupRequest struct {
	PublisherKey string          `json:"publisher_key"`
	GroupName    string          `json:"group_name"`
	CompanyName  string          `json:"company_name"`
	ServiceName  string          `json:"service_name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	UnitType     string          `json:"unit_type"`
	Important    bool            `json:"important"`
}

func (req groupRequest) apply(g *models.RevenueShareGroup) error {
	unitType, err := models.ParseUnitType(req.UnitType)
	if err != nil {
		return err
	}
	g.PublisherKey = strings.TrimSpace(req.PublisherKey)
	g.GroupName = strings.TrimSpace(req.GroupName)
	g.CompanyName = req.CompanyName
	g.ServiceName = req.ServiceName
	g.UnitPrice = req.UnitPrice
	g.UnitType = unitType
	g.Important = req.Important
	return g.Validate()
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active_only"))
		groups, err := s.service.ListGroups(r.Context(), owner, activeOnly)
		if err != nil {
			s.fail(w, r, err, false)
			return
		}
		if groups == nil {
			groups = []*models.RevenueShareGroup{}
		}
		s.jsonResponse(w, groups)

	case http.MethodPost:
		var req groupRequest
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err, true)
			return
		}
		g := &models.RevenueShareGroup{Owner: owner, Active: true}
		if err := req.apply(g); err != nil {
			s.fail(w, r, invalid(err), true)
			return
		}
		if err := s.service.CreateGroup(r.Context(), g); err != nil {
			s.fail(w, r, err, true)
			return
		}
		s.jsonStatus(w, http.StatusCreated, g)

	default:
		s.methodNotAllowed(w)
	}
}

// handleGroupByID serves /groups/{id}, /groups/{id}/ad-units and
// /groups/{id}/ad-units/{mapping_id}.
func (s *Server) handleGroupByID(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/groups/"), "/"), "/")
	if parts[0] == "" {
		s.errorResponse(w, "group id is required", http.StatusBadRequest)
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		s.handleGroup(w, r, owner, id)
	case len(parts) == 2 && parts[1] == "ad-units":
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w)
			return
		}
		s.handleAddMapping(w, r, owner, id)
	case len(parts) == 3 && parts[1] == "ad-units":
		if r.Method != http.MethodDelete {
			s.methodNotAllowed(w)
			return
		}
		if err := s.service.DeactivateMapping(r.Context(), owner, id, parts[2]); err != nil {
			s.fail(w, r, err, true)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.errorResponse(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request, owner, id string) {
	switch r.Method {
	case http.MethodGet:
		detail, err := s.service.GetGroup(r.Context(), owner, id)
		if err != nil {
			s.fail(w, r, err, false)
			return
		}
		s.jsonResponse(w, detail)

	case http.MethodPut:
		var req groupRequest
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err, true)
			return
		}
		detail, err := s.service.GetGroup(r.Context(), owner, id)
		if err != nil {
			s.fail(w, r, err, true)
			return
		}
		g := detail.Group
		if err := req.apply(g); err != nil {
			s.fail(w, r, invalid(err), true)
			return
		}
		if err := s.service.UpdateGroup(r.Context(), g); err != nil {
			s.fail(w, r, err, true)
			return
		}
		s.jsonResponse(w, g)

	case http.MethodDelete:
		if err := s.service.DeactivateGroup(r.Context(), owner, id); err != nil {
			s.fail(w, r, err, true)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.methodNotAllowed(w)
	}
}

type mappingRequest struct {
	Platform   string `json:"platform"`
	AdUnitID   string `json:"ad_unit_id"`
	AdUnitName string `json:"ad_unit_name"`
}

func (s *Server) handleAddMapping(w http.ResponseWriter, r *http.Request, owner, groupID string) {
	var req mappingRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, true)
		return
	}
	m := &models.AdUnitMapping{
		GroupID:    groupID,
		Platform:   strings.TrimSpace(req.Platform),
		AdUnitID:   strings.TrimSpace(req.AdUnitID),
		AdUnitName: req.AdUnitName,
		Active:     true,
	}
	if err := m.Validate(); err != nil {
		s.fail(w, r, invalid(err), true)
		return
	}
	if err := s.service.AddMapping(r.Context(), owner, m); err != nil {
		s.fail(w, r, err, true)
		return
	}
	s.jsonStatus(w, http.StatusCreated, m)
}

type importantRequest struct {
	PublisherKeys []string `json:"publisher_keys"`
	Important     bool     `json:"important"`
}

func (s *Server) handleImportant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req importantRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, true)
		return
	}
	if len(req.PublisherKeys) == 0 {
		s.errorResponse(w, "publisher_keys is required", http.StatusBadRequest)
		return
	}
	groups, err := s.service.SetImportant(r.Context(), owner, req.PublisherKeys, req.Important)
	if err != nil {
		s.fail(w, r, err, true)
		return
	}
	if groups == nil {
		groups = []*models.RevenueShareGroup{}
	}
	s.jsonResponse(w, groups)
}

// ---- Settings ----

type rateRequest struct {
	YearMonth string          `json:"year_month"`
	Rate      decimal.Decimal `json:"rate"`
}

func (s *Server) handleExchangeRates(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		from, err := parseMonth(q.Get("from"))
		if err != nil {
			s.fail(w, r, invalid(err), false)
			return
		}
		to, err := parseMonth(q.Get("to"))
		if err != nil {
			s.fail(w, r, invalid(err), false)
			return
		}
		if to.Before(from) {
			s.errorResponse(w, "to must not be before from", http.StatusBadRequest)
			return
		}
		rates, err := s.service.ListRates(r.Context(), owner, from, to)
		if err != nil {
			s.fail(w, r, err, false)
			return
		}
		if rates == nil {
			rates = []*models.ExchangeRate{}
		}
		s.jsonResponse(w, rates)

	case http.MethodPut:
		var req rateRequest
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err, true)
			return
		}
		month, err := parseMonth(req.YearMonth)
		if err != nil {
			s.fail(w, r, invalid(err), true)
			return
		}
		rate := &models.ExchangeRate{Owner: owner, YearMonth: month, Rate: req.Rate}
		if err := rate.Validate(); err != nil {
			s.fail(w, r, invalid(err), true)
			return
		}
		if err := s.service.UpsertRate(r.Context(), rate); err != nil {
			s.fail(w, r, err, true)
			return
		}
		s.jsonResponse(w, rate)

	default:
		s.methodNotAllowed(w)
	}
}

type overrideRequest struct {
	PublisherKey string          `json:"publisher_key"`
	YearMonth    string          `json:"year_month"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	UnitType     string          `json:"unit_type"`
}

func (s *Server) handleRateOverrides(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		s.methodNotAllowed(w)
		return
	}
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, true)
		return
	}
	month, err := parseMonth(req.YearMonth)
	if err != nil {
		s.fail(w, r, invalid(err), true)
		return
	}
	unitType, err := models.ParseUnitType(req.UnitType)
	if err != nil {
		s.fail(w, r, invalid(err), true)
		return
	}
	o := &models.RatePolicyOverride{
		Owner:        owner,
		PublisherKey: strings.TrimSpace(req.PublisherKey),
		YearMonth:    month,
		UnitPrice:    req.UnitPrice,
		UnitType:     unitType,
	}
	if err := o.Validate(); err != nil {
		s.fail(w, r, invalid(err), true)
		return
	}
	if err := s.service.UpsertOverride(r.Context(), o); err != nil {
		s.fail(w, r, err, true)
		return
	}
	s.jsonResponse(w, o)
}

type adjustmentRequest struct {
	ID      string          `json:"id"`
	Date    string          `json:"date"`
	Section string          `json:"section"`
	Amount  decimal.Decimal `json:"amount"`
	Memo    string          `json:"memo"`
}

func (s *Server) handleAdjustments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		s.methodNotAllowed(w)
		return
	}
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req adjustmentRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, true)
		return
	}
	date, err := parseDay(req.Date)
	if err != nil {
		s.fail(w, r, invalid(errors.New("date must be YYYY-MM-DD")), true)
		return
	}
	a := &models.Adjustment{
		ID:      req.ID,
		Owner:   owner,
		Date:    date,
		Section: models.AdjustmentSection(req.Section),
		Amount:  req.Amount,
		Memo:    req.Memo,
	}
	if err := a.Validate(); err != nil {
		s.fail(w, r, invalid(err), true)
		return
	}
	if err := s.service.UpsertAdjustment(r.Context(), a); err != nil {
		s.fail(w, r, err, true)
		return
	}
	s.jsonResponse(w, a)
}
