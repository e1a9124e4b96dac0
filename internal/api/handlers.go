package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/trogers1052/fund-quotes/internal/models"
)

const (
	defaultQuoteLimit = 100
	maxQuoteLimit     = 1000
)

// Store is the read-only storage the API serves from
type Store interface {
	Ping() error
	Stats(ctx context.Context) (*models.FundStats, error)
	ListFunds(ctx context.Context) ([]*models.Fund, error)
	GetFundByID(ctx context.Context, id int) (*models.Fund, error)
	ListQuotes(ctx context.Context, fundID, limit int) ([]*models.Quote, error)
	GetQuoteRange(ctx context.Context, fundID int, start, end time.Time) ([]*models.Quote, error)
}

// LatestReader returns the newest quote of a fund, nil when it has none
type LatestReader interface {
	GetLatestQuote(ctx context.Context, fundID int) (*models.Quote, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	store  Store
	latest LatestReader
	logger *zap.SugaredLogger
}

// NewHandler creates a new Handler. latest is usually the redis cache; the
// store serves it when nil.
func NewHandler(store Store, latest LatestReader, logger *zap.SugaredLogger) *Handler {
	h := &Handler{
		store:  store,
		latest: latest,
		logger: logger.With("component", "api"),
	}
	if h.latest == nil {
		if lr, ok := store.(LatestReader); ok {
			h.latest = lr
		}
	}
	return h
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(); err != nil {
		h.logger.Warnw("Health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GetStats handles GET /stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// GetAllFunds handles GET /funds
func (h *Handler) GetAllFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := h.store.ListFunds(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}
	if funds == nil {
		funds = []*models.Fund{}
	}
	respondJSON(w, http.StatusOK, funds)
}

// GetFund handles GET /funds/{id}
func (h *Handler) GetFund(w http.ResponseWriter, r *http.Request) {
	fund, ok := h.lookupFund(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, fund)
}

// GetLatestQuote handles GET /funds/{id}/latest
func (h *Handler) GetLatestQuote(w http.ResponseWriter, r *http.Request) {
	fund, ok := h.lookupFund(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}

	quote, err := h.latest.GetLatestQuote(r.Context(), fund.ID)
	if err != nil {
		h.internalError(w, err)
		return
	}
	if quote == nil {
		http.Error(w, "fund has no quotes", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, quote)
}

// GetQuotes handles GET /quotes?fund=&limit=&from=&to=. With from and to
// the full date range is returned and limit is ignored.
func (h *Handler) GetQuotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("fund") == "" {
		http.Error(w, "fund is required", http.StatusBadRequest)
		return
	}
	fund, ok := h.lookupFund(w, r, q.Get("fund"))
	if !ok {
		return
	}

	var quotes []*models.Quote
	var err error
	if q.Get("from") != "" || q.Get("to") != "" {
		start, serr := time.Parse(models.DateLayout, q.Get("from"))
		end, eerr := time.Parse(models.DateLayout, q.Get("to"))
		if serr != nil || eerr != nil || end.Before(start) {
			http.Error(w, "from and to must be dates (YYYY-MM-DD) with from <= to", http.StatusBadRequest)
			return
		}
		quotes, err = h.store.GetQuoteRange(r.Context(), fund.ID, start, end)
	} else {
		limit := defaultQuoteLimit
		if raw := q.Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(limit, maxQuoteLimit)
		}
		quotes, err = h.store.ListQuotes(r.Context(), fund.ID, limit)
	}
	if err != nil {
		h.internalError(w, err)
		return
	}
	if quotes == nil {
		quotes = []*models.Quote{}
	}
	respondJSON(w, http.StatusOK, quotes)
}

// lookupFund resolves a fund id parameter, writing the error response when
// it fails
func (h *Handler) lookupFund(w http.ResponseWriter, r *http.Request, raw string) (*models.Fund, bool) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		http.Error(w, "invalid fund id", http.StatusBadRequest)
		return nil, false
	}

	fund, err := h.store.GetFundByID(r.Context(), id)
	if err != nil {
		h.internalError(w, err)
		return nil, false
	}
	if fund == nil {
		http.Error(w, "fund not found", http.StatusNotFound)
		return nil, false
	}
	return fund, true
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	h.logger.Errorw("Request failed", "error", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
