package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/guregu/null/v6"
	"github.com/krobus00/price-stream-service/internal/auth"
	"github.com/krobus00/price-stream-service/internal/broadcaster"
	"github.com/krobus00/price-stream-service/internal/entity"
	"github.com/krobus00/price-stream-service/internal/ingestion"
	"github.com/krobus00/price-stream-service/internal/pricecache"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const maxQuerySymbols = 100

type PriceReader interface {
	Get(symbol string) (entity.PriceUpdate, bool)
	GetMany(symbols []string) []entity.PriceUpdate
	Stats() pricecache.Stats
}

type WatchlistReader interface {
	FindSymbolsByUserID(ctx context.Context, userID string) ([]string, error)
}

type InstrumentReader interface {
	FindBySymbols(ctx context.Context, symbols []string) ([]entity.Instrument, error)
}

type BroadcastStatsReader interface {
	Stats() broadcaster.Stats
}

type IngestionStatsReader interface {
	Stats() ingestion.Stats
}

type Dependencies struct {
	Prices        PriceReader
	Watchlists    WatchlistReader
	Instruments   InstrumentReader
	Authenticator *auth.Authenticator
	Broadcast     BroadcastStatsReader
	Ingestion     IngestionStatsReader
}

type WatchlistPriceResponse struct {
	Symbol           string              `json:"symbol"`
	Company          null.String         `json:"company"`
	Sector           null.String         `json:"sector"`
	Price            decimal.NullDecimal `json:"price"`
	Change           decimal.NullDecimal `json:"change"`
	ChangePercent    decimal.NullDecimal `json:"changePercent"`
	High             decimal.NullDecimal `json:"high"`
	Low              decimal.NullDecimal `json:"low"`
	Timestamp        null.Int            `json:"timestamp"`
	IsPositiveChange bool                `json:"isPositiveChange"`
	IsNegativeChange bool                `json:"isNegativeChange"`
}

type StatsResponse struct {
	Broadcast broadcaster.Stats `json:"broadcast"`
	Ingestion ingestion.Stats   `json:"ingestion"`
	Cache     pricecache.Stats  `json:"cache"`
}

type Handler struct {
	deps Dependencies
}

func NewPriceHTTPHandler(deps Dependencies) *Handler {
	return &Handler{deps: deps}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/prices", h.ListPrices)
	mux.HandleFunc("GET /api/prices/{symbol}", h.GetPrice)
	mux.HandleFunc("GET /api/watchlist/prices", h.WatchlistPrices)
	mux.HandleFunc("GET /api/broadcast/stats", h.Stats)
}

func (h *Handler) ListPrices(w http.ResponseWriter, r *http.Request) {
	symbols := splitSymbols(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "symbols is required"})
		return
	}
	if len(symbols) > maxQuerySymbols {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "too many symbols"})
		return
	}

	prices := h.deps.Prices.GetMany(symbols)
	for i := range prices {
		prices[i].ChangePercent = prices[i].DerivedChangePercent()
	}

	writeJSON(w, http.StatusOK, prices)
}

func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	update, ok := h.deps.Prices.Get(r.PathValue("symbol"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "price not found"})
		return
	}

	update.ChangePercent = update.DerivedChangePercent()
	writeJSON(w, http.StatusOK, update)
}

// WatchlistPrices lists every symbol on the caller's watchlist. Symbols the
// cache has no live price for are still listed, with null price fields.
func (h *Handler) WatchlistPrices(w http.ResponseWriter, r *http.Request) {
	if h.deps.Authenticator == nil || h.deps.Watchlists == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]any{"error": "watchlist is not configured"})
		return
	}

	principal, err := h.deps.Authenticator.Authenticate(r.Context(), auth.FromRequest(r))
	if err != nil {
		reason, _ := auth.ReasonOf(err)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": reason})
		return
	}

	ctx := auth.WithPrincipal(r.Context(), principal)
	userID := auth.UserIDFromContext(ctx)
	logger := logrus.WithField("user_id", userID)

	symbols, err := h.deps.Watchlists.FindSymbolsByUserID(ctx, userID)
	if err != nil {
		logger.WithError(err).Error("failed to load watchlist")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	instruments := map[string]entity.Instrument{}
	if h.deps.Instruments != nil && len(symbols) > 0 {
		found, err := h.deps.Instruments.FindBySymbols(ctx, symbols)
		if err != nil {
			logger.WithError(err).Warn("failed to load instruments")
		}
		for _, instrument := range found {
			instruments[instrument.Symbol] = instrument
		}
	}

	prices := map[string]entity.PriceUpdate{}
	for _, update := range h.deps.Prices.GetMany(symbols) {
		prices[update.Symbol] = update
	}

	resp := make([]WatchlistPriceResponse, 0, len(symbols))
	for _, symbol := range symbols {
		symbol = entity.NormalizeSymbol(symbol)
		item := WatchlistPriceResponse{Symbol: symbol}

		if instrument, ok := instruments[symbol]; ok {
			item.Company = null.StringFrom(instrument.Company)
			item.Sector = instrument.Sector
		}

		if update, ok := prices[symbol]; ok {
			item.Price = update.Price
			item.Change = update.Change
			item.ChangePercent = update.DerivedChangePercent()
			item.High = update.High
			item.Low = update.Low
			item.Timestamp = null.NewInt(update.Timestamp, update.Timestamp > 0)
			item.IsPositiveChange = update.IsPositiveChange()
			item.IsNegativeChange = update.IsNegativeChange()
		}

		resp = append(resp, item)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	var resp StatsResponse
	if h.deps.Broadcast != nil {
		resp.Broadcast = h.deps.Broadcast.Stats()
	}
	if h.deps.Ingestion != nil {
		resp.Ingestion = h.deps.Ingestion.Stats()
	}
	if h.deps.Prices != nil {
		resp.Cache = h.deps.Prices.Stats()
	}

	writeJSON(w, http.StatusOK, resp)
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	symbols := make([]string, 0, len(parts))
	for _, part := range parts {
		if symbol := entity.NormalizeSymbol(part); symbol != "" {
			symbols = append(symbols, symbol)
		}
	}
	return symbols
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
