package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/fmogensen/investment-platform/internal/config"
	"github.com/fmogensen/investment-platform/internal/portfolio"
	"github.com/fmogensen/investment-platform/internal/provider/registry"
	"github.com/fmogensen/investment-platform/internal/quote"
	"github.com/fmogensen/investment-platform/internal/stream"
	"github.com/fmogensen/investment-platform/internal/usage"
)

type server struct {
	cfg       config.Config
	registry  *registry.Registry
	fetcher   *quote.Fetcher
	recorder  usage.Recorder
	ledger    *portfolio.Ledger
	watchlist *portfolio.Watchlist
	store     *portfolio.Store // nil when no database is configured
	broker    *stream.Broker
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/quote/{symbol}", s.handleQuote).Methods(http.MethodGet)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.Handle("/stream", stream.SSEHandler(s.broker, time.Duration(s.cfg.Stream.MaxLifetimeSec)*time.Second)).Methods(http.MethodGet)

	api.HandleFunc("/portfolio/holdings", s.handleHoldings).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/transactions", s.handleTransactions).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/buy", s.handleTrade(portfolio.SideBuy)).Methods(http.MethodPost)
	api.HandleFunc("/portfolio/sell", s.handleTrade(portfolio.SideSell)).Methods(http.MethodPost)

	api.HandleFunc("/watchlist", s.handleWatchlist).Methods(http.MethodGet)
	api.HandleFunc("/watchlist", s.handleWatchlistAdd).Methods(http.MethodPost)
	api.HandleFunc("/watchlist/{symbol}", s.handleWatchlistRemove).Methods(http.MethodDelete)

	api.HandleFunc("/providers", s.handleProviders).Methods(http.MethodGet)
	api.HandleFunc("/providers/{name}/default", s.handleProviderDefault).Methods(http.MethodPut)
	api.HandleFunc("/providers/{name}/active", s.handleProviderActive).Methods(http.MethodPut)
	api.HandleFunc("/providers/{name}/credential", s.handleProviderCredential).Methods(http.MethodPut)
	api.HandleFunc("/usage", s.handleUsage).Methods(http.MethodGet)

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	q, err := s.fetcher.GetQuote(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, quote.ErrNoQuote) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "quote lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing q query param")
		return
	}
	results, err := s.fetcher.Search(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *server) handleHoldings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"holdings": s.ledger.Holdings()})
}

func (s *server) handleTransactions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"transactions": s.ledger.Transactions()})
}

type tradeRequest struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	// Price is optional; when omitted the trade executes at the live quote.
	Price *decimal.Decimal `json:"price"`
}

type tradeResponse struct {
	Transaction portfolio.Transaction `json:"transaction"`
	Realized    *decimal.Decimal      `json:"realized,omitempty"`
}

func (s *server) handleTrade(side portfolio.Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tradeRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
		if symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol cannot be empty")
			return
		}

		var price decimal.Decimal
		if req.Price != nil {
			price = *req.Price
		} else {
			q, err := s.fetcher.GetQuote(r.Context(), symbol)
			if err != nil {
				writeError(w, http.StatusBadGateway, "no live price for "+symbol)
				return
			}
			price = decimal.NewFromFloat(q.Price)
		}

		var resp tradeResponse
		var err error
		switch side {
		case portfolio.SideBuy:
			resp.Transaction, err = s.ledger.Buy(symbol, req.Quantity, price)
		case portfolio.SideSell:
			var realized decimal.Decimal
			resp.Transaction, realized, err = s.ledger.Sell(symbol, req.Quantity, price)
			resp.Realized = &realized
		}
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if s.store != nil {
			if err := s.store.SaveTransaction(r.Context(), resp.Transaction); err != nil {
				log.Printf("portfolio: %v", err)
			}
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func (s *server) handleWatchlist(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"symbols": s.watchlist.Symbols()})
}

func (s *server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol cannot be empty")
		return
	}
	if s.watchlist.Add(symbol) {
		s.broker.RefreshSymbols()
		if s.store != nil {
			if err := s.store.AddWatchlistSymbol(r.Context(), symbol); err != nil {
				log.Printf("watchlist: %v", err)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbols": s.watchlist.Symbols()})
}

func (s *server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	if s.watchlist.Remove(symbol) {
		s.broker.RefreshSymbols()
		if s.store != nil {
			if err := s.store.RemoveWatchlistSymbol(r.Context(), symbol); err != nil {
				log.Printf("watchlist: %v", err)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbols": s.watchlist.Symbols()})
}

func (s *server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.registry.Providers()})
}

func (s *server) handleProviderDefault(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.registry.SetDefault(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.registry.Providers()})
}

func (s *server) handleProviderActive(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.registry.SetActive(name, req.Active); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.registry.Providers()})
}

func (s *server) handleProviderCredential(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.registry.SetCredential(name, req.APIKey); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.registry.Providers()})
}

func (s *server) handleUsage(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window duration")
			return
		}
		window = d
	}
	stats, err := s.recorder.Stats(r.Context(), window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "usage aggregation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"window": window.String(), "stats": stats})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
