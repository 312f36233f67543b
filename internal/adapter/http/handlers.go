package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/simaogato/lictracker-backend/internal/domain"
)

const maxBodyBytes = 1 << 20

type trackRequest struct {
	Ticker string `json:"ticker"`
	Market string `json:"market"`
	Kind   string `json:"kind"`
}

type holdingRequest struct {
	Units *int64 `json:"units"`
}

type cashRequest struct {
	Cash string `json:"cash"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "lictracker",
	})
}

// handleListMarket returns a market with all of its instruments
func (s *Server) handleListMarket(w http.ResponseWriter, r *http.Request) {
	market, records, err := s.valuation.ListMarket(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	views := make([]instrumentView, 0, len(records))
	for _, rec := range records {
		views = append(views, newInstrumentView(rec, market))
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"market":      newMarketView(market),
		"instruments": views,
	})
}

// handleGetInstrument returns the persisted snapshot of one ticker
func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request) {
	snap, err := s.valuation.GetInstrument(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newInstrumentView(snap.Instrument, snap.Market))
}

// handleTrack starts tracking a stock or portfolio
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if req.Ticker == "" || req.Market == "" {
		s.writeError(w, http.StatusBadRequest, "ticker and market are required")
		return
	}

	rec, err := s.tracking.Track(r.Context(), req.Ticker, req.Market, kind)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeRecord(w, r.Context(), http.StatusCreated, rec)
}

// handleRefreshFundamentals re-scrapes shares issued and details
func (s *Server) handleRefreshFundamentals(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tracking.RefreshFundamentals(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeRecord(w, r.Context(), http.StatusOK, rec)
}

// handleUpsertHolding sets the units a portfolio holds of an instrument
func (s *Server) handleUpsertHolding(w http.ResponseWriter, r *http.Request) {
	var req holdingRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Units == nil {
		s.writeError(w, http.StatusBadRequest, "units is required")
		return
	}

	rec, err := s.tracking.UpsertHolding(r.Context(), chi.URLParam(r, "ticker"), chi.URLParam(r, "held"), *req.Units)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeRecord(w, r.Context(), http.StatusOK, rec)
}

// handleSetCash replaces a portfolio's cash balance
func (s *Server) handleSetCash(w http.ResponseWriter, r *http.Request) {
	var req cashRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cash, err := decimal.NewFromString(req.Cash)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid cash format: %v", err))
		return
	}

	rec, err := s.tracking.SetCash(r.Context(), chi.URLParam(r, "ticker"), cash)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeRecord(w, r.Context(), http.StatusOK, rec)
}

// handleValuePortfolio refreshes stale holdings and recomputes the NTA
func (s *Server) handleValuePortfolio(w http.ResponseWriter, r *http.Request) {
	snap, err := s.valuation.ValuePortfolio(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newInstrumentView(snap.Instrument, snap.Market))
}

// Helper methods

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeRecord renders rec with its market's zone and currency
func (s *Server) writeRecord(w http.ResponseWriter, ctx context.Context, status int, rec domain.InstrumentRecord) {
	market, err := s.valuation.MarketRepo.Get(ctx, rec.MarketCode)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, status, newInstrumentView(&rec, market))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	s.writeError(w, status, err.Error())
}

// statusFor converts domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrNotPortfolio):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIncompleteValuation), errors.Is(err, domain.ErrStaleConfiguration):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDataSourceUnavailable), errors.Is(err, domain.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
