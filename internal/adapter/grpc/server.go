package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/simaogato/lictracker-backend/internal/domain"
	"github.com/simaogato/lictracker-backend/internal/usecase/valuation"
)

// Server implements the ValuationService gRPC server
type Server struct {
	ValuationService *valuation.ValuationService
}

// NewServer creates a new gRPC server instance
func NewServer(valuationService *valuation.ValuationService) *Server {
	return &Server{
		ValuationService: valuationService,
	}
}

// GetInstrument handles the GetInstrument RPC
func (s *Server) GetInstrument(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	ticker, err := requireKey(req, "ticker")
	if err != nil {
		return nil, err
	}

	snap, err := s.ValuationService.GetInstrument(ctx, ticker)
	if err != nil {
		return nil, mapError(err)
	}

	return toStruct(instrumentFields(snap.Instrument, snap.Market))
}

// ListMarket handles the ListMarket RPC
func (s *Server) ListMarket(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	code, err := requireKey(req, "market code")
	if err != nil {
		return nil, err
	}

	market, records, err := s.ValuationService.ListMarket(ctx, code)
	if err != nil {
		return nil, mapError(err)
	}

	instruments := make([]interface{}, 0, len(records))
	for _, rec := range records {
		instruments = append(instruments, instrumentFields(rec, market))
	}

	return toStruct(map[string]interface{}{
		"market":      marketFields(market),
		"instruments": instruments,
	})
}

// ValuePortfolio handles the ValuePortfolio RPC
func (s *Server) ValuePortfolio(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	ticker, err := requireKey(req, "ticker")
	if err != nil {
		return nil, err
	}

	snap, err := s.ValuationService.ValuePortfolio(ctx, ticker)
	if err != nil {
		return nil, mapError(err)
	}

	return toStruct(instrumentFields(snap.Instrument, snap.Market))
}

func requireKey(req *wrapperspb.StringValue, what string) (string, error) {
	key := strings.TrimSpace(req.GetValue())
	if key == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", what)
	}
	return key, nil
}

func toStruct(fields map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func marketFields(m *domain.MarketRecord) map[string]interface{} {
	return map[string]interface{}{
		"code":          m.Code,
		"timezone":      m.Timezone,
		"session_open":  m.SessionOpen,
		"session_close": m.SessionClose,
		"currency":      m.Currency,
	}
}

// instrumentFields renders rec with timestamps in the market zone
func instrumentFields(rec *domain.InstrumentRecord, market *domain.MarketRecord) map[string]interface{} {
	loc := marketLocation(market)
	fields := map[string]interface{}{
		"ticker":        rec.Ticker,
		"kind":          string(rec.Kind),
		"market":        rec.MarketCode,
		"name":          rec.Name,
		"source_url":    rec.SourceURL,
		"sector":        rec.Sector,
		"shares_issued": rec.SharesIssued,
	}
	if !rec.LastFetchedAt.Equal(domain.NeverFetched) {
		fields["last_fetched"] = formatTime(rec.LastFetchedAt, loc)
	}

	if rec.LatestPrice != nil {
		fields["price"] = map[string]interface{}{
			"value":               rec.LatestPrice.Price.String(),
			"observed_at":         formatTime(rec.LatestPrice.ObservedAt, loc),
			"observed_at_display": rec.LatestPrice.ObservedAt.In(loc).Format(domain.DisplayTimeLayout),
		}
	}

	if rec.IsPortfolio() {
		holdings := make([]interface{}, 0, len(rec.Holdings))
		for _, h := range rec.Holdings {
			holdings = append(holdings, map[string]interface{}{
				"ticker": h.Ticker,
				"units":  h.Units,
			})
		}
		fields["cash"] = rec.Cash.String()
		fields["holdings"] = holdings
		if rec.NTA != nil {
			fields["nta"] = map[string]interface{}{
				"value":               rec.NTA.Value.String(),
				"computed_at":         formatTime(rec.NTA.ComputedAt, loc),
				"computed_at_display": rec.NTA.ComputedAt.In(loc).Format(domain.DisplayTimeLayout),
			}
		}
	}

	return fields
}

func marketLocation(m *domain.MarketRecord) *time.Location {
	if m == nil {
		return time.UTC
	}
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(time.RFC3339)
}

// mapError converts domain errors to gRPC status errors
func mapError(err error) error {
	if err == nil {
		return nil
	}

	errorMsg := err.Error()

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Errorf(codes.NotFound, "%s", errorMsg)
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrNotPortfolio):
		return status.Errorf(codes.InvalidArgument, "%s", errorMsg)
	case errors.Is(err, domain.ErrIncompleteValuation), errors.Is(err, domain.ErrStaleConfiguration):
		return status.Errorf(codes.FailedPrecondition, "%s", errorMsg)
	case errors.Is(err, domain.ErrDataSourceUnavailable):
		return status.Errorf(codes.Unavailable, "%s", errorMsg)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s", errorMsg)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s", errorMsg)
	}

	// Malformed upstream payloads and anything unknown
	return status.Errorf(codes.Internal, "%s", errorMsg)
}
