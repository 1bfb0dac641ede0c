package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Provider defines the contract for market-data backends. Each operation is
// independent so callers can degrade per-operation instead of per-request.
type Provider interface {
	// ResolveTicker maps a company name or alias to its canonical symbol.
	ResolveTicker(ctx context.Context, name string) (*Ticker, error)

	// Quote fetches a point-in-time quote with key fundamentals.
	Quote(ctx context.Context, symbol string) (*Quote, error)

	// History returns daily candles for the given range (e.g., "3mo").
	History(ctx context.Context, symbol string, rng string) ([]Candle, error)

	// News searches recent headlines for a symbol or free-text query.
	News(ctx context.Context, query string, limit int) ([]NewsItem, error)

	// Recommendations returns the current analyst recommendation trend.
	Recommendations(ctx context.Context, symbol string) (*RecommendationTrend, error)
}

// Ticker is a resolved market identifier.
type Ticker struct {
	Symbol   string
	Name     string
	Exchange string
}

// Quote carries a snapshot price plus the fundamentals the synthesizer cites.
type Quote struct {
	Symbol        string
	Name          string
	Currency      string
	Price         decimal.Decimal
	Change        decimal.Decimal
	ChangePercent decimal.Decimal
	MarketCap     int64
	Volume        int64
	PERatio       decimal.Decimal
	EPS           decimal.Decimal
	High52W       decimal.Decimal
	Low52W        decimal.Decimal
	AsOf          time.Time
}

// Candle is one daily OHLCV bar.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// NewsItem is a single headline with provenance.
type NewsItem struct {
	Title     string
	Publisher string
	Link      string
	Published time.Time
}

// RecommendationTrend aggregates analyst ratings for the current period.
type RecommendationTrend struct {
	Symbol     string
	StrongBuy  int
	Buy        int
	Hold       int
	Sell       int
	StrongSell int
}

// Consensus reduces the trend to a single label.
func (r *RecommendationTrend) Consensus() string {
	buy := r.StrongBuy + r.Buy
	sell := r.Sell + r.StrongSell
	switch {
	case buy > r.Hold && buy > sell:
		return "buy"
	case sell > r.Hold && sell > buy:
		return "sell"
	default:
		return "hold"
	}
}
