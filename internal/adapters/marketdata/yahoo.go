package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// YahooProvider implements Provider against the public Yahoo Finance HTTP API.
type YahooProvider struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Provider = (*YahooProvider)(nil)

// YahooConfig holds the provider settings.
type YahooConfig struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerMin int
}

// NewYahooProvider creates a rate-limited Yahoo Finance client.
func NewYahooProvider(cfg YahooConfig) *YahooProvider {
	rpm := cfg.RequestsPerMin
	if rpm <= 0 {
		rpm = 120
	}
	return &YahooProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm/10+1),
	}
}

// ResolveTicker maps a company name to its primary equity listing.
func (p *YahooProvider) ResolveTicker(ctx context.Context, name string) (*Ticker, error) {
	var resp searchResponse
	params := url.Values{}
	params.Set("q", name)
	params.Set("quotesCount", "5")
	params.Set("newsCount", "0")

	if err := p.get(ctx, "/v1/finance/search", params, &resp); err != nil {
		return nil, err
	}

	for _, q := range resp.Quotes {
		if q.QuoteType != "EQUITY" && q.QuoteType != "ETF" {
			continue
		}
		return &Ticker{
			Symbol:   q.Symbol,
			Name:     firstNonEmpty(q.LongName, q.ShortName, q.Symbol),
			Exchange: q.ExchDisp,
		}, nil
	}

	return nil, errors.Wrapf(errors.ErrEntityUnresolved, "no listing found for %q", name)
}

// Quote fetches the latest quote via the chart endpoint metadata.
func (p *YahooProvider) Quote(ctx context.Context, symbol string) (*Quote, error) {
	var resp chartResponse
	params := url.Values{}
	params.Set("range", "1d")
	params.Set("interval", "1d")

	if err := p.get(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Chart.Result) == 0 {
		return nil, errors.Wrapf(errors.ErrEntityUnresolved, "no quote data for %s", symbol)
	}

	meta := resp.Chart.Result[0].Meta
	price := decimal.NewFromFloat(meta.RegularMarketPrice)
	prev := decimal.NewFromFloat(meta.ChartPreviousClose)
	change := price.Sub(prev)
	changePct := decimal.Zero
	if !prev.IsZero() {
		changePct = change.Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
	}

	return &Quote{
		Symbol:        meta.Symbol,
		Name:          firstNonEmpty(meta.LongName, meta.ShortName, meta.Symbol),
		Currency:      meta.Currency,
		Price:         price,
		Change:        change,
		ChangePercent: changePct,
		Volume:        meta.RegularMarketVolume,
		High52W:       decimal.NewFromFloat(meta.FiftyTwoWeekHigh),
		Low52W:        decimal.NewFromFloat(meta.FiftyTwoWeekLow),
		AsOf:          time.Unix(meta.RegularMarketTime, 0).UTC(),
	}, nil
}

// History returns daily candles for the requested range.
func (p *YahooProvider) History(ctx context.Context, symbol string, rng string) ([]Candle, error) {
	if rng == "" {
		rng = "3mo"
	}

	var resp chartResponse
	params := url.Values{}
	params.Set("range", rng)
	params.Set("interval", "1d")

	if err := p.get(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Chart.Result) == 0 {
		return nil, errors.Wrapf(errors.ErrEntityUnresolved, "no history for %s", symbol)
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, errors.Wrapf(errors.ErrExternal, "malformed chart payload for %s", symbol)
	}

	bars := result.Indicators.Quote[0]
	candles := make([]Candle, 0, len(result.Timestamps))
	for i, ts := range result.Timestamps {
		// Yahoo pads trading halts with nulls; skip incomplete bars.
		if i >= len(bars.Close) || bars.Close[i] == nil {
			continue
		}
		c := Candle{
			Timestamp: time.Unix(ts, 0).UTC(),
			Close:     *bars.Close[i],
		}
		if i < len(bars.Open) && bars.Open[i] != nil {
			c.Open = *bars.Open[i]
		}
		if i < len(bars.High) && bars.High[i] != nil {
			c.High = *bars.High[i]
		}
		if i < len(bars.Low) && bars.Low[i] != nil {
			c.Low = *bars.Low[i]
		}
		if i < len(bars.Volume) && bars.Volume[i] != nil {
			c.Volume = *bars.Volume[i]
		}
		candles = append(candles, c)
	}

	return candles, nil
}

// News searches recent headlines for a symbol or query string.
func (p *YahooProvider) News(ctx context.Context, query string, limit int) ([]NewsItem, error) {
	if limit <= 0 {
		limit = 5
	}

	var resp searchResponse
	params := url.Values{}
	params.Set("q", query)
	params.Set("quotesCount", "0")
	params.Set("newsCount", fmt.Sprintf("%d", limit))

	if err := p.get(ctx, "/v1/finance/search", params, &resp); err != nil {
		return nil, err
	}

	items := make([]NewsItem, 0, len(resp.News))
	for _, n := range resp.News {
		items = append(items, NewsItem{
			Title:     n.Title,
			Publisher: n.Publisher,
			Link:      n.Link,
			Published: time.Unix(n.ProviderPublishTime, 0).UTC(),
		})
	}

	return items, nil
}

// Recommendations fetches the analyst recommendation trend for the
// current period.
func (p *YahooProvider) Recommendations(ctx context.Context, symbol string) (*RecommendationTrend, error) {
	var resp quoteSummaryResponse
	params := url.Values{}
	params.Set("modules", "recommendationTrend")

	if err := p.get(ctx, "/v10/finance/quoteSummary/"+url.PathEscape(symbol), params, &resp); err != nil {
		return nil, err
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, errors.Wrapf(errors.ErrEntityUnresolved, "no summary for %s", symbol)
	}

	trend := resp.QuoteSummary.Result[0].RecommendationTrend
	if len(trend.Trend) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "no recommendation trend for %s", symbol)
	}

	// The first entry is the current period ("0m").
	cur := trend.Trend[0]
	return &RecommendationTrend{
		Symbol:     symbol,
		StrongBuy:  cur.StrongBuy,
		Buy:        cur.Buy,
		Hold:       cur.Hold,
		Sell:       cur.Sell,
		StrongSell: cur.StrongSell,
	}, nil
}

func (p *YahooProvider) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "market data rate limiter")
	}

	endpoint := p.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create market data request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; delphi/1.0)")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errors.Wrapf(errors.ErrExternalCallTimeout, "market data request to %s", path)
		}
		return errors.Wrapf(errors.ErrExternal, "market data request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read market data response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrapf(errors.ErrEntityUnresolved, "market data: %s not found", path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.Wrapf(errors.ErrRateLimitExceeded, "market data provider throttled request to %s", path)
	case resp.StatusCode >= 400:
		logger.Warnf("Market data request failed: path=%s status=%d body=%s", path, resp.StatusCode, truncate(string(body), 200))
		return errors.Wrapf(errors.ErrExternal, "market data returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(errors.ErrExternal, "failed to decode market data response: %v", err)
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Wire types for the Yahoo JSON payloads.

type searchResponse struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		ShortName string `json:"shortname"`
		LongName  string `json:"longname"`
		ExchDisp  string `json:"exchDisp"`
		QuoteType string `json:"quoteType"`
	} `json:"quotes"`
	News []struct {
		Title               string `json:"title"`
		Publisher           string `json:"publisher"`
		Link                string `json:"link"`
		ProviderPublishTime int64  `json:"providerPublishTime"`
	} `json:"news"`
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol              string  `json:"symbol"`
				ShortName           string  `json:"shortName"`
				LongName            string  `json:"longName"`
				Currency            string  `json:"currency"`
				RegularMarketPrice  float64 `json:"regularMarketPrice"`
				ChartPreviousClose  float64 `json:"chartPreviousClose"`
				RegularMarketVolume int64   `json:"regularMarketVolume"`
				RegularMarketTime   int64   `json:"regularMarketTime"`
				FiftyTwoWeekHigh    float64 `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow     float64 `json:"fiftyTwoWeekLow"`
			} `json:"meta"`
			Timestamps []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			RecommendationTrend struct {
				Trend []struct {
					Period     string `json:"period"`
					StrongBuy  int    `json:"strongBuy"`
					Buy        int    `json:"buy"`
					Hold       int    `json:"hold"`
					Sell       int    `json:"sell"`
					StrongSell int    `json:"strongSell"`
				} `json:"trend"`
			} `json:"recommendationTrend"`
		} `json:"result"`
	} `json:"quoteSummary"`
}
