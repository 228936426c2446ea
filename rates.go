package paygate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=rates.go -destination=mocks/rates.go -package=mocks

// RateSource returns the fiat price of one crypto unit.
type RateSource interface {
	FetchRate(ctx context.Context) (decimal.Decimal, error)
}

type ExchangeRateProvider interface {
	CurrentRate(ctx context.Context) (decimal.Decimal, error)
}

// RateProvider validates what the source returns. It never caches and never
// substitutes a default: any failure is ErrRateUnavailable.
type RateProvider struct {
	src     RateSource
	timeout time.Duration
	log     *zerolog.Logger
}

var (
	_ ExchangeRateProvider = (*RateProvider)(nil)
)

func NewRateProvider(src RateSource, timeout time.Duration, log *zerolog.Logger) *RateProvider {
	return &RateProvider{
		src:     src,
		timeout: timeout,
		log:     log,
	}
}

func (p *RateProvider) CurrentRate(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	rate, err := p.src.FetchRate(ctx)
	observeUpstream("rates", start, err)
	if err != nil {
		p.log.Err(err).Msg("error fetching exchange rate")
		return decimal.Zero, fmt.Errorf("%w: %w", ErrRateUnavailable, err)
	}
	if !rate.IsPositive() {
		p.log.Error().Str("rate", rate.String()).Msg("non-positive exchange rate")
		return decimal.Zero, fmt.Errorf("%w: non-positive rate %s", ErrRateUnavailable, rate)
	}
	return rate, nil
}

// CoinGeckoSource reads the simple/price endpoint:
//
//	GET <url>?ids=bitcoin&vs_currencies=usd -> {"bitcoin":{"usd":67012.5}}
type CoinGeckoSource struct {
	client *http.Client
	url    string
	coin   string
	fiat   string
}

var (
	_ RateSource = (*CoinGeckoSource)(nil)
)

func NewCoinGeckoSource(client *http.Client, endpoint, coin, fiat string) *CoinGeckoSource {
	return &CoinGeckoSource{
		client: client,
		url:    endpoint,
		coin:   strings.ToLower(coin),
		fiat:   strings.ToLower(fiat),
	}
}

func (s *CoinGeckoSource) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", s.coin)
	q.Set("vs_currencies", s.fiat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate source: status %d", resp.StatusCode)
	}

	var body map[string]map[string]json.Number
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err = dec.Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("rate source: decode: %w", err)
	}
	num, ok := body[s.coin][s.fiat]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate source: no %s/%s price", s.coin, s.fiat)
	}
	return decimal.NewFromString(num.String())
}
