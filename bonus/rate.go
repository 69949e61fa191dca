package bonus

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teranos/aurum/am"
	"github.com/teranos/aurum/errors"
	"github.com/teranos/aurum/internal/httpclient"
	"github.com/teranos/aurum/store"
)

// RateSource supplies the gold price per gram used to convert a bonus
type RateSource interface {
	Rate(ctx context.Context, asOf time.Time) (decimal.Decimal, error)
}

// RateReader reads published gold rates
type RateReader interface {
	LatestGoldRate(ctx context.Context, asOf time.Time) (*store.GoldRate, error)
}

// StoreRate uses the latest rate published in the store
type StoreRate struct {
	reader RateReader
}

// NewStoreRate creates a rate source over published rates
func NewStoreRate(reader RateReader) *StoreRate {
	return &StoreRate{reader: reader}
}

// Rate returns the most recent rate effective at asOf
func (s *StoreRate) Rate(ctx context.Context, asOf time.Time) (decimal.Decimal, error) {
	r, err := s.reader.LatestGoldRate(ctx, asOf)
	if errors.IsNotFoundError(err) {
		return decimal.Zero, errors.AsBusinessRule(err, "no gold rate published")
	}
	if err != nil {
		return decimal.Zero, err
	}
	return checkRate(r.PerGram)
}

// FixedRate is a configured constant rate
type FixedRate struct {
	PerGram decimal.Decimal
}

// Rate returns the configured rate
func (f FixedRate) Rate(context.Context, time.Time) (decimal.Decimal, error) {
	return checkRate(f.PerGram)
}

// HTTPRate reads the price per gram from a JSON feed.
// The feed answers {"per_gram": "61.25"}; a numeric per_gram is accepted too.
type HTTPRate struct {
	client *httpclient.Client
	url    string
}

// NewHTTPRate creates a rate source over the feed at url
func NewHTTPRate(client *httpclient.Client, url string) *HTTPRate {
	return &HTTPRate{client: client, url: url}
}

type feedQuote struct {
	PerGram *decimal.Decimal `json:"per_gram"`
}

// Rate fetches the current quote. asOf is not sent; feeds quote spot prices.
func (h *HTTPRate) Rate(ctx context.Context, _ time.Time) (decimal.Decimal, error) {
	var q feedQuote
	if err := h.client.GetJSON(ctx, h.url, &q); err != nil {
		return decimal.Zero, errors.Wrap(err, "fetch gold rate")
	}
	if q.PerGram == nil {
		return decimal.Zero, errors.BusinessRulef("gold rate feed response has no per_gram")
	}
	return checkRate(*q.PerGram)
}

func checkRate(rate decimal.Decimal) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, errors.BusinessRulef("gold rate %s is not positive", rate)
	}
	return rate, nil
}

// RateSourceFor builds the rate source named by the bonus configuration
func RateSourceFor(cfg *am.Config, reader RateReader) (RateSource, error) {
	switch cfg.Bonus.RateSource {
	case am.RateSourceStore, "":
		return NewStoreRate(reader), nil
	case am.RateSourceFixed:
		rate, err := cfg.FixedRate()
		if err != nil {
			return nil, errors.AsFatal(err, "parse bonus.fixed_rate")
		}
		return FixedRate{PerGram: rate}, nil
	case am.RateSourceHTTP:
		client := httpclient.New(httpclient.Options{
			Timeout:      cfg.StoreTimeout(),
			AllowPrivate: cfg.Bonus.RateURLAllowPrivate,
		})
		if _, err := client.ValidateURL(cfg.Bonus.RateURL); err != nil {
			return nil, errors.AsFatal(err, "bonus.rate_url")
		}
		return NewHTTPRate(client, cfg.Bonus.RateURL), nil
	default:
		return nil, errors.Mark(errors.Newf("unknown bonus rate source %q", cfg.Bonus.RateSource), errors.ErrFatalConfig)
	}
}
