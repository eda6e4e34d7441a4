package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/krobus00/price-stream-service/internal/entity"
	"github.com/shopspring/decimal"
)

const (
	SourceFinnhub = "finnhub"

	defaultClientTimeout = 10 * time.Second
)

var ErrNoQuote = errors.New("no quote for symbol")

// FinnhubQuote is the /quote response body. Prices are plain JSON numbers.
type FinnhubQuote struct {
	Current       decimal.NullDecimal `json:"c"`
	Change        decimal.NullDecimal `json:"d"`
	PercentChange decimal.NullDecimal `json:"dp"`
	High          decimal.NullDecimal `json:"h"`
	Low           decimal.NullDecimal `json:"l"`
	Open          decimal.NullDecimal `json:"o"`
	PreviousClose decimal.NullDecimal `json:"pc"`
	Timestamp     int64               `json:"t"`
}

type FinnhubClient struct {
	client *resty.Client
	token  string
}

func NewFinnhubClient(baseURL, token string) *FinnhubClient {
	return &FinnhubClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultClientTimeout).
			SetHeader("Accept", "application/json"),
		token: token,
	}
}

func (c *FinnhubClient) Quote(ctx context.Context, symbol string) (entity.PriceUpdate, error) {
	symbol = entity.NormalizeSymbol(symbol)

	var quote FinnhubQuote
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"token":  c.token,
		}).
		SetResult(&quote).
		Get("/quote")
	if err != nil {
		return entity.PriceUpdate{}, fmt.Errorf("get quote %s: %w", symbol, err)
	}
	if resp.IsError() {
		return entity.PriceUpdate{}, fmt.Errorf("get quote %s: unexpected status %d", symbol, resp.StatusCode())
	}

	// unknown symbols come back as an all-zero quote
	if !quote.Current.Valid || quote.Current.Decimal.IsZero() {
		return entity.PriceUpdate{}, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}

	return entity.PriceUpdate{
		Symbol:        symbol,
		Price:         quote.Current,
		Change:        quote.Change,
		ChangePercent: quote.PercentChange,
		High:          quote.High,
		Low:           quote.Low,
		Timestamp:     quote.Timestamp * 1000,
		Source:        SourceFinnhub,
	}, nil
}
