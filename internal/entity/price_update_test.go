package entity

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceUpdate_DerivedChangePercent(t *testing.T) {
	update := PriceUpdate{
		Symbol: "AAPL",
		Price:  decimal.NewNullDecimal(decimal.RequireFromString("150.00")),
		Change: decimal.NewNullDecimal(decimal.RequireFromString("1.50")),
	}

	pct := update.DerivedChangePercent()
	require.True(t, pct.Valid)
	assert.True(t, decimal.RequireFromString("1.01").Equal(pct.Decimal), pct.Decimal.String())

	update.ChangePercent = decimal.NewNullDecimal(decimal.RequireFromString("2.5"))
	assert.True(t, decimal.RequireFromString("2.5").Equal(update.DerivedChangePercent().Decimal))
}

func TestPriceUpdate_DerivedChangePercent_NotDerivable(t *testing.T) {
	assert.False(t, PriceUpdate{Price: decimal.NewNullDecimal(decimal.NewFromInt(10))}.DerivedChangePercent().Valid)
	assert.False(t, PriceUpdate{Change: decimal.NewNullDecimal(decimal.NewFromInt(1))}.DerivedChangePercent().Valid)
	assert.False(t, PriceUpdate{
		Price:  decimal.NewNullDecimal(decimal.NewFromInt(5)),
		Change: decimal.NewNullDecimal(decimal.NewFromInt(5)),
	}.DerivedChangePercent().Valid, "zero previous price")
}

func TestPriceUpdate_UnmarshalWire(t *testing.T) {
	raw := `{"symbol":"msft","price":410.12,"change":null,"timestamp":1700000000000,"source":"finnhub"}`

	var update PriceUpdate
	require.NoError(t, json.Unmarshal([]byte(raw), &update))

	assert.Equal(t, "msft", update.Symbol)
	assert.Equal(t, "MSFT", NormalizeSymbol(update.Symbol))
	assert.True(t, update.Price.Valid)
	assert.False(t, update.Change.Valid)
	assert.False(t, update.High.Valid)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), update.SourceTime())
}

func TestPriceUpdate_MissingPrice(t *testing.T) {
	var update PriceUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"AAPL"}`), &update))
	assert.False(t, update.Price.Valid)
}
