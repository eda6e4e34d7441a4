package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceUpdate is the latest known quote for one instrument as it travels from
// the upstream stream to the cache and to every admitted connection.
type PriceUpdate struct {
	Symbol        string              `json:"symbol"`
	Price         decimal.NullDecimal `json:"price"`
	Change        decimal.NullDecimal `json:"change"`
	ChangePercent decimal.NullDecimal `json:"changePercent"`
	High          decimal.NullDecimal `json:"high"`
	Low           decimal.NullDecimal `json:"low"`
	Timestamp     int64               `json:"timestamp"` // epoch millis supplied by the origin
	Source        string              `json:"source"`
	ReceivedAt    time.Time           `json:"receivedAt"`
}

var hundred = decimal.NewFromInt(100)

// NormalizeSymbol trims and upper-cases an instrument identifier.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (p PriceUpdate) SourceTime() time.Time {
	if p.Timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.Timestamp).UTC()
}

// DerivedChangePercent returns ChangePercent when the origin supplied it,
// otherwise change / (price - change) rounded half-up to 4 places and scaled
// to percent, which treats Change as already included in Price.
func (p PriceUpdate) DerivedChangePercent() decimal.NullDecimal {
	if p.ChangePercent.Valid {
		return p.ChangePercent
	}
	if !p.Price.Valid || !p.Change.Valid {
		return decimal.NullDecimal{}
	}

	previous := p.Price.Decimal.Sub(p.Change.Decimal)
	if previous.IsZero() {
		return decimal.NullDecimal{}
	}

	return decimal.NewNullDecimal(p.Change.Decimal.DivRound(previous, 4).Mul(hundred))
}

func (p PriceUpdate) IsPositiveChange() bool {
	return p.Change.Valid && p.Change.Decimal.IsPositive()
}

func (p PriceUpdate) IsNegativeChange() bool {
	return p.Change.Valid && p.Change.Decimal.IsNegative()
}
