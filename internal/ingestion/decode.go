package ingestion

import (
	"fmt"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/krobus00/price-stream-service/internal/constant"
	"github.com/krobus00/price-stream-service/internal/entity"
)

// Decode parses and validates a record payload. The returned update has a
// normalised symbol and a derived change percent when the origin omitted it.
func Decode(value []byte) (entity.PriceUpdate, error) {
	var update entity.PriceUpdate
	if len(value) == 0 {
		return update, invalid("payload", "empty")
	}
	if err := json.Unmarshal(value, &update); err != nil {
		return update, &ValidationError{Field: "payload", Reason: fmt.Sprintf("malformed json: %v", err)}
	}

	update.Symbol = entity.NormalizeSymbol(update.Symbol)
	if err := Validate(update); err != nil {
		return update, err
	}

	update.ChangePercent = update.DerivedChangePercent()
	return update, nil
}

func Validate(update entity.PriceUpdate) error {
	symbol := entity.NormalizeSymbol(update.Symbol)
	switch {
	case symbol == "":
		return invalid("symbol", "blank")
	case utf8.RuneCountInString(symbol) > constant.MaxSymbolLength:
		return invalid("symbol", fmt.Sprintf("longer than %d characters", constant.MaxSymbolLength))
	case !update.Price.Valid:
		return invalid("price", "missing")
	}
	return nil
}
