package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/price-stream-service/internal/entity"
)

type InstrumentRepository struct {
	db *sqlx.DB
}

func NewInstrumentRepository(db *sqlx.DB) *InstrumentRepository {
	return &InstrumentRepository{db: db}
}

func (r *InstrumentRepository) FindBySymbols(ctx context.Context, symbols []string) ([]entity.Instrument, error) {
	if len(symbols) == 0 {
		return []entity.Instrument{}, nil
	}

	query, args, err := findInstrumentsBySymbolsQuery(symbols).ToSql()
	if err != nil {
		return nil, err
	}

	var instruments []entity.Instrument
	err = r.db.SelectContext(ctx, &instruments, query, args...)
	if err != nil {
		return nil, err
	}

	return instruments, nil
}

func findInstrumentsBySymbolsQuery(symbols []string) sq.SelectBuilder {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("symbol", "company", "sector", "created_at", "updated_at").
		From(entity.Instrument{}.TableName()).
		Where(sq.Eq{"symbol": symbols}).
		OrderBy("symbol asc")
}
