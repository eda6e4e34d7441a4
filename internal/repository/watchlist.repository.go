package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/price-stream-service/internal/entity"
)

// WatchlistRepository only reads; watchlist writes belong to another service.
type WatchlistRepository struct {
	db *sqlx.DB
}

func NewWatchlistRepository(db *sqlx.DB) *WatchlistRepository {
	return &WatchlistRepository{db: db}
}

func (r *WatchlistRepository) FindSymbolsByUserID(ctx context.Context, userID string) ([]string, error) {
	query, args, err := findWatchlistSymbolsQuery(userID).ToSql()
	if err != nil {
		return nil, err
	}

	var symbols []string
	err = r.db.SelectContext(ctx, &symbols, query, args...)
	if err != nil {
		return nil, err
	}

	return symbols, nil
}

func findWatchlistSymbolsQuery(userID string) sq.SelectBuilder {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("symbol").
		From(entity.WatchlistItem{}.TableName()).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at asc")
}
