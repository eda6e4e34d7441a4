package entity

import (
	"time"

	"github.com/guregu/null/v6"
)

type Instrument struct {
	Symbol    string      `db:"symbol" json:"symbol"`
	Company   string      `db:"company" json:"company"`
	Sector    null.String `db:"sector" json:"sector"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

func (i Instrument) TableName() string {
	return "instruments"
}

type WatchlistItem struct {
	ID        string      `db:"id" json:"id"`
	UserID    string      `db:"user_id" json:"user_id"`
	Symbol    string      `db:"symbol" json:"symbol"`
	Notes     null.String `db:"notes" json:"notes"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

func (w WatchlistItem) TableName() string {
	return "watchlist_items"
}
