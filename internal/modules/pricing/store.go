// README: Pricing store backed by PostgreSQL (taxes and platform settings).
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const platformFeeKey = "platform_fee_percentage"

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) ActiveTaxes(ctx context.Context) ([]Tax, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, kind, value
		FROM taxes
		WHERE active
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query taxes: %w", err)
	}
	defer rows.Close()

	var out []Tax
	for rows.Next() {
		var t Tax
		if err := rows.Scan(&t.ID, &t.Name, &t.Kind, &t.Value); err != nil {
			return nil, fmt.Errorf("scan tax: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) PlatformFeePct(ctx context.Context) (float64, bool, error) {
	var v float64
	err := s.db.QueryRow(ctx, `SELECT value FROM platform_settings WHERE key = $1`, platformFeeKey).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query platform fee: %w", err)
	}
	return v, true, nil
}
