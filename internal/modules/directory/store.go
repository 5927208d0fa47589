// README: Read-only directory of users and vehicles backed by PostgreSQL.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"drivebid/internal/modules/bid"
	"drivebid/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) User(ctx context.Context, id types.ID) (bid.Party, error) {
	var p bid.Party
	var uid string
	err := s.db.QueryRow(ctx, `
		SELECT id, username, email, name, city
		FROM users
		WHERE id = $1`, string(id),
	).Scan(&uid, &p.Username, &p.Email, &p.Name, &p.City)
	if errors.Is(err, pgx.ErrNoRows) {
		return bid.Party{}, bid.ErrRenterNotFound
	}
	if err != nil {
		return bid.Party{}, fmt.Errorf("get user: %w", err)
	}
	p.ID = types.ID(uid)
	return p, nil
}

// Vehicle returns the vehicle snapshot and the id of its owner.
func (s *Store) Vehicle(ctx context.Context, id types.ID) (bid.VehicleSnapshot, types.ID, error) {
	var v bid.VehicleSnapshot
	var vid, owner string
	err := s.db.QueryRow(ctx, `
		SELECT id, owner_id, name, company, model_year, price, color, mileage, fuel_type, category, city, status
		FROM vehicles
		WHERE id = $1`, string(id),
	).Scan(&vid, &owner, &v.Name, &v.Company, &v.ModelYear, &v.Price, &v.Color, &v.Mileage, &v.FuelType, &v.Category, &v.City, &v.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return bid.VehicleSnapshot{}, "", bid.ErrVehicleNotFound
	}
	if err != nil {
		return bid.VehicleSnapshot{}, "", fmt.Errorf("get vehicle: %w", err)
	}
	v.ID = types.ID(vid)
	return v, types.ID(owner), nil
}
