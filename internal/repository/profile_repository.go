package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"leasehub/api/internal/models"
)

var ErrProfileNotFound = errors.New("profile not found")

type ProfileRepository struct {
	db DB
}

func NewProfileRepository(db DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Create(ctx context.Context, profile models.Profile) error {
	const query = `
		INSERT INTO profiles (user_id, first_name, last_name, phone, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	_, err := r.db.Exec(ctx, query, profile.UserID, profile.FirstName, profile.LastName, profile.Phone)
	return err
}

func (r *ProfileRepository) GetByUserID(ctx context.Context, userID string) (models.Profile, error) {
	const query = `
		SELECT user_id, first_name, last_name, phone, created_at
		FROM profiles WHERE user_id = $1
	`
	var profile models.Profile
	if err := r.db.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.FirstName,
		&profile.LastName,
		&profile.Phone,
		&profile.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Profile{}, ErrProfileNotFound
		}
		return models.Profile{}, err
	}
	return profile, nil
}
