package repositories

import (
	"context"
	"database/sql"

	"sokoBack/internal/models"
)

type UserRepository struct {
	DB *sql.DB
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (models.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, name, phone, email, role, created_at, updated_at FROM users WHERE id = ?`, id)

	var user models.User
	var phone, email sql.NullString
	var updated sql.NullTime
	err := row.Scan(&user.ID, &user.Name, &phone, &email, &user.Role, &user.CreatedAt, &updated)
	if err == sql.ErrNoRows {
		return models.User{}, models.ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	if phone.Valid {
		user.Phone = phone.String
	}
	if email.Valid {
		user.Email = email.String
	}
	if updated.Valid {
		t := updated.Time
		user.UpdatedAt = &t
	}
	return user, nil
}
