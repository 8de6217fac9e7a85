package repositories

import (
	"context"
	"database/sql"

	"sokoBack/internal/models"
)

type ProductRepository struct {
	DB *sql.DB
}

func (r *ProductRepository) GetByID(ctx context.Context, id int) (models.Product, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT id, name, description, currency, supports_subscriptions, created_at, updated_at
FROM products WHERE id = ?
`, id)

	var p models.Product
	var description sql.NullString
	var updated sql.NullTime
	err := row.Scan(&p.ID, &p.Name, &description, &p.Currency, &p.SupportsSubscriptions, &p.CreatedAt, &updated)
	if err == sql.ErrNoRows {
		return models.Product{}, models.ErrProductNotFound
	}
	if err != nil {
		return models.Product{}, err
	}
	if description.Valid {
		p.Description = description.String
	}
	if updated.Valid {
		t := updated.Time
		p.UpdatedAt = &t
	}

	rows, err := r.DB.QueryContext(ctx, `SELECT tier, price FROM product_tiers WHERE product_id = ? ORDER BY price`, id)
	if err != nil {
		return models.Product{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var price float64
		if err := rows.Scan(&tier, &price); err != nil {
			return models.Product{}, err
		}
		p.Tiers = append(p.Tiers, models.ProductTier{Tier: models.SubscriptionTier(tier), Price: price})
	}
	if err := rows.Err(); err != nil {
		return models.Product{}, err
	}
	return p, nil
}
