package repositories

import (
	"context"
	"database/sql"

	"sokoBack/internal/models"
)

type PaymentOrderRepository struct{ DB *sql.DB }

func NewPaymentOrderRepository(db *sql.DB) *PaymentOrderRepository {
	return &PaymentOrderRepository{DB: db}
}

func (r *PaymentOrderRepository) Create(ctx context.Context, rec models.PaymentOrderRecord) error {
	const q = `
INSERT INTO payment_orders (subscription_id, reference, tracking_id, amount, currency, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, NOW())
`
	_, err := r.DB.ExecContext(ctx, q, rec.SubscriptionID, rec.Reference, rec.TrackingID, rec.Amount, rec.Currency, string(rec.Status))
	return err
}

// UpsertStatus records the gateway-reported outcome keyed by the merchant
// reference. Replaying the same IPN overwrites the row with the same values,
// so duplicate deliveries are harmless.
func (r *PaymentOrderRepository) UpsertStatus(ctx context.Context, rec models.PaymentOrderRecord) error {
	const q = `
INSERT INTO payment_orders (subscription_id, reference, tracking_id, amount, currency, status, confirmation_code, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, NOW())
ON DUPLICATE KEY UPDATE
  tracking_id = VALUES(tracking_id),
  amount = VALUES(amount),
  currency = VALUES(currency),
  status = VALUES(status),
  confirmation_code = VALUES(confirmation_code),
  updated_at = NOW()
`
	_, err := r.DB.ExecContext(ctx, q, rec.SubscriptionID, rec.Reference, rec.TrackingID, rec.Amount, rec.Currency, string(rec.Status), rec.ConfirmationCode)
	return err
}

func (r *PaymentOrderRepository) GetByTrackingID(ctx context.Context, trackingID string) (models.PaymentOrderRecord, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT id, subscription_id, reference, tracking_id, amount, currency, status, confirmation_code, created_at, updated_at
FROM payment_orders WHERE tracking_id = ?
`, trackingID)

	var rec models.PaymentOrderRecord
	var status string
	var confirmation sql.NullString
	var updated sql.NullTime
	err := row.Scan(&rec.ID, &rec.SubscriptionID, &rec.Reference, &rec.TrackingID, &rec.Amount, &rec.Currency, &status, &confirmation, &rec.CreatedAt, &updated)
	if err == sql.ErrNoRows {
		return models.PaymentOrderRecord{}, models.ErrNoRecord
	}
	if err != nil {
		return models.PaymentOrderRecord{}, err
	}
	rec.Status = models.OrderStatus(status)
	if confirmation.Valid {
		rec.ConfirmationCode = confirmation.String
	}
	if updated.Valid {
		t := updated.Time
		rec.UpdatedAt = &t
	}
	return rec, nil
}
