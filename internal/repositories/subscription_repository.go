package repositories

import (
	"context"
	"database/sql"
	"time"

	"sokoBack/internal/models"
)

type SubscriptionRepository struct {
	DB *sql.DB
}

const subscriptionColumns = `id, user_id, product_id, tier, price, currency, reference, status, started_at, next_billing_date, renewal_reminded_at, cancelled_at, cancel_reason, payment_reference, created_at, updated_at`

func scanSubscription(scanner interface{ Scan(dest ...any) error }) (models.Subscription, error) {
	var sub models.Subscription
	var tier, status string
	var reminded, cancelled, updated sql.NullTime
	var reason, payRef sql.NullString
	err := scanner.Scan(
		&sub.ID, &sub.UserID, &sub.ProductID, &tier, &sub.Price, &sub.Currency,
		&sub.Reference, &status, &sub.StartedAt, &sub.NextBillingDate,
		&reminded, &cancelled, &reason, &payRef, &sub.CreatedAt, &updated,
	)
	if err != nil {
		return models.Subscription{}, err
	}
	sub.Tier = models.SubscriptionTier(tier)
	sub.Status = models.SubscriptionStatus(status)
	if reminded.Valid {
		t := reminded.Time
		sub.RenewalRemindedAt = &t
	}
	if cancelled.Valid {
		t := cancelled.Time
		sub.CancelledAt = &t
	}
	if reason.Valid {
		r := reason.String
		sub.CancelReason = &r
	}
	if payRef.Valid {
		p := payRef.String
		sub.PaymentReference = &p
	}
	if updated.Valid {
		t := updated.Time
		sub.UpdatedAt = &t
	}
	return sub, nil
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	res, err := r.DB.ExecContext(ctx, `
INSERT INTO subscriptions (user_id, product_id, tier, price, currency, reference, status, started_at, next_billing_date, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
`, sub.UserID, sub.ProductID, string(sub.Tier), sub.Price, sub.Currency, sub.Reference, string(sub.Status), sub.StartedAt, sub.NextBillingDate)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	sub.ID = int(id)
	return nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id int) (models.Subscription, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return models.Subscription{}, models.ErrSubscriptionNotFound
	}
	return sub, err
}

func (r *SubscriptionRepository) GetByReference(ctx context.Context, reference string) (models.Subscription, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE reference = ?`, reference)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return models.Subscription{}, models.ErrSubscriptionNotFound
	}
	return sub, err
}

func (r *SubscriptionRepository) GetActiveByUserAndProduct(ctx context.Context, userID, productID int) (models.Subscription, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ? AND product_id = ? AND status = 'active'`, userID, productID)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return models.Subscription{}, models.ErrSubscriptionNotFound
	}
	return sub, err
}

func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID int) ([]models.Subscription, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *SubscriptionRepository) Update(ctx context.Context, sub models.Subscription) error {
	_, err := r.DB.ExecContext(ctx, `
UPDATE subscriptions
SET tier = ?, price = ?, currency = ?, status = ?, next_billing_date = ?, renewal_reminded_at = ?, cancelled_at = ?, cancel_reason = ?, payment_reference = ?, updated_at = NOW()
WHERE id = ?
`, string(sub.Tier), sub.Price, sub.Currency, string(sub.Status), sub.NextBillingDate,
		sub.RenewalRemindedAt, sub.CancelledAt, sub.CancelReason, sub.PaymentReference, sub.ID)
	return err
}

func (r *SubscriptionRepository) SetPaymentReference(ctx context.Context, id int, trackingID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE subscriptions SET payment_reference = ?, updated_at = NOW() WHERE id = ?`, trackingID, id)
	return err
}

func (r *SubscriptionRepository) MarkReminded(ctx context.Context, id int, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE subscriptions SET renewal_reminded_at = ?, updated_at = NOW() WHERE id = ?`, at, id)
	return err
}

// FindExpiringWithin returns active subscriptions whose next billing date
// lies inside the coming `days` days. Already-overdue records are excluded;
// the renewal path handles those.
func (r *SubscriptionRepository) FindExpiringWithin(ctx context.Context, days int) ([]models.Subscription, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE status = 'active'
  AND next_billing_date >= NOW()
  AND next_billing_date <= DATE_ADD(NOW(), INTERVAL ? DAY)
`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}
