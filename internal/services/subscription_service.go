package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sokoBack/internal/models"
)

const (
	reminderLongThresholdDays  = 7
	reminderShortThresholdDays = 3

	// Hand-tuned resend windows, overridable per instance.
	defaultReminderRepeatShort = 1 * time.Hour
	defaultReminderRepeatLong  = 96 * time.Hour
)

// PaymentGateway is the slice of the gateway client the lifecycle needs.
type PaymentGateway interface {
	SubmitOrder(ctx context.Context, order models.PaymentOrder) (*models.SubmitOrderResponse, error)
}

type SubscriptionStore interface {
	Create(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, id int) (models.Subscription, error)
	GetByReference(ctx context.Context, reference string) (models.Subscription, error)
	GetActiveByUserAndProduct(ctx context.Context, userID, productID int) (models.Subscription, error)
	ListByUser(ctx context.Context, userID int) ([]models.Subscription, error)
	Update(ctx context.Context, sub models.Subscription) error
	SetPaymentReference(ctx context.Context, id int, trackingID string) error
	MarkReminded(ctx context.Context, id int, at time.Time) error
	FindExpiringWithin(ctx context.Context, days int) ([]models.Subscription, error)
}

type PaymentOrderStore interface {
	Create(ctx context.Context, rec models.PaymentOrderRecord) error
	UpsertStatus(ctx context.Context, rec models.PaymentOrderRecord) error
}

type ProductStore interface {
	GetByID(ctx context.Context, id int) (models.Product, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id int) (models.User, error)
}

// Notifier dispatches transactional email. Fire-and-forget from the
// lifecycle's perspective: failures are logged, never propagated.
type Notifier interface {
	SendSubscriptionCreated(ctx context.Context, user models.User, sub models.Subscription) error
	SendRenewalReminder(ctx context.Context, user models.User, sub models.Subscription, daysUntil int) error
	SendCancelled(ctx context.Context, user models.User, sub models.Subscription, reason string) error
}

// SubscriptionService owns subscription state transitions and reminder
// scheduling. One subscription record is mutated per call; concurrent writes
// to the same id are serialized by the store.
type SubscriptionService struct {
	SubscriptionRepo SubscriptionStore
	PaymentOrderRepo PaymentOrderStore
	ProductRepo      ProductStore
	UserRepo         UserStore
	Gateway          PaymentGateway
	Notifier         Notifier
	Logger           *slog.Logger

	ReminderRepeatShort time.Duration
	ReminderRepeatLong  time.Duration

	Now func() time.Time
}

// Create validates the product/tier, snapshots the tier price and persists an
// active subscription. Paid tiers additionally get a payment order submitted;
// the returned string is the gateway redirect URL (empty for free tiers).
func (s *SubscriptionService) Create(ctx context.Context, userID, productID int, tier models.SubscriptionTier) (*models.Subscription, string, error) {
	logger := s.logger().With("op", "Create", "user_id", userID, "product_id", productID)

	product, err := s.ProductRepo.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, models.ErrProductNotFound) {
			return nil, "", fmt.Errorf("%w: product %d not found", models.ErrValidation, productID)
		}
		return nil, "", fmt.Errorf("load product: %w", err)
	}
	if !product.SupportsSubscriptions {
		return nil, "", fmt.Errorf("%w: product %d does not support subscriptions", models.ErrValidation, productID)
	}
	price, ok := product.TierPrice(tier)
	if !ok {
		return nil, "", fmt.Errorf("%w: product %d has no tier %q", models.ErrValidation, productID, tier)
	}
	if existing, err := s.SubscriptionRepo.GetActiveByUserAndProduct(ctx, userID, productID); err == nil {
		return nil, "", fmt.Errorf("%w: user already has active subscription %s", models.ErrValidation, existing.Reference)
	} else if !errors.Is(err, models.ErrSubscriptionNotFound) {
		return nil, "", fmt.Errorf("check existing subscription: %w", err)
	}

	now := s.now()
	sub := &models.Subscription{
		UserID:          userID,
		ProductID:       productID,
		Tier:            tier,
		Price:           price,
		Currency:        product.Currency,
		Reference:       uuid.New().String(),
		Status:          models.SubscriptionActive,
		StartedAt:       now,
		NextBillingDate: now.AddDate(0, 1, 0),
	}
	if err := s.SubscriptionRepo.Create(ctx, sub); err != nil {
		return nil, "", fmt.Errorf("persist subscription: %w", err)
	}
	logger.Info("subscription created", "reference", sub.Reference, "tier", tier, "price", price)

	s.notifyCreated(ctx, *sub)

	if price <= 0 {
		return sub, "", nil
	}
	redirectURL, err := s.InitiatePayment(ctx, sub)
	if err != nil {
		// Subscription stays active with no payment reference; the caller
		// gets a generic failure, the detail lives in the logs.
		logger.Error("initiate payment failed", "reference", sub.Reference, "err", err)
		return sub, "", models.ErrPaymentStart
	}
	return sub, redirectURL, nil
}

// InitiatePayment submits a payment order built from the subscription, using
// the subscription's own reference as the order id. On failure nothing is
// recorded against the subscription.
func (s *SubscriptionService) InitiatePayment(ctx context.Context, sub *models.Subscription) (string, error) {
	if sub.Price <= 0 {
		return "", nil
	}
	logger := s.logger().With("op", "InitiatePayment", "reference", sub.Reference)

	order := models.PaymentOrder{
		Reference:   sub.Reference,
		Amount:      sub.Price,
		Currency:    sub.Currency,
		Description: fmt.Sprintf("%s subscription", sub.Tier),
	}
	if s.UserRepo != nil {
		if user, err := s.UserRepo.GetByID(ctx, sub.UserID); err == nil {
			order.Email = user.Email
			order.Phone = user.Phone
			order.FullName = user.Name
		} else {
			logger.Warn("billing details unavailable", "user_id", sub.UserID, "err", err)
		}
	}

	resp, err := s.Gateway.SubmitOrder(ctx, order)
	if err != nil {
		return "", fmt.Errorf("submit order: %w", err)
	}

	if err := s.SubscriptionRepo.SetPaymentReference(ctx, sub.ID, resp.OrderTrackingID); err != nil {
		return "", fmt.Errorf("record payment reference: %w", err)
	}
	trackingID := resp.OrderTrackingID
	sub.PaymentReference = &trackingID

	rec := models.PaymentOrderRecord{
		SubscriptionID: sub.ID,
		Reference:      sub.Reference,
		TrackingID:     trackingID,
		Amount:         sub.Price,
		Currency:       sub.Currency,
		Status:         models.OrderStatusPending,
	}
	if err := s.PaymentOrderRepo.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("record payment order: %w", err)
	}
	logger.Info("payment initiated", "tracking_id", trackingID, "amount", sub.Price)
	return resp.RedirectURL, nil
}

// Renew advances the billing date by one month and keeps the subscription
// active. Billing-period dedup is the caller's responsibility.
func (s *SubscriptionService) Renew(ctx context.Context, id int) (*models.Subscription, error) {
	sub, err := s.SubscriptionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.NextBillingDate = sub.NextBillingDate.AddDate(0, 1, 0)
	sub.Status = models.SubscriptionActive
	if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("persist renewal: %w", err)
	}
	s.logger().Info("subscription renewed", "op", "Renew", "reference", sub.Reference, "next_billing_date", sub.NextBillingDate)
	return &sub, nil
}

// ChangeTier re-snapshots the price for the new tier. Moving onto a paid tier
// triggers a payment order whose redirect URL is returned to the caller.
func (s *SubscriptionService) ChangeTier(ctx context.Context, id int, newTier models.SubscriptionTier) (*models.Subscription, string, error) {
	logger := s.logger().With("op", "ChangeTier", "subscription_id", id, "tier", newTier)

	sub, err := s.SubscriptionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if sub.Status == models.SubscriptionCancelled {
		return nil, "", fmt.Errorf("%w: subscription %s is cancelled", models.ErrValidation, sub.Reference)
	}
	product, err := s.ProductRepo.GetByID(ctx, sub.ProductID)
	if err != nil {
		return nil, "", fmt.Errorf("load product: %w", err)
	}
	price, ok := product.TierPrice(newTier)
	if !ok {
		return nil, "", fmt.Errorf("%w: product %d has no tier %q", models.ErrValidation, sub.ProductID, newTier)
	}

	sub.Tier = newTier
	sub.Price = price
	if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
		return nil, "", fmt.Errorf("persist tier change: %w", err)
	}
	logger.Info("tier changed", "reference", sub.Reference, "price", price)

	if price <= 0 {
		return &sub, "", nil
	}
	redirectURL, err := s.InitiatePayment(ctx, &sub)
	if err != nil {
		logger.Error("initiate payment failed", "reference", sub.Reference, "err", err)
		return &sub, "", models.ErrPaymentStart
	}
	return &sub, redirectURL, nil
}

// Cancel marks the subscription cancelled. Re-cancelling is a no-op success
// that keeps the original timestamp and reason.
func (s *SubscriptionService) Cancel(ctx context.Context, id int, reason string) (*models.Subscription, error) {
	logger := s.logger().With("op", "Cancel", "subscription_id", id)

	sub, err := s.SubscriptionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionCancelled {
		logger.Info("already cancelled", "reference", sub.Reference)
		return &sub, nil
	}

	now := s.now()
	sub.Status = models.SubscriptionCancelled
	sub.CancelledAt = &now
	sub.CancelReason = &reason
	if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("persist cancellation: %w", err)
	}
	logger.Info("subscription cancelled", "reference", sub.Reference, "reason", reason)

	if s.Notifier != nil && s.UserRepo != nil {
		if user, err := s.UserRepo.GetByID(ctx, sub.UserID); err == nil {
			if err := s.Notifier.SendCancelled(ctx, user, sub, reason); err != nil {
				logger.Error("cancellation notice failed", "reference", sub.Reference, "err", err)
			}
		}
	}
	return &sub, nil
}

// ApplyPaymentStatus applies a normalized callback result: the order status
// write is an idempotent upsert, so duplicate IPN deliveries converge.
func (s *SubscriptionService) ApplyPaymentStatus(ctx context.Context, res models.CallbackResult) error {
	logger := s.logger().With("op", "ApplyPaymentStatus", "tracking_id", res.OrderTrackingID, "status", res.Status)

	sub, err := s.SubscriptionRepo.GetByReference(ctx, res.MerchantReference)
	if err != nil {
		return fmt.Errorf("find subscription %q: %w", res.MerchantReference, err)
	}

	rec := models.PaymentOrderRecord{
		SubscriptionID:   sub.ID,
		Reference:        res.MerchantReference,
		TrackingID:       res.OrderTrackingID,
		Amount:           res.Transaction.Amount,
		Currency:         res.Transaction.Currency,
		Status:           res.Status,
		ConfirmationCode: res.Transaction.ConfirmationCode,
	}
	if err := s.PaymentOrderRepo.UpsertStatus(ctx, rec); err != nil {
		return fmt.Errorf("upsert order status: %w", err)
	}

	switch res.Status {
	case models.OrderStatusPaid:
		if err := s.SubscriptionRepo.SetPaymentReference(ctx, sub.ID, res.OrderTrackingID); err != nil {
			return fmt.Errorf("confirm payment reference: %w", err)
		}
		logger.Info("payment confirmed", "reference", sub.Reference, "confirmation_code", res.Transaction.ConfirmationCode)
	case models.OrderStatusFailed, models.OrderStatusCancelled:
		// Subscription keeps its prior state, no half-paid flag.
		logger.Warn("payment not completed", "reference", sub.Reference)
	default:
		logger.Debug("payment still pending", "reference", sub.Reference)
	}
	return nil
}

// GetForUser lists the user's subscriptions for presentation.
func (s *SubscriptionService) GetForUser(ctx context.Context, userID int) ([]models.Subscription, error) {
	return s.SubscriptionRepo.ListByUser(ctx, userID)
}

// CheckAndSendReminders sweeps subscriptions whose billing date falls within
// the 7-day horizon and sends the 3-day or 7-day reminder, suppressing
// resends inside the per-threshold repeat window. Returns how many reminders
// went out.
func (s *SubscriptionService) CheckAndSendReminders(ctx context.Context) (int, error) {
	logger := s.logger().With("op", "CheckAndSendReminders")
	now := s.now()

	subs, err := s.SubscriptionRepo.FindExpiringWithin(ctx, reminderLongThresholdDays)
	if err != nil {
		return 0, fmt.Errorf("find expiring subscriptions: %w", err)
	}

	sent := 0
	for _, sub := range subs {
		if sub.Status != models.SubscriptionActive {
			continue
		}
		until := sub.NextBillingDate.Sub(now)
		if until < 0 {
			continue
		}

		var daysUntil int
		var repeatWindow time.Duration
		switch {
		case until <= reminderShortThresholdDays*24*time.Hour:
			daysUntil = reminderShortThresholdDays
			repeatWindow = s.reminderRepeatShort()
		case until <= reminderLongThresholdDays*24*time.Hour:
			daysUntil = reminderLongThresholdDays
			repeatWindow = s.reminderRepeatLong()
		default:
			continue
		}
		if sub.RenewalRemindedAt != nil && now.Sub(*sub.RenewalRemindedAt) < repeatWindow {
			continue
		}

		user, err := s.UserRepo.GetByID(ctx, sub.UserID)
		if err != nil {
			logger.Error("load user failed", "subscription_id", sub.ID, "err", err)
			continue
		}
		if err := s.Notifier.SendRenewalReminder(ctx, user, sub, daysUntil); err != nil {
			logger.Error("reminder send failed", "reference", sub.Reference, "err", err)
			continue
		}
		if err := s.SubscriptionRepo.MarkReminded(ctx, sub.ID, now); err != nil {
			logger.Error("mark reminded failed", "reference", sub.Reference, "err", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		logger.Info("reminders sent", "count", sent)
	}
	return sent, nil
}

func (s *SubscriptionService) notifyCreated(ctx context.Context, sub models.Subscription) {
	if s.Notifier == nil || s.UserRepo == nil {
		return
	}
	user, err := s.UserRepo.GetByID(ctx, sub.UserID)
	if err != nil {
		s.logger().Error("load user for welcome notice failed", "user_id", sub.UserID, "err", err)
		return
	}
	if err := s.Notifier.SendSubscriptionCreated(ctx, user, sub); err != nil {
		s.logger().Error("welcome notice failed", "reference", sub.Reference, "err", err)
	}
}

func (s *SubscriptionService) reminderRepeatShort() time.Duration {
	if s.ReminderRepeatShort > 0 {
		return s.ReminderRepeatShort
	}
	return defaultReminderRepeatShort
}

func (s *SubscriptionService) reminderRepeatLong() time.Duration {
	if s.ReminderRepeatLong > 0 {
		return s.ReminderRepeatLong
	}
	return defaultReminderRepeatLong
}

func (s *SubscriptionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SubscriptionService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
