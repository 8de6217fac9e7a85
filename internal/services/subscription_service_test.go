package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"sokoBack/internal/models"
)

type fakeSubscriptionStore struct {
	subs   map[int]models.Subscription
	nextID int

	expiring []models.Subscription

	refSets  map[int]string
	reminded map[int]time.Time
}

func newFakeSubscriptionStore() *fakeSubscriptionStore {
	return &fakeSubscriptionStore{
		subs:     make(map[int]models.Subscription),
		nextID:   1,
		refSets:  make(map[int]string),
		reminded: make(map[int]time.Time),
	}
}

func (f *fakeSubscriptionStore) Create(_ context.Context, sub *models.Subscription) error {
	sub.ID = f.nextID
	f.nextID++
	sub.CreatedAt = time.Now()
	f.subs[sub.ID] = *sub
	return nil
}

func (f *fakeSubscriptionStore) GetByID(_ context.Context, id int) (models.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return models.Subscription{}, models.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (f *fakeSubscriptionStore) GetByReference(_ context.Context, reference string) (models.Subscription, error) {
	for _, sub := range f.subs {
		if sub.Reference == reference {
			return sub, nil
		}
	}
	return models.Subscription{}, models.ErrSubscriptionNotFound
}

func (f *fakeSubscriptionStore) GetActiveByUserAndProduct(_ context.Context, userID, productID int) (models.Subscription, error) {
	for _, sub := range f.subs {
		if sub.UserID == userID && sub.ProductID == productID && sub.Status == models.SubscriptionActive {
			return sub, nil
		}
	}
	return models.Subscription{}, models.ErrSubscriptionNotFound
}

func (f *fakeSubscriptionStore) ListByUser(_ context.Context, userID int) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *fakeSubscriptionStore) Update(_ context.Context, sub models.Subscription) error {
	if _, ok := f.subs[sub.ID]; !ok {
		return models.ErrSubscriptionNotFound
	}
	f.subs[sub.ID] = sub
	return nil
}

func (f *fakeSubscriptionStore) SetPaymentReference(_ context.Context, id int, trackingID string) error {
	sub, ok := f.subs[id]
	if !ok {
		return models.ErrSubscriptionNotFound
	}
	sub.PaymentReference = &trackingID
	f.subs[id] = sub
	f.refSets[id] = trackingID
	return nil
}

func (f *fakeSubscriptionStore) MarkReminded(_ context.Context, id int, at time.Time) error {
	sub, ok := f.subs[id]
	if !ok {
		return models.ErrSubscriptionNotFound
	}
	sub.RenewalRemindedAt = &at
	f.subs[id] = sub
	f.reminded[id] = at
	return nil
}

func (f *fakeSubscriptionStore) FindExpiringWithin(_ context.Context, days int) ([]models.Subscription, error) {
	return f.expiring, nil
}

type fakePaymentOrderStore struct {
	created []models.PaymentOrderRecord
	upserts []models.PaymentOrderRecord
}

func (f *fakePaymentOrderStore) Create(_ context.Context, rec models.PaymentOrderRecord) error {
	f.created = append(f.created, rec)
	return nil
}

func (f *fakePaymentOrderStore) UpsertStatus(_ context.Context, rec models.PaymentOrderRecord) error {
	f.upserts = append(f.upserts, rec)
	return nil
}

type fakeProductStore struct {
	product models.Product
	err     error
}

func (f *fakeProductStore) GetByID(context.Context, int) (models.Product, error) {
	if f.err != nil {
		return models.Product{}, f.err
	}
	return f.product, nil
}

type fakeUserStore struct{ user models.User }

func (f *fakeUserStore) GetByID(context.Context, int) (models.User, error) {
	return f.user, nil
}

type fakeGateway struct {
	orders []models.PaymentOrder
	resp   *models.SubmitOrderResponse
	err    error
}

func (f *fakeGateway) SubmitOrder(_ context.Context, order models.PaymentOrder) (*models.SubmitOrderResponse, error) {
	f.orders = append(f.orders, order)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type recordingNotifier struct {
	created   int
	reminders []int
	cancelled int
}

func (n *recordingNotifier) SendSubscriptionCreated(context.Context, models.User, models.Subscription) error {
	n.created++
	return nil
}

func (n *recordingNotifier) SendRenewalReminder(_ context.Context, _ models.User, _ models.Subscription, daysUntil int) error {
	n.reminders = append(n.reminders, daysUntil)
	return nil
}

func (n *recordingNotifier) SendCancelled(context.Context, models.User, models.Subscription, string) error {
	n.cancelled++
	return nil
}

func subscriptionProduct() models.Product {
	return models.Product{
		ID:                    10,
		Name:                  "Invoicing Suite",
		Currency:              "KES",
		SupportsSubscriptions: true,
		Tiers: []models.ProductTier{
			{Tier: models.TierFree, Price: 0},
			{Tier: models.TierBasic, Price: 1500},
			{Tier: models.TierPremium, Price: 4500},
		},
	}
}

func newTestSubscriptionService(store *fakeSubscriptionStore, orders *fakePaymentOrderStore, gw *fakeGateway, notifier *recordingNotifier) *SubscriptionService {
	return &SubscriptionService{
		SubscriptionRepo: store,
		PaymentOrderRepo: orders,
		ProductRepo:      &fakeProductStore{product: subscriptionProduct()},
		UserRepo:         &fakeUserStore{user: models.User{ID: 1, Name: "Jane Doe", Email: "jane@example.com"}},
		Gateway:          gw,
		Notifier:         notifier,
	}
}

func TestCreate_FreeTierActiveWithoutPayment(t *testing.T) {
	store := newFakeSubscriptionStore()
	orders := &fakePaymentOrderStore{}
	gw := &fakeGateway{}
	notifier := &recordingNotifier{}
	svc := newTestSubscriptionService(store, orders, gw, notifier)

	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }

	sub, redirectURL, err := svc.Create(context.Background(), 1, 10, models.TierFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Status != models.SubscriptionActive {
		t.Errorf("status mismatch: %q", sub.Status)
	}
	if redirectURL != "" {
		t.Errorf("free tier must not produce a redirect URL: %q", redirectURL)
	}
	if len(gw.orders) != 0 {
		t.Errorf("free tier must not hit the gateway")
	}
	if len(orders.created) != 0 {
		t.Errorf("free tier must not create a payment order")
	}
	if !sub.NextBillingDate.Equal(now.AddDate(0, 1, 0)) {
		t.Errorf("next billing date mismatch: %v", sub.NextBillingDate)
	}
	if notifier.created != 1 {
		t.Errorf("expected 1 created notice, got %d", notifier.created)
	}
}

func TestCreate_PaidTierSubmitsOrder(t *testing.T) {
	store := newFakeSubscriptionStore()
	orders := &fakePaymentOrderStore{}
	gw := &fakeGateway{resp: &models.SubmitOrderResponse{
		OrderTrackingID: "track-1",
		RedirectURL:     "https://pay.example/track-1",
	}}
	svc := newTestSubscriptionService(store, orders, gw, &recordingNotifier{})

	sub, redirectURL, err := svc.Create(context.Background(), 1, 10, models.TierPremium)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if redirectURL != "https://pay.example/track-1" {
		t.Errorf("redirect url mismatch: %q", redirectURL)
	}
	if len(gw.orders) != 1 {
		t.Fatalf("expected 1 gateway order, got %d", len(gw.orders))
	}
	if gw.orders[0].Reference != sub.Reference {
		t.Errorf("order id must be the subscription reference")
	}
	if gw.orders[0].Amount != 4500 {
		t.Errorf("amount mismatch: %v", gw.orders[0].Amount)
	}
	if store.refSets[sub.ID] != "track-1" {
		t.Errorf("tracking id not recorded against subscription")
	}
	if len(orders.created) != 1 || orders.created[0].Status != models.OrderStatusPending {
		t.Errorf("pending payment order not recorded: %+v", orders.created)
	}
}

func TestCreate_UnknownTierIsValidationError(t *testing.T) {
	svc := newTestSubscriptionService(newFakeSubscriptionStore(), &fakePaymentOrderStore{}, &fakeGateway{}, &recordingNotifier{})

	_, _, err := svc.Create(context.Background(), 1, 10, "platinum")
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCreate_DuplicateActiveSubscriptionRejected(t *testing.T) {
	store := newFakeSubscriptionStore()
	svc := newTestSubscriptionService(store, &fakePaymentOrderStore{}, &fakeGateway{}, &recordingNotifier{})

	if _, _, err := svc.Create(context.Background(), 1, 10, models.TierFree); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _, err := svc.Create(context.Background(), 1, 10, models.TierBasic)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation for duplicate active subscription, got %v", err)
	}
}

func TestCreate_GatewayFailureLeavesSubscriptionClean(t *testing.T) {
	store := newFakeSubscriptionStore()
	orders := &fakePaymentOrderStore{}
	gw := &fakeGateway{err: &PesapalError{StatusCode: 502, Status: "502 Bad Gateway"}}
	svc := newTestSubscriptionService(store, orders, gw, &recordingNotifier{})

	sub, redirectURL, err := svc.Create(context.Background(), 1, 10, models.TierBasic)
	if !errors.Is(err, models.ErrPaymentStart) {
		t.Fatalf("expected ErrPaymentStart, got %v", err)
	}
	if redirectURL != "" {
		t.Errorf("no redirect on failure")
	}
	// Subscription persisted and active, but without a payment reference.
	stored, getErr := store.GetByID(context.Background(), sub.ID)
	if getErr != nil {
		t.Fatalf("subscription should have been persisted: %v", getErr)
	}
	if stored.Status != models.SubscriptionActive {
		t.Errorf("status mismatch: %q", stored.Status)
	}
	if stored.PaymentReference != nil {
		t.Errorf("payment reference must not be set on failure")
	}
	if len(orders.created) != 0 {
		t.Errorf("no payment order row on failure")
	}
}

func TestRenew_AdvancesOneMonth(t *testing.T) {
	store := newFakeSubscriptionStore()
	svc := newTestSubscriptionService(store, &fakePaymentOrderStore{}, &fakeGateway{}, &recordingNotifier{})

	billing := time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)
	sub := &models.Subscription{UserID: 1, ProductID: 10, Status: models.SubscriptionActive, NextBillingDate: billing, Reference: "ref-r"}
	_ = store.Create(context.Background(), sub)

	renewed, err := svc.Renew(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !renewed.NextBillingDate.Equal(billing.AddDate(0, 1, 0)) {
		t.Errorf("next billing date mismatch: %v", renewed.NextBillingDate)
	}
	if renewed.Status != models.SubscriptionActive {
		t.Errorf("status mismatch: %q", renewed.Status)
	}
}

func TestChangeTier_PaidTierReturnsRedirect(t *testing.T) {
	store := newFakeSubscriptionStore()
	gw := &fakeGateway{resp: &models.SubmitOrderResponse{
		OrderTrackingID: "track-2",
		RedirectURL:     "https://pay.example/track-2",
	}}
	svc := newTestSubscriptionService(store, &fakePaymentOrderStore{}, gw, &recordingNotifier{})

	sub := &models.Subscription{UserID: 1, ProductID: 10, Tier: models.TierFree, Status: models.SubscriptionActive, Reference: "ref-c", Currency: "KES"}
	_ = store.Create(context.Background(), sub)

	changed, redirectURL, err := svc.ChangeTier(context.Background(), sub.ID, models.TierBasic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed.Tier != models.TierBasic || changed.Price != 1500 {
		t.Errorf("tier/price snapshot mismatch: %q %v", changed.Tier, changed.Price)
	}
	if redirectURL != "https://pay.example/track-2" {
		t.Errorf("redirect url mismatch: %q", redirectURL)
	}
}

func TestChangeTier_CancelledSubscriptionRejected(t *testing.T) {
	store := newFakeSubscriptionStore()
	svc := newTestSubscriptionService(store, &fakePaymentOrderStore{}, &fakeGateway{}, &recordingNotifier{})

	sub := &models.Subscription{UserID: 1, ProductID: 10, Status: models.SubscriptionCancelled, Reference: "ref-x"}
	_ = store.Create(context.Background(), sub)

	_, _, err := svc.ChangeTier(context.Background(), sub.ID, models.TierBasic)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCancel_IdempotentKeepsOriginalReason(t *testing.T) {
	store := newFakeSubscriptionStore()
	notifier := &recordingNotifier{}
	svc := newTestSubscriptionService(store, &fakePaymentOrderStore{}, &fakeGateway{}, notifier)

	firstNow := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return firstNow }

	sub := &models.Subscription{UserID: 1, ProductID: 10, Status: models.SubscriptionActive, Reference: "ref-k"}
	_ = store.Create(context.Background(), sub)

	cancelled, err := svc.Cancel(context.Background(), sub.ID, "too expensive")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != models.SubscriptionCancelled {
		t.Errorf("status mismatch: %q", cancelled.Status)
	}
	if cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(firstNow) {
		t.Errorf("cancelled_at not stamped: %v", cancelled.CancelledAt)
	}

	// A later re-cancel must not overwrite the original record.
	svc.Now = func() time.Time { return firstNow.Add(48 * time.Hour) }
	again, err := svc.Cancel(context.Background(), sub.ID, "changed my mind")
	if err != nil {
		t.Fatalf("re-cancel must succeed: %v", err)
	}
	if !again.CancelledAt.Equal(firstNow) {
		t.Errorf("cancelled_at overwritten: %v", again.CancelledAt)
	}
	if again.CancelReason == nil || *again.CancelReason != "too expensive" {
		t.Errorf("original reason overwritten: %v", again.CancelReason)
	}
	if notifier.cancelled != 1 {
		t.Errorf("cancellation notice must go out once, got %d", notifier.cancelled)
	}
}

func TestApplyPaymentStatus_PaidUpsertsAndConfirms(t *testing.T) {
	store := newFakeSubscriptionStore()
	orders := &fakePaymentOrderStore{}
	svc := newTestSubscriptionService(store, orders, &fakeGateway{}, &recordingNotifier{})

	sub := &models.Subscription{UserID: 1, ProductID: 10, Status: models.SubscriptionActive, Reference: "ref-p"}
	_ = store.Create(context.Background(), sub)

	res := models.CallbackResult{
		OrderTrackingID:   "track-p",
		MerchantReference: "ref-p",
		Status:            models.OrderStatusPaid,
		Transaction: models.TransactionStatus{
			StatusCode:       1,
			Amount:           1500,
			Currency:         "KES",
			ConfirmationCode: "CONF123",
		},
	}
	if err := svc.ApplyPaymentStatus(context.Background(), res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Duplicate IPN delivery converges on the same state.
	if err := svc.ApplyPaymentStatus(context.Background(), res); err != nil {
		t.Fatalf("duplicate delivery must succeed: %v", err)
	}

	if len(orders.upserts) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(orders.upserts))
	}
	if orders.upserts[0] != orders.upserts[1] {
		t.Errorf("duplicate deliveries must write identical rows")
	}
	if store.refSets[sub.ID] != "track-p" {
		t.Errorf("payment reference not confirmed")
	}
}

func TestApplyPaymentStatus_FailedLeavesSubscriptionUntouched(t *testing.T) {
	store := newFakeSubscriptionStore()
	orders := &fakePaymentOrderStore{}
	svc := newTestSubscriptionService(store, orders, &fakeGateway{}, &recordingNotifier{})

	sub := &models.Subscription{UserID: 1, ProductID: 10, Status: models.SubscriptionActive, Reference: "ref-f"}
	_ = store.Create(context.Background(), sub)

	res := models.CallbackResult{
		OrderTrackingID:   "track-f",
		MerchantReference: "ref-f",
		Status:            models.OrderStatusFailed,
		Transaction:       models.TransactionStatus{StatusCode: 2},
	}
	if err := svc.ApplyPaymentStatus(context.Background(), res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.refSets[sub.ID]; ok {
		t.Errorf("failed payment must not attach a payment reference")
	}
	if len(orders.upserts) != 1 || orders.upserts[0].Status != models.OrderStatusFailed {
		t.Errorf("failed status not recorded: %+v", orders.upserts)
	}
}

func TestCheckAndSendReminders_ThresholdsAndSuppression(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	mk := func(id int, daysUntil int, remindedAgo time.Duration) models.Subscription {
		sub := models.Subscription{
			ID:              id,
			UserID:          1,
			ProductID:       10,
			Status:          models.SubscriptionActive,
			Reference:       "ref",
			NextBillingDate: now.Add(time.Duration(daysUntil) * 24 * time.Hour),
		}
		if remindedAgo > 0 {
			at := now.Add(-remindedAgo)
			sub.RenewalRemindedAt = &at
		}
		return sub
	}

	cases := []struct {
		name     string
		sub      models.Subscription
		wantSent int
		wantDays int
	}{
		{"3-day fresh", mk(1, 2, 0), 1, 3},
		{"3-day reminded 30m ago suppressed", mk(2, 2, 30*time.Minute), 0, 0},
		{"3-day reminded 2h ago resends", mk(3, 2, 2*time.Hour), 1, 3},
		{"7-day fresh", mk(4, 5, 0), 1, 7},
		{"7-day reminded 2d ago suppressed", mk(5, 5, 48*time.Hour), 0, 0},
		{"7-day reminded 5d ago resends", mk(6, 5, 120*time.Hour), 1, 7},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			store := newFakeSubscriptionStore()
			store.subs[c.sub.ID] = c.sub
			store.expiring = []models.Subscription{c.sub}
			notifier := &recordingNotifier{}
			svc := newTestSubscriptionService(store, &fakePaymentOrderStore{}, &fakeGateway{}, notifier)
			svc.Now = func() time.Time { return now }

			sent, err := svc.CheckAndSendReminders(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sent != c.wantSent {
				t.Fatalf("sent mismatch: got %d, want %d", sent, c.wantSent)
			}
			if c.wantSent == 1 {
				if len(notifier.reminders) != 1 || notifier.reminders[0] != c.wantDays {
					t.Errorf("reminder days mismatch: %v, want %d", notifier.reminders, c.wantDays)
				}
				if _, ok := store.reminded[c.sub.ID]; !ok {
					t.Errorf("renewal_reminded_at not stamped")
				}
			}
		})
	}
}

func TestCheckAndSendReminders_SkipsCancelled(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeSubscriptionStore()
	cancelled := models.Subscription{
		ID:              1,
		UserID:          1,
		Status:          models.SubscriptionCancelled,
		NextBillingDate: now.Add(48 * time.Hour),
	}
	store.subs[1] = cancelled
	store.expiring = []models.Subscription{cancelled}
	notifier := &recordingNotifier{}
	svc := newTestSubscriptionService(store, &fakePaymentOrderStore{}, &fakeGateway{}, notifier)
	svc.Now = func() time.Time { return now }

	sent, err := svc.CheckAndSendReminders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent != 0 || len(notifier.reminders) != 0 {
		t.Errorf("cancelled subscriptions must not be reminded")
	}
}

func TestReminderWindows_Configurable(t *testing.T) {
	svc := &SubscriptionService{}
	if svc.reminderRepeatShort() != defaultReminderRepeatShort {
		t.Errorf("short window default mismatch")
	}
	if svc.reminderRepeatLong() != defaultReminderRepeatLong {
		t.Errorf("long window default mismatch")
	}
	svc.ReminderRepeatShort = 10 * time.Minute
	svc.ReminderRepeatLong = 24 * time.Hour
	if svc.reminderRepeatShort() != 10*time.Minute || svc.reminderRepeatLong() != 24*time.Hour {
		t.Errorf("configured windows not honored")
	}
}
