package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sokoBack/internal/models"
)

// TransactionStatusGetter is the one gateway call the normalizer needs.
type TransactionStatusGetter interface {
	GetTransactionStatus(ctx context.Context, trackingID string) (*models.TransactionStatus, error)
}

// PaymentCallbackService turns raw IPN deliveries into the internal status
// vocabulary. The callback body itself is never trusted: the status is always
// re-derived from an authoritative gateway query, which also makes repeated
// deliveries of the same callback converge on the same result.
type PaymentCallbackService struct {
	Gateway TransactionStatusGetter
	Logger  *slog.Logger
}

func (s *PaymentCallbackService) ProcessCallback(ctx context.Context, cb models.IPNCallback) (*models.CallbackResult, error) {
	trackingID := strings.TrimSpace(cb.OrderTrackingID)
	if trackingID == "" {
		return nil, models.ErrMalformedCallback
	}
	logger := s.logger().With("op", "ProcessCallback", "tracking_id", trackingID)

	tx, err := s.Gateway.GetTransactionStatus(ctx, trackingID)
	if err != nil {
		return nil, fmt.Errorf("status query for %s: %w", trackingID, err)
	}

	status := models.OrderStatusFromCode(int(tx.StatusCode))

	merchantRef := strings.TrimSpace(tx.MerchantReference)
	if merchantRef == "" {
		merchantRef = strings.TrimSpace(cb.MerchantReference)
	}

	logger.Info("callback normalized",
		"status", status,
		"merchant_reference", merchantRef,
		"confirmation_code", tx.ConfirmationCode,
	)
	return &models.CallbackResult{
		OrderTrackingID:   trackingID,
		MerchantReference: merchantRef,
		Status:            status,
		Transaction:       *tx,
	}, nil
}

func (s *PaymentCallbackService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
