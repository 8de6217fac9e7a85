package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// OrderStatus is the internal closed vocabulary for payment outcomes.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatusFromCode maps a Pesapal numeric status code onto the internal
// vocabulary. The mapping is total: anything outside 1..3 is pending, the
// safe default when the gateway omits or mangles the field.
func OrderStatusFromCode(code int) OrderStatus {
	switch code {
	case 1:
		return OrderStatusPaid
	case 2:
		return OrderStatusFailed
	case 3:
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}

// StatusCode tolerates the gateway sending the code as a number, a quoted
// number, an empty string or null. Unusable values coerce to 0 (pending).
type StatusCode int

func (c *StatusCode) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			*c = 0
			return nil
		}
		str = strings.TrimSpace(str)
		if str == "" {
			*c = 0
			return nil
		}
		n, err := strconv.Atoi(str)
		if err != nil {
			*c = 0
			return nil
		}
		*c = StatusCode(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		*c = 0
		return nil
	}
	*c = StatusCode(n)
	return nil
}

// GatewayFault is the payload-embedded error object Pesapal returns inside
// otherwise successful responses. The gateway signals logical failures here,
// not through HTTP status codes.
type GatewayFault struct {
	Type    string `json:"error_type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f *GatewayFault) Empty() bool {
	if f == nil {
		return true
	}
	return strings.TrimSpace(f.Type) == "" &&
		strings.TrimSpace(f.Code) == "" &&
		strings.TrimSpace(f.Message) == ""
}

// PaymentOrder describes a single payment attempt handed to the gateway.
// Immutable once submitted; the provider-assigned tracking id is recorded
// separately after submission.
type PaymentOrder struct {
	Reference      string  `json:"reference"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Description    string  `json:"description"`
	CallbackURL    string  `json:"callback_url"`
	NotificationID string  `json:"notification_id"`
	Email          string  `json:"email,omitempty"`
	Phone          string  `json:"phone,omitempty"`
	FullName       string  `json:"full_name,omitempty"`
}

type SubmitOrderResponse struct {
	OrderTrackingID   string        `json:"order_tracking_id"`
	MerchantReference string        `json:"merchant_reference"`
	RedirectURL       string        `json:"redirect_url"`
	Status            string        `json:"status"`
	Error             *GatewayFault `json:"error,omitempty"`
}

// TransactionStatus is the gateway-reported outcome for a tracking id.
// Fetched on demand, translated, never persisted as-is.
type TransactionStatus struct {
	PaymentMethod     string        `json:"payment_method"`
	Amount            float64       `json:"amount"`
	CreatedDate       string        `json:"created_date"`
	ConfirmationCode  string        `json:"confirmation_code"`
	StatusCode        StatusCode    `json:"status_code"`
	Description       string        `json:"payment_status_description"`
	Message           string        `json:"message"`
	PaymentAccount    string        `json:"payment_account"`
	Currency          string        `json:"currency"`
	MerchantReference string        `json:"merchant_reference"`
	Error             *GatewayFault `json:"error,omitempty"`
}

type RegisterIPNResponse struct {
	URL              string        `json:"url"`
	CreatedDate      string        `json:"created_date"`
	IPNID            string        `json:"ipn_id"`
	NotificationType string        `json:"ipn_notification_type_description"`
	Status           string        `json:"status"`
	Error            *GatewayFault `json:"error,omitempty"`
}

// IPNCallback is the inbound webhook contract: only the tracking id matters
// for trust purposes, everything else is advisory.
type IPNCallback struct {
	OrderTrackingID   string `json:"OrderTrackingId"`
	MerchantReference string `json:"OrderMerchantReference"`
	NotificationType  string `json:"OrderNotificationType"`
}

// CallbackResult is the normalized outcome of an IPN delivery: the internal
// status plus the full authoritative transaction for audit.
type CallbackResult struct {
	OrderTrackingID   string            `json:"order_tracking_id"`
	MerchantReference string            `json:"merchant_reference"`
	Status            OrderStatus       `json:"status"`
	Transaction       TransactionStatus `json:"transaction"`
}

// PaymentOrderRecord is the persisted trace of a payment attempt.
type PaymentOrderRecord struct {
	ID               int         `json:"id"`
	SubscriptionID   int         `json:"subscription_id"`
	Reference        string      `json:"reference"`
	TrackingID       string      `json:"tracking_id"`
	Amount           float64     `json:"amount"`
	Currency         string      `json:"currency"`
	Status           OrderStatus `json:"status"`
	ConfirmationCode string      `json:"confirmation_code,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        *time.Time  `json:"updated_at,omitempty"`
}
