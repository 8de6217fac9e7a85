package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"sokoBack/internal/models"
)

const (
	pesapalSandboxBaseURL = "https://cybqa.pesapal.com/pesapalv3"
	pesapalLiveBaseURL    = "https://pay.pesapal.com/v3"

	tokenExpiryMargin = 5 * time.Minute
	tokenDefaultTTL   = 50 * time.Minute
	tokenMinTTL       = 1 * time.Minute
)

type PesapalConfig struct {
	ConsumerKey    string
	ConsumerSecret string

	// Sandbox selects the cybqa base URL; BaseURL overrides both when set.
	Sandbox bool
	BaseURL string

	Currency string // default "KES"

	// Where the browser lands after payment (front)
	CallbackURL string
	// Pre-registered IPN id (webhook)
	NotificationID string

	// Legacy sandbox escape hatch; verification stays on unless explicitly
	// disabled.
	InsecureSkipVerify bool

	Cache  TokenCache
	Client *http.Client
	Logger *slog.Logger
}

type PesapalService struct {
	consumerKey    string
	consumerSecret string
	baseURL        *url.URL

	currency       string
	callbackURL    string
	notificationID string

	httpClient *http.Client
	logger     *slog.Logger
	cache      TokenCache

	expiryMargin time.Duration
	defaultTTL   time.Duration
	minTTL       time.Duration

	now func() time.Time
}

func NewPesapalService(cfg PesapalConfig) (*PesapalService, error) {
	if strings.TrimSpace(cfg.ConsumerKey) == "" ||
		strings.TrimSpace(cfg.ConsumerSecret) == "" {
		return nil, fmt.Errorf("pesapal: consumer_key/consumer_secret are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := cfg.BaseURL
	if base == "" {
		if cfg.Sandbox {
			base = pesapalSandboxBaseURL
		} else {
			base = pesapalLiveBaseURL
		}
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
		if cfg.InsecureSkipVerify {
			logger.Warn("pesapal: TLS certificate verification disabled")
			client.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			}
		}
	}

	cache := cfg.Cache
	if cache == nil {
		cache = NewMemoryTokenCache()
	}

	currency := cfg.Currency
	if currency == "" {
		currency = "KES"
	}

	s := &PesapalService{
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		baseURL:        u,
		currency:       currency,
		callbackURL:    cfg.CallbackURL,
		notificationID: cfg.NotificationID,
		httpClient:     client,
		logger:         logger,
		cache:          cache,
		expiryMargin:   tokenExpiryMargin,
		defaultTTL:     tokenDefaultTTL,
		minTTL:         tokenMinTTL,
		now:            time.Now,
	}
	logger.Info("Pesapal initialized",
		"baseURL", safeURL(s.baseURL),
		"sandbox", cfg.Sandbox,
		"callbackURL_set", s.callbackURL != "",
		"notificationID_set", s.notificationID != "",
	)
	return s, nil
}

// ------- AUTH (bearer token) -------

type authTokenRequest struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

type authTokenResponse struct {
	Token      string               `json:"token"`
	ExpiryDate string               `json:"expiryDate"`
	Status     string               `json:"status"`
	Error      *models.GatewayFault `json:"error"`
}

// Token returns a live bearer token, hitting the auth endpoint only on a
// cache miss. Failures are never cached, so the next call retries.
func (s *PesapalService) Token(ctx context.Context) (string, error) {
	logger := s.logger.With("op", "Token")

	tok, ok, err := s.cache.Get(ctx)
	if err != nil {
		logger.Warn("token cache read failed", "err", err)
	} else if ok {
		logger.Debug("token cache hit")
		return tok, nil
	}

	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/api/Auth/RequestToken")
	body, _ := json.Marshal(authTokenRequest{
		ConsumerKey:    s.consumerKey,
		ConsumerSecret: s.consumerSecret,
	})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	logger.Debug("requesting access token")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", models.ErrAuthFailure, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Error("token request rejected", "status", resp.Status, "body", trim(string(b), 500))
		return "", fmt.Errorf("%w: %s %s", models.ErrAuthFailure, resp.Status, strings.TrimSpace(string(b)))
	}
	var out authTokenResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", models.ErrAuthFailure, err)
	}
	if !out.Error.Empty() {
		return "", fmt.Errorf("%w: %s", models.ErrAuthFailure, out.Error.Message)
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", fmt.Errorf("%w: empty token in response", models.ErrAuthFailure)
	}

	ttl := s.tokenTTL(out.ExpiryDate)
	if err := s.cache.Set(ctx, out.Token, ttl); err != nil {
		logger.Warn("token cache write failed", "err", err)
	}
	logger.Info("access token acquired", "ttl", ttl)
	return out.Token, nil
}

// tokenTTL derives how long a token may be cached: provider expiry minus a
// safety margin, floored, or a fixed default when the field is missing.
func (s *PesapalService) tokenTTL(expiry string) time.Duration {
	expiry = strings.TrimSpace(expiry)
	if expiry == "" {
		return s.defaultTTL
	}
	exp, err := parseGatewayTime(expiry)
	if err != nil {
		return s.defaultTTL
	}
	ttl := exp.Sub(s.now()) - s.expiryMargin
	if ttl < s.minTTL {
		return s.minTTL
	}
	return ttl
}

// parseGatewayTime handles the gateway's timestamp spellings, with and
// without zone suffix.
func parseGatewayTime(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.9999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}

// ------- ORDER SUBMISSION -------

type submitOrderRequest struct {
	ID             string          `json:"id"`
	Currency       string          `json:"currency"`
	Amount         float64         `json:"amount"`
	Description    string          `json:"description"`
	CallbackURL    string          `json:"callback_url"`
	NotificationID string          `json:"notification_id"`
	BillingAddress *billingAddress `json:"billing_address,omitempty"`
}

type billingAddress struct {
	EmailAddress string `json:"email_address,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
}

// SubmitOrder registers a payment attempt and returns the tracking id plus
// the browser redirect URL. A 2xx body missing either field is a protocol
// error, not a success.
func (s *PesapalService) SubmitOrder(ctx context.Context, order models.PaymentOrder) (*models.SubmitOrderResponse, error) {
	logger := s.logger.With("op", "SubmitOrder", "reference", order.Reference)

	token, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}

	currency := order.Currency
	if currency == "" {
		currency = s.currency
	}
	callbackURL := order.CallbackURL
	if callbackURL == "" {
		callbackURL = s.callbackURL
	}
	notificationID := order.NotificationID
	if notificationID == "" {
		notificationID = s.notificationID
	}

	reqBody := submitOrderRequest{
		ID:             order.Reference,
		Currency:       currency,
		Amount:         order.Amount,
		Description:    order.Description,
		CallbackURL:    callbackURL,
		NotificationID: notificationID,
	}
	if order.Email != "" || order.Phone != "" || order.FullName != "" {
		first, last := splitFullName(order.FullName)
		reqBody.BillingAddress = &billingAddress{
			EmailAddress: order.Email,
			PhoneNumber:  order.Phone,
			FirstName:    first,
			LastName:     last,
		}
	}
	body, _ := json.Marshal(reqBody)

	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/api/Transactions/SubmitOrderRequest")

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit order request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	logger.Debug("submit order raw", "status", resp.Status, "body", trim(string(b), 2000))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &PesapalError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}

	var out models.SubmitOrderResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: decode submit order: %v", models.ErrInvalidResponse, err)
	}
	if !out.Error.Empty() {
		return nil, fmt.Errorf("%w: %s %s", models.ErrInvalidResponse, out.Error.Code, out.Error.Message)
	}
	if strings.TrimSpace(out.OrderTrackingID) == "" || strings.TrimSpace(out.RedirectURL) == "" {
		return nil, fmt.Errorf("%w: missing order_tracking_id or redirect_url", models.ErrInvalidResponse)
	}
	if out.MerchantReference == "" {
		out.MerchantReference = order.Reference
	}
	logger.Info("order submitted", "tracking_id", out.OrderTrackingID)
	return &out, nil
}

// ------- TRANSACTION STATUS -------

// GetTransactionStatus fetches the authoritative outcome for a tracking id.
func (s *PesapalService) GetTransactionStatus(ctx context.Context, trackingID string) (*models.TransactionStatus, error) {
	logger := s.logger.With("op", "GetTransactionStatus", "tracking_id", trackingID)

	token, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/api/Transactions/GetTransactionStatus")
	q := endpoint.Query()
	q.Set("orderTrackingId", trackingID)
	endpoint.RawQuery = q.Encode()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transaction status request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Error("status unavailable", "status", resp.Status, "body", trim(string(b), 500))
		return nil, &PesapalError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}

	var out models.TransactionStatus
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: decode transaction status: %v", models.ErrInvalidResponse, err)
	}
	if !out.Error.Empty() {
		return nil, fmt.Errorf("%w: %s %s", models.ErrInvalidResponse, out.Error.Code, out.Error.Message)
	}
	return &out, nil
}

// ------- IPN REGISTRATION -------

type registerIPNRequest struct {
	URL                 string `json:"url"`
	IPNNotificationType string `json:"ipn_notification_type"`
}

// RegisterIPN is a one-time administrative call that registers the webhook
// URL and yields the notification id used on every subsequent order.
func (s *PesapalService) RegisterIPN(ctx context.Context, ipnURL, notificationType string) (*models.RegisterIPNResponse, error) {
	logger := s.logger.With("op", "RegisterIPN")

	token, err := s.Token(ctx)
	if err != nil {
		return nil, err
	}
	if notificationType == "" {
		notificationType = "POST"
	}

	endpoint := *s.baseURL
	endpoint.Path = path.Join(endpoint.Path, "/api/URLSetup/RegisterIPN")
	body, _ := json.Marshal(registerIPNRequest{URL: ipnURL, IPNNotificationType: notificationType})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("register ipn request: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	logger.Debug("register ipn raw", "status", resp.Status, "body", trim(string(b), 2000))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &PesapalError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}

	var out models.RegisterIPNResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: decode register ipn: %v", models.ErrInvalidResponse, err)
	}
	// Success/failure lives in the payload here, not the status code.
	if !out.Error.Empty() {
		return nil, fmt.Errorf("%w: %s %s", models.ErrInvalidResponse, out.Error.Code, out.Error.Message)
	}
	if strings.TrimSpace(out.IPNID) == "" {
		return nil, fmt.Errorf("%w: empty ipn_id", models.ErrInvalidResponse)
	}
	logger.Info("ipn registered", "ipn_id", out.IPNID, "url", out.URL)
	return &out, nil
}

// ---------- helpers ----------

func splitFullName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func trim(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

func safeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	return c.String()
}

type PesapalError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *PesapalError) Error() string {
	if e == nil {
		return "<nil>"
	}
	bt := strings.TrimSpace(e.Body)
	if bt == "" {
		return fmt.Sprintf("pesapal error: %s", e.Status)
	}
	return fmt.Sprintf("pesapal error: %s: %s", e.Status, bt)
}
