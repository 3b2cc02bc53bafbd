// Package mercadopago implements the Mercado Pago gateway adapter.
// Signature verification follows the x-signature manifest scheme:
// HMAC-SHA256 over "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
package mercadopago

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/croftlabs/croft/internal/payment/domain"
)

const apiBaseURL = "https://api.mercadopago.com"

type Adapter struct {
	webhookSecret string
	accessToken   string
	httpClient    *http.Client
	// AllowUnverified skips signature checks. Set only outside
	// production when no secret is configured.
	allowUnverified bool
}

type Option func(*Adapter)

func WithAllowUnverified() Option {
	return func(a *Adapter) { a.allowUnverified = true }
}

func New(webhookSecret, accessToken string, opts ...Option) *Adapter {
	a := &Adapter{
		webhookSecret: webhookSecret,
		accessToken:   accessToken,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Gateway() paymentdomain.Gateway { return paymentdomain.GatewayMercadoPago }

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.allowUnverified {
		return nil
	}

	sigHeader := strings.TrimSpace(headers.Get("x-signature"))
	requestID := strings.TrimSpace(headers.Get("x-request-id"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	ts, signature, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	var notification mpNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return paymentdomain.ErrInvalidPayload
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", notification.Data.ID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var notification mpNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if notification.Data.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	occurredAt := time.Now().UTC()
	if notification.DateCreated != "" {
		if parsed, err := time.Parse(time.RFC3339, notification.DateCreated); err == nil {
			occurredAt = parsed.UTC()
		}
	}

	switch notification.Type {
	case "payment":
		return a.parsePayment(notification, payload, occurredAt)
	case "subscription_preapproval":
		return a.parsePreapproval(notification, payload, occurredAt)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

func (a *Adapter) parsePayment(n mpNotification, payload []byte, occurredAt time.Time) (*paymentdomain.PaymentEvent, error) {
	eventType := ""
	switch n.Data.Status {
	case "approved", "accredited":
		eventType = paymentdomain.EventTypePaymentSucceeded
	case "rejected", "cancelled":
		eventType = paymentdomain.EventTypePaymentFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	return &paymentdomain.PaymentEvent{
		Gateway:                paymentdomain.GatewayMercadoPago,
		ExternalEventID:        eventID(n),
		ExternalPaymentID:      n.Data.ID,
		ExternalSubscriptionID: n.Data.PreapprovalID,
		ExternalRef:            n.Data.ExternalReference,
		Type:                   eventType,
		PayerEmail:             strings.ToLower(strings.TrimSpace(n.Data.PayerEmail)),
		Amount:                 centavos(n.Data.TransactionAmount),
		Currency:               strings.ToUpper(strings.TrimSpace(n.Data.CurrencyID)),
		OccurredAt:             occurredAt,
		Metadata:               n.Data.Metadata,
		RawPayload:             payload,
	}, nil
}

func (a *Adapter) parsePreapproval(n mpNotification, payload []byte, occurredAt time.Time) (*paymentdomain.PaymentEvent, error) {
	eventType := paymentdomain.EventTypeSubscriptionUpdated
	switch n.Action {
	case "created":
		eventType = paymentdomain.EventTypeSubscriptionCreated
	case "updated":
		eventType = paymentdomain.EventTypeSubscriptionUpdated
	}
	if n.Data.Status == "cancelled" {
		eventType = paymentdomain.EventTypeSubscriptionCanceled
	}

	return &paymentdomain.PaymentEvent{
		Gateway:                paymentdomain.GatewayMercadoPago,
		ExternalEventID:        eventID(n),
		ExternalSubscriptionID: n.Data.ID,
		ExternalRef:            n.Data.ExternalReference,
		Type:                   eventType,
		Status:                 mapStatus(n.Data.Status),
		PayerEmail:             strings.ToLower(strings.TrimSpace(n.Data.PayerEmail)),
		OccurredAt:             occurredAt,
		Metadata:               n.Data.Metadata,
		RawPayload:             payload,
	}, nil
}

// mapStatus folds the preapproval vocabulary onto the state machine's
// target states.
func mapStatus(status string) string {
	switch status {
	case "authorized", "approved":
		return paymentdomain.StatusActive
	case "paused":
		return paymentdomain.StatusPaused
	case "cancelled":
		return paymentdomain.StatusCanceled
	case "pending":
		return paymentdomain.StatusPastDue
	default:
		return ""
	}
}

func (a *Adapter) CreateSubscription(ctx context.Context, req paymentdomain.CreateSubscriptionRequest) (*paymentdomain.GatewaySubscription, error) {
	frequencyType := "months"
	frequency := 1
	if req.Cycle == "yearly" {
		frequency = 12
	}

	body := map[string]any{
		"reason":             req.PlanName,
		"external_reference": req.ExternalRef,
		"payer_email":        req.PayerEmail,
		"back_url":           req.BackURL,
		"auto_recurring": map[string]any{
			"frequency":          frequency,
			"frequency_type":     frequencyType,
			"transaction_amount": float64(req.Amount) / 100,
			"currency_id":        req.Currency,
		},
	}

	var out struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		InitPoint string `json:"init_point"`
	}
	if err := a.call(ctx, http.MethodPost, "/preapproval", body, &out); err != nil {
		return nil, err
	}
	return &paymentdomain.GatewaySubscription{
		ExternalID:  out.ID,
		Status:      mapStatus(out.Status),
		CheckoutURL: out.InitPoint,
	}, nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, externalID string) error {
	body := map[string]any{"status": "cancelled"}
	return a.call(ctx, http.MethodPut, "/preapproval/"+externalID, body, nil)
}

func (a *Adapter) GetStatus(ctx context.Context, externalID string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := a.call(ctx, http.MethodGet, "/preapproval/"+externalID, nil, &out); err != nil {
		return "", err
	}
	return mapStatus(out.Status), nil
}

func (a *Adapter) PaymentMethodInfo(ctx context.Context, externalID string) (*paymentdomain.PaymentMethod, error) {
	var out struct {
		PaymentMethodID string `json:"payment_method_id"`
		Card            struct {
			LastFourDigits string `json:"last_four_digits"`
		} `json:"card"`
	}
	if err := a.call(ctx, http.MethodGet, "/preapproval/"+externalID, nil, &out); err != nil {
		return nil, err
	}
	return &paymentdomain.PaymentMethod{
		Kind:     "card",
		Brand:    out.PaymentMethodID,
		LastFour: out.Card.LastFourDigits,
	}, nil
}

func (a *Adapter) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiBaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: mercadopago responded %d", paymentdomain.ErrGatewayRequest, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type mpNotification struct {
	ID          int64  `json:"id"`
	Action      string `json:"action"`
	Type        string `json:"type"`
	DateCreated string `json:"date_created"`
	Data        mpData `json:"data"`
}

type mpData struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	ExternalReference string            `json:"external_reference"`
	PreapprovalID     string            `json:"preapproval_id"`
	TransactionAmount float64           `json:"transaction_amount"`
	CurrencyID        string            `json:"currency_id"`
	PayerEmail        string            `json:"payer_email"`
	Metadata          map[string]string `json:"metadata"`
}

func parseSignatureHeader(header string) (string, string, error) {
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		keyValue := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		switch strings.TrimSpace(keyValue[0]) {
		case "ts":
			ts = strings.TrimSpace(keyValue[1])
		case "v1":
			v1 = strings.TrimSpace(keyValue[1])
		}
	}
	if ts == "" || v1 == "" {
		return "", "", paymentdomain.ErrInvalidSignature
	}
	return ts, v1, nil
}

func eventID(n mpNotification) string {
	if n.ID != 0 {
		return "mp_" + strconv.FormatInt(n.ID, 10)
	}
	return ""
}

func centavos(amount float64) int64 {
	return int64(amount*100 + 0.5)
}
