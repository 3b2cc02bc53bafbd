// Package paddle implements the Paddle Billing gateway adapter.
// Signature verification follows the Paddle-Signature scheme:
// HMAC-SHA256 over "<ts>:<raw body>".
package paddle

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
	"strings"
	"time"

	paymentdomain "github.com/croftlabs/croft/internal/payment/domain"
)

const apiBaseURL = "https://api.paddle.com"

type Adapter struct {
	webhookSecret   string
	apiKey          string
	httpClient      *http.Client
	allowUnverified bool
}

type Option func(*Adapter)

func WithAllowUnverified() Option {
	return func(a *Adapter) { a.allowUnverified = true }
}

func New(webhookSecret, apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		webhookSecret: webhookSecret,
		apiKey:        apiKey,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Gateway() paymentdomain.Gateway { return paymentdomain.GatewayPaddle }

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.allowUnverified {
		return nil
	}

	sigHeader := strings.TrimSpace(headers.Get("Paddle-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	ts, signature, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte(":"))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event paddleEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if event.EventID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	occurredAt := time.Now().UTC()
	if event.OccurredAt != "" {
		if parsed, err := time.Parse(time.RFC3339, event.OccurredAt); err == nil {
			occurredAt = parsed.UTC()
		}
	}

	base := paymentdomain.PaymentEvent{
		Gateway:         paymentdomain.GatewayPaddle,
		ExternalEventID: event.EventID,
		OccurredAt:      occurredAt,
		Metadata:        event.Data.CustomData,
		RawPayload:      payload,
	}

	switch event.EventType {
	case "transaction.completed":
		base.Type = paymentdomain.EventTypePaymentSucceeded
		base.ExternalPaymentID = event.Data.ID
		base.ExternalSubscriptionID = event.Data.SubscriptionID
		base.ExternalRef = event.Data.InvoiceNumber
		base.Amount = event.Data.Details.Totals.GrandTotal
		base.Currency = strings.ToUpper(event.Data.CurrencyCode)
		return &base, nil
	case "transaction.payment_failed":
		base.Type = paymentdomain.EventTypePaymentFailed
		base.ExternalPaymentID = event.Data.ID
		base.ExternalSubscriptionID = event.Data.SubscriptionID
		base.ExternalRef = event.Data.InvoiceNumber
		return &base, nil
	case "subscription.created", "subscription.activated":
		base.Type = paymentdomain.EventTypeSubscriptionCreated
		base.ExternalSubscriptionID = event.Data.ID
		base.Status = mapStatus(event.Data.Status)
		return &base, nil
	case "subscription.updated", "subscription.paused", "subscription.resumed", "subscription.past_due":
		base.Type = paymentdomain.EventTypeSubscriptionUpdated
		base.ExternalSubscriptionID = event.Data.ID
		base.Status = mapStatus(event.Data.Status)
		return &base, nil
	case "subscription.canceled":
		base.Type = paymentdomain.EventTypeSubscriptionCanceled
		base.ExternalSubscriptionID = event.Data.ID
		base.Status = paymentdomain.StatusCanceled
		return &base, nil
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

func mapStatus(status string) string {
	switch status {
	case "active", "trialing":
		return paymentdomain.StatusActive
	case "paused":
		return paymentdomain.StatusPaused
	case "canceled":
		return paymentdomain.StatusCanceled
	case "past_due":
		return paymentdomain.StatusPastDue
	default:
		return ""
	}
}

func (a *Adapter) CreateSubscription(ctx context.Context, req paymentdomain.CreateSubscriptionRequest) (*paymentdomain.GatewaySubscription, error) {
	interval := "month"
	if req.Cycle == "yearly" {
		interval = "year"
	}

	body := map[string]any{
		"items": []map[string]any{{
			"quantity": 1,
			"price": map[string]any{
				"description": req.PlanName,
				"unit_price": map[string]any{
					"amount":        fmt.Sprintf("%d", req.Amount),
					"currency_code": req.Currency,
				},
				"billing_cycle": map[string]any{
					"interval":  interval,
					"frequency": 1,
				},
			},
		}},
		"custom_data": map[string]any{"external_ref": req.ExternalRef},
	}

	var out struct {
		Data struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			Checkout struct {
				URL string `json:"url"`
			} `json:"checkout"`
		} `json:"data"`
	}
	if err := a.call(ctx, http.MethodPost, "/transactions", body, &out); err != nil {
		return nil, err
	}
	return &paymentdomain.GatewaySubscription{
		ExternalID:  out.Data.ID,
		Status:      mapStatus(out.Data.Status),
		CheckoutURL: out.Data.Checkout.URL,
	}, nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, externalID string) error {
	body := map[string]any{"effective_from": "next_billing_period"}
	return a.call(ctx, http.MethodPost, "/subscriptions/"+externalID+"/cancel", body, nil)
}

func (a *Adapter) GetStatus(ctx context.Context, externalID string) (string, error) {
	var out struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := a.call(ctx, http.MethodGet, "/subscriptions/"+externalID, nil, &out); err != nil {
		return "", err
	}
	return mapStatus(out.Data.Status), nil
}

func (a *Adapter) PaymentMethodInfo(ctx context.Context, externalID string) (*paymentdomain.PaymentMethod, error) {
	var out struct {
		Data struct {
			PaymentInformation struct {
				Type string `json:"type"`
				Card struct {
					Type  string `json:"type"`
					Last4 string `json:"last4"`
				} `json:"card"`
			} `json:"payment_information"`
		} `json:"data"`
	}
	if err := a.call(ctx, http.MethodGet, "/subscriptions/"+externalID, nil, &out); err != nil {
		return nil, err
	}
	return &paymentdomain.PaymentMethod{
		Kind:     out.Data.PaymentInformation.Type,
		Brand:    out.Data.PaymentInformation.Card.Type,
		LastFour: out.Data.PaymentInformation.Card.Last4,
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
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: paddle responded %d", paymentdomain.ErrGatewayRequest, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type paddleEvent struct {
	EventID    string     `json:"event_id"`
	EventType  string     `json:"event_type"`
	OccurredAt string     `json:"occurred_at"`
	Data       paddleData `json:"data"`
}

type paddleData struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	SubscriptionID string            `json:"subscription_id"`
	InvoiceNumber  string            `json:"invoice_number"`
	CurrencyCode   string            `json:"currency_code"`
	CustomData     map[string]string `json:"custom_data"`
	Details        struct {
		Totals struct {
			GrandTotal int64 `json:"grand_total,string"`
		} `json:"totals"`
	} `json:"details"`
}

func parseSignatureHeader(header string) (string, string, error) {
	var ts, h1 string
	for _, part := range strings.Split(header, ";") {
		keyValue := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		switch strings.TrimSpace(keyValue[0]) {
		case "ts":
			ts = strings.TrimSpace(keyValue[1])
		case "h1":
			h1 = strings.TrimSpace(keyValue[1])
		}
	}
	if ts == "" || h1 == "" {
		return "", "", paymentdomain.ErrInvalidSignature
	}
	return ts, h1, nil
}
