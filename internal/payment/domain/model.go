// Package domain defines the gateway-agnostic payment surface: the
// closed set of supported gateways, the canonical event every adapter
// parses into, and the webhook processing contract.
package domain

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

type Gateway string

const (
	GatewayMercadoPago Gateway = "mercadopago"
	GatewayPaddle      Gateway = "paddle"
)

func ParseGateway(value string) (Gateway, error) {
	switch Gateway(strings.ToLower(strings.TrimSpace(value))) {
	case GatewayMercadoPago:
		return GatewayMercadoPago, nil
	case GatewayPaddle:
		return GatewayPaddle, nil
	default:
		return "", ErrGatewayNotFound
	}
}

func (g Gateway) String() string { return string(g) }

const (
	EventTypePaymentSucceeded     = "payment.succeeded"
	EventTypePaymentFailed        = "payment.failed"
	EventTypeSubscriptionCreated  = "subscription.created"
	EventTypeSubscriptionUpdated  = "subscription.updated"
	EventTypeSubscriptionCanceled = "subscription.canceled"
)

// Canonical subscription statuses adapters normalize the gateway's own
// vocabulary into. They mirror the state machine's target states.
const (
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusCanceled = "canceled"
	StatusPastDue  = "past_due"
)

// PaymentEvent is the canonical event parsed by adapters. ExternalRef is
// the invoice reference embedded in the original checkout request.
// Metadata carries the checkout's custom data verbatim; the asynchronous
// signup path reads tenant_name/plan_tier/billing_cycle out of it.
type PaymentEvent struct {
	Gateway                Gateway
	ExternalEventID        string
	ExternalPaymentID      string
	ExternalSubscriptionID string
	ExternalRef            string
	Type                   string
	Status                 string
	PayerEmail             string
	Amount                 int64
	Currency               string
	OccurredAt             time.Time
	Metadata               map[string]string
	RawPayload             []byte
}

type CreateSubscriptionRequest struct {
	PlanName    string
	Amount      int64
	Currency    string
	Cycle       string
	PayerEmail  string
	ExternalRef string
	BackURL     string
}

type GatewaySubscription struct {
	ExternalID  string
	Status      string
	CheckoutURL string
}

type PaymentMethod struct {
	Kind     string
	Brand    string
	LastFour string
}

// Adapter is the per-gateway implementation. Verify and Parse serve the
// inbound webhook path; the remaining methods call out to the gateway's
// API.
type Adapter interface {
	Gateway() Gateway
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*GatewaySubscription, error)
	CancelSubscription(ctx context.Context, externalID string) error
	GetStatus(ctx context.Context, externalID string) (string, error)
	PaymentMethodInfo(ctx context.Context, externalID string) (*PaymentMethod, error)
}

// Ack is the body returned to the gateway. Gateways retry on non-2xx, so
// every handled-or-ignored outcome acks.
type Ack struct {
	Status    string `json:"status"`
	EventType string `json:"event_type,omitempty"`
}

const (
	AckApplied   = "applied"
	AckDuplicate = "duplicate"
	AckIgnored   = "ignored"
)

//go:generate mockgen -source=model.go -destination=./mocks/mock_service.go -package=mocks
type Processor interface {
	Handle(ctx context.Context, gateway string, payload []byte, headers http.Header) (Ack, error)
}

var (
	ErrGatewayNotFound  = errors.New("gateway_not_found")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrMissingSecret    = errors.New("webhook_secret_missing")
	ErrGatewayRequest   = errors.New("gateway_request_failed")
)
