// Package payment builds hosted checkout sessions and verifies provider webhooks.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// EventCheckoutCompleted is the only event type that triggers fulfillment.
const EventCheckoutCompleted = "checkout.session.completed"

// LineItem is one priced row on the hosted checkout page.
type LineItem struct {
	Name       string
	UnitAmount int64 // minor units
	Quantity   int64
}

// SessionRequest describes a checkout session to create.
type SessionRequest struct {
	LineItems     []LineItem
	Currency      string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	Metadata      CheckoutMetadata
}

// Session is a created checkout session.
type Session struct {
	ID  string
	URL string
}

// CompletedSession is the payload of a checkout.session.completed event.
type CompletedSession struct {
	ID          string
	AmountTotal int64
	Currency    string
	Metadata    map[string]string
}

// Event is a verified webhook event. Session is set only for completed checkouts.
type Event struct {
	ID      string
	Type    string
	Session *CompletedSession
}

// Provider creates checkout sessions and authenticates webhook payloads.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error)
	// ParseWebhook verifies signature against the raw payload and decodes the event.
	ParseWebhook(payload []byte, signature string) (Event, error)
}

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount to cents, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts cents to a major-unit amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
