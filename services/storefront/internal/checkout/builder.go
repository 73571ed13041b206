// Package checkout turns cart contents into a hosted payment session.
package checkout

import (
	"context"
	"fmt"
	"strings"

	"paperwise/internal/util"
	"paperwise/pkg/domain"
	"paperwise/pkg/payment"
	"paperwise/pkg/store"
)

// Item is one requested line. Name and Price from the client are ignored;
// the catalog is authoritative.
type Item struct {
	DocumentID string
	Quantity   int
}

// Config wires the builder.
type Config struct {
	Catalog   store.CatalogStore
	Payments  payment.Provider
	Currency  string
	PublicURL string
}

// Builder creates checkout sessions. It persists nothing; purchases are
// recorded only when the provider confirms payment.
type Builder struct {
	catalog    store.CatalogStore
	payments   payment.Provider
	currency   string
	successURL string
	cancelURL  string
}

func NewBuilder(cfg Config) *Builder {
	base := strings.TrimRight(cfg.PublicURL, "/")
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Builder{
		catalog:    cfg.Catalog,
		payments:   cfg.Payments,
		currency:   currency,
		successURL: base + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:  base + "/cart",
	}
}

// ForCart builds a multi-document session for every line in items.
// Repeated document ids are folded into one line.
func (b *Builder) ForCart(ctx context.Context, user domain.User, items []Item) (payment.Session, error) {
	if len(items) == 0 {
		return payment.Session{}, domain.Validation("cart is empty")
	}
	order := make([]string, 0, len(items))
	qty := make(map[string]int, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.DocumentID)
		if id == "" {
			return payment.Session{}, domain.Validation("every item needs a document id")
		}
		if item.Quantity <= 0 {
			return payment.Session{}, domain.Validation("quantity for %s must be positive", id)
		}
		if _, seen := qty[id]; !seen {
			order = append(order, id)
		}
		qty[id] += item.Quantity
	}
	lines := make([]payment.LineItem, 0, len(order))
	for _, id := range order {
		doc, err := b.document(ctx, id)
		if err != nil {
			if domain.KindOf(err) == domain.KindNotFound {
				return payment.Session{}, domain.Validation("document %s is not available", id)
			}
			return payment.Session{}, err
		}
		lines = append(lines, payment.LineItem{
			Name:       doc.Name,
			UnitAmount: payment.ToMinorUnits(doc.Price),
			Quantity:   int64(qty[id]),
		})
	}
	return b.create(ctx, user, lines, payment.MultiDocument{DocumentIDs: order})
}

// ForDocument builds a single-document session.
func (b *Builder) ForDocument(ctx context.Context, user domain.User, documentID string) (payment.Session, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return payment.Session{}, domain.Validation("documentId is required")
	}
	doc, err := b.document(ctx, documentID)
	if err != nil {
		return payment.Session{}, err
	}
	line := payment.LineItem{Name: doc.Name, UnitAmount: payment.ToMinorUnits(doc.Price), Quantity: 1}
	return b.create(ctx, user, []payment.LineItem{line}, payment.SingleDocument{DocumentID: doc.ID})
}

func (b *Builder) create(ctx context.Context, user domain.User, lines []payment.LineItem, target payment.Target) (payment.Session, error) {
	session, err := b.payments.CreateCheckoutSession(ctx, payment.SessionRequest{
		LineItems:     lines,
		Currency:      b.currency,
		SuccessURL:    b.successURL,
		CancelURL:     b.cancelURL,
		CustomerEmail: user.Email,
		Metadata:      payment.CheckoutMetadata{UserID: user.ID, Target: target},
	})
	if err != nil {
		util.LoggerFromContext(ctx).Error("create checkout session failed", "user_id", user.ID, "err", err)
		return payment.Session{}, domain.Upstream("error creating checkout session", err)
	}
	if session.URL == "" {
		return payment.Session{}, domain.Upstream("error creating checkout session", fmt.Errorf("session %s has no url", session.ID))
	}
	util.LoggerFromContext(ctx).Info("checkout session created", "user_id", user.ID, "session_id", session.ID, "lines", len(lines))
	return session, nil
}

func (b *Builder) document(ctx context.Context, id string) (domain.Document, error) {
	doc, ok, err := b.catalog.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return domain.Document{}, domain.NotFound("document %s not found", id)
	}
	return doc, nil
}
