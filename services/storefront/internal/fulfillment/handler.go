// Package fulfillment turns confirmed payments into purchases and delivers
// download links.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"paperwise/internal/util"
	"paperwise/pkg/domain"
	"paperwise/pkg/mail"
	"paperwise/pkg/payment"
	"paperwise/pkg/store"
)

// ErrInvalidSignature marks webhook payloads that failed verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Store is the persistence fulfillment needs.
type Store interface {
	store.UserStore
	store.CatalogStore
	store.PurchaseStore
}

// Config wires the handler.
type Config struct {
	Store     Store
	Payments  payment.Provider
	Mailer    mail.Sender
	PublicURL string
	Now       func() time.Time
}

// Handler processes payment provider webhooks.
type Handler struct {
	store     Store
	payments  payment.Provider
	mailer    mail.Sender
	publicURL string
	now       func() time.Time
}

func NewHandler(cfg Config) *Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		store:     cfg.Store,
		payments:  cfg.Payments,
		mailer:    cfg.Mailer,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		now:       now,
	}
}

// Result reports what a webhook delivery did.
type Result struct {
	EventType string
	Ignored   bool
	SessionID string
	Purchases []domain.Purchase
	// Created counts new rows; replays of a fulfilled session create none.
	Created int
}

// HandleWebhook verifies payload and fulfills completed checkouts. Other event
// types are acknowledged and ignored.
func (h *Handler) HandleWebhook(ctx context.Context, payload []byte, signature string) (Result, error) {
	event, err := h.payments.ParseWebhook(payload, signature)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Type != payment.EventCheckoutCompleted || event.Session == nil {
		util.LoggerFromContext(ctx).Info("webhook event ignored", "event_id", event.ID, "type", event.Type)
		return Result{EventType: event.Type, Ignored: true}, nil
	}
	res, err := h.Fulfill(ctx, *event.Session)
	res.EventType = event.Type
	return res, err
}

// Fulfill records purchases for a completed session and emails download links.
func (h *Handler) Fulfill(ctx context.Context, cs payment.CompletedSession) (Result, error) {
	logger := util.LoggerFromContext(ctx).With("session_id", cs.ID)
	res := Result{SessionID: cs.ID}
	meta, err := payment.ParseMetadata(cs.Metadata)
	if err != nil {
		return res, err
	}
	user, err := h.user(ctx, meta.UserID)
	if err != nil {
		return res, err
	}
	logger = logger.With("user_id", user.ID)
	ctx = util.ContextWithLogger(ctx, logger)

	switch target := meta.Target.(type) {
	case payment.MultiDocument:
		err = h.fulfillMulti(ctx, cs, user, target, &res)
	case payment.SingleDocument:
		err = h.fulfillSingle(ctx, cs, user, target, &res)
	default:
		err = domain.Validation("no document information in session metadata")
	}
	if err != nil {
		return res, err
	}
	logger.Info("checkout fulfilled", "purchases", len(res.Purchases), "created", res.Created)
	return res, nil
}

func (h *Handler) user(ctx context.Context, id string) (domain.User, error) {
	if id == "" {
		return domain.User{}, domain.NotFound("session has no user")
	}
	user, ok, err := h.store.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, domain.NotFound("user %s not found", id)
	}
	return user, nil
}

// fulfillMulti charges each document at its catalog price. Unknown documents
// are skipped; an order with no valid document is an integrity failure.
func (h *Handler) fulfillMulti(ctx context.Context, cs payment.CompletedSession, user domain.User, target payment.MultiDocument, res *Result) error {
	logger := util.LoggerFromContext(ctx)
	docs := make([]domain.Document, 0, len(target.DocumentIDs))
	for _, id := range target.DocumentIDs {
		doc, ok, err := h.store.GetDocument(ctx, id)
		if err != nil {
			logger.Error("purchase document lookup failed", "document_id", id, "err", err)
			continue
		}
		if !ok {
			logger.Warn("purchased document not found", "document_id", id)
			continue
		}
		p, err := h.recordPurchase(ctx, cs.ID, user.ID, doc, doc.Price, res)
		if err != nil {
			logger.Error("create purchase failed", "document_id", id, "err", err)
			continue
		}
		res.Purchases = append(res.Purchases, p)
		docs = append(docs, doc)
	}
	if len(res.Purchases) == 0 {
		return domain.Integrity("no purchases created for session %s", cs.ID)
	}
	msg, err := h.multiMessage(user, docs, res.Purchases)
	if err != nil {
		return err
	}
	return h.send(ctx, msg)
}

// fulfillSingle charges the provider's authoritative total.
func (h *Handler) fulfillSingle(ctx context.Context, cs payment.CompletedSession, user domain.User, target payment.SingleDocument, res *Result) error {
	doc, ok, err := h.store.GetDocument(ctx, target.DocumentID)
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return domain.NotFound("document %s not found", target.DocumentID)
	}
	p, err := h.recordPurchase(ctx, cs.ID, user.ID, doc, payment.FromMinorUnits(cs.AmountTotal), res)
	if err != nil {
		return fmt.Errorf("create purchase: %w", err)
	}
	res.Purchases = append(res.Purchases, p)
	msg, err := h.singleMessage(user, doc, p)
	if err != nil {
		return err
	}
	return h.send(ctx, msg)
}

func (h *Handler) recordPurchase(ctx context.Context, sessionID, userID string, doc domain.Document, amount decimal.Decimal, res *Result) (domain.Purchase, error) {
	now := h.now().UTC()
	p, created, err := h.store.CreatePurchase(ctx, domain.Purchase{
		ID:              util.NewRecordID(),
		UserID:          userID,
		DocumentID:      doc.ID,
		StripeSessionID: sessionID,
		Amount:          amount,
		Status:          domain.PurchaseCompleted,
		ExpiresAt:       now.Add(domain.PurchaseValidity),
		CreatedAt:       now,
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	if created {
		res.Created++
	} else {
		util.LoggerFromContext(ctx).Info("purchase already recorded", "purchase_id", p.ID, "document_id", doc.ID)
	}
	return p, nil
}

func (h *Handler) send(ctx context.Context, msg mail.Message) error {
	if err := h.mailer.Send(ctx, msg); err != nil {
		return domain.Upstream("send purchase email", err)
	}
	return nil
}

// DownloadURL is the storefront link that serves a purchase.
func (h *Handler) DownloadURL(purchaseID string) string {
	return h.publicURL + "/download/" + purchaseID
}
