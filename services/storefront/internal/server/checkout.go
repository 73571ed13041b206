package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"paperwise/internal/util"
	"paperwise/pkg/domain"
	"paperwise/services/storefront/internal/checkout"
	"paperwise/services/storefront/internal/fulfillment"
)

// maxWebhookBytes bounds the raw webhook body read for signature checks.
const maxWebhookBytes = 1 << 20

// checkoutCartRequest mirrors the client cart. Only id and quantity are used.
type checkoutCartRequest struct {
	Items []struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Price    decimal.Decimal `json:"price"`
		Quantity int             `json:"quantity"`
	} `json:"items"`
}

type checkoutDocumentRequest struct {
	DocumentID string `json:"documentId"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

func (s *Server) handleCheckoutCart(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.checkoutLimiter, "too many checkout attempts") {
		s.audit(r, "storefront.checkout", "rate_limited", "user_id", user.ID)
		return
	}
	var req checkoutCartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	items := make([]checkout.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, checkout.Item{DocumentID: it.ID, Quantity: it.Quantity})
	}
	session, err := s.app.Checkout().ForCart(r.Context(), user, items)
	if err != nil {
		writeDomainError(w, r, err, "error creating checkout session")
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{URL: session.URL})
}

func (s *Server) handleCheckoutDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowRate(w, r, s.checkoutLimiter, "too many checkout attempts") {
		s.audit(r, "storefront.checkout", "rate_limited", "user_id", user.ID)
		return
	}
	var req checkoutDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		writeError(w, http.StatusBadRequest, "documentId is required")
		return
	}
	session, err := s.app.Checkout().ForDocument(r.Context(), user, req.DocumentID)
	if err != nil {
		writeDomainError(w, r, err, "error creating checkout session")
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{URL: session.URL})
}

// handleStripeWebhook verifies and fulfills payment events. Any processing
// failure answers 500 so the provider retries the delivery.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	res, err := s.app.Fulfillment().HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, fulfillment.ErrInvalidSignature) {
			s.audit(r, "storefront.webhook.verify", "fail", "reason", err.Error())
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		util.LoggerFromContext(r.Context()).Error("checkout fulfillment failed",
			"session_id", res.SessionID, "kind", domain.KindOf(err).String(), "err", err)
		writeServerError(w, r, "error processing checkout session")
		return
	}
	s.audit(r, "storefront.webhook.verify", "success", "event_type", res.EventType, "ignored", res.Ignored)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) handlePurchases(w http.ResponseWriter, r *http.Request, user domain.User) {
	views, err := s.app.Downloads().List(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, r, err, "failed to list purchases")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": views,
		"count": len(views),
	})
}

// handleDownload redirects the owner of a valid purchase to a presigned file URL.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, user domain.User) {
	purchaseID := chi.URLParam(r, "purchaseID")
	url, err := s.app.Downloads().Link(r.Context(), user.ID, purchaseID)
	if err != nil {
		writeDomainError(w, r, err, "failed to prepare download")
		return
	}
	util.LoggerFromContext(r.Context()).Info("download issued", "user_id", user.ID, "purchase_id", purchaseID)
	http.Redirect(w, r, url, http.StatusFound)
}
