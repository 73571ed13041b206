package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"paperwise/internal/util"
	"paperwise/pkg/domain"
	"paperwise/services/storefront/internal/cart"
)

const cartEventHeartbeat = 25 * time.Second

type cartItemRequest struct {
	DocumentID string `json:"documentId"`
	Quantity   int    `json:"quantity"`
}

type cartSyncRequest struct {
	Items []cart.Item `json:"items"`
}

type cartResponse struct {
	Items    []domain.CartLine `json:"items"`
	Count    int               `json:"count"`
	Subtotal decimal.Decimal   `json:"subtotal"`
}

func newCartResponse(lines []domain.CartLine) cartResponse {
	if lines == nil {
		lines = []domain.CartLine{}
	}
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return cartResponse{Items: lines, Count: cart.Count(lines), Subtotal: subtotal}
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.getCart(w, r, userOwner(r, user))
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.addToCart(w, r, userOwner(r, user))
}

func (s *Server) handleUpdateCart(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.updateCart(w, r, userOwner(r, user))
}

func (s *Server) handleDeleteFromCart(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.deleteFromCart(w, r, userOwner(r, user))
}

// userOwner names the signed-in user's cart. A guest cart presented with the
// request is kept as the fallback when the store is unavailable.
func userOwner(r *http.Request, user domain.User) cart.Owner {
	return cart.Owner{UserID: user.ID, GuestToken: strings.TrimSpace(r.Header.Get(guestCartHeader))}
}

// handleGuestCart serves the cart of a visitor without a session. The cart is
// named by X-Guest-Cart; a new name is issued when the header is absent.
func (s *Server) handleGuestCart(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.Header.Get(guestCartHeader))
	if token == "" {
		token = util.NewID()
	}
	w.Header().Set(guestCartHeader, token)
	owner := cart.Owner{GuestToken: token}
	switch r.Method {
	case http.MethodGet:
		s.getCart(w, r, owner)
	case http.MethodPost:
		s.addToCart(w, r, owner)
	case http.MethodPut:
		s.updateCart(w, r, owner)
	case http.MethodDelete:
		s.deleteFromCart(w, r, owner)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request, owner cart.Owner) {
	lines, err := s.app.Cart().Load(r.Context(), owner)
	if err != nil {
		writeDomainError(w, r, err, "failed to load cart")
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(lines))
}

func (s *Server) addToCart(w http.ResponseWriter, r *http.Request, owner cart.Owner) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		writeError(w, http.StatusBadRequest, "documentId is required")
		return
	}
	lines, err := s.app.Cart().AddItem(r.Context(), owner, req.DocumentID, req.Quantity)
	if err != nil {
		writeDomainError(w, r, err, "failed to add item to cart")
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(lines))
}

func (s *Server) updateCart(w http.ResponseWriter, r *http.Request, owner cart.Owner) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		writeError(w, http.StatusBadRequest, "documentId is required")
		return
	}
	lines, err := s.app.Cart().UpdateQuantity(r.Context(), owner, req.DocumentID, req.Quantity)
	if err != nil {
		writeDomainError(w, r, err, "failed to update cart")
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(lines))
}

// deleteFromCart removes one line, or clears the cart when no documentId is given.
func (s *Server) deleteFromCart(w http.ResponseWriter, r *http.Request, owner cart.Owner) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	documentID := strings.TrimSpace(req.DocumentID)
	if documentID == "" {
		documentID = strings.TrimSpace(r.URL.Query().Get("documentId"))
	}
	var (
		lines []domain.CartLine
		err   error
	)
	if documentID == "" {
		lines, err = s.app.Cart().Clear(r.Context(), owner)
	} else {
		lines, err = s.app.Cart().RemoveItem(r.Context(), owner, documentID)
	}
	if err != nil {
		writeDomainError(w, r, err, "failed to update cart")
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(lines))
}

// handleSyncCart merges a client-held cart into the user's cart additively.
func (s *Server) handleSyncCart(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req cartSyncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	lines, err := s.app.Cart().MergeItems(r.Context(), user.ID, req.Items)
	if err != nil {
		writeDomainError(w, r, err, "failed to sync cart")
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(lines))
}

// handleCartEvents streams cart.updated events for the user as server-sent events.
func (s *Server) handleCartEvents(w http.ResponseWriter, r *http.Request, user domain.User) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		writeDomainError(w, r, err, "")
		return
	}
	events, cancel := s.app.Cart().Events().Subscribe(cart.EventKey(user.ID))
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(cartEventHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
