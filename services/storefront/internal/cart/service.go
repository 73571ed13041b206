// Package cart keeps shopping carts for guests and signed-in users and merges
// a guest cart into the user's cart when they log in.
package cart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"paperwise/internal/util"
	"paperwise/pkg/domain"
	"paperwise/pkg/store"
)

// Store is the persistence the cart service needs.
type Store interface {
	store.CartStore
	store.CatalogStore
}

// Owner identifies whose cart an operation targets. A signed-in user's cart
// lives in the relational store; a guest cart lives in Redis under GuestToken.
type Owner struct {
	UserID     string
	GuestToken string
}

func (o Owner) key() string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	return "guest:" + o.GuestToken
}

// EventKey is the broadcaster key for a signed-in user's cart.
func EventKey(userID string) string {
	return Owner{UserID: userID}.key()
}

// Item is a client-supplied cart line.
type Item struct {
	DocumentID string `json:"documentId"`
	Quantity   int    `json:"quantity"`
}

// Config wires the cart service.
type Config struct {
	Store  Store
	Redis  *redis.Client
	Events *Broadcaster
	Now    func() time.Time
}

// Service applies cart operations against the authoritative backend for an owner.
type Service struct {
	store  Store
	redis  *redis.Client
	events *Broadcaster
	now    func() time.Time
}

func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	events := cfg.Events
	if events == nil {
		events = NewBroadcaster()
	}
	return &Service{store: cfg.Store, redis: cfg.Redis, events: events, now: now}
}

// Events returns the broadcaster cart updates are published on.
func (s *Service) Events() *Broadcaster {
	return s.events
}

// repositories returns the authoritative backend for owner and, for a
// signed-in user who still carries a guest token, the guest backend used when
// the store is unavailable.
func (s *Service) repositories(owner Owner) (Repository, Repository, error) {
	var local Repository
	if owner.GuestToken != "" && s.redis != nil {
		local = NewLocalRepository(s.redis, owner.GuestToken)
	}
	if owner.UserID != "" {
		return NewRemoteRepository(s.store, owner.UserID, s.now), local, nil
	}
	if local == nil {
		return nil, nil, domain.Validation("guest cart token is required")
	}
	return local, nil, nil
}

// Load returns the owner's cart. If the store fails and a guest copy exists,
// the guest copy is returned instead of an error.
func (s *Service) Load(ctx context.Context, owner Owner) ([]domain.CartLine, error) {
	primary, fallback, err := s.repositories(owner)
	if err != nil {
		return nil, err
	}
	lines, err := primary.Load(ctx)
	if err == nil {
		return lines, nil
	}
	if fallback == nil {
		return nil, err
	}
	util.LoggerFromContext(ctx).Warn("cart load failed, using guest cart", "user_id", owner.UserID, "err", err)
	return fallback.Load(ctx)
}

// AddItem increments the line for documentID or inserts it. quantity 0 means 1.
func (s *Service) AddItem(ctx context.Context, owner Owner, documentID string, quantity int) ([]domain.CartLine, error) {
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return nil, domain.Validation("quantity must be positive")
	}
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	line := domain.CartLine{DocumentID: doc.ID, Name: doc.Name, Price: doc.Price, Quantity: quantity}
	return s.mutate(ctx, owner, "add", doc.ID, func(r Repository) error {
		return r.Add(ctx, line)
	})
}

// UpdateQuantity overwrites the quantity of a line already in the cart;
// quantity <= 0 removes it. Updating a document with no line is a no-op.
func (s *Service) UpdateQuantity(ctx context.Context, owner Owner, documentID string, quantity int) ([]domain.CartLine, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, domain.Validation("documentId is required")
	}
	if quantity <= 0 {
		return s.RemoveItem(ctx, owner, documentID)
	}
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, owner, "update", doc.ID, func(r Repository) error {
		return r.SetQuantity(ctx, doc.ID, quantity)
	})
}

func (s *Service) RemoveItem(ctx context.Context, owner Owner, documentID string) ([]domain.CartLine, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, domain.Validation("documentId is required")
	}
	return s.mutate(ctx, owner, "remove", documentID, func(r Repository) error {
		return r.Remove(ctx, documentID)
	})
}

func (s *Service) Clear(ctx context.Context, owner Owner) ([]domain.CartLine, error) {
	return s.mutate(ctx, owner, "clear", "", func(r Repository) error {
		return r.Clear(ctx)
	})
}

// SyncGuestCart moves the guest cart held under guestToken into the user's
// cart, adding quantities to existing lines. The guest cart is claimed before
// the merge and put back if the merge fails, so its lines land at most once.
func (s *Service) SyncGuestCart(ctx context.Context, userID, guestToken string) ([]domain.CartLine, error) {
	if userID == "" {
		return nil, domain.Authentication("login required")
	}
	remote := NewRemoteRepository(s.store, userID, s.now)
	if guestToken == "" || s.redis == nil {
		return remote.Load(ctx)
	}
	local := NewLocalRepository(s.redis, guestToken)
	guest, err := local.Take(ctx)
	if err != nil {
		return nil, err
	}
	if len(guest) == 0 {
		return remote.Load(ctx)
	}
	if err := remote.Merge(ctx, guest); err != nil {
		if rerr := local.Merge(ctx, guest); rerr != nil {
			util.LoggerFromContext(ctx).Error("guest cart lost after failed sync", "user_id", userID, "lines", len(guest), "err", rerr)
		}
		return nil, fmt.Errorf("merge guest cart: %w", err)
	}
	lines, err := remote.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.publish(Owner{UserID: userID}, lines)
	util.LoggerFromContext(ctx).Info("guest cart synced", "user_id", userID, "lines", len(guest))
	return lines, nil
}

// MergeItems adds a client-held cart to the user's cart. Unknown documents
// and non-positive quantities are skipped.
func (s *Service) MergeItems(ctx context.Context, userID string, items []Item) ([]domain.CartLine, error) {
	if userID == "" {
		return nil, domain.Authentication("login required")
	}
	logger := util.LoggerFromContext(ctx)
	lines := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		doc, err := s.document(ctx, item.DocumentID)
		if err != nil {
			if domain.KindOf(err) == domain.KindNotFound {
				logger.Warn("cart sync skipped unknown document", "user_id", userID, "document_id", item.DocumentID)
				continue
			}
			return nil, err
		}
		lines = append(lines, domain.CartLine{DocumentID: doc.ID, Name: doc.Name, Price: doc.Price, Quantity: item.Quantity})
	}
	remote := NewRemoteRepository(s.store, userID, s.now)
	if len(lines) > 0 {
		if err := remote.Merge(ctx, lines); err != nil {
			return nil, fmt.Errorf("merge cart: %w", err)
		}
	}
	merged, err := remote.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.publish(Owner{UserID: userID}, merged)
	return merged, nil
}

// mutate applies fn to the authoritative backend. A store failure for a
// signed-in user falls back to their guest cart so the change is not lost.
func (s *Service) mutate(ctx context.Context, owner Owner, op, documentID string, fn func(Repository) error) ([]domain.CartLine, error) {
	primary, fallback, err := s.repositories(owner)
	if err != nil {
		return nil, err
	}
	target := primary
	if err := fn(primary); err != nil {
		if fallback == nil {
			return nil, fmt.Errorf("cart %s: %w", op, err)
		}
		util.LoggerFromContext(ctx).Warn("cart update failed, applying to guest cart",
			"op", op, "user_id", owner.UserID, "document_id", documentID, "err", err)
		if err := fn(fallback); err != nil {
			return nil, fmt.Errorf("cart %s: %w", op, err)
		}
		target = fallback
	}
	lines, err := target.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.publish(owner, lines)
	return lines, nil
}

func (s *Service) publish(owner Owner, lines []domain.CartLine) {
	s.events.Publish(Event{Type: EventUpdated, Owner: owner.key(), Count: Count(lines)})
}

func (s *Service) document(ctx context.Context, id string) (domain.Document, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Document{}, domain.Validation("documentId is required")
	}
	doc, ok, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return domain.Document{}, domain.NotFound("document %s not found", id)
	}
	return doc, nil
}

// Count sums line quantities.
func Count(lines []domain.CartLine) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}
