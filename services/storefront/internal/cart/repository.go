package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"paperwise/internal/util"
	"paperwise/pkg/domain"
	"paperwise/pkg/store"
)

// Repository is one cart backend. Lines passed to Add and Merge carry the
// catalog name and price so backends without a catalog join can keep them.
type Repository interface {
	Load(ctx context.Context) ([]domain.CartLine, error)
	Add(ctx context.Context, line domain.CartLine) error
	SetQuantity(ctx context.Context, documentID string, quantity int) error
	Remove(ctx context.Context, documentID string) error
	Clear(ctx context.Context) error
	Merge(ctx context.Context, lines []domain.CartLine) error
}

// RemoteRepository keeps an authenticated user's cart in the relational store.
// Every mutation pushes the cart expiry CartValidity past now.
type RemoteRepository struct {
	store  store.CartStore
	userID string
	now    func() time.Time
}

func NewRemoteRepository(s store.CartStore, userID string, now func() time.Time) *RemoteRepository {
	if now == nil {
		now = time.Now
	}
	return &RemoteRepository{store: s, userID: userID, now: now}
}

func (r *RemoteRepository) activeCart(ctx context.Context, create bool) (domain.Cart, bool, error) {
	now := r.now().UTC()
	c, ok, err := r.store.ActiveCart(ctx, r.userID, now)
	if err != nil {
		return domain.Cart{}, false, fmt.Errorf("load cart: %w", err)
	}
	if ok {
		if create {
			if err := r.store.TouchCart(ctx, c.ID, now.Add(domain.CartValidity)); err != nil {
				return domain.Cart{}, false, fmt.Errorf("touch cart: %w", err)
			}
		}
		return c, true, nil
	}
	if !create {
		return domain.Cart{}, false, nil
	}
	c = domain.Cart{
		ID:        util.NewRecordID(),
		UserID:    r.userID,
		ExpiresAt: now.Add(domain.CartValidity),
		CreatedAt: now,
	}
	if err := r.store.CreateCart(ctx, c); err != nil {
		return domain.Cart{}, false, fmt.Errorf("create cart: %w", err)
	}
	return c, true, nil
}

func (r *RemoteRepository) Load(ctx context.Context) ([]domain.CartLine, error) {
	c, ok, err := r.activeCart(ctx, false)
	if err != nil || !ok {
		return []domain.CartLine{}, err
	}
	return r.store.ListCartLines(ctx, c.ID)
}

func (r *RemoteRepository) Add(ctx context.Context, line domain.CartLine) error {
	c, _, err := r.activeCart(ctx, true)
	if err != nil {
		return err
	}
	return r.store.AddCartItem(ctx, c.ID, line.DocumentID, line.Quantity)
}

func (r *RemoteRepository) SetQuantity(ctx context.Context, documentID string, quantity int) error {
	c, ok, err := r.activeCart(ctx, false)
	if err != nil || !ok {
		return err
	}
	if err := r.store.TouchCart(ctx, c.ID, r.now().UTC().Add(domain.CartValidity)); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return r.store.SetCartItemQuantity(ctx, c.ID, documentID, quantity)
}

func (r *RemoteRepository) Remove(ctx context.Context, documentID string) error {
	c, ok, err := r.activeCart(ctx, false)
	if err != nil || !ok {
		return err
	}
	return r.store.RemoveCartItem(ctx, c.ID, documentID)
}

func (r *RemoteRepository) Clear(ctx context.Context) error {
	c, ok, err := r.activeCart(ctx, false)
	if err != nil || !ok {
		return err
	}
	return r.store.ClearCart(ctx, c.ID)
}

func (r *RemoteRepository) Merge(ctx context.Context, lines []domain.CartLine) error {
	c, _, err := r.activeCart(ctx, true)
	if err != nil {
		return err
	}
	return r.store.MergeCartItems(ctx, c.ID, lines)
}

const guestCartPrefix = "paperwise:guest-cart:"

// LocalRepository keeps an anonymous cart as an ordered JSON list in Redis,
// keyed by the guest cart token the client holds.
type LocalRepository struct {
	client *redis.Client
	key    string
}

func NewLocalRepository(client *redis.Client, token string) *LocalRepository {
	return &LocalRepository{client: client, key: guestCartPrefix + token}
}

func (l *LocalRepository) Load(ctx context.Context) ([]domain.CartLine, error) {
	return l.decode(l.client.Get(ctx, l.key).Bytes())
}

// Take removes the guest cart and returns what it held. Concurrent callers
// never receive the same lines.
func (l *LocalRepository) Take(ctx context.Context) ([]domain.CartLine, error) {
	return l.decode(l.client.GetDel(ctx, l.key).Bytes())
}

func (l *LocalRepository) decode(raw []byte, err error) ([]domain.CartLine, error) {
	if errors.Is(err, redis.Nil) {
		return []domain.CartLine{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read guest cart: %w", err)
	}
	var lines []domain.CartLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("decode guest cart: %w", err)
	}
	return lines, nil
}

func (l *LocalRepository) save(ctx context.Context, lines []domain.CartLine) error {
	if len(lines) == 0 {
		return l.Clear(ctx)
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("encode guest cart: %w", err)
	}
	if err := l.client.Set(ctx, l.key, raw, domain.CartValidity).Err(); err != nil {
		return fmt.Errorf("write guest cart: %w", err)
	}
	return nil
}

func (l *LocalRepository) update(ctx context.Context, apply func([]domain.CartLine) []domain.CartLine) error {
	lines, err := l.Load(ctx)
	if err != nil {
		return err
	}
	return l.save(ctx, apply(lines))
}

func (l *LocalRepository) Add(ctx context.Context, line domain.CartLine) error {
	return l.update(ctx, func(lines []domain.CartLine) []domain.CartLine {
		return AddLine(lines, line)
	})
}

func (l *LocalRepository) SetQuantity(ctx context.Context, documentID string, quantity int) error {
	return l.update(ctx, func(lines []domain.CartLine) []domain.CartLine {
		return SetLineQuantity(lines, documentID, quantity)
	})
}

func (l *LocalRepository) Remove(ctx context.Context, documentID string) error {
	return l.update(ctx, func(lines []domain.CartLine) []domain.CartLine {
		return RemoveLine(lines, documentID)
	})
}

func (l *LocalRepository) Clear(ctx context.Context) error {
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("clear guest cart: %w", err)
	}
	return nil
}

func (l *LocalRepository) Merge(ctx context.Context, incoming []domain.CartLine) error {
	return l.update(ctx, func(lines []domain.CartLine) []domain.CartLine {
		for _, line := range incoming {
			lines = AddLine(lines, line)
		}
		return lines
	})
}

// AddLine increments an existing line or appends a new one. Non-positive
// quantities are ignored.
func AddLine(lines []domain.CartLine, line domain.CartLine) []domain.CartLine {
	if line.Quantity <= 0 {
		return lines
	}
	for i := range lines {
		if lines[i].DocumentID == line.DocumentID {
			lines[i].Quantity += line.Quantity
			return lines
		}
	}
	return append(lines, line)
}

// SetLineQuantity overwrites a line's quantity; quantity <= 0 removes the line.
// Documents without a line are not added.
func SetLineQuantity(lines []domain.CartLine, documentID string, quantity int) []domain.CartLine {
	if quantity <= 0 {
		return RemoveLine(lines, documentID)
	}
	for i := range lines {
		if lines[i].DocumentID == documentID {
			lines[i].Quantity = quantity
			return lines
		}
	}
	return lines
}

// RemoveLine drops the line for documentID.
func RemoveLine(lines []domain.CartLine, documentID string) []domain.CartLine {
	out := lines[:0]
	for _, l := range lines {
		if l.DocumentID != documentID {
			out = append(out, l)
		}
	}
	return out
}
