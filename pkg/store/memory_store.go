package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"paperwise/pkg/domain"
)

type memoryCartItem struct {
	documentID string
	quantity   int
}

type purchaseKey struct {
	sessionID  string
	documentID string
}

type emailLogKey struct {
	userID    string
	emailType string
}

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu sync.RWMutex

	users      map[string]domain.User
	documents  map[string]domain.Document
	bundles    map[string]domain.Bundle
	carts      map[string]domain.Cart
	cartItems  map[string][]memoryCartItem
	purchases  map[string]domain.Purchase
	bySession  map[purchaseKey]string
	sequences  map[string]domain.OnboardingSequence
	emailLog   []domain.OnboardingEmailLog
	emailIndex map[emailLogKey]struct{}
	posts      map[string]domain.BlogPost
	postCats   map[string][]string
	categories map[string]domain.BlogCategory
	legal      map[string]domain.LegalPage

	schemaReady bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]domain.User),
		documents:  make(map[string]domain.Document),
		bundles:    make(map[string]domain.Bundle),
		carts:      make(map[string]domain.Cart),
		cartItems:  make(map[string][]memoryCartItem),
		purchases:  make(map[string]domain.Purchase),
		bySession:  make(map[purchaseKey]string),
		sequences:  make(map[string]domain.OnboardingSequence),
		emailIndex: make(map[emailLogKey]struct{}),
		posts:      make(map[string]domain.BlogPost),
		postCats:   make(map[string][]string),
		categories: make(map[string]domain.BlogCategory),
		legal:      make(map[string]domain.LegalPage),
	}
}

func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.users {
		if id != u.ID && existing.Email == u.Email {
			return domain.Conflict("email already registered")
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) HasUserEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) UserCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *MemoryStore) SaveDocument(_ context.Context, d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[d.ID] = d
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	return d, ok, nil
}

func (m *MemoryStore) ListDocuments(_ context.Context, filter DocumentFilter) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0, len(m.documents))
	for _, d := range m.documents {
		if filter.Category != "" && d.Category != filter.Category {
			continue
		}
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	purchases := 0
	for _, p := range m.purchases {
		if p.DocumentID == id {
			purchases++
		}
	}
	if purchases > 0 {
		return domain.Conflict("document has %d purchases and cannot be deleted", purchases)
	}
	for cartID, items := range m.cartItems {
		m.cartItems[cartID] = removeItem(items, id)
	}
	for bid, b := range m.bundles {
		kept := b.DocumentIDs[:0:0]
		for _, docID := range b.DocumentIDs {
			if docID != id {
				kept = append(kept, docID)
			}
		}
		b.DocumentIDs = kept
		m.bundles[bid] = b
	}
	delete(m.documents, id)
	return nil
}

func (m *MemoryStore) SaveBundle(_ context.Context, b domain.Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.DocumentIDs = append([]string{}, b.DocumentIDs...)
	if existing, ok := m.bundles[b.ID]; ok {
		b.CreatedAt = existing.CreatedAt
	}
	m.bundles[b.ID] = b
	return nil
}

func (m *MemoryStore) GetBundle(_ context.Context, id string) (domain.Bundle, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bundles[id]
	if ok {
		b.DocumentIDs = append([]string{}, b.DocumentIDs...)
	}
	return b, ok, nil
}

func (m *MemoryStore) ListBundles(_ context.Context) ([]domain.Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Bundle, 0, len(m.bundles))
	for _, b := range m.bundles {
		b.DocumentIDs = append([]string{}, b.DocumentIDs...)
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (m *MemoryStore) DeleteBundle(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bundles, id)
	return nil
}

func (m *MemoryStore) ActiveCart(_ context.Context, userID string, now time.Time) (domain.Cart, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best domain.Cart
	found := false
	for _, c := range m.carts {
		if c.UserID != userID || !c.ExpiresAt.After(now) {
			continue
		}
		if !found || c.ExpiresAt.After(best.ExpiresAt) {
			best = c
			found = true
		}
	}
	return best, found, nil
}

func (m *MemoryStore) CreateCart(_ context.Context, c domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[c.ID]; ok {
		return domain.Conflict("cart %s exists", c.ID)
	}
	m.carts[c.ID] = c
	return nil
}

func (m *MemoryStore) TouchCart(_ context.Context, cartID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cartID]
	if !ok {
		return nil
	}
	c.ExpiresAt = expiresAt
	m.carts[cartID] = c
	return nil
}

func (m *MemoryStore) ListCartLines(_ context.Context, cartID string) ([]domain.CartLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := m.cartItems[cartID]
	lines := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		doc, ok := m.documents[item.documentID]
		if !ok {
			continue
		}
		lines = append(lines, domain.CartLine{
			DocumentID: item.documentID,
			Name:       doc.Name,
			Price:      doc.Price,
			Quantity:   item.quantity,
		})
	}
	return lines, nil
}

func (m *MemoryStore) AddCartItem(_ context.Context, cartID, documentID string, quantity int) error {
	if quantity <= 0 {
		return domain.Validation("quantity must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addItemLocked(cartID, documentID, quantity)
	return nil
}

func (m *MemoryStore) addItemLocked(cartID, documentID string, quantity int) {
	items := m.cartItems[cartID]
	for i := range items {
		if items[i].documentID == documentID {
			items[i].quantity += quantity
			return
		}
	}
	m.cartItems[cartID] = append(items, memoryCartItem{documentID: documentID, quantity: quantity})
}

func (m *MemoryStore) SetCartItemQuantity(_ context.Context, cartID, documentID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.cartItems[cartID]
	if quantity <= 0 {
		m.cartItems[cartID] = removeItem(items, documentID)
		return nil
	}
	for i := range items {
		if items[i].documentID == documentID {
			items[i].quantity = quantity
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) RemoveCartItem(_ context.Context, cartID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cartItems[cartID] = removeItem(m.cartItems[cartID], documentID)
	return nil
}

func (m *MemoryStore) ClearCart(_ context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cartItems, cartID)
	return nil
}

func (m *MemoryStore) MergeCartItems(_ context.Context, cartID string, lines []domain.CartLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		m.addItemLocked(cartID, line.DocumentID, line.Quantity)
	}
	return nil
}

func removeItem(items []memoryCartItem, documentID string) []memoryCartItem {
	out := items[:0:0]
	for _, item := range items {
		if item.documentID != documentID {
			out = append(out, item)
		}
	}
	return out
}

func (m *MemoryStore) CreatePurchase(_ context.Context, p domain.Purchase) (domain.Purchase, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := purchaseKey{sessionID: p.StripeSessionID, documentID: p.DocumentID}
	if id, ok := m.bySession[key]; ok {
		return m.purchases[id], false, nil
	}
	if _, ok := m.purchases[p.ID]; ok {
		return domain.Purchase{}, false, fmt.Errorf("purchase id %s already used", p.ID)
	}
	m.purchases[p.ID] = p
	m.bySession[key] = p.ID
	return p, true, nil
}

func (m *MemoryStore) GetPurchase(_ context.Context, id string) (domain.Purchase, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.purchases[id]
	return p, ok, nil
}

func (m *MemoryStore) ListPurchasesByUser(_ context.Context, userID string) ([]domain.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Purchase, 0)
	for _, p := range m.purchases {
		if p.UserID == userID {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) IncrementDownloadCount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return nil
	}
	p.DownloadCount++
	m.purchases[id] = p
	return nil
}

func (m *MemoryStore) EnsureOnboardingSchema(_ context.Context) error {
	m.mu.Lock()
	m.schemaReady = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) CreateOnboardingSequence(_ context.Context, seq domain.OnboardingSequence) (domain.OnboardingSequence, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sequences[seq.UserID]; ok {
		return existing, false, nil
	}
	m.sequences[seq.UserID] = seq
	return seq, true, nil
}

func (m *MemoryStore) GetOnboardingSequence(_ context.Context, userID string) (domain.OnboardingSequence, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.sequences[userID]
	return seq, ok, nil
}

func (m *MemoryStore) ListOnboardingSequences(_ context.Context, activeOnly bool) ([]domain.OnboardingSequence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.OnboardingSequence, 0, len(m.sequences))
	for _, seq := range m.sequences {
		if activeOnly && seq.Completed {
			continue
		}
		res = append(res, seq)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartedAt.Before(res[j].StartedAt) })
	return res, nil
}

func (m *MemoryStore) AdvanceOnboarding(_ context.Context, userID string, fromStep int, sentAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.sequences[userID]
	if !ok || seq.Completed || seq.CurrentStep != fromStep {
		return false, nil
	}
	seq.CurrentStep++
	if sentAt != nil {
		ts := *sentAt
		seq.LastEmailSentAt = &ts
	}
	m.sequences[userID] = seq
	return true, nil
}

func (m *MemoryStore) CompleteOnboarding(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.sequences[userID]
	if !ok {
		return nil
	}
	seq.Completed = true
	m.sequences[userID] = seq
	return nil
}

func (m *MemoryStore) HasOnboardingEmail(_ context.Context, userID, emailType string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.emailIndex[emailLogKey{userID: userID, emailType: emailType}]
	return ok, nil
}

func (m *MemoryStore) RecordOnboardingEmail(_ context.Context, entry domain.OnboardingEmailLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := emailLogKey{userID: entry.UserID, emailType: entry.EmailType}
	if _, ok := m.emailIndex[key]; ok {
		return nil
	}
	m.emailIndex[key] = struct{}{}
	m.emailLog = append(m.emailLog, entry)
	return nil
}

func (m *MemoryStore) ListOnboardingEmails(_ context.Context, userID string) ([]domain.OnboardingEmailLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.OnboardingEmailLog, 0, len(m.emailLog))
	for _, entry := range m.emailLog {
		if userID != "" && entry.UserID != userID {
			continue
		}
		res = append(res, entry)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].SentAt.After(res[j].SentAt) })
	return res, nil
}

func (m *MemoryStore) SaveBlogPost(_ context.Context, post domain.BlogPost, categoryIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.posts {
		if id != post.ID && existing.Slug == post.Slug {
			return domain.Conflict("slug %q already used", post.Slug)
		}
	}
	post.Categories = nil
	m.posts[post.ID] = post
	m.postCats[post.ID] = append([]string{}, categoryIDs...)
	return nil
}

func (m *MemoryStore) GetBlogPost(_ context.Context, id string) (domain.BlogPost, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	post, ok := m.posts[id]
	if !ok {
		return domain.BlogPost{}, false, nil
	}
	return m.withCategoriesLocked(post), true, nil
}

func (m *MemoryStore) GetBlogPostBySlug(_ context.Context, slug string) (domain.BlogPost, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, post := range m.posts {
		if post.Slug == slug {
			return m.withCategoriesLocked(post), true, nil
		}
	}
	return domain.BlogPost{}, false, nil
}

func (m *MemoryStore) ListBlogPosts(_ context.Context, publishedOnly bool) ([]domain.BlogPost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.BlogPost, 0, len(m.posts))
	for _, post := range m.posts {
		if publishedOnly && !post.Published {
			continue
		}
		res = append(res, m.withCategoriesLocked(post))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) withCategoriesLocked(post domain.BlogPost) domain.BlogPost {
	cats := make([]domain.BlogCategory, 0, len(m.postCats[post.ID]))
	for _, id := range m.postCats[post.ID] {
		if c, ok := m.categories[id]; ok {
			cats = append(cats, c)
		}
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
	post.Categories = cats
	return post
}

func (m *MemoryStore) DeleteBlogPost(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posts, id)
	delete(m.postCats, id)
	return nil
}

func (m *MemoryStore) SaveBlogCategory(_ context.Context, c domain.BlogCategory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[c.ID] = c
	return nil
}

func (m *MemoryStore) ListBlogCategories(_ context.Context) ([]domain.BlogCategory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.BlogCategory, 0, len(m.categories))
	for _, c := range m.categories {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (m *MemoryStore) SaveLegalPage(_ context.Context, page domain.LegalPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legal[page.Slug] = page
	return nil
}

func (m *MemoryStore) GetLegalPage(_ context.Context, slug string) (domain.LegalPage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, ok := m.legal[slug]
	return page, ok, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
