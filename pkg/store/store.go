package store

import (
	"context"
	"time"

	"paperwise/pkg/domain"
)

// UserStore persists accounts.
type UserStore interface {
	SaveUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	UserCount(ctx context.Context) (int, error)
}

// DocumentFilter narrows ListDocuments. Zero value lists everything.
type DocumentFilter struct {
	Category domain.Category
}

// CatalogStore persists documents and bundles.
type CatalogStore interface {
	SaveDocument(ctx context.Context, d domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, bool, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]domain.Document, error)
	// DeleteDocument fails with a conflict error while purchases reference the document.
	DeleteDocument(ctx context.Context, id string) error

	// SaveBundle upserts the bundle and replaces its document membership atomically.
	SaveBundle(ctx context.Context, b domain.Bundle) error
	GetBundle(ctx context.Context, id string) (domain.Bundle, bool, error)
	ListBundles(ctx context.Context) ([]domain.Bundle, error)
	DeleteBundle(ctx context.Context, id string) error
}

// CartStore persists server-side carts.
type CartStore interface {
	ActiveCart(ctx context.Context, userID string, now time.Time) (domain.Cart, bool, error)
	CreateCart(ctx context.Context, c domain.Cart) error
	TouchCart(ctx context.Context, cartID string, expiresAt time.Time) error
	ListCartLines(ctx context.Context, cartID string) ([]domain.CartLine, error)
	// AddCartItem adds quantity to an existing line or inserts a new one.
	AddCartItem(ctx context.Context, cartID, documentID string, quantity int) error
	// SetCartItemQuantity overwrites the quantity of an existing line;
	// quantity <= 0 deletes it. It never inserts.
	SetCartItemQuantity(ctx context.Context, cartID, documentID string, quantity int) error
	RemoveCartItem(ctx context.Context, cartID, documentID string) error
	ClearCart(ctx context.Context, cartID string) error
	// MergeCartItems adds every line's quantity to the cart in one transaction.
	MergeCartItems(ctx context.Context, cartID string, lines []domain.CartLine) error
}

// PurchaseStore persists fulfilled purchases.
type PurchaseStore interface {
	// CreatePurchase inserts p unless a purchase for the same
	// (StripeSessionID, DocumentID) exists, in which case the existing row is
	// returned with created=false.
	CreatePurchase(ctx context.Context, p domain.Purchase) (purchase domain.Purchase, created bool, err error)
	GetPurchase(ctx context.Context, id string) (domain.Purchase, bool, error)
	ListPurchasesByUser(ctx context.Context, userID string) ([]domain.Purchase, error)
	IncrementDownloadCount(ctx context.Context, id string) error
}

// OnboardingStore persists onboarding sequence state and the sent-email log.
type OnboardingStore interface {
	EnsureOnboardingSchema(ctx context.Context) error
	// CreateOnboardingSequence inserts seq unless one exists for the user,
	// in which case the existing row is returned with created=false.
	CreateOnboardingSequence(ctx context.Context, seq domain.OnboardingSequence) (domain.OnboardingSequence, bool, error)
	GetOnboardingSequence(ctx context.Context, userID string) (domain.OnboardingSequence, bool, error)
	ListOnboardingSequences(ctx context.Context, activeOnly bool) ([]domain.OnboardingSequence, error)
	// AdvanceOnboarding moves the user from fromStep to fromStep+1. It is a
	// no-op returning false when the stored step is no longer fromStep or the
	// sequence is completed. sentAt, when set, becomes LastEmailSentAt.
	AdvanceOnboarding(ctx context.Context, userID string, fromStep int, sentAt *time.Time) (bool, error)
	CompleteOnboarding(ctx context.Context, userID string) error
	HasOnboardingEmail(ctx context.Context, userID, emailType string) (bool, error)
	// RecordOnboardingEmail appends a log row; duplicates are ignored.
	RecordOnboardingEmail(ctx context.Context, entry domain.OnboardingEmailLog) error
	// ListOnboardingEmails returns log rows newest first; empty userID lists all.
	ListOnboardingEmails(ctx context.Context, userID string) ([]domain.OnboardingEmailLog, error)
}

// ContentStore persists blog posts, blog categories and legal pages.
type ContentStore interface {
	// SaveBlogPost upserts the post and replaces its category associations atomically.
	SaveBlogPost(ctx context.Context, post domain.BlogPost, categoryIDs []string) error
	GetBlogPost(ctx context.Context, id string) (domain.BlogPost, bool, error)
	GetBlogPostBySlug(ctx context.Context, slug string) (domain.BlogPost, bool, error)
	ListBlogPosts(ctx context.Context, publishedOnly bool) ([]domain.BlogPost, error)
	DeleteBlogPost(ctx context.Context, id string) error
	SaveBlogCategory(ctx context.Context, c domain.BlogCategory) error
	ListBlogCategories(ctx context.Context) ([]domain.BlogCategory, error)

	SaveLegalPage(ctx context.Context, page domain.LegalPage) error
	GetLegalPage(ctx context.Context, slug string) (domain.LegalPage, bool, error)
}

// Store is the full persistence surface of the storefront.
type Store interface {
	UserStore
	CatalogStore
	CartStore
	PurchaseStore
	OnboardingStore
	ContentStore
}

// SessionStore issues and resolves session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
