package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type Category string

const (
	CategoryBusiness   Category = "business"
	CategoryContracts  Category = "contracts"
	CategoryEmployment Category = "employment"
	CategoryRealEstate Category = "realestate"
	CategoryWebsite    Category = "website"
)

// ParseCategory normalizes a category name and reports whether it is known.
func ParseCategory(raw string) (Category, bool) {
	switch c := Category(raw); c {
	case CategoryBusiness, CategoryContracts, CategoryEmployment, CategoryRealEstate, CategoryWebsite:
		return c, true
	default:
		return "", false
	}
}

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

type PurchaseStatus string

const (
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseRefunded  PurchaseStatus = "refunded"
)

// PurchaseValidity is how long download access lasts after payment.
const PurchaseValidity = 30 * 24 * time.Hour

// CartValidity is the rolling lifetime of a server cart since its last touch.
const CartValidity = 30 * 24 * time.Hour

type Document struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Formats     []Format        `json:"formats"`
	Category    Category        `json:"category"`
	BlobKey     string          `json:"-"`
	PageCount   int             `json:"pageCount,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Cart struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// CartLine is one document in a cart, joined with its catalog name and price.
type CartLine struct {
	DocumentID string          `json:"documentId"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
}

type Purchase struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	DocumentID      string          `json:"documentId"`
	StripeSessionID string          `json:"stripeSessionId"`
	Amount          decimal.Decimal `json:"amount"`
	Status          PurchaseStatus  `json:"status"`
	DownloadCount   int             `json:"downloadCount"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Expired reports whether download access has lapsed at now.
func (p Purchase) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

type OnboardingSequence struct {
	UserID          string     `json:"userId"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	StartedAt       time.Time  `json:"startedAt"`
	CurrentStep     int        `json:"currentStep"`
	LastEmailSentAt *time.Time `json:"lastEmailSentAt,omitempty"`
	Completed       bool       `json:"completed"`
}

// LastSendOrStart is the reference time for the next step's delay.
func (s OnboardingSequence) LastSendOrStart() time.Time {
	if s.LastEmailSentAt != nil {
		return *s.LastEmailSentAt
	}
	return s.StartedAt
}

type OnboardingEmailLog struct {
	UserID    string    `json:"userId"`
	EmailType string    `json:"emailType"`
	SentAt    time.Time `json:"sentAt"`
}

type BlogCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type BlogPost struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Slug        string         `json:"slug"`
	Excerpt     string         `json:"excerpt"`
	Content     string         `json:"content"`
	Published   bool           `json:"published"`
	Categories  []BlogCategory `json:"categories"`
	PublishedAt *time.Time     `json:"publishedAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type Bundle struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	DocumentIDs []string        `json:"documentIds"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// LegalPage is a static document such as terms of service or privacy policy.
type LegalPage struct {
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}
