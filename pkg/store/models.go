package store

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Name         string
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type DocumentModel struct {
	ID          string          `gorm:"primaryKey"`
	Name        string          `gorm:"not null"`
	Description string          `gorm:"type:text"`
	Price       decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Formats     datatypes.JSON  `gorm:"type:jsonb"`
	Category    string          `gorm:"not null;index"`
	BlobKey     string
	PageCount   int
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type CartModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

type CartItemModel struct {
	ID         uint   `gorm:"primaryKey"`
	CartID     string `gorm:"not null;uniqueIndex:idx_cart_item_cart_document"`
	DocumentID string `gorm:"not null;uniqueIndex:idx_cart_item_cart_document"`
	Quantity   int    `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type PurchaseModel struct {
	ID              string          `gorm:"primaryKey"`
	UserID          string          `gorm:"not null;index"`
	DocumentID      string          `gorm:"not null;index;uniqueIndex:idx_purchase_session_document"`
	StripeSessionID string          `gorm:"not null;uniqueIndex:idx_purchase_session_document"`
	Amount          decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Status          string          `gorm:"not null"`
	DownloadCount   int             `gorm:"not null;default:0"`
	ExpiresAt       time.Time       `gorm:"not null"`
	CreatedAt       time.Time       `gorm:"not null"`
}

type OnboardingSequenceModel struct {
	UserID          string `gorm:"primaryKey"`
	Email           string `gorm:"not null"`
	Name            string
	StartedAt       time.Time `gorm:"not null"`
	CurrentStep     int       `gorm:"not null;default:0"`
	LastEmailSentAt *time.Time
	Completed       bool `gorm:"not null;default:false;index"`
}

type OnboardingEmailLogModel struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_onboarding_email_user_type"`
	EmailType string    `gorm:"not null;uniqueIndex:idx_onboarding_email_user_type"`
	SentAt    time.Time `gorm:"not null;index"`
}

type BlogPostModel struct {
	ID          string `gorm:"primaryKey"`
	Title       string `gorm:"not null"`
	Slug        string `gorm:"uniqueIndex;not null"`
	Excerpt     string
	Content     string `gorm:"type:text"`
	Published   bool   `gorm:"not null;default:false"`
	PublishedAt *time.Time
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type BlogCategoryModel struct {
	ID   string `gorm:"primaryKey"`
	Name string `gorm:"not null"`
	Slug string `gorm:"uniqueIndex;not null"`
}

type BlogPostCategoryModel struct {
	PostID     string `gorm:"primaryKey"`
	CategoryID string `gorm:"primaryKey"`
}

type BundleModel struct {
	ID          string          `gorm:"primaryKey"`
	Name        string          `gorm:"not null"`
	Description string          `gorm:"type:text"`
	Price       decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	CreatedAt   time.Time       `gorm:"not null"`
	UpdatedAt   time.Time       `gorm:"not null"`
}

type BundleDocumentModel struct {
	BundleID   string `gorm:"primaryKey"`
	DocumentID string `gorm:"primaryKey;index"`
	Position   int    `gorm:"not null"`
}

type LegalPageModel struct {
	Slug      string `gorm:"primaryKey"`
	Title     string `gorm:"not null"`
	Content   string `gorm:"type:text"`
	UpdatedAt time.Time
}
