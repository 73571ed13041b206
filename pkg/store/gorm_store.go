package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"paperwise/pkg/domain"
)

const migrateLockID int64 = 51121907

// PoolOptions tunes the database/sql pool behind the store.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ForceIPv4       bool
}

type GormStoreOption func(*PoolOptions)

// WithPool overrides pool sizing.
func WithPool(maxOpen, maxIdle int, lifetime time.Duration) GormStoreOption {
	return func(opts *PoolOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
		opts.ConnMaxLifetime = lifetime
	}
}

// WithIPv4 forces IPv4 dialing for hosts with broken IPv6 routes.
func WithIPv4() GormStoreOption {
	return func(opts *PoolOptions) {
		opts.ForceIPv4 = true
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres opens a pgx-backed *sql.DB and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string, opts PoolOptions) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if opts.ForceIPv4 {
		cfg.DialFunc = func(ctx context.Context, _, addr string) (net.Conn, error) {
			d := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
			return d.DialContext(ctx, "tcp4", addr)
		}
	}
	db := stdlib.OpenDB(*cfg)
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := PoolOptions{
		MaxOpenConns:    10,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
	}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	sqlDB, err := OpenPostgres(context.Background(), dsn, opts)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&DocumentModel{},
			&CartModel{},
			&CartItemModel{},
			&PurchaseModel{},
			&OnboardingSequenceModel{},
			&OnboardingEmailLogModel{},
			&BlogPostModel{},
			&BlogCategoryModel{},
			&BlogPostCategoryModel{},
			&BundleModel{},
			&BundleDocumentModel{},
			&LegalPageModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

// Close releases the underlying pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// first loads one row and folds ErrRecordNotFound into found=false.
func first(tx *gorm.DB, dest any, conds ...any) (bool, error) {
	if err := tx.First(dest, conds...).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// users

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "password_hash", "role", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.conn(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	ok, err := first(s.conn(ctx).Where("email = ?", email), &model)
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	ok, err := first(s.conn(ctx), &model, "id = ?", id)
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount(ctx context.Context) (int, error) {
	var count int64
	if err := s.conn(ctx).Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// documents

// SaveDocument stores or updates a document.
func (s *GormStore) SaveDocument(ctx context.Context, d domain.Document) error {
	model := documentToModel(d)
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "price", "formats", "category", "blob_key", "page_count", "updated_at"}),
	}).Create(&model).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(ctx context.Context, id string) (domain.Document, bool, error) {
	var model DocumentModel
	ok, err := first(s.conn(ctx), &model, "id = ?", id)
	if err != nil || !ok {
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocuments returns documents ordered by name.
func (s *GormStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]domain.Document, error) {
	tx := s.conn(ctx).Order("name ASC")
	if filter.Category != "" {
		tx = tx.Where("category = ?", string(filter.Category))
	}
	var models []DocumentModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// DeleteDocument removes a document with its cart lines and bundle memberships.
func (s *GormStore) DeleteDocument(ctx context.Context, id string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var purchases int64
		if err := tx.Model(&PurchaseModel{}).Where("document_id = ?", id).Count(&purchases).Error; err != nil {
			return err
		}
		if purchases > 0 {
			return domain.Conflict("document has %d purchases and cannot be deleted", purchases)
		}
		if err := tx.Delete(&CartItemModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&BundleDocumentModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&DocumentModel{}, "id = ?", id).Error
	})
}

// bundles

// SaveBundle upserts a bundle and replaces its documents.
func (s *GormStore) SaveBundle(ctx context.Context, b domain.Bundle) error {
	model := BundleModel{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Price:       b.Price,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "price", "updated_at"}),
		}).Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Delete(&BundleDocumentModel{}, "bundle_id = ?", b.ID).Error; err != nil {
			return err
		}
		if len(b.DocumentIDs) == 0 {
			return nil
		}
		links := make([]BundleDocumentModel, 0, len(b.DocumentIDs))
		for i, docID := range b.DocumentIDs {
			links = append(links, BundleDocumentModel{BundleID: b.ID, DocumentID: docID, Position: i})
		}
		return tx.Create(&links).Error
	})
}

// GetBundle retrieves a bundle with its documents.
func (s *GormStore) GetBundle(ctx context.Context, id string) (domain.Bundle, bool, error) {
	var model BundleModel
	ok, err := first(s.conn(ctx), &model, "id = ?", id)
	if err != nil || !ok {
		return domain.Bundle{}, false, err
	}
	docs, err := s.bundleDocuments(ctx, []string{id})
	if err != nil {
		return domain.Bundle{}, false, err
	}
	return bundleFromModel(model, docs[id]), true, nil
}

// ListBundles returns bundles ordered by name.
func (s *GormStore) ListBundles(ctx context.Context) ([]domain.Bundle, error) {
	var models []BundleModel
	if err := s.conn(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	docs, err := s.bundleDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}
	res := make([]domain.Bundle, 0, len(models))
	for _, m := range models {
		res = append(res, bundleFromModel(m, docs[m.ID]))
	}
	return res, nil
}

func (s *GormStore) bundleDocuments(ctx context.Context, bundleIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(bundleIDs))
	if len(bundleIDs) == 0 {
		return out, nil
	}
	var links []BundleDocumentModel
	if err := s.conn(ctx).Where("bundle_id IN ?", bundleIDs).Order("bundle_id, position ASC").Find(&links).Error; err != nil {
		return nil, err
	}
	for _, l := range links {
		out[l.BundleID] = append(out[l.BundleID], l.DocumentID)
	}
	return out, nil
}

// DeleteBundle removes a bundle and its memberships.
func (s *GormStore) DeleteBundle(ctx context.Context, id string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&BundleDocumentModel{}, "bundle_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BundleModel{}, "id = ?", id).Error
	})
}

// carts

// ActiveCart returns the user's newest cart that has not expired at now.
func (s *GormStore) ActiveCart(ctx context.Context, userID string, now time.Time) (domain.Cart, bool, error) {
	var model CartModel
	ok, err := first(s.conn(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now.UTC()).
		Order("expires_at DESC"), &model)
	if err != nil || !ok {
		return domain.Cart{}, false, err
	}
	return domain.Cart{ID: model.ID, UserID: model.UserID, ExpiresAt: model.ExpiresAt, CreatedAt: model.CreatedAt}, true, nil
}

// CreateCart inserts a new cart row.
func (s *GormStore) CreateCart(ctx context.Context, c domain.Cart) error {
	model := CartModel{ID: c.ID, UserID: c.UserID, ExpiresAt: c.ExpiresAt, CreatedAt: c.CreatedAt}
	return s.conn(ctx).Create(&model).Error
}

// TouchCart extends the cart's expiry.
func (s *GormStore) TouchCart(ctx context.Context, cartID string, expiresAt time.Time) error {
	return s.conn(ctx).Model(&CartModel{}).Where("id = ?", cartID).Update("expires_at", expiresAt.UTC()).Error
}

type cartLineRow struct {
	DocumentID string
	Name       string
	Price      decimal.Decimal
	Quantity   int
}

// ListCartLines returns cart lines joined with catalog name and price, oldest first.
func (s *GormStore) ListCartLines(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	var rows []cartLineRow
	if err := s.conn(ctx).Table("cart_item_models AS ci").
		Select("ci.document_id, d.name, d.price, ci.quantity").
		Joins("JOIN document_models d ON d.id = ci.document_id").
		Where("ci.cart_id = ?", cartID).
		Order("ci.created_at ASC, ci.id ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	lines := make([]domain.CartLine, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, domain.CartLine{DocumentID: r.DocumentID, Name: r.Name, Price: r.Price, Quantity: r.Quantity})
	}
	return lines, nil
}

// AddCartItem increments an existing line or inserts a new one.
func (s *GormStore) AddCartItem(ctx context.Context, cartID, documentID string, quantity int) error {
	if quantity <= 0 {
		return domain.Validation("quantity must be positive")
	}
	return addCartItem(s.conn(ctx), cartID, documentID, quantity)
}

func addCartItem(tx *gorm.DB, cartID, documentID string, quantity int) error {
	now := time.Now().UTC()
	item := CartItemModel{CartID: cartID, DocumentID: documentID, Quantity: quantity, CreatedAt: now, UpdatedAt: now}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cart_id"}, {Name: "document_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"quantity":   gorm.Expr("cart_item_models.quantity + excluded.quantity"),
			"updated_at": now,
		}),
	}).Create(&item).Error
}

// SetCartItemQuantity overwrites the quantity of an existing line, deleting it
// when quantity <= 0. A missing line is left missing.
func (s *GormStore) SetCartItemQuantity(ctx context.Context, cartID, documentID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveCartItem(ctx, cartID, documentID)
	}
	return s.conn(ctx).Model(&CartItemModel{}).
		Where("cart_id = ? AND document_id = ?", cartID, documentID).
		Updates(map[string]any{"quantity": quantity, "updated_at": time.Now().UTC()}).Error
}

// RemoveCartItem deletes one line.
func (s *GormStore) RemoveCartItem(ctx context.Context, cartID, documentID string) error {
	return s.conn(ctx).Delete(&CartItemModel{}, "cart_id = ? AND document_id = ?", cartID, documentID).Error
}

// ClearCart deletes all lines of a cart.
func (s *GormStore) ClearCart(ctx context.Context, cartID string) error {
	return s.conn(ctx).Delete(&CartItemModel{}, "cart_id = ?", cartID).Error
}

// MergeCartItems adds quantities for every line inside one transaction.
func (s *GormStore) MergeCartItems(ctx context.Context, cartID string, lines []domain.CartLine) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for _, line := range lines {
			if line.Quantity <= 0 {
				continue
			}
			if err := addCartItem(tx, cartID, line.DocumentID, line.Quantity); err != nil {
				return fmt.Errorf("merge %s: %w", line.DocumentID, err)
			}
		}
		return nil
	})
}

// purchases

// CreatePurchase inserts a purchase once per (session, document).
func (s *GormStore) CreatePurchase(ctx context.Context, p domain.Purchase) (domain.Purchase, bool, error) {
	model := purchaseToModel(p)
	res := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_session_id"}, {Name: "document_id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.Purchase{}, false, res.Error
	}
	if res.RowsAffected == 1 {
		return p, true, nil
	}
	var existing PurchaseModel
	ok, err := first(s.conn(ctx).Where("stripe_session_id = ? AND document_id = ?", p.StripeSessionID, p.DocumentID), &existing)
	if err != nil {
		return domain.Purchase{}, false, err
	}
	if !ok {
		return domain.Purchase{}, false, fmt.Errorf("purchase for session %s document %s vanished", p.StripeSessionID, p.DocumentID)
	}
	return purchaseFromModel(existing), false, nil
}

// GetPurchase returns a purchase by ID.
func (s *GormStore) GetPurchase(ctx context.Context, id string) (domain.Purchase, bool, error) {
	var model PurchaseModel
	ok, err := first(s.conn(ctx), &model, "id = ?", id)
	if err != nil || !ok {
		return domain.Purchase{}, false, err
	}
	return purchaseFromModel(model), true, nil
}

// ListPurchasesByUser returns a user's purchases newest first.
func (s *GormStore) ListPurchasesByUser(ctx context.Context, userID string) ([]domain.Purchase, error) {
	var models []PurchaseModel
	if err := s.conn(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Purchase, 0, len(models))
	for _, m := range models {
		res = append(res, purchaseFromModel(m))
	}
	return res, nil
}

// IncrementDownloadCount bumps the download counter.
func (s *GormStore) IncrementDownloadCount(ctx context.Context, id string) error {
	return s.conn(ctx).Model(&PurchaseModel{}).Where("id = ?", id).
		Update("download_count", gorm.Expr("download_count + 1")).Error
}

// onboarding

// EnsureOnboardingSchema creates the onboarding tables when missing.
func (s *GormStore) EnsureOnboardingSchema(ctx context.Context) error {
	if err := s.conn(ctx).AutoMigrate(&OnboardingSequenceModel{}, &OnboardingEmailLogModel{}); err != nil {
		return fmt.Errorf("migrate onboarding: %w", err)
	}
	return nil
}

// CreateOnboardingSequence inserts a sequence once per user.
func (s *GormStore) CreateOnboardingSequence(ctx context.Context, seq domain.OnboardingSequence) (domain.OnboardingSequence, bool, error) {
	model := onboardingToModel(seq)
	res := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.OnboardingSequence{}, false, res.Error
	}
	if res.RowsAffected == 1 {
		return seq, true, nil
	}
	existing, ok, err := s.GetOnboardingSequence(ctx, seq.UserID)
	if err != nil {
		return domain.OnboardingSequence{}, false, err
	}
	if !ok {
		return domain.OnboardingSequence{}, false, fmt.Errorf("onboarding sequence for %s vanished", seq.UserID)
	}
	return existing, false, nil
}

// GetOnboardingSequence returns a user's sequence.
func (s *GormStore) GetOnboardingSequence(ctx context.Context, userID string) (domain.OnboardingSequence, bool, error) {
	var model OnboardingSequenceModel
	ok, err := first(s.conn(ctx), &model, "user_id = ?", userID)
	if err != nil || !ok {
		return domain.OnboardingSequence{}, false, err
	}
	return onboardingFromModel(model), true, nil
}

// ListOnboardingSequences returns sequences ordered by start time.
func (s *GormStore) ListOnboardingSequences(ctx context.Context, activeOnly bool) ([]domain.OnboardingSequence, error) {
	tx := s.conn(ctx).Order("started_at ASC")
	if activeOnly {
		tx = tx.Where("completed = ?", false)
	}
	var models []OnboardingSequenceModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.OnboardingSequence, 0, len(models))
	for _, m := range models {
		res = append(res, onboardingFromModel(m))
	}
	return res, nil
}

// AdvanceOnboarding moves a sequence forward by one step if it is still at fromStep.
func (s *GormStore) AdvanceOnboarding(ctx context.Context, userID string, fromStep int, sentAt *time.Time) (bool, error) {
	updates := map[string]any{
		"current_step": gorm.Expr("current_step + 1"),
	}
	if sentAt != nil {
		updates["last_email_sent_at"] = sentAt.UTC()
	}
	res := s.conn(ctx).Model(&OnboardingSequenceModel{}).
		Where("user_id = ? AND current_step = ? AND completed = ?", userID, fromStep, false).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompleteOnboarding marks the sequence terminal.
func (s *GormStore) CompleteOnboarding(ctx context.Context, userID string) error {
	return s.conn(ctx).Model(&OnboardingSequenceModel{}).Where("user_id = ?", userID).Update("completed", true).Error
}

// HasOnboardingEmail reports whether the step email was already logged.
func (s *GormStore) HasOnboardingEmail(ctx context.Context, userID, emailType string) (bool, error) {
	var count int64
	if err := s.conn(ctx).Model(&OnboardingEmailLogModel{}).
		Where("user_id = ? AND email_type = ?", userID, emailType).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordOnboardingEmail appends a log row, ignoring duplicates.
func (s *GormStore) RecordOnboardingEmail(ctx context.Context, entry domain.OnboardingEmailLog) error {
	model := OnboardingEmailLogModel{UserID: entry.UserID, EmailType: entry.EmailType, SentAt: entry.SentAt.UTC()}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "email_type"}},
		DoNothing: true,
	}).Create(&model).Error
}

// ListOnboardingEmails returns log rows newest first.
func (s *GormStore) ListOnboardingEmails(ctx context.Context, userID string) ([]domain.OnboardingEmailLog, error) {
	tx := s.conn(ctx).Order("sent_at DESC")
	if userID != "" {
		tx = tx.Where("user_id = ?", userID)
	}
	var models []OnboardingEmailLogModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.OnboardingEmailLog, 0, len(models))
	for _, m := range models {
		res = append(res, domain.OnboardingEmailLog{UserID: m.UserID, EmailType: m.EmailType, SentAt: m.SentAt})
	}
	return res, nil
}

// content

// SaveBlogPost upserts a post and swaps its categories in one transaction.
func (s *GormStore) SaveBlogPost(ctx context.Context, post domain.BlogPost, categoryIDs []string) error {
	model := BlogPostModel{
		ID:          post.ID,
		Title:       post.Title,
		Slug:        post.Slug,
		Excerpt:     post.Excerpt,
		Content:     post.Content,
		Published:   post.Published,
		PublishedAt: post.PublishedAt,
		CreatedAt:   post.CreatedAt,
		UpdatedAt:   post.UpdatedAt,
	}
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "slug", "excerpt", "content", "published", "published_at", "updated_at"}),
		}).Create(&model).Error; err != nil {
			return err
		}
		if err := tx.Delete(&BlogPostCategoryModel{}, "post_id = ?", post.ID).Error; err != nil {
			return err
		}
		if len(categoryIDs) == 0 {
			return nil
		}
		links := make([]BlogPostCategoryModel, 0, len(categoryIDs))
		for _, id := range categoryIDs {
			links = append(links, BlogPostCategoryModel{PostID: post.ID, CategoryID: id})
		}
		return tx.Create(&links).Error
	})
}

// GetBlogPost returns a post by ID with categories.
func (s *GormStore) GetBlogPost(ctx context.Context, id string) (domain.BlogPost, bool, error) {
	return s.getBlogPost(ctx, "id = ?", id)
}

// GetBlogPostBySlug returns a post by slug with categories.
func (s *GormStore) GetBlogPostBySlug(ctx context.Context, slug string) (domain.BlogPost, bool, error) {
	return s.getBlogPost(ctx, "slug = ?", slug)
}

func (s *GormStore) getBlogPost(ctx context.Context, cond string, arg string) (domain.BlogPost, bool, error) {
	var model BlogPostModel
	ok, err := first(s.conn(ctx).Where(cond, arg), &model)
	if err != nil || !ok {
		return domain.BlogPost{}, false, err
	}
	cats, err := s.postCategories(ctx, []string{model.ID})
	if err != nil {
		return domain.BlogPost{}, false, err
	}
	return blogPostFromModel(model, cats[model.ID]), true, nil
}

// ListBlogPosts returns posts newest first.
func (s *GormStore) ListBlogPosts(ctx context.Context, publishedOnly bool) ([]domain.BlogPost, error) {
	tx := s.conn(ctx).Order("created_at DESC")
	if publishedOnly {
		tx = tx.Where("published = ?", true)
	}
	var models []BlogPostModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	cats, err := s.postCategories(ctx, ids)
	if err != nil {
		return nil, err
	}
	res := make([]domain.BlogPost, 0, len(models))
	for _, m := range models {
		res = append(res, blogPostFromModel(m, cats[m.ID]))
	}
	return res, nil
}

type postCategoryRow struct {
	PostID string
	ID     string
	Name   string
	Slug   string
}

func (s *GormStore) postCategories(ctx context.Context, postIDs []string) (map[string][]domain.BlogCategory, error) {
	out := make(map[string][]domain.BlogCategory, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	var rows []postCategoryRow
	if err := s.conn(ctx).Table("blog_post_category_models AS pc").
		Select("pc.post_id, c.id, c.name, c.slug").
		Joins("JOIN blog_category_models c ON c.id = pc.category_id").
		Where("pc.post_id IN ?", postIDs).
		Order("c.name ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.PostID] = append(out[r.PostID], domain.BlogCategory{ID: r.ID, Name: r.Name, Slug: r.Slug})
	}
	return out, nil
}

// DeleteBlogPost removes a post and its category links.
func (s *GormStore) DeleteBlogPost(ctx context.Context, id string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&BlogPostCategoryModel{}, "post_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BlogPostModel{}, "id = ?", id).Error
	})
}

// SaveBlogCategory upserts a category.
func (s *GormStore) SaveBlogCategory(ctx context.Context, c domain.BlogCategory) error {
	model := BlogCategoryModel{ID: c.ID, Name: c.Name, Slug: c.Slug}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "slug"}),
	}).Create(&model).Error
}

// ListBlogCategories returns categories ordered by name.
func (s *GormStore) ListBlogCategories(ctx context.Context) ([]domain.BlogCategory, error) {
	var models []BlogCategoryModel
	if err := s.conn(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.BlogCategory, 0, len(models))
	for _, m := range models {
		res = append(res, domain.BlogCategory{ID: m.ID, Name: m.Name, Slug: m.Slug})
	}
	return res, nil
}

// SaveLegalPage upserts a legal page by slug.
func (s *GormStore) SaveLegalPage(ctx context.Context, page domain.LegalPage) error {
	model := LegalPageModel{Slug: page.Slug, Title: page.Title, Content: page.Content, UpdatedAt: page.UpdatedAt}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "content", "updated_at"}),
	}).Create(&model).Error
}

// GetLegalPage returns a legal page by slug.
func (s *GormStore) GetLegalPage(ctx context.Context, slug string) (domain.LegalPage, bool, error) {
	var model LegalPageModel
	ok, err := first(s.conn(ctx), &model, "slug = ?", slug)
	if err != nil || !ok {
		return domain.LegalPage{}, false, err
	}
	return domain.LegalPage{Slug: model.Slug, Title: model.Title, Content: model.Content, UpdatedAt: model.UpdatedAt}, true, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         role,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	formats, _ := json.Marshal(d.Formats)
	return DocumentModel{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Price:       d.Price,
		Formats:     formats,
		Category:    string(d.Category),
		BlobKey:     d.BlobKey,
		PageCount:   d.PageCount,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	var formats []domain.Format
	if len(m.Formats) > 0 {
		_ = json.Unmarshal(m.Formats, &formats)
	}
	return domain.Document{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Price:       m.Price,
		Formats:     formats,
		Category:    domain.Category(m.Category),
		BlobKey:     m.BlobKey,
		PageCount:   m.PageCount,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func bundleFromModel(m BundleModel, documentIDs []string) domain.Bundle {
	if documentIDs == nil {
		documentIDs = []string{}
	}
	return domain.Bundle{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Price:       m.Price,
		DocumentIDs: documentIDs,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func purchaseToModel(p domain.Purchase) PurchaseModel {
	return PurchaseModel{
		ID:              p.ID,
		UserID:          p.UserID,
		DocumentID:      p.DocumentID,
		StripeSessionID: p.StripeSessionID,
		Amount:          p.Amount,
		Status:          string(p.Status),
		DownloadCount:   p.DownloadCount,
		ExpiresAt:       p.ExpiresAt,
		CreatedAt:       p.CreatedAt,
	}
}

func purchaseFromModel(m PurchaseModel) domain.Purchase {
	return domain.Purchase{
		ID:              m.ID,
		UserID:          m.UserID,
		DocumentID:      m.DocumentID,
		StripeSessionID: m.StripeSessionID,
		Amount:          m.Amount,
		Status:          domain.PurchaseStatus(m.Status),
		DownloadCount:   m.DownloadCount,
		ExpiresAt:       m.ExpiresAt,
		CreatedAt:       m.CreatedAt,
	}
}

func onboardingToModel(seq domain.OnboardingSequence) OnboardingSequenceModel {
	return OnboardingSequenceModel{
		UserID:          seq.UserID,
		Email:           seq.Email,
		Name:            seq.Name,
		StartedAt:       seq.StartedAt,
		CurrentStep:     seq.CurrentStep,
		LastEmailSentAt: seq.LastEmailSentAt,
		Completed:       seq.Completed,
	}
}

func onboardingFromModel(m OnboardingSequenceModel) domain.OnboardingSequence {
	return domain.OnboardingSequence{
		UserID:          m.UserID,
		Email:           m.Email,
		Name:            m.Name,
		StartedAt:       m.StartedAt,
		CurrentStep:     m.CurrentStep,
		LastEmailSentAt: m.LastEmailSentAt,
		Completed:       m.Completed,
	}
}

func blogPostFromModel(m BlogPostModel, cats []domain.BlogCategory) domain.BlogPost {
	if cats == nil {
		cats = []domain.BlogCategory{}
	}
	return domain.BlogPost{
		ID:          m.ID,
		Title:       m.Title,
		Slug:        m.Slug,
		Excerpt:     m.Excerpt,
		Content:     m.Content,
		Published:   m.Published,
		Categories:  cats,
		PublishedAt: m.PublishedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
