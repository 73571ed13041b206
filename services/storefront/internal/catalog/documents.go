// Package catalog serves the public storefront catalog and the admin
// back-office that maintains it.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"paperwise/internal/util"
	"paperwise/pkg/docfile"
	"paperwise/pkg/domain"
	"paperwise/pkg/storage"
	"paperwise/pkg/store"
)

// Store is the persistence the catalog needs.
type Store interface {
	store.CatalogStore
	store.ContentStore
}

// Config wires the catalog service.
type Config struct {
	Store          Store
	Objects        storage.ObjectStore
	MaxUploadBytes int64
	Now            func() time.Time
}

// Service implements catalog reads and admin writes.
type Service struct {
	store          Store
	objects        storage.ObjectStore
	maxUploadBytes int64
	now            func() time.Time
}

func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	return &Service{store: cfg.Store, objects: cfg.Objects, maxUploadBytes: maxBytes, now: now}
}

// DocumentInput is the editable part of a document.
type DocumentInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Category    string
	Formats     []string
}

// Upload is a template file sent by an admin.
type Upload struct {
	Filename string
	Data     []byte
}

// validatePrice accepts positive amounts in whole cents.
func validatePrice(p decimal.Decimal) error {
	if !p.IsPositive() {
		return domain.Validation("price must be greater than zero")
	}
	if !p.Equal(p.Round(2)) {
		return domain.Validation("price must have at most two decimal places")
	}
	return nil
}

func (in DocumentInput) validate() (domain.Category, []domain.Format, error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", nil, domain.Validation("name is required")
	}
	if err := validatePrice(in.Price); err != nil {
		return "", nil, err
	}
	category, ok := domain.ParseCategory(strings.ToLower(strings.TrimSpace(in.Category)))
	if !ok {
		return "", nil, domain.Validation("unknown category %q", in.Category)
	}
	formats := make([]domain.Format, 0, len(in.Formats))
	for _, raw := range in.Formats {
		f := domain.Format(strings.ToLower(strings.TrimSpace(raw)))
		if f != domain.FormatPDF && f != domain.FormatDOCX {
			return "", nil, domain.Validation("unknown format %q", raw)
		}
		formats = addFormat(formats, f)
	}
	return category, formats, nil
}

func addFormat(formats []domain.Format, f domain.Format) []domain.Format {
	for _, existing := range formats {
		if existing == f {
			return formats
		}
	}
	return append(formats, f)
}

func (s *Service) ListDocuments(ctx context.Context, category string) ([]domain.Document, error) {
	filter := store.DocumentFilter{}
	if category = strings.TrimSpace(category); category != "" {
		c, ok := domain.ParseCategory(strings.ToLower(category))
		if !ok {
			return nil, domain.Validation("unknown category %q", category)
		}
		filter.Category = c
	}
	return s.store.ListDocuments(ctx, filter)
}

func (s *Service) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	doc, ok, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return domain.Document{}, domain.NotFound("document not found")
	}
	return doc, nil
}

// CreateDocument validates and stores the template file, then the record.
func (s *Service) CreateDocument(ctx context.Context, in DocumentInput, file Upload) (domain.Document, error) {
	category, formats, err := in.validate()
	if err != nil {
		return domain.Document{}, err
	}
	now := s.now().UTC()
	doc := domain.Document{
		ID:          util.NewRecordID(),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price.Round(2),
		Category:    category,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	info, key, err := s.putFile(ctx, doc.ID, file)
	if err != nil {
		return domain.Document{}, err
	}
	doc.BlobKey = key
	doc.PageCount = info.PageCount
	doc.Formats = addFormat(formats, info.Format)
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		s.deleteObject(ctx, key)
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	util.LoggerFromContext(ctx).Info("document created", "document_id", doc.ID, "blob_key", key)
	return doc, nil
}

// UpdateDocument replaces the editable fields and, when file is set, the template file.
func (s *Service) UpdateDocument(ctx context.Context, id string, in DocumentInput, file *Upload) (domain.Document, error) {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	category, formats, err := in.validate()
	if err != nil {
		return domain.Document{}, err
	}
	doc.Name = strings.TrimSpace(in.Name)
	doc.Description = strings.TrimSpace(in.Description)
	doc.Price = in.Price.Round(2)
	doc.Category = category
	doc.UpdatedAt = s.now().UTC()
	oldKey := doc.BlobKey
	if file != nil {
		info, key, err := s.putFile(ctx, doc.ID, *file)
		if err != nil {
			return domain.Document{}, err
		}
		doc.BlobKey = key
		doc.PageCount = info.PageCount
		formats = addFormat(formats, info.Format)
	}
	if len(formats) > 0 {
		doc.Formats = formats
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		if doc.BlobKey != oldKey {
			s.deleteObject(ctx, doc.BlobKey)
		}
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	if doc.BlobKey != oldKey && oldKey != "" {
		s.deleteObject(ctx, oldKey)
	}
	return doc, nil
}

// DeleteDocument removes a document that no purchase references.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if doc.BlobKey != "" {
		s.deleteObject(ctx, doc.BlobKey)
	}
	util.LoggerFromContext(ctx).Info("document deleted", "document_id", id)
	return nil
}

func (s *Service) putFile(ctx context.Context, documentID string, file Upload) (docfile.Info, string, error) {
	if len(file.Data) == 0 {
		return docfile.Info{}, "", domain.Validation("file is required")
	}
	if int64(len(file.Data)) > s.maxUploadBytes {
		return docfile.Info{}, "", domain.Validation("file exceeds %d bytes", s.maxUploadBytes)
	}
	info, err := docfile.Inspect(file.Filename, file.Data)
	if err != nil {
		return docfile.Info{}, "", domain.Validation("invalid document file: %v", err)
	}
	key := fmt.Sprintf("documents/%s/%d%s", documentID, s.now().UnixNano(), strings.ToLower(filepath.Ext(file.Filename)))
	if err := s.objects.Put(ctx, key, bytes.NewReader(file.Data), int64(len(file.Data)), info.ContentType); err != nil {
		return docfile.Info{}, "", fmt.Errorf("store document file: %w", err)
	}
	return info, key, nil
}

func (s *Service) deleteObject(ctx context.Context, key string) {
	if err := s.objects.Delete(ctx, key); err != nil {
		util.LoggerFromContext(ctx).Warn("document file not deleted", "blob_key", key, "err", err)
	}
}

// BundleInput is the editable part of a bundle.
type BundleInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	DocumentIDs []string
}

func (s *Service) ListBundles(ctx context.Context) ([]domain.Bundle, error) {
	return s.store.ListBundles(ctx)
}

func (s *Service) GetBundle(ctx context.Context, id string) (domain.Bundle, error) {
	b, ok, err := s.store.GetBundle(ctx, id)
	if err != nil {
		return domain.Bundle{}, fmt.Errorf("get bundle: %w", err)
	}
	if !ok {
		return domain.Bundle{}, domain.NotFound("bundle not found")
	}
	return b, nil
}

// SaveBundle creates a bundle when id is empty, otherwise replaces it.
func (s *Service) SaveBundle(ctx context.Context, id string, in BundleInput) (domain.Bundle, error) {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Bundle{}, domain.Validation("name is required")
	}
	if err := validatePrice(in.Price); err != nil {
		return domain.Bundle{}, err
	}
	ids := make([]string, 0, len(in.DocumentIDs))
	seen := make(map[string]bool, len(in.DocumentIDs))
	for _, docID := range in.DocumentIDs {
		docID = strings.TrimSpace(docID)
		if docID == "" || seen[docID] {
			continue
		}
		if _, ok, err := s.store.GetDocument(ctx, docID); err != nil {
			return domain.Bundle{}, fmt.Errorf("get document: %w", err)
		} else if !ok {
			return domain.Bundle{}, domain.Validation("document %s does not exist", docID)
		}
		seen[docID] = true
		ids = append(ids, docID)
	}
	if len(ids) == 0 {
		return domain.Bundle{}, domain.Validation("a bundle needs at least one document")
	}
	now := s.now().UTC()
	b := domain.Bundle{ID: id, CreatedAt: now}
	if id == "" {
		b.ID = util.NewRecordID()
	} else {
		existing, err := s.GetBundle(ctx, id)
		if err != nil {
			return domain.Bundle{}, err
		}
		b.CreatedAt = existing.CreatedAt
	}
	b.Name = strings.TrimSpace(in.Name)
	b.Description = strings.TrimSpace(in.Description)
	b.Price = in.Price.Round(2)
	b.DocumentIDs = ids
	b.UpdatedAt = now
	if err := s.store.SaveBundle(ctx, b); err != nil {
		return domain.Bundle{}, fmt.Errorf("save bundle: %w", err)
	}
	return b, nil
}

func (s *Service) DeleteBundle(ctx context.Context, id string) error {
	if _, err := s.GetBundle(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteBundle(ctx, id)
}
