package catalog

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"paperwise/internal/util"
	"paperwise/pkg/domain"
)

// BlogPostInput is the editable part of a blog post.
type BlogPostInput struct {
	Title       string
	Slug        string
	Excerpt     string
	Content     string
	Published   bool
	CategoryIDs []string
}

// ListBlogPosts returns published posts, or every post when includeDrafts is set.
func (s *Service) ListBlogPosts(ctx context.Context, includeDrafts bool) ([]domain.BlogPost, error) {
	return s.store.ListBlogPosts(ctx, !includeDrafts)
}

// BlogPostBySlug returns a published post.
func (s *Service) BlogPostBySlug(ctx context.Context, slug string) (domain.BlogPost, error) {
	post, ok, err := s.store.GetBlogPostBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		return domain.BlogPost{}, fmt.Errorf("get blog post: %w", err)
	}
	if !ok || !post.Published {
		return domain.BlogPost{}, domain.NotFound("post not found")
	}
	return post, nil
}

// SaveBlogPost creates a post when id is empty, otherwise replaces it. The
// category set is replaced as a whole.
func (s *Service) SaveBlogPost(ctx context.Context, id string, in BlogPostInput) (domain.BlogPost, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.BlogPost{}, domain.Validation("title is required")
	}
	slug := Slugify(in.Slug)
	if slug == "" {
		slug = Slugify(title)
	}
	if slug == "" {
		return domain.BlogPost{}, domain.Validation("slug is required")
	}
	known, err := s.store.ListBlogCategories(ctx)
	if err != nil {
		return domain.BlogPost{}, fmt.Errorf("list categories: %w", err)
	}
	valid := make(map[string]bool, len(known))
	for _, c := range known {
		valid[c.ID] = true
	}
	categoryIDs := make([]string, 0, len(in.CategoryIDs))
	for _, cid := range in.CategoryIDs {
		if !valid[cid] {
			return domain.BlogPost{}, domain.Validation("unknown category %q", cid)
		}
		categoryIDs = append(categoryIDs, cid)
	}

	now := s.now().UTC()
	post := domain.BlogPost{ID: id, CreatedAt: now}
	if id == "" {
		post.ID = util.NewRecordID()
	} else {
		existing, ok, err := s.store.GetBlogPost(ctx, id)
		if err != nil {
			return domain.BlogPost{}, fmt.Errorf("get blog post: %w", err)
		}
		if !ok {
			return domain.BlogPost{}, domain.NotFound("post not found")
		}
		post.CreatedAt = existing.CreatedAt
		post.PublishedAt = existing.PublishedAt
	}
	post.Title = title
	post.Slug = slug
	post.Excerpt = strings.TrimSpace(in.Excerpt)
	post.Content = in.Content
	post.Published = in.Published
	post.UpdatedAt = now
	if post.Published && post.PublishedAt == nil {
		post.PublishedAt = &now
	}
	if err := s.store.SaveBlogPost(ctx, post, categoryIDs); err != nil {
		return domain.BlogPost{}, err
	}
	saved, _, err := s.store.GetBlogPost(ctx, post.ID)
	if err != nil {
		return domain.BlogPost{}, fmt.Errorf("reload blog post: %w", err)
	}
	return saved, nil
}

func (s *Service) DeleteBlogPost(ctx context.Context, id string) error {
	if _, ok, err := s.store.GetBlogPost(ctx, id); err != nil {
		return fmt.Errorf("get blog post: %w", err)
	} else if !ok {
		return domain.NotFound("post not found")
	}
	return s.store.DeleteBlogPost(ctx, id)
}

func (s *Service) ListBlogCategories(ctx context.Context) ([]domain.BlogCategory, error) {
	return s.store.ListBlogCategories(ctx)
}

func (s *Service) CreateBlogCategory(ctx context.Context, name, slug string) (domain.BlogCategory, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.BlogCategory{}, domain.Validation("name is required")
	}
	if slug = Slugify(slug); slug == "" {
		slug = Slugify(name)
	}
	c := domain.BlogCategory{ID: util.NewRecordID(), Name: name, Slug: slug}
	if err := s.store.SaveBlogCategory(ctx, c); err != nil {
		return domain.BlogCategory{}, fmt.Errorf("save category: %w", err)
	}
	return c, nil
}

func (s *Service) LegalPage(ctx context.Context, slug string) (domain.LegalPage, error) {
	page, ok, err := s.store.GetLegalPage(ctx, Slugify(slug))
	if err != nil {
		return domain.LegalPage{}, fmt.Errorf("get legal page: %w", err)
	}
	if !ok {
		return domain.LegalPage{}, domain.NotFound("page not found")
	}
	return page, nil
}

// SaveLegalPage creates or replaces the page at slug.
func (s *Service) SaveLegalPage(ctx context.Context, slug, title, content string) (domain.LegalPage, error) {
	slug = Slugify(slug)
	if slug == "" {
		return domain.LegalPage{}, domain.Validation("slug is required")
	}
	if strings.TrimSpace(title) == "" {
		return domain.LegalPage{}, domain.Validation("title is required")
	}
	page := domain.LegalPage{Slug: slug, Title: strings.TrimSpace(title), Content: content, UpdatedAt: s.now().UTC()}
	if err := s.store.SaveLegalPage(ctx, page); err != nil {
		return domain.LegalPage{}, fmt.Errorf("save legal page: %w", err)
	}
	return page, nil
}

// Slugify lowercases s and joins runs of letters and digits with single dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}
