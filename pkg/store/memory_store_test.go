package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"paperwise/pkg/domain"
)

func seedDocument(t *testing.T, s *MemoryStore, id, name string, price string) domain.Document {
	t.Helper()
	doc := domain.Document{
		ID:       id,
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Category: domain.CategoryContracts,
		Formats:  []domain.Format{domain.FormatPDF},
	}
	if err := s.SaveDocument(context.Background(), doc); err != nil {
		t.Fatalf("save document: %v", err)
	}
	return doc
}

func TestMemoryStoreCartItemsIncrementAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedDocument(t, s, "d1", "NDA", "19.99")
	seedDocument(t, s, "d2", "Lease", "29.00")
	seedDocument(t, s, "d3", "Offer Letter", "9.50")

	if err := s.AddCartItem(ctx, "c1", "d1", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddCartItem(ctx, "c1", "d2", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddCartItem(ctx, "c1", "d1", 2); err != nil {
		t.Fatalf("add again: %v", err)
	}
	lines, err := s.ListCartLines(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(lines) != 2 || lines[0].DocumentID != "d1" || lines[0].Quantity != 3 {
		t.Fatalf("unexpected lines %+v", lines)
	}
	if lines[0].Name != "NDA" || !lines[0].Price.Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("expected catalog join, got %+v", lines[0])
	}

	if err := s.SetCartItemQuantity(ctx, "c1", "d3", 4); err != nil {
		t.Fatalf("set missing line: %v", err)
	}
	if lines, _ = s.ListCartLines(ctx, "c1"); len(lines) != 2 {
		t.Fatalf("setting a missing line must not insert it, got %+v", lines)
	}
	if err := s.SetCartItemQuantity(ctx, "c1", "d1", 0); err != nil {
		t.Fatalf("set zero: %v", err)
	}
	lines, _ = s.ListCartLines(ctx, "c1")
	if len(lines) != 1 || lines[0].DocumentID != "d2" {
		t.Fatalf("expected only d2 left, got %+v", lines)
	}
	if err := s.AddCartItem(ctx, "c1", "d1", 0); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for zero add, got %v", err)
	}
}

func TestMemoryStoreMergeIsAdditive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedDocument(t, s, "d1", "NDA", "10")
	seedDocument(t, s, "d2", "Lease", "20")
	_ = s.AddCartItem(ctx, "c1", "d1", 1)

	err := s.MergeCartItems(ctx, "c1", []domain.CartLine{
		{DocumentID: "d1", Quantity: 2},
		{DocumentID: "d2", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	lines, _ := s.ListCartLines(ctx, "c1")
	got := map[string]int{}
	for _, l := range lines {
		got[l.DocumentID] = l.Quantity
	}
	if got["d1"] != 3 || got["d2"] != 1 {
		t.Fatalf("unexpected merged quantities %v", got)
	}
}

func TestMemoryStoreActiveCartSkipsExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	_ = s.CreateCart(ctx, domain.Cart{ID: "old", UserID: "u1", ExpiresAt: now.Add(-time.Hour)})
	if _, ok, _ := s.ActiveCart(ctx, "u1", now); ok {
		t.Fatalf("expired cart should not be active")
	}
	_ = s.CreateCart(ctx, domain.Cart{ID: "new", UserID: "u1", ExpiresAt: now.Add(time.Hour)})
	cart, ok, err := s.ActiveCart(ctx, "u1", now)
	if err != nil || !ok || cart.ID != "new" {
		t.Fatalf("expected new cart, got %+v ok=%v err=%v", cart, ok, err)
	}
}

func TestMemoryStoreCreatePurchaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := domain.Purchase{ID: "p1", UserID: "u1", DocumentID: "d1", StripeSessionID: "cs_1"}
	if _, created, err := s.CreatePurchase(ctx, p); err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	replay := p
	replay.ID = "p2"
	got, created, err := s.CreatePurchase(ctx, replay)
	if err != nil || created {
		t.Fatalf("replay create: created=%v err=%v", created, err)
	}
	if got.ID != "p1" {
		t.Fatalf("expected existing purchase, got %s", got.ID)
	}
	list, _ := s.ListPurchasesByUser(ctx, "u1")
	if len(list) != 1 {
		t.Fatalf("expected one purchase, got %d", len(list))
	}
}

func TestMemoryStoreDeleteDocumentRejectsPurchased(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedDocument(t, s, "d1", "NDA", "10")
	_, _, _ = s.CreatePurchase(ctx, domain.Purchase{ID: "p1", UserID: "u1", DocumentID: "d1", StripeSessionID: "cs"})
	if err := s.DeleteDocument(ctx, "d1"); domain.KindOf(err) != domain.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryStoreAdvanceOnboardingIsConditional(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	start := time.Now().UTC()
	if _, created, _ := s.CreateOnboardingSequence(ctx, domain.OnboardingSequence{UserID: "u1", Email: "a@b.c", StartedAt: start}); !created {
		t.Fatalf("expected created")
	}
	if _, created, _ := s.CreateOnboardingSequence(ctx, domain.OnboardingSequence{UserID: "u1", Email: "other@b.c"}); created {
		t.Fatalf("second create should return existing")
	}
	sent := start.Add(time.Minute)
	ok, err := s.AdvanceOnboarding(ctx, "u1", 0, &sent)
	if err != nil || !ok {
		t.Fatalf("advance from 0: ok=%v err=%v", ok, err)
	}
	ok, _ = s.AdvanceOnboarding(ctx, "u1", 0, &sent)
	if ok {
		t.Fatalf("stale advance should be a no-op")
	}
	seq, _, _ := s.GetOnboardingSequence(ctx, "u1")
	if seq.CurrentStep != 1 || seq.LastEmailSentAt == nil || !seq.LastEmailSentAt.Equal(sent) {
		t.Fatalf("unexpected sequence %+v", seq)
	}
}

func TestMemoryStoreEmailLogDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	_ = s.RecordOnboardingEmail(ctx, domain.OnboardingEmailLog{UserID: "u1", EmailType: "welcome", SentAt: now})
	_ = s.RecordOnboardingEmail(ctx, domain.OnboardingEmailLog{UserID: "u1", EmailType: "welcome", SentAt: now.Add(time.Second)})
	_ = s.RecordOnboardingEmail(ctx, domain.OnboardingEmailLog{UserID: "u2", EmailType: "welcome", SentAt: now.Add(time.Minute)})

	all, _ := s.ListOnboardingEmails(ctx, "")
	if len(all) != 2 || all[0].UserID != "u2" {
		t.Fatalf("unexpected log %+v", all)
	}
	mine, _ := s.ListOnboardingEmails(ctx, "u1")
	if len(mine) != 1 {
		t.Fatalf("expected one row for u1, got %d", len(mine))
	}
}

func TestMemoryStoreBlogPostCategoriesReplaced(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.SaveBlogCategory(ctx, domain.BlogCategory{ID: "c1", Name: "Legal", Slug: "legal"})
	_ = s.SaveBlogCategory(ctx, domain.BlogCategory{ID: "c2", Name: "Business", Slug: "business"})
	post := domain.BlogPost{ID: "p1", Title: "Hello", Slug: "hello", Published: true}
	if err := s.SaveBlogPost(ctx, post, []string{"c1", "c2"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveBlogPost(ctx, post, []string{"c2"}); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, ok, _ := s.GetBlogPostBySlug(ctx, "hello")
	if !ok || len(got.Categories) != 1 || got.Categories[0].ID != "c2" {
		t.Fatalf("unexpected categories %+v", got.Categories)
	}
	if err := s.SaveBlogPost(ctx, domain.BlogPost{ID: "p2", Slug: "hello"}, nil); domain.KindOf(err) != domain.KindConflict {
		t.Fatalf("expected slug conflict, got %v", err)
	}
}
