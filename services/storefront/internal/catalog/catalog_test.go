package catalog

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"paperwise/pkg/domain"
	"paperwise/pkg/storage"
	"paperwise/pkg/store"
)

var fixedNow = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *storage.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore("https://files.test")
	svc := NewService(Config{Store: st, Objects: objects, Now: func() time.Time { return fixedNow }})
	return svc, st, objects
}

func docx(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte("<w:document/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func ndaInput() DocumentInput {
	return DocumentInput{Name: " Mutual NDA ", Description: "two-way", Price: decimal.RequireFromString("19.99"), Category: "Contracts"}
}

func TestCreateDocumentStoresFileAndRecord(t *testing.T) {
	svc, st, objects := newTestService(t)
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, ndaInput(), Upload{Filename: "nda.docx", Data: docx(t)})
	require.NoError(t, err)
	require.Equal(t, "Mutual NDA", doc.Name)
	require.Equal(t, domain.CategoryContracts, doc.Category)
	require.Equal(t, []domain.Format{domain.FormatDOCX}, doc.Formats)
	require.True(t, strings.HasPrefix(doc.BlobKey, "documents/"+doc.ID+"/"))

	_, ok := objects.Object(doc.BlobKey)
	require.True(t, ok)
	stored, ok, err := st.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, stored.Price.Equal(decimal.RequireFromString("19.99")))
}

func TestCreateDocumentValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	file := Upload{Filename: "nda.docx", Data: docx(t)}

	in := ndaInput()
	in.Name = " "
	_, err := svc.CreateDocument(ctx, in, file)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	in = ndaInput()
	in.Price = decimal.Zero
	_, err = svc.CreateDocument(ctx, in, file)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	for _, price := range []string{"0.004", "19.999", "-5"} {
		in = ndaInput()
		in.Price = decimal.RequireFromString(price)
		_, err = svc.CreateDocument(ctx, in, file)
		require.Equal(t, domain.KindValidation, domain.KindOf(err), "price %s", price)
	}

	in = ndaInput()
	in.Category = "poetry"
	_, err = svc.CreateDocument(ctx, in, file)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = svc.CreateDocument(ctx, ndaInput(), Upload{Filename: "notes.txt", Data: []byte("hi")})
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = svc.CreateDocument(ctx, ndaInput(), Upload{Filename: "nda.docx"})
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestUpdateDocumentReplacesFile(t *testing.T) {
	svc, _, objects := newTestService(t)
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, ndaInput(), Upload{Filename: "nda.docx", Data: docx(t)})
	require.NoError(t, err)
	oldKey := doc.BlobKey

	svc.now = func() time.Time { return fixedNow.Add(time.Minute) }
	in := ndaInput()
	in.Price = decimal.RequireFromString("24.50")
	updated, err := svc.UpdateDocument(ctx, doc.ID, in, &Upload{Filename: "nda-v2.docx", Data: docx(t)})
	require.NoError(t, err)
	require.NotEqual(t, oldKey, updated.BlobKey)
	require.Equal(t, doc.CreatedAt, updated.CreatedAt)
	_, ok := objects.Object(oldKey)
	require.False(t, ok)

	_, err = svc.UpdateDocument(ctx, "missing", in, nil)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestDeleteDocumentWithPurchasesConflicts(t *testing.T) {
	svc, st, objects := newTestService(t)
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, ndaInput(), Upload{Filename: "nda.docx", Data: docx(t)})
	require.NoError(t, err)
	_, _, err = st.CreatePurchase(ctx, domain.Purchase{
		ID: "p1", UserID: "u1", DocumentID: doc.ID, StripeSessionID: "cs_1",
		Amount: doc.Price, Status: domain.PurchaseCompleted, ExpiresAt: fixedNow.Add(domain.PurchaseValidity), CreatedAt: fixedNow,
	})
	require.NoError(t, err)

	err = svc.DeleteDocument(ctx, doc.ID)
	require.Equal(t, domain.KindConflict, domain.KindOf(err))
	_, ok := objects.Object(doc.BlobKey)
	require.True(t, ok, "file must survive a refused delete")
}

func TestDeleteDocumentRemovesFile(t *testing.T) {
	svc, _, objects := newTestService(t)
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, ndaInput(), Upload{Filename: "nda.docx", Data: docx(t)})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteDocument(ctx, doc.ID))
	_, ok := objects.Object(doc.BlobKey)
	require.False(t, ok)
	_, err = svc.GetDocument(ctx, doc.ID)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestListDocumentsByCategory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateDocument(ctx, ndaInput(), Upload{Filename: "nda.docx", Data: docx(t)})
	require.NoError(t, err)
	in := ndaInput()
	in.Name = "Offer letter"
	in.Category = "employment"
	_, err = svc.CreateDocument(ctx, in, Upload{Filename: "offer.docx", Data: docx(t)})
	require.NoError(t, err)

	all, err := svc.ListDocuments(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	employment, err := svc.ListDocuments(ctx, "employment")
	require.NoError(t, err)
	require.Len(t, employment, 1)
	require.Equal(t, "Offer letter", employment[0].Name)

	_, err = svc.ListDocuments(ctx, "poetry")
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestSaveBundleValidatesDocuments(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	doc, err := svc.CreateDocument(ctx, ndaInput(), Upload{Filename: "nda.docx", Data: docx(t)})
	require.NoError(t, err)

	_, err = svc.SaveBundle(ctx, "", BundleInput{Name: "Starter", Price: decimal.RequireFromString("29"), DocumentIDs: []string{doc.ID, "ghost"}})
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, err = svc.SaveBundle(ctx, "", BundleInput{Name: "Starter", Price: decimal.RequireFromString("0.001"), DocumentIDs: []string{doc.ID}})
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	b, err := svc.SaveBundle(ctx, "", BundleInput{Name: "Starter", Price: decimal.RequireFromString("29"), DocumentIDs: []string{doc.ID, doc.ID}})
	require.NoError(t, err)
	require.Equal(t, []string{doc.ID}, b.DocumentIDs)

	svc.now = func() time.Time { return fixedNow.Add(time.Hour) }
	renamed, err := svc.SaveBundle(ctx, b.ID, BundleInput{Name: "Starter kit", Price: decimal.RequireFromString("25"), DocumentIDs: []string{doc.ID}})
	require.NoError(t, err)
	require.Equal(t, fixedNow, renamed.CreatedAt)

	require.NoError(t, svc.DeleteBundle(ctx, b.ID))
	require.Equal(t, domain.KindNotFound, domain.KindOf(svc.DeleteBundle(ctx, b.ID)))
}

func TestBlogPublishingAndSlugs(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	cat, err := svc.CreateBlogCategory(ctx, "Small Business", "")
	require.NoError(t, err)
	require.Equal(t, "small-business", cat.Slug)

	draft, err := svc.SaveBlogPost(ctx, "", BlogPostInput{Title: "Do I need an NDA?", Content: "yes", CategoryIDs: []string{cat.ID}})
	require.NoError(t, err)
	require.Equal(t, "do-i-need-an-nda", draft.Slug)
	require.Nil(t, draft.PublishedAt)

	_, err = svc.BlogPostBySlug(ctx, draft.Slug)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
	public, err := svc.ListBlogPosts(ctx, false)
	require.NoError(t, err)
	require.Empty(t, public)

	published, err := svc.SaveBlogPost(ctx, draft.ID, BlogPostInput{Title: draft.Title, Slug: draft.Slug, Content: "yes", Published: true, CategoryIDs: []string{cat.ID}})
	require.NoError(t, err)
	require.NotNil(t, published.PublishedAt)
	got, err := svc.BlogPostBySlug(ctx, draft.Slug)
	require.NoError(t, err)
	require.Len(t, got.Categories, 1)

	_, err = svc.SaveBlogPost(ctx, "", BlogPostInput{Title: "Other", Slug: draft.Slug})
	require.Equal(t, domain.KindConflict, domain.KindOf(err))
	_, err = svc.SaveBlogPost(ctx, "", BlogPostInput{Title: "Bad", CategoryIDs: []string{"nope"}})
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	require.NoError(t, svc.DeleteBlogPost(ctx, draft.ID))
	require.Equal(t, domain.KindNotFound, domain.KindOf(svc.DeleteBlogPost(ctx, draft.ID)))
}

func TestLegalPageUpsert(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.LegalPage(ctx, "terms")
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = svc.SaveLegalPage(ctx, "Terms", "Terms of Service", "v1")
	require.NoError(t, err)
	_, err = svc.SaveLegalPage(ctx, "terms", "Terms of Service", "v2")
	require.NoError(t, err)
	page, err := svc.LegalPage(ctx, "terms")
	require.NoError(t, err)
	require.Equal(t, "v2", page.Content)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Hello World":        "hello-world",
		"  --Already-Slug--": "already-slug",
		"NDA: what & why?":   "nda-what-why",
		"":                   "",
	}
	for in, want := range cases {
		require.Equal(t, want, Slugify(in), in)
	}
}
