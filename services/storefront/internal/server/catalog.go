package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"paperwise/pkg/domain"
	"paperwise/services/storefront/internal/catalog"
)

type bundleRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	DocumentIDs []string        `json:"documentIds"`
}

type blogPostRequest struct {
	Title       string   `json:"title"`
	Slug        string   `json:"slug"`
	Excerpt     string   `json:"excerpt"`
	Content     string   `json:"content"`
	Published   bool     `json:"published"`
	CategoryIDs []string `json:"categoryIds"`
}

type blogCategoryRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type legalPageRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// public catalog

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.app.Catalog().ListDocuments(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeDomainError(w, r, err, "failed to list documents")
		return
	}
	writeList(w, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.app.Catalog().GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleListBundles(w http.ResponseWriter, r *http.Request) {
	bundles, err := s.app.Catalog().ListBundles(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "failed to list bundles")
		return
	}
	writeList(w, bundles)
}

func (s *Server) handleGetBundle(w http.ResponseWriter, r *http.Request) {
	b, err := s.app.Catalog().GetBundle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListBlog(w http.ResponseWriter, r *http.Request) {
	posts, err := s.app.Catalog().ListBlogPosts(r.Context(), false)
	if err != nil {
		writeDomainError(w, r, err, "failed to list posts")
		return
	}
	writeList(w, posts)
}

func (s *Server) handleGetBlogPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.app.Catalog().BlogPostBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleListBlogCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.app.Catalog().ListBlogCategories(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "failed to list categories")
		return
	}
	writeList(w, cats)
}

func (s *Server) handleGetLegalPage(w http.ResponseWriter, r *http.Request) {
	page, err := s.app.Catalog().LegalPage(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeDomainError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// admin back-office

// parseDocumentForm reads the multipart document form. The file is optional
// only when requireFile is false.
func (s *Server) parseDocumentForm(w http.ResponseWriter, r *http.Request, requireFile bool) (catalog.DocumentInput, *catalog.Upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return catalog.DocumentInput{}, nil, false
	}
	price, err := decimal.NewFromString(strings.TrimSpace(r.FormValue("price")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "price must be a decimal number")
		return catalog.DocumentInput{}, nil, false
	}
	in := catalog.DocumentInput{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Price:       price,
		Category:    r.FormValue("category"),
	}
	if formats := strings.TrimSpace(r.FormValue("formats")); formats != "" {
		in.Formats = strings.Split(formats, ",")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if requireFile {
			writeError(w, http.StatusBadRequest, "file is required (field: file)")
			return catalog.DocumentInput{}, nil, false
		}
		return in, nil, true
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file")
		return catalog.DocumentInput{}, nil, false
	}
	return in, &catalog.Upload{Filename: header.Filename, Data: data}, true
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	in, upload, ok := s.parseDocumentForm(w, r, true)
	if !ok {
		return
	}
	doc, err := s.app.Catalog().CreateDocument(r.Context(), in, *upload)
	if err != nil {
		writeDomainError(w, r, err, "failed to create document")
		return
	}
	s.audit(r, "storefront.admin.document.create", "success", "user_id", user.ID, "document_id", doc.ID)
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	in, upload, ok := s.parseDocumentForm(w, r, false)
	if !ok {
		return
	}
	doc, err := s.app.Catalog().UpdateDocument(r.Context(), chi.URLParam(r, "id"), in, upload)
	if err != nil {
		writeDomainError(w, r, err, "failed to update document")
		return
	}
	s.audit(r, "storefront.admin.document.update", "success", "user_id", user.ID, "document_id", doc.ID)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := chi.URLParam(r, "id")
	if err := s.app.Catalog().DeleteDocument(r.Context(), id); err != nil {
		s.audit(r, "storefront.admin.document.delete", "fail", "user_id", user.ID, "document_id", id, "reason", domain.KindOf(err).String())
		writeDomainError(w, r, err, "failed to delete document")
		return
	}
	s.audit(r, "storefront.admin.document.delete", "success", "user_id", user.ID, "document_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSaveBundle(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req bundleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := chi.URLParam(r, "id")
	b, err := s.app.Catalog().SaveBundle(r.Context(), id, catalog.BundleInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		writeDomainError(w, r, err, "failed to save bundle")
		return
	}
	status := http.StatusOK
	if id == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, b)
}

func (s *Server) handleDeleteBundle(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if err := s.app.Catalog().DeleteBundle(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err, "failed to delete bundle")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAdminListBlog(w http.ResponseWriter, r *http.Request, _ domain.User) {
	posts, err := s.app.Catalog().ListBlogPosts(r.Context(), true)
	if err != nil {
		writeDomainError(w, r, err, "failed to list posts")
		return
	}
	writeList(w, posts)
}

func (s *Server) handleSaveBlogPost(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req blogPostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := chi.URLParam(r, "id")
	post, err := s.app.Catalog().SaveBlogPost(r.Context(), id, catalog.BlogPostInput{
		Title:       req.Title,
		Slug:        req.Slug,
		Excerpt:     req.Excerpt,
		Content:     req.Content,
		Published:   req.Published,
		CategoryIDs: req.CategoryIDs,
	})
	if err != nil {
		writeDomainError(w, r, err, "failed to save post")
		return
	}
	status := http.StatusOK
	if id == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, post)
}

func (s *Server) handleDeleteBlogPost(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if err := s.app.Catalog().DeleteBlogPost(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err, "failed to delete post")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleCreateBlogCategory(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req blogCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c, err := s.app.Catalog().CreateBlogCategory(r.Context(), req.Name, req.Slug)
	if err != nil {
		writeDomainError(w, r, err, "failed to save category")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleSaveLegalPage(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req legalPageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	page, err := s.app.Catalog().SaveLegalPage(r.Context(), chi.URLParam(r, "slug"), req.Title, req.Content)
	if err != nil {
		writeDomainError(w, r, err, "failed to save page")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
