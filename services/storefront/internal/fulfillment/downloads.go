package fulfillment

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"paperwise/internal/util"
	"paperwise/pkg/domain"
	"paperwise/pkg/storage"
)

// DownloadConfig wires Downloads.
type DownloadConfig struct {
	Store   Store
	Objects storage.ObjectStore
	// Expiry is the lifetime of the presigned object URL, not of the purchase.
	Expiry time.Duration
	Now    func() time.Time
}

// Downloads serves purchased files to their owners while the purchase is valid.
type Downloads struct {
	store   Store
	objects storage.ObjectStore
	expiry  time.Duration
	now     func() time.Time
}

func NewDownloads(cfg DownloadConfig) *Downloads {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Downloads{store: cfg.Store, objects: cfg.Objects, expiry: expiry, now: now}
}

// Link checks ownership and validity, counts the download and returns a
// presigned object URL. Foreign purchases look missing.
func (d *Downloads) Link(ctx context.Context, userID, purchaseID string) (string, error) {
	p, ok, err := d.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return "", fmt.Errorf("get purchase: %w", err)
	}
	if !ok || p.UserID != userID {
		return "", domain.NotFound("purchase not found")
	}
	if p.Status != domain.PurchaseCompleted {
		return "", domain.Forbidden("purchase is not active")
	}
	if p.Expired(d.now()) {
		return "", domain.Gone("download link has expired")
	}
	doc, ok, err := d.store.GetDocument(ctx, p.DocumentID)
	if err != nil {
		return "", fmt.Errorf("get document: %w", err)
	}
	if !ok || doc.BlobKey == "" {
		return "", domain.NotFound("document file not found")
	}
	url, err := d.objects.PresignGet(ctx, doc.BlobKey, doc.Name+filepath.Ext(doc.BlobKey), d.expiry)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	if err := d.store.IncrementDownloadCount(ctx, p.ID); err != nil {
		util.LoggerFromContext(ctx).Warn("download count not updated", "purchase_id", p.ID, "err", err)
	}
	return url, nil
}

// PurchaseView is a purchase as shown on the account page.
type PurchaseView struct {
	domain.Purchase
	DocumentName string `json:"documentName"`
	Expired      bool   `json:"expired"`
	DaysLeft     int    `json:"daysLeft"`
}

// List returns the user's purchases, newest first.
func (d *Downloads) List(ctx context.Context, userID string) ([]PurchaseView, error) {
	purchases, err := d.store.ListPurchasesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	now := d.now()
	names := make(map[string]string)
	out := make([]PurchaseView, 0, len(purchases))
	for _, p := range purchases {
		name, seen := names[p.DocumentID]
		if !seen {
			doc, ok, err := d.store.GetDocument(ctx, p.DocumentID)
			if err != nil {
				return nil, fmt.Errorf("get document: %w", err)
			}
			if ok {
				name = doc.Name
			}
			names[p.DocumentID] = name
		}
		view := PurchaseView{Purchase: p, DocumentName: name, Expired: p.Expired(now)}
		if !view.Expired {
			view.DaysLeft = int(math.Ceil(p.ExpiresAt.Sub(now).Hours() / 24))
		}
		out = append(out, view)
	}
	return out, nil
}
