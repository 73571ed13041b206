package payment

import (
	"strings"

	"paperwise/pkg/domain"
)

const (
	metaUserID      = "userId"
	metaDocumentID  = "documentId"
	metaDocumentIDs = "documentIds"
)

// Target is what a checkout session pays for: SingleDocument or MultiDocument.
type Target interface {
	encode(meta map[string]string)
}

// SingleDocument is a direct purchase of one document.
type SingleDocument struct {
	DocumentID string
}

// MultiDocument is a cart purchase of one or more documents.
type MultiDocument struct {
	DocumentIDs []string
}

func (s SingleDocument) encode(meta map[string]string) {
	meta[metaDocumentID] = s.DocumentID
}

func (m MultiDocument) encode(meta map[string]string) {
	meta[metaDocumentIDs] = strings.Join(m.DocumentIDs, ",")
}

// CheckoutMetadata is carried on the session and echoed back by the webhook.
type CheckoutMetadata struct {
	UserID string
	Target Target
}

// Map renders the metadata as provider key/value pairs.
func (m CheckoutMetadata) Map() map[string]string {
	out := map[string]string{metaUserID: m.UserID}
	if m.Target != nil {
		m.Target.encode(out)
	}
	return out
}

// ParseMetadata validates raw session metadata. documentIds wins over documentId.
func ParseMetadata(raw map[string]string) (CheckoutMetadata, error) {
	meta := CheckoutMetadata{UserID: strings.TrimSpace(raw[metaUserID])}
	if joined, ok := raw[metaDocumentIDs]; ok && strings.TrimSpace(joined) != "" {
		ids := make([]string, 0, strings.Count(joined, ",")+1)
		seen := make(map[string]bool, cap(ids))
		for _, part := range strings.Split(joined, ",") {
			if id := strings.TrimSpace(part); id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return CheckoutMetadata{}, domain.Validation("documentIds metadata has no ids")
		}
		meta.Target = MultiDocument{DocumentIDs: ids}
		return meta, nil
	}
	if id := strings.TrimSpace(raw[metaDocumentID]); id != "" {
		meta.Target = SingleDocument{DocumentID: id}
		return meta, nil
	}
	return CheckoutMetadata{}, domain.Validation("no document information in session metadata")
}
