package fulfillment

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"paperwise/pkg/domain"
	"paperwise/pkg/mail"
)

const expiryLayout = "January 2, 2006"

var multiPurchaseTemplate = template.Must(template.New("multi").Parse(`<p>Hi {{.Name}},</p>
<p>Thank you for your purchase. Your documents are ready to download:</p>
<ul>
{{- range .Items}}
<li>{{.Name}}: <a href="{{.URL}}">Download</a></li>
{{- end}}
</ul>
<p>Your download links are valid until {{.Expires}}.</p>
<p>The Paperwise team</p>`))

var singlePurchaseTemplate = template.Must(template.New("single").Parse(`<p>Hi {{.Name}},</p>
<p>Thank you for purchasing <strong>{{.Document}}</strong>.</p>
<p><a href="{{.URL}}">Download your document</a></p>
<p>This link is valid until {{.Expires}}.</p>
<p>The Paperwise team</p>`))

type downloadItem struct {
	Name string
	URL  string
}

func displayName(u domain.User) string {
	if u.Name != "" {
		return u.Name
	}
	return "there"
}

func formatExpiry(t time.Time) string {
	return t.UTC().Format(expiryLayout)
}

// multiMessage lists every purchased document with its own link. All
// purchases of one session share the expiry of the first.
func (h *Handler) multiMessage(user domain.User, docs []domain.Document, purchases []domain.Purchase) (mail.Message, error) {
	items := make([]downloadItem, len(purchases))
	for i, p := range purchases {
		items[i] = downloadItem{Name: docs[i].Name, URL: h.DownloadURL(p.ID)}
	}
	var body bytes.Buffer
	err := multiPurchaseTemplate.Execute(&body, map[string]any{
		"Name":    displayName(user),
		"Items":   items,
		"Expires": formatExpiry(purchases[0].ExpiresAt),
	})
	if err != nil {
		return mail.Message{}, fmt.Errorf("render purchase email: %w", err)
	}
	return mail.Message{
		To:      mail.Address{Email: user.Email, Name: user.Name},
		Subject: "Your Paperwise documents are ready",
		HTML:    body.String(),
		Tags:    []string{"purchase"},
	}, nil
}

func (h *Handler) singleMessage(user domain.User, doc domain.Document, p domain.Purchase) (mail.Message, error) {
	var body bytes.Buffer
	err := singlePurchaseTemplate.Execute(&body, map[string]any{
		"Name":     displayName(user),
		"Document": doc.Name,
		"URL":      h.DownloadURL(p.ID),
		"Expires":  formatExpiry(p.ExpiresAt),
	})
	if err != nil {
		return mail.Message{}, fmt.Errorf("render purchase email: %w", err)
	}
	return mail.Message{
		To:      mail.Address{Email: user.Email, Name: user.Name},
		Subject: fmt.Sprintf("Your Paperwise document: %s", doc.Name),
		HTML:    body.String(),
		Tags:    []string{"purchase"},
	}, nil
}
