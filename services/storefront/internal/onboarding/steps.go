package onboarding

import (
	"bytes"
	"fmt"
	"html/template"
)

// Step is one email of the sequence. Delay is the minimum number of whole
// days since the previous send (or enrollment, for the first step).
type Step struct {
	Type    string
	Delay   int
	Subject string
	body    *template.Template
}

// Steps is the fixed onboarding sequence, in send order.
var Steps = []Step{
	{
		Type:    "welcome",
		Delay:   0,
		Subject: "Welcome to Paperwise",
		body: mustParse("welcome", `<p>Hi {{.Name}},</p>
<p>Welcome to Paperwise. Every template in our library is drafted by a licensed attorney and ready to customize.</p>
<p><a href="{{.BaseURL}}/documents">Browse the library</a></p>`),
	},
	{
		Type:    "featuredTemplates",
		Delay:   2,
		Subject: "Our most popular templates",
		body: mustParse("featuredTemplates", `<p>Hi {{.Name}},</p>
<p>Most of our customers start with an NDA, an independent contractor agreement or a website privacy policy.</p>
<p><a href="{{.BaseURL}}/documents">See the featured templates</a></p>`),
	},
	{
		Type:    "bundleValue",
		Delay:   5,
		Subject: "Save with document bundles",
		body: mustParse("bundleValue", `<p>Hi {{.Name}},</p>
<p>Starting a business or hiring your first employee? Our bundles group the documents you need at a lower price.</p>
<p><a href="{{.BaseURL}}/bundles">View bundles</a></p>`),
	},
	{
		Type:    "tips",
		Delay:   9,
		Subject: "Tips for customizing your documents",
		body: mustParse("tips", `<p>Hi {{.Name}},</p>
<p>Fill in every bracketed field, keep party names consistent, and have each party sign and date the final copy.</p>
<p><a href="{{.BaseURL}}/blog">Read more on our blog</a></p>`),
	},
	{
		Type:    "feedback",
		Delay:   14,
		Subject: "How are we doing?",
		body: mustParse("feedback", `<p>Hi {{.Name}},</p>
<p>You have been with Paperwise for a few weeks. Reply to this email and tell us which template we should add next.</p>`),
	},
}

func mustParse(name, body string) *template.Template {
	return template.Must(template.New(name).Parse(body))
}

// Render fills the step template for one recipient.
func (s Step) Render(name, baseURL string) (string, error) {
	if name == "" {
		name = "there"
	}
	var buf bytes.Buffer
	if err := s.body.Execute(&buf, map[string]string{"Name": name, "BaseURL": baseURL}); err != nil {
		return "", fmt.Errorf("render %s email: %w", s.Type, err)
	}
	return buf.String(), nil
}
