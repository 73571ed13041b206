package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mailersend/mailersend-go"
)

// emailAPI is the part of the MailerSend email service used here.
type emailAPI interface {
	NewMessage() *mailersend.Message
	Send(ctx context.Context, message *mailersend.Message) (*mailersend.Response, error)
}

// MailerSend delivers email through the MailerSend API.
type MailerSend struct {
	email emailAPI
	from  Address
}

// NewMailerSend builds a MailerSend sender.
func NewMailerSend(apiKey string, from Address) (*MailerSend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("mailersend api key is required")
	}
	return newMailerSend(mailersend.NewMailersend(apiKey).Email, from)
}

func newMailerSend(email emailAPI, from Address) (*MailerSend, error) {
	if strings.TrimSpace(from.Email) == "" {
		return nil, errors.New("mail from address is required")
	}
	return &MailerSend{email: email, from: from}, nil
}

// Send delivers a single email. Message.From overrides the default sender.
func (m *MailerSend) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To.Email) == "" {
		return errors.New("recipient email is required")
	}
	from := m.from
	if msg.From.Email != "" {
		from = msg.From
	}
	text := msg.Text
	if text == "" {
		text = HTMLToText(msg.HTML)
	}

	message := m.email.NewMessage()
	message.SetFrom(mailersend.From{Name: from.Name, Email: from.Email})
	message.SetRecipients([]mailersend.Recipient{{Name: msg.To.Name, Email: msg.To.Email}})
	message.SetSubject(msg.Subject)
	message.SetHTML(msg.HTML)
	message.SetText(text)
	if len(msg.Tags) > 0 {
		message.SetTags(msg.Tags)
	}

	res, err := m.email.Send(ctx, message)
	if err != nil {
		if res != nil && res.Response != nil {
			return &APIError{Provider: "mailersend", Status: res.StatusCode, Message: err.Error()}
		}
		return fmt.Errorf("mailersend send: %w", err)
	}
	return nil
}
