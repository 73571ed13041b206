package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mailerlite/mailerlite-go"
)

// MailerLite adds subscribers to a MailerLite group.
type MailerLite struct {
	upsert  func(ctx context.Context, sub *mailerlite.Subscriber) (string, error)
	assign  func(ctx context.Context, groupID, subscriberID string) error
	groupID string
}

// NewMailerLite builds a MailerLite subscriber client. groupID may be empty.
func NewMailerLite(apiKey, groupID string) (*MailerLite, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("mailerlite api key is required")
	}
	client := mailerlite.NewClient(apiKey)
	return &MailerLite{
		upsert: func(ctx context.Context, sub *mailerlite.Subscriber) (string, error) {
			created, _, err := client.Subscriber.Create(ctx, sub)
			if err != nil {
				return "", err
			}
			return created.Data.ID, nil
		},
		assign: func(ctx context.Context, groupID, subscriberID string) error {
			_, _, err := client.Group.Assign(ctx, groupID, subscriberID)
			return err
		},
		groupID: strings.TrimSpace(groupID),
	}, nil
}

// Subscribe upserts the contact and attaches it to the configured group.
func (m *MailerLite) Subscribe(ctx context.Context, email, name string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("subscriber email is required")
	}
	sub := &mailerlite.Subscriber{Email: email}
	if name = strings.TrimSpace(name); name != "" {
		sub.Fields = map[string]interface{}{"name": name}
	}
	id, err := m.upsert(ctx, sub)
	if err != nil {
		return fmt.Errorf("mailerlite subscribe: %w", err)
	}
	if m.groupID == "" {
		return nil
	}
	if err := m.assign(ctx, m.groupID, id); err != nil {
		return fmt.Errorf("mailerlite assign group %s: %w", m.groupID, err)
	}
	return nil
}
