// Package mail sends transactional email and manages marketing subscribers.
package mail

import (
	"context"
	"fmt"
	"log/slog"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Message is a rendered email. Text is derived from HTML when empty.
type Message struct {
	From    Address
	To      Address
	Subject string
	HTML    string
	Text    string
	Tags    []string
}

// Sender delivers transactional email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Subscriber adds contacts to a marketing list.
type Subscriber interface {
	Subscribe(ctx context.Context, email, name string) error
}

// APIError is a non-2xx response from a mail provider.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "mail_not_sent", "to", msg.To.Email, "subject", msg.Subject, "tags", msg.Tags)
	return nil
}

// NoopSubscriber drops subscriptions when no list provider is configured.
type NoopSubscriber struct{}

func (NoopSubscriber) Subscribe(context.Context, string, string) error { return nil }
