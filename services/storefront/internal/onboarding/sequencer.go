// Package onboarding drips a fixed series of lifecycle emails to new users.
package onboarding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"paperwise/internal/util"
	"paperwise/pkg/domain"
	"paperwise/pkg/mail"
	"paperwise/pkg/store"
)

// Outcome is what one advancement did for a user.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeWaiting Outcome = "waiting"
	// OutcomeRecovered means the step's email was already logged, so the
	// sequence moved past it without sending.
	OutcomeRecovered Outcome = "recovered"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Result describes one advancement.
type Result struct {
	UserID      string  `json:"userId"`
	Outcome     Outcome `json:"outcome"`
	EmailType   string  `json:"emailType,omitempty"`
	CurrentStep int     `json:"currentStep"`
	Error       string  `json:"error,omitempty"`
}

// SweepReport summarizes a pass over every active sequence.
type SweepReport struct {
	Processed int      `json:"processed"`
	Sent      int      `json:"sent"`
	Waiting   int      `json:"waiting"`
	Recovered int      `json:"recovered"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// Config wires the sequencer.
type Config struct {
	Store     store.OnboardingStore
	Mailer    mail.Sender
	PublicURL string
	Now       func() time.Time
}

// Sequencer advances users through Steps.
type Sequencer struct {
	store   store.OnboardingStore
	mailer  mail.Sender
	baseURL string
	now     func() time.Time
}

func NewSequencer(cfg Config) *Sequencer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Sequencer{
		store:   cfg.Store,
		mailer:  cfg.Mailer,
		baseURL: strings.TrimRight(cfg.PublicURL, "/"),
		now:     now,
	}
}

// Init prepares onboarding storage. Safe to call repeatedly.
func (s *Sequencer) Init(ctx context.Context) error {
	return s.store.EnsureOnboardingSchema(ctx)
}

// Start enrolls a user. Enrolling twice returns the existing sequence.
func (s *Sequencer) Start(ctx context.Context, userID, email, name string) (domain.OnboardingSequence, bool, error) {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(strings.ToLower(email))
	if userID == "" || email == "" {
		return domain.OnboardingSequence{}, false, domain.Validation("userId and email are required")
	}
	seq, created, err := s.store.CreateOnboardingSequence(ctx, domain.OnboardingSequence{
		UserID:    userID,
		Email:     email,
		Name:      strings.TrimSpace(name),
		StartedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.OnboardingSequence{}, false, fmt.Errorf("create onboarding sequence: %w", err)
	}
	if created {
		util.LoggerFromContext(ctx).Info("onboarding started", "user_id", userID)
	}
	return seq, created, nil
}

func (s *Sequencer) Sequences(ctx context.Context) ([]domain.OnboardingSequence, error) {
	return s.store.ListOnboardingSequences(ctx, false)
}

// Emails lists sent emails, newest first; empty userID lists every user.
func (s *Sequencer) Emails(ctx context.Context, userID string) ([]domain.OnboardingEmailLog, error) {
	return s.store.ListOnboardingEmails(ctx, strings.TrimSpace(userID))
}

// SendNext advances a single user by at most one step.
func (s *Sequencer) SendNext(ctx context.Context, userID string) (Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Result{}, domain.Validation("userId is required")
	}
	seq, ok, err := s.store.GetOnboardingSequence(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("get onboarding sequence: %w", err)
	}
	if !ok {
		return Result{}, domain.NotFound("no onboarding sequence for user %s", userID)
	}
	return s.Advance(ctx, seq)
}

// Sweep advances every active sequence once, in enrollment order. A failure
// for one user is recorded and the sweep moves on.
func (s *Sequencer) Sweep(ctx context.Context) (SweepReport, error) {
	seqs, err := s.store.ListOnboardingSequences(ctx, true)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list onboarding sequences: %w", err)
	}
	logger := util.LoggerFromContext(ctx)
	report := SweepReport{Results: make([]Result, 0, len(seqs))}
	for _, seq := range seqs {
		res, err := s.Advance(ctx, seq)
		report.Processed++
		if err != nil {
			logger.Error("onboarding step failed", "user_id", seq.UserID, "step", seq.CurrentStep, "err", err)
			res = Result{UserID: seq.UserID, Outcome: OutcomeFailed, CurrentStep: seq.CurrentStep, Error: err.Error()}
		}
		switch res.Outcome {
		case OutcomeSent:
			report.Sent++
		case OutcomeWaiting:
			report.Waiting++
		case OutcomeRecovered:
			report.Recovered++
		case OutcomeCompleted:
			report.Completed++
		case OutcomeFailed:
			report.Failed++
		}
		report.Results = append(report.Results, res)
	}
	logger.Info("onboarding sweep finished",
		"processed", report.Processed, "sent", report.Sent, "waiting", report.Waiting, "failed", report.Failed)
	return report, nil
}

// Advance moves seq forward by at most one step. A step whose email is
// already logged is skipped without sending; otherwise the email goes out
// once enough whole days have passed since the previous send.
func (s *Sequencer) Advance(ctx context.Context, seq domain.OnboardingSequence) (Result, error) {
	res := Result{UserID: seq.UserID, CurrentStep: seq.CurrentStep}
	if seq.Completed {
		res.Outcome = OutcomeCompleted
		return res, nil
	}
	if seq.CurrentStep >= len(Steps) {
		if err := s.store.CompleteOnboarding(ctx, seq.UserID); err != nil {
			return res, fmt.Errorf("complete onboarding: %w", err)
		}
		res.Outcome = OutcomeCompleted
		return res, nil
	}

	step := Steps[seq.CurrentStep]
	res.EmailType = step.Type
	sent, err := s.store.HasOnboardingEmail(ctx, seq.UserID, step.Type)
	if err != nil {
		return res, fmt.Errorf("check onboarding log: %w", err)
	}
	if sent {
		if _, err := s.store.AdvanceOnboarding(ctx, seq.UserID, seq.CurrentStep, nil); err != nil {
			return res, fmt.Errorf("advance onboarding: %w", err)
		}
		util.LoggerFromContext(ctx).Warn("onboarding step already sent, skipping", "user_id", seq.UserID, "email_type", step.Type)
		res.Outcome = OutcomeRecovered
		res.CurrentStep++
		return res, nil
	}

	now := s.now().UTC()
	if DaysSince(seq.LastSendOrStart(), now) < step.Delay {
		res.Outcome = OutcomeWaiting
		return res, nil
	}

	html, err := step.Render(seq.Name, s.baseURL)
	if err != nil {
		return res, err
	}
	err = s.mailer.Send(ctx, mail.Message{
		To:      mail.Address{Email: seq.Email, Name: seq.Name},
		Subject: step.Subject,
		HTML:    html,
		Tags:    []string{"onboarding", step.Type},
	})
	if err != nil {
		return res, domain.Upstream("send onboarding email", err)
	}
	if err := s.store.RecordOnboardingEmail(ctx, domain.OnboardingEmailLog{UserID: seq.UserID, EmailType: step.Type, SentAt: now}); err != nil {
		return res, fmt.Errorf("record onboarding email: %w", err)
	}
	advanced, err := s.store.AdvanceOnboarding(ctx, seq.UserID, seq.CurrentStep, &now)
	if err != nil {
		return res, fmt.Errorf("advance onboarding: %w", err)
	}
	if !advanced {
		util.LoggerFromContext(ctx).Warn("onboarding sequence moved concurrently", "user_id", seq.UserID, "step", seq.CurrentStep)
	}
	util.LoggerFromContext(ctx).Info("onboarding email sent", "user_id", seq.UserID, "email_type", step.Type)
	res.Outcome = OutcomeSent
	res.CurrentStep++
	return res, nil
}

// DaysSince counts whole days from ref to now, rounding down.
func DaysSince(ref, now time.Time) int {
	return int(math.Floor(now.Sub(ref).Hours() / 24))
}
