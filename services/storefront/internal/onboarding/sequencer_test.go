package onboarding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"paperwise/pkg/domain"
	"paperwise/pkg/mail"
	"paperwise/pkg/store"
)

type recordingMailer struct {
	sent    []mail.Message
	failFor map[string]bool
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	if m.failFor[msg.To.Email] {
		return errors.New("mailersend: status 500")
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fixture struct {
	store  *store.MemoryStore
	mailer *recordingMailer
	seq    *Sequencer
	now    time.Time
}

var start = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemoryStore(), mailer: &recordingMailer{failFor: map[string]bool{}}, now: start}
	f.seq = NewSequencer(Config{
		Store:     f.store,
		Mailer:    f.mailer,
		PublicURL: "https://paperwise.test/",
		Now:       func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) state(t *testing.T, userID string) domain.OnboardingSequence {
	t.Helper()
	seq, ok, err := f.store.GetOnboardingSequence(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, ok)
	return seq
}

func TestStepTableOrderAndDelays(t *testing.T) {
	var got []string
	var delays []int
	for _, s := range Steps {
		got = append(got, s.Type)
		delays = append(delays, s.Delay)
	}
	require.Equal(t, []string{"welcome", "featuredTemplates", "bundleValue", "tips", "feedback"}, got)
	require.Equal(t, []int{0, 2, 5, 9, 14}, delays)
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, created, err := f.seq.Start(ctx, "u1", "Dana@Example.com", "Dana")
	require.NoError(t, err)
	require.True(t, created)
	f.now = start.Add(time.Hour)
	seq, created, err := f.seq.Start(ctx, "u1", "dana@example.com", "Dana")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, start, seq.StartedAt)
	require.Equal(t, "dana@example.com", seq.Email)

	_, _, err = f.seq.Start(ctx, "", "x@example.com", "")
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestWelcomeThenFeaturedAfterTwoDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.seq.Start(ctx, "u1", "dana@example.com", "Dana")
	require.NoError(t, err)

	f.now = start.Add(24 * time.Hour)
	res, err := f.seq.SendNext(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, OutcomeSent, res.Outcome)
	require.Equal(t, "welcome", res.EmailType)
	welcomeAt := f.now
	require.Equal(t, 1, f.state(t, "u1").CurrentStep)
	require.Equal(t, welcomeAt, *f.state(t, "u1").LastEmailSentAt)

	f.now = welcomeAt.Add(2*24*time.Hour - time.Second)
	res, err = f.seq.SendNext(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, OutcomeWaiting, res.Outcome)
	require.Len(t, f.mailer.sent, 1)

	f.now = welcomeAt.Add(2 * 24 * time.Hour)
	res, err = f.seq.SendNext(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, OutcomeSent, res.Outcome)
	require.Equal(t, "featuredTemplates", res.EmailType)
	require.Equal(t, 2, f.state(t, "u1").CurrentStep)

	require.Len(t, f.mailer.sent, 2)
	require.Equal(t, "Welcome to Paperwise", f.mailer.sent[0].Subject)
	require.Contains(t, f.mailer.sent[0].HTML, "Hi Dana,")
	require.Contains(t, f.mailer.sent[0].HTML, "https://paperwise.test/documents")
}

func TestOneStepPerInvocationWhenOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.seq.Start(ctx, "u1", "dana@example.com", "")
	require.NoError(t, err)

	f.now = start.Add(60 * 24 * time.Hour)
	res, err := f.seq.SendNext(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, OutcomeSent, res.Outcome)
	require.Equal(t, 1, f.state(t, "u1").CurrentStep)

	// the welcome send restarted the delay clock, so featuredTemplates waits
	// even though it is long overdue relative to enrollment
	res, err = f.seq.SendNext(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, OutcomeWaiting, res.Outcome)
	require.Equal(t, 1, f.state(t, "u1").CurrentStep)
	require.Len(t, f.mailer.sent, 1)
	require.Contains(t, f.mailer.sent[0].HTML, "Hi there,")
}

func TestLoggedStepAdvancesWithoutSending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.seq.Start(ctx, "u1", "dana@example.com", "Dana")
	require.NoError(t, err)
	require.NoError(t, f.store.RecordOnboardingEmail(ctx, domain.OnboardingEmailLog{UserID: "u1", EmailType: "welcome", SentAt: start}))

	res, err := f.seq.SendNext(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, OutcomeRecovered, res.Outcome)
	require.Equal(t, 1, f.state(t, "u1").CurrentStep)
	require.Nil(t, f.state(t, "u1").LastEmailSentAt)
	require.Empty(t, f.mailer.sent)

	// the delay for featuredTemplates still counts from enrollment
	res, err = f.seq.SendNext(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, OutcomeWaiting, res.Outcome)
}

func TestSequenceCompletesAfterLastStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.seq.Start(ctx, "u1", "dana@example.com", "Dana")
	require.NoError(t, err)

	for range Steps {
		f.now = f.now.Add(15 * 24 * time.Hour)
		res, err := f.seq.SendNext(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, OutcomeSent, res.Outcome)
	}
	require.False(t, f.state(t, "u1").Completed)

	res, err := f.seq.SendNext(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, res.Outcome)
	require.True(t, f.state(t, "u1").Completed)

	f.now = f.now.Add(30 * 24 * time.Hour)
	res, err = f.seq.SendNext(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, res.Outcome)
	require.Len(t, f.mailer.sent, len(Steps))

	logs, err := f.seq.Emails(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, logs, len(Steps))
	require.Equal(t, "feedback", logs[0].EmailType)
}

func TestSweepContinuesPastSendFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.seq.Start(ctx, "u1", "broken@example.com", "A")
	require.NoError(t, err)
	f.now = start.Add(time.Minute)
	_, _, err = f.seq.Start(ctx, "u2", "ok@example.com", "B")
	require.NoError(t, err)
	f.mailer.failFor["broken@example.com"] = true

	report, err := f.seq.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Processed)
	require.Equal(t, 1, report.Sent)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, OutcomeFailed, report.Results[0].Outcome)
	require.NotEmpty(t, report.Results[0].Error)

	require.Equal(t, 0, f.state(t, "u1").CurrentStep, "failed send must not advance")
	logged, err := f.store.HasOnboardingEmail(ctx, "u1", "welcome")
	require.NoError(t, err)
	require.False(t, logged)
	require.Equal(t, 1, f.state(t, "u2").CurrentStep)
}

func TestSendNextUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.seq.SendNext(context.Background(), "ghost")
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestDaysSinceRoundsDown(t *testing.T) {
	ref := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := map[time.Duration]int{
		0:                             0,
		23 * time.Hour:                0,
		24 * time.Hour:                1,
		47*time.Hour + 59*time.Minute: 1,
		48 * time.Hour:                2,
		-time.Hour:                    -1,
	}
	for d, want := range cases {
		require.Equal(t, want, DaysSince(ref, ref.Add(d)), "DaysSince(+%s)", d)
	}
}
