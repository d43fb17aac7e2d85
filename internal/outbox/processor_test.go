package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/polyvox/notify-engine/internal/mailer"
	"github.com/polyvox/notify-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	jobs []model.OutboxMessage

	sent    map[string]string // id -> provider message id
	retries map[string]time.Time
	failed  map[string]string
}

func newFakeStore(jobs ...model.OutboxMessage) *fakeStore {
	return &fakeStore{
		jobs:    jobs,
		sent:    map[string]string{},
		retries: map[string]time.Time{},
		failed:  map[string]string{},
	}
}

func (f *fakeStore) ClaimDue(_ context.Context, limit int, _ time.Time, _ time.Duration) ([]model.OutboxMessage, error) {
	if len(f.jobs) > limit {
		return f.jobs[:limit], nil
	}
	return f.jobs, nil
}

func (f *fakeStore) MarkSent(_ context.Context, id, providerMessageID string, _ time.Time) error {
	f.sent[id] = providerMessageID
	return nil
}

func (f *fakeStore) MarkRetry(_ context.Context, id string, _ int, _ string, nextSendAfter, _ time.Time) error {
	f.retries[id] = nextSendAfter
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id string, _ int, sendErr string, _ time.Time) error {
	f.failed[id] = sendErr
	return nil
}

type fakeContacts struct {
	touched []string
	bounced []string
}

func (f *fakeContacts) TouchLastEmailed(_ context.Context, contactID string, _ time.Time) error {
	f.touched = append(f.touched, contactID)
	return nil
}

func (f *fakeContacts) RecordBounce(_ context.Context, contactID string, _ time.Time) error {
	f.bounced = append(f.bounced, contactID)
	return nil
}

type fakeProvider struct {
	errs  map[string]error // to_email -> error
	calls int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Send(_ context.Context, e mailer.Email) (string, error) {
	f.calls++
	if err := f.errs[e.To]; err != nil {
		return "", err
	}
	return "prov-123", nil
}

func queuedJob(id string, attempts int) model.OutboxMessage {
	contactID := "contact-1"
	payload, _ := json.Marshal(model.ImmediatePayload{
		EntityName:     "Riverside Water Authority",
		ContentURL:     "https://example.com/issues/42",
		UnsubscribeURL: "https://example.com/v1/email/unsubscribe?token=x",
	})
	return model.OutboxMessage{
		ID:        id,
		EntityID:  "ent-1",
		ContactID: &contactID,
		ToEmail:   "ops@example.com",
		Subject:   "Polyvox: You were mentioned",
		Template:  model.TemplateTagImmediate,
		Payload:   payload,
		Status:    model.StatusQueued,
		Attempts:  attempts,
	}
}

func TestRunSendsAndTouchesContact(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(queuedJob("job-1", 0))
	contacts := &fakeContacts{}
	p := NewProcessor(store, contacts, &fakeProvider{}, mailer.NewRenderer())

	res, err := p.Run(context.Background(), 0, now)
	require.NoError(t, err)

	assert.Equal(t, Result{Processed: 1, Sent: 1}, res)
	assert.Equal(t, "prov-123", store.sent["job-1"])
	assert.Equal(t, []string{"contact-1"}, contacts.touched)
	assert.Empty(t, contacts.bounced)
}

func TestRunRetriesWithFixedBackoff(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(queuedJob("job-1", 0))
	provider := &fakeProvider{errs: map[string]error{"ops@example.com": errors.New("timeout")}}
	p := NewProcessor(store, &fakeContacts{}, provider, mailer.NewRenderer())

	res, err := p.Run(context.Background(), 0, now)
	require.NoError(t, err)

	assert.Equal(t, Result{Processed: 1, Failed: 1}, res)
	assert.Empty(t, store.sent)
	assert.Empty(t, store.failed)
	assert.Equal(t, now.Add(15*time.Minute), store.retries["job-1"])
}

func TestRunFailsTerminallyAtMaxAttempts(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	// third attempt: two prior failures recorded on the job
	store := newFakeStore(queuedJob("job-1", 2))
	provider := &fakeProvider{errs: map[string]error{"ops@example.com": errors.New("timeout")}}
	p := NewProcessor(store, &fakeContacts{}, provider, mailer.NewRenderer())

	res, err := p.Run(context.Background(), 0, now)
	require.NoError(t, err)

	assert.Equal(t, Result{Processed: 1, Failed: 1}, res)
	assert.Empty(t, store.retries)
	assert.Contains(t, store.failed, "job-1")
}

func TestRunBounceSuppressesContact(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(queuedJob("job-1", 0))
	contacts := &fakeContacts{}
	provider := &fakeProvider{errs: map[string]error{
		"ops@example.com": errors.New("550 address is Undeliverable"),
	}}
	p := NewProcessor(store, contacts, provider, mailer.NewRenderer())

	_, err := p.Run(context.Background(), 0, now)
	require.NoError(t, err)

	assert.Equal(t, []string{"contact-1"}, contacts.bounced)
	// bounce still schedules the retry; suppression makes it moot
	assert.Contains(t, store.retries, "job-1")
}

func TestRunAuthErrorDoesNotBounceContact(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(queuedJob("job-1", 0))
	contacts := &fakeContacts{}
	provider := &fakeProvider{errs: map[string]error{
		"ops@example.com": &mailer.SendError{Provider: "resend", StatusCode: 401, Message: "API key is invalid"},
	}}
	p := NewProcessor(store, contacts, provider, mailer.NewRenderer())

	res, err := p.Run(context.Background(), 0, now)
	require.NoError(t, err)

	// "invalid" in the provider message must not suppress the contact when
	// it is our credentials being rejected
	assert.Equal(t, Result{Processed: 1, Failed: 1}, res)
	assert.Empty(t, contacts.bounced)
	assert.Contains(t, store.retries, "job-1")
}

func TestRunJobsAreIndependent(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	bad := queuedJob("job-bad", 0)
	bad.ToEmail = "broken@example.com"
	store := newFakeStore(bad, queuedJob("job-good", 0))

	provider := &fakeProvider{errs: map[string]error{"broken@example.com": errors.New("timeout")}}
	p := NewProcessor(store, &fakeContacts{}, provider, mailer.NewRenderer())

	res, err := p.Run(context.Background(), 0, now)
	require.NoError(t, err)

	assert.Equal(t, Result{Processed: 2, Sent: 1, Failed: 1}, res)
	assert.Contains(t, store.sent, "job-good")
	assert.Contains(t, store.retries, "job-bad")
}

func TestRunHonorsLimit(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	store := newFakeStore(queuedJob("a", 0), queuedJob("b", 0), queuedJob("c", 0))
	p := NewProcessor(store, &fakeContacts{}, &fakeProvider{}, mailer.NewRenderer())

	res, err := p.Run(context.Background(), 2, now)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
}

func TestRunUnrenderableJobRetries(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	job := queuedJob("job-1", 0)
	job.Template = "no_such_template"
	store := newFakeStore(job)

	provider := &fakeProvider{}
	p := NewProcessor(store, &fakeContacts{}, provider, mailer.NewRenderer())

	res, err := p.Run(context.Background(), 0, now)
	require.NoError(t, err)

	assert.Equal(t, Result{Processed: 1, Failed: 1}, res)
	assert.Zero(t, provider.calls)
	assert.Contains(t, store.retries, "job-1")
}

func TestBounceClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "bounce", err: errors.New("550 mailbox bounce detected"), want: true},
		{name: "invalid recipient", err: errors.New("Recipient address INVALID"), want: true},
		{name: "undeliverable", err: errors.New("address undeliverable"), want: true},
		{name: "timeout", err: errors.New("connection timeout"), want: false},
		{name: "server error", err: errors.New("provider 500"), want: false},
		{
			name: "422 invalid recipient",
			err:  &mailer.SendError{Provider: "resend", StatusCode: 422, Message: "to address is invalid"},
			want: true,
		},
		{
			name: "401 bad api key",
			err:  &mailer.SendError{Provider: "resend", StatusCode: 401, Message: "API key is invalid"},
			want: false,
		},
		{
			name: "403 forbidden",
			err:  &mailer.SendError{Provider: "resend", StatusCode: 403, Message: "sending domain not verified, invalid sender"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isBounce(tt.err))
		})
	}
}
