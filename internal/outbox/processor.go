package outbox

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/polyvox/notify-engine/internal/mailer"
	"github.com/polyvox/notify-engine/internal/metrics"
	"github.com/polyvox/notify-engine/internal/model"
	"go.uber.org/zap"
)

// bounceRe classifies permanent delivery failures from the provider's
// human-readable error message.
var bounceRe = regexp.MustCompile(`(?i)bounce|invalid|undeliverable`)

// isBounce reports whether a send error looks like a permanent recipient
// failure. Auth rejections are our misconfiguration, never the recipient's,
// even when the provider message happens to match bounceRe ("API key is
// invalid").
func isBounce(err error) bool {
	var se *mailer.SendError
	if errors.As(err, &se) && se.Auth() {
		return false
	}
	return bounceRe.MatchString(err.Error())
}

// Store is the slice of the outbox repository the processor drives.
type Store interface {
	ClaimDue(ctx context.Context, limit int, now time.Time, lease time.Duration) ([]model.OutboxMessage, error)
	MarkSent(ctx context.Context, id, providerMessageID string, now time.Time) error
	MarkRetry(ctx context.Context, id string, attempts int, sendErr string, nextSendAfter, now time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, sendErr string, now time.Time) error
}

// ContactStore covers the contact bookkeeping the processor performs.
type ContactStore interface {
	TouchLastEmailed(ctx context.Context, contactID string, now time.Time) error
	RecordBounce(ctx context.Context, contactID string, now time.Time) error
}

// Processor drains due QUEUED jobs on every tick:
// QUEUED -> SENT on success, QUEUED -> QUEUED with backoff on a transient
// failure, QUEUED -> FAILED once the attempt budget is spent. Jobs in a batch
// are independent; one failure never blocks the rest.
type Processor struct {
	Outbox   Store
	Contacts ContactStore
	Provider mailer.Provider
	Renderer *mailer.Renderer
	Log      *zap.Logger

	BatchSize    int           // default 25
	MaxAttempts  int           // default 3
	RetryBackoff time.Duration // fixed, default 15m
	ClaimLease   time.Duration // default 5m
}

func NewProcessor(store Store, contacts ContactStore, provider mailer.Provider, renderer *mailer.Renderer) *Processor {
	return &Processor{
		Outbox:       store,
		Contacts:     contacts,
		Provider:     provider,
		Renderer:     renderer,
		Log:          zap.NewNop(),
		BatchSize:    25,
		MaxAttempts:  3,
		RetryBackoff: 15 * time.Minute,
		ClaimLease:   5 * time.Minute,
	}
}

// Result reports per-tick counts. failed counts failed attempts this tick,
// not only terminal failures.
type Result struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// Run processes one tick. limit <= 0 falls back to BatchSize.
func (p *Processor) Run(ctx context.Context, limit int, now time.Time) (Result, error) {
	if limit <= 0 {
		limit = p.BatchSize
	}

	jobs, err := p.Outbox.ClaimDue(ctx, limit, now, p.ClaimLease)
	if err != nil {
		return Result{}, err
	}

	res := Result{Processed: len(jobs)}
	for _, job := range jobs {
		if p.processOne(ctx, job, now) {
			res.Sent++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

func (p *Processor) processOne(ctx context.Context, job model.OutboxMessage, now time.Time) bool {
	html, text, err := p.Renderer.Render(job.Template, job.Payload)
	if err == nil {
		var providerID string
		providerID, err = p.Provider.Send(ctx, mailer.Email{
			To:      job.ToEmail,
			Subject: job.Subject,
			HTML:    html,
			Text:    text,
		})
		if err == nil {
			if markErr := p.Outbox.MarkSent(ctx, job.ID, providerID, now); markErr != nil {
				p.Log.Error("outbox: mark sent",
					zap.String("id", job.ID), zap.Error(markErr))
			}
			if job.ContactID != nil {
				if touchErr := p.Contacts.TouchLastEmailed(ctx, *job.ContactID, now); touchErr != nil {
					p.Log.Warn("outbox: touch last_emailed_at",
						zap.String("contact_id", *job.ContactID), zap.Error(touchErr))
				}
			}
			metrics.OutboxJobsTotal.WithLabelValues("sent").Inc()
			return true
		}
	}

	attempts := job.Attempts + 1
	msg := err.Error()

	if attempts >= p.MaxAttempts {
		if markErr := p.Outbox.MarkFailed(ctx, job.ID, attempts, msg, now); markErr != nil {
			p.Log.Error("outbox: mark failed",
				zap.String("id", job.ID), zap.Error(markErr))
		}
		metrics.OutboxJobsTotal.WithLabelValues("failed").Inc()
	} else {
		next := now.Add(p.RetryBackoff)
		if markErr := p.Outbox.MarkRetry(ctx, job.ID, attempts, msg, next, now); markErr != nil {
			p.Log.Error("outbox: mark retry",
				zap.String("id", job.ID), zap.Error(markErr))
		}
		metrics.OutboxJobsTotal.WithLabelValues("retried").Inc()
	}

	if job.ContactID != nil && isBounce(err) {
		if bErr := p.Contacts.RecordBounce(ctx, *job.ContactID, now); bErr != nil {
			p.Log.Error("outbox: record bounce",
				zap.String("contact_id", *job.ContactID), zap.Error(bErr))
		} else {
			metrics.OutboxJobsTotal.WithLabelValues("bounced").Inc()
		}
	}

	p.Log.Warn("outbox: send failed",
		zap.String("id", job.ID),
		zap.Int("attempts", attempts),
		zap.String("error", msg))
	return false
}
