package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/polyvox/notify-engine/internal/model"
)

// Route is the decider's verdict for one mention.
type Route string

const (
	RouteSuppress  Route = "suppress"
	RouteImmediate Route = "immediate"
	RouteDigest    Route = "digest"
)

// Decision carries everything the intake path needs to act on a verdict.
type Decision struct {
	Route     Route
	DedupeKey string
	SendAfter time.Time

	// RateLimited marks a digest route forced by the throttle or daily cap
	// rather than the entity's configured mode.
	RateLimited bool

	// AlreadyQueued is set on digest routes when a queued digest job for
	// today's key exists; the caller must not enqueue a second one.
	AlreadyQueued bool
}

// OutboxLookup is the read-side view of the outbox the decider consults.
type OutboxLookup interface {
	HasLiveJob(ctx context.Context, dedupeKey string, since time.Time) (bool, error)
	HasQueuedJob(ctx context.Context, dedupeKey string, since time.Time) (bool, error)
	CountLiveByContact(ctx context.Context, contactID string, since time.Time) (int, error)
}

// Decider applies the notification policy: entity mode, contact eligibility,
// dedupe, and rate limiting. It only reads; it never sends or inserts.
type Decider struct {
	Outbox OutboxLookup

	ImmediateThrottle time.Duration // window for the immediate dedupe key
	DailyCap          int           // max live jobs per contact per 24h
	ImmediateDelay    time.Duration // send_after buffer for immediate jobs
	DigestDelay       time.Duration // send_after buffer for digest jobs
}

// NewDecider builds a decider with the production defaults: 6h throttle,
// 3 emails per contact per day, 60s/5m send buffers.
func NewDecider(outbox OutboxLookup) *Decider {
	return &Decider{
		Outbox:            outbox,
		ImmediateThrottle: 6 * time.Hour,
		DailyCap:          3,
		ImmediateDelay:    60 * time.Second,
		DigestDelay:       5 * time.Minute,
	}
}

// ImmediateDedupeKey identifies "the same logical immediate notification".
func ImmediateDedupeKey(contactID string, contentType model.ContentType, contentID string) string {
	return fmt.Sprintf("%s:%s:%s", contactID, contentType, contentID)
}

// DigestDedupeKey identifies the per-contact digest batch for a calendar day.
func DigestDedupeKey(contactID string, now time.Time) string {
	return fmt.Sprintf("%s:%s", contactID, now.UTC().Format("2006-01-02"))
}

// allowedIntents gate which mention intents trigger notification at all.
var allowedIntents = map[string]struct{}{
	"ISSUE":    {},
	"QUESTION": {},
	"EVIDENCE": {},
}

// ShouldNotify reports whether a mention is notification-worthy. With an
// intent set, only whitelisted intents notify; without one, issues and
// evidence do.
func ShouldNotify(contentType model.ContentType, intent *string) bool {
	if intent != nil && strings.TrimSpace(*intent) != "" {
		_, ok := allowedIntents[strings.ToUpper(strings.TrimSpace(*intent))]
		return ok
	}
	return contentType == model.ContentIssue || contentType == model.ContentEvidence
}

// Decide evaluates the policy rules in order. Re-invoking it for the same
// mention with the same contact state never creates duplicate live jobs: the
// dedupe-key existence checks are authoritative.
func (d *Decider) Decide(ctx context.Context, entity *model.Entity, contact *model.Contact, mention model.MentionEvent, now time.Time) (Decision, error) {
	if entity == nil || entity.NotificationMode.Suppressed() {
		return Decision{Route: RouteSuppress}, nil
	}

	if !contact.Eligible() {
		return Decision{Route: RouteSuppress}, nil
	}

	immediateKey := ImmediateDedupeKey(contact.ID, mention.ContentType, mention.ContentID)
	digestKey := DigestDedupeKey(contact.ID, now)

	throttleStart := now.Add(-d.ImmediateThrottle)
	dayStart := now.Add(-24 * time.Hour)

	recentDuplicate, err := d.Outbox.HasLiveJob(ctx, immediateKey, throttleStart)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup recent immediate: %w", err)
	}

	recentCount, err := d.Outbox.CountLiveByContact(ctx, contact.ID, dayStart)
	if err != nil {
		return Decision{}, fmt.Errorf("count recent jobs: %w", err)
	}

	rateLimited := recentDuplicate || recentCount >= d.DailyCap

	if entity.NotificationMode == model.ModeEmailImmediate && !rateLimited {
		return Decision{
			Route:     RouteImmediate,
			DedupeKey: immediateKey,
			SendAfter: now.Add(d.ImmediateDelay),
		}, nil
	}

	// EMAIL_DIGEST, or immediate forced down by the rate limit.
	alreadyQueued, err := d.Outbox.HasQueuedJob(ctx, digestKey, dayStart)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup queued digest: %w", err)
	}

	return Decision{
		Route:         RouteDigest,
		DedupeKey:     digestKey,
		SendAfter:     now.Add(d.DigestDelay),
		RateLimited:   rateLimited,
		AlreadyQueued: alreadyQueued,
	}, nil
}
