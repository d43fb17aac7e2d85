package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/polyvox/notify-engine/internal/mailer"
	"github.com/polyvox/notify-engine/internal/metrics"
	"github.com/polyvox/notify-engine/internal/model"
	"github.com/polyvox/notify-engine/internal/repository"
	"go.uber.org/zap"
)

// Minimum intervals between digests per frequency. Slightly under the nominal
// period so a cron tick firing a few minutes early still sends.
const (
	HourlyMinInterval = 55 * time.Minute
	DailyMinInterval  = 23 * time.Hour
)

type SubscriptionStore interface {
	ListEnabled(ctx context.Context, limit int) ([]model.DigestSubscription, error)
}

type EventStore interface {
	ListUnprocessed(ctx context.Context, entityID string, limit int) ([]model.NotificationEvent, error)
}

type DeliveryStore interface {
	Insert(ctx context.Context, d model.DigestDelivery) error
	FinalizeSent(ctx context.Context, subscriptionID string, prevLastSentAt *time.Time, d model.DigestDelivery, eventIDs []string, now time.Time) error
}

// Params bound one aggregation run.
type Params struct {
	LimitEntities      int
	MaxEventsPerDigest int
	DryRun             bool
}

// Result mirrors the trigger response contract.
type Result struct {
	Sent            int  `json:"sent"`
	Skipped         int  `json:"skipped"`
	Failed          int  `json:"failed"`
	ProcessedEvents int  `json:"processedEvents"`
	DryRun          bool `json:"dryRun"`
}

// Aggregator sends one summarized email per enabled subscription per run,
// consuming unprocessed notification events. Overlapping runs are guarded
// twice: by the minimum-interval check here and by the last_sent_at CAS
// inside FinalizeSent.
type Aggregator struct {
	Subs       SubscriptionStore
	Events     EventStore
	Deliveries DeliveryStore
	Provider   mailer.Provider
	Renderer   *mailer.Renderer
	Log        *zap.Logger

	// BaseURL builds unsubscribe links in digest footers.
	BaseURL string

	LimitEntities      int // default 25, used when Params leaves it unset
	MaxEventsPerDigest int // default 20, used when Params leaves it unset
}

func NewAggregator(subs SubscriptionStore, events EventStore, deliveries DeliveryStore, provider mailer.Provider, renderer *mailer.Renderer, baseURL string) *Aggregator {
	return &Aggregator{
		Subs:               subs,
		Events:             events,
		Deliveries:         deliveries,
		Provider:           provider,
		Renderer:           renderer,
		Log:                zap.NewNop(),
		BaseURL:            baseURL,
		LimitEntities:      25,
		MaxEventsPerDigest: 20,
	}
}

// Run performs one aggregation pass. Subscriptions are independent; a failure
// for one leaves its events eligible for the next run and moves on.
func (a *Aggregator) Run(ctx context.Context, p Params, now time.Time) (Result, error) {
	if p.LimitEntities <= 0 {
		p.LimitEntities = a.LimitEntities
	}
	if p.MaxEventsPerDigest <= 0 {
		p.MaxEventsPerDigest = a.MaxEventsPerDigest
	}

	subs, err := a.Subs.ListEnabled(ctx, p.LimitEntities)
	if err != nil {
		return Result{DryRun: p.DryRun}, fmt.Errorf("list subscriptions: %w", err)
	}

	res := Result{DryRun: p.DryRun}
	for _, sub := range subs {
		a.runOne(ctx, sub, p, now, &res)
	}
	return res, nil
}

func (a *Aggregator) runOne(ctx context.Context, sub model.DigestSubscription, p Params, now time.Time, res *Result) {
	if sub.JurisdictionStatus != model.JurisdictionActive {
		a.recordSkip(ctx, sub, now, "jurisdiction inactive", p.DryRun)
		res.Skipped++
		return
	}

	if sub.LastSentAt != nil && now.Sub(*sub.LastSentAt) < minInterval(sub.DigestFrequency) {
		a.recordSkip(ctx, sub, now, "", p.DryRun)
		res.Skipped++
		return
	}

	events, err := a.Events.ListUnprocessed(ctx, sub.EntityID, p.MaxEventsPerDigest)
	if err != nil {
		res.Failed++
		a.recordFailure(ctx, sub, now, now, now, 0, err.Error(), p.DryRun)
		return
	}

	if len(events) == 0 {
		// Nothing to say; no audit row either.
		return
	}

	if p.DryRun {
		res.Skipped++
		res.ProcessedEvents += len(events)
		return
	}

	subject := fmt.Sprintf("Polyvox Digest: Updates for %s", sub.EntityName)
	payload := a.buildPayload(sub, events)

	html, text, err := a.Renderer.RenderDigest(payload)
	if err != nil {
		res.Failed++
		a.recordFailure(ctx, sub, now, events[0].CreatedAt, events[len(events)-1].CreatedAt, len(events), err.Error(), false)
		return
	}

	providerID, err := a.Provider.Send(ctx, mailer.Email{
		To:      sub.ContactEmail,
		Subject: subject,
		HTML:    html,
		Text:    text,
	})
	if err != nil {
		res.Failed++
		metrics.DigestRunsTotal.WithLabelValues(model.DeliveryFailed).Inc()
		a.recordFailure(ctx, sub, now, events[0].CreatedAt, events[len(events)-1].CreatedAt, len(events), err.Error(), false)
		return
	}

	eventIDs := make([]string, 0, len(events))
	for _, ev := range events {
		eventIDs = append(eventIDs, ev.ID)
	}

	err = a.Deliveries.FinalizeSent(ctx, sub.ID, sub.LastSentAt, model.DigestDelivery{
		EntityID:          sub.EntityID,
		ContactEmail:      sub.ContactEmail,
		PeriodStart:       events[0].CreatedAt,
		PeriodEnd:         events[len(events)-1].CreatedAt,
		EventsCount:       len(events),
		Status:            model.DeliverySent,
		ProviderMessageID: &providerID,
	}, eventIDs, now)
	if errors.Is(err, repository.ErrStaleSubscription) {
		// A concurrent run beat us to it; the email raced but the events stay
		// attributed to the winning run.
		a.Log.Warn("digest: overlapping run detected",
			zap.String("subscription_id", sub.ID))
		res.Skipped++
		return
	}
	if err != nil {
		res.Failed++
		a.Log.Error("digest: finalize sent",
			zap.String("subscription_id", sub.ID), zap.Error(err))
		return
	}

	metrics.DigestRunsTotal.WithLabelValues(model.DeliverySent).Inc()
	res.Sent++
	res.ProcessedEvents += len(events)
}

func (a *Aggregator) buildPayload(sub model.DigestSubscription, events []model.NotificationEvent) model.DigestPayload {
	items := make([]model.DigestItem, 0, len(events))
	for _, ev := range events {
		label := model.EventLabel(ev.EventType)
		created := ev.CreatedAt.Format("Jan 2, 2006 15:04 MST")

		var p model.EventPayload
		_ = json.Unmarshal(ev.Payload, &p)

		title := p.Title
		if title == "" {
			title = fmt.Sprintf("%s at %s", label, created)
		}

		items = append(items, model.DigestItem{
			Label:   label,
			Title:   title,
			Excerpt: p.Excerpt,
			URL:     p.URL,
			Created: created,
		})
	}

	return model.DigestPayload{
		EntityName:        sub.EntityName,
		JurisdictionLabel: sub.JurisdictionLabel,
		Items:             items,
		UnsubscribeURL:    fmt.Sprintf("%s/v1/subscriptions/unsubscribe?token=%s", a.BaseURL, sub.UnsubscribeToken),
	}
}

func (a *Aggregator) recordSkip(ctx context.Context, sub model.DigestSubscription, now time.Time, reason string, dryRun bool) {
	metrics.DigestRunsTotal.WithLabelValues(model.DeliverySkipped).Inc()
	if dryRun {
		return
	}
	d := model.DigestDelivery{
		EntityID:     sub.EntityID,
		ContactEmail: sub.ContactEmail,
		PeriodStart:  now,
		PeriodEnd:    now,
		EventsCount:  0,
		Status:       model.DeliverySkipped,
	}
	if reason != "" {
		d.Error = &reason
	}
	if err := a.Deliveries.Insert(ctx, d); err != nil {
		a.Log.Warn("digest: insert skipped delivery",
			zap.String("subscription_id", sub.ID), zap.Error(err))
	}
}

func (a *Aggregator) recordFailure(ctx context.Context, sub model.DigestSubscription, now, periodStart, periodEnd time.Time, eventsCount int, msg string, dryRun bool) {
	a.Log.Warn("digest: run failed",
		zap.String("subscription_id", sub.ID), zap.String("error", msg))
	if dryRun {
		return
	}
	if err := a.Deliveries.Insert(ctx, model.DigestDelivery{
		EntityID:     sub.EntityID,
		ContactEmail: sub.ContactEmail,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		EventsCount:  eventsCount,
		Status:       model.DeliveryFailed,
		Error:        &msg,
	}); err != nil {
		a.Log.Error("digest: insert failed delivery",
			zap.String("subscription_id", sub.ID), zap.Error(err))
	}
}

func minInterval(f model.DigestFrequency) time.Duration {
	if f == model.FrequencyHourly {
		return HourlyMinInterval
	}
	return DailyMinInterval
}
