package digest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/polyvox/notify-engine/internal/mailer"
	"github.com/polyvox/notify-engine/internal/model"
	"github.com/polyvox/notify-engine/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubs struct {
	subs []model.DigestSubscription
}

func (f *fakeSubs) ListEnabled(_ context.Context, limit int) ([]model.DigestSubscription, error) {
	if len(f.subs) > limit {
		return f.subs[:limit], nil
	}
	return f.subs, nil
}

type fakeEvents struct {
	byEntity map[string][]model.NotificationEvent
}

func (f *fakeEvents) ListUnprocessed(_ context.Context, entityID string, limit int) ([]model.NotificationEvent, error) {
	evs := f.byEntity[entityID]
	if len(evs) > limit {
		return evs[:limit], nil
	}
	return evs, nil
}

type fakeDeliveries struct {
	inserted  []model.DigestDelivery
	finalized []model.DigestDelivery
	staleSubs map[string]bool
}

func (f *fakeDeliveries) Insert(_ context.Context, d model.DigestDelivery) error {
	f.inserted = append(f.inserted, d)
	return nil
}

func (f *fakeDeliveries) FinalizeSent(_ context.Context, subscriptionID string, _ *time.Time, d model.DigestDelivery, _ []string, _ time.Time) error {
	if f.staleSubs[subscriptionID] {
		return repository.ErrStaleSubscription
	}
	f.finalized = append(f.finalized, d)
	return nil
}

type fakeMailProvider struct {
	err   error
	calls int
	last  mailer.Email
}

func (f *fakeMailProvider) Name() string { return "fake" }

func (f *fakeMailProvider) Send(_ context.Context, e mailer.Email) (string, error) {
	f.calls++
	f.last = e
	if f.err != nil {
		return "", f.err
	}
	return "prov-1", nil
}

func activeSub(id string, lastSent *time.Time) model.DigestSubscription {
	return model.DigestSubscription{
		ContactSubscription: model.ContactSubscription{
			ID:               id,
			EntityID:         "ent-" + id,
			ContactEmail:     "board@example.com",
			DigestFrequency:  model.FrequencyDaily,
			LastSentAt:       lastSent,
			IsEnabled:        true,
			UnsubscribeToken: "tok-" + id,
		},
		EntityName:         "Northgate School District",
		JurisdictionStatus: model.JurisdictionActive,
	}
}

func someEvents(entityID string, n int, base time.Time) []model.NotificationEvent {
	evs := make([]model.NotificationEvent, 0, n)
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(model.EventPayload{
			Title: "New issue reported",
			URL:   "https://example.com/issues/1",
		})
		evs = append(evs, model.NotificationEvent{
			ID:        entityID + "-ev",
			EntityID:  entityID,
			EventType: "entity_tagged",
			Payload:   payload,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return evs
}

func newTestAggregator(subs *fakeSubs, events *fakeEvents, deliveries *fakeDeliveries, provider *fakeMailProvider) *Aggregator {
	return NewAggregator(subs, events, deliveries, provider, mailer.NewRenderer(), "https://polyvox.example")
}

func TestRunSendsDigest(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	sub := activeSub("s1", nil)
	events := &fakeEvents{byEntity: map[string][]model.NotificationEvent{
		sub.EntityID: someEvents(sub.EntityID, 3, now.Add(-2*time.Hour)),
	}}
	deliveries := &fakeDeliveries{}
	provider := &fakeMailProvider{}

	a := newTestAggregator(&fakeSubs{subs: []model.DigestSubscription{sub}}, events, deliveries, provider)

	res, err := a.Run(context.Background(), Params{}, now)
	require.NoError(t, err)

	assert.Equal(t, Result{Sent: 1, ProcessedEvents: 3}, res)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, "Polyvox Digest: Updates for Northgate School District", provider.last.Subject)
	assert.Contains(t, provider.last.HTML, "New issue reported")
	assert.Contains(t, provider.last.HTML, "https://polyvox.example/v1/subscriptions/unsubscribe?token=tok-s1")

	require.Len(t, deliveries.finalized, 1)
	assert.Equal(t, model.DeliverySent, deliveries.finalized[0].Status)
	assert.Equal(t, 3, deliveries.finalized[0].EventsCount)
}

func TestRunMinIntervalGuard(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		frequency model.DigestFrequency
		sinceLast time.Duration
		wantSent  int
	}{
		{name: "daily too soon", frequency: model.FrequencyDaily, sinceLast: 22 * time.Hour, wantSent: 0},
		{name: "daily due", frequency: model.FrequencyDaily, sinceLast: 24 * time.Hour, wantSent: 1},
		{name: "hourly too soon", frequency: model.FrequencyHourly, sinceLast: 50 * time.Minute, wantSent: 0},
		{name: "hourly due", frequency: model.FrequencyHourly, sinceLast: time.Hour, wantSent: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			last := now.Add(-tt.sinceLast)
			sub := activeSub("s1", &last)
			sub.DigestFrequency = tt.frequency

			events := &fakeEvents{byEntity: map[string][]model.NotificationEvent{
				sub.EntityID: someEvents(sub.EntityID, 1, now.Add(-time.Hour)),
			}}
			provider := &fakeMailProvider{}
			a := newTestAggregator(&fakeSubs{subs: []model.DigestSubscription{sub}}, events, &fakeDeliveries{}, provider)

			res, err := a.Run(context.Background(), Params{}, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSent, res.Sent)
			assert.Equal(t, tt.wantSent, provider.calls)
		})
	}
}

func TestRunInactiveJurisdictionSkips(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	sub := activeSub("s1", nil)
	sub.JurisdictionStatus = "PENDING"

	events := &fakeEvents{byEntity: map[string][]model.NotificationEvent{
		sub.EntityID: someEvents(sub.EntityID, 2, now.Add(-time.Hour)),
	}}
	deliveries := &fakeDeliveries{}
	provider := &fakeMailProvider{}
	a := newTestAggregator(&fakeSubs{subs: []model.DigestSubscription{sub}}, events, deliveries, provider)

	res, err := a.Run(context.Background(), Params{}, now)
	require.NoError(t, err)

	assert.Equal(t, Result{Skipped: 1}, res)
	assert.Zero(t, provider.calls)
	require.Len(t, deliveries.inserted, 1)
	assert.Equal(t, model.DeliverySkipped, deliveries.inserted[0].Status)
	require.NotNil(t, deliveries.inserted[0].Error)
	assert.Equal(t, "jurisdiction inactive", *deliveries.inserted[0].Error)
}

func TestRunNoEventsIsSilent(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	sub := activeSub("s1", nil)

	deliveries := &fakeDeliveries{}
	provider := &fakeMailProvider{}
	a := newTestAggregator(&fakeSubs{subs: []model.DigestSubscription{sub}}, &fakeEvents{}, deliveries, provider)

	res, err := a.Run(context.Background(), Params{}, now)
	require.NoError(t, err)

	assert.Equal(t, Result{}, res)
	assert.Zero(t, provider.calls)
	assert.Empty(t, deliveries.inserted)
}

func TestRunSendFailureKeepsEvents(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	sub := activeSub("s1", nil)

	events := &fakeEvents{byEntity: map[string][]model.NotificationEvent{
		sub.EntityID: someEvents(sub.EntityID, 2, now.Add(-time.Hour)),
	}}
	deliveries := &fakeDeliveries{}
	provider := &fakeMailProvider{err: errors.New("provider 502")}
	a := newTestAggregator(&fakeSubs{subs: []model.DigestSubscription{sub}}, events, deliveries, provider)

	res, err := a.Run(context.Background(), Params{}, now)
	require.NoError(t, err)

	assert.Equal(t, Result{Failed: 1}, res)
	// a failed audit row, but no finalize: events stay unprocessed
	assert.Empty(t, deliveries.finalized)
	require.Len(t, deliveries.inserted, 1)
	assert.Equal(t, model.DeliveryFailed, deliveries.inserted[0].Status)
}

func TestRunStaleSubscriptionSkips(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	sub := activeSub("s1", nil)

	events := &fakeEvents{byEntity: map[string][]model.NotificationEvent{
		sub.EntityID: someEvents(sub.EntityID, 1, now.Add(-time.Hour)),
	}}
	deliveries := &fakeDeliveries{staleSubs: map[string]bool{"s1": true}}
	a := newTestAggregator(&fakeSubs{subs: []model.DigestSubscription{sub}}, events, deliveries, &fakeMailProvider{})

	res, err := a.Run(context.Background(), Params{}, now)
	require.NoError(t, err)

	assert.Equal(t, Result{Skipped: 1}, res)
	assert.Empty(t, deliveries.finalized)
}

func TestRunDryRunPreviewsVolume(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	sub := activeSub("s1", nil)

	events := &fakeEvents{byEntity: map[string][]model.NotificationEvent{
		sub.EntityID: someEvents(sub.EntityID, 4, now.Add(-time.Hour)),
	}}
	deliveries := &fakeDeliveries{}
	provider := &fakeMailProvider{}
	a := newTestAggregator(&fakeSubs{subs: []model.DigestSubscription{sub}}, events, deliveries, provider)

	res, err := a.Run(context.Background(), Params{DryRun: true}, now)
	require.NoError(t, err)

	assert.Equal(t, Result{Skipped: 1, ProcessedEvents: 4, DryRun: true}, res)
	assert.Zero(t, provider.calls)
	assert.Empty(t, deliveries.inserted)
	assert.Empty(t, deliveries.finalized)
}

func TestRunCapsEventsPerDigest(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	sub := activeSub("s1", nil)

	events := &fakeEvents{byEntity: map[string][]model.NotificationEvent{
		sub.EntityID: someEvents(sub.EntityID, 10, now.Add(-time.Hour)),
	}}
	deliveries := &fakeDeliveries{}
	a := newTestAggregator(&fakeSubs{subs: []model.DigestSubscription{sub}}, events, deliveries, &fakeMailProvider{})

	res, err := a.Run(context.Background(), Params{MaxEventsPerDigest: 5}, now)
	require.NoError(t, err)

	assert.Equal(t, 5, res.ProcessedEvents)
	require.Len(t, deliveries.finalized, 1)
	assert.Equal(t, 5, deliveries.finalized[0].EventsCount)
}

func TestRunUsesConfiguredDefaults(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	sub := activeSub("s1", nil)

	events := &fakeEvents{byEntity: map[string][]model.NotificationEvent{
		sub.EntityID: someEvents(sub.EntityID, 10, now.Add(-time.Hour)),
	}}
	deliveries := &fakeDeliveries{}
	a := newTestAggregator(&fakeSubs{subs: []model.DigestSubscription{sub}}, events, deliveries, &fakeMailProvider{})
	a.MaxEventsPerDigest = 3

	// empty Params, as the cron job passes, falls back to the aggregator's
	// configured bounds
	res, err := a.Run(context.Background(), Params{}, now)
	require.NoError(t, err)

	assert.Equal(t, 3, res.ProcessedEvents)
	require.Len(t, deliveries.finalized, 1)
	assert.Equal(t, 3, deliveries.finalized[0].EventsCount)
}
