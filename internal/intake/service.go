package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/polyvox/notify-engine/internal/metrics"
	"github.com/polyvox/notify-engine/internal/model"
	"github.com/polyvox/notify-engine/internal/policy"
	"github.com/polyvox/notify-engine/internal/repository"
	"github.com/polyvox/notify-engine/internal/token"
	"github.com/polyvox/notify-engine/internal/util"
	"go.uber.org/zap"
)

var ErrEntityNotFound = errors.New("entity not found")

var uuidRe = regexp.MustCompile(`^[0-9a-fA-F-]{36}$`)

const (
	mentionSubject  = "Polyvox: You were mentioned"
	contactTokenTTL = 30 * 24 * time.Hour
	eventTagged     = "entity_tagged"
)

// MentionRequest is the intake body, shared by the HTTP route and the Kafka
// envelope.
type MentionRequest struct {
	EntityID     string `json:"entityId"`
	ContentType  string `json:"contentType"`
	ContentID    string `json:"contentId"`
	ContentURL   string `json:"contentUrl"`
	ContentTitle string `json:"contentTitle,omitempty"`
	Intent       string `json:"intent,omitempty"`
	CreatedBy    string `json:"createdBy,omitempty"`
}

type MentionResult struct {
	Status   string `json:"status"`
	Notified bool   `json:"notified"`
}

// Service records mentions and routes notifications through the policy
// decider. It only performs lookups and inserts; outbound sends are deferred
// entirely to the processor. Once the mention row is durable, downstream
// notification failures are logged and swallowed: intake always reports
// success to its caller.
type Service struct {
	entities repository.EntitiesRepository
	contacts repository.ContactsRepository
	mentions repository.MentionsRepository
	subs     repository.SubscriptionsRepository
	events   repository.EventsRepository
	outbox   repository.OutboxRepository
	decider  *policy.Decider
	signer   *token.Signer

	baseURL string

	Log *zap.Logger
	Now func() time.Time
}

func New(
	entitiesRepo repository.EntitiesRepository,
	contactsRepo repository.ContactsRepository,
	mentionsRepo repository.MentionsRepository,
	subsRepo repository.SubscriptionsRepository,
	eventsRepo repository.EventsRepository,
	outboxRepo repository.OutboxRepository,
	decider *policy.Decider,
	signer *token.Signer,
	baseURL string,
) *Service {
	return &Service{
		entities: entitiesRepo,
		contacts: contactsRepo,
		mentions: mentionsRepo,
		subs:     subsRepo,
		events:   eventsRepo,
		outbox:   outboxRepo,
		decider:  decider,
		signer:   signer,
		baseURL:  strings.TrimRight(baseURL, "/"),
		Log:      zap.NewNop(),
		Now:      time.Now,
	}
}

// Record validates and persists the mention, then decides whether and how to
// notify. Returns ErrEntityNotFound for an unknown entity; any other error
// means the mention itself could not be recorded.
func (s *Service) Record(ctx context.Context, req MentionRequest) (MentionResult, error) {
	contentType, ok := model.ParseContentType(req.ContentType)
	if !ok {
		return MentionResult{}, fmt.Errorf("invalid content type: %q", req.ContentType)
	}
	if req.EntityID == "" || req.ContentID == "" || req.ContentURL == "" {
		return MentionResult{}, errors.New("missing required mention fields")
	}

	entity, err := s.entities.GetByID(ctx, req.EntityID)
	if err != nil {
		return MentionResult{}, fmt.Errorf("load entity: %w", err)
	}
	if entity == nil {
		return MentionResult{}, ErrEntityNotFound
	}

	now := s.Now()
	contentURL := s.resolveURL(req.ContentURL)

	mention := model.MentionEvent{
		ID:          util.New(),
		EntityID:    req.EntityID,
		ContentType: contentType,
		ContentID:   req.ContentID,
		ContentURL:  contentURL,
		CreatedAt:   now,
	}
	if t := strings.TrimSpace(req.ContentTitle); t != "" {
		mention.ContentTitle = &t
	}
	if i := strings.TrimSpace(req.Intent); i != "" {
		mention.Intent = &i
	}
	if uuidRe.MatchString(req.CreatedBy) {
		createdBy := req.CreatedBy
		mention.CreatedBy = &createdBy
	}

	// The mention is the durable fact; everything after this point is
	// best-effort notification.
	if err := s.mentions.Insert(ctx, mention); err != nil {
		return MentionResult{}, fmt.Errorf("insert mention: %w", err)
	}

	recorded := MentionResult{Status: "recorded"}

	if !policy.ShouldNotify(contentType, mention.Intent) {
		return recorded, nil
	}

	contact, err := s.contacts.EligibleByEntity(ctx, req.EntityID)
	if err != nil {
		s.Log.Warn("intake: contact lookup failed",
			zap.String("entity_id", req.EntityID), zap.Error(err))
		return recorded, nil
	}

	decision, err := s.decider.Decide(ctx, entity, contact, mention, now)
	if err != nil {
		s.Log.Warn("intake: decide failed",
			zap.String("entity_id", req.EntityID), zap.Error(err))
		return recorded, nil
	}

	metrics.DecisionsTotal.WithLabelValues(string(decision.Route)).Inc()

	switch decision.Route {
	case policy.RouteImmediate:
		recorded.Notified = s.enqueueImmediate(ctx, entity, contact, mention, decision, now)
	case policy.RouteDigest:
		recorded.Notified = s.routeDigest(ctx, entity, contact, mention, decision, now)
	}
	return recorded, nil
}

func (s *Service) enqueueImmediate(ctx context.Context, entity *model.Entity, contact *model.Contact, mention model.MentionEvent, decision policy.Decision, now time.Time) bool {
	payload, err := json.Marshal(model.ImmediatePayload{
		EntityName:        entity.Name,
		JurisdictionLabel: entity.JurisdictionLabel,
		ContentTitle:      mention.ContentTitle,
		ContentExcerpt:    contentExcerpt(mention),
		ContentURL:        mention.ContentURL,
		CreatedBy:         mention.CreatedBy,
		UnsubscribeURL:    s.contactUnsubscribeURL(contact.ID, now),
	})
	if err != nil {
		s.Log.Error("intake: marshal immediate payload", zap.Error(err))
		return false
	}

	contactID := contact.ID
	err = s.outbox.Enqueue(ctx, model.OutboxMessage{
		ID:        util.New(),
		EntityID:  entity.ID,
		ContactID: &contactID,
		ToEmail:   contact.Email,
		Subject:   mentionSubject,
		Template:  model.TemplateTagImmediate,
		Payload:   payload,
		SendAfter: decision.SendAfter,
		DedupeKey: decision.DedupeKey,
	}, now.Add(-s.decider.ImmediateThrottle), false)
	if errors.Is(err, repository.ErrDuplicateLiveJob) {
		// Lost a race with an identical mention; the live job covers it.
		return true
	}
	if err != nil {
		s.Log.Error("intake: enqueue immediate",
			zap.String("dedupe_key", decision.DedupeKey), zap.Error(err))
		return false
	}

	metrics.OutboxJobsTotal.WithLabelValues("queued").Inc()
	return true
}

func (s *Service) routeDigest(ctx context.Context, entity *model.Entity, contact *model.Contact, mention model.MentionEvent, decision policy.Decision, now time.Time) bool {
	if err := s.subs.Ensure(ctx, entity.ID, contact.Email, util.New(), model.FrequencyDaily, now); err != nil {
		s.Log.Warn("intake: ensure subscription",
			zap.String("entity_id", entity.ID), zap.Error(err))
	}

	eventPayload, _ := json.Marshal(model.EventPayload{
		Title:   eventTitle(mention),
		Excerpt: contentExcerpt(mention),
		URL:     mention.ContentURL,
	})
	if err := s.events.Insert(ctx, model.NotificationEvent{
		ID:        util.New(),
		EntityID:  entity.ID,
		EventType: eventTagged,
		Payload:   eventPayload,
		CreatedAt: now,
	}); err != nil {
		s.Log.Warn("intake: insert notification event",
			zap.String("entity_id", entity.ID), zap.Error(err))
	}

	if decision.AlreadyQueued {
		// Today's digest job already represents the batch.
		return true
	}

	payload, err := json.Marshal(model.DigestPayload{
		EntityName:        entity.Name,
		JurisdictionLabel: entity.JurisdictionLabel,
		Items: []model.DigestItem{{
			Label:   model.EventLabel(eventTagged),
			Title:   eventTitle(mention),
			Excerpt: contentExcerpt(mention),
			URL:     mention.ContentURL,
		}},
		UnsubscribeURL: s.contactUnsubscribeURL(contact.ID, now),
	})
	if err != nil {
		s.Log.Error("intake: marshal digest payload", zap.Error(err))
		return false
	}

	contactID := contact.ID
	err = s.outbox.Enqueue(ctx, model.OutboxMessage{
		ID:        util.New(),
		EntityID:  entity.ID,
		ContactID: &contactID,
		ToEmail:   contact.Email,
		Subject:   mentionSubject,
		Template:  model.TemplateTagDigest,
		Payload:   payload,
		SendAfter: decision.SendAfter,
		DedupeKey: decision.DedupeKey,
	}, now.Add(-24*time.Hour), false)
	if errors.Is(err, repository.ErrDuplicateLiveJob) {
		return true
	}
	if err != nil {
		s.Log.Error("intake: enqueue digest",
			zap.String("dedupe_key", decision.DedupeKey), zap.Error(err))
		return false
	}

	metrics.OutboxJobsTotal.WithLabelValues("queued").Inc()
	return true
}

func (s *Service) resolveURL(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	joined, err := url.JoinPath(s.baseURL, raw)
	if err != nil {
		return s.baseURL + "/" + strings.TrimLeft(raw, "/")
	}
	return joined
}

func (s *Service) contactUnsubscribeURL(contactID string, now time.Time) string {
	t := s.signer.SignContact(contactID, now.Add(contactTokenTTL))
	return fmt.Sprintf("%s/v1/email/unsubscribe?token=%s", s.baseURL, t)
}

func contentExcerpt(m model.MentionEvent) *string {
	if m.Intent != nil {
		e := "Intent: " + *m.Intent
		return &e
	}
	if m.ContentTitle != nil {
		e := "Content type: " + m.ContentType.String()
		return &e
	}
	return nil
}

func eventTitle(m model.MentionEvent) string {
	if m.ContentTitle != nil {
		return *m.ContentTitle
	}
	return m.ContentType.String()
}
