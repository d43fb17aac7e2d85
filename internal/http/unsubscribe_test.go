package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/polyvox/notify-engine/internal/model"
	"github.com/polyvox/notify-engine/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contactsStub struct {
	suppressed []string
}

func (s *contactsStub) EligibleByEntity(context.Context, string) (*model.Contact, error) {
	return nil, nil
}
func (s *contactsStub) TouchLastEmailed(context.Context, string, time.Time) error { return nil }
func (s *contactsStub) RecordBounce(context.Context, string, time.Time) error     { return nil }

func (s *contactsStub) Suppress(_ context.Context, contactID string, _ time.Time) error {
	s.suppressed = append(s.suppressed, contactID)
	return nil
}

type subsStub struct {
	known        map[string]bool                       // token -> exists
	rows         map[string]*model.ContactSubscription // token -> row
	resubscribed []string
}

func (s *subsStub) Ensure(context.Context, string, string, string, model.DigestFrequency, time.Time) error {
	return nil
}

func (s *subsStub) ListEnabled(context.Context, int) ([]model.DigestSubscription, error) {
	return nil, nil
}

func (s *subsStub) GetByToken(_ context.Context, tok string) (*model.ContactSubscription, error) {
	return s.rows[tok], nil
}

func (s *subsStub) Unsubscribe(_ context.Context, tok string, _ time.Time) (bool, error) {
	return s.known[tok], nil
}

func (s *subsStub) Resubscribe(_ context.Context, tok string, _ time.Time) (bool, error) {
	s.resubscribed = append(s.resubscribed, tok)
	return s.known[tok], nil
}

func doGet(t *testing.T, h echo.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	return rec
}

func doPostJSON(t *testing.T, h echo.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	return rec
}

func TestContactUnsubscribe(t *testing.T) {
	signer, err := token.NewSigner("secret")
	require.NoError(t, err)

	contacts := &contactsStub{}
	h := contactUnsubscribeHandler(signer, contacts)

	tok := signer.SignContact("contact-1", time.Now().Add(time.Hour))

	rec := doGet(t, h, "/v1/email/unsubscribe?token="+url.QueryEscape(tok))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"contact-1"}, contacts.suppressed)
	assert.Contains(t, rec.Body.String(), "unsubscribed")
}

func TestContactUnsubscribeBadToken(t *testing.T) {
	signer, err := token.NewSigner("secret")
	require.NoError(t, err)

	contacts := &contactsStub{}
	h := contactUnsubscribeHandler(signer, contacts)

	for _, q := range []string{"", "?token=garbage"} {
		rec := doGet(t, h, "/v1/email/unsubscribe"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid or expired")
	}
	assert.Empty(t, contacts.suppressed)
}

func TestContactUnsubscribeExpiredToken(t *testing.T) {
	signer, err := token.NewSigner("secret")
	require.NoError(t, err)

	contacts := &contactsStub{}
	h := contactUnsubscribeHandler(signer, contacts)

	tok := signer.SignContact("contact-1", time.Now().Add(-time.Hour))
	rec := doGet(t, h, "/v1/email/unsubscribe?token="+url.QueryEscape(tok))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, contacts.suppressed)
}

func TestSubscriptionUnsubscribe(t *testing.T) {
	subs := &subsStub{known: map[string]bool{"tok-1": true}}
	h := subscriptionUnsubscribeHandler(subs)

	rec := doGet(t, h, "/v1/subscriptions/unsubscribe?token=tok-1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doGet(t, h, "/v1/subscriptions/unsubscribe?token=unknown")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid or expired")
}

func TestSubscriptionResubscribe(t *testing.T) {
	unsubAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	subs := &subsStub{
		known: map[string]bool{"tok-1": true},
		rows: map[string]*model.ContactSubscription{
			"tok-1": {ID: "s1", UnsubscribeToken: "tok-1", UnsubscribedAt: &unsubAt},
		},
	}
	h := subscriptionResubscribeHandler(subs)

	rec := doPostJSON(t, h, "/v1/subscriptions/resubscribe", `{"token":"tok-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"resubscribed":true`)
	assert.Equal(t, []string{"tok-1"}, subs.resubscribed)

	rec = doPostJSON(t, h, "/v1/subscriptions/resubscribe", `{"token":"unknown"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doPostJSON(t, h, "/v1/subscriptions/resubscribe", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscriptionResubscribeAlreadyActive(t *testing.T) {
	subs := &subsStub{
		rows: map[string]*model.ContactSubscription{
			"tok-1": {ID: "s1", UnsubscribeToken: "tok-1", IsEnabled: true},
		},
	}
	h := subscriptionResubscribeHandler(subs)

	// repeating the call is a 200, not a 404 from the no-op update
	rec := doPostJSON(t, h, "/v1/subscriptions/resubscribe", `{"token":"tok-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"resubscribed":true`)
	assert.Empty(t, subs.resubscribed)
}
