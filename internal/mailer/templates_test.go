package mailer

import (
	"encoding/json"
	"testing"

	"github.com/polyvox/notify-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderImmediate(t *testing.T) {
	jur := "Riverside County"
	title := "Broken water main"
	excerpt := "Intent: ISSUE"

	html, text, err := NewRenderer().RenderImmediate(model.ImmediatePayload{
		EntityName:        "Riverside Water Authority",
		JurisdictionLabel: &jur,
		ContentTitle:      &title,
		ContentExcerpt:    &excerpt,
		ContentURL:        "https://polyvox.example/issues/42",
		UnsubscribeURL:    "https://polyvox.example/v1/email/unsubscribe?token=x",
	})
	require.NoError(t, err)

	assert.Contains(t, html, "You were mentioned")
	assert.Contains(t, html, "Riverside Water Authority")
	assert.Contains(t, html, "Riverside County")
	assert.Contains(t, html, "Broken water main")
	assert.Contains(t, html, `href="https://polyvox.example/issues/42"`)
	assert.Contains(t, html, `href="https://polyvox.example/v1/email/unsubscribe?token=x"`)

	assert.Contains(t, text, "View: https://polyvox.example/issues/42")
	assert.Contains(t, text, "Unsubscribe: https://polyvox.example/v1/email/unsubscribe?token=x")
}

func TestRenderImmediateMinimalPayload(t *testing.T) {
	html, _, err := NewRenderer().RenderImmediate(model.ImmediatePayload{
		EntityName:     "Old Mill Township",
		ContentURL:     "https://polyvox.example/posts/1",
		UnsubscribeURL: "https://polyvox.example/v1/email/unsubscribe?token=x",
	})
	require.NoError(t, err)
	assert.Contains(t, html, "Old Mill Township")
}

func TestRenderImmediateEscapesHTML(t *testing.T) {
	title := `<script>alert("x")</script>`
	html, _, err := NewRenderer().RenderImmediate(model.ImmediatePayload{
		EntityName:     "Acme",
		ContentTitle:   &title,
		ContentURL:     "https://polyvox.example/issues/1",
		UnsubscribeURL: "https://polyvox.example/u",
	})
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
}

func TestRenderDigest(t *testing.T) {
	excerpt := "Outage reported near Main St"
	html, text, err := NewRenderer().RenderDigest(model.DigestPayload{
		EntityName: "Northgate School District",
		Items: []model.DigestItem{
			{
				Label:   "Mention",
				Title:   "New issue reported",
				Excerpt: &excerpt,
				URL:     "https://polyvox.example/issues/7",
				Created: "Mar 14, 2026 09:00 UTC",
			},
			{
				Label: "Mention",
				Title: "Follow-up question",
			},
		},
		UnsubscribeURL: "https://polyvox.example/v1/subscriptions/unsubscribe?token=tok",
	})
	require.NoError(t, err)

	assert.Contains(t, html, "Polyvox Digest")
	assert.Contains(t, html, "New issue reported")
	assert.Contains(t, html, "Follow-up question")
	assert.Contains(t, html, "Outage reported near Main St")
	assert.Contains(t, text, "Unsubscribe: https://polyvox.example/v1/subscriptions/unsubscribe?token=tok")
}

func TestRenderDispatch(t *testing.T) {
	r := NewRenderer()

	payload, _ := json.Marshal(model.ImmediatePayload{
		EntityName:     "Acme",
		ContentURL:     "https://polyvox.example/x",
		UnsubscribeURL: "https://polyvox.example/u",
	})

	html, _, err := r.Render(model.TemplateTagImmediate, payload)
	require.NoError(t, err)
	assert.Contains(t, html, "Acme")

	_, _, err = r.Render("bogus_template", payload)
	assert.Error(t, err)

	_, _, err = r.Render(model.TemplateTagImmediate, []byte("{broken"))
	assert.Error(t, err)
}
