package mailer

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/polyvox/notify-engine/internal/model"
)

const immediateHTML = `<div style="font-family:Arial,sans-serif;color:#0f172a;">
  <h1 style="font-size:20px;margin-bottom:8px;">You were mentioned</h1>
  <p style="font-size:14px;margin:0 0 16px 0;">{{.EntityName}}{{with .JurisdictionLabel}} &bull; {{.}}{{end}}</p>
  {{with .ContentTitle}}<p style="font-size:14px;font-weight:600;margin:0 0 4px 0;">{{.}}</p>{{end}}
  {{with .ContentExcerpt}}<p style="font-size:13px;color:#475569;margin:0 0 12px 0;">{{.}}</p>{{end}}
  <p style="font-size:14px;"><a href="{{.ContentURL}}" style="color:#2563eb;">View on Polyvox</a></p>
  <p style="font-size:12px;color:#475569;margin-top:18px;">
    You are receiving this because your contact address is listed publicly for this entity.
  </p>
  <p style="font-size:12px;margin-top:8px;">
    <a href="{{.UnsubscribeURL}}" style="color:#2563eb;">Unsubscribe</a>
  </p>
</div>`

const immediateText = `You were mentioned
{{.EntityName}}{{with .JurisdictionLabel}} - {{.}}{{end}}
{{with .ContentTitle}}
{{.}}{{end}}{{with .ContentExcerpt}}
{{.}}{{end}}

View: {{.ContentURL}}

Unsubscribe: {{.UnsubscribeURL}}
`

const digestHTML = `<div style="font-family:Arial,sans-serif;color:#0f172a;">
  <h1 style="font-size:20px;margin-bottom:8px;">Polyvox Digest</h1>
  <p style="font-size:14px;margin:0 0 16px 0;">Updates for {{.EntityName}}{{with .JurisdictionLabel}} &bull; {{.}}{{end}}</p>
  <table style="width:100%;border-collapse:collapse;">
    {{range .Items}}<tr>
      <td style="padding:8px 0;">
        <div style="font-size:13px;color:#475569;">{{.Label}}{{with .Created}} &bull; {{.}}{{end}}</div>
        <div style="font-size:14px;color:#0f172a;font-weight:600;">{{.Title}}</div>
        {{with .Excerpt}}<div style="font-size:13px;color:#475569;">{{.}}</div>{{end}}
      </td>
      <td style="padding:8px 0;text-align:right;">{{with .URL}}<a href="{{.}}" style="color:#2563eb;text-decoration:none;">View</a>{{end}}</td>
    </tr>{{end}}
  </table>
  <p style="font-size:12px;color:#475569;margin-top:18px;">
    You are receiving this digest based on public entity notifications.
  </p>
  <p style="font-size:12px;margin-top:8px;">
    <a href="{{.UnsubscribeURL}}" style="color:#2563eb;">Unsubscribe</a>
  </p>
</div>`

const digestText = `Polyvox Digest
Updates for {{.EntityName}}{{with .JurisdictionLabel}} - {{.}}{{end}}

{{range .Items}}- {{.Label}}{{with .Created}} - {{.}}{{end}} - {{.Title}}{{with .URL}} ({{.}}){{end}}
{{end}}
Unsubscribe: {{.UnsubscribeURL}}
`

// Renderer turns a template name + opaque payload into HTML and plain-text
// bodies.
type Renderer struct {
	immediateHTML *htmltemplate.Template
	immediateText *texttemplate.Template
	digestHTML    *htmltemplate.Template
	digestText    *texttemplate.Template
}

func NewRenderer() *Renderer {
	return &Renderer{
		immediateHTML: htmltemplate.Must(htmltemplate.New(model.TemplateTagImmediate).Parse(immediateHTML)),
		immediateText: texttemplate.Must(texttemplate.New(model.TemplateTagImmediate).Parse(immediateText)),
		digestHTML:    htmltemplate.Must(htmltemplate.New(model.TemplateTagDigest).Parse(digestHTML)),
		digestText:    texttemplate.Must(texttemplate.New(model.TemplateTagDigest).Parse(digestText)),
	}
}

// Render dispatches on the outbox row's template name. Unknown templates are
// an error; the processor treats that as a send failure.
func (r *Renderer) Render(template string, payload json.RawMessage) (html, text string, err error) {
	switch template {
	case model.TemplateTagImmediate:
		var p model.ImmediatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", "", fmt.Errorf("decode %s payload: %w", template, err)
		}
		return r.RenderImmediate(p)
	case model.TemplateTagDigest:
		var p model.DigestPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", "", fmt.Errorf("decode %s payload: %w", template, err)
		}
		return r.RenderDigest(p)
	default:
		return "", "", fmt.Errorf("unknown template: %s", template)
	}
}

func (r *Renderer) RenderImmediate(p model.ImmediatePayload) (string, string, error) {
	return render(r.immediateHTML, r.immediateText, p)
}

func (r *Renderer) RenderDigest(p model.DigestPayload) (string, string, error) {
	return render(r.digestHTML, r.digestText, p)
}

func render(html *htmltemplate.Template, text *texttemplate.Template, data any) (string, string, error) {
	var hb, tb strings.Builder
	if err := html.Execute(&hb, data); err != nil {
		return "", "", err
	}
	if err := text.Execute(&tb, data); err != nil {
		return "", "", err
	}
	return hb.String(), tb.String(), nil
}
