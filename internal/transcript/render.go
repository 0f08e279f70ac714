package transcript

import (
	"fmt"
	"html/template"
	"io"
	"strings"
)

// Format selects how a transcript lookup is presented.
type Format int

const (
	FormatJSON Format = iota
	FormatText
	FormatHTML
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatHTML:
		return "html"
	default:
		return "json"
	}
}

// ParseFormat picks the presentation from request flags: html wins over
// text, which wins over the JSON default.
func ParseFormat(html, text bool) Format {
	switch {
	case html:
		return FormatHTML
	case text:
		return FormatText
	default:
		return FormatJSON
	}
}

// Flag interprets a query flag value; "true" (any case) and "1" are set.
func Flag(v string) bool {
	v = strings.TrimSpace(v)
	return strings.EqualFold(v, "true") || v == "1"
}

const pageLayout = `{{define "page"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{margin:0;padding:24px;background:#f4f5f7;font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Roboto,Helvetica,Arial,sans-serif;color:#1f2328}
.container{max-width:720px;margin:0 auto}
h1{font-size:20px;margin:0 0 16px}
.notice{background:#fff;border-radius:12px;padding:20px;box-shadow:0 1px 3px rgba(0,0,0,.08)}
.notice p{margin:8px 0;line-height:1.5}
.notice code{background:#f0f1f3;padding:2px 6px;border-radius:4px}
.messages{display:flex;flex-direction:column;gap:12px;margin-bottom:24px}
.message{display:flex}
.message.user{justify-content:flex-end}
.message.assistant{justify-content:flex-start}
.bubble{max-width:75%;padding:10px 14px;border-radius:16px;line-height:1.45;white-space:pre-wrap;word-wrap:break-word}
.user .bubble{background:#2563eb;color:#fff;border-bottom-right-radius:4px}
.assistant .bubble{background:#fff;color:#1f2328;border:1px solid #e3e5e8;border-bottom-left-radius:4px}
.time{display:block;margin-top:6px;font-size:11px;opacity:.7}
.cta{display:inline-block;padding:10px 18px;background:#111827;color:#fff;text-decoration:none;border-radius:8px;font-weight:600}
.cta:hover{background:#374151}
</style>
</head>
<body>
<div class="container">
{{template "content" .}}
</div>
</body>
</html>
{{end}}`

const conversationContent = `{{define "content"}}<h1>Conversation</h1>
<div class="messages">
{{range .Messages}}<div class="message {{.Speaker}}"><div class="bubble">{{.Text}}<span class="time">{{.Timestamp}}</span></div></div>
{{end}}</div>
<a class="cta" href="{{.URL}}" target="_blank" rel="noopener">View full transcript</a>
{{end}}`

const linkOnlyContent = `{{define "content"}}<div class="notice">
<p>The conversation details could not be loaded here.</p>
<p><a class="cta" href="{{.URL}}" target="_blank" rel="noopener">View full transcript</a></p>
</div>
{{end}}`

const missingSessionContent = `{{define "content"}}<div class="notice">
<h1>Missing Session ID</h1>
<p>No session ID was provided, so there is no conversation to show.</p>
</div>
{{end}}`

const notFoundContent = `{{define "content"}}<div class="notice">
<h1>Conversation Not Found</h1>
<p>No conversation was found for session <code>{{.SessionID}}</code> in project <code>{{.ProjectID}}</code>.</p>
{{if .Available}}<p>{{len .Available}} other session(s) exist in this project.</p>{{end}}
</div>
{{end}}`

func mustPage(name, content string) *template.Template {
	t := template.Must(template.New(name).Parse(pageLayout))
	return template.Must(t.Parse(content))
}

// Renderer produces the HTML transcript views.
type Renderer struct {
	conversation   *template.Template
	linkOnly       *template.Template
	missingSession *template.Template
	notFound       *template.Template
}

func NewRenderer() *Renderer {
	return &Renderer{
		conversation:   mustPage("conversation", conversationContent),
		linkOnly:       mustPage("link-only", linkOnlyContent),
		missingSession: mustPage("missing-session", missingSessionContent),
		notFound:       mustPage("not-found", notFoundContent),
	}
}

type pageData struct {
	Title     string
	URL       string
	Messages  []Message
	SessionID string
	ProjectID string
	Available []string
}

func (r *Renderer) execute(w io.Writer, t *template.Template, data pageData) error {
	if err := t.ExecuteTemplate(w, "page", data); err != nil {
		return fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return nil
}

// Conversation renders one bubble per message followed by a link to the
// full transcript. Messages are expected in display order.
func (r *Renderer) Conversation(w io.Writer, transcriptURL string, messages []Message) error {
	return r.execute(w, r.conversation, pageData{Title: "Conversation", URL: transcriptURL, Messages: messages})
}

// LinkOnly renders the degraded view used when details are unavailable.
func (r *Renderer) LinkOnly(w io.Writer, transcriptURL string) error {
	return r.execute(w, r.linkOnly, pageData{Title: "Conversation", URL: transcriptURL})
}

func (r *Renderer) MissingSession(w io.Writer) error {
	return r.execute(w, r.missingSession, pageData{Title: "Missing Session ID"})
}

func (r *Renderer) NotFound(w io.Writer, sessionID, projectID string, available []string) error {
	return r.execute(w, r.notFound, pageData{
		Title:     "Conversation Not Found",
		SessionID: sessionID,
		ProjectID: projectID,
		Available: available,
	})
}
