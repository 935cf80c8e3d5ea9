package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var discussionTemplate = template.Must(template.New("discussion").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string { return t.UTC().Format("Jan 2, 2006 15:04 MST") },
	"indent":     func(depth int) int { return min(depth, maxIndentDepth) * 24 },
	"paragraphs": paragraphs,
	"join":       strings.Join,
}).Parse(discussionHTML))

const maxIndentDepth = 8

// TemplateData holds data for discussion template rendering
type TemplateData struct {
	Title      string
	Content    string
	Tags       []string
	Author     string
	GroupName  string
	CreatedAt  time.Time
	IsClosed   bool
	ReplyCount int
	Replies    []TemplateReply
	ExportedAt time.Time
}

// TemplateReply is one reply in pre-order with its nesting depth.
type TemplateReply struct {
	Author    string
	Content   string
	CreatedAt time.Time
	Edited    bool
	Likes     int
	Depth     int
}

func RenderDiscussionHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := discussionTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// paragraphs splits text on blank lines.
func paragraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(normalized, "\n\n") {
		if trimmed := strings.TrimSpace(block); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

const discussionHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, 'Times New Roman', serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #2d5f8b; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    .tags span { display: inline-block; background: #eef3f8; border-radius: 3px; padding: 0 6px; margin-right: 4px; font-size: 0.85em; }
    .closed { color: #a33; font-weight: bold; }
    .reply { border-left: 3px solid #c9d6e3; padding: 0.25rem 0.75rem; margin: 0.75rem 0; page-break-inside: avoid; }
    .reply .who { font-size: 0.85em; color: #555; }
    footer { margin-top: 2rem; font-size: 0.8em; color: #888; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">
    {{.GroupName}} | {{.Author}} | {{formatDate .CreatedAt}}{{if .IsClosed}} | <span class="closed">Closed</span>{{end}}
  </div>
  {{if .Tags}}<div class="tags">{{range .Tags}}<span>{{.}}</span>{{end}}</div>{{end}}
  {{range paragraphs .Content}}<p>{{.}}</p>{{end}}

  <h2>Replies ({{.ReplyCount}})</h2>
  {{range .Replies}}
  <div class="reply" style="margin-left: {{indent .Depth}}px">
    <div class="who">{{.Author}} | {{formatDate .CreatedAt}}{{if .Edited}} | edited{{end}}{{if .Likes}} | {{.Likes}} likes{{end}}</div>
    {{range paragraphs .Content}}<p>{{.}}</p>{{end}}
  </div>
  {{else}}
  <p>No replies yet.</p>
  {{end}}
  <footer>Exported {{formatDate .ExportedAt}}</footer>
</body>
</html>`
