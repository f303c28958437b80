package web

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/yuin/goldmark"

	"github.com/voyagehq/concierge-agent/internal/conversation"
)

var transcriptTmpl = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Conversation {{.SessionID}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
.meta { color: #666; font-size: 0.85rem; }
.msg { border-left: 3px solid #ccc; padding: 0.25rem 1rem; margin: 1rem 0; }
.msg.user { border-color: #2b6cb0; }
.msg.assistant { border-color: #2f855a; }
.msg.system { border-color: #b7791f; }
.msg.tool { border-color: #805ad5; background: #fafafa; }
.role { font-weight: bold; text-transform: capitalize; }
pre { background: #f4f4f4; padding: 0.5rem; overflow-x: auto; }
</style>
</head>
<body>
<h1>Conversation {{.SessionID}}</h1>
<p class="meta">Status: {{.Status}} · {{len .Messages}} messages · updated {{.UpdatedAt.Format "2006-01-02 15:04:05 MST"}}</p>
{{range .Messages}}
<div class="msg {{.Role}}">
<span class="role">{{.Role}}</span>
<span class="meta">{{.Timestamp.Format "15:04:05"}}</span>
{{.Body}}
</div>
{{end}}
</body>
</html>
`))

type transcriptMessage struct {
	Role      conversation.Role
	Timestamp time.Time
	Body      template.HTML
}

type transcriptData struct {
	SessionID string
	Status    conversation.Status
	UpdatedAt time.Time
	Messages  []transcriptMessage
}

// RenderTranscript renders the message log as a standalone HTML page.
// Message content is treated as Markdown.
func RenderTranscript(state *conversation.State) ([]byte, error) {
	data := transcriptData{
		SessionID: state.SessionID,
		Status:    state.Status,
		UpdatedAt: state.UpdatedAt,
	}

	for _, m := range state.Messages {
		var body bytes.Buffer
		if err := goldmark.Convert([]byte(m.Content), &body); err != nil {
			return nil, fmt.Errorf("render message %s: %w", m.ID, err)
		}
		data.Messages = append(data.Messages, transcriptMessage{
			Role:      m.Role,
			Timestamp: m.Timestamp,
			Body:      template.HTML(body.String()),
		})
	}

	var out bytes.Buffer
	if err := transcriptTmpl.Execute(&out, data); err != nil {
		return nil, fmt.Errorf("execute transcript template: %w", err)
	}
	return out.Bytes(), nil
}
