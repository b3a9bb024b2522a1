// Package inference performs structured generation calls against chat
// completion endpoints and decodes their loosely shaped responses.
package inference

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"storyloom/pkg/schema"
)

// Inferencer sends a single user prompt and returns the first choice's
// message.
type Inferencer interface {
	Complete(ctx context.Context, req Request) (Message, error)
}

// Request is one structured call.
type Request struct {
	// Step tags diagnostic log entries.
	Step   string
	Prompt string
	// Format is attached as response_format when non-nil.
	Format *schema.Format
}

// Message is the raw JSON of the first choice's message.
type Message struct {
	Raw string
}

// MessageFromBody extracts choices[0].message from a chat completion body.
func MessageFromBody(step string, body []byte) (Message, error) {
	msg := gjson.GetBytes(body, "choices.0.message")
	if !msg.Exists() || !msg.IsObject() {
		return Message{}, &CallError{Step: step, Reason: ReasonNoChoices}
	}
	return Message{Raw: msg.Raw}, nil
}

// Parsed returns the provider-parsed structured value, if any.
func (m Message) Parsed() gjson.Result {
	return gjson.Get(m.Raw, "parsed")
}

// Content returns the message text. Array content joins the text of every
// part.
func (m Message) Content() string {
	content := gjson.Get(m.Raw, "content")
	switch {
	case content.Type == gjson.String:
		return content.String()
	case content.IsArray():
		var b strings.Builder
		for _, part := range content.Array() {
			text := part.Get("text")
			if part.Type == gjson.String {
				text = part
			}
			if text.Exists() {
				b.WriteString(text.String())
			}
		}
		return b.String()
	}
	return ""
}
