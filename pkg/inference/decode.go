package inference

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"storyloom/pkg/utils"
)

// Strategy tries to decode a message into T. ok=false means "try the next
// strategy".
type Strategy[T any] struct {
	Name   string
	Decode func(Message) (T, bool)
}

// Decode runs strategies in order and returns the first success. When none
// applies the error explains whether the content was blank or malformed.
func Decode[T any](step string, m Message, strategies ...Strategy[T]) (T, error) {
	for _, s := range strategies {
		if v, ok := s.Decode(m); ok {
			return v, nil
		}
	}
	var zero T
	return zero, &CallError{Step: step, Reason: failureReason(m)}
}

func failureReason(m Message) Reason {
	parsed := m.Parsed()
	if parsed.Exists() && parsed.Type != gjson.Null {
		return ReasonMalformedJSON
	}
	if strings.TrimSpace(m.Content()) == "" {
		return ReasonBlankContent
	}
	return ReasonMalformedJSON
}

// Array completes req and decodes a list of T.
func Array[T any](ctx context.Context, inf Inferencer, req Request) ([]T, error) {
	m, err := inf.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return Decode(req.Step, m, ArrayStrategies[T]()...)
}

// Object completes req and decodes a single T.
func Object[T any](ctx context.Context, inf Inferencer, req Request) (T, error) {
	m, err := inf.Complete(ctx, req)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode(req.Step, m, ObjectStrategies[T]()...)
}

// Text completes req and returns the response text: a parsed string as-is, a
// parsed object or array as raw JSON, otherwise the message content.
func Text(ctx context.Context, inf Inferencer, req Request) (string, error) {
	m, err := inf.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return Decode(req.Step, m, TextStrategies()...)
}

// ArrayStrategies: parsed array, parsed object (unwrapped or wrapped),
// parsed string holding JSON, then JSON found in the content.
func ArrayStrategies[T any]() []Strategy[[]T] {
	return []Strategy[[]T]{
		{Name: "parsed", Decode: func(m Message) ([]T, bool) {
			p := m.Parsed()
			if !p.IsArray() {
				return nil, false
			}
			return unmarshal[[]T](p.Raw)
		}},
		{Name: "parsed-wrapped", Decode: func(m Message) ([]T, bool) {
			p := m.Parsed()
			if !p.IsObject() {
				return nil, false
			}
			return unmarshal[[]T](asArray(p))
		}},
		{Name: "parsed-string", Decode: func(m Message) ([]T, bool) {
			p := m.Parsed()
			if p.Type != gjson.String {
				return nil, false
			}
			return arrayFromText[T](p.String())
		}},
		{Name: "content", Decode: func(m Message) ([]T, bool) {
			return arrayFromText[T](m.Content())
		}},
	}
}

// ObjectStrategies: parsed object, first object of a parsed array, parsed
// string holding JSON, then JSON found in the content.
func ObjectStrategies[T any]() []Strategy[T] {
	return []Strategy[T]{
		{Name: "parsed", Decode: func(m Message) (T, bool) {
			return objectFrom[T](m.Parsed())
		}},
		{Name: "parsed-string", Decode: func(m Message) (T, bool) {
			p := m.Parsed()
			if p.Type != gjson.String {
				var zero T
				return zero, false
			}
			return objectFromText[T](p.String())
		}},
		{Name: "content", Decode: func(m Message) (T, bool) {
			return objectFromText[T](m.Content())
		}},
	}
}

// TextStrategies decode the free-form text of a response.
func TextStrategies() []Strategy[string] {
	return []Strategy[string]{
		{Name: "parsed", Decode: func(m Message) (string, bool) {
			p := m.Parsed()
			switch {
			case p.Type == gjson.String && strings.TrimSpace(p.String()) != "":
				return p.String(), true
			case p.IsObject() || p.IsArray():
				return p.Raw, true
			}
			return "", false
		}},
		{Name: "content", Decode: func(m Message) (string, bool) {
			c := m.Content()
			return c, strings.TrimSpace(c) != ""
		}},
	}
}

func unmarshal[T any](raw string) (T, bool) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false
	}
	return v, true
}

// asArray turns an object into a list: an object holding exactly one array
// field yields that array, anything else becomes a single-element list.
func asArray(obj gjson.Result) string {
	var only gjson.Result
	fields := 0
	obj.ForEach(func(_, value gjson.Result) bool {
		fields++
		only = value
		return fields < 2
	})
	if fields == 1 && only.IsArray() {
		return only.Raw
	}
	return "[" + obj.Raw + "]"
}

func objectFrom[T any](r gjson.Result) (T, bool) {
	switch {
	case r.IsObject():
		return unmarshal[T](r.Raw)
	case r.IsArray():
		if first := r.Get("0"); first.IsObject() {
			return unmarshal[T](first.Raw)
		}
	}
	var zero T
	return zero, false
}

func arrayFromText[T any](text string) ([]T, bool) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, false
	}
	r := gjson.Parse(raw)
	switch {
	case r.IsArray():
		return unmarshal[[]T](r.Raw)
	case r.IsObject():
		return unmarshal[[]T](asArray(r))
	}
	return nil, false
}

func objectFromText[T any](text string) (T, bool) {
	raw, ok := ExtractJSON(text)
	if !ok {
		var zero T
		return zero, false
	}
	return objectFrom[T](gjson.Parse(raw))
}

// ExtractJSON pulls a JSON document out of model text: reasoning blocks and
// code fences are stripped, and surrounding prose is cut at the outermost
// braces or brackets.
func ExtractJSON(text string) (string, bool) {
	if idx := strings.LastIndex(text, "</think>"); idx != -1 {
		text = text[idx+len("</think>"):]
	}
	text = utils.CleanJSON(text)
	if text == "" {
		return "", false
	}
	if gjson.Valid(text) && (text[0] == '{' || text[0] == '[') {
		return text, true
	}

	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return "", false
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return "", false
	}
	candidate := text[start : end+1]
	if !gjson.Valid(candidate) {
		return "", false
	}
	return candidate, true
}
