package scm

import (
	"bytes"
	"encoding/json"
	"net/url"

	"github.com/openctemio/scangate/pkg/domain/event"
)

// Payload is a decoded webhook body: the top-level keys plus the JSON document itself.
type Payload struct {
	Raw    []byte
	Fields map[string]json.RawMessage
}

// DecodePayload parses a JSON body. Legacy form deliveries (`payload=<urlencoded json>`)
// are URL-decoded and retried.
func DecodePayload(body []byte) (*Payload, error) {
	if p, err := decodeJSON(body); err == nil {
		return p, nil
	}

	unescaped, err := url.QueryUnescape(string(body))
	if err != nil {
		return nil, event.Malformed("", "body is neither JSON nor form encoded")
	}
	trimmed := bytes.TrimPrefix([]byte(unescaped), []byte("payload="))
	p, err := decodeJSON(trimmed)
	if err != nil {
		return nil, event.Malformed("", "body is not valid JSON: "+err.Error())
	}
	return p, nil
}

func decodeJSON(b []byte) (*Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	return &Payload{Raw: b, Fields: fields}, nil
}

// Has reports whether a top-level key is present.
func (p *Payload) Has(key string) bool {
	_, ok := p.Fields[key]
	return ok
}

// String returns a top-level string value or "".
func (p *Payload) String(key string) string {
	raw, ok := p.Fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Require fails with a ValidationError naming the first missing top-level key.
func (p *Payload) Require(provider event.Provider, keys ...string) error {
	for _, k := range keys {
		if raw, ok := p.Fields[k]; !ok || string(raw) == "null" {
			return event.MissingKey(provider, k)
		}
	}
	return nil
}

// Decode unmarshals the whole document into v.
func (p *Payload) Decode(provider event.Provider, v any) error {
	if err := json.Unmarshal(p.Raw, v); err != nil {
		return event.Malformed(provider, err.Error())
	}
	return nil
}

// DomainOf classifies the delivery by payload shape.
func DomainOf(p *Payload) (event.Domain, bool) {
	kind := p.String("object_kind")
	switch {
	case p.Has("pull_request") || p.Has("pullrequest") || kind == "merge_request":
		return event.DomainPR, true
	case p.Has("commits") || p.Has("push") || kind == "push":
		return event.DomainPush, true
	case kind == "project_create" || p.String("event_name") == "project_create":
		return event.DomainRepoCreate, true
	}
	return "", false
}

// missing returns a ValidationError when any of the named values is empty.
func missing(provider event.Provider, fields map[string]string) error {
	for _, k := range sortedKeys(fields) {
		if fields[k] == "" {
			return event.MissingKey(provider, k)
		}
	}
	return nil
}
