package apns

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// json is the shared encoder for payloads and response bodies. The
// standard-library-compatible config preserves key ordering semantics and
// HTML escaping behavior callers expect from encoding/json.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Payload builds the JSON body of a notification. The zero value is not
// usable; start with NewPayload. Builder methods return the receiver so
// calls can be chained, and Bytes serializes the result.
type Payload struct {
	aps    map[string]interface{}
	custom map[string]interface{}
}

// NewPayload returns an empty payload builder.
func NewPayload() *Payload {
	return &Payload{
		aps:    make(map[string]interface{}),
		custom: make(map[string]interface{}),
	}
}

// Alert sets the alert text shown to the user.
func (p *Payload) Alert(text string) *Payload {
	p.aps["alert"] = text
	return p
}

// AlertTitleBody sets a structured alert with separate title and body.
func (p *Payload) AlertTitleBody(title, body string) *Payload {
	p.aps["alert"] = map[string]interface{}{"title": title, "body": body}
	return p
}

// Badge sets the number displayed on the app icon. Zero clears the badge.
func (p *Payload) Badge(n int) *Payload {
	p.aps["badge"] = n
	return p
}

// Sound sets the name of the sound file to play on delivery.
func (p *Payload) Sound(name string) *Payload {
	p.aps["sound"] = name
	return p
}

// ContentAvailable marks the notification as a silent background update.
func (p *Payload) ContentAvailable() *Payload {
	p.aps["content-available"] = 1
	return p
}

// MutableContent allows a notification service extension to modify the
// payload before display.
func (p *Payload) MutableContent() *Payload {
	p.aps["mutable-content"] = 1
	return p
}

// Category sets the notification category for actionable notifications.
func (p *Payload) Category(name string) *Payload {
	p.aps["category"] = name
	return p
}

// ThreadID groups related notifications in the notification center.
func (p *Payload) ThreadID(id string) *Payload {
	p.aps["thread-id"] = id
	return p
}

// Custom adds an app-defined key at the top level of the payload. The key
// "aps" is reserved and ignored.
func (p *Payload) Custom(key string, value interface{}) *Payload {
	if key == "aps" {
		return p
	}
	p.custom[key] = value
	return p
}

// Bytes serializes the payload. It fails if the result exceeds the APNs
// payload limit, so oversized payloads are caught before a stream is opened.
func (p *Payload) Bytes() ([]byte, error) {
	body := make(map[string]interface{}, len(p.custom)+1)
	for k, v := range p.custom {
		body[k] = v
	}
	body["aps"] = p.aps

	out, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("apns: marshal payload: %w", err)
	}
	if len(out) > MaxPayloadBytes {
		return nil, fmt.Errorf("apns: payload is %d bytes, limit is %d", len(out), MaxPayloadBytes)
	}
	return out, nil
}
