package apns

import (
	"strconv"
	"time"
)

// Response is the outcome of a push as reported by APNs on stream close.
// A StatusCode of zero means the stream closed without delivering a
// :status pseudo-header (for example a server-side stream reset); callers
// should treat that as "accepted, no error detail".
type Response struct {
	// StatusCode is the HTTP status reported by APNs. 200 means the
	// notification was accepted for delivery.
	StatusCode int

	// ApnsID echoes the notification's apns-id header, or carries the ID
	// APNs assigned when the notification did not set one.
	ApnsID string

	// Headers holds the non-pseudo response headers, last value winning
	// per key.
	Headers map[string]string

	// Body is the raw response body. Error responses carry a JSON object
	// with a reason string; Reason decodes it.
	Body []byte

	// StreamErr is set when the stream terminated abnormally (reset or
	// transport-level close) instead of a normal HEADERS/DATA exchange.
	StreamErr error
}

// errorBody is the JSON shape APNs uses for non-2xx responses.
type errorBody struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// Delivered reports whether APNs accepted the notification.
func (r *Response) Delivered() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Reason returns the APNs error reason string (for example "BadDeviceToken"
// or "Unregistered"), or "" for delivered notifications and bodies that do
// not parse.
func (r *Response) Reason() string {
	if r.Delivered() || len(r.Body) == 0 {
		return ""
	}
	var eb errorBody
	if err := json.Unmarshal(r.Body, &eb); err != nil {
		return ""
	}
	return eb.Reason
}

// Unregistered returns the time at which APNs last confirmed the device
// token was invalid, for 410 responses. The zero time is returned for all
// other statuses.
func (r *Response) Unregistered() time.Time {
	if r.StatusCode != 410 || len(r.Body) == 0 {
		return time.Time{}
	}
	var eb errorBody
	if err := json.Unmarshal(r.Body, &eb); err != nil || eb.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(eb.Timestamp)
}

// buildResponse converts a finished stream record's accumulated state into
// the caller-facing response. Pseudo-headers are consumed here and excluded
// from the Headers map.
func buildResponse(headers map[string]string, body []byte, streamErr error) *Response {
	resp := &Response{
		Headers:   make(map[string]string, len(headers)),
		Body:      body,
		StreamErr: streamErr,
	}
	for k, v := range headers {
		if k == ":status" {
			if code, err := strconv.Atoi(v); err == nil {
				resp.StatusCode = code
			}
			continue
		}
		if len(k) > 0 && k[0] == ':' {
			continue
		}
		resp.Headers[k] = v
	}
	resp.ApnsID = resp.Headers["apns-id"]
	return resp
}
