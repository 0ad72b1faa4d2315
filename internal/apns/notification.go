package apns

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2/hpack"
)

// MaxPayloadBytes is the payload size limit enforced by APNs for regular
// remote notifications.
const MaxPayloadBytes = 4096

// Delivery priorities defined by APNs for the apns-priority header.
const (
	// PriorityLow delivers the notification at a time that conserves power
	// on the receiving device.
	PriorityLow = 5
	// PriorityHigh delivers the notification immediately.
	PriorityHigh = 10
)

// Notification is a single push destined for one device. Only DeviceToken
// and Payload are mandatory; the optional fields become apns-* request
// headers when set and are omitted entirely when zero.
type Notification struct {
	// DeviceToken is the hex-encoded token identifying the app/device pair.
	DeviceToken string

	// Payload is the JSON body sent to the device. Use the Payload builder
	// in this package, or supply raw bytes.
	Payload []byte

	// ApnsID is a canonical UUID identifying this notification. When empty,
	// APNs assigns one and echoes it in the response.
	ApnsID string

	// CollapseID coalesces multiple notifications into one for delivery.
	CollapseID string

	// Topic is the app bundle ID. Required when the client authenticates
	// with a provider token; otherwise inferred by APNs from the certificate.
	Topic string

	// Expiration is the time at which APNs stops trying to deliver.
	// The zero value means "deliver once, immediately or not at all".
	Expiration time.Time

	// Priority is one of PriorityLow or PriorityHigh. Zero omits the header
	// (APNs defaults to high).
	Priority int
}

// Validate checks the notification before submission. It is called by
// Conn.Push but exposed for callers that build notifications up front.
func (n *Notification) Validate() error {
	if n.DeviceToken == "" {
		return errors.New("apns: notification requires a device token")
	}
	if len(n.Payload) == 0 {
		return errors.New("apns: notification requires a payload")
	}
	if len(n.Payload) > MaxPayloadBytes {
		return fmt.Errorf("apns: payload is %d bytes, limit is %d", len(n.Payload), MaxPayloadBytes)
	}
	if n.ApnsID != "" {
		if _, err := uuid.Parse(n.ApnsID); err != nil {
			return fmt.Errorf("apns: apns-id must be a canonical UUID: %w", err)
		}
	}
	return nil
}

// headerFields assembles the HPACK header list for this notification.
// Pseudo-headers come first in the order required by RFC 7540 Section
// 8.1.2.3; the optional apns-* headers are appended only when the
// corresponding notification field is set.
func (n *Notification) headerFields(authority, bearer string) []hpack.HeaderField {
	fields := []hpack.HeaderField{
		{Name: ":method", Value: "POST"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: authority},
		{Name: ":path", Value: "/3/device/" + n.DeviceToken},
		{Name: "content-length", Value: strconv.Itoa(len(n.Payload))},
	}
	if bearer != "" {
		fields = append(fields, hpack.HeaderField{Name: "authorization", Value: "bearer " + bearer})
	}
	if n.ApnsID != "" {
		fields = append(fields, hpack.HeaderField{Name: "apns-id", Value: n.ApnsID})
	}
	if !n.Expiration.IsZero() {
		fields = append(fields, hpack.HeaderField{Name: "apns-expiration", Value: strconv.FormatInt(n.Expiration.Unix(), 10)})
	}
	if n.Priority != 0 {
		fields = append(fields, hpack.HeaderField{Name: "apns-priority", Value: strconv.Itoa(n.Priority)})
	}
	if n.Topic != "" {
		fields = append(fields, hpack.HeaderField{Name: "apns-topic", Value: n.Topic})
	}
	if n.CollapseID != "" {
		fields = append(fields, hpack.HeaderField{Name: "apns-collapse-id", Value: n.CollapseID})
	}
	return fields
}
