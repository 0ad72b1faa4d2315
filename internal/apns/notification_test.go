package apns

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2/hpack"
)

func TestNotification_Validate(t *testing.T) {
	valid := Notification{DeviceToken: "abc123", Payload: []byte(`{}`)}

	t.Run("accepts a minimal notification", func(t *testing.T) {
		n := valid
		assert.NoError(t, n.Validate())
	})

	t.Run("rejects a missing token", func(t *testing.T) {
		n := valid
		n.DeviceToken = ""
		assert.Error(t, n.Validate())
	})

	t.Run("rejects an empty payload", func(t *testing.T) {
		n := valid
		n.Payload = nil
		assert.Error(t, n.Validate())
	})

	t.Run("rejects an oversized payload", func(t *testing.T) {
		n := valid
		n.Payload = []byte(strings.Repeat("x", MaxPayloadBytes+1))
		err := n.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "4096")
	})

	t.Run("accepts a payload at the limit", func(t *testing.T) {
		n := valid
		n.Payload = []byte(strings.Repeat("x", MaxPayloadBytes))
		assert.NoError(t, n.Validate())
	})

	t.Run("rejects a malformed apns-id", func(t *testing.T) {
		n := valid
		n.ApnsID = "not-a-uuid"
		assert.Error(t, n.Validate())
	})
}

func TestNotification_HeaderFields(t *testing.T) {
	t.Run("minimal notification emits only required headers", func(t *testing.T) {
		n := Notification{DeviceToken: "abc123", Payload: []byte("hello")}
		want := []hpack.HeaderField{
			{Name: ":method", Value: "POST"},
			{Name: ":scheme", Value: "https"},
			{Name: ":authority", Value: "api.push.apple.com"},
			{Name: ":path", Value: "/3/device/abc123"},
			{Name: "content-length", Value: "5"},
		}
		got := n.headerFields("api.push.apple.com", "")
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("header fields mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("optional fields become headers in order", func(t *testing.T) {
		exp := time.Unix(1756200000, 0)
		n := Notification{
			DeviceToken: "dev",
			Payload:     []byte(`{}`),
			ApnsID:      "f6505ecf-2bc6-48ba-9556-35a02b7b7cbd",
			CollapseID:  "game-score",
			Topic:       "com.example.app",
			Expiration:  exp,
			Priority:    PriorityLow,
		}
		want := []hpack.HeaderField{
			{Name: ":method", Value: "POST"},
			{Name: ":scheme", Value: "https"},
			{Name: ":authority", Value: "api.sandbox.push.apple.com"},
			{Name: ":path", Value: "/3/device/dev"},
			{Name: "content-length", Value: "2"},
			{Name: "authorization", Value: "bearer tok"},
			{Name: "apns-id", Value: "f6505ecf-2bc6-48ba-9556-35a02b7b7cbd"},
			{Name: "apns-expiration", Value: "1756200000"},
			{Name: "apns-priority", Value: "5"},
			{Name: "apns-topic", Value: "com.example.app"},
			{Name: "apns-collapse-id", Value: "game-score"},
		}
		got := n.headerFields("api.sandbox.push.apple.com", "tok")
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("header fields mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("pseudo headers always come first", func(t *testing.T) {
		n := Notification{DeviceToken: "d", Payload: []byte(`{}`), Topic: "com.example"}
		fields := n.headerFields("host", "")
		seenRegular := false
		for _, f := range fields {
			if !strings.HasPrefix(f.Name, ":") {
				seenRegular = true
			} else {
				require.False(t, seenRegular, "pseudo-header %q after regular headers", f.Name)
			}
		}
	})
}
