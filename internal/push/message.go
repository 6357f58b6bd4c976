// Package push talks to the Expo push gateway: address validation, the HTTP
// client, and the batch dispatcher that fans a message out to many devices.
package push

import "strings"

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	DefaultGatewayURL = "https://exp.host/--/api/v2/push/send"
	DefaultBatchSize  = 100 // gateway cap on messages per call
	DefaultSound      = "default"
	rawBodyLimit      = 500
)

var addressPrefixes = []string{"ExponentPushToken[", "ExpoPushToken["}

// ValidAddress reports whether s is a well-formed gateway address.
func ValidAddress(s string) bool {
	for _, p := range addressPrefixes {
		if strings.HasPrefix(s, p) && strings.HasSuffix(s, "]") && len(s) > len(p)+1 {
			return true
		}
	}
	return false
}

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Message is one gateway message addressed to a single device.
type Message struct {
	To       string         `json:"to"`
	Sound    string         `json:"sound,omitempty"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Data     map[string]any `json:"data,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

// Template is the address-independent part of a Message.
type Template struct {
	Title    string
	Body     string
	Data     map[string]any
	Sound    string
	Priority string
}

// For builds the message for a single address.
func (t Template) For(address string) Message {
	sound := t.Sound
	if sound == "" {
		sound = DefaultSound
	}
	return Message{
		To:       address,
		Sound:    sound,
		Title:    t.Title,
		Body:     t.Body,
		Data:     t.Data,
		Priority: t.Priority,
	}
}

// Receipt is the gateway's per-message answer.
type Receipt struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// OK reports whether the gateway accepted the message.
func (r Receipt) OK() bool { return r.Status == "ok" }

// truncate returns at most maxLen bytes of b for error reporting.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
