package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// OfflineAction is a mutating request that could not be sent and waits for replay.
// Endpoint, Method, Headers and the body bytes are replayed exactly as recorded.
type OfflineAction struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// RawPayload holds a body that is not JSON. It wins over Payload.
	RawPayload []byte            `json:"raw_payload,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Endpoint   string            `json:"endpoint"`
	Method     Method            `json:"method"`
	Timestamp  time.Time         `json:"timestamp"`
}

// SetBody records the encoded request body. Compact JSON stays readable in
// the persisted queue; any other body is kept byte for byte in RawPayload
// since encoding/json compacts RawMessage on write.
func (a *OfflineAction) SetBody(body []byte) {
	a.Payload, a.RawPayload = nil, nil
	if len(body) == 0 {
		return
	}

	var compact bytes.Buffer
	if json.Compact(&compact, body) == nil && bytes.Equal(compact.Bytes(), body) {
		a.Payload = json.RawMessage(body)
		return
	}
	a.RawPayload = body
}

// Descriptor converts the action into the request that replays it.
func (a OfflineAction) Descriptor() RequestDescriptor {
	var body any
	switch {
	case len(a.RawPayload) > 0:
		body = a.RawPayload
	case len(a.Payload) > 0:
		body = a.Payload
	}
	return RequestDescriptor{
		URL:     a.Endpoint,
		Method:  a.Method,
		Body:    body,
		Headers: a.Headers,
		// Replays must not share a cancellation key with live traffic.
		CancellationKey: "offline:" + a.ID,
	}.WithKeys()
}
