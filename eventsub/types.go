// Package eventsub models Twitch EventSub webhook deliveries and verifies
// their authenticity. Deliveries arrive as HTTP POSTs carrying identifying
// headers and a JSON body; the body bytes must be kept exactly as received
// because the HMAC signature covers them verbatim.
package eventsub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Header names set by Twitch on every delivery. Matching is case-insensitive
// at the HTTP layer; these are the canonical forms.
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
)

// Delivery message types.
const (
	TypeVerification = "webhook_callback_verification"
	TypeNotification = "notification"
	TypeRevocation   = "revocation"
)

// Subscription event types handled by the bot.
const (
	EventStreamOnline  = "stream.online"
	EventStreamOffline = "stream.offline"
	EventChannelRaid   = "channel.raid"
)

// ConditionKey returns the condition field naming the broadcaster for a given
// event type. Raid subscriptions key on the raiding (source) channel.
func ConditionKey(eventType string) string {
	if eventType == EventChannelRaid {
		return "from_broadcaster_user_id"
	}
	return "broadcaster_user_id"
}

// Notification is one inbound delivery: headers plus the raw body. It is
// created per request and discarded after handling.
type Notification struct {
	MessageID   string
	Timestamp   string
	Signature   string
	MessageType string
	Body        []byte
}

// FromRequest extracts the EventSub headers from r and pairs them with the
// already-read body bytes.
func FromRequest(r *http.Request, body []byte) Notification {
	return Notification{
		MessageID:   r.Header.Get(HeaderMessageID),
		Timestamp:   r.Header.Get(HeaderMessageTimestamp),
		Signature:   r.Header.Get(HeaderMessageSignature),
		MessageType: strings.ToLower(r.Header.Get(HeaderMessageType)),
		Body:        body,
	}
}

// Envelope is the JSON body shared by all delivery types. Event is kept raw
// so each handler can decode the payload shape it expects.
type Envelope struct {
	Challenge    string          `json:"challenge,omitempty"`
	Subscription Subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event,omitempty"`
}

// Subscription describes the EventSub subscription a delivery belongs to.
type Subscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
	CreatedAt string            `json:"created_at"`
	Cost      int64             `json:"cost"`
}

// Transport is the delivery mechanism recorded on a subscription.
type Transport struct {
	Method   string `json:"method"`
	Callback string `json:"callback"`
}

// StreamOnlineEvent is the payload of a stream.online notification.
type StreamOnlineEvent struct {
	ID                   string `json:"id"`
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	BroadcasterUserName  string `json:"broadcaster_user_name"`
	Type                 string `json:"type"`
	StartedAt            string `json:"started_at"`
}

// StreamOfflineEvent is the payload of a stream.offline notification.
type StreamOfflineEvent struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	BroadcasterUserName  string `json:"broadcaster_user_name"`
}

// ChannelRaidEvent is the payload of a channel.raid notification.
type ChannelRaidEvent struct {
	FromBroadcasterUserID    string `json:"from_broadcaster_user_id"`
	FromBroadcasterUserLogin string `json:"from_broadcaster_user_login"`
	FromBroadcasterUserName  string `json:"from_broadcaster_user_name"`
	ToBroadcasterUserID      string `json:"to_broadcaster_user_id"`
	ToBroadcasterUserLogin   string `json:"to_broadcaster_user_login"`
	ToBroadcasterUserName    string `json:"to_broadcaster_user_name"`
	Viewers                  int64  `json:"viewers"`
}

// ParseEnvelope decodes the delivery body. A body that does not parse is fatal
// for the invocation; everything downstream depends on it.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse eventsub body: %w", err)
	}
	return &env, nil
}
