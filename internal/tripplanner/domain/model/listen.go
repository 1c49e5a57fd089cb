package model

import "time"

// Listen feed actions sent by clients
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Listen feed message types sent by the gateway
const (
	MessageSubscriptionConfirmed = "subscription_confirmed"
	MessageSubscriptionError     = "subscription_error"
	MessageUnsubscribed          = "unsubscribed"
	MessageChildEvent            = "child_event"
	MessageError                 = "error"
)

// ListenRequest is a client message on the listen feed
type ListenRequest struct {
	Action         string `json:"action"`
	SubscriptionID string `json:"subscriptionId"`
	Path           string `json:"path"`
}

// ListenMessage is a gateway message on the listen feed
type ListenMessage struct {
	Type           string      `json:"type"`
	SubscriptionID string      `json:"subscriptionId,omitempty"`
	Path           string      `json:"path,omitempty"`
	Event          *ChildEvent `json:"event,omitempty"`
	Error          string      `json:"error,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}
