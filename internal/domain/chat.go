package domain

import "errors"

// ErrChannelNotFound is returned by chat transports when the direct channel
// no longer exists. Sessions end when they see it.
var ErrChannelNotFound = errors.New("chat: channel not found")

// ErrMessageNotFound is returned when a message being edited is gone while
// its channel still exists.
var ErrMessageNotFound = errors.New("chat: message not found")

// ChatMessage is the provider-agnostic chat message shape used by the LLM
// integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Delivery is the content handed to the chat transport for one cycle.
type Delivery struct {
	Text     string
	ImageURL string
}
