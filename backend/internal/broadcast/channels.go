package broadcast

import (
	"encoding/json"
	"strings"

	"realtime-service/backend/internal/entity"
)

// Channel is the routing key of a domain event. On the broker it is published
// under Topic(), e.g. "realtime:comments".
type Channel string

const (
	ChannelComments      Channel = "comments"
	ChannelLikes         Channel = "likes"
	ChannelPosts         Channel = "posts"
	ChannelNotifications Channel = "notifications"
	ChannelGroups        Channel = "groups"
	ChannelGroupMessages Channel = "group_messages"
	ChannelChat          Channel = "chat"
	ChannelPresence      Channel = "presence"
)

const topicPrefix = "realtime:"

// AllChannels is the fixed set every subscriber binds at start.
var AllChannels = []Channel{
	ChannelComments,
	ChannelLikes,
	ChannelPosts,
	ChannelNotifications,
	ChannelGroups,
	ChannelGroupMessages,
	ChannelChat,
	ChannelPresence,
}

func (c Channel) Topic() string { return topicPrefix + string(c) }

func ParseTopic(topic string) (Channel, bool) {
	if !strings.HasPrefix(topic, topicPrefix) {
		return "", false
	}
	ch := Channel(strings.TrimPrefix(topic, topicPrefix))
	for _, known := range AllChannels {
		if ch == known {
			return ch, true
		}
	}
	return "", false
}

// Envelope is one event as seen by a subscriber. The broker message body is
// the payload itself; the channel comes from the topic it arrived on.
type Envelope struct {
	Channel Channel         `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// ChatEvent is the body on the chat channel: exactly one of Message or Read is set.
type ChatEvent struct {
	Type           string              `json:"type"`
	ConversationID string              `json:"conversationId"`
	Message        *entity.ChatMessage `json:"message,omitempty"`
	Read           *entity.ChatRead    `json:"read,omitempty"`
}
