package ws

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Frames travel as {"event": ..., "data": ...} in both directions.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Client → server commands.
const (
	CmdJoinPost        = "join_post"
	CmdLeavePost       = "leave_post"
	CmdJoinGroup       = "join_group"
	CmdLeaveGroup      = "leave_group"
	CmdTypingStart     = "typing_start"
	CmdTypingStop      = "typing_stop"
	CmdChatJoin        = "chat:join_conversation"
	CmdChatLeave       = "chat:leave_conversation"
	CmdChatSend        = "chat:send_message"
	CmdChatTypingStart = "chat:typing_start"
	CmdChatTypingStop  = "chat:typing_stop"
	CmdChatMarkRead    = "chat:mark_read"
	CmdHeartbeat       = "heartbeat"
	CmdGetOnlineUsers  = "get_online_users"
)

type typingRequest struct {
	PostID         string `json:"postId,omitempty"`
	GroupID        string `json:"groupId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	User           any    `json:"user,omitempty"`
}

type UserTyping struct {
	User           any    `json:"user"`
	IsTyping       bool   `json:"isTyping"`
	PostID         string `json:"postId,omitempty"`
	GroupID        string `json:"groupId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

type chatSendRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

type chatReadRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

var errMissingID = errors.New("missing id")

// decodeID accepts "P1", 42 or {"id": ...} style payloads for join/leave.
func decodeID(raw json.RawMessage, objectKey string) (string, error) {
	if len(raw) == 0 {
		return "", errMissingID
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return nonEmpty(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return n.String(), nil
		}
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", err
	}
	switch v := obj[objectKey].(type) {
	case string:
		return nonEmpty(v)
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	}
	return "", errMissingID
}

func nonEmpty(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errMissingID
	}
	return s, nil
}

func encodeFrame(event string, payload any) ([]byte, error) {
	return json.Marshal(ServerMessage{Event: event, Data: payload})
}
