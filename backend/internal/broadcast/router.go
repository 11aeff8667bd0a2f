package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"

	"realtime-service/backend/internal/entity"
)

// Emitter is the local-process half of fan-out, implemented by ws.Hub.
type Emitter interface {
	Emit(room, event string, payload any)
	Broadcast(event string, payload any)
}

var ErrMalformed = errors.New("broadcast: malformed payload")

type routeIDs struct {
	ID             string `json:"id"`
	PostID         string `json:"postId"`
	UserID         string `json:"userId"`
	GroupID        string `json:"groupId"`
	ConversationID string `json:"conversationId"`
}

// Route delivers one envelope to the local connections that should see it.
// It never blocks; an error means the envelope was dropped.
func Route(env Envelope, em Emitter) error {
	if !json.Valid(env.Payload) {
		return fmt.Errorf("%w: %s payload is not JSON", ErrMalformed, env.Channel)
	}
	var ids routeIDs
	if err := json.Unmarshal(env.Payload, &ids); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, env.Channel, err)
	}

	switch env.Channel {
	case ChannelComments:
		if ids.PostID == "" {
			return fmt.Errorf("%w: comment without postId", ErrMissingRoute)
		}
		em.Emit(entity.PostRoom(ids.PostID), entity.EventNewComment, env.Payload)

	case ChannelLikes:
		var like entity.LikeEvent
		if err := json.Unmarshal(env.Payload, &like); err != nil {
			return fmt.Errorf("%w: likes: %v", ErrMalformed, err)
		}
		switch like.TargetType {
		case entity.TargetPost:
			// 点赞数徽标可能出现在任何页面，帖子点赞全局广播
			em.Broadcast(entity.EventLikeUpdated, env.Payload)
		case entity.TargetComment:
			if like.PostID == "" {
				return fmt.Errorf("%w: comment like without postId", ErrMissingRoute)
			}
			em.Emit(entity.PostRoom(like.PostID), entity.EventLikeUpdated, env.Payload)
		default:
			return fmt.Errorf("%w: unknown like target %q", ErrMalformed, like.TargetType)
		}

	case ChannelPosts:
		if ids.ID == "" {
			return fmt.Errorf("%w: post without id", ErrMissingRoute)
		}
		em.Broadcast(entity.EventNewPost, env.Payload)

	case ChannelNotifications:
		if ids.UserID == "" {
			return fmt.Errorf("%w: notification without userId", ErrMissingRoute)
		}
		em.Emit(entity.UserRoom(ids.UserID), entity.EventNewNotification, env.Payload)

	case ChannelGroups:
		if ids.ID == "" {
			return fmt.Errorf("%w: group without id", ErrMissingRoute)
		}
		em.Emit(entity.GroupRoom(ids.ID), entity.EventGroupUpdated, env.Payload)

	case ChannelGroupMessages:
		if ids.GroupID == "" {
			return fmt.Errorf("%w: group message without groupId", ErrMissingRoute)
		}
		em.Emit(entity.GroupRoom(ids.GroupID), entity.EventGroupMessage, env.Payload)

	case ChannelChat:
		return routeChat(env.Payload, em)

	case ChannelPresence:
		if ids.UserID == "" {
			return fmt.Errorf("%w: presence without userId", ErrMissingRoute)
		}
		em.Broadcast(entity.EventUserPresence, env.Payload)

	default:
		return fmt.Errorf("broadcast: unknown channel %q", env.Channel)
	}
	return nil
}

func routeChat(payload json.RawMessage, em Emitter) error {
	var evt struct {
		Type           string          `json:"type"`
		ConversationID string          `json:"conversationId"`
		Message        json.RawMessage `json:"message"`
		Read           json.RawMessage `json:"read"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("%w: chat: %v", ErrMalformed, err)
	}
	if evt.ConversationID == "" {
		return fmt.Errorf("%w: chat event without conversationId", ErrMissingRoute)
	}
	room := entity.ConversationRoom(evt.ConversationID)
	switch evt.Type {
	case entity.ChatKindMessage:
		if len(evt.Message) == 0 {
			return fmt.Errorf("%w: chat message event without message", ErrMalformed)
		}
		em.Emit(room, entity.EventChatNewMessage, evt.Message)
	case entity.ChatKindRead:
		if len(evt.Read) == 0 {
			return fmt.Errorf("%w: read event without receipt", ErrMalformed)
		}
		em.Emit(room, entity.EventChatRead, evt.Read)
	default:
		return fmt.Errorf("%w: unknown chat event %q", ErrMalformed, evt.Type)
	}
	return nil
}
