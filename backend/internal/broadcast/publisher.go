package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"realtime-service/backend/internal/entity"
)

var ErrMissingRoute = errors.New("broadcast: event has no routing id")

// Publisher owns the process's publishing connection to the broker.
// Helpers are called after a write commits; they return the failure instead
// of swallowing it and the caller logs it and moves on.
type Publisher struct {
	rdb redis.UniversalClient
	log zerolog.Logger
}

func NewPublisher(rdb redis.UniversalClient, log zerolog.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: log}
}

func (p *Publisher) publish(ctx context.Context, ch Channel, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("broadcast: encode %s: %w", ch, err)
	}
	receivers, err := p.rdb.Publish(ctx, ch.Topic(), b).Result()
	if err != nil {
		return fmt.Errorf("broadcast: publish %s: %w", ch.Topic(), err)
	}
	p.log.Debug().Str("channel", ch.Topic()).Int64("receivers", receivers).Msg("published")
	return nil
}

func (p *Publisher) PublishComment(ctx context.Context, c entity.Comment) error {
	if c.PostID == "" {
		return fmt.Errorf("%w: comment %q has no postId", ErrMissingRoute, c.ID)
	}
	return p.publish(ctx, ChannelComments, c)
}

func (p *Publisher) PublishLike(ctx context.Context, e entity.LikeEvent) error {
	switch e.TargetType {
	case entity.TargetPost:
	case entity.TargetComment:
		if e.PostID == "" {
			return fmt.Errorf("%w: comment like %q has no postId", ErrMissingRoute, e.TargetID)
		}
	default:
		return fmt.Errorf("broadcast: unknown like target %q", e.TargetType)
	}
	return p.publish(ctx, ChannelLikes, e)
}

func (p *Publisher) PublishPost(ctx context.Context, post entity.Post) error {
	if post.ID == "" {
		return fmt.Errorf("%w: post has no id", ErrMissingRoute)
	}
	return p.publish(ctx, ChannelPosts, post)
}

func (p *Publisher) PublishNotification(ctx context.Context, n entity.Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("%w: notification %q has no userId", ErrMissingRoute, n.ID)
	}
	return p.publish(ctx, ChannelNotifications, n)
}

func (p *Publisher) PublishGroupUpdate(ctx context.Context, g entity.Group) error {
	if g.ID == "" {
		return fmt.Errorf("%w: group has no id", ErrMissingRoute)
	}
	return p.publish(ctx, ChannelGroups, g)
}

func (p *Publisher) PublishGroupMessage(ctx context.Context, m entity.GroupMessage) error {
	if m.GroupID == "" {
		return fmt.Errorf("%w: group message %q has no groupId", ErrMissingRoute, m.ID)
	}
	return p.publish(ctx, ChannelGroupMessages, m)
}

func (p *Publisher) PublishChatMessage(ctx context.Context, m entity.ChatMessage) error {
	if m.ConversationID == "" {
		return fmt.Errorf("%w: chat message has no conversationId", ErrMissingRoute)
	}
	return p.publish(ctx, ChannelChat, ChatEvent{Type: entity.ChatKindMessage, ConversationID: m.ConversationID, Message: &m})
}

func (p *Publisher) PublishChatRead(ctx context.Context, r entity.ChatRead) error {
	if r.ConversationID == "" {
		return fmt.Errorf("%w: read receipt has no conversationId", ErrMissingRoute)
	}
	return p.publish(ctx, ChannelChat, ChatEvent{Type: entity.ChatKindRead, ConversationID: r.ConversationID, Read: &r})
}

func (p *Publisher) PublishPresence(ctx context.Context, e entity.PresenceEvent) error {
	if e.UserID == "" {
		return fmt.Errorf("%w: presence has no userId", ErrMissingRoute)
	}
	return p.publish(ctx, ChannelPresence, e)
}

func (p *Publisher) Close() error {
	return p.rdb.Close()
}
