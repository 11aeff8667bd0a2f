package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Subscriber holds the dedicated subscription connection. Every process runs
// one, so an event published anywhere reaches every process's local sockets.
type Subscriber struct {
	rdb redis.UniversalClient
	em  Emitter
	log zerolog.Logger

	ps        *redis.PubSub
	done      chan struct{}
	closeOnce sync.Once
}

func NewSubscriber(rdb redis.UniversalClient, em Emitter, log zerolog.Logger) *Subscriber {
	return &Subscriber{rdb: rdb, em: em, log: log, done: make(chan struct{})}
}

// Start returns once the broker has confirmed the subscription; events
// published after that are guaranteed to be seen. Delivery continues on a
// background goroutine until Close.
//
// When the broker cannot be reached the error is returned but the
// subscription stays registered: go-redis keeps reconnecting and
// re-subscribes every recorded channel once the broker is back.
func (s *Subscriber) Start(ctx context.Context) error {
	topics := make([]string, 0, len(AllChannels))
	for _, ch := range AllChannels {
		topics = append(topics, ch.Topic())
	}
	ps := s.rdb.Subscribe(ctx, topics...)
	_, confirmErr := ps.Receive(ctx)
	s.ps = ps

	msgs := ps.Channel()
	go func() {
		defer close(s.done)
		for msg := range msgs {
			s.handle(msg)
		}
	}()
	if confirmErr != nil {
		s.log.Warn().Err(confirmErr).Strs("channels", topics).Msg("subscription not confirmed, retrying in background")
		return fmt.Errorf("broadcast: subscribe: %w", confirmErr)
	}
	s.log.Info().Strs("channels", topics).Msg("subscribed")
	return nil
}

func (s *Subscriber) handle(msg *redis.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("channel", msg.Channel).Msg("route panicked, event dropped")
		}
	}()

	ch, ok := ParseTopic(msg.Channel)
	if !ok {
		s.log.Warn().Str("channel", msg.Channel).Msg("unexpected channel")
		return
	}
	env := Envelope{Channel: ch, Payload: json.RawMessage(msg.Payload)}
	if err := Route(env, s.em); err != nil {
		s.log.Warn().Err(err).Str("channel", msg.Channel).Msg("event dropped")
	}
}

// Close unsubscribes, waits for the delivery goroutine and releases the client.
func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.ps != nil {
			if cerr := s.ps.Close(); cerr != nil {
				err = cerr
			}
			<-s.done
		}
		if cerr := s.rdb.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
