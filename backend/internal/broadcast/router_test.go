package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

type call struct {
	room    string // empty for Broadcast
	event   string
	payload string
}

type fakeEmitter struct {
	mu    sync.Mutex
	calls []call
	seen  chan struct{}
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{seen: make(chan struct{}, 64)}
}

func (f *fakeEmitter) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	f.seen <- struct{}{}
}

func rawString(payload any) string {
	if raw, ok := payload.(json.RawMessage); ok {
		return string(raw)
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func (f *fakeEmitter) Emit(room, event string, payload any) {
	f.record(call{room: room, event: event, payload: rawString(payload)})
}

func (f *fakeEmitter) Broadcast(event string, payload any) {
	f.record(call{event: event, payload: rawString(payload)})
}

func (f *fakeEmitter) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestRouteTable(t *testing.T) {
	tests := []struct {
		name    string
		channel Channel
		payload string
		want    call
	}{
		{"comment", ChannelComments, `{"id":"c1","postId":"P123","content":"hi"}`,
			call{room: "post:P123", event: "new_comment"}},
		{"like on post", ChannelLikes, `{"targetType":"post","targetId":"P7","newCount":5,"isLiked":true,"userId":"U1"}`,
			call{event: "like_updated"}},
		{"like on comment", ChannelLikes, `{"targetType":"comment","targetId":"C9","postId":"P42","newCount":2,"isLiked":true,"userId":"U1"}`,
			call{room: "post:P42", event: "like_updated"}},
		{"post", ChannelPosts, `{"id":"P1","content":"x"}`,
			call{event: "new_post"}},
		{"notification", ChannelNotifications, `{"id":"n1","userId":"U5"}`,
			call{room: "user:U5", event: "new_notification"}},
		{"group", ChannelGroups, `{"id":"G1","name":"g"}`,
			call{room: "group:G1", event: "group_updated"}},
		{"group message", ChannelGroupMessages, `{"id":"m1","groupId":"G1"}`,
			call{room: "group:G1", event: "group_message"}},
		{"presence", ChannelPresence, `{"userId":"U1","online":true}`,
			call{event: "user_presence"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := newFakeEmitter()
			if err := Route(Envelope{Channel: tt.channel, Payload: json.RawMessage(tt.payload)}, em); err != nil {
				t.Fatalf("Route: %v", err)
			}
			got := em.snapshot()
			if len(got) != 1 {
				t.Fatalf("calls = %d, want 1", len(got))
			}
			if got[0].room != tt.want.room || got[0].event != tt.want.event {
				t.Fatalf("got %+v, want room=%q event=%q", got[0], tt.want.room, tt.want.event)
			}
			if got[0].payload != tt.payload {
				t.Fatalf("payload changed in transit: %s", got[0].payload)
			}
		})
	}
}

func TestRouteChatUnwrapsInnerObject(t *testing.T) {
	em := newFakeEmitter()
	payload := `{"type":"message","conversationId":"K1","message":{"id":"m1","conversationId":"K1","content":"yo"}}`
	if err := Route(Envelope{Channel: ChannelChat, Payload: json.RawMessage(payload)}, em); err != nil {
		t.Fatalf("Route: %v", err)
	}
	payload = `{"type":"read","conversationId":"K1","read":{"conversationId":"K1","userId":"U2","messageId":"m1"}}`
	if err := Route(Envelope{Channel: ChannelChat, Payload: json.RawMessage(payload)}, em); err != nil {
		t.Fatalf("Route: %v", err)
	}
	got := em.snapshot()
	if len(got) != 2 {
		t.Fatalf("calls = %d", len(got))
	}
	if got[0].room != "conversation:K1" || got[0].event != "chat:new_message" ||
		got[0].payload != `{"id":"m1","conversationId":"K1","content":"yo"}` {
		t.Fatalf("message call = %+v", got[0])
	}
	if got[1].room != "conversation:K1" || got[1].event != "chat:messages_read" {
		t.Fatalf("read call = %+v", got[1])
	}
}

func TestRouteDropsBadEnvelopes(t *testing.T) {
	tests := []struct {
		name    string
		channel Channel
		payload string
		want    error
	}{
		{"not json", ChannelComments, `{oops`, ErrMalformed},
		{"comment without post", ChannelComments, `{"id":"c1"}`, ErrMissingRoute},
		{"comment like without post", ChannelLikes, `{"targetType":"comment","targetId":"C1"}`, ErrMissingRoute},
		{"unknown like target", ChannelLikes, `{"targetType":"user","targetId":"U1"}`, ErrMalformed},
		{"notification without user", ChannelNotifications, `{"id":"n1"}`, ErrMissingRoute},
		{"post without id", ChannelPosts, `{}`, ErrMissingRoute},
		{"null post", ChannelPosts, `null`, ErrMissingRoute},
		{"chat without conversation", ChannelChat, `{"type":"message","message":{}}`, ErrMissingRoute},
		{"chat unknown type", ChannelChat, `{"type":"edit","conversationId":"K1"}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := newFakeEmitter()
			err := Route(Envelope{Channel: tt.channel, Payload: json.RawMessage(tt.payload)}, em)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if n := len(em.snapshot()); n != 0 {
				t.Fatalf("dropped envelope still emitted %d times", n)
			}
		})
	}
}

func TestParseTopic(t *testing.T) {
	if ch, ok := ParseTopic("realtime:likes"); !ok || ch != ChannelLikes {
		t.Fatalf("ParseTopic(realtime:likes) = %q, %v", ch, ok)
	}
	for _, bad := range []string{"likes", "realtime:unknown", "other:likes"} {
		if _, ok := ParseTopic(bad); ok {
			t.Fatalf("ParseTopic(%q) accepted", bad)
		}
	}
}
