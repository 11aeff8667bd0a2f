package ws

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func testConn(userID string, buf int) *Conn {
	c := &Conn{
		ident: Identity{UserID: userID},
		send:  make(chan []byte, buf),
		log:   zerolog.Nop(),
		done:  make(chan struct{}),
	}
	c.setState(StateConnected)
	return c
}

func drain(t *testing.T, c *Conn) []ServerMessage {
	t.Helper()
	var out []ServerMessage
	for {
		select {
		case frame := <-c.send:
			var msg ServerMessage
			if err := json.Unmarshal(frame, &msg); err != nil {
				t.Fatalf("bad frame %s: %v", frame, err)
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHubJoinLeaveAndRoomLifetime(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a, b := testConn("", 4), testConn("", 4)
	h.Register(a)
	h.Register(b)

	h.Join("post:1", a)
	h.Join("post:1", b)
	h.Join("post:1", a)
	if got := h.RoomSize("post:1"); got != 2 {
		t.Fatalf("RoomSize = %d, want 2", got)
	}
	h.Leave("post:1", a)
	h.Leave("post:1", b)
	if got := h.RoomSize("post:1"); got != 0 {
		t.Fatalf("RoomSize after leave = %d", got)
	}
	if _, ok := h.rooms["post:1"]; ok {
		t.Fatalf("empty room should be removed")
	}
}

func TestHubJoinIgnoresUnregistered(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := testConn("", 1)
	h.Join("post:1", c)
	if h.RoomSize("post:1") != 0 {
		t.Fatalf("unregistered connection joined a room")
	}
}

func TestHubUnregisterRemovesEveryMembership(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := testConn("U1", 4)
	h.Register(c)
	for _, room := range []string{"post:1", "group:2", "user:U1"} {
		h.Join(room, c)
	}
	if got := h.RoomsOf(c); len(got) != 3 {
		t.Fatalf("RoomsOf = %v", got)
	}
	h.Unregister(c)
	for _, room := range []string{"post:1", "group:2", "user:U1"} {
		if h.RoomSize(room) != 0 {
			t.Fatalf("%s still has members after unregister", room)
		}
	}
	if h.ConnCount() != 0 {
		t.Fatalf("ConnCount = %d", h.ConnCount())
	}
	// 重复注销无副作用
	if h.Unregister(c) {
		t.Fatalf("second unregister reported last connection")
	}
}

func TestHubEmitTargetsRoomOnly(t *testing.T) {
	h := NewHub(zerolog.Nop())
	in, out := testConn("", 4), testConn("", 4)
	h.Register(in)
	h.Register(out)
	h.Join("post:P123", in)

	h.Emit("post:P123", "new_comment", json.RawMessage(`{"id":"c1","postId":"P123"}`))

	got := drain(t, in)
	if len(got) != 1 || got[0].Event != "new_comment" {
		t.Fatalf("member got %+v", got)
	}
	if data, _ := json.Marshal(got[0].Data); string(data) != `{"id":"c1","postId":"P123"}` {
		t.Fatalf("payload = %s", data)
	}
	if got := drain(t, out); len(got) != 0 {
		t.Fatalf("non-member got %+v", got)
	}
}

func TestHubEmitExceptAndBroadcast(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a, b, c := testConn("", 4), testConn("", 4), testConn("", 4)
	for _, conn := range []*Conn{a, b, c} {
		h.Register(conn)
	}
	h.Join("post:1", a)
	h.Join("post:1", b)

	h.EmitExcept("post:1", a, "user_typing", map[string]any{"isTyping": true})
	if len(drain(t, a)) != 0 || len(drain(t, b)) != 1 || len(drain(t, c)) != 0 {
		t.Fatalf("EmitExcept delivered to the wrong set")
	}

	h.Broadcast("new_post", map[string]string{"id": "P1"})
	for i, conn := range []*Conn{a, b, c} {
		if got := drain(t, conn); len(got) != 1 || got[0].Event != "new_post" {
			t.Fatalf("conn %d got %+v", i, got)
		}
	}
}

func TestHubFullQueueDropsWithoutBlocking(t *testing.T) {
	h := NewHub(zerolog.Nop())
	slow, fast := testConn("", 1), testConn("", 8)
	h.Register(slow)
	h.Register(fast)
	h.Join("post:1", slow)
	h.Join("post:1", fast)

	for i := 0; i < 5; i++ {
		h.Emit("post:1", "new_comment", i)
	}
	if got := len(drain(t, slow)); got != 1 {
		t.Fatalf("slow consumer kept %d frames, want 1", got)
	}
	if got := len(drain(t, fast)); got != 5 {
		t.Fatalf("fast consumer got %d frames, want 5", got)
	}
}

func TestHubUserConnectionCounting(t *testing.T) {
	h := NewHub(zerolog.Nop())
	tab1, tab2 := testConn("U1", 1), testConn("U1", 1)
	if !h.Register(tab1) {
		t.Fatalf("first tab should be first")
	}
	if h.Register(tab2) {
		t.Fatalf("second tab should not be first")
	}
	if h.Unregister(tab1) {
		t.Fatalf("closing one of two tabs is not the last")
	}
	if !h.Unregister(tab2) {
		t.Fatalf("closing the remaining tab is the last")
	}
}

func TestDisconnectedConnRejectsFrames(t *testing.T) {
	c := testConn("", 2)
	c.setState(StateDisconnected)
	if c.enqueue([]byte(`{}`)) {
		t.Fatalf("disconnected connection accepted a frame")
	}
}

func TestDecodeID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`"P123"`, "P123", true},
		{`42`, "42", true},
		{`{"postId":"P9"}`, "P9", true},
		{`{"postId":7}`, "7", true},
		{`"  "`, "", false},
		{`{"other":"x"}`, "", false},
		{``, "", false},
	}
	for _, tt := range tests {
		got, err := decodeID(json.RawMessage(tt.raw), "postId")
		if (err == nil) != tt.ok || got != tt.want {
			t.Fatalf("decodeID(%s) = %q, %v", tt.raw, got, err)
		}
	}
}
