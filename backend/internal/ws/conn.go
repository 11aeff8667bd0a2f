package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"realtime-service/backend/internal/entity"
)

type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Identity is who the auth middleware says is on the socket; empty for anonymous.
type Identity struct {
	UserID   string `json:"id"`
	Username string `json:"username,omitempty"`
}

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

type Conn struct {
	id    string
	ws    *websocket.Conn
	m     *Manager
	ident Identity
	log   zerolog.Logger

	send    chan []byte
	limiter *rate.Limiter
	state   atomic.Int32

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, m *Manager, ident Identity) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:      id,
		ws:      ws,
		m:       m,
		ident:   ident,
		log:     m.log.With().Str("conn", id).Str("user", ident.UserID).Logger(),
		send:    make(chan []byte, m.opt.SendBuffer),
		limiter: newLimiter(m.opt.RateLimit, m.opt.RateBurst),
		done:    make(chan struct{}),
	}
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (c *Conn) ID() string          { return c.id }
func (c *Conn) Identity() Identity  { return c.ident }
func (c *Conn) State() State        { return State(c.state.Load()) }
func (c *Conn) setState(s State)    { c.state.Store(int32(s)) }
func (c *Conn) authenticated() bool { return c.ident.UserID != "" }

// enqueue never blocks; when the queue is full the frame is dropped.
func (c *Conn) enqueue(frame []byte) bool {
	if c.State() == StateDisconnected {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Debug().Msg("send queue full, frame dropped")
		return false
	}
}

func (c *Conn) sendEvent(event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		c.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	c.enqueue(frame)
}

func (c *Conn) sendError(cmd, msg string) {
	c.sendEvent(entity.EventError, ErrorPayload{Message: msg, Event: cmd})
}

// run drives the connection until the peer goes away. The caller's goroutine
// becomes the reader; the writer runs alongside it.
func (c *Conn) run(ctx context.Context) {
	c.setState(StateConnecting)
	first := c.m.hub.Register(c)
	if c.authenticated() {
		c.m.hub.Join(entity.UserRoom(c.ident.UserID), c)
		c.m.markOnline(ctx, c, first)
	}
	c.setState(StateConnected)
	c.log.Info().Msg("socket connected")

	go c.writeLoop()
	c.readLoop(ctx)
	c.close(context.WithoutCancel(ctx))
}

func (c *Conn) close(ctx context.Context) {
	c.closeOnce.Do(func() {
		c.setState(StateDisconnected)
		last := c.m.hub.Unregister(c)
		close(c.done)
		_ = c.ws.Close()
		if c.authenticated() {
			c.m.markOffline(ctx, c, last)
		}
		c.log.Info().Msg("socket disconnected")
	})
}

func (c *Conn) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.m.opt.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.m.opt.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn().Err(err).Msg("read")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.m.opt.PongWait))

		if !c.limiter.Allow() {
			c.log.Debug().Msg("rate limited, command dropped")
			continue
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
			c.sendError("", "malformed frame")
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.m.opt.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("write")
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) dispatch(ctx context.Context, msg ClientMessage) {
	switch msg.Event {
	case CmdJoinPost, CmdLeavePost:
		c.joinOrLeave(msg, "postId", entity.PostRoom, msg.Event == CmdJoinPost)
	case CmdJoinGroup, CmdLeaveGroup:
		c.joinOrLeave(msg, "groupId", entity.GroupRoom, msg.Event == CmdJoinGroup)
	case CmdChatJoin, CmdChatLeave:
		c.joinOrLeave(msg, "conversationId", entity.ConversationRoom, msg.Event == CmdChatJoin)

	case CmdTypingStart, CmdTypingStop:
		c.relayTyping(msg, msg.Event == CmdTypingStart, false)
	case CmdChatTypingStart, CmdChatTypingStop:
		c.relayTyping(msg, msg.Event == CmdChatTypingStart, true)

	case CmdChatSend:
		c.chatSend(ctx, msg)
	case CmdChatMarkRead:
		c.chatMarkRead(ctx, msg)

	case CmdHeartbeat:
		if c.authenticated() {
			c.m.refreshPresence(ctx, c)
		}
	case CmdGetOnlineUsers:
		c.sendEvent(entity.EventOnlineUsers, c.m.onlineUsers(ctx))

	default:
		c.sendError(msg.Event, "unknown event")
	}
}

func (c *Conn) joinOrLeave(msg ClientMessage, key string, room func(string) string, join bool) {
	id, err := decodeID(msg.Data, key)
	if err != nil {
		c.sendError(msg.Event, "invalid "+key)
		return
	}
	if join {
		c.m.hub.Join(room(id), c)
	} else {
		c.m.hub.Leave(room(id), c)
	}
}

func (c *Conn) relayTyping(msg ClientMessage, typing, chat bool) {
	var req typingRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.sendError(msg.Event, "invalid typing payload")
		return
	}
	out := UserTyping{User: req.User, IsTyping: typing}
	if out.User == nil && c.authenticated() {
		out.User = c.ident
	}

	var room string
	switch {
	case chat && req.ConversationID != "":
		room, out.ConversationID = entity.ConversationRoom(req.ConversationID), req.ConversationID
	case !chat && req.PostID != "":
		room, out.PostID = entity.PostRoom(req.PostID), req.PostID
	case !chat && req.GroupID != "":
		room, out.GroupID = entity.GroupRoom(req.GroupID), req.GroupID
	default:
		c.sendError(msg.Event, "typing needs a target room")
		return
	}
	c.m.hub.EmitExcept(room, c, entity.EventUserTyping, out)
}

func (c *Conn) chatSend(ctx context.Context, msg ClientMessage) {
	if !c.authenticated() {
		c.sendError(msg.Event, "authentication required")
		return
	}
	var req chatSendRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.ConversationID == "" {
		c.sendError(msg.Event, "invalid chat message")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.sendError(msg.Event, "empty message")
		return
	}
	chat := entity.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       c.ident.UserID,
		SenderName:     c.ident.Username,
		Content:        content,
		CreatedAt:      c.m.now().UTC(),
	}
	if err := c.m.relay.PublishChatMessage(ctx, chat); err != nil {
		c.log.Error().Err(err).Str("conversation", chat.ConversationID).Msg("publish chat message")
		c.sendError(msg.Event, "message not delivered")
	}
}

func (c *Conn) chatMarkRead(ctx context.Context, msg ClientMessage) {
	if !c.authenticated() {
		c.sendError(msg.Event, "authentication required")
		return
	}
	var req chatReadRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.ConversationID == "" {
		c.sendError(msg.Event, "invalid read receipt")
		return
	}
	read := entity.ChatRead{
		ConversationID: req.ConversationID,
		UserID:         c.ident.UserID,
		MessageID:      req.MessageID,
		ReadAt:         c.m.now().UTC(),
	}
	if err := c.m.relay.PublishChatRead(ctx, read); err != nil {
		c.log.Error().Err(err).Str("conversation", read.ConversationID).Msg("publish read receipt")
	}
}
