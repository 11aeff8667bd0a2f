package ws

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"realtime-service/backend/internal/cache"
	"realtime-service/backend/internal/entity"
)

// Relay publishes socket-originated events so every process sees them.
// *broadcast.Publisher satisfies it.
type Relay interface {
	PublishChatMessage(ctx context.Context, m entity.ChatMessage) error
	PublishChatRead(ctx context.Context, r entity.ChatRead) error
	PublishPresence(ctx context.Context, e entity.PresenceEvent) error
}

type Options struct {
	SendBuffer     int
	RateLimit      float64
	RateBurst      int
	PresenceTTL    time.Duration
	AllowedOrigins []string
	PingInterval   time.Duration
	PongWait       time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 40
	}
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = 10 * time.Minute
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	return o
}

type Manager struct {
	hub      *Hub
	relay    Relay
	presence cache.PresenceCache
	opt      Options
	log      zerolog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewManager wires the socket endpoint. presence may be nil, in which case
// online tracking is off.
func NewManager(hub *Hub, relay Relay, presence cache.PresenceCache, opt Options, log zerolog.Logger) *Manager {
	m := &Manager{
		hub:      hub,
		relay:    relay,
		presence: presence,
		opt:      opt.withDefaults(),
		log:      log,
		now:      time.Now,
	}
	m.upgrader = websocket.Upgrader{CheckOrigin: m.checkOrigin}
	return m
}

func (m *Manager) Hub() *Hub { return m.hub }

func (m *Manager) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// 非浏览器客户端可能不发送 Origin，或为 "null"
	if origin == "" || origin == "null" {
		return true
	}
	return slices.Contains(m.opt.AllowedOrigins, origin)
}

// WebSocketConnect upgrades the request and blocks until the socket closes.
// Identity comes from the auth middleware ("userId"/"username" keys).
func (m *Manager) WebSocketConnect(c *gin.Context) {
	ident := Identity{UserID: c.GetString("userId"), Username: c.GetString("username")}

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.log.Warn().Err(err).Str("origin", c.Request.Header.Get("Origin")).Msg("websocket upgrade")
		return
	}
	newConn(conn, m, ident).run(c.Request.Context())
}

// markOnline announces the user only when this is their first socket here
// and no other process already has them online.
func (m *Manager) markOnline(ctx context.Context, c *Conn, first bool) {
	announce := first
	if first && m.presence != nil {
		online, err := m.presence.Online(ctx, c.ident.UserID)
		if err != nil {
			c.log.Warn().Err(err).Msg("presence lookup")
		}
		announce = !online
	}
	m.refreshPresence(ctx, c)
	if !announce {
		return
	}
	evt := entity.PresenceEvent{UserID: c.ident.UserID, Username: c.ident.Username, Online: true, At: m.now().UTC()}
	if err := m.relay.PublishPresence(ctx, evt); err != nil {
		c.log.Warn().Err(err).Msg("publish presence online")
	}
}

// markOffline drops this process's presence entry once the user's last
// socket here has closed, and announces them as gone only when no other
// process still holds a live entry.
func (m *Manager) markOffline(ctx context.Context, c *Conn, last bool) {
	if !last {
		return
	}
	if m.presence != nil {
		if err := m.presence.RemoveMember(ctx, c.ident.UserID); err != nil {
			c.log.Warn().Err(err).Msg("presence remove")
		}
		online, err := m.presence.Online(ctx, c.ident.UserID)
		if err != nil {
			c.log.Warn().Err(err).Msg("presence lookup")
		}
		if online {
			return
		}
	}
	evt := entity.PresenceEvent{UserID: c.ident.UserID, Username: c.ident.Username, Online: false, At: m.now().UTC()}
	if err := m.relay.PublishPresence(ctx, evt); err != nil {
		c.log.Warn().Err(err).Msg("publish presence offline")
	}
}

func (m *Manager) refreshPresence(ctx context.Context, c *Conn) {
	if m.presence == nil {
		return
	}
	if err := m.presence.AddMember(ctx, c.ident.UserID, c.ident.Username, m.opt.PresenceTTL); err != nil {
		c.log.Warn().Err(err).Msg("presence refresh")
	}
}

func (m *Manager) onlineUsers(ctx context.Context) []cache.PresenceMember {
	if m.presence == nil {
		return []cache.PresenceMember{}
	}
	members, err := m.presence.AliveMembers(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("list online users")
	}
	if members == nil {
		members = []cache.PresenceMember{}
	}
	return members
}

// CloseAll sends a going-away close frame to every socket and closes it.
// Each connection then tears itself down through its read loop.
func (m *Manager) CloseAll() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range m.hub.conns() {
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.ws.Close()
	}
}
