// Package signal serves the hub side of the streaming channel: websocket
// connections and the long-poll fallback.
package signal

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Settings struct {
	ReadLimit   int64
	PingPeriod  time.Duration
	WriteWait   time.Duration
	SendBuffer  int
	PollTimeout time.Duration
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	settings Settings
}

func (s Settings) withDefaults() Settings {
	if s.PingPeriod <= 0 {
		s.PingPeriod = 54 * time.Second
	}
	if s.WriteWait <= 0 {
		s.WriteWait = 10 * time.Second
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = 32
	}
	if s.PollTimeout <= 0 {
		s.PollTimeout = 25 * time.Second
	}
	return s
}

func NewSignalWSController(o *orch.Orchestrator, s Settings) *SignalWSController {
	return &SignalWSController{Orch: o, settings: s.withDefaults()}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bearerToken reads the access token from the Authorization header, falling
// back to the access_token query parameter browsers must use for websockets.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("access_token")
}

func authenticate(o *orch.Orchestrator, c *gin.Context) (domain.UserID, bool) {
	uid, err := o.Authenticate(bearerToken(c))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("rejected channel")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access token"})
		return "", false
	}
	return uid, true
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	uid, ok := authenticate(ctl.Orch, c)
	if !ok {
		return
	}
	sid := core.SessionID(uuid.NewString())

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.settings.ReadLimit > 0 {
		ws.SetReadLimit(ctl.settings.ReadLimit)
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(uid)).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.settings.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(sid, uid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}
