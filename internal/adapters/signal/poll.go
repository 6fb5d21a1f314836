package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/core"
)

const (
	pollSessionKey = "poll_sid"
	maxPollBatch   = 128
)

// pollConn buffers frames between polls.
type pollConn struct {
	queue    chan core.Frame
	done     chan struct{}
	lastSeen atomic.Int64
	polling  atomic.Int32

	mu     sync.RWMutex
	closed bool
}

func newPollConn(buffer int) *pollConn {
	c := &pollConn{
		queue: make(chan core.Frame, buffer),
		done:  make(chan struct{}),
	}
	c.touch()
	return c
}

func (c *pollConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.queue <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *pollConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *pollConn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *pollConn) touch() { c.lastSeen.Store(time.Now().UnixNano()) }

func (c *pollConn) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastSeen.Load()))
}

// PollController serves the long-poll fallback. The connection id lives in the
// cookie session so the client only has to keep its cookie jar.
type PollController struct {
	Orch     *orch.Orchestrator
	settings Settings

	mu    sync.Mutex
	conns map[core.SessionID]*pollConn
}

func NewPollController(o *orch.Orchestrator, s Settings) *PollController {
	return &PollController{
		Orch:     o,
		settings: s.withDefaults(),
		conns:    make(map[core.SessionID]*pollConn),
	}
}

func (pc *PollController) Open(c *gin.Context) {
	uid, ok := authenticate(pc.Orch, c)
	if !ok {
		return
	}
	session := sessions.Default(c)
	if prev, ok := session.Get(pollSessionKey).(string); ok && prev != "" {
		pc.drop(core.SessionID(prev))
	}

	sid := core.SessionID(uuid.NewString())
	conn := newPollConn(pc.settings.SendBuffer)
	pc.Orch.Connect(sid, uid, conn, conn.Close)
	pc.mu.Lock()
	pc.conns[sid] = conn
	pc.mu.Unlock()

	session.Set(pollSessionKey, string(sid))
	if err := session.Save(); err != nil {
		log.Error().Err(err).Str("module", "signal.poll").Msg("save session")
		pc.drop(sid)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session"})
		return
	}
	log.Info().Str("module", "signal.poll").Str("sid", string(sid)).Str("user", string(uid)).Msg("poll connection open")
	c.JSON(http.StatusOK, gin.H{"connectionId": sid})
}

func (pc *PollController) Poll(c *gin.Context) {
	sid, conn, ok := pc.lookup(c)
	if !ok {
		return
	}
	conn.polling.Add(1)
	defer func() {
		conn.polling.Add(-1)
		conn.touch()
	}()
	conn.touch()

	timer := time.NewTimer(pc.settings.PollTimeout)
	defer timer.Stop()

	batch := make([]json.RawMessage, 0, 8)
	select {
	case f := <-conn.queue:
		batch = append(batch, json.RawMessage(f))
	case <-conn.done:
		pc.forget(sid)
		c.AbortWithStatus(http.StatusGone)
		return
	case <-timer.C:
		c.Status(http.StatusNoContent)
		return
	case <-c.Request.Context().Done():
		return
	}
drain:
	for len(batch) < maxPollBatch {
		select {
		case f := <-conn.queue:
			batch = append(batch, json.RawMessage(f))
		default:
			break drain
		}
	}
	c.JSON(http.StatusOK, batch)
}

func (pc *PollController) Close(c *gin.Context) {
	sid, _, ok := pc.lookup(c)
	if !ok {
		return
	}
	pc.drop(sid)
	session := sessions.Default(c)
	session.Delete(pollSessionKey)
	_ = session.Save()
	c.Status(http.StatusNoContent)
}

// lookup resolves the caller's poll connection and checks it belongs to the token's user.
func (pc *PollController) lookup(c *gin.Context) (core.SessionID, *pollConn, bool) {
	uid, ok := authenticate(pc.Orch, c)
	if !ok {
		return "", nil, false
	}
	raw, _ := sessions.Default(c).Get(pollSessionKey).(string)
	sid := core.SessionID(raw)

	pc.mu.Lock()
	conn, ok := pc.conns[sid]
	pc.mu.Unlock()
	if !ok || conn.isClosed() {
		c.AbortWithStatusJSON(http.StatusGone, gin.H{"error": "no poll connection"})
		return "", nil, false
	}
	sess, ok := pc.Orch.Registry.GetSession(sid)
	if !ok || sess.Meta().User.ID != uid {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "connection belongs to another user"})
		return "", nil, false
	}
	return sid, conn, true
}

func (pc *PollController) drop(sid core.SessionID) {
	pc.Orch.KickBySID(sid)
	pc.forget(sid)
}

func (pc *PollController) forget(sid core.SessionID) {
	pc.mu.Lock()
	delete(pc.conns, sid)
	pc.mu.Unlock()
}

// Run reaps connections nobody polls any more until ctx is done.
func (pc *PollController) Run(ctx context.Context) {
	ticker := time.NewTicker(pc.settings.PollTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pc.reap(now)
		}
	}
}

func (pc *PollController) reap(now time.Time) {
	idle := 2*pc.settings.PollTimeout + pc.settings.WriteWait
	pc.mu.Lock()
	var stale []core.SessionID
	for sid, conn := range pc.conns {
		if conn.isClosed() || (conn.polling.Load() == 0 && conn.idleFor(now) > idle) {
			stale = append(stale, sid)
		}
	}
	pc.mu.Unlock()
	for _, sid := range stale {
		log.Info().Str("module", "signal.poll").Str("sid", string(sid)).Msg("reaping poll connection")
		pc.drop(sid)
	}
}
