package wschannel

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dkeye/Meet/internal/domain"
)

const writeWait = 5 * time.Second

var errClosedByHub = errors.New("closed by hub")

type channel struct {
	conn        *websocket.Conn
	events      chan domain.Frame
	done        chan struct{}
	readTimeout time.Duration
	log         zerolog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	err    error
	closed bool
	once   sync.Once
}

func newChannel(conn *websocket.Conn, cfg Config, l zerolog.Logger) *channel {
	c := &channel{
		conn:        conn,
		events:      make(chan domain.Frame, cfg.Buffer),
		done:        make(chan struct{}),
		readTimeout: cfg.ReadTimeout,
		log:         l,
	}
	conn.SetPingHandler(func(data string) error {
		c.extendDeadline()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return c
}

func (c *channel) Transport() string           { return Name }
func (c *channel) Events() <-chan domain.Frame { return c.events }

func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *channel) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = c.conn.Close()
	})
	return err
}

func (c *channel) readLoop() {
	defer close(c.events)
	for {
		c.extendDeadline()
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		var f domain.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn().Err(err).Msg("bad frame")
			continue
		}
		switch f.Type {
		case domain.FramePing:
			c.write(domain.Frame{Type: domain.FramePong})
		case domain.FramePong:
		case domain.FrameClose:
			c.fail(errClosedByHub)
			_ = c.conn.Close()
			return
		default:
			select {
			case c.events <- f:
			case <-c.done:
				return
			}
		}
	}
}

func (c *channel) extendDeadline() {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
}

func (c *channel) write(f domain.Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.log.Debug().Err(err).Msg("write")
	}
}

// fail records why the channel ended unless it was closed locally.
func (c *channel) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.err != nil {
		return
	}
	c.err = err
	c.log.Warn().Err(err).Msg("channel ended")
}
