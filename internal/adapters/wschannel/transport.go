// Package wschannel is the full-duplex streaming transport: a gorilla
// websocket client that turns hub frames into channel events.
package wschannel

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
)

const Name = "websocket"

type Config struct {
	HandshakeTimeout time.Duration
	// ReadTimeout closes a silent connection; the hub pings well inside it. Zero disables.
	ReadTimeout time.Duration
	ReadLimit   int64
	Buffer      int
}

type Transport struct {
	dialer *websocket.Dialer
	cfg    Config
	log    zerolog.Logger
}

func New(cfg Config) *Transport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	return &Transport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		cfg: cfg,
		log: log.With().Str("module", "adapters.wschannel").Logger(),
	}
}

func (t *Transport) Name() string { return Name }

func (t *Transport) Open(ctx context.Context, endpoint, token string) (core.Channel, error) {
	u, err := socketURL(endpoint)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := t.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "handshake status %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "dial")
	}
	if t.cfg.ReadLimit > 0 {
		conn.SetReadLimit(t.cfg.ReadLimit)
	}
	t.log.Debug().Str("url", u).Msg("connected")

	c := newChannel(conn, t.cfg, t.log)
	go c.readLoop()
	return c, nil
}

// socketURL maps the negotiated http(s) endpoint onto ws(s).
func socketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "parse endpoint")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	return u.String(), nil
}

var _ core.Transport = (*Transport)(nil)
