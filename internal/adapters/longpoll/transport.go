// Package longpoll is the fallback streaming transport. The hub keys the poll
// connection by a cookie session, so every channel gets its own cookie jar.
package longpoll

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

const (
	Name     = "longpolling"
	pollPath = "/poll"
)

var ErrGone = errors.New("poll connection gone")

type Config struct {
	// RequestTimeout bounds one poll; it must exceed the hub's poll timeout.
	RequestTimeout time.Duration
	Buffer         int
}

type Transport struct {
	rt  http.RoundTripper
	cfg Config
	log zerolog.Logger
}

// New builds the transport. A nil rt uses http.DefaultTransport.
func New(cfg Config, rt http.RoundTripper) *Transport {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = time.Minute
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &Transport{
		rt:  rt,
		cfg: cfg,
		log: log.With().Str("module", "adapters.longpoll").Logger(),
	}
}

func (t *Transport) Name() string { return Name }

func (t *Transport) Open(ctx context.Context, endpoint, token string) (core.Channel, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "cookie jar")
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c := &channel{
		url:    strings.TrimSuffix(endpoint, "/") + pollPath,
		token:  token,
		http:   &http.Client{Transport: t.rt, Jar: jar},
		wait:   t.cfg.RequestTimeout,
		events: make(chan domain.Frame, t.cfg.Buffer),
		ctx:    loopCtx,
		cancel: cancel,
		log:    t.log,
	}

	status, err := c.request(ctx, http.MethodPost, nil)
	if err != nil {
		cancel()
		if status != 0 {
			return nil, errors.Wrapf(err, "open status %d", status)
		}
		return nil, errors.Wrap(err, "open")
	}
	go c.pollLoop()
	return c, nil
}

type channel struct {
	url    string
	token  string
	http   *http.Client
	wait   time.Duration
	events chan domain.Frame
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	mu     sync.Mutex
	err    error
	closed bool
	once   sync.Once
}

func (c *channel) Transport() string           { return Name }
func (c *channel) Events() <-chan domain.Frame { return c.events }

func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops polling and tells the hub to drop the connection.
func (c *channel) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, derr := c.request(ctx, http.MethodDelete, nil); derr != nil && !errors.Is(derr, ErrGone) {
			err = derr
		}
	})
	return err
}

func (c *channel) pollLoop() {
	defer close(c.events)
	for {
		var frames []domain.Frame
		ctx, cancel := context.WithTimeout(c.ctx, c.wait)
		status, err := c.request(ctx, http.MethodGet, func(r io.Reader) error {
			return json.NewDecoder(r).Decode(&frames)
		})
		cancel()
		if c.ctx.Err() != nil {
			return
		}
		if err != nil {
			c.fail(err)
			return
		}
		if status == http.StatusNoContent {
			continue
		}
		for _, f := range frames {
			switch f.Type {
			case domain.FrameClose:
				c.fail(ErrGone)
				return
			case domain.FramePing, domain.FramePong:
				continue
			}
			select {
			case c.events <- f:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *channel) request(ctx context.Context, method string, decode func(io.Reader) error) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, ErrGone
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return resp.StatusCode, errors.Errorf("unexpected status %s", resp.Status)
	}
	if decode != nil {
		if err := decode(resp.Body); err != nil {
			return resp.StatusCode, errors.Wrap(err, "decode frames")
		}
	}
	return resp.StatusCode, nil
}

func (c *channel) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.err != nil {
		return
	}
	c.err = err
	c.log.Warn().Err(err).Msg("channel ended")
}

var _ core.Transport = (*Transport)(nil)
