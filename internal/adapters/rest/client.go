// Package rest is the side-channel client: negotiate, group membership and
// outbound messages, each a single stateless HTTP call.
package rest

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	negotiatePath = "negotiate"
	joinPath      = "JoinGroup"
	leavePath     = "LeaveGroup"
	messagePath   = "MessageSignalR"

	maxBody = 1 << 20
)

type Config struct {
	BaseURL string
	// SendMethod is GET or POST for outbound messages.
	SendMethod string
	Timeout    time.Duration
}

// Client implements core.Negotiator, core.Membership and core.Publisher.
type Client struct {
	base       *url.URL
	http       *http.Client
	sendMethod string
	log        zerolog.Logger
}

func NewClient(cfg Config, hc *http.Client) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	method := strings.ToUpper(cfg.SendMethod)
	if method != http.MethodPost {
		method = http.MethodGet
	}
	return &Client{
		base:       base,
		http:       hc,
		sendMethod: method,
		log:        log.With().Str("module", "adapters.rest").Logger(),
	}, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := c.base.ResolveReference(&url.URL{Path: path})
	u.RawQuery = q.Encode()
	return u.String()
}

// do performs one request and returns the status code. The body is handed to
// decode only for 2xx responses.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, decode func(io.Reader) error) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), nil)
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		_ = resp.Body.Close()
	}()

	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("side-channel call")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, errors.Errorf("unexpected status %s", resp.Status)
	}
	if decode != nil {
		return resp.StatusCode, decode(io.LimitReader(resp.Body, maxBody))
	}
	return resp.StatusCode, nil
}
