package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// Negotiate resolves the channel endpoint and token for userID. A relative url
// in the response is resolved against the base url.
func (c *Client) Negotiate(ctx context.Context, userID domain.UserID) (domain.NegotiateResult, error) {
	var res domain.NegotiateResult
	status, err := c.do(ctx, http.MethodGet, negotiatePath, url.Values{"userId": {string(userID)}}, func(r io.Reader) error {
		return errors.Wrap(json.NewDecoder(r).Decode(&res), "decode")
	})
	if err != nil {
		return domain.NegotiateResult{}, &core.NegotiationError{Status: status, Err: err}
	}
	if res.URL == "" || res.AccessToken == "" {
		return domain.NegotiateResult{}, &core.NegotiationError{Status: status, Err: errors.New("response missing url or accessToken")}
	}
	u, err := url.Parse(res.URL)
	if err != nil {
		return domain.NegotiateResult{}, &core.NegotiationError{Status: status, Err: errors.Wrap(err, "parse url")}
	}
	res.URL = c.base.ResolveReference(u).String()
	return res, nil
}
