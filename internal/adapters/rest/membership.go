package rest

import (
	"context"
	"net/http"
	"net/url"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

func (c *Client) Join(ctx context.Context, id domain.Identity) error {
	return c.membership(ctx, core.OpJoin, joinPath, id)
}

func (c *Client) Leave(ctx context.Context, id domain.Identity) error {
	return c.membership(ctx, core.OpLeave, leavePath, id)
}

func (c *Client) membership(ctx context.Context, op, path string, id domain.Identity) error {
	status, err := c.do(ctx, http.MethodPost, path, identityQuery(id), nil)
	if err != nil {
		return &core.MembershipError{
			Op:        op,
			MeetingID: string(id.MeetingID),
			UserID:    string(id.UserID),
			Status:    status,
			Err:       err,
		}
	}
	c.log.Info().Str("op", op).Str("meeting", string(id.MeetingID)).Str("user", string(id.UserID)).Msg("membership")
	return nil
}

func identityQuery(id domain.Identity) url.Values {
	return url.Values{
		"meetingId": {string(id.MeetingID)},
		"userId":    {string(id.UserID)},
	}
}
