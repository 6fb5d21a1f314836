package rest

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dkeye/Meet/internal/domain"
)

// Publish hands one message to the hub. Delivery is not acknowledged beyond the status code.
func (c *Client) Publish(ctx context.Context, msg domain.OutboundMessage) error {
	q := identityQuery(domain.Identity{MeetingID: msg.MeetingID, UserID: msg.UserID})
	q.Set("message", msg.Body)
	if _, err := c.do(ctx, c.sendMethod, messagePath, q, nil); err != nil {
		return errors.Wrap(err, "publish")
	}
	return nil
}
