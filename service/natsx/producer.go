package natsx

import (
	"context"

	"PRelay/tools/errs"
)

// Publish sends data on subject. Core NATS is fire-and-forget, so the flush
// only confirms the server has the message, bounded by ctx.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if c.nc.IsClosed() {
		return errs.ErrBrokerUnavailable.WrapMsg("nats connection closed")
	}
	if err := c.nc.Publish(subject, data); err != nil {
		return errs.WrapMsg(err, "nats publish", "subject", subject)
	}
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return errs.WrapMsg(err, "nats flush", "subject", subject)
	}
	return nil
}
