package natsx

import (
	"context"

	"PRelay/service/fanout"
	"PRelay/tools/errs"

	"github.com/nats-io/nats.go"
)

// Subscribe delivers every message on subject to fn until ctx is done or the
// connection is closed for good. Each relay node subscribes without a queue
// group so all of them see every broadcast.
func (c *Client) Subscribe(ctx context.Context, subject string, fn func([]byte)) error {
	closed := c.nc.StatusChanged(nats.CLOSED)
	defer c.nc.RemoveStatusListener(closed)
	if c.nc.IsClosed() {
		return errs.ErrBrokerUnavailable.WrapMsg("nats connection closed")
	}

	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		fn(append([]byte(nil), m.Data...))
	})
	if err != nil {
		return errs.WrapMsg(err, "nats subscribe", "subject", subject)
	}
	_ = sub.SetPendingLimits(c.cfg.PendingMsgs, c.cfg.PendingBytes)
	defer func() { _ = sub.Unsubscribe() }()

	select {
	case <-ctx.Done():
		return nil
	case <-closed:
		return errs.ErrBrokerUnavailable.WrapMsg("nats connection closed", "subject", subject)
	}
}

func (c *Client) Name() string { return "nats" }

var _ fanout.Broker = (*Client)(nil)
