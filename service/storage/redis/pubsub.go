package redis

import (
	"context"

	"PRelay/service/fanout"
	"PRelay/tools/errs"
)

// Broker carries relay events over Redis pub/sub. Redis delivers a
// publication to every subscriber, the publisher included.
type Broker struct {
	m *Manager
}

func NewBroker(m *Manager) *Broker { return &Broker{m: m} }

func (b *Broker) Name() string { return "redis" }

func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.m.client.Publish(ctx, topic, payload).Err(); err != nil {
		return errs.WrapMsg(err, "redis publish", "topic", topic)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic string, fn func(payload []byte)) error {
	ps := b.m.client.Subscribe(ctx, topic)
	defer ps.Close()

	// wait for the subscription confirmation so a dead server fails fast
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errs.WrapMsg(err, "redis subscribe", "topic", topic)
	}

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errs.WrapMsg(err, "redis receive", "topic", topic)
		}
		fn([]byte(msg.Payload))
	}
}

// Close is a no-op; the Manager owns the client.
func (b *Broker) Close() error { return nil }

var _ fanout.Broker = (*Broker)(nil)
