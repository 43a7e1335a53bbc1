package fanout

import (
	"context"
	"sync"

	"PRelay/tools/errs"
)

// MemoryBus is an in-process Broker. Every subscriber, including the
// publisher's own, receives every payload, the same echo behavior as Redis
// and NATS core subjects.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[*memSub]struct{}
	closed bool
}

type memSub struct {
	ch     chan []byte
	broken chan struct{}
	once   sync.Once
}

func (s *memSub) drop() { s.once.Do(func() { close(s.broken) }) }

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memSub]struct{})}
}

func (b *MemoryBus) Name() string { return "memory" }

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errs.ErrBrokerUnavailable.WrapMsg("memory bus closed")
	}
	targets := make([]*memSub, 0, len(b.subs[topic]))
	for s := range b.subs[topic] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		cp := append([]byte(nil), payload...)
		select {
		case s.ch <- cp:
		case <-s.broken:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, fn func(payload []byte)) error {
	s := &memSub{ch: make(chan []byte, 128), broken: make(chan struct{})}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errs.ErrBrokerUnavailable.WrapMsg("memory bus closed")
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memSub]struct{})
	}
	b.subs[topic][s] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs[topic], s)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.broken:
			return errs.ErrBrokerUnavailable.WrapMsg("subscription dropped", "topic", topic)
		case p := <-s.ch:
			fn(p)
		}
	}
}

// Subscribers reports the live subscriptions on topic.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

// Drop breaks every current subscription as a lost connection would.
func (b *MemoryBus) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, set := range b.subs {
		for s := range set {
			s.drop()
		}
	}
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Drop()
	return nil
}
