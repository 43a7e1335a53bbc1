package fanout

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"
	"PRelay/tools/safe"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type Conf struct {
	NodeID         string
	Topic          string
	Dedupe         time.Duration
	PublishTimeout time.Duration
	RetryMin       time.Duration
	RetryMax       time.Duration
	// Handlers is the number of delivery lanes. Events from one origin
	// always land on the same lane so their order is kept.
	Handlers       int
	// HandlerQueue bounds each lane; a full lane drops the event.
	HandlerQueue   int
}

func (c *Conf) norm() {
	if c.Dedupe <= 0 {
		c.Dedupe = 2 * time.Minute
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.RetryMin <= 0 {
		c.RetryMin = 500 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Second
	}
	if c.Handlers <= 0 {
		c.Handlers = 4
	}
	if c.HandlerQueue <= 0 {
		c.HandlerQueue = 256
	}
}

// Fanout bridges the local broadcast to the other relay processes. A nil
// broker keeps the relay in single-process mode.
type Fanout struct {
	broker Broker
	conf   Conf
	idem   *MemIdem
	mws    []Middleware

	connected atomic.Bool
	published atomic.Int64
	received  atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func New(b Broker, conf Conf, mws ...Middleware) *Fanout {
	conf.norm()
	return &Fanout{
		broker: b,
		conf:   conf,
		idem:   NewMemIdem(conf.Dedupe),
		mws:    mws,
	}
}

func (f *Fanout) Enabled() bool { return f.broker != nil }

func (f *Fanout) Connected() bool { return f.connected.Load() }

func (f *Fanout) NodeID() string { return f.conf.NodeID }

func (f *Fanout) BrokerName() string {
	if f.broker == nil {
		return "none"
	}
	return f.broker.Name()
}

func (f *Fanout) Stats() (published, received, failed int64) {
	return f.published.Load(), f.received.Load(), f.failed.Load()
}

// Publish stamps ev with this node as origin and sends it best-effort.
// Failures are logged; the local broadcast has already happened.
func (f *Fanout) Publish(ctx context.Context, ev Event) {
	if f.broker == nil {
		return
	}
	ev.Origin = f.conf.NodeID
	payload, err := ev.Marshal()
	if err != nil {
		f.failed.Add(1)
		logger.Warn("[fanout] encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, f.conf.PublishTimeout)
	defer cancel()
	if err := f.broker.Publish(ctx, f.conf.Topic, payload); err != nil {
		f.failed.Add(1)
		logger.Warn("[fanout] publish failed, continuing locally",
			zap.String("broker", f.broker.Name()), zap.String("event", ev.ID),
			zap.Error(errs.ErrBrokerUnavailable.WrapMsg(err.Error())))
		return
	}
	f.published.Add(1)
}

// Dropped reports remote events discarded because their delivery lane was full.
func (f *Fanout) Dropped() int64 { return f.dropped.Load() }

// Run is the subscribe loop. Remote events go through the origin filter and
// dedupe window before reaching deliver, on a lane picked by origin so the
// broker callback never waits on a broadcast. A broken subscription is
// retried with exponential backoff until ctx is done.
func (f *Fanout) Run(ctx context.Context, deliver Handler) error {
	if f.broker == nil {
		logger.Info("[fanout] no broker configured, single-process mode")
		<-ctx.Done()
		return nil
	}
	defer f.idem.Close()

	mws := append([]Middleware{DropOrigin(f.conf.NodeID), Dedupe(f.idem, f.conf.Dedupe)}, f.mws...)
	h := Chain(deliver, mws...)

	lanes := make([]chan Event, f.conf.Handlers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan Event, f.conf.HandlerQueue)
		wg.Add(1)
		go func(in <-chan Event) {
			defer wg.Done()
			f.drain(ctx, h, in)
		}(lanes[i])
	}
	defer wg.Wait()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.conf.RetryMin
	bo.MaxInterval = f.conf.RetryMax
	bo.MaxElapsedTime = 0

	for {
		start := time.Now()
		f.connected.Store(true)
		logger.Info("[fanout] subscribed", zap.String("broker", f.broker.Name()), zap.String("topic", f.conf.Topic))
		err := f.broker.Subscribe(ctx, f.conf.Topic, func(p []byte) { f.onPayload(lanes, p) })
		f.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) > f.conf.RetryMax {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		logger.Warn("[fanout] subscription lost, retrying",
			zap.String("broker", f.broker.Name()), zap.Duration("in", wait), zap.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (f *Fanout) onPayload(lanes []chan Event, payload []byte) {
	ev, err := DecodeEvent(payload)
	if err != nil {
		logger.Warn("[fanout] bad payload dropped", zap.Error(err))
		return
	}
	f.received.Add(1)
	if ev.Origin == f.conf.NodeID {
		// own echo; DropOrigin would discard it anyway, keep it off the lanes
		return
	}
	select {
	case lanes[laneOf(ev.Origin, len(lanes))] <- ev:
	default:
		f.dropped.Add(1)
		logger.Warn("[fanout] delivery lane full, event dropped",
			zap.String("origin", ev.Origin), zap.String("event", ev.ID))
	}
}

func laneOf(origin string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(origin))
	return int(h.Sum32() % uint32(n))
}

func (f *Fanout) drain(ctx context.Context, h Handler, in <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-in:
			safe.Run("fanout-deliver", func() {
				if err := h(ctx, ev); err != nil {
					logger.Warn("[fanout] deliver failed", zap.String("event", ev.ID), zap.Error(err))
				}
			})
		}
	}
}

func (f *Fanout) Close() error {
	f.idem.Close()
	if f.broker == nil {
		return nil
	}
	return f.broker.Close()
}
