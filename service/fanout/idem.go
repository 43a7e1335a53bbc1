package fanout

import (
	"context"
	"sync"
	"time"

	"PRelay/logger"

	"go.uber.org/zap"
)

type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) bool
}

// MemIdem remembers keys until their ttl passes.
type MemIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expiry
	ttl time.Duration

	stop chan struct{}
	once sync.Once
}

func NewMemIdem(defaultTTL time.Duration) *MemIdem {
	if defaultTTL <= 0 {
		defaultTTL = 2 * time.Minute
	}
	mi := &MemIdem{m: make(map[string]time.Time), ttl: defaultTTL, stop: make(chan struct{})}
	go mi.sweep()
	return mi
}

func (mi *MemIdem) sweep() {
	t := time.NewTicker(mi.ttl)
	defer t.Stop()
	for {
		select {
		case <-mi.stop:
			return
		case now := <-t.C:
			mi.mu.Lock()
			for k, exp := range mi.m {
				if !exp.After(now) {
					delete(mi.m, k)
				}
			}
			mi.mu.Unlock()
		}
	}
}

func (mi *MemIdem) SeenOnce(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := time.Now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true
	}
	mi.m[key] = now.Add(ttl)
	return false
}

func (mi *MemIdem) Len() int {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	return len(mi.m)
}

func (mi *MemIdem) Close() {
	mi.once.Do(func() { close(mi.stop) })
}

// DropOrigin discards events this node published itself; they were already
// broadcast locally before publication.
func DropOrigin(nodeID string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event) error {
			if ev.Origin != "" && ev.Origin == nodeID {
				return nil
			}
			return next(ctx, ev)
		}
	}
}

// Dedupe lets each event id through once per ttl window, covering brokers
// that redeliver.
func Dedupe(store IdemStore, ttl time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event) error {
			key := ev.Origin + "|" + ev.ID
			if store.SeenOnce(key, ttl) {
				logger.Debug("[fanout] duplicate dropped", zap.String("event", ev.ID), zap.String("origin", ev.Origin))
				return nil
			}
			return next(ctx, ev)
		}
	}
}
