package translate

import (
	"context"
	"errors"
	"sync"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"
	"PRelay/tools/safe"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Notifier hears about cold-start transitions. Only the caller whose Warm
// started an initialization is notified, and ModelLoaded/ModelFailed run
// before the state changes or any waiter is released.
type Notifier interface {
	ModelLoading()
	ModelLoaded()
	ModelFailed(err error)
}

type GatewayConf struct {
	Timeout     time.Duration // per Translate call
	InitTimeout time.Duration // per Load attempt
}

func (c *GatewayConf) norm() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = 2 * time.Minute
	}
}

type initCall struct {
	done chan struct{}
	err  error
}

// Gateway wraps a Provider with a lazy, single-flight initialization and a
// never-failing Translate.
type Gateway struct {
	provider Provider
	conf     GatewayConf

	mu       sync.Mutex
	state    State
	inflight *initCall

	group singleflight.Group
}

func NewGateway(p Provider, conf GatewayConf) *Gateway {
	safe.MustNotNil(p, "translation provider")
	conf.norm()
	return &Gateway{provider: p, conf: conf}
}

func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gateway) IsReady() bool { return g.State() == Ready }

// Warm makes sure the provider is loaded. The first caller starts Load on its
// own goroutine; everyone else waits for that same attempt. A failed attempt
// resets the state so the next caller retries.
func (g *Gateway) Warm(ctx context.Context, n Notifier) error {
	g.mu.Lock()
	switch g.state {
	case Ready:
		g.mu.Unlock()
		return nil
	case Initializing:
		call := g.inflight
		g.mu.Unlock()
		return wait(ctx, call)
	}

	call := &initCall{done: make(chan struct{})}
	g.inflight = call
	g.state = Initializing
	g.mu.Unlock()

	if n != nil {
		n.ModelLoading()
	}
	safe.Go("translate-init", func() { g.load(call, n) })
	return wait(ctx, call)
}

func (g *Gateway) load(call *initCall, n Notifier) {
	start := time.Now()
	err := g.callLoad()

	if err == nil {
		logger.Info("[translate] provider ready", zap.Duration("took", time.Since(start)))
	} else {
		logger.Warn("[translate] provider load failed", zap.Error(err))
	}
	// notify while still Initializing so no caller can observe Ready and
	// deliver a result ahead of the loaded status
	if n != nil {
		if err == nil {
			n.ModelLoaded()
		} else {
			n.ModelFailed(err)
		}
	}

	g.mu.Lock()
	if err == nil {
		g.state = Ready
	} else {
		g.state = Uninitialized
	}
	g.inflight = nil
	call.err = err
	g.mu.Unlock()
	close(call.done)
}

func (g *Gateway) callLoad() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), g.conf.InitTimeout)
	defer cancel()
	if err := g.provider.Load(ctx); err != nil {
		var codeErr *errs.CodeError
		if errors.As(err, &codeErr) {
			return err
		}
		return errs.ErrProviderInit.WrapMsg(err.Error())
	}
	return nil
}

func wait(ctx context.Context, call *initCall) error {
	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Translate never fails: provider errors, timeouts and an unavailable
// provider all degrade to Fallback(text). Proper names skip the provider.
// Identical concurrent requests share one provider call.
func (g *Gateway) Translate(ctx context.Context, text, sourceLang, targetLang string) string {
	if IsProperName(text) {
		return text
	}
	if !g.IsReady() {
		if err := g.Warm(ctx, nil); err != nil {
			return Fallback(text)
		}
	}

	key := sourceLang + "\x00" + targetLang + "\x00" + text
	v, err, _ := g.group.Do(key, func() (any, error) {
		tctx, cancel := context.WithTimeout(ctx, g.conf.Timeout)
		defer cancel()
		return g.callTranslate(tctx, text, sourceLang, targetLang)
	})
	if err != nil {
		logger.Warn("[translate] provider error",
			zap.String("source", sourceLang), zap.String("target", targetLang), zap.Error(err))
		return Fallback(text)
	}
	return v.(string)
}

func (g *Gateway) callTranslate(ctx context.Context, text, sourceLang, targetLang string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	return g.provider.Translate(ctx, text, sourceLang, targetLang)
}
