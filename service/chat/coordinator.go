package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PRelay/logger"
	"PRelay/service/fanout"
	"PRelay/service/translate"
	"PRelay/tools/ids"
	"PRelay/tools/safe"

	"go.uber.org/zap"
)

// Translator is the slice of translate.Gateway the coordinator drives.
type Translator interface {
	IsReady() bool
	Warm(ctx context.Context, n translate.Notifier) error
	Translate(ctx context.Context, text, sourceLang, targetLang string) string
}

// Sanitizer scrubs inbound content and hides client ids.
type Sanitizer interface {
	Sanitize(text string) string
	Anonymize(clientID string) string
}

// Publisher hands an event to the other relay processes.
type Publisher interface {
	Publish(ctx context.Context, ev fanout.Event)
}

// Observer is told about translations and deliveries.
type Observer interface {
	ObserveTranslation(sourceLang, targetLang string, latency time.Duration)
	ObserveDelivery(err error)
	ObserveBroadcast(remote bool, recipients int)
}

type CoordinatorConf struct {
	// QueueWait bounds how long a recipient waits for a translation worker
	// before getting the degraded result.
	QueueWait time.Duration
}

type Option func(*Coordinator)

func WithPublisher(p Publisher) Option { return func(c *Coordinator) { c.pub = p } }

func WithObserver(o Observer) Option { return func(c *Coordinator) { c.obs = o } }

func WithSanitizer(s Sanitizer) Option { return func(c *Coordinator) { c.san = s } }

// Coordinator fans one event out to every local recipient, translating per
// recipient on the worker pool, and republishes it for other processes.
type Coordinator struct {
	reg  *Registry
	gw   Translator
	pool *translate.Pool
	conf CoordinatorConf

	pub Publisher
	obs Observer
	san Sanitizer

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func NewCoordinator(reg *Registry, gw Translator, pool *translate.Pool, conf CoordinatorConf, opts ...Option) *Coordinator {
	safe.MustNotNil(reg, "registry")
	safe.MustNotNil(gw, "translator")
	safe.MustNotNil(pool, "pool")
	if conf.QueueWait <= 0 {
		conf.QueueWait = 2 * time.Second
	}
	c := &Coordinator{reg: reg, gw: gw, pool: pool, conf: conf}
	for _, o := range opts {
		o(c)
	}
	if c.obs == nil {
		c.obs = nopObserver{}
	}
	return c
}

// HandleInbound turns a raw client frame into an event and broadcasts it to
// everyone but the sender. Empty content is ignored. The event id is always
// minted here; the client's own token only rides along as ClientRef.
func (c *Coordinator) HandleInbound(ctx context.Context, clientID, lang string, raw []byte) {
	in := ParseInbound(raw)
	if in.Content == "" {
		return
	}
	content, sender := in.Content, clientID
	if c.san != nil {
		content = c.san.Sanitize(content)
		sender = c.san.Anonymize(clientID)
	}
	c.PublishAndBroadcast(ctx, fanout.Event{
		ID:           ids.GenerateString(),
		ClientRef:    in.ClientRef,
		Content:      content,
		Sender:       sender,
		OriginalLang: lang,
	}, clientID)
}

// Join announces clientID to everyone else.
func (c *Coordinator) Join(ctx context.Context, clientID string) {
	c.PublishAndBroadcast(ctx, systemEvent(fmt.Sprintf("Client #%s joined", clientID)), clientID)
}

// Leave announces clientID's departure to everyone still connected.
func (c *Coordinator) Leave(ctx context.Context, clientID string) {
	c.PublishAndBroadcast(ctx, systemEvent(fmt.Sprintf("Client #%s left", clientID)), "")
}

func systemEvent(content string) fanout.Event {
	return fanout.Event{
		ID:           ids.GenerateString(),
		Content:      content,
		Sender:       SystemSender,
		OriginalLang: SystemLang,
	}
}

// PublishAndBroadcast delivers locally first, then publishes whether or not
// anyone local received it.
func (c *Coordinator) PublishAndBroadcast(ctx context.Context, ev fanout.Event, excludeClientID string) {
	if !c.begin() {
		return
	}
	defer c.inflight.Done()
	c.localBroadcast(ctx, ev, excludeClientID, false)
	if c.pub != nil {
		c.pub.Publish(ctx, ev)
	}
}

// Deliver is the entry point for events received from other processes.
func (c *Coordinator) Deliver(ctx context.Context, ev fanout.Event) error {
	if !c.begin() {
		return nil
	}
	defer c.inflight.Done()
	c.localBroadcast(ctx, ev, "", true)
	return nil
}

// LocalBroadcast renders ev for every registered client except
// excludeClientID and returns once every recipient has its result queued.
func (c *Coordinator) LocalBroadcast(ctx context.Context, ev fanout.Event, excludeClientID string) {
	if !c.begin() {
		return
	}
	defer c.inflight.Done()
	c.localBroadcast(ctx, ev, excludeClientID, false)
}

func (c *Coordinator) localBroadcast(ctx context.Context, ev fanout.Event, exclude string, remote bool) {
	degraded := false
	if c.needsTranslation(ev, exclude) && !c.gw.IsReady() {
		if err := c.gw.Warm(ctx, statusNotifier{c}); err != nil {
			logger.Warn("[relay] translation unavailable for this broadcast",
				zap.String("event", ev.ID), zap.Error(err))
			degraded = true
		}
	}

	var wg sync.WaitGroup
	recipients := 0
	for _, e := range c.reg.Snapshot() {
		if e.ClientID == exclude {
			continue
		}
		recipients++
		if !c.translates(ev, e.Lang) {
			c.deliver(e, c.result(ev, e.Lang, ev.Content, 0))
			continue
		}

		c.deliver(e, statusFrame(StatusTranslating, "Translating message...", ev.Sender))
		if degraded {
			c.deliver(e, c.result(ev, e.Lang, translate.Fallback(ev.Content), 0))
			continue
		}

		e := e
		wg.Add(1)
		job := func() {
			defer wg.Done()
			start := time.Now()
			out := c.gw.Translate(ctx, ev.Content, ev.OriginalLang, e.Lang)
			took := time.Since(start)
			c.obs.ObserveTranslation(ev.OriginalLang, e.Lang, took)
			c.deliver(e, c.result(ev, e.Lang, out, took))
		}
		if err := c.submit(ctx, job); err != nil {
			wg.Done()
			logger.Warn("[relay] translation queue saturated, sending degraded result",
				zap.String("client", e.ClientID), zap.Error(err))
			c.deliver(e, c.result(ev, e.Lang, translate.Fallback(ev.Content), 0))
		}
	}
	wg.Wait()
	c.obs.ObserveBroadcast(remote, recipients)
}

func (c *Coordinator) submit(ctx context.Context, job func()) error {
	qctx, cancel := context.WithTimeout(ctx, c.conf.QueueWait)
	defer cancel()
	return c.pool.Submit(qctx, job)
}

func (c *Coordinator) translates(ev fanout.Event, targetLang string) bool {
	return ev.Sender != SystemSender && ev.OriginalLang != targetLang
}

func (c *Coordinator) needsTranslation(ev fanout.Event, exclude string) bool {
	for _, e := range c.reg.Snapshot() {
		if e.ClientID != exclude && c.translates(ev, e.Lang) {
			return true
		}
	}
	return false
}

func (c *Coordinator) result(ev fanout.Event, targetLang, translated string, took time.Duration) ResultFrame {
	return ResultFrame{
		Original:   ev.Content,
		Translated: translated,
		Sender:     ev.Sender,
		TargetLang: targetLang,
		LatencyMs:  latencyMs(took),
		ID:         ev.ID,
		ClientRef:  ev.ClientRef,
	}
}

// deliver never fails the broadcast; a dead recipient is logged and skipped.
func (c *Coordinator) deliver(e Entry, frame any) {
	b, err := encodeFrame(frame)
	if err == nil {
		err = e.Conn.Send(b)
	}
	c.obs.ObserveDelivery(err)
	if err != nil {
		logger.Warn("[relay] deliver failed", zap.String("client", e.ClientID), zap.Error(err))
	}
}

func (c *Coordinator) sendAll(frame StatusFrame) {
	for _, e := range c.reg.Snapshot() {
		c.deliver(e, frame)
	}
}

// begin registers one broadcast unless the coordinator is closed. The flag
// and the counter share a lock so no Add can race a Wait that started at zero.
func (c *Coordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.inflight.Add(1)
	return true
}

// Close refuses new broadcasts and blocks until in-flight ones finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.inflight.Wait()
}

// statusNotifier tells every connected client about a cold start.
type statusNotifier struct{ c *Coordinator }

func (n statusNotifier) ModelLoading() {
	n.c.sendAll(statusFrame(StatusLoadingModel, "Initializing translation model (this may take a few seconds)...", ""))
}

func (n statusNotifier) ModelLoaded() {
	n.c.sendAll(statusFrame(StatusLoaded, "Model Loaded", ""))
}

func (n statusNotifier) ModelFailed(err error) {
	n.c.sendAll(statusFrame(StatusLoadFailed, "Translation model failed to load; retrying with the next message", ""))
}

type nopObserver struct{}

func (nopObserver) ObserveTranslation(string, string, time.Duration) {}
func (nopObserver) ObserveDelivery(error)                            {}
func (nopObserver) ObserveBroadcast(bool, int)                       {}
