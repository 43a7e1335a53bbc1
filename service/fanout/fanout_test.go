package fanout

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const topic = "chat_broadcast"

type recorder struct {
	mu  sync.Mutex
	evs []Event
}

func (r *recorder) handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.evs...)
}

func startNode(t *testing.T, ctx context.Context, bus Broker, node string) (*Fanout, *recorder) {
	t.Helper()
	f := New(bus, Conf{NodeID: node, Topic: topic, RetryMin: 5 * time.Millisecond, RetryMax: 20 * time.Millisecond})
	rec := &recorder{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, f.Run(ctx, rec.handle))
	}()
	t.Cleanup(func() { <-done })
	return f, rec
}

func TestPublishReachesOtherNodesOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()

	a, recA := startNode(t, ctx, bus, "node-a")
	_, recB := startNode(t, ctx, bus, "node-b")
	require.Eventually(t, func() bool { return bus.Subscribers(topic) == 2 }, time.Second, time.Millisecond)

	a.Publish(ctx, Event{ID: "1", Content: "hello", Sender: "abc", OriginalLang: "eng_Latn"})

	require.Eventually(t, func() bool { return len(recB.events()) == 1 }, time.Second, time.Millisecond)
	got := recB.events()[0]
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "node-a", got.Origin)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, recA.events(), "own publication must not be re-broadcast")
	assert.Len(t, recB.events(), 1)

	published, received, failed := a.Stats()
	assert.Equal(t, int64(1), published)
	assert.Equal(t, int64(1), received)
	assert.Zero(t, failed)
}

func TestRedeliveryIsDeduped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()
	_, rec := startNode(t, ctx, bus, "node-b")
	require.Eventually(t, func() bool { return bus.Subscribers(topic) == 1 }, time.Second, time.Millisecond)

	payload, err := Event{ID: "42", Content: "hi", Sender: "s", OriginalLang: "eng_Latn", Origin: "node-a"}.Marshal()
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, topic, payload))
	require.NoError(t, bus.Publish(ctx, topic, payload))
	require.NoError(t, bus.Publish(ctx, topic, []byte("{not json")))
	require.NoError(t, bus.Publish(ctx, topic, []byte(`{"content":"legacy","sender":"s","original_lang":"eng_Latn"}`)))

	require.Eventually(t, func() bool { return len(rec.events()) == 2 }, time.Second, time.Millisecond)
	byContent := map[string]Event{}
	for _, ev := range rec.events() {
		byContent[ev.Content] = ev
	}
	assert.Contains(t, byContent, "hi")
	require.Contains(t, byContent, "legacy")
	assert.NotEmpty(t, byContent["legacy"].ID)
}

func runNode(t *testing.T, ctx context.Context, bus Broker, conf Conf, h Handler) *Fanout {
	t.Helper()
	f := New(bus, conf)
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, f.Run(ctx, h))
	}()
	t.Cleanup(func() { <-done })
	return f
}

func publishFrom(t *testing.T, ctx context.Context, bus Broker, origin, id string) {
	t.Helper()
	payload, err := Event{ID: id, Content: "from " + origin, Sender: "s", OriginalLang: "eng_Latn", Origin: origin}.Marshal()
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, topic, payload))
}

func TestSlowOriginDoesNotStallOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()

	const lanes = 4
	slow := "node-a"
	fast := ""
	for i := 0; fast == ""; i++ {
		if o := "node-" + strconv.Itoa(i); laneOf(o, lanes) != laneOf(slow, lanes) {
			fast = o
		}
	}

	gate := make(chan struct{})
	rec := &recorder{}
	runNode(t, ctx, bus, Conf{NodeID: "node-c", Topic: topic, Handlers: lanes}, func(ctx context.Context, ev Event) error {
		if ev.Origin == slow {
			select {
			case <-gate:
			case <-ctx.Done():
			}
		}
		return rec.handle(ctx, ev)
	})
	require.Eventually(t, func() bool { return bus.Subscribers(topic) == 1 }, time.Second, time.Millisecond)

	publishFrom(t, ctx, bus, slow, "1")
	publishFrom(t, ctx, bus, fast, "2")

	require.Eventually(t, func() bool { return len(rec.events()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, fast, rec.events()[0].Origin)

	close(gate)
	require.Eventually(t, func() bool { return len(rec.events()) == 2 }, time.Second, time.Millisecond)
}

func TestOriginOrderIsKept(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()
	rec := &recorder{}
	runNode(t, ctx, bus, Conf{NodeID: "node-c", Topic: topic, Handlers: 8}, rec.handle)
	require.Eventually(t, func() bool { return bus.Subscribers(topic) == 1 }, time.Second, time.Millisecond)

	for i := 1; i <= 20; i++ {
		publishFrom(t, ctx, bus, "node-a", strconv.Itoa(i))
	}

	require.Eventually(t, func() bool { return len(rec.events()) == 20 }, time.Second, time.Millisecond)
	for i, ev := range rec.events() {
		assert.Equal(t, strconv.Itoa(i+1), ev.ID)
	}
}

func TestFullLaneDropsEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()

	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	f := runNode(t, ctx, bus, Conf{NodeID: "node-c", Topic: topic, Handlers: 1, HandlerQueue: 1}, func(ctx context.Context, ev Event) error {
		started <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil
	})
	require.Eventually(t, func() bool { return bus.Subscribers(topic) == 1 }, time.Second, time.Millisecond)

	publishFrom(t, ctx, bus, "node-a", "1")
	<-started
	publishFrom(t, ctx, bus, "node-a", "2")
	publishFrom(t, ctx, bus, "node-a", "3")

	require.Eventually(t, func() bool { return f.Dropped() == 1 }, time.Second, time.Millisecond)
	close(gate)
}

func TestSubscriberReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()
	a := New(bus, Conf{NodeID: "node-a", Topic: topic})
	b, rec := startNode(t, ctx, bus, "node-b")
	require.Eventually(t, func() bool { return bus.Subscribers(topic) == 1 && b.Connected() }, time.Second, time.Millisecond)

	bus.Drop()

	// publications racing the reconnect may be lost; keep sending until one lands
	n := 0
	require.Eventually(t, func() bool {
		n++
		a.Publish(ctx, Event{ID: strconv.Itoa(n), Content: "after reconnect", Sender: "s", OriginalLang: "eng_Latn"})
		return len(rec.events()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "after reconnect", rec.events()[0].Content)
}

func TestNoBrokerIsSingleProcess(t *testing.T) {
	f := New(nil, Conf{NodeID: "solo", Topic: topic})
	assert.False(t, f.Enabled())
	assert.Equal(t, "none", f.BrokerName())
	f.Publish(context.Background(), Event{ID: "1", Content: "x"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.NoError(t, f.Run(ctx, func(context.Context, Event) error { return nil }))
	assert.NoError(t, f.Close())
}

func TestPublishOnClosedBrokerIsLogged(t *testing.T) {
	bus := NewMemoryBus()
	require.NoError(t, bus.Close())
	f := New(bus, Conf{NodeID: "a", Topic: topic})
	f.Publish(context.Background(), Event{ID: "1", Content: "x"})
	_, _, failed := f.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestMemIdem(t *testing.T) {
	mi := NewMemIdem(time.Minute)
	defer mi.Close()
	assert.False(t, mi.SeenOnce("k", 0))
	assert.True(t, mi.SeenOnce("k", 0))
	assert.False(t, mi.SeenOnce("short", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	assert.False(t, mi.SeenOnce("short", time.Millisecond))
	assert.Equal(t, 2, mi.Len())
}
