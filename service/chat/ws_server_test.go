package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PRelay/service/privacy"
	"PRelay/service/translate"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsRelay struct {
	url string
	reg *Registry
	srv *Server
}

type wsRelayConf struct {
	maxConns int
	warmup   time.Duration
	pongWait time.Duration
}

func newWSRelay(t *testing.T, maxConns int) *wsRelay {
	t.Helper()
	return newWSRelayConf(t, wsRelayConf{maxConns: maxConns, pongWait: 5 * time.Second})
}

func newWSRelayConf(t *testing.T, conf wsRelayConf) *wsRelay {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	reg := NewRegistry()
	pool := translate.NewPool(2, 16)
	gw := translate.NewGateway(translate.NewPhrasebook(nil, conf.warmup), translate.GatewayConf{Timeout: time.Second})
	coord := NewCoordinator(reg, gw, pool, CoordinatorConf{}, WithSanitizer(privacy.New()))
	srv := NewServer(ctx, reg, coord, ServerConf{MaxConnections: conf.maxConns, Client: ClientConf{PongWait: conf.pongWait}})

	r := gin.New()
	r.GET("/ws/:clientId", srv.HandleWS)
	hs := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		hs.Close()
		pool.Close()
	})
	return &wsRelay{url: "ws" + strings.TrimPrefix(hs.URL, "http"), reg: reg, srv: srv}
}

func (r *wsRelay) dial(t *testing.T, id, lang string) *websocket.Conn {
	t.Helper()
	u := r.url + "/ws/" + id
	if lang != "" {
		u += "?lang=" + lang
	}
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	require.Eventually(t, func() bool {
		_, ok := r.reg.Get(id)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return ws
}

// next reads frames until match returns true, returning every frame read.
func next(t *testing.T, ws *websocket.Conn, match func(frame) bool) []frame {
	t.Helper()
	var seen []frame
	for {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err, "frames so far: %+v", seen)
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		seen = append(seen, f)
		if match(f) {
			return seen
		}
	}
}

func isResult(content string) func(frame) bool {
	return func(f frame) bool { return f.Type == "" && f.Original == content }
}

func TestWebSocketTranslatesEndToEnd(t *testing.T) {
	relay := newWSRelay(t, 0)

	r := relay.dial(t, "R", "spa_Latn")
	s := relay.dial(t, "S", "")

	joined := next(t, r, isResult("Client #S joined"))
	last := joined[len(joined)-1]
	assert.Equal(t, "Client #S joined", last.Translated)
	assert.Equal(t, SystemSender, last.Sender)

	require.NoError(t, s.WriteJSON(map[string]string{"content": "hello"}))

	seen := next(t, r, isResult("hello"))
	res := seen[len(seen)-1]
	assert.Equal(t, "hola", res.Translated)
	assert.Equal(t, "spa_Latn", res.TargetLang)
	assert.GreaterOrEqual(t, res.LatencyMs, 0.0)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, privacy.New().Anonymize("S"), res.Sender)
	assert.Equal(t, 1, statuses(seen, StatusLoadingModel))
	assert.Equal(t, 1, statuses(seen, StatusLoaded))
	assert.Equal(t, StatusTranslating, seen[len(seen)-2].Status)
}

func TestWebSocketDisconnect(t *testing.T) {
	relay := newWSRelay(t, 0)

	s := relay.dial(t, "S", "eng_Latn")
	r := relay.dial(t, "R", "spa_Latn")
	o := relay.dial(t, "O", "eng_Latn")
	next(t, s, isResult("Client #O joined"))

	require.NoError(t, r.Close())

	seen := next(t, o, isResult("Client #R left"))
	require.NoError(t, s.WriteMessage(websocket.TextMessage, []byte("still here")))
	seen = append(seen, next(t, o, isResult("still here"))...)

	left := 0
	for _, f := range seen {
		if f.Original == "Client #R left" {
			left++
		}
	}
	assert.Equal(t, 1, left)
	assert.Equal(t, "still here", seen[len(seen)-1].Translated)
}

func TestWebSocketReconnectKeepsNewSession(t *testing.T) {
	relay := newWSRelay(t, 0)
	first := relay.dial(t, "X", "eng_Latn")
	old, _ := relay.reg.Get("X")

	second, _, err := websocket.DefaultDialer.Dial(relay.url+"/ws/X", nil)
	require.NoError(t, err)
	defer second.Close()
	require.Eventually(t, func() bool {
		e, ok := relay.reg.Get("X")
		return ok && e.Conn != old.Conn
	}, 2*time.Second, 5*time.Millisecond)

	// the superseded session is closed by the relay
	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	time.Sleep(50 * time.Millisecond)
	e, ok := relay.reg.Get("X")
	require.True(t, ok, "old session teardown must not evict the new one")
	assert.NotEqual(t, old.Conn, e.Conn)
	assert.Equal(t, 1, relay.reg.Count())
}

func TestWebSocketConnectionCap(t *testing.T) {
	relay := newWSRelay(t, 1)
	relay.dial(t, "A", "eng_Latn")

	_, resp, err := websocket.DefaultDialer.Dial(relay.url+"/ws/B", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 1, relay.srv.Active())
}

func TestWebSocketSlowWarmupKeepsSender(t *testing.T) {
	relay := newWSRelayConf(t, wsRelayConf{warmup: 1500 * time.Millisecond, pongWait: 500 * time.Millisecond})

	r := relay.dial(t, "R", "spa_Latn")
	s := relay.dial(t, "S", "eng_Latn")
	next(t, r, isResult("Client #S joined"))

	// keep reading on S so the relay's pings are answered
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := s.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, s.WriteJSON(map[string]string{"content": "hello"}))
	seen := next(t, r, isResult("hello"))
	assert.Equal(t, "hola", seen[len(seen)-1].Translated)

	select {
	case <-gone:
		t.Fatal("sender was disconnected during the warm-up")
	default:
	}
	_, ok := relay.reg.Get("S")
	require.True(t, ok)

	require.NoError(t, s.WriteJSON(map[string]string{"content": "hello"}))
	seen = next(t, r, isResult("hello"))
	assert.Equal(t, "hola", seen[len(seen)-1].Translated)
}
