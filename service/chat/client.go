package chat

import (
	"context"
	"net"
	"sync"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ClientConf struct {
	SendQueue    int
	WriteWait    time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
	ReadLimit    int64
	RatePerSec   float64 // inbound messages; <= 0 disables the limit
	RateBurst    int
	// InboxQueue bounds inbound messages waiting for the dispatcher.
	InboxQueue   int
}

func (c *ClientConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = int(c.RatePerSec) + 1
	}
	if c.InboxQueue <= 0 {
		c.InboxQueue = 64
	}
}

// Client is one WebSocket session. All writes go through a single writer
// goroutine draining Send's queue, so frames reach the peer in the order
// they were queued.
type Client struct {
	ID   string
	Lang string

	ws      *websocket.Conn
	conf    ClientConf
	send    chan []byte
	limiter *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
	writerWg  sync.WaitGroup
}

func NewClient(id, lang string, ws *websocket.Conn, conf ClientConf) *Client {
	conf.norm()
	c := &Client{
		ID:   id,
		Lang: lang,
		ws:   ws,
		conf: conf,
		send: make(chan []byte, conf.SendQueue),
		done: make(chan struct{}),
	}
	if conf.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(conf.RatePerSec), conf.RateBurst)
	}
	return c
}

// Send queues a frame without blocking. A full queue means the peer is not
// keeping up; the frame is dropped and the caller gets ErrSendQueueFull.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return errs.ErrConnClosed.WrapMsg("", "client", c.ID)
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errs.ErrConnClosed.WrapMsg("", "client", c.ID)
	default:
		return errs.ErrSendQueueFull.WrapMsg("", "client", c.ID, "queued", len(c.send))
	}
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Run starts the writer and reads until the peer goes away, the read
// deadline passes, or Close is called. onMessage runs on a dispatcher
// goroutine, one message at a time in arrival order, so a slow handler never
// holds up pong processing. Run returns after the dispatcher drains.
func (c *Client) Run(ctx context.Context, onMessage func(data []byte)) error {
	c.writerWg.Add(1)
	go c.writeLoop()

	inbox := make(chan []byte, c.conf.InboxQueue)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for data := range inbox {
			onMessage(data)
		}
	}()

	defer func() {
		close(inbox)
		_ = c.Close()
		c.writerWg.Wait()
		<-dispatched
	}()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	c.ws.SetReadLimit(c.conf.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadErr(err)
			return err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			logger.Warn("[ws] inbound rate exceeded, message dropped", zap.String("client", c.ID))
			continue
		}
		select {
		case inbox <- data:
		default:
			logger.Warn("[ws] inbox full, message dropped", zap.String("client", c.ID), zap.Int("queued", len(inbox)))
		}
	}
}

func (c *Client) logReadErr(err error) {
	switch {
	case c.Closed():
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Debug("[ws] peer closed", zap.String("client", c.ID))
	default:
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			logger.Info("[ws] read timeout", zap.String("client", c.ID))
			return
		}
		logger.Info("[ws] read error", zap.String("client", c.ID), zap.Error(err))
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.conf.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.conf.WriteWait))
		_ = c.ws.Close()
		c.writerWg.Done()
	}()

	for {
		select {
		case <-c.done:
			c.flush()
			return
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				logger.Info("[ws] write failed", zap.String("client", c.ID), zap.Error(err))
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.conf.WriteWait)); err != nil {
				logger.Info("[ws] ping failed", zap.String("client", c.ID), zap.Error(err))
				_ = c.Close()
				return
			}
		}
	}
}

// flush writes whatever is still queued, best-effort, before the close frame.
func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			if c.write(frame) != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(frame []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.conf.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}
