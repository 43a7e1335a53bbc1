package natsx

import (
	"strings"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config 客户端配置
type Config struct {
	Servers       []string
	Name          string
	User          string
	Password      string
	ReconnectWait time.Duration
	Timeout       time.Duration
	// PendingMsgs/PendingBytes bound what a slow subscriber may buffer.
	PendingMsgs  int
	PendingBytes int
}

func (c *Config) norm() {
	if c.Name == "" {
		c.Name = "prelay"
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.PendingMsgs <= 0 {
		c.PendingMsgs = 1_000_000
	}
	if c.PendingBytes <= 0 {
		c.PendingBytes = 64 * 1024 * 1024
	}
}

// Client owns one NATS connection shared by the producer and consumer side.
type Client struct {
	cfg Config
	nc  *nats.Conn
}

// Connect dials the servers. The connection reconnects forever once established.
func Connect(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.ErrBrokerUnavailable.WrapMsg("nats servers missing")
	}
	cfg.norm()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("[nats] disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[nats] reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.ErrBrokerUnavailable.WrapMsg(err.Error(), "servers", cfg.Servers)
	}
	return &Client{cfg: cfg, nc: nc}, nil
}

func (c *Client) Conn() *nats.Conn { return c.nc }

// Close drains subscriptions and the connection.
func (c *Client) Close() error {
	if c == nil || c.nc == nil || c.nc.IsClosed() {
		return nil
	}
	return c.nc.Drain()
}
