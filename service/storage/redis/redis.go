package redis

import (
	"context"
	"time"

	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config 用于初始化 Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Manager owns one go-redis client shared by the broker and presence.
type Manager struct {
	client *redis.Client
}

// New connects and pings; a failed ping closes the client.
func New(ctx context.Context, c Config) (*Manager, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.ErrBrokerUnavailable.WrapMsg(err.Error(), "addr", c.Addr)
	}
	logger.Info("[redis] connected", zap.String("addr", c.Addr), zap.Int("db", c.DB))
	return &Manager{client: rdb}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb *redis.Client) *Manager { return &Manager{client: rdb} }

func (m *Manager) Client() *redis.Client { return m.client }

func (m *Manager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}
