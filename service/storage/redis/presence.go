package redis

import (
	"context"
	"strconv"
	"time"

	"PRelay/global"
	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ===== Lua 脚本 =====

// KEYS[1] = presence key, KEYS[2] = node index
// ARGV[1] = connection count, ARGV[2] = ttl seconds, ARGV[3] = expireAt unix, ARGV[4] = node id
const luaBeat = `
redis.call("SET", KEYS[1], ARGV[1], "EX", tonumber(ARGV[2]))
redis.call("ZADD", KEYS[2], tonumber(ARGV[3]), ARGV[4])
return 1
`

// KEYS[1] = node index
// ARGV[1] = now unix, ARGV[2] = presence key prefix
// returns {total connections, live nodes}
const luaClusterCount = `
local idx = KEYS[1]
redis.call("ZREMRANGEBYSCORE", idx, "-inf", "(" .. ARGV[1])
local nodes = redis.call("ZRANGE", idx, 0, -1)
local total, live = 0, 0
for _, n in ipairs(nodes) do
  local v = redis.call("GET", ARGV[2] .. n)
  if v then
    total = total + tonumber(v)
    live = live + 1
  else
    redis.call("ZREM", idx, n)
  end
end
return {total, live}
`

var (
	beatScript    = redis.NewScript(luaBeat)
	clusterScript = redis.NewScript(luaClusterCount)
)

type PresenceConf struct {
	NodeID   string
	Interval time.Duration
	// TTL defaults to three intervals so one missed beat does not drop the node.
	TTL   time.Duration
	Clock func() time.Time
}

func (c *PresenceConf) norm() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.TTL <= 0 {
		c.TTL = 3 * c.Interval
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Presence advertises this node's connection count so /metrics can report
// the whole cluster.
type Presence struct {
	m     *Manager
	conf  PresenceConf
	count func() int
}

func NewPresence(m *Manager, conf PresenceConf, count func() int) *Presence {
	conf.norm()
	return &Presence{m: m, conf: conf, count: count}
}

// Beat writes the current count once.
func (p *Presence) Beat(ctx context.Context) error {
	now := p.conf.Clock()
	ttl := int64(p.conf.TTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	keys := []string{global.PresenceKey(p.conf.NodeID), global.NodeIndexKey}
	args := []any{p.count(), ttl, now.Add(p.conf.TTL).Unix(), p.conf.NodeID}
	if err := beatScript.Run(ctx, p.m.client, keys, args...).Err(); err != nil {
		return errs.WrapMsg(err, "presence beat", "node", p.conf.NodeID)
	}
	return nil
}

// Run beats every interval until ctx is done, then withdraws the node.
func (p *Presence) Run(ctx context.Context) error {
	t := time.NewTicker(p.conf.Interval)
	defer t.Stop()
	for {
		if err := p.Beat(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("[presence] beat failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return p.Withdraw(cctx)
		case <-t.C:
		}
	}
}

// Withdraw removes this node's presence immediately.
func (p *Presence) Withdraw(ctx context.Context) error {
	pipe := p.m.client.TxPipeline()
	pipe.Del(ctx, global.PresenceKey(p.conf.NodeID))
	pipe.ZRem(ctx, global.NodeIndexKey, p.conf.NodeID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.WrapMsg(err, "presence withdraw", "node", p.conf.NodeID)
	}
	return nil
}

// ClusterConnections sums the counts of every live node.
func (p *Presence) ClusterConnections(ctx context.Context) (total, nodes int, err error) {
	now := strconv.FormatInt(p.conf.Clock().Unix(), 10)
	res, err := clusterScript.Run(ctx, p.m.client, []string{global.NodeIndexKey}, now, global.PresencePrefix()).Int64Slice()
	if err != nil {
		return 0, 0, errs.WrapMsg(err, "cluster connections")
	}
	if len(res) != 2 {
		return 0, 0, errs.New("unexpected cluster count reply", "len", len(res))
	}
	return int(res[0]), int(res[1]), nil
}

// Nodes lists node ids that currently hold a presence key.
func (p *Presence) Nodes(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := p.m.client.Scan(ctx, cursor, global.PresencePattern(), 100).Result()
		if err != nil {
			return nil, errs.WrapMsg(err, "scan presence")
		}
		for _, k := range keys {
			out = append(out, global.NodeFromPresenceKey(k))
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}
