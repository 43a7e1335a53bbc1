package global

import (
	"fmt"
	"os"
	"strings"
	"time"

	"PRelay/tools"
	"PRelay/tools/decode"
	"PRelay/tools/errs"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	BrokerNone  = "none"
	BrokerRedis = "redis"
	BrokerNats  = "nats"
	BrokerKafka = "kafka"
)

// RelayConfig is the full process configuration.
type RelayConfig struct {
	NodeID         string `mapstructure:"node_id" yaml:"node_id"`
	HTTPAddr       string `mapstructure:"http_addr" yaml:"http_addr"`
	StaticDir      string `mapstructure:"static_dir" yaml:"static_dir"`
	DefaultLang    string `mapstructure:"default_lang" yaml:"default_lang"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
	TargetRPS      int    `mapstructure:"target_rps" yaml:"target_rps"`
	// AllowedOrigins limits browser origins for HTTP and the websocket upgrade; empty allows all.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Conn      ConnConfig      `mapstructure:"conn" yaml:"conn"`
	Translate TranslateConfig `mapstructure:"translate" yaml:"translate"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Broker    BrokerConfig    `mapstructure:"broker" yaml:"broker"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// ConnConfig bounds per-connection resources.
type ConnConfig struct {
	SendQueue    int           `mapstructure:"send_queue" yaml:"send_queue"`
	WriteWait    time.Duration `mapstructure:"write_wait" yaml:"write_wait"`
	PongWait     time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	PingInterval time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	ReadLimit    int64         `mapstructure:"read_limit" yaml:"read_limit"`
	RatePerSec   float64       `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
	RateBurst    int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	InboxQueue   int           `mapstructure:"inbox_queue" yaml:"inbox_queue"`
}

type TranslateConfig struct {
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	QueueSize   int           `mapstructure:"queue_size" yaml:"queue_size"`
	QueueWait   time.Duration `mapstructure:"queue_wait" yaml:"queue_wait"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	InitTimeout time.Duration `mapstructure:"init_timeout" yaml:"init_timeout"`
	Warmup      time.Duration `mapstructure:"warmup" yaml:"warmup"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
}

type MetricsConfig struct {
	MaxLatencyMs int `mapstructure:"max_latency_ms" yaml:"max_latency_ms"`
	HistorySize  int `mapstructure:"history_size" yaml:"history_size"`
}

type BrokerConfig struct {
	Kind   string        `mapstructure:"kind" yaml:"kind"`
	Topic  string        `mapstructure:"topic" yaml:"topic"`
	Dedupe time.Duration `mapstructure:"dedupe" yaml:"dedupe"`

	// Handlers and HandlerQueue size the remote delivery lanes.
	Handlers     int         `mapstructure:"handlers" yaml:"handlers"`
	HandlerQueue int         `mapstructure:"handler_queue" yaml:"handler_queue"`
	Redis        RedisConfig `mapstructure:"redis" yaml:"redis"`
	Nats         NatsConfig  `mapstructure:"nats" yaml:"nats"`
	Kafka        KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

type RedisConfig struct {
	Host             string        `mapstructure:"host" yaml:"host"`
	Port             int           `mapstructure:"port" yaml:"port"`
	Password         string        `mapstructure:"password" yaml:"password"`
	DB               int           `mapstructure:"db" yaml:"db"`
	PoolSize         int           `mapstructure:"pool_size" yaml:"pool_size"`
	PresenceInterval time.Duration `mapstructure:"presence_interval" yaml:"presence_interval"`
}

func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

type NatsConfig struct {
	Servers  []string `mapstructure:"servers" yaml:"servers"`
	User     string   `mapstructure:"user" yaml:"user"`
	Password string   `mapstructure:"password" yaml:"password"`
}

type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers" yaml:"brokers"`
	Version           string   `mapstructure:"version" yaml:"version"`
	Compression       string   `mapstructure:"compression" yaml:"compression"`
	Partitions        int32    `mapstructure:"partitions" yaml:"partitions"`
	ReplicationFactor int16    `mapstructure:"replication_factor" yaml:"replication_factor"`
	EnsureTopic       bool     `mapstructure:"ensure_topic" yaml:"ensure_topic"`
}

// DefaultConfig mirrors the single-process development setup.
func DefaultConfig() RelayConfig {
	return RelayConfig{
		HTTPAddr:       ":8000",
		DefaultLang:    "eng_Latn",
		MaxConnections: 1000,
		TargetRPS:      100,
		Log:            LogConfig{Level: "info"},
		Conn: ConnConfig{
			SendQueue:    256,
			WriteWait:    10 * time.Second,
			PongWait:     60 * time.Second,
			PingInterval: 25 * time.Second,
			ReadLimit:    1 << 20,
			RatePerSec:   20,
			RateBurst:    40,
			InboxQueue:   64,
		},
		Translate: TranslateConfig{
			Workers:     4,
			QueueSize:   256,
			QueueWait:   2 * time.Second,
			Timeout:     30 * time.Second,
			InitTimeout: 2 * time.Minute,
		},
		Metrics: MetricsConfig{
			MaxLatencyMs: 500,
			HistorySize:  1000,
		},
		Broker: BrokerConfig{
			Kind:         BrokerNone,
			Topic:        DefaultBroadcastTopic,
			Dedupe:       2 * time.Minute,
			Handlers:     4,
			HandlerQueue: 256,
			Redis: RedisConfig{
				Host:             "localhost",
				Port:             6379,
				PresenceInterval: 10 * time.Second,
			},
			Nats: NatsConfig{
				Servers: []string{"nats://127.0.0.1:4222"},
			},
			Kafka: KafkaConfig{
				Brokers:           []string{"127.0.0.1:9092"},
				Version:           "2.1.0",
				Compression:       "none",
				Partitions:        3,
				ReplicationFactor: 1,
				EnsureTopic:       true,
			},
		},
	}
}

// envBinding maps an environment variable onto a dotted config path.
type envBinding struct {
	env  string
	path string
}

var envBindings = []envBinding{
	{"RELAY_NODE_ID", "node_id"},
	{"RELAY_HTTP_ADDR", "http_addr"},
	{"RELAY_STATIC_DIR", "static_dir"},
	{"RELAY_DEFAULT_LANG", "default_lang"},
	{"MAX_CONNECTIONS", "max_connections"},
	{"TARGET_RPS", "target_rps"},
	{"RELAY_ALLOWED_ORIGINS", "allowed_origins"},
	{"RELAY_LOG_LEVEL", "log.level"},
	{"RELAY_CONN_RATE", "conn.rate_per_sec"},
	{"WORKER_COUNT", "translate.workers"},
	{"RELAY_TRANSLATE_QUEUE", "translate.queue_size"},
	{"RELAY_TRANSLATE_TIMEOUT", "translate.timeout"},
	{"RELAY_TRANSLATE_WARMUP", "translate.warmup"},
	{"RELAY_TRANSLATE_ENDPOINT", "translate.endpoint"},
	{"MAX_LATENCY_MS", "metrics.max_latency_ms"},
	{"RELAY_BROKER", "broker.kind"},
	{"RELAY_BROKER_TOPIC", "broker.topic"},
	{"REDIS_HOST", "broker.redis.host"},
	{"REDIS_PORT", "broker.redis.port"},
	{"REDIS_PASSWORD", "broker.redis.password"},
	{"RELAY_NATS_SERVERS", "broker.nats.servers"},
	{"RELAY_NATS_USER", "broker.nats.user"},
	{"RELAY_NATS_PASSWORD", "broker.nats.password"},
	{"RELAY_KAFKA_BROKERS", "broker.kafka.brokers"},
	{"RELAY_KAFKA_VERSION", "broker.kafka.version"},
}

// Load builds the configuration: defaults, then the optional YAML file, then environment.
func Load(path string) (*RelayConfig, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("RELAY_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.WrapMsg(err, "read config", "path", path)
		}
		fileMap := map[string]any{}
		if err := yaml.Unmarshal(raw, &fileMap); err != nil {
			return nil, errs.WrapMsg(err, "parse config", "path", path)
		}
		if err := decode.DecodeInto(fileMap, &cfg); err != nil {
			return nil, errs.WrapMsg(err, "decode config", "path", path)
		}
	}

	if err := decode.DecodeInto(envOverrides(), &cfg); err != nil {
		return nil, errs.WrapMsg(err, "decode env overrides")
	}

	// REDIS_ENABLED predates RELAY_BROKER and only ever selected redis.
	if tools.GetEnvBool("REDIS_ENABLED", false) && os.Getenv("RELAY_BROKER") == "" {
		cfg.Broker.Kind = BrokerRedis
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOverrides() map[string]any {
	out := map[string]any{}
	for _, b := range envBindings {
		v, ok := os.LookupEnv(b.env)
		if !ok || v == "" {
			continue
		}
		setPath(out, strings.Split(b.path, "."), v)
	}
	return out
}

func setPath(m map[string]any, path []string, v any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

// Validate normalizes the config and rejects values the relay cannot run with.
func (c *RelayConfig) Validate() error {
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if c.DefaultLang == "" {
		c.DefaultLang = "eng_Latn"
	}
	if c.Broker.Topic == "" {
		c.Broker.Topic = DefaultBroadcastTopic
	}
	c.Broker.Kind = strings.ToLower(strings.TrimSpace(c.Broker.Kind))
	switch c.Broker.Kind {
	case "", "false", "off":
		c.Broker.Kind = BrokerNone
	case BrokerNone, BrokerRedis, BrokerNats, BrokerKafka:
	default:
		return errs.New("unknown broker kind", "kind", c.Broker.Kind)
	}
	if c.Translate.Workers <= 0 {
		return errs.New("translate.workers must be positive", "workers", c.Translate.Workers)
	}
	if c.Translate.QueueSize <= 0 {
		c.Translate.QueueSize = c.Translate.Workers * 64
	}
	if c.Conn.SendQueue <= 0 {
		return errs.New("conn.send_queue must be positive", "send_queue", c.Conn.SendQueue)
	}
	if c.Conn.PingInterval >= c.Conn.PongWait {
		return errs.New("conn.ping_interval must be shorter than conn.pong_wait",
			"ping_interval", c.Conn.PingInterval, "pong_wait", c.Conn.PongWait)
	}
	if c.Metrics.HistorySize <= 0 {
		c.Metrics.HistorySize = 1000
	}
	return nil
}

// ScalingReport is served on /scaling.
func (c *RelayConfig) ScalingReport() map[string]any {
	return map[string]any{
		"node_id":                    c.NodeID,
		"broker":                     c.Broker.Kind,
		"redis_enabled":              c.Broker.Kind == BrokerRedis,
		"max_connections_per_worker": c.MaxConnections,
		"worker_count":               c.Translate.Workers,
		"max_latency_ms":             c.Metrics.MaxLatencyMs,
		"target_throughput_rps":      c.TargetRPS,
	}
}
