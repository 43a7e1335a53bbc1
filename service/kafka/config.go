package kafka

import (
	"strings"
	"time"

	"PRelay/tools/errs"

	"github.com/Shopify/sarama"
)

type Config struct {
	Brokers []string
	// Key is attached to every record so one node's broadcasts stay ordered on a single partition.
	Key               string
	Version           string // e.g. "2.1.0"
	Compression       string // none/snappy/lz4/zstd/gzip
	ProducerRetries   int
	Partitions        int32
	ReplicationFactor int16
	EnsureTopic       bool
}

// BuildConfig turns Config into the sarama settings shared by the producer and the consumer.
func BuildConfig(c Config) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errs.WrapMsg(err, "kafka version", "version", c.Version)
		}
		cfg.Version = v
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 3
	}
	cfg.Producer.Retry.Max = c.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	case "gzip":
		cfg.Producer.Compression = sarama.CompressionGZIP
	case "", "none":
		cfg.Producer.Compression = sarama.CompressionNone
	default:
		return nil, errs.New("unknown kafka compression", "compression", c.Compression)
	}

	// every node reads every broadcast from now on, never history
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, nil
}
