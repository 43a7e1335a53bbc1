package kafka

import (
	"PRelay/logger"
	"PRelay/service/fanout"
	"PRelay/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Broker publishes broadcasts with a sync producer and reads them back with
// a plain partition consumer on every partition. Consumer groups are not
// used because each relay node must see every record.
type Broker struct {
	key      string
	client   sarama.Client
	producer sarama.SyncProducer
	consumer sarama.Consumer
}

// Dial connects to the cluster and, when asked, makes sure topic exists.
func Dial(c Config, topic string) (*Broker, error) {
	if len(c.Brokers) == 0 {
		return nil, errs.ErrBrokerUnavailable.WrapMsg("kafka brokers missing")
	}
	cfg, err := BuildConfig(c)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errs.ErrBrokerUnavailable.WrapMsg(err.Error(), "brokers", c.Brokers)
	}
	if c.EnsureTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errs.WrapMsg(err, "kafka admin")
		}
		// the admin shares client; closing it would close client too
		if err := EnsureTopic(admin, topic, c.Partitions, c.ReplicationFactor); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka producer")
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka consumer")
	}
	b := NewBroker(c.Key, producer, consumer)
	b.client = client
	logger.Info("[kafka] connected", zap.Strings("brokers", c.Brokers), zap.Int("brokers_seen", len(client.Brokers())))
	return b, nil
}

// NewBroker wraps an existing producer and consumer.
func NewBroker(key string, producer sarama.SyncProducer, consumer sarama.Consumer) *Broker {
	return &Broker{key: key, producer: producer, consumer: consumer}
}

func (b *Broker) Name() string { return "kafka" }

func (b *Broker) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	keep(b.producer.Close())
	keep(b.consumer.Close())
	if b.client != nil && !b.client.Closed() {
		keep(b.client.Close())
	}
	return first
}

var _ fanout.Broker = (*Broker)(nil)
