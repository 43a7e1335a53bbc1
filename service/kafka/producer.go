package kafka

import (
	"context"

	"PRelay/tools/errs"

	"github.com/Shopify/sarama"
)

// Publish blocks until the record is acknowledged. The sync producer does
// not take a context, so ctx is only checked before sending.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(payload)}
	if b.key != "" {
		msg.Key = sarama.StringEncoder(b.key)
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", topic)
	}
	return nil
}
