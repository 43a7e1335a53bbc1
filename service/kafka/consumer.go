package kafka

import (
	"context"

	"PRelay/logger"
	"PRelay/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Subscribe consumes every partition of topic from the newest offset. It
// returns nil when ctx is done and an error when any partition stops.
func (b *Broker) Subscribe(ctx context.Context, topic string, fn func([]byte)) error {
	parts, err := b.consumer.Partitions(topic)
	if err != nil {
		return errs.WrapMsg(err, "kafka partitions", "topic", topic)
	}
	if len(parts) == 0 {
		return errs.ErrBrokerUnavailable.WrapMsg("topic has no partitions", "topic", topic)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range parts {
		pc, err := b.consumer.ConsumePartition(topic, p, sarama.OffsetNewest)
		if err != nil {
			cancel()
			_ = g.Wait()
			return errs.WrapMsg(err, "kafka consume partition", "topic", topic, "partition", p)
		}
		g.Go(func() error {
			defer func() { _ = pc.Close() }()
			return drain(gctx, pc, fn)
		})
	}
	return g.Wait()
}

func drain(ctx context.Context, pc sarama.PartitionConsumer, fn func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-pc.Messages():
			if !ok {
				return errs.ErrBrokerUnavailable.WrapMsg("partition consumer closed")
			}
			fn(msg.Value)
		case cerr, ok := <-pc.Errors():
			if !ok {
				return errs.ErrBrokerUnavailable.WrapMsg("partition consumer closed")
			}
			logger.Warn("[kafka] partition error",
				zap.String("topic", cerr.Topic), zap.Int32("partition", cerr.Partition), zap.Error(cerr.Err))
			return errs.WrapMsg(cerr.Err, "kafka partition", "topic", cerr.Topic, "partition", cerr.Partition)
		}
	}
}
