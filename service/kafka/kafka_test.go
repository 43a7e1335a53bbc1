package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"PRelay/service/fanout"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const topic = "chat_broadcast"

func testConfig(t *testing.T) *sarama.Config {
	t.Helper()
	cfg, err := BuildConfig(Config{})
	require.NoError(t, err)
	return cfg
}

func TestBuildConfig(t *testing.T) {
	cfg, err := BuildConfig(Config{Version: "2.8.0", Compression: "lz4"})
	require.NoError(t, err)
	assert.Equal(t, sarama.V2_8_0_0, cfg.Version)
	assert.Equal(t, sarama.CompressionLZ4, cfg.Producer.Compression)
	assert.Equal(t, sarama.OffsetNewest, cfg.Consumer.Offsets.Initial)

	_, err = BuildConfig(Config{Version: "banana"})
	assert.Error(t, err)
	_, err = BuildConfig(Config{Compression: "brotli"})
	assert.Error(t, err)
}

func TestDialNeedsBrokers(t *testing.T) {
	_, err := Dial(Config{}, topic)
	assert.Error(t, err)
}

func TestFanoutPublishStampsOrigin(t *testing.T) {
	cfg := testConfig(t)
	producer := mocks.NewSyncProducer(t, cfg)
	consumer := mocks.NewConsumer(t, cfg)

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev fanout.Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Origin != "node-a" || ev.Content != "hello" {
			return errors.New("unexpected event")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	f := fanout.New(NewBroker("node-a", producer, consumer), fanout.Conf{NodeID: "node-a", Topic: topic})
	f.Publish(context.Background(), fanout.Event{ID: "1", Content: "hello", Sender: "s", OriginalLang: "eng_Latn"})
	f.Publish(context.Background(), fanout.Event{ID: "2", Content: "again", Sender: "s", OriginalLang: "eng_Latn"})

	published, _, failed := f.Stats()
	assert.Equal(t, int64(1), published)
	assert.Equal(t, int64(1), failed)
	require.NoError(t, f.Close())
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	cfg := testConfig(t)
	b := NewBroker("", mocks.NewSyncProducer(t, cfg), mocks.NewConsumer(t, cfg))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Publish(ctx, topic, []byte("x")), context.Canceled)
	require.NoError(t, b.Close())
}

func TestSubscribeReadsEveryPartition(t *testing.T) {
	cfg := testConfig(t)
	consumer := mocks.NewConsumer(t, cfg)
	consumer.SetTopicMetadata(map[string][]int32{topic: {0, 1}})
	p0 := consumer.ExpectConsumePartition(topic, 0, sarama.OffsetNewest)
	p1 := consumer.ExpectConsumePartition(topic, 1, sarama.OffsetNewest)
	p0.YieldMessage(&sarama.ConsumerMessage{Topic: topic, Partition: 0, Value: []byte("from-0")})
	p1.YieldMessage(&sarama.ConsumerMessage{Topic: topic, Partition: 1, Value: []byte("from-1")})

	b := NewBroker("", mocks.NewSyncProducer(t, cfg), consumer)
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, topic, func(p []byte) {
			mu.Lock()
			got = append(got, string(p))
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.ElementsMatch(t, []string{"from-0", "from-1"}, got)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not stop")
	}
}

func TestSubscribeFailsOnPartitionError(t *testing.T) {
	cfg := testConfig(t)
	consumer := mocks.NewConsumer(t, cfg)
	consumer.SetTopicMetadata(map[string][]int32{topic: {0}})
	pc := consumer.ExpectConsumePartition(topic, 0, sarama.OffsetNewest)
	pc.YieldError(&sarama.ConsumerError{Topic: topic, Partition: 0, Err: sarama.ErrNotLeaderForPartition})

	b := NewBroker("", mocks.NewSyncProducer(t, cfg), consumer)
	err := b.Subscribe(context.Background(), topic, func([]byte) {})
	assert.Error(t, err)
}

func TestSubscribeUnknownTopic(t *testing.T) {
	cfg := testConfig(t)
	consumer := mocks.NewConsumer(t, cfg)
	consumer.SetTopicMetadata(map[string][]int32{"other": {0}})

	b := NewBroker("", mocks.NewSyncProducer(t, cfg), consumer)
	assert.Error(t, b.Subscribe(context.Background(), topic, func([]byte) {}))
}

type fakeAdmin struct {
	sarama.ClusterAdmin
	metas      []*sarama.TopicMetadata
	created    *sarama.TopicDetail
	createErr  error
	grownTo    int32
	describeEr error
}

func (a *fakeAdmin) DescribeTopics([]string) ([]*sarama.TopicMetadata, error) {
	return a.metas, a.describeEr
}

func (a *fakeAdmin) CreateTopic(_ string, d *sarama.TopicDetail, _ bool) error {
	a.created = d
	return a.createErr
}

func (a *fakeAdmin) CreatePartitions(_ string, count int32, _ [][]int32, _ bool) error {
	a.grownTo = count
	return nil
}

func TestEnsureTopic(t *testing.T) {
	missing := []*sarama.TopicMetadata{{Name: topic, Err: sarama.ErrUnknownTopicOrPartition}}

	a := &fakeAdmin{metas: missing}
	require.NoError(t, EnsureTopic(a, topic, 4, 3))
	require.NotNil(t, a.created)
	assert.Equal(t, int32(4), a.created.NumPartitions)
	assert.Equal(t, "2", *a.created.ConfigEntries["min.insync.replicas"])

	a = &fakeAdmin{metas: missing, createErr: sarama.ErrTopicAlreadyExists}
	assert.NoError(t, EnsureTopic(a, topic, 1, 1))

	a = &fakeAdmin{metas: []*sarama.TopicMetadata{{Name: topic, Partitions: []*sarama.PartitionMetadata{{ID: 0}}}}}
	require.NoError(t, EnsureTopic(a, topic, 3, 1))
	assert.Nil(t, a.created)
	assert.Equal(t, int32(3), a.grownTo)

	a = &fakeAdmin{describeEr: sarama.ErrOutOfBrokers}
	assert.Error(t, EnsureTopic(a, topic, 1, 1))
}
