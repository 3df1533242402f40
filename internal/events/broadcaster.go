package events

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"carbonx/internal/bus"
	"carbonx/internal/errors"
	"carbonx/internal/schema"
)

// Producer is the slice of sarama.SyncProducer the broadcaster needs.
type Producer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// Broadcaster drains the terminal-outcome event queue onto a Kafka
// topic. Delivery is at-least-once: a send failure is logged and the
// event is dropped rather than blocking settlement, so consumers must
// treat the durable store as the source of truth.
type Broadcaster struct {
	producer Producer
	topic    string
	queue    *bus.Queue
}

// New connects a sync producer to the given brokers.
func New(queue *bus.Queue, brokers []string, topic string) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect kafka producer")
	}
	return &Broadcaster{producer: producer, topic: topic, queue: queue}, nil
}

// NewWithProducer wires an already-built producer; tests use it.
func NewWithProducer(queue *bus.Queue, producer Producer, topic string) *Broadcaster {
	return &Broadcaster{producer: producer, topic: topic, queue: queue}
}

// Run consumes the event queue until the context is done or the queue
// closes.
func (b *Broadcaster) Run(ctx context.Context) {
	b.queue.Run(ctx, b.send)
}

func (b *Broadcaster) send(e schema.Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	body, err := sonic.Marshal(e)
	if err != nil {
		logs.Errorf("encode event %s, err: %+v", e.Type, err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(e.Type.String()),
		Value: sarama.ByteEncoder(body),
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		logs.Errorf("publish event %s, err: %+v", e.Type, err)
	}
}

// Close releases the underlying producer.
func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
