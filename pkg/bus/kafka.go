package bus

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/avelar/jobchat/pkg/logging"
)

// Kafka is the multi-instance Bus. Every instance writes to one topic and
// reads it back with a consumer group unique to the instance, so each
// envelope reaches every instance (broadcast, not work-sharing).
type Kafka struct {
	instanceID string
	writer     *kafka.Writer
	reader     *kafka.Reader
	log        zerolog.Logger
}

func NewKafka(brokers []string, topic, instanceID string) *Kafka {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		// Unique group per instance: every gateway consumes the full topic.
		GroupID:     "jobchat-gateway-" + instanceID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
	})

	return &Kafka{
		instanceID: instanceID,
		writer:     writer,
		reader:     reader,
		log:        logging.Component("bus"),
	}
}

func (b *Kafka) Publish(ctx context.Context, env Envelope) error {
	env.Origin = b.instanceID
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.Channel),
		Value: value,
		Time:  time.Now(),
	})
}

func (b *Kafka) Start(ctx context.Context, handler Handler) {
	go func() {
		for {
			m, err := b.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.log.Error().Err(err).Msg("bus read failed, retrying")
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}

			var env Envelope
			if err := json.Unmarshal(m.Value, &env); err != nil {
				b.log.Warn().Err(err).Msg("discarding malformed bus envelope")
				continue
			}
			if env.Origin == b.instanceID {
				// Our own publish; local subscribers were already served.
				continue
			}
			handler(env)
		}
	}()
}

func (b *Kafka) Close() error {
	werr := b.writer.Close()
	rerr := b.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
