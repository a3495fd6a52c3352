package tradefeed

import (
	"context"
	"time"

	"go.uber.org/zap"

	kafkawrapper "github.com/joripage/fix-exchange/pkg/kafka_wrapper"
	"github.com/joripage/fix-exchange/pkg/orderbook"
)

// Feed publishes every executed trade to a Kafka topic, keyed by symbol so a
// symbol's trades stay ordered within a partition. This is the public tape;
// execution reports to the parties do not depend on it.
type Feed struct {
	producer *kafkawrapper.Producer
	topic    string
}

func NewFeed(brokers []string, topic string) *Feed {
	return &Feed{
		producer: kafkawrapper.NewProducer(kafkawrapper.ProducerConfig{Brokers: brokers}),
		topic:    topic,
	}
}

// Publish is shaped to plug straight into engine.SetTradeCallback.
func (f *Feed) Publish(t orderbook.Trade) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.producer.PublishJSON(ctx, f.topic, t.Symbol, t, nil); err != nil {
		zap.S().Warnw("trade publish failed", "symbol", t.Symbol, "err", err)
	}
}

func (f *Feed) Close(ctx context.Context) error {
	return f.producer.Close(ctx)
}
