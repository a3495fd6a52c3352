package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"

	"github.com/joripage/fix-exchange/pkg/eventstore"
	"github.com/joripage/fix-exchange/pkg/repo"
)

// Worker drains the order-event stream into Postgres. It is the externalized
// command log: losing it never affects matching.
type Worker struct {
	order      repo.IOrder
	orderEvent repo.IOrderEvent
}

func NewWorker(repo repo.IRepo) *Worker {
	return &Worker{
		order:      repo.Order(),
		orderEvent: repo.OrderEvent(),
	}
}

func (w *Worker) StartConsumer(ctx context.Context, js nats.JetStreamContext, subject, durable string) error {
	cons, err := js.PullSubscribe(subject, durable)
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := cons.Fetch(10, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			if !errors.Is(err, nats.ErrTimeout) {
				log.Println("Fetch error:", err)
			}
			continue
		}

		for _, msg := range msgs {
			var ev eventstore.OrderEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				log.Println("unmarshal err", err)
				_ = msg.Ack()
				continue
			}
			if err := w.handleEvent(ctx, &ev); err != nil {
				log.Println("handleEvent err", err)
				continue
			}
			_ = msg.Ack()
		}
	}
}

func (w *Worker) handleEvent(ctx context.Context, ev *eventstore.OrderEvent) error {
	if _, err := w.orderEvent.Create(ctx, repo.OrderEventRecordFrom(ev)); err != nil {
		return err
	}
	_, err := w.order.Upsert(ctx, repo.OrderRecordFrom(ev))
	return err
}
