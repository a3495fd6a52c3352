package eventstore

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// JetStreamStore wraps an EventStore and publishes every event to a NATS
// JetStream subject for the persistence worker. Publish failures are logged
// and dropped; the in-memory trail stays authoritative for the process.
type JetStreamStore struct {
	inner   EventStore
	js      nats.JetStreamContext
	subject string
}

func NewJetStreamStore(inner EventStore, js nats.JetStreamContext, stream, subject string) (*JetStreamStore, error) {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     stream,
		Subjects: []string{subject},
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}
	return &JetStreamStore{inner: inner, js: js, subject: subject}, nil
}

func (s *JetStreamStore) AddEvent(ev *OrderEvent) {
	s.inner.AddEvent(ev)

	data, err := json.Marshal(ev)
	if err != nil {
		zap.S().Warnw("order event marshal failed", "event_id", ev.EventID, "err", err)
		return
	}
	if _, err := s.js.PublishAsync(s.subject, data); err != nil {
		zap.S().Warnw("order event publish failed", "event_id", ev.EventID, "err", err)
	}
}

func (s *JetStreamStore) TrackClOrdChain(orderID uint64, clOrdID, origClOrdID string) {
	s.inner.TrackClOrdChain(orderID, clOrdID, origClOrdID)
}

func (s *JetStreamStore) GetLatestClOrdID(orderID uint64) string {
	return s.inner.GetLatestClOrdID(orderID)
}

func (s *JetStreamStore) GetOrigClOrdID(clOrdID string) string {
	return s.inner.GetOrigClOrdID(clOrdID)
}

func (s *JetStreamStore) Events(orderID uint64) []*OrderEvent {
	return s.inner.Events(orderID)
}

func (s *JetStreamStore) ReconstructChain(clOrdID string) []string {
	return s.inner.ReconstructChain(clOrdID)
}
