package eventstore

type EventStore interface {
	AddEvent(ev *OrderEvent)
	TrackClOrdChain(orderID uint64, clOrdID, origClOrdID string)
	GetLatestClOrdID(orderID uint64) string
	GetOrigClOrdID(clOrdID string) string
	Events(orderID uint64) []*OrderEvent
	ReconstructChain(clOrdID string) []string
}
