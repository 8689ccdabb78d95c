package pollen

// DeliveryObservation captures one delivery pass outcome.
type DeliveryObservation struct {
	EventID    string
	EventName  string
	Channel    Channel // zero when the emit was an unconditional broadcast
	Broadcast  bool
	Mode       Mode
	Invoked    int
	Failed     int
	DurationMS int64
}

// HandlerObservation captures one handler invocation outcome.
type HandlerObservation struct {
	HandlerID  string
	EventID    string
	EventName  string
	Channel    Channel
	DurationMS int64
	Success    bool
	Panicked   bool
	ErrorText  string
}

// Observer receives broker-level observability events. Implementations must
// be safe for concurrent use; observer calls happen on the goroutine running
// the delivery pass.
type Observer interface {
	ObserveDelivery(observation DeliveryObservation)
	ObserveHandler(observation HandlerObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveDelivery(DeliveryObservation) {}
func (noopObserver) ObserveHandler(HandlerObservation)   {}
