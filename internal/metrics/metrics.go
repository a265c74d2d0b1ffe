package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	Evaluations        Counter
	Imbalances         Counter
	OrdersPlanned      Counter
	OrdersPlaced       Counter
	OrdersFailed       Counter
	PlansRejected      Counter
	ValidationTimeouts Counter
	RiskRejections     Counter
	AlertsSent         Counter
	ClockResyncs       Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		Evaluations:        n,
		Imbalances:         n,
		OrdersPlanned:      n,
		OrdersPlaced:       n,
		OrdersFailed:       n,
		PlansRejected:      n,
		ValidationTimeouts: n,
		RiskRejections:     n,
		AlertsSent:         n,
		ClockResyncs:       n,
	}
}
