package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "bn_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{
		Evaluations:        promCounter{counter("evaluations_total", "Total number of hedge evaluations.")},
		Imbalances:         promCounter{counter("imbalances_total", "Total number of imbalanced classifications.")},
		OrdersPlanned:      promCounter{counter("orders_planned_total", "Total number of corrective orders planned.")},
		OrdersPlaced:       promCounter{counter("orders_placed_total", "Total number of corrective orders placed.")},
		OrdersFailed:       promCounter{counter("orders_failed_total", "Total number of order placement failures.")},
		PlansRejected:      promCounter{counter("plans_rejected_total", "Total number of plans rejected by exchange rules.")},
		ValidationTimeouts: promCounter{counter("validation_timeouts_total", "Total number of validation loops that timed out.")},
		RiskRejections:     promCounter{counter("risk_rejections_total", "Total number of trades rejected by the risk gate.")},
		AlertsSent:         promCounter{counter("alerts_sent_total", "Total number of notifications sent.")},
		ClockResyncs:       promCounter{counter("clock_resyncs_total", "Total number of clock offset resyncs.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
