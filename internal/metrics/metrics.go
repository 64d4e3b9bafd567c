package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "muc"

// Collector: счётчики комнатных сессий. Реализует service.Metrics.
type Collector struct {
	reg *prometheus.Registry

	stanzasIn        *prometheus.CounterVec
	stanzasOut       *prometheus.CounterVec
	rosterSize       *prometheus.GaugeVec
	deliveryTimeouts *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		stanzasIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stanzas_in_total",
			Help:      "Inbound stanzas routed to a room session, by classified kind.",
		}, []string{"room", "kind"}),
		stanzasOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stanzas_out_total",
			Help:      "Stanzas sent by a room session, by element name.",
		}, []string{"room", "stanza"}),
		rosterSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "roster_size",
			Help:      "Number of members known in a room.",
		}, []string{"room"}),
		deliveryTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_timeouts_total",
			Help:      "Outgoing messages marked as failed after the delivery timeout.",
		}, []string{"room"}),
	}

	c.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.stanzasIn,
		c.stanzasOut,
		c.rosterSize,
		c.deliveryTimeouts,
	)
	return c
}

func (c *Collector) StanzaIn(room, kind string) {
	c.stanzasIn.WithLabelValues(room, kind).Inc()
}

func (c *Collector) StanzaOut(room, name string) {
	c.stanzasOut.WithLabelValues(room, name).Inc()
}

func (c *Collector) RosterSize(room string, n int) {
	c.rosterSize.WithLabelValues(room).Set(float64(n))
}

func (c *Collector) DeliveryTimeouts(room string, n int) {
	c.deliveryTimeouts.WithLabelValues(room).Add(float64(n))
}

// Forget убирает серии закрытой комнаты.
func (c *Collector) Forget(room string) {
	labels := prometheus.Labels{"room": room}
	c.stanzasIn.DeletePartialMatch(labels)
	c.stanzasOut.DeletePartialMatch(labels)
	c.rosterSize.DeletePartialMatch(labels)
	c.deliveryTimeouts.DeletePartialMatch(labels)
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler отдаёт метрики в формате Prometheus.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
