package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bunnymq"

// Metrics holds the collectors shared by every client registered on the
// same registry.
type Metrics struct {
	published  *prometheus.CounterVec
	pulled     *prometheus.CounterVec
	acked      *prometheus.CounterVec
	requeued   *prometheus.CounterVec
	reconnects *prometheus.CounterVec
	retries    *prometheus.CounterVec
	processing *prometheus.GaugeVec
}

// Queue is the set of metrics of one queue.
type Queue struct {
	Published  prometheus.Counter
	Pulled     prometheus.Counter
	Acked      prometheus.Counter
	Requeued   prometheus.Counter
	Reconnects prometheus.Counter
	Retries    prometheus.Counter
	Processing prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg keeps
// them unregistered. Collectors already present on reg are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		published:  counter("published_total", "Messages confirmed by the broker."),
		pulled:     counter("pulled_total", "Messages pulled from the queue."),
		acked:      counter("acked_total", "Messages acknowledged."),
		requeued:   counter("requeued_total", "Messages acknowledged and republished."),
		reconnects: counter("reconnects_total", "Sessions opened, including the first one."),
		retries:    counter("retries_total", "Broker operations retried after a transport failure."),
		processing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processing",
			Help:      "1 while a pulled message is neither acknowledged nor requeued.",
		}, []string{"queue"}),
	}

	if reg == nil {
		return m, nil
	}

	var err error
	if m.published, err = register(reg, m.published); err != nil {
		return nil, err
	}
	if m.pulled, err = register(reg, m.pulled); err != nil {
		return nil, err
	}
	if m.acked, err = register(reg, m.acked); err != nil {
		return nil, err
	}
	if m.requeued, err = register(reg, m.requeued); err != nil {
		return nil, err
	}
	if m.reconnects, err = register(reg, m.reconnects); err != nil {
		return nil, err
	}
	if m.retries, err = register(reg, m.retries); err != nil {
		return nil, err
	}
	if m.processing, err = register(reg, m.processing); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) For(queue string) *Queue {
	return &Queue{
		Published:  m.published.WithLabelValues(queue),
		Pulled:     m.pulled.WithLabelValues(queue),
		Acked:      m.acked.WithLabelValues(queue),
		Requeued:   m.requeued.WithLabelValues(queue),
		Reconnects: m.reconnects.WithLabelValues(queue),
		Retries:    m.retries.WithLabelValues(queue),
		Processing: m.processing.WithLabelValues(queue),
	}
}

func counter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, []string{"queue"})
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}

	return c, fmt.Errorf("reg.Register: %w", err)
}
