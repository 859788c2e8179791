// Package metrics exposes the bridge's Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatbridge"

// Label values for inbound outcomes.
const (
	InboundDelivered    = "delivered"
	InboundMetadataOnly = "metadata_only"
	InboundSkipped      = "skipped"
)

// Label values for attachment outcomes.
const (
	AttachmentSaved    = "saved"
	AttachmentTooLarge = "too_large"
	AttachmentFailed   = "failed"
)

// Label values for agent run outcomes.
const (
	AgentRunOK       = "ok"
	AgentRunFailed   = "failed"
	AgentRunRejected = "rejected"
)

// Metrics owns a private registry and the counters recorded by channels and
// the inbound pipeline. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	outboundFailures *prometheus.CounterVec
	inbound          *prometheus.CounterVec
	attachments      *prometheus.CounterVec
	interactions     *prometheus.CounterVec
	agentRuns        *prometheus.CounterVec
}

// New creates the counters and registers them with a fresh registry that
// also carries the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}
	m.outboundFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbound_failures_total",
		Help:      "Outbound sends that failed at the platform.",
	}, []string{"channel", "kind"})
	m.inbound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_events_total",
		Help:      "Inbound platform events by outcome.",
	}, []string{"outcome"})
	m.attachments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_attachments_total",
		Help:      "Inbound attachments by download outcome.",
	}, []string{"outcome"})
	m.interactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "interactions_total",
		Help:      "Component interactions by kind and whether they were delivered.",
	}, []string{"kind", "delivered"})
	m.agentRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_runs_total",
		Help:      "Agent backend runs by source (message, task) and outcome.",
	}, []string{"source", "outcome"})
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.outboundFailures,
		m.inbound,
		m.attachments,
		m.interactions,
		m.agentRuns,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OutboundFailed counts a failed send of kind (text, file, components, typing).
func (m *Metrics) OutboundFailed(channel, kind string) {
	if m == nil {
		return
	}
	m.outboundFailures.WithLabelValues(channel, kind).Inc()
}

// Inbound counts an inbound event outcome.
func (m *Metrics) Inbound(outcome string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(outcome).Inc()
}

// Attachment counts an attachment download outcome.
func (m *Metrics) Attachment(outcome string) {
	if m == nil {
		return
	}
	m.attachments.WithLabelValues(outcome).Inc()
}

// Interaction counts a component interaction.
func (m *Metrics) Interaction(kind string, delivered bool) {
	if m == nil {
		return
	}
	label := "false"
	if delivered {
		label = "true"
	}
	m.interactions.WithLabelValues(kind, label).Inc()
}

// AgentRun counts an agent backend run.
func (m *Metrics) AgentRun(source, outcome string) {
	if m == nil {
		return
	}
	m.agentRuns.WithLabelValues(source, outcome).Inc()
}
