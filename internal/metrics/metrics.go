package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TouchpointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fue_touchpoints_total",
			Help: "Touchpoints recorded by channel and direction",
		},
		[]string{"channel", "direction"}, // sms|call|whatsapp|email , inbound|outbound
	)

	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fue_dispatch_total",
			Help: "Step dispatch outcomes by channel",
		},
		[]string{"channel", "outcome"}, // sent|failed|skipped
	)

	RunTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fue_run_transitions_total",
			Help: "Automation run lifecycle transitions",
		},
		[]string{"status"}, // activated|ongoing|completed|answer_received|disabled
	)

	InboundDedupedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fue_inbound_deduped_total",
			Help: "Inbound events dropped as external_id replays",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		TouchpointsTotal,
		DispatchTotal,
		RunTransitionsTotal,
		InboundDedupedTotal,
	)
}
