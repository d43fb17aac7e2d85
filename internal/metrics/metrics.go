package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_decisions_total",
			Help: "Policy decider outcomes by route",
		},
		[]string{"route"}, // suppress|immediate|digest
	)

	OutboxJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_outbox_jobs_total",
			Help: "Outbox job lifecycle counter by stage",
		},
		[]string{"stage"}, // queued|sent|retried|failed|bounced
	)

	DigestRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_digests_total",
			Help: "Digest aggregation outcomes per subscription",
		},
		[]string{"result"}, // sent|skipped|failed
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		DecisionsTotal,
		OutboxJobsTotal,
		DigestRunsTotal,
	)
}
