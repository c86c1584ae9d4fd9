package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gateway_messages_dispatched_total", Help: "Outbound messages by type and outcome"},
		[]string{"type", "outcome"},
	)
	WebhookUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gateway_webhook_units_total", Help: "Processed webhook units by kind"},
		[]string{"kind"},
	)
	WebhookUnitsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "gateway_webhook_units_skipped_total", Help: "Webhook units skipped as malformed or unknown"},
	)
	TemplatesSynced = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "gateway_templates_synced_total", Help: "Local templates updated from the remote registry"},
	)
	CampaignJobsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "gateway_campaign_jobs_published_total", Help: "Campaign dispatch jobs published to the queue"},
	)
	CampaignJobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gateway_campaign_jobs_processed_total", Help: "Campaign dispatch jobs processed by outcome"},
		[]string{"outcome"},
	)
	GraphRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_graph_request_duration_seconds",
			Help:    "Duration of calls to the Graph API",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesDispatched, WebhookUnits, WebhookUnitsSkipped, TemplatesSynced,
		CampaignJobsPublished, CampaignJobsProcessed, GraphRequestDuration,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
