package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Orchestration core metrics, exposed on /metrics by the HTTP server.
var (
	WorkflowsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_workflows_started_total",
		Help: "Workflow instances started, by workflow type.",
	}, []string{"workflow_type"})

	WorkflowsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_workflows_finished_total",
		Help: "Workflow instances finished, by workflow type and outcome.",
	}, []string{"workflow_type", "outcome"})

	StepsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_workflow_steps_total",
		Help: "Workflow steps executed, by step type and outcome.",
	}, []string{"step_type", "outcome"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_events_published_total",
		Help: "Domain events published, by event type.",
	}, []string{"event_type"})

	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_events_processed_total",
		Help: "Domain events processed, by outcome.",
	}, []string{"outcome"})

	EventProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_event_processing_seconds",
		Help:    "Wall time spent processing a single event.",
		Buckets: prometheus.DefBuckets,
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_notifications_total",
		Help: "Notification delivery attempts, by channel and outcome.",
	}, []string{"channel", "outcome"})

	PriorityQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_priority_queue_depth",
		Help: "Events currently waiting in the high-priority dispatch queue.",
	})
)
