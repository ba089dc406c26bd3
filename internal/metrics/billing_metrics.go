package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// Исходы операций для меток outcome
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// BillingMetrics интерфейс для метрик биллинга
type BillingMetrics interface {
	// IncOverageMutation считает изменения метрируемых позиций
	// (action: update, create, sidecar, delete)
	IncOverageMutation(resource, action, outcome string)
	ObserveOverageQuantity(resource string, quantity int64)
	IncPlanChange(kind, outcome string)
	IncWebhookEvent(eventType, outcome string)
	IncProviderError(operation string)
	AddCounterDrift(resource string, n int)
	IncNotification(outcome string)
}

type billingMetrics struct {
	log               *logger.Logger
	overageMutations  *prometheus.CounterVec
	overageQuantity   *prometheus.GaugeVec
	planChanges       *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	providerErrors    *prometheus.CounterVec
	counterDrift      *prometheus.CounterVec
	notificationsSent *prometheus.CounterVec
}

// NewBillingMetrics регистрирует метрики биллинга в registry
func NewBillingMetrics(registry *prometheus.Registry, log *logger.Logger) BillingMetrics {
	factory := promauto.With(registry)

	return &billingMetrics{
		log: log,
		overageMutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_overage_mutations_total",
				Help: "Metered overage item mutations by resource, action and outcome",
			},
			[]string{"resource", "action", "outcome"},
		),
		overageQuantity: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "billing_overage_last_quantity",
				Help: "Last overage quantity sent to the payment provider",
			},
			[]string{"resource"},
		),
		planChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_plan_changes_total",
				Help: "Plan change requests by classified kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_events_total",
				Help: "Payment provider webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		providerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_provider_errors_total",
				Help: "Failed payment provider calls by operation",
			},
			[]string{"operation"},
		),
		counterDrift: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_counter_drift_total",
				Help: "Resource counters corrected by recalculation",
			},
			[]string{"resource"},
		),
		notificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_invitation_notifications_total",
				Help: "Best-effort invitation notifications by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *billingMetrics) IncOverageMutation(resource, action, outcome string) {
	m.overageMutations.WithLabelValues(resource, action, outcome).Inc()
}

func (m *billingMetrics) ObserveOverageQuantity(resource string, quantity int64) {
	m.overageQuantity.WithLabelValues(resource).Set(float64(quantity))
}

func (m *billingMetrics) IncPlanChange(kind, outcome string) {
	m.planChanges.WithLabelValues(kind, outcome).Inc()
}

func (m *billingMetrics) IncWebhookEvent(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *billingMetrics) IncProviderError(operation string) {
	m.providerErrors.WithLabelValues(operation).Inc()
}

func (m *billingMetrics) AddCounterDrift(resource string, n int) {
	if n <= 0 {
		return
	}
	m.counterDrift.WithLabelValues(resource).Add(float64(n))
}

func (m *billingMetrics) IncNotification(outcome string) {
	m.notificationsSent.WithLabelValues(outcome).Inc()
}
