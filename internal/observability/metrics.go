package observability

// Metrics provides counter and gauge recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

// Counter and gauge names recorded across the engine.
const (
	MetricOrdersSubmitted  = "riskgate.orders.submitted"
	MetricOrdersRejected   = "riskgate.orders.rejected"
	MetricRiskRejections   = "riskgate.risk.rejections"
	MetricPaperFills       = "riskgate.paper.fills"
	MetricReconcileCycles  = "riskgate.reconcile.cycles"
	MetricReconcileRepairs = "riskgate.reconcile.repairs"
	MetricTradesClosed     = "riskgate.trades.closed"
	MetricMigrations       = "riskgate.db.migrations"
)

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

// Count is a convenience helper incrementing a counter by one.
func Count(name string, labels map[string]string) {
	defaultMetrics.IncCounter(name, 1, labels)
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)   {}
