package metrics

import (
	"context"

	"github.com/MarkoPoloResearchLab/accountledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
)

// OperationMetrics counts ledger operations and the cents they move.
type OperationMetrics struct {
	operations *prometheus.CounterVec
	amounts    *prometheus.CounterVec
	rejections *prometheus.CounterVec
}

// NewOperationMetrics registers the ledger collectors with registerer (the default registerer when nil).
func NewOperationMetrics(registerer prometheus.Registerer) (*OperationMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountledger_operations_total",
		Help: "Ledger operations by name and outcome.",
	}, []string{"operation", "status"})
	amounts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountledger_amount_cents_total",
		Help: "Cents moved by successful charge and pay operations.",
	}, []string{"operation", "kind"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountledger_operation_errors_total",
		Help: "Failed ledger operations by error kind and reason.",
	}, []string{"operation", "kind", "reason"})
	for _, collector := range []prometheus.Collector{operations, amounts, rejections} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return &OperationMetrics{operations: operations, amounts: amounts, rejections: rejections}, nil
}

func (metrics *OperationMetrics) LogOperation(_ context.Context, entry ledger.OperationLog) {
	metrics.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Error != nil {
		metrics.rejections.WithLabelValues(entry.Operation, string(ledger.KindOf(entry.Error)), string(ledger.ReasonOf(entry.Error))).Inc()
		return
	}
	if entry.Amount > 0 {
		metrics.amounts.WithLabelValues(entry.Operation, entry.Kind).Add(float64(entry.Amount.Int64()))
	}
}
