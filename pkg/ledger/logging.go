package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation string
	AccountID AccountID
	Amount    AmountCents
	Kind      string
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
// Passing several loggers fans each entry out to all of them in order.
func WithOperationLogger(loggers ...OperationLogger) ServiceOption {
	return func(service *Service) {
		for _, logger := range loggers {
			if logger != nil {
				service.loggers = append(service.loggers, logger)
			}
		}
	}
}
