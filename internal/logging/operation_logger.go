package logging

import (
	"context"

	"github.com/MarkoPoloResearchLab/accountledger/pkg/ledger"
	"go.uber.org/zap"
)

// ZapOperationLogger writes one structured line per ledger operation.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger; a nil logger discards everything.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger.Named("ledger")}
}

func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.AccountID.IsZero() {
		fields = append(fields, zap.Int64("account_id", entry.AccountID.Int64()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.Kind != "" {
		fields = append(fields, zap.String("kind", entry.Kind))
	}
	switch {
	case entry.Error != nil:
		fields = append(fields,
			zap.String("error_kind", string(ledger.KindOf(entry.Error))),
			zap.String("reason", string(ledger.ReasonOf(entry.Error))),
			zap.Error(entry.Error),
		)
		if ledger.KindOf(entry.Error) == ledger.KindInternal {
			operationLogger.logger.Error("ledger operation failed", fields...)
			return
		}
		operationLogger.logger.Warn("ledger operation rejected", fields...)
	case entry.Status == ledger.StatusOverdraft:
		operationLogger.logger.Warn("ledger operation overdrew balance", fields...)
	default:
		operationLogger.logger.Info("ledger operation", fields...)
	}
}
