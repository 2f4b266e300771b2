// Package oplog adapts wallet operation callbacks to structured logs.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/rewardwallet/pkg/wallet"
	"go.uber.org/zap"
)

const statusError = "error"

// ZapLogger writes wallet operations through zap.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger returns a ZapLogger; a nil logger is replaced by a no-op one.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("wallet")}
}

// LogOperation logs successes at info and failures at warn.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry wallet.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("user_id", entry.UserID.String()),
	}
	if transactionID := entry.TransactionID.String(); transactionID != "" {
		fields = append(fields, zap.String("transaction_id", transactionID))
	}
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	if entry.Points != 0 {
		fields = append(fields, zap.Int64("points", entry.Points))
	}
	if entry.Count != 0 {
		fields = append(fields, zap.Int("count", entry.Count))
	}
	if entry.Detail != "" {
		fields = append(fields, zap.String("detail", entry.Detail))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		if code := wallet.FailureCode(entry.Error); code != "" {
			fields = append(fields, zap.String("failure_code", code))
		}
	}
	if entry.Status == statusError {
		zapLogger.logger.Warn("wallet operation failed", fields...)
		return
	}
	zapLogger.logger.Info("wallet operation", fields...)
}

// Fanout forwards each entry to every wrapped logger in order.
type Fanout []wallet.OperationLogger

// LogOperation implements wallet.OperationLogger.
func (fanout Fanout) LogOperation(ctx context.Context, entry wallet.OperationLog) {
	for _, logger := range fanout {
		if logger != nil {
			logger.LogOperation(ctx, entry)
		}
	}
}
