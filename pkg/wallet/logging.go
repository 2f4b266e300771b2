package wallet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SessionOption configures a Session instance.
type SessionOption func(*Session)

// OperationLogger records domain-level events emitted by Session operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing wallet operation.
type OperationLog struct {
	Operation     string
	UserID        UserID
	TransactionID TransactionID
	Amount        decimal.Decimal
	Points        int64
	// Count is the number of records touched, used by sweeps.
	Count  int
	Detail string
	Status string
	Error  error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) SessionOption {
	return func(session *Session) {
		session.logger = logger
	}
}

// WithNotifier wires the sink for user-facing messages.
func WithNotifier(notifier Notifier) SessionOption {
	return func(session *Session) {
		session.notifier = notifier
	}
}

// WithBonusStaging wires the staging area consulted by the signup bonus settler on bind.
func WithBonusStaging(staging BonusStaging) SessionOption {
	return func(session *Session) {
		session.staging = staging
	}
}

// WithSweepInterval sets the background sweep cadence. Zero disables the background sweeper.
func WithSweepInterval(interval time.Duration) SessionOption {
	return func(session *Session) {
		session.sweepInterval = interval
	}
}

// WithMaturityWindow sets how long pending transactions wait before completing.
func WithMaturityWindow(window time.Duration) SessionOption {
	return func(session *Session) {
		session.maturityWindow = window
	}
}

// WithTransactionIDGenerator replaces the UUIDv7 generator.
func WithTransactionIDGenerator(generate func() (TransactionID, error)) SessionOption {
	return func(session *Session) {
		session.generateID = generate
	}
}
