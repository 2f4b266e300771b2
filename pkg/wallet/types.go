package wallet

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	halfPoint = decimal.New(5, -1)
	maxPoints = decimal.NewFromInt(math.MaxInt64)
	minPoints = decimal.NewFromInt(math.MinInt64)
)

// UserID identifies the wallet owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// TransactionID identifies a transaction.
type TransactionID struct {
	value string
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// GenerateTransactionID returns a time-ordered UUIDv7 identifier.
func GenerateTransactionID() (TransactionID, error) {
	generated, err := uuid.NewV7()
	if err != nil {
		return TransactionID{}, fmt.Errorf("%w: %v", ErrInvalidTransactionID, err)
	}
	return TransactionID{value: generated.String()}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// TransactionType enumerates transaction kinds.
type TransactionType string

const (
	TransactionEarn       TransactionType = "earn"
	TransactionWithdraw   TransactionType = "withdraw"
	TransactionRedeem     TransactionType = "redeem"
	TransactionReferral   TransactionType = "referral"
	TransactionConversion TransactionType = "conversion"
)

// ParseTransactionType validates a stored or requested transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(strings.TrimSpace(raw)) {
	case TransactionEarn:
		return TransactionEarn, nil
	case TransactionWithdraw:
		return TransactionWithdraw, nil
	case TransactionRedeem:
		return TransactionRedeem, nil
	case TransactionReferral:
		return TransactionReferral, nil
	case TransactionConversion:
		return TransactionConversion, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
	}
}

// String returns the type name.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// TransactionStatus defines the transaction lifecycle.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// ParseTransactionStatus validates a stored or requested status.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(strings.TrimSpace(raw)) {
	case TransactionPending:
		return TransactionPending, nil
	case TransactionCompleted:
		return TransactionCompleted, nil
	case TransactionFailed:
		return TransactionFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, raw)
	}
}

// String returns the status name.
func (status TransactionStatus) String() string {
	return string(status)
}

// CanTransitionTo reports whether status may move to next. Only pending entries settle.
func (status TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if status != TransactionPending {
		return false
	}
	return next == TransactionCompleted || next == TransactionFailed
}

// Transaction is a single log record. Only Status changes after creation.
type Transaction struct {
	ID          TransactionID
	Type        TransactionType
	Description string
	Amount      decimal.Decimal
	// Points is a snapshot taken at creation and never feeds back into the balance.
	Points int64
	Status TransactionStatus
	Date   time.Time
}

// TransactionInput carries caller-provided fields for RecordTransaction.
type TransactionInput struct {
	Type        TransactionType
	Description string
	Amount      decimal.Decimal
	Points      int64
	Status      TransactionStatus
}

// Validate checks the enumerated fields and that Points matches Amount.
func (input TransactionInput) Validate() error {
	if _, err := ParseTransactionType(input.Type.String()); err != nil {
		return err
	}
	if _, err := ParseTransactionStatus(input.Status.String()); err != nil {
		return err
	}
	if err := requireProjectable(input.Amount); err != nil {
		return err
	}
	if expected := SignedPoints(input.Amount); input.Points != expected {
		return fmt.Errorf("%w: %d does not match amount %s (want %d)", ErrInvalidPoints, input.Points, input.Amount.String(), expected)
	}
	return nil
}

// Snapshot is the persisted state of one user's wallet.
type Snapshot struct {
	UserID               UserID
	Balance              decimal.Decimal
	Transactions         []Transaction
	SignupBonusProcessed bool
}

// Store is the persistence contract used by Session.
// Transactions are returned newest first.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	LoadWallet(ctx context.Context, userID UserID) (Snapshot, error)
	SaveBalance(ctx context.Context, userID UserID, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, userID UserID, transaction Transaction) error
	UpdateTransactionStatus(ctx context.Context, userID UserID, transactionID TransactionID, from, to TransactionStatus) error
	MarkSignupBonusProcessed(ctx context.Context, userID UserID) error
}

// PointsFromAmount projects a currency amount onto points, rounding half up.
func PointsFromAmount(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(pointsPerUnit)).Add(halfPoint).Floor().IntPart()
}

// SignedPoints projects a transaction amount onto points, rounding the magnitude half up
// so that a debit of x carries exactly the negated points of a credit of x.
func SignedPoints(amount decimal.Decimal) int64 {
	if amount.IsNegative() {
		return -PointsFromAmount(amount.Neg())
	}
	return PointsFromAmount(amount)
}

// AmountFromPoints converts points back into an exact currency amount.
func AmountFromPoints(points int64) decimal.Decimal {
	return decimal.New(points, -3)
}

func requirePositiveAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return requireProjectable(amount)
}

// requireProjectable rejects amounts whose points projection does not fit in int64.
func requireProjectable(amount decimal.Decimal) error {
	projected := amount.Mul(decimal.NewFromInt(pointsPerUnit)).Add(halfPoint).Floor()
	if projected.GreaterThan(maxPoints) || projected.LessThan(minPoints) {
		return fmt.Errorf("%w: %s is outside the points range", ErrInvalidAmount, amount.String())
	}
	return nil
}

func requirePositivePoints(points int64) error {
	if points <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidPoints)
	}
	return nil
}
