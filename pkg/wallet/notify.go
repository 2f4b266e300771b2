package wallet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// NotificationKind classifies user-facing wallet messages.
type NotificationKind string

const (
	NotificationBalanceUpdated      NotificationKind = "balance_updated"
	NotificationInsufficientFunds   NotificationKind = "insufficient_funds"
	NotificationBonusReceived       NotificationKind = "bonus_received"
	NotificationWithdrawalCompleted NotificationKind = "withdrawal_completed"
)

// Notification is a fire-and-forget message for the presentation layer.
type Notification struct {
	Kind    NotificationKind
	UserID  UserID
	Message string
	Amount  decimal.Decimal
	Points  int64
	Count   int
	At      time.Time
}

// Notifier receives wallet notifications. Implementations must not call back into the Session.
type Notifier interface {
	Notify(ctx context.Context, notification Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}
