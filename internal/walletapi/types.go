package walletapi

import (
	"time"

	"github.com/MarkoPoloResearchLab/rewardwallet/pkg/wallet"
	"github.com/shopspring/decimal"
)

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type pointsRequest struct {
	Points int64 `json:"points"`
}

type transactionRequest struct {
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Points      int64           `json:"points"`
	Status      string          `json:"status"`
}

type withdrawalRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type signupBonusRequest struct {
	BaseBonus     decimal.Decimal `json:"baseBonus"`
	ReferralBonus decimal.Decimal `json:"referralBonus"`
	ReferralCode  string          `json:"referralCode"`
}

type walletPayload struct {
	UserID               string               `json:"user_id"`
	Balance              string               `json:"balance"`
	Points               int64                `json:"points"`
	SignupBonusProcessed bool                 `json:"signup_bonus_processed"`
	Transactions         []transactionPayload `json:"transactions"`
}

type transactionPayload struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Amount      string    `json:"amount"`
	Points      int64     `json:"points"`
	Status      string    `json:"status"`
	Date        time.Time `json:"date"`
}

type notificationPayload struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	Amount  string    `json:"amount"`
	Points  int64     `json:"points"`
	Count   int       `json:"count,omitempty"`
	At      time.Time `json:"at"`
}

func newWalletPayload(snapshot wallet.Snapshot) walletPayload {
	transactions := make([]transactionPayload, 0, len(snapshot.Transactions))
	for _, transaction := range snapshot.Transactions {
		transactions = append(transactions, newTransactionPayload(transaction))
	}
	return walletPayload{
		UserID:               snapshot.UserID.String(),
		Balance:              snapshot.Balance.String(),
		Points:               wallet.PointsFromAmount(snapshot.Balance),
		SignupBonusProcessed: snapshot.SignupBonusProcessed,
		Transactions:         transactions,
	}
}

func newTransactionPayload(transaction wallet.Transaction) transactionPayload {
	return transactionPayload{
		ID:          transaction.ID.String(),
		Type:        transaction.Type.String(),
		Description: transaction.Description,
		Amount:      transaction.Amount.String(),
		Points:      transaction.Points,
		Status:      transaction.Status.String(),
		Date:        transaction.Date.UTC(),
	}
}

func newNotificationPayloads(notifications []wallet.Notification) []notificationPayload {
	payloads := make([]notificationPayload, 0, len(notifications))
	for _, notification := range notifications {
		payloads = append(payloads, notificationPayload{
			Kind:    string(notification.Kind),
			Message: notification.Message,
			Amount:  notification.Amount.String(),
			Points:  notification.Points,
			Count:   notification.Count,
			At:      notification.At.UTC(),
		})
	}
	return payloads
}
