package wallet

import "time"

const (
	operationBind            = "bind"
	operationUnbind          = "unbind"
	operationCredit          = "credit"
	operationDebit           = "debit"
	operationCreditPoints    = "credit_points"
	operationDebitPoints     = "debit_points"
	operationRecord          = "record_transaction"
	operationWithdraw        = "initiate_withdrawal"
	operationWithdrawChecked = "withdraw_checked"
	operationSettleBonus     = "settle_signup_bonus"
	operationSweep           = "sweep_pending"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	pointsPerUnit = 1000

	welcomeBonusDescription        = "Welcome Bonus"
	welcomeReferralDescriptionForm = "Welcome Bonus + Referral (%s)"
)

const (
	// DefaultSweepInterval is how often the sweeper scans for matured pending transactions.
	DefaultSweepInterval = 10 * time.Second
	// DefaultMaturityWindow is how long a pending transaction waits before it completes.
	DefaultMaturityWindow = 2 * time.Minute
)
