package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Session holds one user's wallet at a time and is the only write path to it.
type Session struct {
	// bindMu serializes identity changes; mu guards wallet state.
	bindMu sync.Mutex
	mu     sync.Mutex

	store          Store
	nowFn          func() time.Time
	logger         OperationLogger
	notifier       Notifier
	staging        BonusStaging
	sweepInterval  time.Duration
	maturityWindow time.Duration
	generateID     func() (TransactionID, error)

	userID               UserID
	initialized          bool
	generation           uint64
	balance              decimal.Decimal
	transactions         []Transaction
	signupBonusProcessed bool
	sweeper              *Sweeper
}

// NewSession wires an unbound Session.
func NewSession(store Store, now func() time.Time, options ...SessionOption) (*Session, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	session := &Session{
		store:          store,
		nowFn:          now,
		notifier:       nopNotifier{},
		sweepInterval:  DefaultSweepInterval,
		maturityWindow: DefaultMaturityWindow,
		generateID:     GenerateTransactionID,
		balance:        decimal.Zero,
	}
	for _, option := range options {
		if option != nil {
			option(session)
		}
	}
	if session.notifier == nil {
		session.notifier = nopNotifier{}
	}
	if session.generateID == nil {
		return nil, fmt.Errorf("%w: id generator is nil", ErrInvalidServiceConfig)
	}
	if session.maturityWindow < 0 || session.sweepInterval < 0 {
		return nil, fmt.Errorf("%w: durations must not be negative", ErrInvalidServiceConfig)
	}
	return session, nil
}

// Bind tears down the current identity and loads userID's wallet.
// Once loaded it starts the sweeper and runs the signup bonus settler.
func (session *Session) Bind(ctx context.Context, userID UserID) error {
	session.bindMu.Lock()
	defer session.bindMu.Unlock()
	return session.bindLocked(ctx, userID)
}

// EnsureBound binds userID unless it is already the bound identity.
func (session *Session) EnsureBound(ctx context.Context, userID UserID) error {
	session.bindMu.Lock()
	defer session.bindMu.Unlock()
	session.mu.Lock()
	alreadyBound := session.initialized && session.userID == userID
	session.mu.Unlock()
	if alreadyBound {
		return nil
	}
	return session.bindLocked(ctx, userID)
}

// Unbind clears all wallet state and stops the sweeper.
func (session *Session) Unbind(ctx context.Context) {
	session.bindMu.Lock()
	defer session.bindMu.Unlock()
	previousUser := session.teardown()
	if previousUser.IsZero() {
		return
	}
	session.logOperation(ctx, OperationLog{Operation: operationUnbind, UserID: previousUser})
}

func (session *Session) bindLocked(ctx context.Context, userID UserID) error {
	if userID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	session.teardown()

	snapshot, err := session.store.LoadWallet(ctx, userID)
	if err != nil {
		session.logOperation(ctx, OperationLog{Operation: operationBind, UserID: userID, Error: err})
		return err
	}

	session.mu.Lock()
	session.generation++
	session.userID = userID
	session.balance = snapshot.Balance
	session.transactions = append([]Transaction(nil), snapshot.Transactions...)
	session.signupBonusProcessed = snapshot.SignupBonusProcessed
	session.initialized = true
	if session.sweepInterval > 0 {
		session.sweeper = startSweeper(ctx, session, session.generation, session.sweepInterval)
	}
	session.mu.Unlock()

	session.logOperation(ctx, OperationLog{
		Operation: operationBind,
		UserID:    userID,
		Amount:    snapshot.Balance,
		Count:     len(snapshot.Transactions),
	})

	if session.staging != nil {
		// Settlement failures are recorded by the operation logger and never fail the bind.
		_, _ = session.SettleSignupBonus(ctx)
	}
	return nil
}

// teardown resets state and stops the sweeper outside the state lock.
func (session *Session) teardown() UserID {
	session.mu.Lock()
	previousUser := session.userID
	previousSweeper := session.sweeper
	session.generation++
	session.userID = UserID{}
	session.initialized = false
	session.balance = decimal.Zero
	session.transactions = nil
	session.signupBonusProcessed = false
	session.sweeper = nil
	session.mu.Unlock()
	if previousSweeper != nil {
		previousSweeper.Stop()
	}
	return previousUser
}

// UserID returns the bound identity.
func (session *Session) UserID() (UserID, bool) {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.userID, session.initialized
}

// Balance returns the bound user's balance.
func (session *Session) Balance() (decimal.Decimal, error) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.initialized {
		return decimal.Zero, ErrSessionUnbound
	}
	return session.balance, nil
}

// Points returns the live points projection of the balance.
func (session *Session) Points() (int64, error) {
	balance, err := session.Balance()
	if err != nil {
		return 0, err
	}
	return PointsFromAmount(balance), nil
}

// Transactions returns a copy of the log, newest first.
func (session *Session) Transactions() ([]Transaction, error) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.initialized {
		return nil, ErrSessionUnbound
	}
	return append([]Transaction(nil), session.transactions...), nil
}

// Snapshot returns a consistent copy of the bound wallet.
func (session *Session) Snapshot() (Snapshot, error) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.initialized {
		return Snapshot{}, ErrSessionUnbound
	}
	return Snapshot{
		UserID:               session.userID,
		Balance:              session.balance,
		Transactions:         append([]Transaction(nil), session.transactions...),
		SignupBonusProcessed: session.signupBonusProcessed,
	}, nil
}

// Credit adds amount to the balance.
func (session *Session) Credit(ctx context.Context, amount decimal.Decimal) error {
	return session.changeBalance(ctx, operationCredit, amount, PointsFromAmount(amount), func(current decimal.Decimal) (decimal.Decimal, error) {
		return current.Add(amount), nil
	})
}

// Debit subtracts amount, failing with *InsufficientFundsError when the balance is too small.
func (session *Session) Debit(ctx context.Context, amount decimal.Decimal) error {
	return session.changeBalance(ctx, operationDebit, amount, PointsFromAmount(amount), func(current decimal.Decimal) (decimal.Decimal, error) {
		if amount.GreaterThan(current) {
			return decimal.Zero, &InsufficientFundsError{Requested: amount, Available: current}
		}
		return current.Sub(amount), nil
	})
}

// CreditPoints credits points/1000 currency units.
func (session *Session) CreditPoints(ctx context.Context, points int64) error {
	if err := requirePositivePoints(points); err != nil {
		return err
	}
	amount := AmountFromPoints(points)
	return session.changeBalance(ctx, operationCreditPoints, amount, points, func(current decimal.Decimal) (decimal.Decimal, error) {
		return current.Add(amount), nil
	})
}

// DebitPoints debits points/1000 currency units after checking the live points projection.
func (session *Session) DebitPoints(ctx context.Context, points int64) error {
	if err := requirePositivePoints(points); err != nil {
		return err
	}
	amount := AmountFromPoints(points)
	return session.changeBalance(ctx, operationDebitPoints, amount, points, func(current decimal.Decimal) (decimal.Decimal, error) {
		// Sub-point balances can pass the points check yet miss the exact amount.
		if points > PointsFromAmount(current) || amount.GreaterThan(current) {
			return decimal.Zero, &InsufficientFundsError{Requested: amount, Available: current}
		}
		return current.Sub(amount), nil
	})
}

// RecordTransaction prepends a log entry without touching the balance.
func (session *Session) RecordTransaction(ctx context.Context, input TransactionInput) (Transaction, error) {
	var transaction Transaction
	var userID UserID
	operationError := input.Validate()
	if operationError == nil {
		session.mu.Lock()
		userID = session.userID
		transaction, operationError = session.appendLocked(ctx, input, nil)
		session.mu.Unlock()
	}
	session.logOperation(ctx, OperationLog{
		Operation:     operationRecord,
		UserID:        userID,
		TransactionID: transaction.ID,
		Amount:        input.Amount,
		Points:        input.Points,
		Detail:        input.Type.String(),
		Error:         operationError,
	})
	return transaction, operationError
}

// InitiateWithdrawal decrements the balance and records a pending withdrawal.
// Callers must have verified funds beforehand; no sufficiency check happens here.
func (session *Session) InitiateWithdrawal(ctx context.Context, amount decimal.Decimal, description string) (Transaction, error) {
	return session.withdraw(ctx, operationWithdraw, amount, description, false)
}

// WithdrawChecked verifies funds and records the pending withdrawal in one step.
func (session *Session) WithdrawChecked(ctx context.Context, amount decimal.Decimal, description string) (Transaction, error) {
	return session.withdraw(ctx, operationWithdrawChecked, amount, description, true)
}

func (session *Session) withdraw(ctx context.Context, operation string, amount decimal.Decimal, description string, checked bool) (Transaction, error) {
	var transaction Transaction
	var userID UserID
	var updated decimal.Decimal
	operationError := requirePositiveAmount(amount)
	if operationError == nil {
		session.mu.Lock()
		userID = session.userID
		transaction, updated, operationError = session.withdrawLocked(ctx, amount, description, checked)
		session.mu.Unlock()
	}
	session.logOperation(ctx, OperationLog{
		Operation:     operation,
		UserID:        userID,
		TransactionID: transaction.ID,
		Amount:        amount,
		Points:        transaction.Points,
		Error:         operationError,
	})
	session.notifyOutcome(ctx, userID, amount, updated, operationError)
	return transaction, operationError
}

func (session *Session) withdrawLocked(ctx context.Context, amount decimal.Decimal, description string, checked bool) (Transaction, decimal.Decimal, error) {
	if !session.initialized {
		return Transaction{}, decimal.Zero, ErrSessionUnbound
	}
	if checked && amount.GreaterThan(session.balance) {
		return Transaction{}, decimal.Zero, &InsufficientFundsError{Requested: amount, Available: session.balance}
	}
	updated := session.balance.Sub(amount)
	if err := requireProjectable(updated); err != nil {
		return Transaction{}, decimal.Zero, err
	}
	transaction, err := session.appendLocked(ctx, TransactionInput{
		Type:        TransactionWithdraw,
		Description: description,
		Amount:      amount.Neg(),
		Points:      SignedPoints(amount.Neg()),
		Status:      TransactionPending,
	}, &updated)
	if err != nil {
		return Transaction{}, decimal.Zero, err
	}
	return transaction, updated, nil
}

// appendLocked persists a new transaction, and the balance when updatedBalance is set,
// in one store transaction before touching memory.
func (session *Session) appendLocked(ctx context.Context, input TransactionInput, updatedBalance *decimal.Decimal) (Transaction, error) {
	if !session.initialized {
		return Transaction{}, ErrSessionUnbound
	}
	transaction, err := session.newTransaction(input)
	if err != nil {
		return Transaction{}, err
	}
	userID := session.userID
	err = session.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if updatedBalance != nil {
			if err := transactionStore.SaveBalance(ctx, userID, *updatedBalance); err != nil {
				return err
			}
		}
		return transactionStore.InsertTransaction(ctx, userID, transaction)
	})
	if err != nil {
		return Transaction{}, err
	}
	if updatedBalance != nil {
		session.balance = *updatedBalance
	}
	session.prependLocked(transaction)
	return transaction, nil
}

func (session *Session) newTransaction(input TransactionInput) (Transaction, error) {
	transactionID, err := session.generateID()
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		ID:          transactionID,
		Type:        input.Type,
		Description: input.Description,
		Amount:      input.Amount,
		Points:      input.Points,
		Status:      input.Status,
		Date:        session.nowFn(),
	}, nil
}

func (session *Session) prependLocked(transaction Transaction) {
	transactions := make([]Transaction, 0, len(session.transactions)+1)
	transactions = append(transactions, transaction)
	session.transactions = append(transactions, session.transactions...)
}

func (session *Session) changeBalance(ctx context.Context, operation string, amount decimal.Decimal, points int64, next func(current decimal.Decimal) (decimal.Decimal, error)) error {
	var userID UserID
	var updated decimal.Decimal
	operationError := requirePositiveAmount(amount)
	if operationError == nil {
		session.mu.Lock()
		userID = session.userID
		updated, operationError = session.saveBalanceLocked(ctx, next)
		session.mu.Unlock()
	}
	session.logOperation(ctx, OperationLog{
		Operation: operation,
		UserID:    userID,
		Amount:    amount,
		Points:    points,
		Error:     operationError,
	})
	session.notifyOutcome(ctx, userID, amount, updated, operationError)
	return operationError
}

func (session *Session) saveBalanceLocked(ctx context.Context, next func(current decimal.Decimal) (decimal.Decimal, error)) (decimal.Decimal, error) {
	if !session.initialized {
		return decimal.Zero, ErrSessionUnbound
	}
	updated, err := next(session.balance)
	if err != nil {
		return decimal.Zero, err
	}
	if err := requireProjectable(updated); err != nil {
		return decimal.Zero, err
	}
	userID := session.userID
	err = session.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.SaveBalance(ctx, userID, updated)
	})
	if err != nil {
		return decimal.Zero, err
	}
	session.balance = updated
	return updated, nil
}

func (session *Session) notifyOutcome(ctx context.Context, userID UserID, amount decimal.Decimal, updated decimal.Decimal, operationError error) {
	if operationError == nil {
		session.notify(ctx, Notification{
			Kind:    NotificationBalanceUpdated,
			UserID:  userID,
			Message: fmt.Sprintf("Balance updated: %s", updated.StringFixed(2)),
			Amount:  updated,
			Points:  PointsFromAmount(updated),
		})
		return
	}
	insufficient, ok := AsInsufficientFunds(operationError)
	if !ok {
		return
	}
	session.notify(ctx, Notification{
		Kind:    NotificationInsufficientFunds,
		UserID:  userID,
		Message: fmt.Sprintf("Insufficient funds: you need %s more", insufficient.Shortfall().String()),
		Amount:  insufficient.Shortfall(),
		Points:  insufficient.ShortfallPoints(),
	})
}

func (session *Session) notify(ctx context.Context, notification Notification) {
	if notification.At.IsZero() {
		notification.At = session.nowFn()
	}
	session.notifier.Notify(ctx, notification)
}

func (session *Session) logOperation(ctx context.Context, entry OperationLog) {
	if session.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	session.logger.LogOperation(ctx, entry)
}
