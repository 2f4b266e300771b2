package wallet

import (
	"context"
	"fmt"
)

// SettlementOutcome describes what a settler run did.
type SettlementOutcome string

const (
	SettlementCredited         SettlementOutcome = "credited"
	SettlementAlreadyProcessed SettlementOutcome = "already_processed"
	SettlementNoPayload        SettlementOutcome = "no_payload"
	SettlementForeignPayload   SettlementOutcome = "foreign_payload"
	SettlementMalformedPayload SettlementOutcome = "malformed_payload"
)

// SettleSignupBonus credits a staged signup bonus at most once per user.
// Malformed payloads are discarded and reported through the operation logger only.
func (session *Session) SettleSignupBonus(ctx context.Context) (SettlementOutcome, error) {
	session.mu.Lock()
	userID := session.userID
	result := session.settleLocked(ctx)
	session.mu.Unlock()

	logEntry := OperationLog{
		Operation:     operationSettleBonus,
		UserID:        userID,
		TransactionID: result.transaction.ID,
		Amount:        result.transaction.Amount,
		Points:        result.transaction.Points,
		Detail:        string(result.outcome),
		Error:         result.err,
	}
	if logEntry.Error == nil {
		logEntry.Error = result.diagnostic
	}
	session.logOperation(ctx, logEntry)
	if result.err != nil {
		return result.outcome, result.err
	}
	if result.outcome == SettlementCredited {
		session.notify(ctx, Notification{
			Kind:    NotificationBonusReceived,
			UserID:  userID,
			Message: fmt.Sprintf("%s: %s credited", result.transaction.Description, result.transaction.Amount.String()),
			Amount:  result.transaction.Amount,
			Points:  result.transaction.Points,
		})
	}
	return result.outcome, nil
}

type settlementResult struct {
	outcome     SettlementOutcome
	transaction Transaction
	// diagnostic is logged but not returned.
	diagnostic error
	err        error
}

func (session *Session) settleLocked(ctx context.Context) settlementResult {
	if !session.initialized {
		return settlementResult{err: ErrSessionUnbound}
	}
	if session.signupBonusProcessed {
		return settlementResult{outcome: SettlementAlreadyProcessed}
	}
	if session.staging == nil {
		return settlementResult{outcome: SettlementNoPayload}
	}
	raw, found, err := session.staging.Load(ctx)
	if err != nil {
		return settlementResult{err: err}
	}
	if !found {
		return settlementResult{outcome: SettlementNoPayload}
	}
	payload, parseError := ParseBonusPayload(raw)
	if parseError != nil {
		if err := session.staging.Clear(ctx); err != nil {
			return settlementResult{outcome: SettlementMalformedPayload, err: err}
		}
		return settlementResult{outcome: SettlementMalformedPayload, diagnostic: parseError}
	}
	if payload.UserID != session.userID {
		return settlementResult{outcome: SettlementForeignPayload}
	}

	total := payload.Total()
	transaction, err := session.newTransaction(TransactionInput{
		Type:        TransactionEarn,
		Description: payload.Description(),
		Amount:      total,
		Points:      PointsFromAmount(total),
		Status:      TransactionCompleted,
	})
	if err != nil {
		return settlementResult{err: err}
	}
	userID := session.userID
	updated := session.balance.Add(total)
	if err := requireProjectable(updated); err != nil {
		return settlementResult{err: err}
	}
	err = session.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.SaveBalance(ctx, userID, updated); err != nil {
			return err
		}
		if err := transactionStore.InsertTransaction(ctx, userID, transaction); err != nil {
			return err
		}
		return transactionStore.MarkSignupBonusProcessed(ctx, userID)
	})
	if err != nil {
		return settlementResult{err: err}
	}
	session.balance = updated
	session.prependLocked(transaction)
	session.signupBonusProcessed = true

	result := settlementResult{outcome: SettlementCredited, transaction: transaction}
	// The processed flag already blocks a replay, so a failed clear is only reported.
	if err := session.staging.Clear(ctx); err != nil {
		result.diagnostic = err
	}
	return result
}

// SignupBonusProcessed reports the cached processed flag for the bound user.
func (session *Session) SignupBonusProcessed() (bool, error) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.initialized {
		return false, ErrSessionUnbound
	}
	return session.signupBonusProcessed, nil
}
