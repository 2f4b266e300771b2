package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Sweeper periodically promotes matured pending transactions for one bound generation.
type Sweeper struct {
	session    *Session
	generation uint64
	interval   time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
	stopOnce   sync.Once
}

// startSweeper runs the ticker loop detached from ctx cancellation; Stop ends it.
func startSweeper(ctx context.Context, session *Session, generation uint64, interval time.Duration) *Sweeper {
	runContext, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sweeper := &Sweeper{
		session:    session,
		generation: generation,
		interval:   interval,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go sweeper.run(runContext)
	return sweeper
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (sweeper *Sweeper) Stop() {
	sweeper.stopOnce.Do(func() {
		sweeper.cancel()
		<-sweeper.done
	})
}

func (sweeper *Sweeper) run(ctx context.Context) {
	defer close(sweeper.done)

	ticker := time.NewTicker(sweeper.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are reported through the operation logger; the next tick retries.
			_, _ = sweeper.session.sweep(ctx, sweeper.generation)
		}
	}
}

// SweepPendingWithdrawals runs one sweep for the bound user and returns how many
// transactions were completed.
func (session *Session) SweepPendingWithdrawals(ctx context.Context) (int, error) {
	session.mu.Lock()
	generation := session.generation
	initialized := session.initialized
	session.mu.Unlock()
	if !initialized {
		return 0, ErrSessionUnbound
	}
	return session.sweep(ctx, generation)
}

func (session *Session) sweep(ctx context.Context, generation uint64) (int, error) {
	session.mu.Lock()
	if !session.initialized || session.generation != generation {
		session.mu.Unlock()
		return 0, nil
	}
	userID := session.userID
	now := session.nowFn()
	matured := make([]int, 0)
	for index, transaction := range session.transactions {
		if transaction.Status != TransactionPending {
			continue
		}
		if now.Sub(transaction.Date) >= session.maturityWindow {
			matured = append(matured, index)
		}
	}
	if len(matured) == 0 {
		session.mu.Unlock()
		return 0, nil
	}
	err := session.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		for _, index := range matured {
			transactionID := session.transactions[index].ID
			if err := transactionStore.UpdateTransactionStatus(ctx, userID, transactionID, TransactionPending, TransactionCompleted); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		for _, index := range matured {
			session.transactions[index].Status = TransactionCompleted
		}
	}
	session.mu.Unlock()

	session.logOperation(ctx, OperationLog{
		Operation: operationSweep,
		UserID:    userID,
		Count:     len(matured),
		Error:     err,
	})
	if err != nil {
		return 0, err
	}
	session.notify(ctx, Notification{
		Kind:    NotificationWithdrawalCompleted,
		UserID:  userID,
		Message: fmt.Sprintf("%d withdrawal(s) completed", len(matured)),
		Count:   len(matured),
	})
	return len(matured), nil
}
