package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/rewardwallet/pkg/wallet"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	constraintTransactionPrimary = "wallet_transactions_pkey"
	pgUniqueViolationCode        = "23505"
	errorOperationStore          = "store"
	errorSubjectAccount          = "account"
	errorSubjectTransaction      = "transaction"
	errorSubjectTx               = "tx"
	errorCodeBegin               = "begin"
	errorCodeCommit              = "commit"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeMarkProcessed       = "mark_processed"
	errorCodeSaveBalance         = "save_balance"
	errorCodeUpdateStatus        = "update_status"

	sqlSelectAccount = `
		select balance::text, signup_bonus_processed
		from wallet_accounts
		where user_id = $1
	`

	sqlListTransactions = `
		select transaction_id, type, description, amount::text, points, status, created_at
		from wallet_transactions
		where user_id = $1
		order by seq_no desc
	`

	sqlUpsertBalance = `
		insert into wallet_accounts(user_id, balance, created_at, updated_at)
		values($1, $2::numeric, now(), now())
		on conflict (user_id) do update set balance = excluded.balance, updated_at = now()
	`

	sqlInsertTransaction = `
		insert into wallet_transactions(
			transaction_id, user_id, seq_no, type, description, amount, points, status, created_at, updated_at
		)
		values(
			$1, $2,
			(select coalesce(max(seq_no),0) + 1 from wallet_transactions where user_id = $2),
			$3, $4, $5::numeric, $6, $7, $8, now()
		)
	`

	sqlUpdateTransactionStatus = `
		update wallet_transactions
		set status = $4, updated_at = now()
		where user_id = $1 and transaction_id = $2 and status = $3
	`

	sqlTransactionExists = `
		select exists(select 1 from wallet_transactions where user_id = $1 and transaction_id = $2)
	`

	sqlMarkSignupBonusProcessed = `
		insert into wallet_accounts(user_id, balance, signup_bonus_processed, created_at, updated_at)
		values($1, 0, true, now(), now())
		on conflict (user_id) do update set signup_bonus_processed = true, updated_at = now()
	`
)

// querier is the subset of pgx shared by the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements wallet.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements wallet.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) LoadWallet(ctx context.Context, userID wallet.UserID) (wallet.Snapshot, error) {
	return loadWallet(ctx, store.pool, userID)
}

func (store *Store) SaveBalance(ctx context.Context, userID wallet.UserID, balance decimal.Decimal) error {
	return saveBalance(ctx, store.pool, userID, balance)
}

func (store *Store) InsertTransaction(ctx context.Context, userID wallet.UserID, transaction wallet.Transaction) error {
	return insertTransaction(ctx, store.pool, userID, transaction)
}

func (store *Store) UpdateTransactionStatus(ctx context.Context, userID wallet.UserID, transactionID wallet.TransactionID, from, to wallet.TransactionStatus) error {
	return updateTransactionStatus(ctx, store.pool, userID, transactionID, from, to)
}

func (store *Store) MarkSignupBonusProcessed(ctx context.Context, userID wallet.UserID) error {
	return markSignupBonusProcessed(ctx, store.pool, userID)
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) LoadWallet(ctx context.Context, userID wallet.UserID) (wallet.Snapshot, error) {
	return loadWallet(ctx, store.tx, userID)
}

func (store *TxStore) SaveBalance(ctx context.Context, userID wallet.UserID, balance decimal.Decimal) error {
	return saveBalance(ctx, store.tx, userID, balance)
}

func (store *TxStore) InsertTransaction(ctx context.Context, userID wallet.UserID, transaction wallet.Transaction) error {
	return insertTransaction(ctx, store.tx, userID, transaction)
}

func (store *TxStore) UpdateTransactionStatus(ctx context.Context, userID wallet.UserID, transactionID wallet.TransactionID, from, to wallet.TransactionStatus) error {
	return updateTransactionStatus(ctx, store.tx, userID, transactionID, from, to)
}

func (store *TxStore) MarkSignupBonusProcessed(ctx context.Context, userID wallet.UserID) error {
	return markSignupBonusProcessed(ctx, store.tx, userID)
}

func loadWallet(ctx context.Context, db querier, userID wallet.UserID) (wallet.Snapshot, error) {
	snapshot := wallet.Snapshot{UserID: userID, Balance: decimal.Zero}
	var balanceText string
	err := db.QueryRow(ctx, sqlSelectAccount, userID.String()).Scan(&balanceText, &snapshot.SignupBonusProcessed)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return wallet.Snapshot{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	default:
		balance, parseErr := decimal.NewFromString(balanceText)
		if parseErr != nil {
			return wallet.Snapshot{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, parseErr)
		}
		snapshot.Balance = balance
	}

	rows, err := db.Query(ctx, sqlListTransactions, userID.String())
	if err != nil {
		return wallet.Snapshot{}, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions, err := scanTransactions(rows)
	if err != nil {
		return wallet.Snapshot{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	snapshot.Transactions = transactions
	return snapshot, nil
}

func saveBalance(ctx context.Context, db querier, userID wallet.UserID, balance decimal.Decimal) error {
	if _, err := db.Exec(ctx, sqlUpsertBalance, userID.String(), balance.String()); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSaveBalance, err)
	}
	return nil
}

func insertTransaction(ctx context.Context, db querier, userID wallet.UserID, transaction wallet.Transaction) error {
	createdAt := transaction.Date.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.Exec(ctx, sqlInsertTransaction,
		transaction.ID.String(),
		userID.String(),
		transaction.Type.String(),
		transaction.Description,
		transaction.Amount.String(),
		transaction.Points,
		transaction.Status.String(),
		createdAt,
	)
	if isTransactionConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, wallet.ErrDuplicateTransaction)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func updateTransactionStatus(ctx context.Context, db querier, userID wallet.UserID, transactionID wallet.TransactionID, from, to wallet.TransactionStatus) error {
	if !from.CanTransitionTo(to) {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, wallet.ErrInvalidStatusTransition)
	}
	tag, err := db.Exec(ctx, sqlUpdateTransactionStatus, userID.String(), transactionID.String(), from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := db.QueryRow(ctx, sqlTransactionExists, userID.String(), transactionID.String()).Scan(&exists); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, err)
	}
	if !exists {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, wallet.ErrUnknownTransaction)
	}
	return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, wallet.ErrInvalidStatusTransition)
}

func markSignupBonusProcessed(ctx context.Context, db querier, userID wallet.UserID) error {
	if _, err := db.Exec(ctx, sqlMarkSignupBonusProcessed, userID.String()); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeMarkProcessed, err)
	}
	return nil
}

func scanTransactions(rows pgx.Rows) ([]wallet.Transaction, error) {
	transactions := make([]wallet.Transaction, 0)
	for rows.Next() {
		var (
			transactionIDValue string
			typeValue          string
			description        string
			amountValue        string
			points             int64
			statusValue        string
			createdAt          time.Time
		)
		if err := rows.Scan(&transactionIDValue, &typeValue, &description, &amountValue, &points, &statusValue, &createdAt); err != nil {
			return nil, err
		}
		transactionID, err := wallet.NewTransactionID(transactionIDValue)
		if err != nil {
			return nil, err
		}
		transactionType, err := wallet.ParseTransactionType(typeValue)
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(amountValue)
		if err != nil {
			return nil, err
		}
		status, err := wallet.ParseTransactionStatus(statusValue)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, wallet.Transaction{
			ID:          transactionID,
			Type:        transactionType,
			Description: description,
			Amount:      amount,
			Points:      points,
			Status:      status,
			Date:        createdAt.UTC(),
		})
	}
	return transactions, rows.Err()
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func isTransactionConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintTransactionPrimary
	}
	return false
}
