package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/rewardwallet/pkg/wallet"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintTransactionPrimary = "wallet_transactions_pkey"
	pgUniqueViolationCode        = "23505"
	sqliteConstraintCode         = 19
	errorOperationStore          = "store"
	errorSubjectAccount          = "account"
	errorSubjectTransaction      = "transaction"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeMarkProcessed       = "mark_processed"
	errorCodeSaveBalance         = "save_balance"
	errorCodeSequence            = "sequence"
	errorCodeUpdateStatus        = "update_status"
)

// Store implements wallet.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) LoadWallet(ctx context.Context, userID wallet.UserID) (wallet.Snapshot, error) {
	snapshot := wallet.Snapshot{UserID: userID, Balance: decimal.Zero}
	var account WalletAccount
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&account).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return wallet.Snapshot{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	default:
		snapshot.Balance = account.Balance
		snapshot.SignupBonusProcessed = account.SignupBonusProcessed
	}

	var rows []WalletTransaction
	err = store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("seq_no DESC").
		Find(&rows).Error
	if err != nil {
		return wallet.Snapshot{}, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	snapshot.Transactions = make([]wallet.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapWalletTransaction(row)
		if err != nil {
			return wallet.Snapshot{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		snapshot.Transactions = append(snapshot.Transactions, transaction)
	}
	return snapshot, nil
}

func (store *Store) SaveBalance(ctx context.Context, userID wallet.UserID, balance decimal.Decimal) error {
	account := WalletAccount{UserID: userID.String(), Balance: balance}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"balance", "updated_at"}),
		}).
		Create(&account).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSaveBalance, err)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, userID wallet.UserID, transaction wallet.Transaction) error {
	var next sqlSequence
	err := store.db.WithContext(ctx).
		Model(&WalletTransaction{}).
		Select("coalesce(max(seq_no),0) + 1 as next_sequence").
		Where("user_id = ?", userID.String()).
		Scan(&next).Error
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeSequence, err)
	}
	createdAt := transaction.Date.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row := WalletTransaction{
		TransactionID: transaction.ID.String(),
		UserID:        userID.String(),
		SeqNo:         next.NextSequence,
		Type:          transaction.Type.String(),
		Description:   transaction.Description,
		Amount:        transaction.Amount,
		Points:        transaction.Points,
		Status:        transaction.Status.String(),
		CreatedAt:     createdAt,
	}
	err = store.db.WithContext(ctx).Create(&row).Error
	if isTransactionConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, wallet.ErrDuplicateTransaction)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) UpdateTransactionStatus(ctx context.Context, userID wallet.UserID, transactionID wallet.TransactionID, from, to wallet.TransactionStatus) error {
	if !from.CanTransitionTo(to) {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, wallet.ErrInvalidStatusTransition)
	}
	result := store.db.WithContext(ctx).
		Model(&WalletTransaction{}).
		Where("user_id = ? AND transaction_id = ? AND status = ?", userID.String(), transactionID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var count int64
	err := store.db.WithContext(ctx).
		Model(&WalletTransaction{}).
		Where("user_id = ? AND transaction_id = ?", userID.String(), transactionID.String()).
		Count(&count).Error
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, err)
	}
	if count == 0 {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, wallet.ErrUnknownTransaction)
	}
	return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, wallet.ErrInvalidStatusTransition)
}

func (store *Store) MarkSignupBonusProcessed(ctx context.Context, userID wallet.UserID) error {
	account := WalletAccount{UserID: userID.String(), Balance: decimal.Zero, SignupBonusProcessed: true}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"signup_bonus_processed", "updated_at"}),
		}).
		Create(&account).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeMarkProcessed, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

type sqlSequence struct {
	NextSequence int64
}

func mapWalletTransaction(row WalletTransaction) (wallet.Transaction, error) {
	transactionID, err := wallet.NewTransactionID(row.TransactionID)
	if err != nil {
		return wallet.Transaction{}, err
	}
	transactionType, err := wallet.ParseTransactionType(row.Type)
	if err != nil {
		return wallet.Transaction{}, err
	}
	status, err := wallet.ParseTransactionStatus(row.Status)
	if err != nil {
		return wallet.Transaction{}, err
	}
	return wallet.Transaction{
		ID:          transactionID,
		Type:        transactionType,
		Description: row.Description,
		Amount:      row.Amount,
		Points:      row.Points,
		Status:      status,
		Date:        row.CreatedAt.UTC(),
	}, nil
}

func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintTransactionPrimary
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
