package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/rewardwallet/pkg/wallet"
	"github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	userIDValue          = "user-1"
	otherUserIDValue     = "user-2"
	errorMismatchMessage = "expected %v, got %v"
)

var snapshotComparer = cmp.Options{
	cmp.Comparer(func(left, right decimal.Decimal) bool { return left.Equal(right) }),
	cmp.Comparer(func(left, right wallet.UserID) bool { return left == right }),
	cmp.Comparer(func(left, right wallet.TransactionID) bool { return left == right }),
}

func openTestDB(test *testing.T) *gorm.DB {
	test.Helper()
	path := filepath.Join(test.TempDir(), "wallet.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		test.Fatalf("auto migrate: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	test.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func mustUserID(test *testing.T, raw string) wallet.UserID {
	test.Helper()
	value, err := wallet.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustTransaction(test *testing.T, id string, status wallet.TransactionStatus, amount string, at time.Time) wallet.Transaction {
	test.Helper()
	transactionID, err := wallet.NewTransactionID(id)
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}
	value := decimal.RequireFromString(amount)
	return wallet.Transaction{
		ID:          transactionID,
		Type:        wallet.TransactionWithdraw,
		Description: "Cash out " + id,
		Amount:      value,
		Points:      wallet.PointsFromAmount(value),
		Status:      status,
		Date:        at,
	}
}

func TestLoadWalletReturnsEmptySnapshotForUnknownUser(test *testing.T) {
	test.Parallel()
	store := New(openTestDB(test))
	snapshot, err := store.LoadWallet(context.Background(), mustUserID(test, userIDValue))
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if !snapshot.Balance.IsZero() || len(snapshot.Transactions) != 0 || snapshot.SignupBonusProcessed {
		test.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestStorePersistsWalletState(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := New(openTestDB(test))
	userID := mustUserID(test, userIDValue)
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	first := mustTransaction(test, "tx-1", wallet.TransactionCompleted, "-1.25", base)
	// Same timestamp on purpose: ordering must follow insertion.
	second := mustTransaction(test, "tx-2", wallet.TransactionPending, "-0.0005", base)

	err := store.WithTx(ctx, func(ctx context.Context, txStore wallet.Store) error {
		if err := txStore.SaveBalance(ctx, userID, decimal.RequireFromString("10.1234")); err != nil {
			return err
		}
		if err := txStore.InsertTransaction(ctx, userID, first); err != nil {
			return err
		}
		if err := txStore.InsertTransaction(ctx, userID, second); err != nil {
			return err
		}
		return txStore.MarkSignupBonusProcessed(ctx, userID)
	})
	if err != nil {
		test.Fatalf("write: %v", err)
	}

	snapshot, err := store.LoadWallet(ctx, userID)
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	want := wallet.Snapshot{
		UserID:               userID,
		Balance:              decimal.RequireFromString("10.1234"),
		Transactions:         []wallet.Transaction{second, first},
		SignupBonusProcessed: true,
	}
	if diff := cmp.Diff(want, snapshot, snapshotComparer); diff != "" {
		test.Fatalf("unexpected snapshot (-want +got):\n%s", diff)
	}

	other, err := store.LoadWallet(ctx, mustUserID(test, otherUserIDValue))
	if err != nil || len(other.Transactions) != 0 || !other.Balance.IsZero() {
		test.Fatalf("other user leaked state: %+v (%v)", other, err)
	}
}

func TestMarkProcessedKeepsBalance(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := New(openTestDB(test))
	userID := mustUserID(test, userIDValue)
	if err := store.SaveBalance(ctx, userID, decimal.RequireFromString("3.5")); err != nil {
		test.Fatalf("save: %v", err)
	}
	if err := store.MarkSignupBonusProcessed(ctx, userID); err != nil {
		test.Fatalf("mark: %v", err)
	}
	snapshot, err := store.LoadWallet(ctx, userID)
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if !snapshot.Balance.Equal(decimal.RequireFromString("3.5")) || !snapshot.SignupBonusProcessed {
		test.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestWithTxRollsBackOnError(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := New(openTestDB(test))
	userID := mustUserID(test, userIDValue)
	failure := errors.New("abort")
	err := store.WithTx(ctx, func(ctx context.Context, txStore wallet.Store) error {
		if err := txStore.SaveBalance(ctx, userID, decimal.RequireFromString("9")); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		test.Fatalf(errorMismatchMessage, failure, err)
	}
	snapshot, err := store.LoadWallet(ctx, userID)
	if err != nil || !snapshot.Balance.IsZero() {
		test.Fatalf("expected rolled back balance, got %+v (%v)", snapshot, err)
	}
}

func TestInsertTransactionRejectsDuplicateID(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := New(openTestDB(test))
	userID := mustUserID(test, userIDValue)
	transaction := mustTransaction(test, "tx-1", wallet.TransactionPending, "-1", time.Now().UTC())
	if err := store.InsertTransaction(ctx, userID, transaction); err != nil {
		test.Fatalf("insert: %v", err)
	}
	if err := store.InsertTransaction(ctx, userID, transaction); !errors.Is(err, wallet.ErrDuplicateTransaction) {
		test.Fatalf(errorMismatchMessage, wallet.ErrDuplicateTransaction, err)
	}
}

func TestUpdateTransactionStatus(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store := New(openTestDB(test))
	userID := mustUserID(test, userIDValue)
	transaction := mustTransaction(test, "tx-1", wallet.TransactionPending, "-20", time.Now().UTC())
	if err := store.InsertTransaction(ctx, userID, transaction); err != nil {
		test.Fatalf("insert: %v", err)
	}
	unknownID, _ := wallet.NewTransactionID("missing")

	testCases := []struct {
		name    string
		id      wallet.TransactionID
		from    wallet.TransactionStatus
		to      wallet.TransactionStatus
		wantErr error
	}{
		{name: "illegal transition", id: transaction.ID, from: wallet.TransactionCompleted, to: wallet.TransactionPending, wantErr: wallet.ErrInvalidStatusTransition},
		{name: "unknown transaction", id: unknownID, from: wallet.TransactionPending, to: wallet.TransactionCompleted, wantErr: wallet.ErrUnknownTransaction},
		{name: "complete pending", id: transaction.ID, from: wallet.TransactionPending, to: wallet.TransactionCompleted},
		{name: "already completed", id: transaction.ID, from: wallet.TransactionPending, to: wallet.TransactionCompleted, wantErr: wallet.ErrInvalidStatusTransition},
	}
	for _, testCase := range testCases {
		err := store.UpdateTransactionStatus(ctx, userID, testCase.id, testCase.from, testCase.to)
		if testCase.wantErr == nil && err != nil {
			test.Fatalf("%s: unexpected error %v", testCase.name, err)
		}
		if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
			test.Fatalf("%s: "+errorMismatchMessage, testCase.name, testCase.wantErr, err)
		}
	}
	snapshot, err := store.LoadWallet(ctx, userID)
	if err != nil || snapshot.Transactions[0].Status != wallet.TransactionCompleted {
		test.Fatalf("expected completed status, got %+v (%v)", snapshot.Transactions, err)
	}
}

func TestSessionRunsOnGormStore(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	db := openTestDB(test)
	store := New(db)
	staging := NewStaging(db, "")
	userID := mustUserID(test, userIDValue)
	payload, err := wallet.MarshalBonusPayload(wallet.BonusPayload{
		UserID:        userID,
		BaseBonus:     decimal.RequireFromString("0.05"),
		ReferralBonus: decimal.RequireFromString("1"),
		ReferralCode:  "ABC",
	})
	if err != nil {
		test.Fatalf("marshal: %v", err)
	}
	if err := staging.Stage(ctx, payload); err != nil {
		test.Fatalf("stage: %v", err)
	}
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	session, err := wallet.NewSession(store, clock, wallet.WithBonusStaging(staging), wallet.WithSweepInterval(0))
	if err != nil {
		test.Fatalf("session: %v", err)
	}
	if err := session.Bind(ctx, userID); err != nil {
		test.Fatalf("bind: %v", err)
	}
	if _, err := session.InitiateWithdrawal(ctx, decimal.RequireFromString("0.5"), "Cash out"); err != nil {
		test.Fatalf("withdraw: %v", err)
	}

	reloaded, err := wallet.NewSession(store, clock, wallet.WithBonusStaging(staging), wallet.WithSweepInterval(0))
	if err != nil {
		test.Fatalf("session: %v", err)
	}
	if err := reloaded.Bind(ctx, userID); err != nil {
		test.Fatalf("rebind: %v", err)
	}
	snapshot, err := reloaded.Snapshot()
	if err != nil {
		test.Fatalf("snapshot: %v", err)
	}
	if !snapshot.Balance.Equal(decimal.RequireFromString("0.55")) || !snapshot.SignupBonusProcessed || len(snapshot.Transactions) != 2 {
		test.Fatalf("unexpected reloaded snapshot %+v", snapshot)
	}
	if snapshot.Transactions[0].Type != wallet.TransactionWithdraw || snapshot.Transactions[1].Description != "Welcome Bonus + Referral (ABC)" {
		test.Fatalf("unexpected log order %+v", snapshot.Transactions)
	}
	if _, found, _ := staging.Load(ctx); found {
		test.Fatalf("expected staging slot to be cleared")
	}
}

func TestStagingStoresMalformedPayloads(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	staging := NewStaging(openTestDB(test), "custom")
	if err := staging.Stage(ctx, []byte(`{"userId":`)); err != nil {
		test.Fatalf("stage: %v", err)
	}
	if loaded, found, err := staging.Load(ctx); err != nil || !found || string(loaded) != `{"userId":` {
		test.Fatalf("expected malformed payload back verbatim, got %q (%v)", loaded, err)
	}
	if err := staging.Stage(ctx, []byte(`{"userId":"user-1"}`)); err != nil {
		test.Fatalf("restage: %v", err)
	}
	loaded, found, err := staging.Load(ctx)
	if err != nil || !found || string(loaded) != `{"userId":"user-1"}` {
		test.Fatalf("unexpected staged payload %q (%v)", loaded, err)
	}
	if err := staging.Clear(ctx); err != nil {
		test.Fatalf("clear: %v", err)
	}
	if _, found, _ := staging.Load(ctx); found {
		test.Fatalf("expected empty slot")
	}
}
