package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

type stubWallet struct {
	balance      decimal.Decimal
	transactions []Transaction
	processed    bool
}

type stubStore struct {
	mu                sync.Mutex
	wallets           map[UserID]*stubWallet
	loadError         error
	saveBalanceError  error
	insertError       error
	updateStatusError error
	markError         error
	updateStatusCalls int
	transactionCalls  int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{wallets: make(map[UserID]*stubWallet)}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	store.transactionCalls++
	saved := store.cloneWalletsLocked()
	store.mu.Unlock()
	if err := fn(ctx, store); err != nil {
		store.mu.Lock()
		store.wallets = saved
		store.mu.Unlock()
		return err
	}
	return nil
}

func (store *stubStore) LoadWallet(ctx context.Context, userID UserID) (Snapshot, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.loadError != nil {
		return Snapshot{}, store.loadError
	}
	stored, ok := store.wallets[userID]
	if !ok {
		return Snapshot{UserID: userID, Balance: decimal.Zero}, nil
	}
	return Snapshot{
		UserID:               userID,
		Balance:              stored.balance,
		Transactions:         append([]Transaction(nil), stored.transactions...),
		SignupBonusProcessed: stored.processed,
	}, nil
}

func (store *stubStore) SaveBalance(ctx context.Context, userID UserID, balance decimal.Decimal) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.saveBalanceError != nil {
		return store.saveBalanceError
	}
	store.walletLocked(userID).balance = balance
	return nil
}

func (store *stubStore) InsertTransaction(ctx context.Context, userID UserID, transaction Transaction) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.insertError != nil {
		return store.insertError
	}
	stored := store.walletLocked(userID)
	for _, existing := range stored.transactions {
		if existing.ID == transaction.ID {
			return ErrDuplicateTransaction
		}
	}
	stored.transactions = append([]Transaction{transaction}, stored.transactions...)
	return nil
}

func (store *stubStore) UpdateTransactionStatus(ctx context.Context, userID UserID, transactionID TransactionID, from, to TransactionStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.updateStatusCalls++
	if store.updateStatusError != nil {
		return store.updateStatusError
	}
	stored := store.walletLocked(userID)
	for index, existing := range stored.transactions {
		if existing.ID != transactionID {
			continue
		}
		if existing.Status != from || !from.CanTransitionTo(to) {
			return ErrInvalidStatusTransition
		}
		stored.transactions[index].Status = to
		return nil
	}
	return ErrUnknownTransaction
}

func (store *stubStore) MarkSignupBonusProcessed(ctx context.Context, userID UserID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.markError != nil {
		return store.markError
	}
	store.walletLocked(userID).processed = true
	return nil
}

func (store *stubStore) walletLocked(userID UserID) *stubWallet {
	stored, ok := store.wallets[userID]
	if !ok {
		stored = &stubWallet{balance: decimal.Zero}
		store.wallets[userID] = stored
	}
	return stored
}

func (store *stubStore) cloneWalletsLocked() map[UserID]*stubWallet {
	cloned := make(map[UserID]*stubWallet, len(store.wallets))
	for userID, stored := range store.wallets {
		cloned[userID] = &stubWallet{
			balance:      stored.balance,
			transactions: append([]Transaction(nil), stored.transactions...),
			processed:    stored.processed,
		}
	}
	return cloned
}

func (store *stubStore) snapshot(test *testing.T, userID UserID) Snapshot {
	test.Helper()
	snapshot, err := store.LoadWallet(context.Background(), userID)
	if err != nil {
		test.Fatalf("load wallet: %v", err)
	}
	return snapshot
}

func (store *stubStore) seed(userID UserID, balance decimal.Decimal, transactions ...Transaction) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.wallets[userID] = &stubWallet{balance: balance, transactions: transactions}
}

func (store *stubStore) updateCalls() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.updateStatusCalls
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (clock *testClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *testClock) Advance(duration time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(duration)
}

type recordingNotifier struct {
	mu      sync.Mutex
	entries []Notification
}

func (notifier *recordingNotifier) Notify(_ context.Context, notification Notification) {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.entries = append(notifier.entries, notification)
}

func (notifier *recordingNotifier) ofKind(kind NotificationKind) []Notification {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	matched := make([]Notification, 0)
	for _, entry := range notifier.entries {
		if entry.Kind == kind {
			matched = append(matched, entry)
		}
	}
	return matched
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) forOperation(operation string) []OperationLog {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	matched := make([]OperationLog, 0)
	for _, entry := range logger.entries {
		if entry.Operation == operation {
			matched = append(matched, entry)
		}
	}
	return matched
}

var transactionComparer = cmp.Options{
	cmp.Comparer(func(left, right decimal.Decimal) bool { return left.Equal(right) }),
	cmp.AllowUnexported(UserID{}, TransactionID{}),
}

func mustNewSession(test *testing.T, store Store, clock *testClock, options ...SessionOption) *Session {
	test.Helper()
	options = append([]SessionOption{WithSweepInterval(0)}, options...)
	session, err := NewSession(store, clock.Now, options...)
	if err != nil {
		test.Fatalf("new session: %v", err)
	}
	return session
}

func mustBind(test *testing.T, session *Session, userID UserID) {
	test.Helper()
	if err := session.Bind(context.Background(), userID); err != nil {
		test.Fatalf("bind %s: %v", userID.String(), err)
	}
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustTransactionID(test *testing.T, raw string) TransactionID {
	test.Helper()
	value, err := NewTransactionID(raw)
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}
	return value
}

func mustDecimal(test *testing.T, raw string) decimal.Decimal {
	test.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		test.Fatalf("decimal %q: %v", raw, err)
	}
	return value
}

func mustBalance(test *testing.T, session *Session) decimal.Decimal {
	test.Helper()
	balance, err := session.Balance()
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return balance
}

func mustPoints(test *testing.T, session *Session) int64 {
	test.Helper()
	points, err := session.Points()
	if err != nil {
		test.Fatalf("points: %v", err)
	}
	return points
}

func mustTransactions(test *testing.T, session *Session) []Transaction {
	test.Helper()
	transactions, err := session.Transactions()
	if err != nil {
		test.Fatalf("transactions: %v", err)
	}
	return transactions
}

func assertDecimal(test *testing.T, label string, want string, got decimal.Decimal) {
	test.Helper()
	if !got.Equal(mustDecimal(test, want)) {
		test.Fatalf("expected %s %s, got %s", label, want, got.String())
	}
}
