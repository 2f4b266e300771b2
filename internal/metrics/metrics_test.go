package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/rewardwallet/pkg/wallet"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsOperations(test *testing.T) {
	test.Parallel()
	recorder := NewRecorder()
	ctx := context.Background()
	recorder.LogOperation(ctx, wallet.OperationLog{Operation: "credit", Status: "ok"})
	recorder.LogOperation(ctx, wallet.OperationLog{Operation: "credit", Status: "ok"})
	recorder.LogOperation(ctx, wallet.OperationLog{Operation: "debit", Status: "error"})

	if got := testutil.ToFloat64(recorder.operations.WithLabelValues("credit", "ok")); got != 2 {
		test.Fatalf("expected 2 credits, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.operations.WithLabelValues("debit", "error")); got != 1 {
		test.Fatalf("expected 1 failed debit, got %v", got)
	}
}

func TestRecorderCountsCompletedWithdrawals(test *testing.T) {
	test.Parallel()
	recorder := NewRecorder()
	ctx := context.Background()
	recorder.Notify(ctx, wallet.Notification{Kind: wallet.NotificationWithdrawalCompleted, Count: 2})
	recorder.Notify(ctx, wallet.Notification{Kind: wallet.NotificationWithdrawalCompleted, Count: 1})
	recorder.Notify(ctx, wallet.Notification{Kind: wallet.NotificationBalanceUpdated})

	if got := testutil.ToFloat64(recorder.withdrawalsCompleted); got != 3 {
		test.Fatalf("expected 3 completed withdrawals, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.notifications.WithLabelValues(string(wallet.NotificationWithdrawalCompleted))); got != 2 {
		test.Fatalf("expected 2 withdrawal notifications, got %v", got)
	}
}

func TestHandlerExposesWalletSeries(test *testing.T) {
	test.Parallel()
	recorder := NewRecorder()
	recorder.LogOperation(context.Background(), wallet.OperationLog{Operation: "bind", Status: "ok"})

	response := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(response, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if response.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", response.Code)
	}
	if !strings.Contains(response.Body.String(), `wallet_operations_total{operation="bind",status="ok"} 1`) {
		test.Fatalf("missing operation series in:\n%s", response.Body.String())
	}
}
