package wallet

import (
	"errors"
	"fmt"
	"testing"
)

const (
	storeLayer       = "store"
	baseErrorMessage = "base error"
)

func TestFailureCodeIdentifiesStoreStep(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	testCases := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "balance write",
			err:         WrapError(storeLayer, "account", "save_balance", baseError),
			wantCode:    "account.save_balance",
			wantMessage: "store.account.save_balance: base error",
		},
		{
			name:        "wrapped again by caller",
			err:         fmt.Errorf("settle: %w", WrapError(storeLayer, "transaction", "insert", baseError)),
			wantCode:    "transaction.insert",
			wantMessage: "settle: store.transaction.insert: base error",
		},
		{name: "untagged", err: baseError, wantCode: "", wantMessage: baseErrorMessage},
		{name: "nil", err: WrapError(storeLayer, "account", "get", nil), wantCode: ""},
	}
	for _, testCase := range testCases {
		if code := FailureCode(testCase.err); code != testCase.wantCode {
			test.Fatalf("%s: expected code %q, got %q", testCase.name, testCase.wantCode, code)
		}
		if testCase.err == nil {
			continue
		}
		if testCase.err.Error() != testCase.wantMessage {
			test.Fatalf("%s: expected %q, got %q", testCase.name, testCase.wantMessage, testCase.err.Error())
		}
		if !errors.Is(testCase.err, baseError) {
			test.Fatalf("%s: expected error to unwrap to base", testCase.name)
		}
	}
}

func TestInsufficientFundsErrorMessage(test *testing.T) {
	test.Parallel()
	insufficient := &InsufficientFundsError{Requested: mustDecimal(test, "15"), Available: mustDecimal(test, "10")}
	if insufficient.Error() != "insufficient funds: need 5 more" {
		test.Fatalf("unexpected message %q", insufficient.Error())
	}
	wrapped := WrapError(storeLayer, "account", "debit", insufficient)
	extracted, ok := AsInsufficientFunds(wrapped)
	if !ok || !errors.Is(wrapped, ErrInsufficientFunds) {
		test.Fatalf("expected wrapped insufficient funds error")
	}
	assertDecimal(test, "shortfall", "5", extracted.Shortfall())
	if _, ok := AsInsufficientFunds(errors.New(baseErrorMessage)); ok {
		test.Fatalf("unexpected extraction from plain error")
	}
}
