package wallet

import (
	"context"
	"errors"
	"testing"
)

func TestParseBonusPayloadAcceptsNumbersAndStrings(test *testing.T) {
	test.Parallel()
	payload, err := ParseBonusPayload([]byte(`{"userId":" user-a ","baseBonus":"0.05","referralBonus":1.00,"referralCode":" ABC "}`))
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if payload.UserID.String() != userAValue || payload.ReferralCode != "ABC" {
		test.Fatalf("unexpected payload %+v", payload)
	}
	assertDecimal(test, "total", "1.05", payload.Total())
	if payload.Description() != "Welcome Bonus + Referral (ABC)" {
		test.Fatalf("unexpected description %q", payload.Description())
	}
}

func TestParseBonusPayloadRejectsInvalidAmounts(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		raw  string
	}{
		{name: "null base", raw: `{"userId":"user-a","baseBonus":null}`},
		{name: "zero total", raw: `{"userId":"user-a","baseBonus":0,"referralBonus":0}`},
		{name: "total outside points range", raw: `{"userId":"user-a","baseBonus":"9000000000000000","referralBonus":"9000000000000000"}`},
	}
	for _, testCase := range testCases {
		if _, err := ParseBonusPayload([]byte(testCase.raw)); !errors.Is(err, ErrMalformedBonusPayload) {
			test.Fatalf("%s: "+errorMismatchMessage, testCase.name, ErrMalformedBonusPayload, err)
		}
	}
}

func TestMarshalBonusPayloadRoundTrips(test *testing.T) {
	test.Parallel()
	original := BonusPayload{
		UserID:        mustUserID(test, userAValue),
		BaseBonus:     mustDecimal(test, "0.05"),
		ReferralBonus: mustDecimal(test, "1"),
		ReferralCode:  "ABC",
	}
	encoded, err := MarshalBonusPayload(original)
	if err != nil {
		test.Fatalf("marshal: %v", err)
	}
	decoded, err := ParseBonusPayload(encoded)
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if decoded.UserID != original.UserID || !decoded.Total().Equal(original.Total()) || decoded.ReferralCode != original.ReferralCode {
		test.Fatalf("expected %+v, got %+v", original, decoded)
	}
}

func TestMemoryStagingLifecycle(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	staging := NewMemoryStaging()
	assertStaged(test, staging, false)
	payload := []byte(`{"userId":"user-a","baseBonus":1}`)
	mustStage(test, staging, string(payload))
	payload[0] = 'x'
	loaded, found, err := staging.Load(ctx)
	if err != nil || !found || loaded[0] != '{' {
		test.Fatalf("unexpected staged payload %q (%v)", loaded, err)
	}
	if err := staging.Clear(ctx); err != nil {
		test.Fatalf("clear: %v", err)
	}
	assertStaged(test, staging, false)
}
