package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// BonusStaging is the loosely keyed slot where account creation leaves a pending signup bonus.
type BonusStaging interface {
	Load(ctx context.Context) ([]byte, bool, error)
	Stage(ctx context.Context, payload []byte) error
	Clear(ctx context.Context) error
}

// BonusPayload is the staged signup bonus.
type BonusPayload struct {
	UserID        UserID
	BaseBonus     decimal.Decimal
	ReferralBonus decimal.Decimal
	ReferralCode  string
}

type bonusPayloadJSON struct {
	UserID        string              `json:"userId"`
	BaseBonus     decimal.NullDecimal `json:"baseBonus"`
	ReferralBonus decimal.NullDecimal `json:"referralBonus"`
	ReferralCode  string              `json:"referralCode"`
}

// ParseBonusPayload decodes a staged payload. Every failure wraps ErrMalformedBonusPayload.
func ParseBonusPayload(raw []byte) (BonusPayload, error) {
	var decoded bonusPayloadJSON
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return BonusPayload{}, fmt.Errorf("%w: %v", ErrMalformedBonusPayload, err)
	}
	userID, err := NewUserID(decoded.UserID)
	if err != nil {
		return BonusPayload{}, fmt.Errorf("%w: %v", ErrMalformedBonusPayload, err)
	}
	if !decoded.BaseBonus.Valid || decoded.BaseBonus.Decimal.IsNegative() {
		return BonusPayload{}, fmt.Errorf("%w: base bonus must be a non-negative amount", ErrMalformedBonusPayload)
	}
	referralBonus := decimal.Zero
	if decoded.ReferralBonus.Valid {
		if decoded.ReferralBonus.Decimal.IsNegative() {
			return BonusPayload{}, fmt.Errorf("%w: referral bonus must be non-negative", ErrMalformedBonusPayload)
		}
		referralBonus = decoded.ReferralBonus.Decimal
	}
	payload := BonusPayload{
		UserID:        userID,
		BaseBonus:     decoded.BaseBonus.Decimal,
		ReferralBonus: referralBonus,
		ReferralCode:  strings.TrimSpace(decoded.ReferralCode),
	}
	if err := requirePositiveAmount(payload.Total()); err != nil {
		return BonusPayload{}, fmt.Errorf("%w: total bonus: %v", ErrMalformedBonusPayload, err)
	}
	return payload, nil
}

// Total returns base plus referral bonus.
func (payload BonusPayload) Total() decimal.Decimal {
	return payload.BaseBonus.Add(payload.ReferralBonus)
}

// Description returns the log text for the credited bonus.
func (payload BonusPayload) Description() string {
	if payload.ReferralBonus.IsPositive() && payload.ReferralCode != "" {
		return fmt.Sprintf(welcomeReferralDescriptionForm, payload.ReferralCode)
	}
	return welcomeBonusDescription
}

// MarshalBonusPayload encodes a payload in the staged wire format.
func MarshalBonusPayload(payload BonusPayload) ([]byte, error) {
	encoded := bonusPayloadJSON{
		UserID:       payload.UserID.String(),
		BaseBonus:    decimal.NewNullDecimal(payload.BaseBonus),
		ReferralCode: payload.ReferralCode,
	}
	if !payload.ReferralBonus.IsZero() {
		encoded.ReferralBonus = decimal.NewNullDecimal(payload.ReferralBonus)
	}
	return json.Marshal(encoded)
}

// MemoryStaging keeps the staged payload in process memory.
type MemoryStaging struct {
	mu      sync.Mutex
	payload []byte
}

// NewMemoryStaging returns an empty staging slot.
func NewMemoryStaging() *MemoryStaging {
	return &MemoryStaging{}
}

// Load returns the staged payload if present.
func (staging *MemoryStaging) Load(context.Context) ([]byte, bool, error) {
	staging.mu.Lock()
	defer staging.mu.Unlock()
	if staging.payload == nil {
		return nil, false, nil
	}
	return append([]byte(nil), staging.payload...), true, nil
}

// Stage replaces the staged payload.
func (staging *MemoryStaging) Stage(_ context.Context, payload []byte) error {
	staging.mu.Lock()
	defer staging.mu.Unlock()
	staging.payload = append([]byte(nil), payload...)
	return nil
}

// Clear removes the staged payload.
func (staging *MemoryStaging) Clear(context.Context) error {
	staging.mu.Lock()
	defer staging.mu.Unlock()
	staging.payload = nil
	return nil
}
