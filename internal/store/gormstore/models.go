package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// WalletAccount represents the wallet_accounts table.
type WalletAccount struct {
	UserID               string          `gorm:"primaryKey"`
	Balance              decimal.Decimal `gorm:"type:varchar(64);not null"`
	SignupBonusProcessed bool            `gorm:"not null;default:false"`
	CreatedAt            time.Time       `gorm:"not null"`
	UpdatedAt            time.Time       `gorm:"not null"`
}

func (WalletAccount) TableName() string { return "wallet_accounts" }

// WalletTransaction mirrors the wallet_transactions table.
// SeqNo orders a user's log independently of clock resolution.
type WalletTransaction struct {
	TransactionID string          `gorm:"primaryKey"`
	UserID        string          `gorm:"not null;index:idx_wallet_transactions_user_seq,unique,priority:1"`
	SeqNo         int64           `gorm:"not null;index:idx_wallet_transactions_user_seq,unique,priority:2"`
	Type          string          `gorm:"not null"`
	Description   string          `gorm:"not null"`
	Amount        decimal.Decimal `gorm:"type:varchar(64);not null"`
	Points        int64           `gorm:"not null"`
	Status        string          `gorm:"not null;index"`
	CreatedAt     time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

// StagedBonus holds the signup bonus slot. Payload is kept as text so malformed
// input can be staged and later discarded.
type StagedBonus struct {
	Slot      string         `gorm:"primaryKey"`
	Payload   datatypes.JSON `gorm:"type:text;not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (StagedBonus) TableName() string { return "staged_bonuses" }

// Models lists every table managed by this package, in migration order.
func Models() []any {
	return []any{&WalletAccount{}, &WalletTransaction{}, &StagedBonus{}}
}
