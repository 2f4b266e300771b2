package gormstore

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultStagingSlot is the slot written by account creation.
	DefaultStagingSlot   = "pending_signup_bonus"
	errorSubjectStaging  = "staging"
	errorCodeStagingLoad = "load"
	errorCodeStagingPut  = "stage"
	errorCodeStagingDrop = "clear"
)

// Staging implements wallet.BonusStaging on a single database row.
type Staging struct {
	db   *gorm.DB
	slot string
}

// NewStaging returns a Staging bound to slot, or DefaultStagingSlot when slot is empty.
func NewStaging(db *gorm.DB, slot string) *Staging {
	if slot == "" {
		slot = DefaultStagingSlot
	}
	return &Staging{db: db, slot: slot}
}

// stagedPayload reads the payload column as plain text so an invalid document
// still loads and can be discarded by the settler.
type stagedPayload struct {
	Payload string
}

func (staging *Staging) Load(ctx context.Context) ([]byte, bool, error) {
	var row stagedPayload
	err := staging.db.WithContext(ctx).
		Model(&StagedBonus{}).
		Select("payload").
		Where("slot = ?", staging.slot).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapStoreError(errorSubjectStaging, errorCodeStagingLoad, err)
	}
	return []byte(row.Payload), true, nil
}

func (staging *Staging) Stage(ctx context.Context, payload []byte) error {
	row := StagedBonus{Slot: staging.slot, Payload: datatypes.JSON(append([]byte(nil), payload...))}
	err := staging.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slot"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectStaging, errorCodeStagingPut, err)
	}
	return nil
}

func (staging *Staging) Clear(ctx context.Context) error {
	err := staging.db.WithContext(ctx).
		Where("slot = ?", staging.slot).
		Delete(&StagedBonus{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectStaging, errorCodeStagingDrop, err)
	}
	return nil
}
