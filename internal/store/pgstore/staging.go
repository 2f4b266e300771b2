package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultStagingSlot is the slot written by account creation.
	DefaultStagingSlot = "pending_signup_bonus"
	errorSubjectStage  = "staging"
	errorCodeLoad      = "load"
	errorCodeStage     = "stage"
	errorCodeClear     = "clear"

	sqlSelectStaged = `select payload from staged_bonuses where slot = $1`

	sqlUpsertStaged = `
		insert into staged_bonuses(slot, payload, updated_at) values($1, $2, now())
		on conflict (slot) do update set payload = excluded.payload, updated_at = now()
	`

	sqlDeleteStaged = `delete from staged_bonuses where slot = $1`
)

// Staging implements wallet.BonusStaging on the staged_bonuses table.
type Staging struct {
	pool *pgxpool.Pool
	slot string
}

// NewStaging returns a Staging bound to slot, or DefaultStagingSlot when slot is empty.
func NewStaging(pool *pgxpool.Pool, slot string) *Staging {
	if slot == "" {
		slot = DefaultStagingSlot
	}
	return &Staging{pool: pool, slot: slot}
}

func (staging *Staging) Load(ctx context.Context) ([]byte, bool, error) {
	var payload string
	err := staging.pool.QueryRow(ctx, sqlSelectStaged, staging.slot).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapStoreError(errorSubjectStage, errorCodeLoad, err)
	}
	return []byte(payload), true, nil
}

func (staging *Staging) Stage(ctx context.Context, payload []byte) error {
	if _, err := staging.pool.Exec(ctx, sqlUpsertStaged, staging.slot, string(payload)); err != nil {
		return wrapStoreError(errorSubjectStage, errorCodeStage, err)
	}
	return nil
}

func (staging *Staging) Clear(ctx context.Context) error {
	if _, err := staging.pool.Exec(ctx, sqlDeleteStaged, staging.slot); err != nil {
		return wrapStoreError(errorSubjectStage, errorCodeClear, err)
	}
	return nil
}
