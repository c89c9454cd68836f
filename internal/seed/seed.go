package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	capacitydomain "github.com/smallbiznis/warmline/internal/capacity/domain"
	"github.com/smallbiznis/warmline/internal/config"
	"gorm.io/gorm"
)

// EnsureCapacityAccounts upserts the configured provider calling accounts at
// startup. Accounts are matched by label; an existing account keeps its live
// counter and only has its ceiling and credentials refreshed.
func EnsureCapacityAccounts(db *gorm.DB, cfg config.Config) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if len(cfg.CapacityAccounts) == 0 {
		return nil
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ac := range cfg.CapacityAccounts {
			if err := ensureAccountTx(ctx, tx, node, ac); err != nil {
				return err
			}
		}
		return nil
	})
}

func ensureAccountTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, ac config.CapacityAccountConfig) error {
	var account capacitydomain.Account
	err := tx.WithContext(ctx).Where("label = ?", ac.Label).First(&account).Error
	if err == nil {
		return tx.WithContext(ctx).Exec(`
			UPDATE capacity_accounts
			SET phone_number_id = ?,
				api_key_ref = ?,
				max_concurrent_calls = ?,
				is_active = TRUE,
				updated_at = ?
			WHERE id = ?
		`,
			ac.PhoneNumberID,
			ac.APIKeyRef,
			ac.MaxConcurrentCalls,
			time.Now().UTC(),
			account.ID,
		).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	account = capacitydomain.Account{
		ID:                 node.Generate(),
		Label:              ac.Label,
		PhoneNumberID:      ac.PhoneNumberID,
		APIKeyRef:          ac.APIKeyRef,
		CurrentActiveCalls: 0,
		MaxConcurrentCalls: ac.MaxConcurrentCalls,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return tx.WithContext(ctx).Create(&account).Error
}
