package migrations

import (
	"github.com/dialware/dialer-engine/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_call_attempts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.CallAttemptModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_attempts_campaign_state ON call_attempts (campaign_id, state)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_correlation_id ON call_attempts (correlation_id) WHERE correlation_id <> ''`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_lead_live ON call_attempts (lead_id) WHERE state IN ('QUEUED','DIALING','RINGING','CONNECTED','ON_HOLD')`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.CallAttemptModel{})
			},
		},
		{
			ID: "000002_create_attempt_events",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.AttemptEventModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_events_attempt_created ON attempt_events (attempt_id, created_at)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.AttemptEventModel{})
			},
		},
		{
			ID: "000003_create_attempt_timers",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.AttemptTimerModel{}); err != nil {
					return err
				}
				// Partial index keeps the sweep scan cheap: only live timers qualify.
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_timers_due ON attempt_timers (fire_at) WHERE fired = FALSE AND cancelled = FALSE`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.AttemptTimerModel{})
			},
		},
		{
			ID: "000004_create_campaigns_and_leads",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.CampaignModel{}, &repository.LeadModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_campaigns_dialable ON campaigns (status, dial_mode)`,
					`CREATE INDEX IF NOT EXISTS idx_leads_reservable ON campaign_leads (campaign_id, created_at) WHERE status = 'NEW'`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				if err := tx.Migrator().DropTable(&repository.LeadModel{}); err != nil {
					return err
				}
				return tx.Migrator().DropTable(&repository.CampaignModel{})
			},
		},
		{
			ID: "000005_create_trunk_configs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.TrunkConfigModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.TrunkConfigModel{})
			},
		},
		{
			ID: "000006_create_quality_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(
					&repository.QualitySampleModel{},
					&repository.QualityAggregateModel{},
					&repository.QualityAlertModel{},
				); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_samples_call_created ON call_quality_samples (call_id, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_samples_carrier_created ON call_quality_samples (carrier_id, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_samples_account_created ON call_quality_samples (account_id, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_alerts_open ON quality_alerts (account_id, severity) WHERE acknowledged_at IS NULL`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				for _, table := range []any{
					&repository.QualityAlertModel{},
					&repository.QualityAggregateModel{},
					&repository.QualitySampleModel{},
				} {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
				return nil
			},
		},
	})

	return m.Migrate()
}
