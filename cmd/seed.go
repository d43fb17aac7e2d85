package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/polyvox/notify-engine/internal/config"
	"github.com/polyvox/notify-engine/internal/db"
	"github.com/polyvox/notify-engine/internal/model"
	"github.com/polyvox/notify-engine/internal/util"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo entities and contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo entities...")

		if err := seedEntities(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

type seedEntity struct {
	name         string
	jurisdiction string
	status       string
	mode         model.NotificationMode
	email        string
	verification model.Verification
}

// seedEntities inserts deterministic demo entities, each with one primary
// email contact (idempotent on entity name).
func seedEntities(dbx *sqlx.DB) error {
	entities := []seedEntity{
		{
			name:         "Riverside Water Authority",
			jurisdiction: "Riverside County",
			status:       model.JurisdictionActive,
			mode:         model.ModeEmailImmediate,
			email:        "ops@riverside-water.example",
			verification: model.VerifiedByDomain,
		},
		{
			name:         "Northgate School District",
			jurisdiction: "Northgate",
			status:       model.JurisdictionActive,
			mode:         model.ModeEmailDigest,
			email:        "board@northgate-sd.example",
			verification: model.VerifiedByModerator,
		},
		{
			name:         "Harbor Transit Agency",
			jurisdiction: "Harbor District",
			status:       "PENDING",
			mode:         model.ModeEmailDigest,
			email:        "info@harbor-transit.example",
			verification: model.VerifiedByModerator,
		},
		{
			name:         "Old Mill Township",
			jurisdiction: "Old Mill",
			status:       model.JurisdictionActive,
			mode:         model.ModeNone,
			email:        "clerk@oldmill.example",
			verification: model.VerificationNone,
		},
	}

	const entityQ = `
INSERT INTO public_entities
    (id, name, jurisdiction_label, jurisdiction_status, notification_mode, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    jurisdiction_status = VALUES(jurisdiction_status),
    notification_mode   = VALUES(notification_mode),
    updated_at          = VALUES(updated_at)
`
	const contactQ = `
INSERT INTO public_entity_contacts
    (id, entity_id, kind, email, is_public, is_primary, verification,
     email_suppressed, bounce_count, created_at, updated_at)
SELECT ?, e.id, 'EMAIL', ?, 1, 1, ?, 0, 0, ?, ?
FROM public_entities e
LEFT JOIN public_entity_contacts pc ON pc.entity_id = e.id AND pc.email = ?
WHERE e.name = ? AND pc.id IS NULL
`

	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, e := range entities {
		if _, err := tx.Exec(entityQ,
			util.New(), e.name, e.jurisdiction, e.status, e.mode.String(), now, now,
		); err != nil {
			return fmt.Errorf("insert entity %q: %w", e.name, err)
		}
		if _, err := tx.Exec(contactQ,
			util.New(), e.email, e.verification.String(), now, now, e.email, e.name,
		); err != nil {
			return fmt.Errorf("insert contact for %q: %w", e.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}
