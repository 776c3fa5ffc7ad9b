package cmd

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/linguaflow/followup-engine/internal/config"
	"github.com/linguaflow/followup-engine/internal/db"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo staff keys, students and a welcome sequence",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		if err := seedStaffKeys(dbx); err != nil {
			return err
		}
		if err := seedStudents(dbx); err != nil {
			return err
		}
		if err := seedWelcomeSequence(dbx); err != nil {
			return err
		}

		log.Println(">> Seed complete ✅")
		return nil
	},
}

func seedStaffKeys(dbx *sqlx.DB) error {
	const q = `
INSERT INTO staff_keys (name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
  ('backoffice', 'dev-backoffice-key', 'active', 50, NOW(), NOW()),
  ('reporting',  'dev-reporting-key',  'active', 10, NOW(), NOW())
ON DUPLICATE KEY UPDATE id = id
`
	if _, err := dbx.Exec(q); err != nil {
		return fmt.Errorf("seed staff keys: %w", err)
	}
	return nil
}

func seedStudents(dbx *sqlx.DB) error {
	const q = `
INSERT INTO students (first_name, last_name, email, phone, status, cohort_ref, created_at, updated_at)
VALUES
  ('Sara',  'Nguyen',  'sara.nguyen@example.com',  '+31612000001', 'active', 'B1-2026-03', NOW(), NOW()),
  ('Diego', 'Morales', 'diego.morales@example.com', '+31612000002', 'active', 'A2-2026-03', NOW(), NOW()),
  ('Yuki',  'Tanaka',  'yuki.tanaka@example.com',  '+31612000003', 'lead',   NULL,          NOW(), NOW())
ON DUPLICATE KEY UPDATE id = id
`
	if _, err := dbx.Exec(q); err != nil {
		return fmt.Errorf("seed students: %w", err)
	}
	return nil
}

// seedWelcomeSequence creates the canonical two-step welcome sequence: email
// right away, SMS a day later.
func seedWelcomeSequence(dbx *sqlx.DB) error {
	var exists int
	if err := dbx.Get(&exists, `SELECT COUNT(*) FROM sequences WHERE name = 'trial-welcome'`); err != nil {
		return fmt.Errorf("check sequences: %w", err)
	}
	if exists > 0 {
		return nil
	}

	tx, err := dbx.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
INSERT INTO sequences (name, subject, status, created_at, updated_at)
VALUES ('trial-welcome', 'Welcome to your trial lesson', 'active', NOW(), NOW())
`)
	if err != nil {
		return fmt.Errorf("seed sequence: %w", err)
	}
	seqID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	const stepQ = `
INSERT INTO sequence_steps (sequence_id, step_order, channel, delay_minutes, subject, body, created_at)
VALUES (?, ?, ?, ?, ?, ?, NOW())
`
	if _, err := tx.Exec(stepQ, seqID, 0, "email", 0,
		"Welcome, {{.FirstName}}!",
		"Hi {{.FirstName}}, thanks for booking a trial lesson with us. Reply to this email if you have any questions.",
	); err != nil {
		return fmt.Errorf("seed step 0: %w", err)
	}
	if _, err := tx.Exec(stepQ, seqID, 1, "sms", 1440,
		"",
		"Hi {{.FirstName}}, just checking in about your trial lesson. Text us back any time!",
	); err != nil {
		return fmt.Errorf("seed step 1: %w", err)
	}

	return tx.Commit()
}
