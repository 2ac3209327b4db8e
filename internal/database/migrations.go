package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type migration struct {
	version    int
	name       string
	statements []string
}

// Column types differ between SQLite and PostgreSQL; migrations are written
// once with these tokens and expanded per dialect.
var dialectTypes = map[Dialect]*strings.Replacer{
	DialectSQLite: strings.NewReplacer(
		"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ts}}", "DATETIME",
		"{{real}}", "REAL",
		"{{bigint}}", "INTEGER",
	),
	DialectPostgres: strings.NewReplacer(
		"{{pk}}", "BIGSERIAL PRIMARY KEY",
		"{{ts}}", "TIMESTAMPTZ",
		"{{real}}", "DOUBLE PRECISION",
		"{{bigint}}", "BIGINT",
	),
}

var migrations = []migration{
	{
		version: 1,
		name:    "licenses_users_trials",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS license (
				id {{pk}},
				licenseKey TEXT UNIQUE NOT NULL,
				generatedAt {{ts}} NOT NULL,
				expirationDate {{ts}},
				used BOOLEAN NOT NULL DEFAULT FALSE,
				user_hash TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_license_user_hash ON license(user_hash)`,
			`CREATE TABLE IF NOT EXISTS users (
				id {{pk}},
				name TEXT,
				email TEXT,
				password TEXT,
				phone TEXT,
				address TEXT,
				city TEXT,
				state TEXT,
				zip TEXT,
				license_id {{bigint}} NOT NULL REFERENCES license(id),
				affiliate_id {{bigint}},
				createdAt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updatedAt {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_users_license ON users(license_id)`,
			`CREATE TABLE IF NOT EXISTS trials (
				id {{pk}},
				user_hash TEXT UNIQUE NOT NULL,
				count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
				updateDate {{ts}} NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "affiliates_payments_warnings",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS affiliate (
				id {{pk}},
				user_id {{bigint}} REFERENCES users(id),
				referralCode TEXT,
				totalReferrals INTEGER DEFAULT 0,
				successfulReferrals INTEGER DEFAULT 0,
				earnings {{real}} DEFAULT 0.0,
				createdAt {{ts}} DEFAULT CURRENT_TIMESTAMP,
				updatedAt {{ts}} DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS payment (
				id {{pk}},
				user_id {{bigint}} REFERENCES users(id),
				amount {{real}},
				status TEXT,
				paymentMethod TEXT,
				paidAt {{ts}}
			)`,
			`CREATE TABLE IF NOT EXISTS referral (
				id {{pk}},
				affiliate_id {{bigint}} REFERENCES affiliate(id),
				referred_user_id {{bigint}} REFERENCES users(id),
				payment_id {{bigint}} REFERENCES payment(id),
				isSuccessful BOOLEAN,
				createdAt {{ts}} DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS affiliate_payout (
				id {{pk}},
				affiliate_id {{bigint}} REFERENCES affiliate(id),
				amount {{real}},
				payoutMethod TEXT,
				status TEXT,
				paidAt {{ts}}
			)`,
			`CREATE TABLE IF NOT EXISTS warning (
				id {{pk}},
				user_id {{bigint}} REFERENCES users(id),
				reason TEXT,
				resolved BOOLEAN,
				createdAt {{ts}} DEFAULT CURRENT_TIMESTAMP,
				updatedAt {{ts}} DEFAULT CURRENT_TIMESTAMP
			)`,
		},
	},
	{
		version: 3,
		name:    "settings_admins",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at {{bigint}} NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS admins (
				id TEXT PRIMARY KEY,
				email TEXT UNIQUE NOT NULL,
				password_hash TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				created_at {{bigint}} NOT NULL,
				updated_at {{bigint}} NOT NULL
			)`,
		},
	},
}

// LatestVersion is the schema version after all migrations are applied.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

// Migrate applies pending migrations and returns how many ran. Each
// migration is applied in its own transaction, so running it repeatedly is
// safe.
func (db *DB) Migrate(ctx context.Context) (int, error) {
	_, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at `+db.expand("{{bigint}}")+` NOT NULL
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		err := db.ExecTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.ExecContext(ctx, db.expand(stmt)); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				db.Rebind("INSERT INTO migrations (version, name, applied_at) VALUES (?, ?, ?)"),
				m.version, m.name, time.Now().UnixMilli(),
			)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("failed to run migration %d (%s): %w", m.version, m.name, err)
		}

		db.logger.Info().Int("version", m.version).Str("name", m.name).Msg("applied migration")
		applied++
	}

	return applied, nil
}

// SchemaVersion returns the highest applied migration version, 0 if none.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (db *DB) expand(stmt string) string {
	return dialectTypes[db.dialect].Replace(stmt)
}
