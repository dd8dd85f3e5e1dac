package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// schemaStatements is the registry layout. Parent tables come first so the
// inline REFERENCES clauses resolve. {{id}}, {{ref}} and {{ts}} are replaced
// per dialect.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id {{id}},
		username TEXT NOT NULL UNIQUE,
		hashed_password TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT true,
		role TEXT NOT NULL DEFAULT 'user'
	);`,
	`CREATE TABLE IF NOT EXISTS certificates (
		id {{id}},
		common_name TEXT NOT NULL DEFAULT '',
		serial_number TEXT NOT NULL UNIQUE,
		issuer TEXT NOT NULL DEFAULT '',
		valid_from {{ts}} NOT NULL,
		valid_to {{ts}} NOT NULL,
		revoked BOOLEAN NOT NULL DEFAULT false,
		revocation_date {{ts}},
		user_id {{ref}} REFERENCES users(id),
		certificate_type TEXT NOT NULL DEFAULT 'USER' CHECK (certificate_type IN ('ROOT', 'INTERMEDIATE', 'USER')),
		algorithm TEXT NOT NULL DEFAULT 'RSA' CHECK (algorithm IN ('GOST', 'RSA'))
	);`,
	`CREATE INDEX IF NOT EXISTS idx_certificates_common_name ON certificates (common_name);`,
	`CREATE INDEX IF NOT EXISTS idx_certificates_user_id ON certificates (user_id);`,
	`CREATE TABLE IF NOT EXISTS certificate_chains (
		id {{id}},
		name TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL,
		user_id {{ref}} REFERENCES users(id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_certificate_chains_name ON certificate_chains (name);`,
	`CREATE INDEX IF NOT EXISTS idx_certificate_chains_user_id ON certificate_chains (user_id);`,
	`CREATE TABLE IF NOT EXISTS certificate_chain_links (
		id {{id}},
		chain_id {{ref}} NOT NULL REFERENCES certificate_chains(id),
		certificate_id {{ref}} NOT NULL REFERENCES certificates(id),
		"order" INTEGER NOT NULL
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_certificate_chain_links_position ON certificate_chain_links (chain_id, "order");`,
	`CREATE INDEX IF NOT EXISTS idx_certificate_chain_links_certificate_id ON certificate_chain_links (certificate_id);`,
	`CREATE TABLE IF NOT EXISTS crls (
		id {{id}},
		issuer TEXT NOT NULL,
		this_update {{ts}} NOT NULL,
		next_update {{ts}} NOT NULL,
		crl_number {{ref}} NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_crls_issuer_number ON crls (issuer, crl_number);`,
	`CREATE TABLE IF NOT EXISTS delta_crls (
		id {{id}},
		issuer TEXT NOT NULL,
		this_update {{ts}} NOT NULL,
		next_update {{ts}} NOT NULL,
		crl_number {{ref}} NOT NULL,
		base_crl_id {{ref}} NOT NULL REFERENCES crls(id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_delta_crls_issuer_number ON delta_crls (issuer, crl_number);`,
	`CREATE INDEX IF NOT EXISTS idx_delta_crls_base_crl_id ON delta_crls (base_crl_id);`,
	`CREATE TABLE IF NOT EXISTS revoked_certificates (
		id {{id}},
		certificate_id {{ref}} NOT NULL REFERENCES certificates(id),
		revocation_date {{ts}} NOT NULL,
		crl_id {{ref}} REFERENCES crls(id),
		delta_crl_id {{ref}} REFERENCES delta_crls(id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_revoked_certificates_certificate_id ON revoked_certificates (certificate_id);`,
	`CREATE INDEX IF NOT EXISTS idx_revoked_certificates_crl_id ON revoked_certificates (crl_id);`,
	`CREATE INDEX IF NOT EXISTS idx_revoked_certificates_delta_crl_id ON revoked_certificates (delta_crl_id);`,
}

var dialects = map[string]*strings.Replacer{
	driverPostgres: strings.NewReplacer(
		"{{id}}", "BIGSERIAL PRIMARY KEY",
		"{{ref}}", "BIGINT",
		"{{ts}}", "TIMESTAMP WITH TIME ZONE",
	),
	// go-sqlite3 returns time.Time for columns declared TIMESTAMP.
	driverSQLite: strings.NewReplacer(
		"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ref}}", "INTEGER",
		"{{ts}}", "TIMESTAMP",
	),
}

// schemaFor returns the DDL statements for driverName.
func schemaFor(driverName string) ([]string, error) {
	r, ok := dialects[driverName]
	if !ok {
		return nil, fmt.Errorf("storage: no schema for driver %q", driverName)
	}
	stmts := make([]string, len(schemaStatements))
	for i, stmt := range schemaStatements {
		stmts[i] = r.Replace(stmt)
	}
	return stmts, nil
}

// ensureSchema creates tables and indexes if they don't exist.
func ensureSchema(ctx context.Context, db *sqlx.DB) error {
	stmts, err := schemaFor(db.DriverName())
	if err != nil {
		return err
	}

	logger.Info("Executing CREATE TABLE IF NOT EXISTS and CREATE INDEX IF NOT EXISTS statements...")
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if pqErr, ok := err.(*pq.Error); ok {
				logger.Error("Failed to execute schema statement", zap.Error(err),
					zap.Int("statement_index", i),
					zap.String("severity", pqErr.Severity),
					zap.String("code", string(pqErr.Code)),
					zap.String("detail", pqErr.Detail),
					zap.String("hint", pqErr.Hint),
				)
			} else {
				logger.Error("Failed to execute schema statement", zap.Error(err), zap.Int("statement_index", i), zap.String("statement", stmt))
			}
			return fmt.Errorf("storage: failed to initialize database schema: %w", err)
		}
	}

	logger.Info("Database schema initialization check complete.")
	return nil
}
