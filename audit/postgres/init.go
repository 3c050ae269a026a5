// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	_ "github.com/jackc/pgx/v5/stdlib" // required for SQL access
	migrate "github.com/rubenv/sql-migrate"
)

// Migration returns the audit trail's schema, applied once at startup
// by internal/clients/postgres.Setup.
func Migration() *migrate.MemoryMigrationSource {
	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "audit_01",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS secure_channel_audit (
						id           BIGSERIAL PRIMARY KEY,
						channel_id   BIGINT NOT NULL,
						token_id     BIGINT NOT NULL,
						operation    VARCHAR NOT NULL,
						transport_id VARCHAR NOT NULL,
						policy_uri   VARCHAR NOT NULL,
						lifetime_ms  BIGINT NOT NULL,
						occurred_at  TIMESTAMP NOT NULL
					)`,
					`CREATE INDEX idx_audit_channel ON secure_channel_audit(channel_id, occurred_at DESC);`,
				},
				Down: []string{
					`DROP TABLE IF EXISTS secure_channel_audit`,
				},
			},
		},
	}
}
