package repository

import (
	"fmt"
	"regexp"
	"strings"

	"dataplane-signaling/backend/pkg/models"
)

// Statements are written with $N placeholders, each used once and in
// ascending order, so rebind can turn them into ? for SQLite.

const flowColumns = `id, state, source, destination, transfer_type, runtime_id, participant_id, asset_id,
	agreement_id, is_consumer, callback_address, properties, resource_definitions, error_detail, created_at, updated_at`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS dataflows (
	id                   TEXT PRIMARY KEY,
	state                TEXT NOT NULL,
	source               JSONB,
	destination          JSONB,
	transfer_type        JSONB NOT NULL,
	runtime_id           TEXT NOT NULL,
	participant_id       TEXT NOT NULL,
	asset_id             TEXT NOT NULL,
	agreement_id         TEXT NOT NULL,
	is_consumer          BOOLEAN NOT NULL DEFAULT FALSE,
	callback_address     TEXT NOT NULL DEFAULT '',
	properties           JSONB,
	resource_definitions JSONB,
	error_detail         TEXT NOT NULL DEFAULT '',
	created_at           BIGINT NOT NULL,
	updated_at           BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS dataflows_state_updated_idx ON dataflows (state, updated_at);
CREATE TABLE IF NOT EXISTS leases (
	entity_id             TEXT PRIMARY KEY,
	leased_by             TEXT NOT NULL,
	leased_at             BIGINT NOT NULL,
	lease_duration_millis BIGINT NOT NULL
);`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS dataflows (
	id                   TEXT PRIMARY KEY,
	state                TEXT NOT NULL,
	source               BLOB,
	destination          BLOB,
	transfer_type        BLOB NOT NULL,
	runtime_id           TEXT NOT NULL,
	participant_id       TEXT NOT NULL,
	asset_id             TEXT NOT NULL,
	agreement_id         TEXT NOT NULL,
	is_consumer          INTEGER NOT NULL DEFAULT 0,
	callback_address     TEXT NOT NULL DEFAULT '',
	properties           BLOB,
	resource_definitions BLOB,
	error_detail         TEXT NOT NULL DEFAULT '',
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS dataflows_state_updated_idx ON dataflows (state, updated_at);
CREATE TABLE IF NOT EXISTS leases (
	entity_id             TEXT PRIMARY KEY,
	leased_by             TEXT NOT NULL,
	leased_at             INTEGER NOT NULL,
	lease_duration_millis INTEGER NOT NULL
);`

const selectFlowSQL = `SELECT ` + flowColumns + ` FROM dataflows WHERE id = $1`

// Identity columns are only written on insert.
const upsertFlowSQL = `INSERT INTO dataflows (` + flowColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
	state = excluded.state,
	source = excluded.source,
	destination = excluded.destination,
	callback_address = excluded.callback_address,
	properties = excluded.properties,
	resource_definitions = excluded.resource_definitions,
	error_detail = excluded.error_detail,
	updated_at = excluded.updated_at`

// acquireLeaseSQL is a compare-and-swap on the lease row: it inserts a new
// lease, or overwrites the existing one when the caller already owns it or
// it has expired (including grace, $5). No returned row means a conflict.
const acquireLeaseSQL = `INSERT INTO leases (entity_id, leased_by, leased_at, lease_duration_millis)
VALUES ($1, $2, $3, $4)
ON CONFLICT (entity_id) DO UPDATE SET
	leased_by = excluded.leased_by,
	leased_at = excluded.leased_at,
	lease_duration_millis = excluded.lease_duration_millis
WHERE leases.leased_by = excluded.leased_by
	OR leases.leased_at + leases.lease_duration_millis + $5 <= excluded.leased_at
RETURNING entity_id, leased_by, leased_at, lease_duration_millis`

const selectLeaseSQL = `SELECT entity_id, leased_by, leased_at, lease_duration_millis FROM leases WHERE entity_id = $1`

const deleteLeaseSQL = `DELETE FROM leases WHERE entity_id = $1`

const deleteOwnedLeaseSQL = `DELETE FROM leases WHERE entity_id = $1 AND leased_by = $2`

var placeholderPattern = regexp.MustCompile(`\$\d+`)

// rebind rewrites $N placeholders to ?.
func rebind(query string) string {
	return placeholderPattern.ReplaceAllString(query, "?")
}

// listByStateSQL builds the listing query for the given number of states.
func listByStateSQL(states []models.DataFlowState, limit int) (string, []any) {
	placeholders := make([]string, len(states))
	args := make([]any, 0, len(states)+1)
	for i, s := range states {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, string(s))
	}
	query := `SELECT ` + flowColumns + ` FROM dataflows WHERE state IN (` + strings.Join(placeholders, ", ") +
		`) ORDER BY updated_at, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(states)+1)
		args = append(args, limit)
	}
	return query, args
}
