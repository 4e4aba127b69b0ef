//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema mirrors the production tables. Integration tests create it fresh on
// container start and truncate between tests.
const schema = `
CREATE TABLE IF NOT EXISTS locations (
	id                             UUID PRIMARY KEY,
	prison_id                      TEXT NOT NULL,
	code                           TEXT NOT NULL,
	path_hierarchy                 TEXT NOT NULL,
	parent_id                      UUID,
	location_type                  TEXT NOT NULL,
	local_name                     TEXT NOT NULL DEFAULT '',
	status                         TEXT NOT NULL,
	accommodation_type             TEXT,
	specialist_cell_types          TEXT[] NOT NULL DEFAULT '{}',
	cell_mark                      TEXT NOT NULL DEFAULT '',
	in_cell_sanitation             BOOLEAN,
	used_for                       TEXT[] NOT NULL DEFAULT '{}',
	max_capacity                   INT NOT NULL DEFAULT 0,
	working_capacity               INT NOT NULL DEFAULT 0,
	certified                      BOOLEAN NOT NULL DEFAULT FALSE,
	certified_normal_accommodation INT NOT NULL DEFAULT 0,
	deactivation                   JSONB,
	deactivated_by_parent          BOOLEAN NOT NULL DEFAULT FALSE,
	deactivated_at                 TIMESTAMPTZ,
	deactivated_by                 TEXT,
	old_working_capacity           INT,
	converted_cell_type            TEXT,
	pending_change                 JSONB,
	pending_approval_request_id    UUID,
	created_at                     TIMESTAMPTZ NOT NULL,
	updated_at                     TIMESTAMPTZ NOT NULL,
	updated_by                     TEXT NOT NULL DEFAULT '',
	UNIQUE (prison_id, path_hierarchy)
);

CREATE INDEX IF NOT EXISTS idx_locations_prison ON locations (prison_id);
CREATE INDEX IF NOT EXISTS idx_locations_parent ON locations (parent_id);

CREATE TABLE IF NOT EXISTS location_history (
	id             UUID PRIMARY KEY,
	location_id    UUID NOT NULL,
	transaction_id UUID NOT NULL,
	attribute      TEXT NOT NULL,
	old_value      TEXT NOT NULL DEFAULT '',
	new_value      TEXT NOT NULL DEFAULT '',
	changed_by     TEXT NOT NULL,
	changed_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_location ON location_history (location_id);

CREATE TABLE IF NOT EXISTS approval_requests (
	id                      UUID PRIMARY KEY,
	prison_id               TEXT NOT NULL,
	location_id             UUID NOT NULL,
	location_key            TEXT NOT NULL,
	path_hierarchy          TEXT NOT NULL,
	approval_type           TEXT NOT NULL,
	status                  TEXT NOT NULL,
	max_capacity_change     INT NOT NULL DEFAULT 0,
	working_capacity_change INT NOT NULL DEFAULT 0,
	cna_change              INT NOT NULL DEFAULT 0,
	requested               JSONB,
	affected_locations      JSONB,
	requested_by            TEXT NOT NULL,
	requested_at            TIMESTAMPTZ NOT NULL,
	decided_by              TEXT,
	decided_at              TIMESTAMPTZ,
	comment                 TEXT,
	certificate_id          UUID
);

CREATE INDEX IF NOT EXISTS idx_requests_prison ON approval_requests (prison_id, status);

CREATE TABLE IF NOT EXISTS cell_certificates (
	id                             UUID PRIMARY KEY,
	prison_id                      TEXT NOT NULL,
	approved_by                    TEXT NOT NULL,
	approved_at                    TIMESTAMPTZ NOT NULL,
	is_current                     BOOLEAN NOT NULL DEFAULT FALSE,
	total_max_capacity             INT NOT NULL DEFAULT 0,
	total_working_capacity         INT NOT NULL DEFAULT 0,
	certified_normal_accommodation INT NOT NULL DEFAULT 0,
	locations                      JSONB NOT NULL DEFAULT '[]'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_certificates_current
	ON cell_certificates (prison_id) WHERE is_current;
`

// PostgresContainer wraps a testcontainers Postgres instance with the schema
// already applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts a new Postgres container and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("locations_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	// Note: We don't register t.Cleanup here because the container is managed
	// by the singleton Manager and shared across test suites. Ryuk handles cleanup.

	return &PostgresContainer{
		Container: container,
		DSN:       dsn,
		DB:        db,
	}
}

// TruncateTables empties the given tables. Use between tests for isolation.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	query := fmt.Sprintf("TRUNCATE TABLE %s", strings.Join(tables, ", "))
	if _, err := p.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
