//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gabisonia/go-esquery/esquery"
	"github.com/gabisonia/go-esquery/internal/testenv"
	"github.com/gabisonia/go-esquery/reindex"
	"github.com/gabisonia/go-esquery/stores/memory"
	"github.com/jackc/pgx/v5/pgxpool"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	integrationPostgresUser     = "postgres"
	integrationPostgresPassword = "postgres"
	integrationPostgresDatabase = "esquery_test"
)

var (
	schemaSeq      atomic.Uint64
	integrationDSN string
)

func TestMain(m *testing.M) {
	testenv.Main(m, testenv.Service{
		Name:   "postgres",
		EnvVar: "ESQUERY_PG_TEST_DSN",
		Start:  startPostgresContainer,
	}, &integrationDSN)
}

func startPostgresContainer(ctx context.Context) (testcontainers.Container, string, error) {
	container, host, port, err := testenv.Started(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     integrationPostgresUser,
			"POSTGRES_PASSWORD": integrationPostgresPassword,
			"POSTGRES_DB":       integrationPostgresDatabase,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(2 * time.Minute),
	}, "5432/tcp")
	if err != nil {
		return nil, "", err
	}

	dsn := (&url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(integrationPostgresUser, integrationPostgresPassword),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + integrationPostgresDatabase,
		RawQuery: "sslmode=disable",
	}).String()

	err = testenv.Poll(ctx, 90*time.Second, 300*time.Millisecond, func(ctx context.Context) error {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return err
		}
		defer pool.Close()
		return pool.Ping(ctx)
	})
	if err != nil {
		testenv.Discard(container)
		return nil, "", fmt.Errorf("wait for postgres: %w", err)
	}
	return container, dsn, nil
}

func integrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := strings.TrimSpace(integrationDSN)
	if dsn == "" {
		t.Fatal("integration DSN is not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse DSN: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}

func newTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	seq := schemaSeq.Add(1)
	schema := fmt.Sprintf("it_%d_%d", time.Now().UnixNano(), seq)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA %s`, quoteIdent(schema)),
		fmt.Sprintf(`CREATE TABLE %s (
			id bigint PRIMARY KEY,
			name text NOT NULL,
			city text,
			balance numeric(10,2),
			created_at timestamptz NOT NULL,
			profile jsonb
		)`, qualifiedTable(schema, "users")),
		fmt.Sprintf(`INSERT INTO %s VALUES
			(1, 'Alice Smith', 'Tbilisi', 10.50, '2024-01-01T00:00:00Z', '{"tier":"gold"}'),
			(2, 'Bob Stone', 'Batumi', 3, '2024-02-01T00:00:00Z', NULL),
			(3, 'Carol Smith', 'Tbilisi', NULL, '2024-03-01T00:00:00Z', '{"tier":"silver"}')`, qualifiedTable(schema, "users")),
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("seed schema: %v", err)
		}
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, quoteIdent(schema)))
	})
	return schema
}

func TestIntegrationValidate(t *testing.T) {
	// Arrange
	pool := integrationPool(t)
	schema := newTestSchema(t, pool)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	good, err := NewRowSource(pool, SourceOptions{Schema: schema, Table: "users", Columns: []string{"id", "name"}, KeyColumn: "id"})
	if err != nil {
		t.Fatalf("NewRowSource: %v", err)
	}
	missingColumn, _ := NewRowSource(pool, SourceOptions{Schema: schema, Table: "users", Columns: []string{"nope"}})
	missingTable, _ := NewRowSource(pool, SourceOptions{Schema: schema, Table: "ghosts"})

	// Act / Assert
	if err := good.Validate(ctx); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := missingColumn.Validate(ctx); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch for missing column, got %v", err)
	}
	if err := missingTable.Validate(ctx); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch for missing table, got %v", err)
	}
}

func TestIntegrationStreamNormalizesRows(t *testing.T) {
	// Arrange
	pool := integrationPool(t)
	schema := newTestSchema(t, pool)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	src, err := NewRowSource(pool, SourceOptions{Schema: schema, Table: "users", KeyColumn: "id", KeyField: "_id"})
	if err != nil {
		t.Fatalf("NewRowSource: %v", err)
	}

	// Act
	var docs []map[string]any
	err = src.Stream(ctx, func(doc map[string]any) error {
		docs = append(docs, doc)
		return nil
	})

	// Assert
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(docs))
	}
	first := docs[0]
	if first["_id"] != "1" || first["name"] != "Alice Smith" {
		t.Fatalf("unexpected first row: %v", first)
	}
	if first["balance"] != 10.5 {
		t.Fatalf("expected numeric balance 10.5, got %#v", first["balance"])
	}
	if first["created_at"] != "2024-01-01T00:00:00Z" {
		t.Fatalf("expected RFC3339 timestamp, got %#v", first["created_at"])
	}
	profile, ok := first["profile"].(map[string]any)
	if !ok || profile["tier"] != "gold" {
		t.Fatalf("expected decoded jsonb profile, got %#v", first["profile"])
	}
	if docs[1]["balance"] != float64(3) || docs[2]["balance"] != nil {
		t.Fatalf("unexpected balances: %#v %#v", docs[1]["balance"], docs[2]["balance"])
	}
}

func TestIntegrationReindexIntoMemory(t *testing.T) {
	// Arrange
	pool := integrationPool(t)
	schema := newTestSchema(t, pool)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	src, err := NewRowSource(pool, SourceOptions{
		Schema:    schema,
		Table:     "users",
		Columns:   []string{"id", "name", "city"},
		KeyColumn: "id",
		KeyField:  "_id",
	})
	if err != nil {
		t.Fatalf("NewRowSource: %v", err)
	}
	engine := memory.NewEngine(memory.Options{})
	conn, err := esquery.NewConnection(engine, "crm", esquery.ConnectionOptions{})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	table := conn.Table("users", "")

	// Act
	stats, err := reindex.Run(ctx, table, src, reindex.Options{Workers: 2})

	// Assert
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Indexed != 3 {
		t.Fatalf("expected 3 indexed rows, got %+v", stats)
	}
	total, err := table.Total(ctx, table.Query().Where("city", "=", "Tbilisi"))
	if err != nil {
		t.Fatalf("Total: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 Tbilisi users, got %d", total)
	}
}
