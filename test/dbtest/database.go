// Package dbtest spins up a real, migrated Postgres instance for
// integration tests that a sqlmock fake cannot exercise faithfully:
// bi-temporal window queries, pgvector cosine search, full-text rank,
// and the content-hash unique-index races the ingestion pipeline
// relies on. Adapted from the teacher's test/util/database.go
// shared-testcontainer pattern, with a fresh per-test database (rather
// than a per-test schema) so the production store.NewClient dial/
// migrate path runs completely unmodified for every test.
package dbtest

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/hivemind/core/pkg/store"
)

var (
	containerOnce sync.Once
	containerErr  error
	adminDSN      string
	containerHost string
	containerPort int
)

// startSharedContainer starts one pgvector-enabled Postgres container
// per test binary, shared across every test that calls NewStore.
// pgvector/pgvector (not the plain postgres image the teacher uses)
// is required because knowledge_items.embedding is a vector column.
func startSharedContainer(t *testing.T) {
	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("dbtest: starting shared pgvector testcontainer")

		pgContainer, err := postgres.Run(ctx,
			"pgvector/pgvector:pg16",
			postgres.WithDatabase("hivemind_admin"),
			postgres.WithUsername("hivemind"),
			postgres.WithPassword("hivemind"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("dbtest: start postgres container: %w", err)
			return
		}

		host, err := pgContainer.Host(ctx)
		if err != nil {
			containerErr = fmt.Errorf("dbtest: container host: %w", err)
			return
		}
		mapped, err := pgContainer.MappedPort(ctx, "5432/tcp")
		if err != nil {
			containerErr = fmt.Errorf("dbtest: container port: %w", err)
			return
		}

		containerHost = host
		containerPort = mapped.Int()
		adminDSN = fmt.Sprintf("host=%s port=%d user=hivemind password=hivemind dbname=hivemind_admin sslmode=disable",
			containerHost, containerPort)
	})
}

// NewStore creates a dedicated, freshly migrated database inside the
// shared container and wraps it with a *store.PostgresStore. Every
// call gets its own database so concurrent tests (and the
// content-hash unique-index race tests in particular) never see each
// other's rows.
func NewStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("dbtest: skipping real-Postgres integration test in short mode")
	}

	startSharedContainer(t)
	require.NoError(t, containerErr, "dbtest: shared container failed to start")

	ctx := context.Background()
	admin, err := stdsql.Open("pgx", adminDSN)
	require.NoError(t, err)
	defer admin.Close()

	dbName := generateDatabaseName(t)
	_, err = admin.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE %s`, dbName))
	require.NoError(t, err)

	client, err := store.NewClient(ctx, store.Config{
		Host:     containerHost,
		Port:     containerPort,
		User:     "hivemind",
		Password: "hivemind",
		Database: dbName,
		SSLMode:  "disable",

		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := client.DB().Close(); err != nil {
			t.Logf("dbtest: close client: %v", err)
		}
		admin, err := stdsql.Open("pgx", adminDSN)
		if err != nil {
			t.Logf("dbtest: reopen admin connection for cleanup: %v", err)
			return
		}
		defer admin.Close()
		if _, err := admin.ExecContext(context.Background(), fmt.Sprintf(`DROP DATABASE IF EXISTS %s WITH (FORCE)`, dbName)); err != nil {
			t.Logf("dbtest: drop database %s: %v", dbName, err)
		}
	})

	return store.NewPostgresStore(client)
}

// generateDatabaseName mirrors the teacher's GenerateSchemaName: a
// lowercase, Postgres-safe identifier derived from the test name plus
// a random suffix for uniqueness across parallel packages.
func generateDatabaseName(t *testing.T) string {
	testName := sanitizeIdentifier(t.Name())
	if len(testName) > 40 {
		testName = testName[:40]
	}
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		t.Fatalf("dbtest: generate random suffix: %v", err)
	}
	return fmt.Sprintf("test_%s_%s", testName, hex.EncodeToString(randomBytes))
}

func sanitizeIdentifier(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r-'A'+'a')
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
