// Package testhelpers starts the PostgreSQL container the integration tests
// share and hands out owner-scoped contexts on it.
package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/pkg/database"
)

const (
	postgresImage    = "postgres:17-alpine"
	postgresDB       = "obra_engine_test"
	postgresUser     = "obra"
	postgresPassword = "test_password"
)

// EngineDB is a migrated database running in a throwaway container.
type EngineDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	engineOnce sync.Once
	engineDB   *EngineDB
	engineErr  error
)

// GetEngineDB returns the database shared by every integration test in the
// run, starting the container and applying migrations on first use. It skips
// in -short mode since it needs Docker.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	engineOnce.Do(func() {
		engineDB, engineErr = startEngineDB(context.Background())
	})
	if engineErr != nil {
		t.Fatalf("Failed to set up engine database: %v", engineErr)
	}
	return engineDB
}

func startEngineDB(ctx context.Context) (*EngineDB, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       postgresDB,
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
			},
			// Postgres logs readiness twice: once for the init server, once for the real one.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	endpoint, err := container.PortEndpoint(ctx, "5432/tcp", "")
	if err != nil {
		return nil, fmt.Errorf("resolve postgres endpoint: %w", err)
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", postgresUser, postgresPassword, endpoint, postgresDB)

	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()
	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, err
	}

	// NewConnection retries its first ping.
	db, err := database.NewConnection(ctx, &database.Config{URL: connStr, MaxConnections: 5})
	if err != nil {
		return nil, err
	}

	return &EngineDB{Container: container, DB: db, ConnStr: connStr}, nil
}
