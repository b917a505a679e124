//go:build integration

package integration

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"purchasedash/config"
	"purchasedash/internal/app"
	"purchasedash/internal/storage"
	"purchasedash/tests/integration/dbassert"
)

// Backends every test runs against.
var backends = []string{storage.TypePostgreSQL, storage.TypeMongoDB}

// TestServerConfig configures how the test server is set up.
type TestServerConfig struct {
	// DBType is either "postgresql" or "mongodb"
	DBType string

	// MasterKey sets the authentication master key (empty = unauthenticated)
	MasterKey string

	// CacheTTL bounds series cache entries; zero keeps them until invalidated.
	CacheTTL time.Duration
}

// TestServerFixture holds test server resources.
type TestServerFixture struct {
	// ServerURL is the base URL of the test server
	ServerURL string

	// App is the running application
	App *app.App

	// PgPool is the PostgreSQL connection pool (for DB assertions)
	PgPool *pgxpool.Pool

	// MongoDb is the MongoDB database (for DB assertions)
	MongoDb *mongo.Database

	// DBType is the configured database type
	DBType string
}

// SetupTestServer starts the application on a free port against a clean database.
func SetupTestServer(t *testing.T, cfg TestServerConfig) *TestServerFixture {
	t.Helper()

	clearBackend(t, cfg.DBType)

	port, err := findAvailablePort()
	require.NoError(t, err, "failed to find available port")

	application, err := app.New(env.ctx, app.Config{
		AppConfig:  buildAppConfig(cfg, port),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err, "failed to create app")

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	go func() {
		_ = application.Start(fmt.Sprintf("127.0.0.1:%d", port))
	}()

	err = waitForServer(serverURL + healthPath)
	require.NoError(t, err, "server failed to become healthy")

	fixture := &TestServerFixture{
		ServerURL: serverURL,
		App:       application,
		DBType:    cfg.DBType,
	}
	switch cfg.DBType {
	case storage.TypePostgreSQL:
		fixture.PgPool = env.pgPool
	case storage.TypeMongoDB:
		fixture.MongoDb = env.mongoDB
	}

	t.Cleanup(func() { fixture.Shutdown(t) })
	return fixture
}

// CountRecords reads the stored record count for collection straight from the database.
func (f *TestServerFixture) CountRecords(t *testing.T, collection string) int64 {
	t.Helper()
	if f.DBType == storage.TypeMongoDB {
		return dbassert.CountRecordsMongo(t, f.MongoDb, collection)
	}
	return dbassert.CountRecords(t, f.PgPool, collection)
}

// Shutdown gracefully shuts down the test server.
func (f *TestServerFixture) Shutdown(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if f.App != nil {
		_ = f.App.Shutdown(ctx)
	}
}

// buildAppConfig creates an application config for testing.
func buildAppConfig(cfg TestServerConfig, port int) *config.Config {
	appCfg := config.DefaultConfig()
	appCfg.Server.Port = fmt.Sprintf("%d", port)
	appCfg.Server.MasterKey = cfg.MasterKey
	appCfg.Server.SwaggerEnabled = false
	appCfg.Analytics.CacheTTL = cfg.CacheTTL

	appCfg.Storage.Type = cfg.DBType
	appCfg.Storage.PostgreSQL.URL = env.pgURL
	appCfg.Storage.MongoDB.URL = env.mongoURL
	appCfg.Storage.MongoDB.Database = testDatabase

	return appCfg
}

func clearBackend(t *testing.T, dbType string) {
	t.Helper()
	switch dbType {
	case storage.TypePostgreSQL:
		dbassert.ClearRecords(t, env.pgPool)
	case storage.TypeMongoDB:
		dbassert.ClearRecordsMongo(t, env.mongoDB)
	default:
		t.Fatalf("unsupported backend %q", dbType)
	}
}

// waitForServer waits for the server to become healthy.
func waitForServer(healthURL string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	for i := 0; i < 50; i++ {
		resp, err := client.Get(healthURL)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server did not become healthy within timeout")
}

// findAvailablePort finds an available TCP port on loopback.
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = listener.Close() }()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
