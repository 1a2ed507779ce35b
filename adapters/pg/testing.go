package pg

import (
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ledgerline/ledgerline/internal/containertest"
)

// pgImage pins the server version the integration tests run against.
const pgImage = "postgres:17-alpine"

// NewTestContainer starts a disposable PostgreSQL container and returns a DSN
// for it. The container is terminated via t.Cleanup.
func NewTestContainer(t containertest.T) string {
	ctx := t.Context()
	pgC, err := testcontainers.Run(
		ctx, pgImage,
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "ledger",
			"POSTGRES_PASSWORD": "ledger",
			"POSTGRES_DB":       "ledger",
		}),
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections"),
		),
	)
	require.NoError(t, err)
	containertest.TerminateOnCleanup(t, pgC)

	ip, err := pgC.ContainerIP(ctx)
	require.NoError(t, err)
	t.Logf("postgres ip: %s", ip)
	return "postgres://ledger:ledger@" + ip + ":5432/ledger?sslmode=disable"
}
