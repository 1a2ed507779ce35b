package nats

import (
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ledgerline/ledgerline/internal/containertest"
)

// natsImage pins the server version the integration tests run against.
const natsImage = "nats:2.11-alpine"

// NewTestContainer starts a disposable NATS server with JetStream enabled and
// returns a Connector for it. The container is terminated via t.Cleanup.
func NewTestContainer(t containertest.T) Connector {
	ctx := t.Context()
	natsC, err := testcontainers.Run(
		ctx, natsImage,
		testcontainers.WithCmd("--jetstream", "--server_name", "ledgerline-test"),
		testcontainers.WithExposedPorts("4222/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("4222/tcp"),
			wait.ForLog("Server is ready"),
		),
	)
	require.NoError(t, err)
	containertest.TerminateOnCleanup(t, natsC)

	ip, err := natsC.ContainerIP(ctx)
	require.NoError(t, err)
	t.Logf("nats ip: %s", ip)
	return ConnectURL("nats://" + ip + ":4222")
}
