package mongo

import (
	"context"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Cleanup(func())
}

// NewTestContainer starts a MongoDB server for the duration of the test and
// returns its connection URI.
func NewTestContainer(t Testing) string {
	mongoC, err := testcontainers.Run(
		t.Context(), "mongo:7",
		testcontainers.WithExposedPorts("27017/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp"),
			wait.ForLog("Waiting for connections"),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(mongoC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	endpoint, err := mongoC.PortEndpoint(t.Context(), "27017/tcp", "mongodb")
	require.NoError(t, err)
	t.Logf("mongo: %s", endpoint)
	return endpoint
}
