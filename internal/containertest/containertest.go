// Package containertest holds the shared pieces of the adapters' disposable
// test container helpers.
package containertest

import (
	"context"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

// T is the subset of testing.T the container helpers need.
type T interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Cleanup(func())
}

// TerminateOnCleanup registers container teardown with the test.
func TerminateOnCleanup(t T, c testcontainers.Container) {
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})
}
