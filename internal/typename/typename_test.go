package typename

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct{}

func TestOf(t *testing.T) {
	want := "github.com/ledgerline/ledgerline/internal/typename.sample"
	require.Equal(t, want, Of(sample{}))
	require.Equal(t, want, Of(&sample{}))
	require.Equal(t, want, For[sample]())
	require.Equal(t, want, For[*sample]())
	require.Empty(t, Of(nil))

	// cached lookups stay stable
	require.Equal(t, Of(sample{}), Of(sample{}))
}
