package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	// collectors must be usable after Init
	ObserveOperation("demo", "search", time.Second)
	IncRetry("demo", "search")
	IncPageFetched("demo", "2xx")
	IncResult("result")
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2xx", ClassifyStatus(200))
	require.Equal(t, "3xx", ClassifyStatus(302))
	require.Equal(t, "4xx", ClassifyStatus(404))
	require.Equal(t, "5xx", ClassifyStatus(503))
	require.Equal(t, "other", ClassifyStatus(0))
}
