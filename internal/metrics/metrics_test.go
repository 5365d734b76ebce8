package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordPush(t *testing.T) {
	ok := testutil.ToFloat64(WSPushes.WithLabelValues("message", "ok"))
	dropped := testutil.ToFloat64(WSPushes.WithLabelValues("message", "dropped"))

	RecordPush("message", true)
	RecordPush("message", true)
	RecordPush("message", false)

	require.Equal(t, ok+2, testutil.ToFloat64(WSPushes.WithLabelValues("message", "ok")))
	require.Equal(t, dropped+1, testutil.ToFloat64(WSPushes.WithLabelValues("message", "dropped")))
}

func TestObserveHTTP(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/users", "200"))
	ObserveHTTP("GET", "/api/users", 200, 5*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/users", "200")))
}

func TestMessageKind(t *testing.T) {
	require.Equal(t, "direct", MessageKind(true))
	require.Equal(t, "broadcast", MessageKind(false))
}

func TestLint(t *testing.T) {
	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	require.NoError(t, err)
	require.Empty(t, problems)
}
