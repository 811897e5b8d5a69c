package cmcd

import (
	"strings"
	"testing"

	"hls-cmcd/internal/platform/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_WithMetrics(t *testing.T) {
	met := metrics.New()
	p := newFakePlayer()
	m := newTestManager(p, headerConfig(), WithMetrics(met))

	m.SetBuffering(false)
	m.SetBuffering(true)
	m.SetBuffering(true)
	m.ApplyData(RequestTypeSegment, newRequest(), videoSegmentContext())

	query := newTestManager(p, queryConfig(), WithMetrics(met))
	query.ApplyData(RequestTypeManifest, newRequest(), &RequestContext{Type: AdvancedRequestTypeMasterPlaylist})

	delete(p.buffered, MediaKindVideo)
	m.ApplyData(RequestTypeSegment, newRequest(), videoSegmentContext())

	expected := `
# HELP cmcd_decorated_requests_total Total number of outgoing requests decorated with CMCD data
# TYPE cmcd_decorated_requests_total counter
cmcd_decorated_requests_total{mode="headers",object_type="v"} 1
cmcd_decorated_requests_total{mode="query",object_type="m"} 1
# HELP cmcd_derivation_errors_total Total number of failures while deriving CMCD fields
# TYPE cmcd_derivation_errors_total counter
cmcd_derivation_errors_total{category="segment"} 1
# HELP cmcd_playback_stalls_total Total number of rebuffering events after playback started
# TYPE cmcd_playback_stalls_total counter
cmcd_playback_stalls_total 1
`
	err := testutil.GatherAndCompare(met.Registry(), strings.NewReader(expected),
		"cmcd_decorated_requests_total", "cmcd_derivation_errors_total", "cmcd_playback_stalls_total")
	require.NoError(t, err)
	assert.Equal(t, "session-1", m.SessionID())
}
