package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeStats struct{ sessions, flows, keys int }

func (f fakeStats) SessionCount() int    { return f.sessions }
func (f fakeStats) ActiveFlowCount() int { return f.flows }
func (f fakeStats) KeyCount() int        { return f.keys }

type fakeBacklog int

func (b fakeBacklog) Pending() int { return int(b) }

func TestCollector(t *testing.T) {
	t.Run("unconfigured_sources_omitted", func(t *testing.T) {
		if n := testutil.CollectAndCount(NewCollector(nil, nil, nil)); n != 0 {
			t.Errorf("empty collector emitted %d metrics", n)
		}
	})

	t.Run("reads_at_scrape_time", func(t *testing.T) {
		c := NewCollector(nil, fakeStats{sessions: 3, flows: 1, keys: 2}, fakeBacklog(4))
		want := `
# HELP quam_active_flows Transcript requests currently in flight.
# TYPE quam_active_flows gauge
quam_active_flows 1
# HELP quam_archive_pending_uploads Archived transcripts not yet mirrored to S3.
# TYPE quam_archive_pending_uploads gauge
quam_archive_pending_uploads 4
# HELP quam_sessions Sessions currently tracked.
# TYPE quam_sessions gauge
quam_sessions 3
`
		err := testutil.CollectAndCompare(c, strings.NewReader(want),
			"quam_active_flows", "quam_archive_pending_uploads", "quam_sessions")
		if err != nil {
			t.Error(err)
		}
	})
}
