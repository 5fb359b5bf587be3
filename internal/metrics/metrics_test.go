package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdcount/internal/pipeline"
)

var _ pipeline.StatsHook = (*Metrics)(nil)

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.SetWindowSize(func() int { return 7 })
	m.SetEventDrops(func() uint64 { return 4 })

	m.FrameRead()
	m.FrameRead()
	m.FrameEmpty()
	m.FrameError()
	m.TracksFound(3)
	m.RecordReport(12, nil)
	m.RecordReport(0, errors.New("down"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "crowdcount_frames_read_total 2")
	assert.Contains(t, text, "crowdcount_frames_empty_total 1")
	assert.Contains(t, text, "crowdcount_frame_errors_total 1")
	assert.Contains(t, text, "crowdcount_identities_inserted_total 3")
	assert.Contains(t, text, "crowdcount_reports_sent_total 1")
	assert.Contains(t, text, "crowdcount_report_errors_total 1")
	assert.Contains(t, text, "crowdcount_last_report_people 12")
	assert.Contains(t, text, "crowdcount_window_identities 7")
	assert.Contains(t, text, "crowdcount_live_clients 0")
	assert.Contains(t, text, "crowdcount_live_updates_dropped_total 4")
}
