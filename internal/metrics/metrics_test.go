package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imebridge/internal/ime"
	"imebridge/internal/jobs"
)

var (
	_ ime.Observer  = (*Reconciler)(nil)
	_ jobs.Observer = (*Reconciler)(nil)
)

func TestReconcilerCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewReconciler(reg)
	require.NoError(t, err)

	m.PredictionConfirmed()
	m.PredictionConfirmed()
	m.PredictionMissed()
	m.EngineReset()
	m.Resync()
	m.EngineCommandDropped("focus")
	m.JobExecuted("focus", 2*time.Millisecond)
	m.JobsDiscarded(3)
	m.JobsDiscarded(0)
	m.KeyReplay(true)
	m.KeyReplay(false)
	m.KeyReplay(false)
	m.SessionCreated()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.predictions.WithLabelValues(ResultConfirmed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.predictions.WithLabelValues(ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resets))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resyncs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues(ResultDropped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues(ResultExecuted)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.jobs.WithLabelValues(ResultDiscarded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replays.WithLabelValues(ResultHit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.replays.WithLabelValues(ResultMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))

	m.SessionDestroyed()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessions))
}

func TestReconcilerSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewReconciler(reg)
	require.NoError(t, err)
	b, err := NewReconciler(reg)
	require.NoError(t, err)

	a.Resync()
	b.Resync()
	assert.Equal(t, 2.0, testutil.ToFloat64(a.resyncs))
}

func TestNilReconciler(t *testing.T) {
	var m *Reconciler
	assert.NotPanics(t, func() {
		m.PredictionConfirmed()
		m.PredictionMissed()
		m.EngineReset()
		m.Resync()
		m.EngineCommandDropped("reset")
		m.KeyReplay(true)
		m.JobExecuted("reset", time.Millisecond)
		m.JobsDiscarded(1)
		m.SessionCreated()
		m.SessionDestroyed()
	})
}

type fakeDisplay struct {
	clients int
	id      int
	shown   bool
}

func (d *fakeDisplay) ClientCount() int     { return d.clients }
func (d *fakeDisplay) Display() int         { return d.id }
func (d *fakeDisplay) AnyWindowShown() bool { return d.shown }

func TestHandlerExportsDisplay(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewReconciler(reg)
	require.NoError(t, err)
	m.PredictionConfirmed()
	require.NoError(t, RegisterDisplay(reg, &fakeDisplay{clients: 2, id: -1, shown: true}))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	for _, want := range []string{
		`imebridge_predictions_total{result="confirmed"} 1`,
		"imebridge_display_clients 2",
		"imebridge_display_id -1",
		"imebridge_display_window_shown 1",
	} {
		assert.True(t, strings.Contains(out, want), "missing %q in\n%s", want, out)
	}
}
