package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Capture(t *testing.T) {
	m := New(nil)

	m.ObserveCapture("manual", 2048, 1, time.Second, nil)
	m.ObserveCapture("automatic", 0, 0, time.Second, errors.New("space fetch failed"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.capturesTotal.WithLabelValues("manual", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.capturesTotal.WithLabelValues("automatic", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failedFetches))
}

func TestMetrics_Restore(t *testing.T) {
	m := New(nil)

	m.RestoreStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeRestores))

	m.ObserveOp("load_roles", "ok")
	m.ObserveOp("load_roles", "ok")
	m.ObserveOp("load_roles", "skipped")
	m.RestoreFinished("completed", time.Minute)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRestores))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.restoreOps.WithLabelValues("load_roles", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.restoreOps.WithLabelValues("load_roles", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.restoresTotal.WithLabelValues("completed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveCapture("manual", 1, 0, time.Second, nil)
		m.RestoreStarted()
		m.ObserveOp("load_bans", "ok")
		m.RestoreFinished("failed", time.Second)
		m.SetSessions(3)
		m.AddPruned(2)
	})
}

func TestMetrics_RegisterAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetSessions(2)
	m.AddPruned(3)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "guild_backup_restore_sessions 2"))
	assert.True(t, strings.Contains(body, "guild_backup_retention_pruned_total 3"))
}
