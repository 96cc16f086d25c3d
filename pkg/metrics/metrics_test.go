package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOp("add", time.Now(), nil)
	m.ObserveResize("uri")
	m.SetEntries("uri", 3)
	m.ObserveSearch("miss", time.Now(), 0, nil)
	m.ObserveCache(true)
	m.ObserveFlush(nil)
	m.ObserveEvent("add", nil)
}

func TestObserveOpAndResize(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveOp("add", time.Now(), nil)
	m.ObserveOp("add", time.Now(), errors.New("boom"))
	m.ObserveResize("version")
	m.ObserveResize("version")
	m.SetEntries("uri", 7)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexOperations.WithLabelValues("add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexOperations.WithLabelValues("add", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexResizesTotal.WithLabelValues("version")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.IndexEntries.WithLabelValues("uri")))
}
