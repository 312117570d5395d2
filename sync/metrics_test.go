package sync

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeRequest("e", outcomeOK)
		m.observeFetched("depositEvents", 3)
		m.observeInsert(InsertResult{Inserted: 1})
		m.observeCursor("depositEvents", "1000")
		m.observeRun(newTestClock().Now(), newTestClock().Now(), nil)
	})
}

func TestMetrics_RecordsSyncPass(t *testing.T) {
	deposits := mustCategory(t, "depositEvents")
	fake := newFakeSubgraph()
	fake.add(deposits, "1000", "1010")
	client, endpoints := newTestClient(t, newTestClock(), fake)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	client.metrics = metrics
	store := newFakeEventStore()
	store.docs["0x1000-0"] = StoredEvent{ID: "0x1000-0"}
	o := newTestOrchestrator(t, client, store, OrchestratorOptions{
		Categories: []CategoryDescriptor{deposits},
		Metrics:    metrics,
	})

	_, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.upstreamRequests.WithLabelValues(endpoints[0], outcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.eventsFetched.WithLabelValues("depositEvents")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventsInserted))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventsDuplicate))
	assert.Equal(t, 1010.0, testutil.ToFloat64(metrics.cursorWatermark.WithLabelValues("depositEvents")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.runDuration))
}
