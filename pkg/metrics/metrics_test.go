package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "starkpi")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.runsTotal.WithLabelValues("completed", "clean").Inc()

			Convey("Then metrics are registered under the custom names", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				var found bool
				for _, f := range families {
					if f.GetName() == "test_namespace_test_subsystem_runs_total" {
						found = true
						So(f.GetMetric()[0].GetLabel(), ShouldNotBeEmpty)
					}
				}
				So(found, ShouldBeTrue)
			})
		})
	})
}

func TestManagerCounters(t *testing.T) {
	Convey("Given an isolated manager", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithPrometheusRegistry(registry))

		Convey("When counters are incremented", func() {
			m.recordsTotal.WithLabelValues("accepted").Add(10)
			m.recordsTotal.WithLabelValues("duplicate").Add(3)
			m.qualityDeviations.WithLabelValues("row_count").Inc()

			Convey("Then the values are observable", func() {
				So(testutil.ToFloat64(m.recordsTotal.WithLabelValues("accepted")), ShouldEqual, 10)
				So(testutil.ToFloat64(m.recordsTotal.WithLabelValues("duplicate")), ShouldEqual, 3)
				So(testutil.ToFloat64(m.qualityDeviations.WithLabelValues("row_count")), ShouldEqual, 1)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics", t, func() {
		Convey("When recording run metrics", func() {
			Convey("Then nothing panics", func() {
				So(func() {
					RecordRun("completed", "clean")
					RecordRun("failed", "")
					RecordRunDuration(120)
					RecordStageDuration("dimensions", 10)
					RecordRecords("accepted", 10)
					RecordRecords("malformed", 0)
					RecordKPIRowsRecomputed(2)
					RecordQualityDeviation("funnel_invariant")
					UpdateLastRunUnix("completed", 1.7e9)
					RecordLockWait(3)
					RecordLockContention()
				}, ShouldNotPanic)
			})
		})

		Convey("When recording extraction and storage metrics", func() {
			Convey("Then nothing panics", func() {
				So(func() {
					RecordExtractLatency(250)
					RecordExtractError("http_5xx")
					RecordExtractRetry()
					RecordExtractRecords(100)
					RecordRepositoryQueryLatency("kpis", 1.5)
					UpdateRepositoryRows("fact_analytics", 100)
					RecordReplicaPublish(4, nil)
					RecordReplicaPublish(0, errors.New("down"))
				}, ShouldNotPanic)
			})
		})

		Convey("When recording HTTP, queue and worker metrics", func() {
			Convey("Then nothing panics", func() {
				So(func() {
					RecordHTTPRequest("/healthz", "GET", "200")
					RecordHTTPRequestDuration("/kpis", "GET", "200", 5.0)
					UpdateQueueSize(1)
					UpdateQueueCapacity(4)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueEnqueueError()
					RecordQueueCoalesced()
					RecordQueueProcessingLatency(2)
					RecordWorkerProcessingLatency(100)
					RecordWorkerError()
					UpdateWorkerBusy(true)
					UpdateWorkerBusy(false)
					RecordErrorByComponent("repository", "query")
					RecordErrorByEndpoint("/runs", "POST", "queue_full")
					UpdateSystemMemoryUsage(1 << 20)
					UpdateSystemGoroutineCount(12)
					RecordSystemGCPauseTime(0.3)
				}, ShouldNotPanic)
			})
		})

		Convey("When reading the registry", func() {
			Convey("Then it is the custom one", func() {
				So(GetRegistry(), ShouldEqual, customRegistry)
			})
		})
	})
}
