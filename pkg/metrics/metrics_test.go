package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should register its collectors there", func() {
				So(manager, ShouldNotBeNil)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
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

			Convey("Then the namespace and labels should be applied", func() {
				So(manager.namespace, ShouldEqual, "test_namespace")
				So(manager.subsystem, ShouldEqual, "test_subsystem")
				manager.rendersTotal.Inc()
				So(testutil.ToFloat64(manager.rendersTotal), ShouldEqual, 1)
			})
		})

		Convey("When empty options are given", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithCustomLabels(nil),
				WithPrometheusRegistry(registry),
			)

			Convey("Then defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "fleetreport")
				So(manager.subsystem, ShouldEqual, "pipeline")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
				So(manager.customLabels, ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording render metrics", func() {
			before := testutil.ToFloat64(globalManager.rendersTotal)
			RecordRender(1024)
			RecordRenderAttempt()
			RecordRenderLatency(120)
			RecordRenderFailure("transient")
			RecordOverageSignal()

			Convey("Then the render counter should advance", func() {
				So(testutil.ToFloat64(globalManager.rendersTotal), ShouldEqual, before+1)
			})
		})

		Convey("When publishing quota gauges", func() {
			UpdateQuota(40, 100, 60)

			Convey("Then gauges should reflect the values", func() {
				So(testutil.ToFloat64(globalManager.quotaUnitsUsed), ShouldEqual, 40)
				So(testutil.ToFloat64(globalManager.quotaUnitsMax), ShouldEqual, 100)
				So(testutil.ToFloat64(globalManager.quotaUnitsRemaining), ShouldEqual, 60)
			})
		})

		Convey("When recording cache, batch and HTTP metrics", func() {
			So(func() {
				RecordCacheHit()
				RecordCacheMiss("absent")
				RecordCacheEviction("capacity", 10)
				UpdateCacheSize(5, 4096)
				RecordBatch("completed", 12.5)
				RecordDelivery("delivered", "cache")
				UpdateBatchQueueSize(2)
				RecordBatchQueueReject()
				RecordQuotaRejection()
				RecordHTTPRequest("/status", "GET", "200")
				RecordHTTPRequestDuration("/status", "GET", "200", 3)
			}, ShouldNotPanic)

			Convey("Then the registry should be gatherable", func() {
				_, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent metric writers", t, func() {
		before := testutil.ToFloat64(globalManager.cacheHits)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					RecordCacheHit()
				}
			}()
		}
		wg.Wait()

		Convey("Then every increment should be counted", func() {
			So(testutil.ToFloat64(globalManager.cacheHits), ShouldEqual, before+1000)
		})
	})
}
