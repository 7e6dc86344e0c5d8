package services

import (
	"context"
	"time"

	"github.com/verbatimhq/verbatim/core/schema"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PipelineStats", func() {
	var stats *PipelineStats

	BeforeEach(func() {
		stats = NewPipelineStats(time.Hour)
		DeferCleanup(stats.Stop)
	})

	It("aggregates terminal jobs by state and mode", func() {
		stats.RecordJob(schema.ModeBalanced, schema.StateCompleted, 10*time.Second)
		stats.RecordJob(schema.ModeBalanced, schema.StateCompleted, 20*time.Second)
		stats.RecordJob(schema.ModeFast, schema.StateFailedPermanent, 30*time.Second)

		byState, byMode, avg := stats.Snapshot()
		Expect(byState).To(HaveKeyWithValue(schema.StateCompleted, int64(2)))
		Expect(byState).To(HaveKeyWithValue(schema.StateFailedPermanent, int64(1)))
		Expect(byMode).To(HaveKeyWithValue(schema.ModeBalanced, int64(2)))
		Expect(byMode).To(HaveKeyWithValue(schema.ModeFast, int64(1)))
		Expect(avg).To(BeNumerically("~", 20.0, 1e-9))
	})

	It("returns empty aggregates without records", func() {
		byState, byMode, avg := stats.Snapshot()
		Expect(byState).To(BeEmpty())
		Expect(byMode).To(BeEmpty())
		Expect(avg).To(BeZero())
	})

	It("excludes records older than the window", func() {
		stats.RecordJob(schema.ModeFast, schema.StateCompleted, 10*time.Second)
		stats.mu.Lock()
		stats.records[0].Timestamp = time.Now().UTC().Add(-2 * time.Hour)
		stats.mu.Unlock()

		byState, _, _ := stats.Snapshot()
		Expect(byState).To(BeEmpty())
	})

	It("prunes expired records and enforces the record ceiling", func() {
		for i := 0; i < 5; i++ {
			stats.RecordJob(schema.ModeFast, schema.StateCompleted, time.Second)
		}
		stats.RecordJob(schema.ModeFast, schema.StateCancelled, time.Second)
		stats.mu.Lock()
		stats.maxRecords = 3
		stats.records[5].Timestamp = time.Now().UTC().Add(-2 * time.Hour)
		stats.mu.Unlock()

		stats.prune()

		stats.mu.RLock()
		defer stats.mu.RUnlock()
		Expect(stats.records).To(HaveLen(3))
		for _, r := range stats.records {
			Expect(r.State).To(Equal(schema.StateCompleted))
		}
	})

	It("stopping twice is safe", func() {
		stats.Stop()
		stats.Stop()
	})
})

var _ = Describe("MetricsService", func() {
	It("registers the pipeline instruments and records without error", func() {
		m, err := NewMetricsService()
		Expect(err).ToNot(HaveOccurred())

		m.ObserveAPICall("POST", "/v1/jobs", 0.012)
		m.ObserveJob(schema.ModePrecision, schema.StateCompleted, 93.5)
		m.ObserveWordError(schema.ModePrecision, 0.08)

		Expect(m.Shutdown(context.Background())).To(Succeed())
	})
})
