package store_test

import (
	"context"
	"time"

	"github.com/verbatimhq/verbatim/core/schema"
	"github.com/verbatimhq/verbatim/core/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Accuracy store", func() {
	var (
		s   *store.Store
		ctx context.Context
		now time.Time
	)

	BeforeEach(func() {
		s = openTestStore()
		ctx = context.Background()
		now = time.Now().UTC()
	})

	It("windows metrics by creation time", func() {
		old := &schema.AccuracyMetric{
			JobID: "job-old", OrganizationID: "org-1", Mode: schema.ModeFast,
			WordErrorProxy: 0.2, CreatedAt: now.Add(-10 * 24 * time.Hour),
		}
		fresh := &schema.AccuracyMetric{
			JobID: "job-new", OrganizationID: "org-1", Mode: schema.ModeFast,
			WordErrorProxy: 0.1, CreatedAt: now.Add(-time.Hour),
		}
		Expect(s.Accuracy.InsertMetric(ctx, old)).To(Succeed())
		Expect(s.Accuracy.InsertMetric(ctx, fresh)).To(Succeed())

		metrics, err := s.Accuracy.MetricsSince(ctx, "org-1", now.Add(-7*24*time.Hour), now)
		Expect(err).ToNot(HaveOccurred())
		Expect(metrics).To(HaveLen(1))
		Expect(metrics[0].JobID).To(Equal("job-new"))
	})

	It("lists organizations with recent metrics", func() {
		for _, org := range []string{"org-1", "org-1", "org-2"} {
			Expect(s.Accuracy.InsertMetric(ctx, &schema.AccuracyMetric{
				JobID: "j", OrganizationID: org, Mode: schema.ModeBalanced, CreatedAt: now,
			})).To(Succeed())
		}
		orgs, err := s.Accuracy.OrganizationsWithMetrics(ctx, now.Add(-time.Hour), now.Add(time.Hour))
		Expect(err).ToNot(HaveOccurred())
		Expect(orgs).To(ConsistOf("org-1", "org-2"))
	})

	It("upserts reports so the aggregation can re-run", func() {
		periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		report := &schema.AccuracyReport{
			OrganizationID: "org-1",
			Period:         schema.PeriodWeekly,
			PeriodStart:    periodStart,
			SampleCount:    12,
			Modes: map[schema.TranscriptionMode]schema.ModeAccuracy{
				schema.ModeFast: {SampleCount: 12, AvgWordError: 0.18, AvgConfidence: 0.81},
			},
		}
		Expect(s.Accuracy.SaveReport(ctx, report)).To(Succeed())

		report.SampleCount = 15
		Expect(s.Accuracy.SaveReport(ctx, report)).To(Succeed())

		reports, err := s.Accuracy.Reports(ctx, "org-1", schema.PeriodWeekly, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(reports).To(HaveLen(1), "same period must overwrite, not duplicate")
		Expect(reports[0].SampleCount).To(Equal(15))
		Expect(reports[0].Modes[schema.ModeFast].AvgWordError).To(BeNumerically("~", 0.18, 0.001))
	})
})
