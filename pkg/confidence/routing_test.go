package confidence_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/justLukaBB/creditor-email-matcher/pkg/confidence"
	"github.com/justLukaBB/creditor-email-matcher/pkg/models"
)

var _ = Describe("ComputeAggregate", func() {
	It("takes the weaker of extraction and match confidence", func() {
		agg := confidence.ComputeAggregate(confidence.Dimensions{
			ExtractionConfidence: 0.92,
			MatchConfidence:      0.60,
		})
		Expect(agg.Overall).To(Equal(0.60))
		Expect(agg.Weakest).To(Equal("match_confidence"))
	})

	It("excludes intent confidence from the aggregate", func() {
		agg := confidence.ComputeAggregate(confidence.Dimensions{
			ExtractionConfidence: 0.95,
			MatchConfidence:      0.95,
			IntentConfidence:     0.10,
		})
		Expect(agg.Overall).To(Equal(0.95))
	})
})

var _ = Describe("Route", func() {
	thresholds := confidence.DefaultThresholds()

	DescribeTable("three-tier dispatch",
		func(overall float64, expected confidence.Action) {
			Expect(confidence.Route(overall, thresholds)).To(Equal(expected))
		},
		Entry("above HIGH routes AUTO_UPDATE", 0.90, confidence.ActionAutoUpdate),
		Entry("exactly HIGH routes UPDATE_AND_NOTIFY, not AUTO_UPDATE", 0.85, confidence.ActionUpdateAndNotify),
		Entry("between LOW and HIGH routes UPDATE_AND_NOTIFY", 0.70, confidence.ActionUpdateAndNotify),
		Entry("exactly LOW routes UPDATE_AND_NOTIFY", 0.60, confidence.ActionUpdateAndNotify),
		Entry("below LOW routes MANUAL_REVIEW", 0.40, confidence.ActionManualReview),
	)
})

var _ = Describe("ReviewReasonFor", func() {
	It("prefers conflict_detected over low_confidence when both apply", func() {
		Expect(confidence.ReviewReasonFor(true)).To(Equal(models.ReasonConflictDetected))
	})

	It("falls back to low_confidence when there is no conflict", func() {
		Expect(confidence.ReviewReasonFor(false)).To(Equal(models.ReasonLowConfidence))
	})
})
