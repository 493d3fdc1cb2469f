package extraction

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/episodic-memory/pkg/pattern"
)

var _ = Describe("DeriveHeuristics", func() {
	It("folds a decision point cluster into one heuristic", func() {
		a, err := pattern.NewDecisionPoint("request times out", "retry with backoff", nil, 0.9, 0.7)
		Expect(err).NotTo(HaveOccurred())
		b, err := pattern.NewDecisionPoint("request times out", "retry with backoff", nil, 0.9, 0.9)
		Expect(err).NotTo(HaveOccurred())

		out, err := DeriveHeuristics([]*pattern.Pattern{a, b})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(1))
		Expect(out[0].ConditionPredicate).To(Equal("request times out"))
		Expect(out[0].ActionTemplate).To(Equal("retry with backoff"))
		Expect(out[0].EvidenceCount).To(Equal(2))
	})

	It("derives a heuristic from an error recovery cluster", func() {
		p, err := pattern.NewErrorRecovery("grep: connection timeout", []string{"retry", "increase timeout"}, 0.8, 0.75)
		Expect(err).NotTo(HaveOccurred())

		out, err := DeriveHeuristics([]*pattern.Pattern{p})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(1))
		Expect(out[0].ConditionPredicate).To(Equal("grep: connection timeout"))
		Expect(out[0].ActionTemplate).To(Equal("retry then increase timeout"))
	})

	It("drops a cluster whose mean confidence falls below the heuristic floor", func() {
		p, err := pattern.NewDecisionPoint("condition", "action", nil, 0.5, 0.3)
		Expect(err).NotTo(HaveOccurred())

		out, err := DeriveHeuristics([]*pattern.Pattern{p})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(BeEmpty())
	})

	It("ignores tool sequence and context pattern candidates entirely", func() {
		ts, err := pattern.NewToolSequence([]string{"grep", "edit"}, "ctx-hash", 1, 0.9)
		Expect(err).NotTo(HaveOccurred())

		out, err := DeriveHeuristics([]*pattern.Pattern{ts})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(BeEmpty())
	})
})
