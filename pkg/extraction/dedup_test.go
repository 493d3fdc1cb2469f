package extraction

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/episodic-memory/pkg/pattern"
)

var _ = Describe("Deduplicate", func() {
	It("merges two highly similar tool sequences into one", func() {
		a, err := pattern.NewToolSequence([]string{"grep", "edit", "test"}, "ctx-hash", 1, 0.6)
		Expect(err).NotTo(HaveOccurred())
		b, err := pattern.NewToolSequence([]string{"grep", "edit", "test"}, "ctx-hash", 1, 0.8)
		Expect(err).NotTo(HaveOccurred())

		out, err := Deduplicate([]*pattern.Pattern{a, b})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(1))
		Expect(out[0].ToolSequence.Frequency).To(Equal(2))
	})

	It("keeps tool sequences with different tools in separate groups", func() {
		a, err := pattern.NewToolSequence([]string{"grep", "edit"}, "ctx-hash", 1, 0.8)
		Expect(err).NotTo(HaveOccurred())
		b, err := pattern.NewToolSequence([]string{"curl", "deploy", "verify"}, "ctx-hash", 1, 0.8)
		Expect(err).NotTo(HaveOccurred())

		out, err := Deduplicate([]*pattern.Pattern{a, b})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(2))
	})

	It("discards a pattern whose confidence falls below the persist floor", func() {
		low, err := pattern.NewToolSequence([]string{"grep", "edit"}, "ctx-hash", 1, 0.2)
		Expect(err).NotTo(HaveOccurred())

		out, err := Deduplicate([]*pattern.Pattern{low})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(BeEmpty())
	})

	It("keeps patterns of different kinds in separate groups", func() {
		ts, err := pattern.NewToolSequence([]string{"grep", "edit"}, "ctx-hash", 1, 0.8)
		Expect(err).NotTo(HaveOccurred())
		dp, err := pattern.NewDecisionPoint("condition", "chosen", nil, 1.0, 0.8)
		Expect(err).NotTo(HaveOccurred())

		out, err := Deduplicate([]*pattern.Pattern{ts, dp})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(2))
	})
})
