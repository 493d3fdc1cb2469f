package effectiveness

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestEffectiveness(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Effectiveness Suite")
}

var _ = Describe("Tracker", func() {
	It("starts a pattern unobserved", func() {
		tr := New()
		_, ok := tr.Get(uuid.New())
		Expect(ok).To(BeFalse())
	})

	It("records a retrieval", func() {
		tr := New()
		id := uuid.New()
		tr.RecordRetrieval(id)
		tr.RecordRetrieval(id)

		stats, ok := tr.Get(id)
		Expect(ok).To(BeTrue())
		Expect(stats.Retrievals).To(BeEquivalentTo(2))
	})

	It("accumulates applications and success/failure counts", func() {
		tr := New()
		id := uuid.New()
		tr.RecordApplication(id, true, 1.0)
		tr.RecordApplication(id, false, -0.5)

		stats, ok := tr.Get(id)
		Expect(ok).To(BeTrue())
		Expect(stats.Applications).To(BeEquivalentTo(2))
		Expect(stats.Successes).To(BeEquivalentTo(1))
		Expect(stats.Failures).To(BeEquivalentTo(1))
		Expect(stats.SuccessRate()).To(Equal(0.5))
	})

	It("seeds EWMA reward with the first sample and smooths thereafter", func() {
		tr := New()
		id := uuid.New()
		tr.RecordApplication(id, true, 1.0)
		stats, _ := tr.Get(id)
		Expect(stats.EWMAReward).To(Equal(1.0))

		tr.RecordApplication(id, true, 0.0)
		stats, _ = tr.Get(id)
		Expect(stats.EWMAReward).To(BeNumerically("<", 1.0))
		Expect(stats.EWMAReward).To(BeNumerically(">", 0.0))
	})

	It("tracks independent patterns without cross-contamination", func() {
		tr := New()
		a, b := uuid.New(), uuid.New()
		tr.RecordRetrieval(a)
		tr.RecordApplication(b, true, 1.0)

		statsA, _ := tr.Get(a)
		statsB, _ := tr.Get(b)
		Expect(statsA.Applications).To(BeEquivalentTo(0))
		Expect(statsB.Retrievals).To(BeEquivalentTo(0))
	})

	It("decays stale EWMA reward toward zero", func() {
		tr := New()
		id := uuid.New()
		tr.RecordApplication(id, true, 1.0)

		e, _ := tr.entries.Load(id)
		ent := e.(*entry)
		ent.mu.Lock()
		ent.stats.LastUpdated = time.Now().UTC().Add(-48 * time.Hour)
		ent.mu.Unlock()

		decayed := tr.DecaySweep(24 * time.Hour)
		Expect(decayed).To(Equal(1))

		stats, _ := tr.Get(id)
		Expect(stats.EWMAReward).To(BeNumerically("<", 1.0))
	})

	It("Remove discards a pattern's tracked stats", func() {
		tr := New()
		id := uuid.New()
		tr.RecordRetrieval(id)
		tr.Remove(id)
		_, ok := tr.Get(id)
		Expect(ok).To(BeFalse())
	})

	It("Snapshot and Len reflect every tracked pattern", func() {
		tr := New()
		tr.RecordRetrieval(uuid.New())
		tr.RecordRetrieval(uuid.New())
		Expect(tr.Len()).To(Equal(2))
		Expect(tr.Snapshot()).To(HaveLen(2))
	})

	It("is safe for concurrent use across distinct patterns", func() {
		tr := New()
		ids := make([]uuid.UUID, 20)
		for i := range ids {
			ids[i] = uuid.New()
		}
		var wg sync.WaitGroup
		for _, id := range ids {
			id := id
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					tr.RecordApplication(id, i%2 == 0, float64(i)/50)
				}
			}()
		}
		wg.Wait()
		Expect(tr.Len()).To(Equal(20))
		for _, id := range ids {
			stats, ok := tr.Get(id)
			Expect(ok).To(BeTrue())
			Expect(stats.Applications).To(BeEquivalentTo(50))
		}
	})
})
