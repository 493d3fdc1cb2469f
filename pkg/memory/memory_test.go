package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
	"github.com/jordigilh/episodic-memory/internal/config"
	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/retrieval"
	"github.com/jordigilh/episodic-memory/pkg/reward"
	"github.com/jordigilh/episodic-memory/pkg/storage/memstore"
)

func TestMemory(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Memory Suite")
}

func newTestMemory() *Memory {
	cfg := config.Default()
	m, err := New(cfg, memstore.New(), memstore.NewCache(1000))
	Expect(err).NotTo(HaveOccurred())
	return m
}

var _ = Describe("Memory", func() {
	var m *Memory
	ctx := context.Background()

	BeforeEach(func() {
		m = newTestMemory()
	})

	AfterEach(func() {
		m.Close()
	})

	It("rejects a nil durable backend", func() {
		_, err := New(config.Default(), nil, nil)
		Expect(err).To(HaveOccurred())
	})

	It("runs a full episode lifecycle", func() {
		taskCtx := episode.TaskContext{Domain: "web-api", TaskType: episode.TaskTypeDebugging}
		ep, err := m.StartEpisode(ctx, "caller-1", "fix the login timeout", taskCtx, []string{"auth"})
		Expect(err).NotTo(HaveOccurred())

		Expect(m.LogStep(ctx, "caller-1", ep.ID, episode.ExecutionStep{
			Number: 1,
			Tool:   "grep",
			Action: "search for timeout config",
			Result: &episode.StepResult{Success: true},
		})).To(Succeed())

		completed, err := m.CompleteEpisode(ctx, "caller-1", ep.ID, episode.TaskOutcome{Kind: episode.OutcomeSuccess}, reward.Baseline{})
		Expect(err).NotTo(HaveOccurred())
		Expect(completed.IsComplete()).To(BeTrue())
		Expect(completed.Reward).NotTo(BeNil())
		Expect(completed.Reflection).NotTo(BeNil())

		fetched, err := m.GetEpisode(ctx, ep.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(fetched.ID).To(Equal(ep.ID))
	})

	It("rejects logging a step against an unknown episode", func() {
		err := m.LogStep(ctx, "caller-1", uuid.New(), episode.ExecutionStep{Number: 1, Tool: "grep"})
		Expect(err).To(HaveOccurred())
	})

	It("deletes a completed episode from durable storage and the index", func() {
		taskCtx := episode.TaskContext{Domain: "web-api", TaskType: episode.TaskTypeDebugging}
		ep, err := m.StartEpisode(ctx, "caller-1", "investigate the outage", taskCtx, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = m.CompleteEpisode(ctx, "caller-1", ep.ID, episode.TaskOutcome{Kind: episode.OutcomeSuccess}, reward.Baseline{})
		Expect(err).NotTo(HaveOccurred())

		Expect(m.DeleteEpisode(ctx, "caller-1", ep.ID)).To(Succeed())
		_, err = m.GetEpisode(ctx, ep.ID)
		Expect(err).To(HaveOccurred())
	})

	It("treats deleting an already-deleted episode as a no-op success", func() {
		taskCtx := episode.TaskContext{Domain: "web-api", TaskType: episode.TaskTypeDebugging}
		ep, err := m.StartEpisode(ctx, "caller-1", "clean up the stale session", taskCtx, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = m.CompleteEpisode(ctx, "caller-1", ep.ID, episode.TaskOutcome{Kind: episode.OutcomeSuccess}, reward.Baseline{})
		Expect(err).NotTo(HaveOccurred())

		Expect(m.DeleteEpisode(ctx, "caller-1", ep.ID)).To(Succeed())
		Expect(m.DeleteEpisode(ctx, "caller-1", ep.ID)).To(Succeed())
	})

	It("treats deleting an id that never existed as a no-op success", func() {
		Expect(m.DeleteEpisode(ctx, "caller-1", uuid.New())).To(Succeed())
	})

	It("retrieves completed episodes relevant to a query", func() {
		taskCtx := episode.TaskContext{Domain: "web-api", TaskType: episode.TaskTypeDebugging}
		ep, err := m.StartEpisode(ctx, "caller-1", "debug the failing payment webhook", taskCtx, []string{"payments"})
		Expect(err).NotTo(HaveOccurred())
		_, err = m.CompleteEpisode(ctx, "caller-1", ep.ID, episode.TaskOutcome{Kind: episode.OutcomeSuccess}, reward.Baseline{})
		Expect(err).NotTo(HaveOccurred())

		q, err := retrieval.NewQuery("payment webhook failing", "web-api", episode.TaskTypeUnknown, nil, 10, 100)
		Expect(err).NotTo(HaveOccurred())

		results, err := m.Retrieve(ctx, "caller-1", q)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).NotTo(BeEmpty())
		Expect(results[0].Episode.ID).To(Equal(ep.ID))
	})

	It("reports a health snapshot including pool occupancy", func() {
		report, err := m.Health(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.GeneratedAt).NotTo(BeZero())
		Expect(report.PoolStats.Capacity).To(Equal(m.cfg.Pool.Size))
	})

	It("rejects completing the same episode twice with AlreadyComplete", func() {
		taskCtx := episode.TaskContext{Domain: "web-api", TaskType: episode.TaskTypeDebugging}
		ep, err := m.StartEpisode(ctx, "caller-1", "restart the stuck worker", taskCtx, nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = m.CompleteEpisode(ctx, "caller-1", ep.ID, episode.TaskOutcome{Kind: episode.OutcomeSuccess}, reward.Baseline{})
		Expect(err).NotTo(HaveOccurred())

		_, err = m.CompleteEpisode(ctx, "caller-1", ep.ID, episode.TaskOutcome{Kind: episode.OutcomeSuccess}, reward.Baseline{})
		Expect(err).To(HaveOccurred())
		Expect(apperrors.Is(err, apperrors.TypeAlreadyComplete)).To(BeTrue())
	})

	It("supports administrative cache invalidation with an audit trail", func() {
		taskCtx := episode.TaskContext{Domain: "web-api", TaskType: episode.TaskTypeDebugging}
		ep, err := m.StartEpisode(ctx, "caller-1", "resolve the queue backlog", taskCtx, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = m.CompleteEpisode(ctx, "caller-1", ep.ID, episode.TaskOutcome{Kind: episode.OutcomeSuccess}, reward.Baseline{})
		Expect(err).NotTo(HaveOccurred())

		Expect(m.Admin().InvalidateCache(ctx, "operator-1", ep.ID, "manual refresh")).To(Succeed())

		trail := m.Admin().AuditTrail()
		Expect(trail).To(HaveLen(1))
		Expect(trail[0].Action).To(Equal("invalidate_cache"))
		Expect(trail[0].CallerID).To(Equal("operator-1"))
	})

	It("evicts the configured number of episodes by capacity policy", func() {
		taskCtx := episode.TaskContext{Domain: "web-api", TaskType: episode.TaskTypeDebugging}
		var ids []uuid.UUID
		for i := 0; i < 3; i++ {
			ep, err := m.StartEpisode(ctx, "caller-1", "resolve an incident", taskCtx, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.CompleteEpisode(ctx, "caller-1", ep.ID, episode.TaskOutcome{Kind: episode.OutcomeSuccess}, reward.Baseline{})
			Expect(err).NotTo(HaveOccurred())
			ids = append(ids, ep.ID)
		}

		evicted, err := m.Admin().Evict(ctx, "operator-1", 2, "capacity pressure")
		Expect(err).NotTo(HaveOccurred())
		Expect(evicted).To(HaveLen(2))

		for _, id := range evicted {
			_, err := m.durable.GetEpisode(ctx, id)
			Expect(err).To(HaveOccurred())
		}

		trail := m.Admin().AuditTrail()
		Expect(trail[len(trail)-1].Action).To(Equal("evict"))
	})
})
