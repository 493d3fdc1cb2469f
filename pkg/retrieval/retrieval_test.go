package retrieval

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/index"
	"github.com/jordigilh/episodic-memory/pkg/querycache"
	"github.com/jordigilh/episodic-memory/pkg/storage/memstore"
)

func TestRetrieval(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Retrieval Suite")
}

func storeEpisode(store *memstore.Durable, description, domain string, taskType episode.TaskType, tags []string, end time.Time) *episode.Episode {
	ep, err := episode.New(description, episode.TaskContext{Domain: domain, TaskType: taskType}, tags)
	Expect(err).NotTo(HaveOccurred())
	Expect(ep.Complete(episode.TaskOutcome{Kind: episode.OutcomeSuccess})).To(Succeed())
	ep.EndTime = &end
	tx, err := store.BeginTx(context.Background())
	Expect(err).NotTo(HaveOccurred())
	Expect(store.PutEpisode(context.Background(), tx, ep)).To(Succeed())
	return ep
}

var _ = Describe("Retriever", func() {
	var (
		store *memstore.Durable
		idx   *index.Index
		cache *querycache.Cache
	)

	BeforeEach(func() {
		store = memstore.New()
		idx = index.New()
		cache = querycache.New(10)
	})

	It("ranks a text-relevant episode above an irrelevant one", func() {
		now := time.Now().UTC()
		relevant := storeEpisode(store, "debug the failing login endpoint", "web-api", episode.TaskTypeDebugging, []string{"auth"}, now)
		irrelevant := storeEpisode(store, "refactor the billing invoice generator", "web-api", episode.TaskTypeRefactoring, []string{"billing"}, now)
		idx.Insert(relevant)
		idx.Insert(irrelevant)

		r := New(store, idx, cache, Config{EnableSpatiotemporalIndex: true, RecencyHalfLife: 14 * 24 * time.Hour}, nil)
		q, err := NewQuery("login endpoint failing", "web-api", episode.TaskTypeUnknown, nil, 10, 100)
		Expect(err).NotTo(HaveOccurred())

		results, err := r.Retrieve(context.Background(), q)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).NotTo(BeEmpty())
		Expect(results[0].Episode.ID).To(Equal(relevant.ID))
	})

	It("falls back to a flat scan in degraded mode", func() {
		now := time.Now().UTC()
		ep := storeEpisode(store, "investigate memory leak", "web-api", episode.TaskTypeDebugging, nil, now)
		// deliberately do not insert into idx

		r := New(store, idx, cache, Config{EnableSpatiotemporalIndex: false}, nil)
		q, err := NewQuery("memory leak", "web-api", episode.TaskTypeUnknown, nil, 10, 100)
		Expect(err).NotTo(HaveOccurred())

		results, err := r.Retrieve(context.Background(), q)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Episode.ID).To(Equal(ep.ID))
	})

	It("caches results and serves a second identical query from cache", func() {
		now := time.Now().UTC()
		ep := storeEpisode(store, "fix the race condition", "web-api", episode.TaskTypeDebugging, nil, now)
		idx.Insert(ep)

		r := New(store, idx, cache, Config{EnableSpatiotemporalIndex: true}, nil)
		q, err := NewQuery("race condition", "web-api", episode.TaskTypeUnknown, nil, 10, 100)
		Expect(err).NotTo(HaveOccurred())

		first, err := r.Retrieve(context.Background(), q)
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(HaveLen(1))
		Expect(cache.Len()).To(Equal(1))

		second, err := r.Retrieve(context.Background(), q)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(HaveLen(1))
		Expect(second[0].Episode.ID).To(Equal(ep.ID))
	})

	It("respects the configured limit without diversity enabled", func() {
		now := time.Now().UTC()
		for i := 0; i < 5; i++ {
			ep := storeEpisode(store, "investigate the outage", "web-api", episode.TaskTypeDebugging, nil, now)
			idx.Insert(ep)
		}

		r := New(store, idx, cache, Config{EnableSpatiotemporalIndex: true}, nil)
		q, err := NewQuery("outage", "web-api", episode.TaskTypeUnknown, nil, 2, 100)
		Expect(err).NotTo(HaveOccurred())

		results, err := r.Retrieve(context.Background(), q)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
	})

	It("diversifies results when enabled, still bounded by limit", func() {
		now := time.Now().UTC()
		a := storeEpisode(store, "investigate the outage", "web-api", episode.TaskTypeDebugging, nil, now)
		b := storeEpisode(store, "investigate the outage", "web-api", episode.TaskTypeDebugging, nil, now)
		idx.Insert(a)
		idx.Insert(b)

		r := New(store, idx, cache, Config{EnableSpatiotemporalIndex: true, EnableDiversity: true, DiversityLambda: 0.5}, nil)
		q, err := NewQuery("outage", "web-api", episode.TaskTypeUnknown, nil, 2, 100)
		Expect(err).NotTo(HaveOccurred())

		results, err := r.Retrieve(context.Background(), q)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
	})
})

var _ = Describe("NewQuery", func() {
	It("rejects an empty query text", func() {
		_, err := NewQuery("", "web-api", episode.TaskTypeUnknown, nil, 10, 100)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a limit of 0", func() {
		_, err := NewQuery("find bugs", "web-api", episode.TaskTypeUnknown, nil, 0, 100)
		Expect(err).To(HaveOccurred())
		Expect(apperrors.Is(err, apperrors.TypeInvalidInput)).To(BeTrue())
	})

	It("rejects a limit above limitMax", func() {
		_, err := NewQuery("find bugs", "web-api", episode.TaskTypeUnknown, nil, 200, 100)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("diversify", func() {
	It("degrades to top-k by score when lambda is 1.0", func() {
		scored := []Result{
			{Episode: mustEpisode("a"), Score: 0.9},
			{Episode: mustEpisode("b"), Score: 0.5},
		}
		out := diversify(scored, 1, 1.0)
		Expect(out).To(HaveLen(1))
		Expect(out[0].Score).To(Equal(0.9))
	})

	It("excludes a low-score but diverse candidate outside the top 2*limit window", func() {
		similarTools := []string{"grep", "edit"}
		scored := []Result{
			{Episode: mustEpisodeWithTools("a", similarTools), Score: 1.0},
			{Episode: mustEpisodeWithTools("b", similarTools), Score: 0.9},
			{Episode: mustEpisodeWithTools("c", similarTools), Score: 0.8},
			{Episode: mustEpisodeWithTools("d", similarTools), Score: 0.7},
			{Episode: mustEpisodeWithTools("e", []string{"deploy", "rollback"}), Score: 0.6},
		}

		out := diversify(scored, 2, 0.5)
		Expect(out).To(HaveLen(2))

		ids := []string{out[0].Episode.ID.String(), out[1].Episode.ID.String()}
		Expect(ids).To(ContainElement(scored[0].Episode.ID.String()))
		Expect(ids).NotTo(ContainElement(scored[4].Episode.ID.String()))
	})
})

var _ = Describe("score", func() {
	It("scales the recency term by TemporalBiasWeight", func() {
		ep := mustEpisode("investigate the outage")
		old := time.Now().UTC().Add(-7 * 24 * time.Hour)
		ep.EndTime = &old

		q, err := NewQuery("outage", "web-api", episode.TaskTypeUnknown, nil, 10, 100)
		Expect(err).NotTo(HaveOccurred())

		base := score(ep, q, ScoreParams{RecencyHalfLife: 14 * 24 * time.Hour, TemporalBiasWeight: 1.0})
		doubled := score(ep, q, ScoreParams{RecencyHalfLife: 14 * 24 * time.Hour, TemporalBiasWeight: 2.0})

		Expect(doubled).To(BeNumerically(">", base))
	})
})

func mustEpisode(desc string) *episode.Episode {
	ep, err := episode.New(desc, episode.TaskContext{Domain: "web-api", TaskType: episode.TaskTypeDebugging}, nil)
	Expect(err).NotTo(HaveOccurred())
	Expect(ep.Complete(episode.TaskOutcome{Kind: episode.OutcomeSuccess})).To(Succeed())
	return ep
}

func mustEpisodeWithTools(desc string, tools []string) *episode.Episode {
	ep, err := episode.New(desc, episode.TaskContext{Domain: "web-api", TaskType: episode.TaskTypeDebugging}, nil)
	Expect(err).NotTo(HaveOccurred())
	for i, tool := range tools {
		Expect(ep.AppendStep(episode.ExecutionStep{Number: i + 1, Tool: tool})).To(Succeed())
	}
	Expect(ep.Complete(episode.TaskOutcome{Kind: episode.OutcomeSuccess})).To(Succeed())
	return ep
}
