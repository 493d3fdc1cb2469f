package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
	"github.com/jordigilh/episodic-memory/pkg/episode"
	"github.com/jordigilh/episodic-memory/pkg/pattern"
	"github.com/jordigilh/episodic-memory/pkg/storage"
)

func TestMemstore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Memstore Suite")
}

var _ = Describe("Durable episodes", func() {
	var (
		ctx context.Context
		d   *Durable
	)

	BeforeEach(func() {
		ctx = context.Background()
		d = New()
	})

	It("round-trips put/get", func() {
		ep, _ := episode.New("task", episode.TaskContext{Domain: "billing"}, nil)
		Expect(d.PutEpisode(ctx, nil, ep)).To(Succeed())

		got, err := d.GetEpisode(ctx, ep.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(ep.ID))
	})

	It("returns NotFound for a missing episode", func() {
		_, err := d.GetEpisode(ctx, uuid.New())
		Expect(apperrors.Is(err, apperrors.TypeNotFound)).To(BeTrue())
	})

	It("filters ListEpisodes by domain", func() {
		a, _ := episode.New("a", episode.TaskContext{Domain: "billing"}, nil)
		b, _ := episode.New("b", episode.TaskContext{Domain: "shipping"}, nil)
		Expect(d.PutEpisode(ctx, nil, a)).To(Succeed())
		Expect(d.PutEpisode(ctx, nil, b)).To(Succeed())

		got, err := d.ListEpisodes(ctx, storage.EpisodeFilter{Domain: "billing"}, 10, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].ID).To(Equal(a.ID))
	})

	It("filters ListEpisodes to completed episodes only", func() {
		a, _ := episode.New("a", episode.TaskContext{Domain: "billing"}, nil)
		Expect(a.Complete(episode.TaskOutcome{Kind: episode.OutcomeSuccess})).To(Succeed())
		b, _ := episode.New("b", episode.TaskContext{Domain: "billing"}, nil)
		Expect(d.PutEpisode(ctx, nil, a)).To(Succeed())
		Expect(d.PutEpisode(ctx, nil, b)).To(Succeed())

		got, err := d.ListEpisodes(ctx, storage.EpisodeFilter{CompletedOnly: true}, 10, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].ID).To(Equal(a.ID))
	})

	It("deletes an episode", func() {
		ep, _ := episode.New("task", episode.TaskContext{Domain: "billing"}, nil)
		Expect(d.PutEpisode(ctx, nil, ep)).To(Succeed())
		Expect(d.DeleteEpisode(ctx, ep.ID)).To(Succeed())

		_, err := d.GetEpisode(ctx, ep.ID)
		Expect(apperrors.Is(err, apperrors.TypeNotFound)).To(BeTrue())
	})

	It("mutating the returned episode does not affect stored state", func() {
		ep, _ := episode.New("task", episode.TaskContext{Domain: "billing"}, nil)
		Expect(d.PutEpisode(ctx, nil, ep)).To(Succeed())

		got, _ := d.GetEpisode(ctx, ep.ID)
		got.Description = "mutated"

		again, _ := d.GetEpisode(ctx, ep.ID)
		Expect(again.Description).To(Equal("task"))
	})
})

var _ = Describe("Durable patterns and embeddings", func() {
	var (
		ctx context.Context
		d   *Durable
	)

	BeforeEach(func() {
		ctx = context.Background()
		d = New()
	})

	It("queries patterns by minimum confidence", func() {
		low, _ := pattern.NewToolSequence([]string{"a", "b"}, "ctx", 1, 0.5)
		high, _ := pattern.NewToolSequence([]string{"c", "d"}, "ctx2", 1, 0.9)
		Expect(d.PutPattern(ctx, nil, low)).To(Succeed())
		Expect(d.PutPattern(ctx, nil, high)).To(Succeed())

		got, err := d.QueryPatterns(ctx, storage.PatternFilter{MinConfidence: 0.8})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].ID).To(Equal(high.ID))
	})

	It("queries heuristics by minimum confidence and supports deletion", func() {
		weak, _ := pattern.NewHeuristic("tool == grep", "retry with ripgrep", 0.65, 2)
		strong, _ := pattern.NewHeuristic("error == timeout", "increase backoff", 0.95, 5)
		Expect(d.PutHeuristic(ctx, nil, weak)).To(Succeed())
		Expect(d.PutHeuristic(ctx, nil, strong)).To(Succeed())

		got, err := d.QueryHeuristics(ctx, 0.9)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].ID).To(Equal(strong.ID))

		Expect(d.DeleteHeuristic(ctx, weak.ID)).To(Succeed())
		_, err = d.QueryHeuristics(ctx, 0)
		Expect(err).NotTo(HaveOccurred())
	})

	It("finds similar embeddings above threshold", func() {
		Expect(d.StoreEmbedding(ctx, nil, "a", []float64{1, 0, 0})).To(Succeed())
		Expect(d.StoreEmbedding(ctx, nil, "b", []float64{0, 1, 0})).To(Succeed())

		matches, err := d.SearchSimilar(ctx, []float64{1, 0, 0}, 5, 0.5)
		Expect(err).NotTo(HaveOccurred())
		Expect(matches).To(HaveLen(1))
		Expect(matches[0].Key).To(Equal("a"))
	})
})

var _ = Describe("Cache", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("returns a miss for an absent key", func() {
		c := NewCache(10)
		_, ok, err := c.Get(ctx, "missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("round-trips put/get", func() {
		c := NewCache(10)
		Expect(c.Put(ctx, "k", []byte("v"), time.Hour)).To(Succeed())

		val, ok, err := c.Get(ctx, "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(val).To(Equal([]byte("v")))
	})

	It("expires an entry past its TTL", func() {
		c := NewCache(10)
		Expect(c.Put(ctx, "k", []byte("v"), time.Millisecond)).To(Succeed())
		time.Sleep(5 * time.Millisecond)

		_, ok, _ := c.Get(ctx, "k")
		Expect(ok).To(BeFalse())
	})

	It("evicts the least recently used entry past capacity", func() {
		c := NewCache(2)
		Expect(c.Put(ctx, "a", []byte("1"), 0)).To(Succeed())
		Expect(c.Put(ctx, "b", []byte("2"), 0)).To(Succeed())
		c.Get(ctx, "a") // touch a, making b the LRU entry
		Expect(c.Put(ctx, "c", []byte("3"), 0)).To(Succeed())

		_, ok, _ := c.Get(ctx, "b")
		Expect(ok).To(BeFalse())
		_, ok, _ = c.Get(ctx, "a")
		Expect(ok).To(BeTrue())

		stats, _ := c.Stats(ctx)
		Expect(stats.Evicted).To(Equal(int64(1)))
	})

	It("invalidates by prefix", func() {
		c := NewCache(10)
		Expect(c.Put(ctx, "episode:1", []byte("a"), 0)).To(Succeed())
		Expect(c.Put(ctx, "episode:2", []byte("b"), 0)).To(Succeed())
		Expect(c.Put(ctx, "pattern:1", []byte("c"), 0)).To(Succeed())

		Expect(c.InvalidatePrefix(ctx, "episode:")).To(Succeed())

		n, _ := c.Len(ctx)
		Expect(n).To(Equal(1))
	})

	It("sweeps expired entries independent of access", func() {
		c := NewCache(10)
		Expect(c.Put(ctx, "k", []byte("v"), time.Millisecond)).To(Succeed())
		time.Sleep(5 * time.Millisecond)

		removed := c.Sweep(ctx)
		Expect(removed).To(Equal(1))

		n, _ := c.Len(ctx)
		Expect(n).To(Equal(0))
	})

	It("clears all entries", func() {
		c := NewCache(10)
		Expect(c.Put(ctx, "a", []byte("1"), 0)).To(Succeed())
		Expect(c.Clear(ctx)).To(Succeed())

		n, _ := c.Len(ctx)
		Expect(n).To(Equal(0))
	})
})
