package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BreakerRegistry", func() {
	var config BreakerConfig

	BeforeEach(func() {
		config = BreakerConfig{FailureThreshold: 2, Cooldown: 20 * time.Millisecond, MaxCooldown: time.Second}
	})

	It("starts closed and passes through successful calls", func() {
		r := NewBreakerRegistry(config)
		result, err := r.Do(context.Background(), "op", func(ctx context.Context) (any, error) {
			return "ok", nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("ok"))
		Expect(r.State("op")).To(Equal(gobreaker.StateClosed))
	})

	It("trips open after the failure threshold and fails fast with CircuitOpen", func() {
		r := NewBreakerRegistry(config)
		failing := func(ctx context.Context) (any, error) {
			return nil, errors.New("backend down")
		}

		for i := 0; i < 2; i++ {
			_, _ = r.Do(context.Background(), "op", failing)
		}

		Expect(r.State("op")).To(Equal(gobreaker.StateOpen))

		_, err := r.Do(context.Background(), "op", func(ctx context.Context) (any, error) {
			return "unreachable", nil
		})
		Expect(err).To(HaveOccurred())
	})

	It("keeps independent state per operation", func() {
		r := NewBreakerRegistry(config)
		failing := func(ctx context.Context) (any, error) {
			return nil, errors.New("backend down")
		}
		for i := 0; i < 2; i++ {
			_, _ = r.Do(context.Background(), "op-a", failing)
		}

		Expect(r.State("op-a")).To(Equal(gobreaker.StateOpen))
		Expect(r.State("op-b")).To(Equal(gobreaker.StateClosed))
	})

	It("recovers to closed after a successful half-open probe", func() {
		r := NewBreakerRegistry(config)
		failing := func(ctx context.Context) (any, error) {
			return nil, errors.New("backend down")
		}
		for i := 0; i < 2; i++ {
			_, _ = r.Do(context.Background(), "op", failing)
		}
		Expect(r.State("op")).To(Equal(gobreaker.StateOpen))

		time.Sleep(30 * time.Millisecond)

		_, err := r.Do(context.Background(), "op", func(ctx context.Context) (any, error) {
			return "ok", nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(r.State("op")).To(Equal(gobreaker.StateClosed))
	})

	It("publishes state-change events to listeners", func() {
		r := NewBreakerRegistry(config)
		var changes []StateChange
		r.OnStateChange(func(c StateChange) { changes = append(changes, c) })

		failing := func(ctx context.Context) (any, error) {
			return nil, errors.New("backend down")
		}
		for i := 0; i < 2; i++ {
			_, _ = r.Do(context.Background(), "op", failing)
		}

		Expect(changes).NotTo(BeEmpty())
		Expect(changes[len(changes)-1].To).To(Equal(gobreaker.StateOpen))
	})
})
