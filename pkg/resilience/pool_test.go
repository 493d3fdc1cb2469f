package resilience

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Pool", func() {
	newFactory := func() func(context.Context) (int, error) {
		n := 0
		return func(context.Context) (int, error) {
			n++
			return n, nil
		}
	}

	It("creates handles on demand up to capacity and reuses released ones", func() {
		p := NewPool(2, newFactory(), nil)

		h1, err := p.Acquire(context.Background(), time.Second)
		Expect(err).NotTo(HaveOccurred())
		h2, err := p.Acquire(context.Background(), time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(h1).NotTo(Equal(h2))
		Expect(p.Stats().InUse).To(Equal(2))

		p.Release(h1)
		Expect(p.Stats().Idle).To(Equal(1))

		h3, err := p.Acquire(context.Background(), time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(h3).To(Equal(h1))
		Expect(p.Stats().Idle).To(Equal(0))
	})

	It("blocks past capacity and fails with Timeout once the deadline elapses", func() {
		p := NewPool(1, newFactory(), nil)

		_, err := p.Acquire(context.Background(), time.Second)
		Expect(err).NotTo(HaveOccurred())

		start := time.Now()
		_, err = p.Acquire(context.Background(), 20*time.Millisecond)
		Expect(err).To(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically(">=", 20*time.Millisecond))
	})

	It("unblocks a waiting Acquire as soon as a handle is released", func() {
		p := NewPool(1, newFactory(), nil)
		h1, err := p.Acquire(context.Background(), time.Second)
		Expect(err).NotTo(HaveOccurred())

		acquired := make(chan int, 1)
		go func() {
			h, err := p.Acquire(context.Background(), time.Second)
			if err == nil {
				acquired <- h
			}
		}()

		time.Sleep(10 * time.Millisecond)
		p.Release(h1)

		Eventually(acquired).Should(Receive())
	})

	It("surfaces a factory error without leaking a semaphore slot", func() {
		fail := true
		p := NewPool(1, func(context.Context) (int, error) {
			if fail {
				return 0, errors.New("dial failed")
			}
			return 7, nil
		}, nil)

		_, err := p.Acquire(context.Background(), time.Second)
		Expect(err).To(HaveOccurred())

		// the failed acquire must have released its semaphore slot, or this
		// second acquire would block until the timeout instead of hitting
		// the (now-succeeding) factory immediately.
		fail = false
		start := time.Now()
		h, err := p.Acquire(context.Background(), time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(h).To(Equal(7))
		Expect(time.Since(start)).To(BeNumerically("<", 200*time.Millisecond))
	})

	It("drains idle handles through the close callback", func() {
		var closed []int
		p := NewPool(2, newFactory(), func(h int) error {
			closed = append(closed, h)
			return nil
		})

		h1, _ := p.Acquire(context.Background(), time.Second)
		h2, _ := p.Acquire(context.Background(), time.Second)
		p.Release(h1)
		p.Release(h2)

		Expect(p.Drain()).To(Succeed())
		Expect(closed).To(ConsistOf(h1, h2))
		Expect(p.Stats().Idle).To(Equal(0))
	})

	It("reports WaitCount for every Acquire call", func() {
		p := NewPool(2, newFactory(), nil)
		_, _ = p.Acquire(context.Background(), time.Second)
		_, _ = p.Acquire(context.Background(), time.Second)

		Expect(p.Stats().WaitCount).To(Equal(int64(2)))
	})
})
