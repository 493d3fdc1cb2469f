package apperrors

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("AppError", func() {
	Context("basic error creation", func() {
		It("should create an error with correct properties", func() {
			err := New(TypeInvalidInput, "bad request")

			Expect(err.Type).To(Equal(TypeInvalidInput))
			Expect(err.Message).To(Equal("bad request"))
			Expect(err.Details).To(BeEmpty())
			Expect(err.Cause).To(BeNil())
		})

		It("should implement the error interface", func() {
			err := New(TypeInvalidInput, "bad request")
			Expect(err.Error()).To(Equal("invalid_input: bad request"))
		})

		It("should include details when present", func() {
			err := New(TypeInvalidInput, "bad request").WithDetails("field missing")
			Expect(err.Error()).To(ContainSubstring("field missing"))
		})
	})

	Context("wrapping", func() {
		It("should wrap an underlying error", func() {
			cause := errors.New("connection refused")
			wrapped := Wrap(cause, TypeBackend, "durable write failed")

			Expect(wrapped.Type).To(Equal(TypeBackend))
			Expect(wrapped.Cause).To(Equal(cause))
			Expect(errors.Unwrap(wrapped)).To(Equal(cause))
		})

		It("should format with arguments via Wrapf", func() {
			cause := errors.New("timeout")
			wrapped := Wrapf(cause, TypeTimeout, "query %q exceeded deadline", "retrieve")
			Expect(wrapped.Message).To(Equal(`query "retrieve" exceeded deadline`))
		})
	})

	Context("predefined constructors", func() {
		It("should build NotFound with id", func() {
			err := NotFound("ep-1")
			Expect(err.Type).To(Equal(TypeNotFound))
			Expect(err.ID).To(Equal("ep-1"))
			Expect(err.Error()).To(ContainSubstring("ep-1"))
		})

		It("should build AlreadyComplete", func() {
			err := AlreadyComplete("ep-2")
			Expect(err.Type).To(Equal(TypeAlreadyComplete))
		})

		It("should build CircuitOpen with a retry-after derived from the until time", func() {
			until := time.Now().Add(30 * time.Second)
			err := CircuitOpen(until)
			Expect(err.Type).To(Equal(TypeCircuitOpen))
			Expect(err.RetryAfter).To(BeNumerically(">", 0))
		})

		It("should build RateLimited carrying retry_after", func() {
			err := RateLimited(2 * time.Second)
			Expect(err.RetryAfter).To(Equal(2 * time.Second))
		})

		It("should format InvalidPayloadf with arguments", func() {
			err := InvalidPayloadf("%s payload of %d bytes exceeds the %d byte ceiling", "pattern", 2048, 1024)
			Expect(err.Type).To(Equal(TypeInvalidPayload))
			Expect(err.Message).To(Equal("pattern payload of 2048 bytes exceeds the 1024 byte ceiling"))
		})
	})

	Context("Is helper", func() {
		It("should match the tagged type", func() {
			err := InvalidInput("empty description")
			Expect(Is(err, TypeInvalidInput)).To(BeTrue())
			Expect(Is(err, TypeBackend)).To(BeFalse())
		})

		It("should return false for non-AppError values", func() {
			Expect(Is(errors.New("plain"), TypeBackend)).To(BeFalse())
		})
	})
})
