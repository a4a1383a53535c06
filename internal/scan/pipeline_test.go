package scan

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/quickscan/internal/capture"
	"github.com/zombor/quickscan/internal/scanning"
)

var _ = Describe("Pipeline", func() {
	var (
		enhancer *mockEnhancer
		library  *mockLibrary
		idGen    *mockIDGenerator
		timeSrc  *mockTimeSource
		timeout  time.Duration
		p        *Pipeline
		ctx      context.Context
		cancel   context.CancelFunc
	)

	invoice := &scanning.Enhancement{
		Title:        "Invoice #42",
		OCRContent:   "ACME Corp\nTotal: $120.00",
		QualityScore: 0.93,
	}

	BeforeEach(func() {
		enhancer = &mockEnhancer{available: true}
		library = &mockLibrary{}
		idGen = &mockIDGenerator{ids: []string{"draft-1", "draft-2"}}
		timeSrc = &mockTimeSource{now: fixedTime}
		timeout = 2 * time.Second
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	})

	JustBeforeEach(func() {
		p = NewPipelineWithDeps(enhancer, library, timeout, idGen, timeSrc)
	})

	AfterEach(func() {
		if enhancer.gate != nil {
			close(enhancer.gate)
		}
		p.Close()
		cancel()
	})

	Describe("Capture", func() {
		It("starts enhancing immediately", func() {
			enhancer.gate = make(chan struct{})
			d, err := p.Capture(testImage())
			Expect(err).NotTo(HaveOccurred())
			Expect(d.ID).To(Equal("draft-1"))
			Expect(d.State).To(Equal(StateEnhancing))
			Expect(d.CreatedAt).To(Equal(fixedTime))
			Eventually(enhancer.Calls).Should(Equal(1))
		})

		It("rejects an empty image", func() {
			_, err := p.Capture(capture.Image{})
			reason, ok := capture.FailureReason(err)
			Expect(ok).To(BeTrue())
			Expect(reason).To(Equal(capture.ReasonOther))
		})
	})

	When("the enhancement service is unavailable", func() {
		BeforeEach(func() {
			enhancer.available = false
			enhancer.replies = []mockReply{{err: scanning.ErrUnavailable}}
		})

		It("settles into basic mode with a fallback title", func() {
			d, err := p.Capture(testImage())
			Expect(err).NotTo(HaveOccurred())

			d, err = p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.State).To(Equal(StateReadyDegraded))
			Expect(d.Degraded).To(BeTrue())
			Expect(d.Enhancement).To(BeNil())
			Expect(d.Title).To(MatchRegexp(`^Scan_\d{6}$`))
			Expect(d.OCRText()).To(BeEmpty())
		})

		It("finalizes a result with no text and the original image", func() {
			d, _ := p.Capture(testImage())
			_, err := p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())

			r, err := p.Finalize(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.OCRText).To(BeEmpty())
			Expect(r.ProcessedImage).To(Equal(testImage().Data))
			Expect(r.Title).To(MatchRegexp(`^Scan_\d{6}$`))
			Expect(r.Degraded).To(BeTrue())
			Expect(library.Results()).To(HaveLen(1))
		})
	})

	When("the enhancement succeeds", func() {
		BeforeEach(func() {
			enhancer.replies = []mockReply{{enhancement: invoice}}
		})

		It("applies the title and text verbatim", func() {
			d, _ := p.Capture(testImage())
			d, err := p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.State).To(Equal(StateReadyEnhanced))
			Expect(d.Degraded).To(BeFalse())
			Expect(d.Title).To(Equal("Invoice #42"))
			Expect(d.OCRText()).To(Equal("ACME Corp\nTotal: $120.00"))
			Expect(d.Enhancement.QualityScore).To(Equal(0.93))
			Expect(d.ProcessedImage()).To(Equal(testImage().Data))
		})

		It("finalizes into the library with a positive size", func() {
			d, _ := p.Capture(testImage())
			_, err := p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())

			r, err := p.Finalize(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.ID).To(Equal("draft-1"))
			Expect(r.Title).To(Equal("Invoice #42"))
			Expect(r.FileSize).To(BeNumerically(">", 0))
			Expect(r.CreatedAt).To(Equal(fixedTime))
			Expect(library.Results()).To(ConsistOf(r))

			_, err = p.Draft(d.ID)
			Expect(err).To(MatchError(ErrDraftNotFound))
		})

		It("keeps the user's title after rename", func() {
			d, _ := p.Capture(testImage())
			_, err := p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = p.Rename(d.ID, "March Invoice")
			Expect(err).NotTo(HaveOccurred())
			r, err := p.Finalize(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Title).To(Equal("March Invoice"))
		})

		It("saves the title exactly as typed", func() {
			d, _ := p.Capture(testImage())
			_, err := p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = p.Rename(d.ID, "  Lease, page 2 ")
			Expect(err).NotTo(HaveOccurred())
			r, err := p.Finalize(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Title).To(Equal("  Lease, page 2 "))
		})

		It("uses a fallback title when renamed to blank", func() {
			d, _ := p.Capture(testImage())
			_, err := p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = p.Rename(d.ID, "   ")
			Expect(err).NotTo(HaveOccurred())
			r, err := p.Finalize(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Title).To(MatchRegexp(`^Scan_\d{6}$`))
		})

		It("previews without finalizing", func() {
			d, _ := p.Capture(testImage())
			_, err := p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())

			r, err := p.Preview(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Title).To(Equal("Invoice #42"))
			Expect(library.Results()).To(BeEmpty())

			d, err = p.Draft(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.State).To(Equal(StateReadyEnhanced))
		})

		It("does not allow retrying an enhanced draft", func() {
			d, _ := p.Capture(testImage())
			_, err := p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = p.Retry(d.ID)
			Expect(err).To(MatchError(ErrInvalidTransition))
		})
	})

	When("the enhancement fails", func() {
		BeforeEach(func() {
			enhancer.replies = []mockReply{{err: errors.Join(scanning.ErrFailed, errors.New("missing field title"))}}
		})

		It("degrades and keeps the draft usable", func() {
			d, _ := p.Capture(testImage())
			d, err := p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.State).To(Equal(StateReadyDegraded))
			Expect(d.Title).To(MatchRegexp(`^Scan_\d{6}$`))
		})

		It("can be retried into an enhanced draft", func() {
			enhancer.replies = append(enhancer.replies, mockReply{enhancement: invoice})

			d, _ := p.Capture(testImage())
			_, err := p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())

			d, err = p.Retry(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.State).To(Equal(StateEnhancing))

			d, err = p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.State).To(Equal(StateReadyEnhanced))
			Expect(d.Title).To(Equal("Invoice #42"))
			Expect(enhancer.Calls()).To(Equal(2))
		})
	})

	When("the enhancement is in flight", func() {
		BeforeEach(func() {
			enhancer.gate = make(chan struct{})
			enhancer.replies = []mockReply{{enhancement: invoice}}
		})

		It("refuses to finalize or rename", func() {
			d, _ := p.Capture(testImage())
			_, err := p.Finalize(d.ID)
			Expect(err).To(MatchError(ErrInvalidTransition))
			_, err = p.Rename(d.ID, "x")
			Expect(err).To(MatchError(ErrInvalidTransition))
			Expect(library.Results()).To(BeEmpty())
		})

		It("ignores a late result after skip", func() {
			d, _ := p.Capture(testImage())
			Eventually(enhancer.Calls).Should(Equal(1))

			d, err := p.Skip(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.State).To(Equal(StateReadyDegraded))
			title := d.Title

			close(enhancer.gate)
			enhancer.gate = nil

			Consistently(func() State {
				d, _ := p.Draft(d.ID)
				return d.State
			}, "100ms").Should(Equal(StateReadyDegraded))

			d, err = p.Draft(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Title).To(Equal(title))
			Expect(d.Enhancement).To(BeNil())
		})

		It("lets a retry supersede the pending attempt", func() {
			enhancer.replies = []mockReply{
				{enhancement: &scanning.Enhancement{Title: "Stale", OCRContent: "old", QualityScore: 0.1}},
				{enhancement: invoice},
			}

			d, _ := p.Capture(testImage())
			Eventually(enhancer.Calls).Should(Equal(1))

			d, err := p.Retry(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.State).To(Equal(StateEnhancing))
			Expect(d.Attempt).To(Equal(uint64(2)))
			Eventually(enhancer.Calls).Should(Equal(2))

			close(enhancer.gate)
			enhancer.gate = nil

			d, err = p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.State).To(Equal(StateReadyEnhanced))
			Expect(d.Title).To(Equal("Invoice #42"))
		})

		It("discards without touching the library", func() {
			d, _ := p.Capture(testImage())
			Expect(p.Discard(d.ID)).To(Succeed())

			close(enhancer.gate)
			enhancer.gate = nil

			Consistently(library.Results, "100ms").Should(BeEmpty())
			_, err := p.Draft(d.ID)
			Expect(err).To(MatchError(ErrDraftNotFound))
		})

		It("unblocks waiters on discard", func() {
			d, _ := p.Capture(testImage())
			done := make(chan error, 1)
			go func() {
				_, err := p.Wait(ctx, d.ID)
				done <- err
			}()

			Expect(p.Discard(d.ID)).To(Succeed())
			Eventually(done).Should(Receive(MatchError(ErrDraftNotFound)))
		})
	})

	When("the enhancement exceeds the timeout", func() {
		BeforeEach(func() {
			enhancer.gate = make(chan struct{})
			timeout = 50 * time.Millisecond
		})

		It("counts the attempt as failed", func() {
			d, _ := p.Capture(testImage())
			d, err := p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.State).To(Equal(StateReadyDegraded))
			Expect(d.Degraded).To(BeTrue())
		})
	})

	When("the library rejects the result", func() {
		BeforeEach(func() {
			library.addErr = errLibraryFull
		})

		It("keeps the draft so finalize can be retried", func() {
			d, _ := p.Capture(testImage())
			_, err := p.Wait(ctx, d.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = p.Finalize(d.ID)
			Expect(err).To(MatchError(errLibraryFull))

			d, err = p.Draft(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.State).To(Equal(StateReadyDegraded))

			library.mu.Lock()
			library.addErr = nil
			library.mu.Unlock()
			_, err = p.Finalize(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(library.Results()).To(HaveLen(1))
		})
	})

	It("reports unknown drafts", func() {
		_, err := p.Draft("missing")
		Expect(err).To(MatchError(ErrDraftNotFound))
		Expect(p.Discard("missing")).To(MatchError(ErrDraftNotFound))
		_, err = p.Skip("missing")
		Expect(err).To(MatchError(ErrDraftNotFound))
	})
})
