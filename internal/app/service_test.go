package app

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/quickscan/internal/capture"
	"github.com/zombor/quickscan/internal/export"
	"github.com/zombor/quickscan/internal/library"
	"github.com/zombor/quickscan/internal/scan"
	"github.com/zombor/quickscan/internal/scanning"
)

var _ = Describe("Service", func() {
	var (
		enhancer *mockEnhancer
		store    *mockStore
		exporter *mockExporter
		storage  *mockStorage
		state    *State
		pipeline *scan.Pipeline
		service  *Service
		ctx      context.Context
		cancel   context.CancelFunc
	)

	BeforeEach(func() {
		enhancer = &mockEnhancer{available: true, enhancement: invoice}
		store = &mockStore{}
		exporter = &mockExporter{}
		storage = newMockStorage()
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	})

	JustBeforeEach(func() {
		state = NewState(store, export.TierFree)
		state.Init()
		pipeline = scan.NewPipeline(enhancer, state.Library(), time.Second)
		service = NewService(pipeline, state, enhancer, exporter, storage)
	})

	AfterEach(func() {
		pipeline.Close()
		cancel()
	})

	captureReady := func() scan.Draft {
		d, err := service.Capture(ctx, jpegBytes(40, 30), "image/jpeg")
		Expect(err).NotTo(HaveOccurred())
		d, err = service.Draft(ctx, d.ID, true)
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	Describe("Capture", func() {
		It("creates an enhanced draft from an uploaded photo", func() {
			d := captureReady()
			Expect(d.State).To(Equal(scan.StateReadyEnhanced))
			Expect(d.Title).To(Equal("Invoice #42"))
			Expect(d.Original.Width).To(Equal(40))
			Expect(d.Original.Height).To(Equal(30))
		})

		It("reports undecodable uploads as capture failures", func() {
			_, err := service.Capture(ctx, []byte("not an image"), "image/jpeg")
			reason, ok := capture.FailureReason(err)
			Expect(ok).To(BeTrue())
			Expect(reason).To(Equal(capture.ReasonOther))
		})

		When("enhancement is unavailable", func() {
			BeforeEach(func() {
				enhancer.available = false
				enhancer.err = scanning.ErrUnavailable
			})

			It("falls back to basic mode", func() {
				d := captureReady()
				Expect(d.State).To(Equal(scan.StateReadyDegraded))
				Expect(d.Title).To(MatchRegexp(`^Scan_\d{6}$`))
			})

			It("reports the AI as unavailable", func() {
				Expect(service.Status().AIAvailable).To(BeFalse())
			})
		})
	})

	Describe("CaptureFrom", func() {
		It("captures a photo from disk", func() {
			path := filepath.Join(GinkgoT().TempDir(), "photo.jpg")
			Expect(os.WriteFile(path, jpegBytes(40, 30), 0644)).To(Succeed())

			d, err := service.CaptureFrom(ctx, capture.NewFileSource(path))
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Original.ContentType).To(Equal("image/jpeg"))
		})

		It("reports a missing device", func() {
			_, err := service.CaptureFrom(ctx, capture.NewFileSource("/nonexistent/photo.jpg"))
			reason, ok := capture.FailureReason(err)
			Expect(ok).To(BeTrue())
			Expect(reason).To(Equal(capture.ReasonDeviceAbsent))
		})
	})

	Describe("FinalizeDraft", func() {
		It("adds the scan to the library and persists it", func() {
			d := captureReady()
			r, err := service.FinalizeDraft(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(service.Scans("")).To(ConsistOf(r))
			Expect(store.saved).To(HaveLen(1))
			Expect(service.Status().Scans).To(Equal(1))
		})
	})

	Describe("DiscardDraft", func() {
		It("leaves the library unchanged", func() {
			d := captureReady()
			Expect(service.DiscardDraft(d.ID)).To(Succeed())
			Expect(service.Scans("")).To(BeEmpty())
			Expect(store.saves).To(Equal(0))
		})

		It("removes documents exported from the draft", func() {
			d := captureReady()
			_, err := service.ExportDraft(d.ID)
			Expect(err).NotTo(HaveOccurred())

			Expect(service.DiscardDraft(d.ID)).To(Succeed())
			Expect(storage.files).To(BeEmpty())
		})
	})

	Describe("Exports", func() {
		It("exports a ready draft with the current tier and stores it", func() {
			d := captureReady()
			doc, err := service.ExportDraft(d.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Filename).To(Equal("Invoice_#42.pdf"))
			Expect(doc.Watermarked).To(BeTrue())
			Expect(storage.files).To(HaveKey(d.ID + "_Invoice_#42.pdf"))
		})

		It("uses the pro tier once toggled", func() {
			d := captureReady()
			r, err := service.FinalizeDraft(d.ID)
			Expect(err).NotTo(HaveOccurred())

			service.SetTier(export.TierPro)
			doc, err := service.ExportScan(r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Watermarked).To(BeFalse())
			Expect(exporter.tiers).To(Equal([]export.Tier{export.TierPro}))
		})

		It("reports unknown scans", func() {
			_, err := service.ExportScan("missing")
			Expect(err).To(MatchError(library.ErrNotFound))
		})

		When("the exporter fails", func() {
			BeforeEach(func() {
				exporter.err = export.ErrExport
			})

			It("returns an export failure and keeps the draft", func() {
				d := captureReady()
				_, err := service.ExportDraft(d.ID)
				Expect(err).To(MatchError(export.ErrExport))
				_, err = service.Draft(ctx, d.ID, false)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		When("the title is longer than a file name may be", func() {
			var title string

			BeforeEach(func() {
				title = strings.Repeat("Quarterly tax statement ", 12)
			})

			It("exports under the full name and stores under a short one", func() {
				fsStorage, err := NewLocalStorage(GinkgoT().TempDir())
				Expect(err).NotTo(HaveOccurred())
				service = NewService(pipeline, state, enhancer, exporter, fsStorage)

				d := captureReady()
				_, err = service.RenameDraft(d.ID, title)
				Expect(err).NotTo(HaveOccurred())

				doc, err := service.ExportDraft(d.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(len(doc.Filename)).To(BeNumerically(">", 255))
				Expect(doc.Filename).To(Equal(export.Filename(title)))
				Expect(len(doc.StoredAs)).To(BeNumerically("<=", 200))
				Expect(doc.StoredAs).To(HavePrefix(d.ID + "_Quarterly_tax_statement_"))
				Expect(doc.StoredAs).To(HaveSuffix(".pdf"))

				data, err := service.StoredDocument(doc.StoredAs)
				Expect(err).NotTo(HaveOccurred())
				Expect(data).To(Equal(doc.Data))
			})
		})

		When("the document cannot be stored", func() {
			BeforeEach(func() {
				storage.saveErr = errDiskFull
			})

			It("reports an export failure", func() {
				d := captureReady()
				_, err := service.ExportDraft(d.ID)
				Expect(err).To(MatchError(export.ErrExport))
			})
		})
	})

	Describe("DeleteScan", func() {
		It("ignores unknown IDs", func() {
			Expect(service.DeleteScan("missing")).To(Succeed())
		})

		When("the scan has been exported", func() {
			var r scan.Result

			JustBeforeEach(func() {
				d := captureReady()
				var err error
				r, err = service.FinalizeDraft(d.ID)
				Expect(err).NotTo(HaveOccurred())
				_, err = service.ExportScan(r.ID)
				Expect(err).NotTo(HaveOccurred())
				storage.files["other-scan_Lease.pdf"] = []byte("%PDF")
			})

			It("lists the scan's documents", func() {
				names, err := service.ScanExports(r.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(names).To(Equal([]string{r.ID + "_Invoice_#42.pdf"}))
			})

			It("removes only that scan's documents", func() {
				Expect(service.DeleteScan(r.ID)).To(Succeed())
				Expect(service.Scans("")).To(BeEmpty())
				Expect(storage.files).To(HaveLen(1))
				Expect(storage.files).To(HaveKey("other-scan_Lease.pdf"))
			})

			When("a document cannot be removed", func() {
				BeforeEach(func() {
					storage.deleteErr = errDiskFull
				})

				It("still deletes the scan", func() {
					Expect(service.DeleteScan(r.ID)).To(Succeed())
					Expect(service.Scans("")).To(BeEmpty())
					Expect(storage.deleted).To(Equal([]string{r.ID + "_Invoice_#42.pdf"}))
				})
			})
		})
	})

	Describe("StoredDocument", func() {
		It("reports unknown documents as not found", func() {
			_, err := service.StoredDocument("missing.pdf")
			Expect(err).To(MatchError(fs.ErrNotExist))
			Expect(isNotFound(err)).To(BeTrue())
		})
	})
})
