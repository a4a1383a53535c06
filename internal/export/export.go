package export

import (
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/zombor/quickscan/internal/scan"
)

const (
	documentExtension = ".pdf"
	defaultFilename   = "scan" + documentExtension
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Artifact is a rendered document ready to be saved or downloaded
type Artifact struct {
	Filename    string
	Data        []byte
	Pages       int
	Watermarked bool
}

// TimeSource provides the generation timestamp
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Exporter renders scans into PDF documents
type Exporter struct {
	timeSource TimeSource
}

// NewExporter creates an Exporter using the wall clock
func NewExporter() *Exporter {
	return NewExporterWithDeps(&defaultTimeSource{})
}

// NewExporterWithDeps creates an Exporter with a custom time source for testing
func NewExporterWithDeps(timeSrc TimeSource) *Exporter {
	return &Exporter{timeSource: timeSrc}
}

// Export produces the document for a scan. Any failure wraps ErrExport
// and no partial document is returned.
func (e *Exporter) Export(result scan.Result, tier Tier) (*Artifact, error) {
	logger := slog.With("scan_id", result.ID, "tier", tier.String())

	layout, err := Plan(result, tier, e.timeSource.Now())
	if err != nil {
		logger.Error("Failed to lay out document", "error", err)
		return nil, err
	}

	data, err := Render(layout)
	if err != nil {
		logger.Error("Failed to render document", "error", err)
		return nil, err
	}

	pages, err := Validate(data)
	if err != nil {
		logger.Error("Rendered document is invalid", "error", err)
		return nil, err
	}

	want := 1
	if layout.HasTextPage() {
		want = 2
	}
	if pages < want {
		err := fmt.Errorf("%w: expected at least %d pages, got %d", ErrExport, want, pages)
		logger.Error("Rendered document is incomplete", "error", err)
		return nil, err
	}

	logger.Info("Exported scan", "pages", pages, "bytes", len(data))
	return &Artifact{
		Filename:    Filename(result.Title),
		Data:        data,
		Pages:       pages,
		Watermarked: layout.Watermark,
	}, nil
}

// Validate parses the document and returns its page count
func Validate(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return 0, fmt.Errorf("%w: validating document: %w", ErrExport, err)
	}
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("%w: counting pages: %w", ErrExport, err)
	}
	return pages, nil
}

// Filename derives the document name from the title: every whitespace
// run becomes an underscore. A blank title yields "scan.pdf".
func Filename(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return defaultFilename
	}
	return whitespaceRun.ReplaceAllString(title, "_") + documentExtension
}
