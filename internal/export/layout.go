package export

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/zombor/quickscan/internal/capture"
	"github.com/zombor/quickscan/internal/scan"
)

// ErrExport wraps every failure to produce a document
var ErrExport = errors.New("export failed")

// Page geometry, A4 portrait in millimetres
const (
	pageWidth  = 210.0
	pageHeight = 297.0
	margin     = 15.0

	headerHeight = 25.0
	imageTop     = 35.0
	// imageBottomReserve is the space below the image kept free on page 1
	imageBottomReserve = 60.0

	productLabel   = "QUICKSCAN ID"
	watermarkLabel = "QUICKSCAN FREE TIER"
	watermarkAngle = 45.0
	// watermarkSpacing is the distance between repeated labels along the diagonal
	watermarkSpacing = 70.0
	watermarkRepeats = 2

	textHeading = "EXTRACTED CONTENT"
	headingY    = 20.0
	textTop     = 40.0
)

// Rect is a placement on the page in millimetres
type Rect struct {
	X, Y, W, H float64
}

// Point is a position on the page in millimetres
type Point struct {
	X, Y float64
}

// Layout is the complete description of a document before rendering.
// Everything except GeneratedAt is a pure function of the scan and tier.
type Layout struct {
	Title       string
	ShortID     string
	GeneratedAt time.Time

	Image     capture.Image
	ImageRect Rect

	Watermark        bool
	WatermarkOrigins []Point

	Text string
}

// HasTextPage reports whether an extracted-content page follows the image
func (l Layout) HasTextPage() bool {
	return l.Text != ""
}

// Plan computes the layout for a scan
func Plan(result scan.Result, tier Tier, now time.Time) (Layout, error) {
	if len(result.ProcessedImage) == 0 {
		return Layout{}, fmt.Errorf("%w: scan %s has no image", ErrExport, result.ID)
	}

	rect, err := fitImage(result.Width, result.Height)
	if err != nil {
		return Layout{}, fmt.Errorf("%w: scaling image: %w", ErrExport, err)
	}

	layout := Layout{
		Title:       result.Title,
		ShortID:     shortID(result.ID),
		GeneratedAt: now,
		Image:       result.Image(),
		ImageRect:   rect,
		Watermark:   tier == TierFree,
		Text:        strings.TrimRight(result.OCRText, " \t\r\n"),
	}
	if layout.Watermark {
		layout.WatermarkOrigins = watermarkOrigins()
	}
	return layout, nil
}

// fitImage scales the image uniformly into the printable area and centers it horizontally
func fitImage(width, height int) (Rect, error) {
	if width <= 0 || height <= 0 {
		return Rect{}, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}

	maxWidth := pageWidth - 2*margin
	maxHeight := pageHeight - imageBottomReserve

	w := maxWidth
	h := float64(height) * w / float64(width)
	if h > maxHeight {
		h = maxHeight
		w = float64(width) * h / float64(height)
	}

	return Rect{X: (pageWidth - w) / 2, Y: imageTop, W: w, H: h}, nil
}

// watermarkOrigins places the label at the page center and repeats it
// along the 45 degree diagonal in both directions
func watermarkOrigins() []Point {
	cx, cy := pageWidth/2, pageHeight/2
	step := watermarkSpacing / math.Sqrt2

	points := make([]Point, 0, 2*watermarkRepeats+1)
	for k := -watermarkRepeats; k <= watermarkRepeats; k++ {
		points = append(points, Point{X: cx + float64(k)*step, Y: cy - float64(k)*step})
	}
	return points
}

func shortID(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}
