package export

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"

	"github.com/zombor/quickscan/internal/capture"
)

// bodyFont covers Latin, Greek and Cyrillic. Scripts it lacks, such as
// CJK, render as missing glyphs.
//
//go:embed fonts/DejaVuSansCondensed.ttf
var bodyFont []byte

const (
	bodyFontFamily  = "DejaVuSansCondensed"
	fontFamily      = "Helvetica"
	bodyLineHeight  = 5.5
	timestampFormat = "02 Jan 2006 15:04:05"
	imageName       = "scan"
)

// Render draws the layout into PDF bytes
func Render(layout Layout) ([]byte, error) {
	data, imageType, err := capture.EncodeForDocument(layout.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: preparing image: %w", ErrExport, err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(layout.GeneratedAt)
	pdf.SetModificationDate(layout.GeneratedAt)
	pdf.SetTitle(layout.Title, true)
	pdf.SetCreator(productLabel, false)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)

	pdf.AddPage()
	drawHeader(pdf, layout)

	opts := fpdf.ImageOptions{ImageType: imageType}
	pdf.RegisterImageOptionsReader(imageName, opts, bytes.NewReader(data))
	r := layout.ImageRect
	pdf.ImageOptions(imageName, r.X, r.Y, r.W, r.H, false, opts, 0, "")

	if layout.Watermark {
		drawWatermark(pdf, layout.WatermarkOrigins)
	}

	if layout.HasTextPage() {
		pdf.SetAutoPageBreak(true, margin)
		pdf.AddPage()
		pdf.SetFont(fontFamily, "B", 14)
		pdf.SetTextColor(30, 41, 59)
		pdf.Text(margin, headingY, textHeading)

		pdf.AddUTF8FontFromBytes(bodyFontFamily, "", bodyFont)
		pdf.SetFont(bodyFontFamily, "", 11)
		pdf.SetTextColor(0, 0, 0)
		pdf.SetXY(margin, textTop)
		pdf.MultiCell(pageWidth-2*margin, bodyLineHeight, documentText(layout.Text), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: rendering: %w", ErrExport, err)
	}
	return buf.Bytes(), nil
}

func drawHeader(pdf *fpdf.Fpdf, layout Layout) {
	pdf.SetFillColor(79, 70, 229)
	pdf.Rect(0, 0, pageWidth, headerHeight, "F")

	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont(fontFamily, "B", 16)
	pdf.Text(margin, 15, productLabel)

	pdf.SetFont(fontFamily, "", 8)
	pdf.Text(margin, 20, "DIGITAL SCAN: "+layout.ShortID)

	pdf.SetFontSize(7)
	stamp := "TIMESTAMP: " + layout.GeneratedAt.Format(timestampFormat)
	pdf.Text(pageWidth-margin-pdf.GetStringWidth(stamp), 15, stamp)
}

func drawWatermark(pdf *fpdf.Fpdf, origins []Point) {
	pdf.SetFont(fontFamily, "B", 30)
	pdf.SetTextColor(230, 230, 230)
	half := pdf.GetStringWidth(watermarkLabel) / 2

	for _, p := range origins {
		pdf.TransformBegin()
		pdf.TransformRotate(watermarkAngle, p.X, p.Y)
		pdf.Text(p.X-half, p.Y, watermarkLabel)
		pdf.TransformEnd()
	}
}

// documentText makes OCR text safe for the embedded font: invalid bytes and
// runes outside the Basic Multilingual Plane become U+FFFD.
func documentText(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFFFF {
			return utf8.RuneError
		}
		return r
	}, s)
}
