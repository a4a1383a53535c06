package scan

import (
	"fmt"
	"strings"
	"time"

	"github.com/zombor/quickscan/internal/capture"
)

// fallbackTitlePrefix is followed by six digits of the millisecond clock
const fallbackTitlePrefix = "Scan_"

// Enhancement is the accepted outcome of an enhancement attempt
type Enhancement struct {
	Title          string  `json:"title"`
	OCRText        string  `json:"ocr_text"`
	QualityScore   float64 `json:"quality_score"`
	ProcessedImage []byte  `json:"-"`
}

// Draft is an in-progress scan owned by the pipeline
type Draft struct {
	ID          string        `json:"id"`
	Original    capture.Image `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
	Enhancement *Enhancement  `json:"enhancement,omitempty"`
	Title       string        `json:"title"`
	Degraded    bool          `json:"degraded"`
	State       State         `json:"state"`
	Attempt     uint64        `json:"attempt"`
}

// OCRText returns the extracted text, empty when no enhancement was applied
func (d Draft) OCRText() string {
	if d.Enhancement == nil {
		return ""
	}
	return d.Enhancement.OCRText
}

// ProcessedImage returns the image to store and export. The enhancement
// service does not clean images, so this is always the original bytes.
func (d Draft) ProcessedImage() []byte {
	if d.Enhancement != nil && len(d.Enhancement.ProcessedImage) > 0 {
		return d.Enhancement.ProcessedImage
	}
	return d.Original.Data
}

func (d Draft) clone() Draft {
	if d.Enhancement != nil {
		e := *d.Enhancement
		d.Enhancement = &e
	}
	return d
}

// Result is a finalized scan as stored in the library
type Result struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	OCRText        string    `json:"ocr_text"`
	ProcessedImage []byte    `json:"processed_image"`
	ContentType    string    `json:"content_type"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	CreatedAt      time.Time `json:"created_at"`
	FileSize       int64     `json:"file_size"`
	Degraded       bool      `json:"degraded"`
}

// Image returns the processed image as a capture.Image
func (r Result) Image() capture.Image {
	return capture.Image{
		Data:        r.ProcessedImage,
		ContentType: r.ContentType,
		Width:       r.Width,
		Height:      r.Height,
	}
}

// fallbackTitle generates a title for drafts without an enhancement.
// Uniqueness is by convention only.
func fallbackTitle(now time.Time) string {
	return fmt.Sprintf("%s%06d", fallbackTitlePrefix, now.UnixMilli()%1000000)
}

// estimateFileSize is the byte count of the payload persisted for a scan
func estimateFileSize(image []byte, ocrText string) int64 {
	size := int64(len(image) + len(ocrText))
	if size < 1 {
		return 1
	}
	return size
}

func newResult(d Draft, now time.Time) Result {
	title := d.Title
	if strings.TrimSpace(title) == "" {
		title = fallbackTitle(now)
	}
	image := d.ProcessedImage()
	return Result{
		ID:             d.ID,
		Title:          title,
		OCRText:        d.OCRText(),
		ProcessedImage: image,
		ContentType:    d.Original.ContentType,
		Width:          d.Original.Width,
		Height:         d.Original.Height,
		CreatedAt:      d.CreatedAt,
		FileSize:       estimateFileSize(image, d.OCRText()),
		Degraded:       d.Degraded,
	}
}
