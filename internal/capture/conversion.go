package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/webp" // Register WebP decoder for Android captures
)

// detectContentType sniffs the payload, falling back to the caller's hint
// for formats the standard sniffer does not know (HEIC).
func detectContentType(data []byte, hint string) string {
	if isHEICFormat(data) || isHEICMimeType(hint) {
		return "image/heic"
	}
	sniffed := http.DetectContentType(data)
	if sniffed != "application/octet-stream" {
		// DetectContentType may append parameters, e.g. "text/plain; charset=utf-8"
		return strings.TrimSpace(strings.SplitN(sniffed, ";", 2)[0])
	}
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return "image/jpeg"
	}
	return hint
}

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// Decode decodes the image into memory
func Decode(img Image) (image.Image, error) {
	if img.ContentType == "image/heic" || isHEICFormat(img.Data) {
		decoded, err := heic.Decode(bytes.NewReader(img.Data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return decoded, nil
	}

	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format %q. Supported formats: JPEG, PNG, GIF, WebP, HEIC, PDF: %w", img.ContentType, err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return decoded, nil
}

func imageDimensions(data []byte, contentType string) (int, int, error) {
	if contentType == "image/heic" {
		decoded, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return 0, 0, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		b := decoded.Bounds()
		return b.Dx(), b.Dy(), nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	return cfg.Width, cfg.Height, nil
}

// EncodePNG returns the image as PNG, passing PNG input through untouched
func EncodePNG(img Image) ([]byte, error) {
	if img.ContentType == "image/png" {
		return img.Data, nil
	}
	decoded, err := Decode(img)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, decoded); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeForDocument returns bytes a PDF writer can embed along with the
// image type ("JPG" or "PNG"). JPEG is embedded as-is; everything else is
// flattened onto white and re-encoded as 8-bit PNG.
func EncodeForDocument(img Image) ([]byte, string, error) {
	if img.ContentType == "image/jpeg" {
		return img.Data, "JPG", nil
	}

	decoded, err := Decode(img)
	if err != nil {
		return nil, "", err
	}

	bounds := decoded.Bounds()
	flat := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(flat, flat.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), decoded, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, flat); err != nil {
		return nil, "", fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), "PNG", nil
}
