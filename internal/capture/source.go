package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileSource captures an image from a file on disk. A missing file is
// reported as an absent device, an unreadable one as denied permission.
type FileSource struct {
	Path string
}

// NewFileSource creates a new FileSource for the given path
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Capture reads and decodes the file
func (s *FileSource) Capture(ctx context.Context) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, &Failure{Reason: ReasonOther, Err: err}
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return Image{}, &Failure{Reason: ReasonDeviceAbsent, Err: err}
		case errors.Is(err, fs.ErrPermission):
			return Image{}, &Failure{Reason: ReasonPermissionDenied, Err: err}
		default:
			return Image{}, &Failure{Reason: ReasonOther, Err: err}
		}
	}

	return newImage(data, contentTypeFromExt(s.Path))
}

// BytesSource captures an image that has already been transferred, such as
// a multipart upload from the mobile client.
type BytesSource struct {
	Data        []byte
	ContentType string
}

// Capture decodes the held bytes
func (s *BytesSource) Capture(ctx context.Context) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, &Failure{Reason: ReasonOther, Err: err}
	}
	return newImage(s.Data, s.ContentType)
}

// newImage validates the payload and reads its dimensions. PDF input is
// rasterized to its first page so downstream stages only ever see images.
func newImage(data []byte, contentTypeHint string) (Image, error) {
	if len(data) == 0 {
		return Image{}, &Failure{Reason: ReasonOther, Err: errors.New("empty image")}
	}

	contentType := detectContentType(data, contentTypeHint)
	if contentType == "application/pdf" {
		pngData, err := pdfToImage(data)
		if err != nil {
			return Image{}, &Failure{Reason: ReasonOther, Err: err}
		}
		data = pngData
		contentType = "image/png"
	}

	width, height, err := imageDimensions(data, contentType)
	if err != nil {
		return Image{}, &Failure{Reason: ReasonOther, Err: fmt.Errorf("reading image dimensions: %w", err)}
	}

	return Image{
		Data:        data,
		ContentType: contentType,
		Width:       width,
		Height:      height,
	}, nil
}

func contentTypeFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".pdf":
		return "application/pdf"
	default:
		return ""
	}
}
