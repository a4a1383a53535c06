package capture

import (
	"context"
	"errors"
	"fmt"
)

// Reason classifies why a capture attempt produced no image.
type Reason string

const (
	ReasonPermissionDenied Reason = "permission_denied"
	ReasonDeviceAbsent     Reason = "device_absent"
	ReasonOther            Reason = "other"
)

// Failure is returned by a Source when no image could be captured.
// It is fatal to the current attempt only; callers may retry.
type Failure struct {
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("capture failed (%s): %v", f.Reason, f.Err)
	}
	return fmt.Sprintf("capture failed (%s)", f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// FailureReason reports the capture failure reason carried by err, if any.
func FailureReason(err error) (Reason, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason, true
	}
	return "", false
}

// Image is a single captured still image. It is never mutated after capture.
type Image struct {
	Data        []byte `json:"data"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Size returns the encoded size in bytes
func (i Image) Size() int {
	return len(i.Data)
}

// Source produces one image per successful capture
type Source interface {
	Capture(ctx context.Context) (Image, error)
}
