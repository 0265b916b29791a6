package attachments

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"
)

const (
	// maxDimension bounds the longest image edge before upload.
	maxDimension = 1600
	// maxImageBytes is the upload size ceiling after re-encoding.
	maxImageBytes = 2 * 1024 * 1024

	jpegStartQuality = 95
	jpegMinQuality   = 50
	jpegQualityStep  = 10
)

// NormalizeImage bounds an image to the upload limits: the longest edge is
// resized to maxDimension and the result re-encoded as JPEG, stepping the
// quality down until it fits under maxImageBytes. Images already within both
// limits pass through untouched.
func NormalizeImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("attachments: decode image: %w", err)
	}

	bounds := img.Bounds()
	oversized := bounds.Dx() > maxDimension || bounds.Dy() > maxDimension
	if !oversized && len(data) <= maxImageBytes {
		return data, nil
	}
	if oversized {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	for quality := jpegStartQuality; ; quality -= jpegQualityStep {
		buf.Reset()
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("attachments: encode image: %w", err)
		}
		if buf.Len() <= maxImageBytes || quality-jpegQualityStep < jpegMinQuality {
			slog.Debug("attachments.normalized",
				"in_bytes", len(data), "out_bytes", buf.Len(), "quality", quality)
			break
		}
	}
	return buf.Bytes(), nil
}
