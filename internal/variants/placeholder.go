package variants

import (
	"bytes"
	"encoding/base64"
	"image"

	"github.com/disintegration/imaging"
)

const placeholderQuality = 30

// BlurPlaceholder renders a tiny blurred JPEG of img as a data URI.
func BlurPlaceholder(img image.Image, width int) (string, error) {
	if width <= 0 {
		width = 16
	}
	small := imaging.Resize(img, width, 0, imaging.Box)
	small = imaging.Blur(small, 1)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(placeholderQuality)); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
