package variants

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/webp"

	"mediapipe/internal/models"
)

// AllowedMIME lists the accepted upload types.
var AllowedMIME = []string{"image/jpeg", "image/png", "image/webp", "image/avif"}

// LoadSource validates an upload and decodes it. Every failure is a
// *models.ValidationError; nothing is written anywhere.
func LoadSource(filename string, data []byte, maxBytes int64) (*models.SourceImage, error) {
	name := strings.TrimSpace(filepath.Base(filename))
	if name == "" || name == "." || name == "/" {
		return nil, &models.ValidationError{Field: "filename", Reason: "missing"}
	}
	if len(data) == 0 {
		return nil, &models.ValidationError{Field: "file", Reason: "empty payload"}
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, &models.ValidationError{
			Field:  "file",
			Code:   models.CodeTooLarge,
			Reason: fmt.Sprintf("%s exceeds limit of %s", humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(maxBytes))),
		}
	}

	mt := mimetype.Detect(data)
	format := ""
	for _, allowed := range AllowedMIME {
		if mt.Is(allowed) {
			format = allowed
			break
		}
	}
	if format == "" {
		return nil, &models.ValidationError{Field: "file", Code: models.CodeUnsupported, Reason: fmt.Sprintf("unsupported type %s", mt.String())}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &models.ValidationError{Field: "file", Reason: fmt.Sprintf("undecodable image: %v", err)}
	}
	bounds := img.Bounds()
	if _, err := Classify(bounds.Dx(), bounds.Dy()); err != nil {
		return nil, err
	}

	return &models.SourceImage{
		Filename: name,
		Data:     data,
		Image:    img,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Format:   format,
		Size:     int64(len(data)),
	}, nil
}

// SourceExtension is the file extension used when storing the original.
func SourceExtension(format string) string {
	switch format {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/avif":
		return "avif"
	default:
		return "bin"
	}
}
