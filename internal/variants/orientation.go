package variants

import (
	"fmt"

	"mediapipe/internal/models"
)

// Classify reports the orientation of a width x height image.
func Classify(width, height int) (models.Orientation, error) {
	if width <= 0 || height <= 0 {
		return "", &models.ValidationError{
			Field:  "dimensions",
			Reason: fmt.Sprintf("must be positive, got %dx%d", width, height),
		}
	}
	switch {
	case width > height:
		return models.Landscape, nil
	case height > width:
		return models.Portrait, nil
	default:
		return models.Square, nil
	}
}
