package variants

import (
	"fmt"
	"math"

	"mediapipe/internal/models"
)

// Resolver maps a usage context to concrete output targets. Configured
// breakpoints are expressed for landscape sources.
type Resolver struct {
	breakpoints map[models.UsageContext][]models.BreakpointSpec
}

func NewResolver(breakpoints map[models.UsageContext][]models.BreakpointSpec) *Resolver {
	return &Resolver{breakpoints: breakpoints}
}

// Names returns the breakpoint names configured for usage, broadest first.
func (r *Resolver) Names(usage models.UsageContext) []string {
	specs := r.breakpoints[usage]
	names := make([]string, 0, len(specs))
	for _, bp := range specs {
		names = append(names, bp.Name)
	}
	return names
}

// Resolve returns the ordered targets for usage given the source orientation
// and resolution. Order follows configuration, broadest first.
func (r *Resolver) Resolve(usage models.UsageContext, orientation models.Orientation, srcW, srcH int) ([]models.BreakpointSpec, error) {
	specs, ok := r.breakpoints[usage]
	if !ok || len(specs) == 0 {
		return nil, &models.ValidationError{Field: "usage", Reason: fmt.Sprintf("unknown usage context %q", usage)}
	}
	if srcW <= 0 || srcH <= 0 {
		return nil, &models.ValidationError{Field: "dimensions", Reason: fmt.Sprintf("must be positive, got %dx%d", srcW, srcH)}
	}

	out := make([]models.BreakpointSpec, 0, len(specs))
	for _, bp := range specs {
		out = append(out, resolveOne(bp, orientation, srcW, srcH))
	}
	return out, nil
}

func resolveOne(bp models.BreakpointSpec, orientation models.Orientation, srcW, srcH int) models.BreakpointSpec {
	if bp.Square {
		side := bp.Width
		if side == 0 {
			side = bp.Height
		}
		bp.Width, bp.Height, bp.Fit = side, side, models.FitCover
		if limit := min(srcW, srcH); side > limit {
			bp.Width, bp.Height, bp.Capped = limit, limit, true
		}
		return bp
	}

	if orientation == models.Portrait {
		bp.Width, bp.Height = bp.Height, bp.Width
	}

	switch bp.Fit {
	case models.FitCover:
		if bp.Width > srcW || bp.Height > srcH {
			// Shrink the crop box uniformly so it fits inside the source.
			scale := math.Min(float64(srcW)/float64(bp.Width), float64(srcH)/float64(bp.Height))
			bp.Width = max(1, min(srcW, int(math.Round(float64(bp.Width)*scale))))
			bp.Height = max(1, min(srcH, int(math.Round(float64(bp.Height)*scale))))
			bp.Capped = true
		}
	default:
		// Only capped when the fitted output would have to upscale, i.e. the
		// tightest set edge still exceeds the source.
		scale := math.Inf(1)
		if bp.Width > 0 {
			scale = float64(bp.Width) / float64(srcW)
		}
		if bp.Height > 0 {
			scale = math.Min(scale, float64(bp.Height)/float64(srcH))
		}
		if scale > 1 && !math.IsInf(scale, 1) {
			if bp.Width > 0 {
				bp.Width = srcW
			}
			if bp.Height > 0 {
				bp.Height = srcH
			}
			bp.Capped = true
		}
	}
	return bp
}
