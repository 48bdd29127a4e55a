// Package responsive builds srcset/sizes descriptors from catalog records.
package responsive

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"mediapipe/internal/models"
)

// sizesHints are the viewport fractions each context is laid out at.
var sizesHints = map[models.UsageContext]string{
	models.UsageHero:    "100vw",
	models.UsageGallery: "(min-width: 1024px) 50vw, 100vw",
	models.UsageThumb:   "(min-width: 768px) 25vw, 50vw",
}

type Source struct {
	Type   string `json:"type"`
	Srcset string `json:"srcset"`
}

type Descriptor struct {
	Usage       models.UsageContext `json:"usage"`
	Sources     []Source            `json:"sources"`
	Sizes       string              `json:"sizes"`
	Src         string              `json:"src"`
	Width       int                 `json:"width"`
	Height      int                 `json:"height"`
	Alt         string              `json:"alt"`
	Placeholder string              `json:"placeholder,omitempty"`
}

// Build filters the asset's variants to the breakpoints named for usage and
// renders one width-described source list per codec, in codec priority order.
// If the asset has nothing at those breakpoints, all of its variants are used.
// The fallback src is the widest variant of the lowest-priority codec present.
func Build(a *models.AssetRecord, usage models.UsageContext, breakpoints []string, codecs []models.Codec) (*Descriptor, error) {
	if a == nil || len(a.Variants) == 0 {
		return nil, fmt.Errorf("responsive.Build: %w", models.ErrNotFound)
	}

	relevant := make(map[string]bool, len(breakpoints))
	for _, bp := range breakpoints {
		relevant[bp] = true
	}
	var picked []models.VariantRecord
	for _, v := range a.Variants {
		if relevant[v.Breakpoint] {
			picked = append(picked, v)
		}
	}
	if len(picked) == 0 {
		picked = a.Variants
	}

	byCodec := make(map[models.Codec][]models.VariantRecord)
	for _, v := range picked {
		byCodec[v.Codec] = append(byCodec[v.Codec], v)
	}

	d := &Descriptor{Usage: usage, Alt: a.AltText, Placeholder: a.BlurPlaceholder}
	var fallback []models.VariantRecord
	for _, codec := range codecs {
		group := byCodec[codec]
		if len(group) == 0 {
			continue
		}
		group = ascendingByWidth(group)
		d.Sources = append(d.Sources, Source{Type: codec.ContentType(), Srcset: srcset(group)})
		fallback = group
	}
	if len(fallback) == 0 {
		return nil, fmt.Errorf("responsive.Build: no variants in configured codecs")
	}

	widest := fallback[len(fallback)-1]
	d.Src, d.Width, d.Height = widest.PublicURL, widest.Width, widest.Height
	d.Sizes = sizesFor(usage, widest.Width)
	return d, nil
}

func sizesFor(usage models.UsageContext, width int) string {
	if hint, ok := sizesHints[usage]; ok {
		return hint
	}
	// Fixed-size contexts such as miniature render at their pixel width.
	return fmt.Sprintf("%dpx", width)
}

// ascendingByWidth sorts a copy by width and drops duplicate widths, which
// happen when several breakpoints were capped to the source size.
func ascendingByWidth(vs []models.VariantRecord) []models.VariantRecord {
	out := append([]models.VariantRecord(nil), vs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Width < out[j].Width })
	dedup := out[:0]
	for i, v := range out {
		if i > 0 && v.Width == out[i-1].Width {
			continue
		}
		dedup = append(dedup, v)
	}
	return dedup
}

func srcset(vs []models.VariantRecord) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, fmt.Sprintf("%s %dw", v.PublicURL, v.Width))
	}
	return strings.Join(parts, ", ")
}

// HTML renders the descriptor as a <picture> element.
func (d *Descriptor) HTML() string {
	if len(d.Sources) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<picture>")
	for _, s := range d.Sources[:len(d.Sources)-1] {
		fmt.Fprintf(&b, `<source type="%s" srcset="%s" sizes="%s">`,
			html.EscapeString(s.Type), html.EscapeString(s.Srcset), html.EscapeString(d.Sizes))
	}
	last := d.Sources[len(d.Sources)-1]
	fmt.Fprintf(&b, `<img src="%s" srcset="%s" sizes="%s" width="%d" height="%d" alt="%s" loading="lazy" decoding="async">`,
		html.EscapeString(d.Src), html.EscapeString(last.Srcset), html.EscapeString(d.Sizes), d.Width, d.Height, html.EscapeString(d.Alt))
	b.WriteString("</picture>")
	return b.String()
}
