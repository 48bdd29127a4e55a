// internal/models/models.go
package models

import (
	"image"
	"time"

	"github.com/google/uuid"
)

type Orientation string

const (
	Landscape Orientation = "landscape"
	Portrait  Orientation = "portrait"
	Square    Orientation = "square"
)

// UsageContext names where an asset is rendered; it selects breakpoints and sizes hints.
type UsageContext string

const (
	UsageHero      UsageContext = "hero"
	UsageGallery   UsageContext = "gallery"
	UsageThumb     UsageContext = "thumb"
	UsageMiniature UsageContext = "miniature"
)

var UsageContexts = []UsageContext{UsageHero, UsageGallery, UsageThumb, UsageMiniature}

func ParseUsageContext(s string) (UsageContext, bool) {
	for _, u := range UsageContexts {
		if string(u) == s {
			return u, true
		}
	}
	return "", false
}

type FitMode string

const (
	FitCover  FitMode = "cover"  // crop to fill both dimensions
	FitInside FitMode = "inside" // scale to fit, aspect preserved
)

// Codec is the closed set of output encodings. Adding one means a new constant
// here plus an entry in the encoder table.
type Codec string

const (
	CodecAVIF Codec = "avif"
	CodecWebP Codec = "webp"
	CodecJPEG Codec = "jpeg"
)

func (c Codec) Extension() string {
	switch c {
	case CodecJPEG:
		return "jpg"
	default:
		return string(c)
	}
}

func (c Codec) ContentType() string {
	return "image/" + string(c)
}

// SourceImage is the validated upload. It lives for one processing run.
type SourceImage struct {
	Filename string
	Data     []byte
	Image    image.Image
	Width    int
	Height   int
	Format   string // detected mime type
	Size     int64
}

// BreakpointSpec is a named output target. A zero Width or Height leaves that
// edge free. Capped is set by the resolver when the target was clamped to the
// source resolution.
type BreakpointSpec struct {
	Name   string  `yaml:"name" json:"name"`
	Width  int     `yaml:"width" json:"width"`
	Height int     `yaml:"height" json:"height"`
	Fit    FitMode `yaml:"fit" json:"fit"`
	Square bool    `yaml:"square" json:"square"`
	Capped bool    `yaml:"-" json:"capped"`
}

type VariantRecord struct {
	Breakpoint string `db:"breakpoint" json:"breakpoint"`
	Codec      Codec  `db:"codec" json:"codec"`
	Width      int    `db:"width" json:"width"`
	Height     int    `db:"height" json:"height"`
	ByteSize   int64  `db:"byte_size" json:"byte_size"`
	StorageKey string `db:"storage_key" json:"storage_key"`
	PublicURL  string `db:"public_url" json:"public_url"`
	Capped     bool   `db:"capped" json:"capped"`
}

type AssetRecord struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	Filename          string          `db:"filename" json:"filename"`
	AltText           string          `db:"alt_text" json:"alt_text"`
	Usage             UsageContext    `db:"usage" json:"usage"`
	Orientation       Orientation     `db:"orientation" json:"orientation"`
	SourceWidth       int             `db:"source_width" json:"source_width"`
	SourceHeight      int             `db:"source_height" json:"source_height"`
	SourceFormat      string          `db:"source_format" json:"source_format"`
	BlurPlaceholder   string          `db:"blur_placeholder" json:"blur_placeholder"`
	OriginalKey       string          `db:"original_key" json:"original_key,omitempty"`
	PrimaryVariantKey string          `db:"primary_variant_key" json:"primary_variant_key"`
	Variants          []VariantRecord `json:"variants"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Primary returns the variant PrimaryVariantKey points at, or nil.
func (a *AssetRecord) Primary() *VariantRecord {
	for i := range a.Variants {
		if a.Variants[i].StorageKey == a.PrimaryVariantKey {
			return &a.Variants[i]
		}
	}
	return nil
}

// StorageKeys lists every object the asset owns, the original included.
func (a *AssetRecord) StorageKeys() []string {
	keys := make([]string, 0, len(a.Variants)+1)
	for _, v := range a.Variants {
		keys = append(keys, v.StorageKey)
	}
	if a.OriginalKey != "" {
		keys = append(keys, a.OriginalKey)
	}
	return keys
}
